// Package productstest provides an in-memory product repository for tests.
package productstest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Memory implements products.Repository and products.TxRepository. A failed WithTx
// leaves the state as it was before the call.
type Memory struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	products map[int64]products.Product
	costs    map[int64]products.Cost
	nextID   int64

	// Categories lists the category ids a product may reference; nil accepts any.
	Categories map[int64]bool

	// OnLines marks products referenced by transaction lines.
	OnLines map[int64]bool

	// Conflicts makes that many WithTx calls roll back with a serialization failure
	// after fn succeeds.
	Conflicts int
}

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{products: map[int64]products.Product{}, costs: map[int64]products.Cost{}, OnLines: map[int64]bool{}}
}

var (
	_ products.Repository   = (*Memory)(nil)
	_ products.TxRepository = (*Memory)(nil)
)

// CostCount returns how many costs are stored.
func (m *Memory) CostCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.costs)
}

func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, products.TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	restore := m.snapshot()
	if err := fn(ctx, m); err != nil {
		restore()
		return err
	}
	if m.Conflicts > 0 {
		m.Conflicts--
		restore()
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
	}
	return nil
}

func (m *Memory) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := make(map[int64]products.Product, len(m.products))
	for k, v := range m.products {
		ps[k] = v
	}
	cs := make(map[int64]products.Cost, len(m.costs))
	for k, v := range m.costs {
		cs[k] = v
	}
	nextID := m.nextID
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.products, m.costs, m.nextID = ps, cs, nextID
	}
}

func (m *Memory) List(_ context.Context, filter products.ListFilter) ([]products.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var out []products.Product
	for _, p := range m.products {
		if search != "" && !strings.Contains(strings.ToLower(p.Name+" "+p.ModelCode+" "+p.Barcode), search) {
			continue
		}
		if filter.CategoryID > 0 && (p.CategoryID == nil || *p.CategoryID != filter.CategoryID) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Get(_ context.Context, id int64) (products.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return products.Product{}, fmt.Errorf("%w: product", httpx.ErrNotFound)
	}
	return p, nil
}

func (m *Memory) GetByCode(_ context.Context, modelCode string) (products.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.ModelCode == modelCode {
			return p, nil
		}
	}
	return products.Product{}, fmt.Errorf("%w: product", httpx.ErrNotFound)
}

func (m *Memory) Costs(_ context.Context, productID int64) ([]products.Cost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []products.Cost{}
	for _, c := range m.costs {
		if c.ProductID == productID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetForUpdate(ctx context.Context, id int64) (products.Product, error) {
	return m.Get(ctx, id)
}

func (m *Memory) Insert(_ context.Context, p products.Product) (products.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(p); err != nil {
		return products.Product{}, err
	}
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	p.Costs = nil
	m.products[p.ID] = p
	p.Costs = []products.Cost{}
	return p, nil
}

func (m *Memory) check(p products.Product) error {
	for _, existing := range m.products {
		if existing.ID != p.ID && existing.ModelCode == p.ModelCode {
			return fmt.Errorf("%w: model code %s", httpx.ErrDuplicate, p.ModelCode)
		}
	}
	if p.CategoryID != nil && m.Categories != nil && !m.Categories[*p.CategoryID] {
		return fmt.Errorf("%w: category", httpx.ErrNotFound)
	}
	return nil
}

func (m *Memory) Update(_ context.Context, p products.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; !ok {
		return fmt.Errorf("%w: product", httpx.ErrNotFound)
	}
	if err := m.check(p); err != nil {
		return err
	}
	p.Costs = nil
	p.UpdatedAt = time.Now().UTC()
	m.products[p.ID] = p
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return fmt.Errorf("%w: product %d", httpx.ErrNotFound, id)
	}
	for _, c := range m.costs {
		if c.ProductID == id {
			return fmt.Errorf("%w: product %d is used by transactions", httpx.ErrValidation, id)
		}
	}
	if m.OnLines[id] {
		return fmt.Errorf("%w: product %d is used by transactions", httpx.ErrValidation, id)
	}
	delete(m.products, id)
	return nil
}

func (m *Memory) GetCostForUpdate(_ context.Context, id int64) (products.Cost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.costs[id]
	if !ok {
		return products.Cost{}, fmt.Errorf("%w: product cost", httpx.ErrNotFound)
	}
	return c, nil
}

func (m *Memory) InsertCost(_ context.Context, c products.Cost) (products.Cost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[c.ProductID]; !ok {
		return products.Cost{}, fmt.Errorf("%w: product %d", httpx.ErrNotFound, c.ProductID)
	}
	if err := m.checkDefault(c); err != nil {
		return products.Cost{}, err
	}
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	m.costs[c.ID] = c
	return c, nil
}

func (m *Memory) checkDefault(c products.Cost) error {
	if !c.IsDefault {
		return nil
	}
	for _, existing := range m.costs {
		if existing.ID != c.ID && existing.ProductID == c.ProductID && existing.IsDefault {
			return fmt.Errorf("%w: product %d already has a default cost", httpx.ErrConflict, c.ProductID)
		}
	}
	return nil
}

func (m *Memory) UpdateCost(_ context.Context, c products.Cost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.costs[c.ID]; !ok {
		return fmt.Errorf("%w: product cost", httpx.ErrNotFound)
	}
	if err := m.checkDefault(c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()
	m.costs[c.ID] = c
	return nil
}

func (m *Memory) DeleteCost(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.costs[id]; !ok {
		return fmt.Errorf("%w: product cost %d", httpx.ErrNotFound, id)
	}
	delete(m.costs, id)
	return nil
}

func (m *Memory) DeleteCosts(_ context.Context, productID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.costs {
		if c.ProductID == productID {
			delete(m.costs, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) ClearDefaultCost(_ context.Context, productID, keepID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.costs {
		if c.ProductID == productID && id != keepID && c.IsDefault {
			c.IsDefault = false
			m.costs[id] = c
		}
	}
	return nil
}
