// Package companiestest provides an in-memory company repository for tests.
package companiestest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/companies"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/warehouses/warehousestest"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Memory implements companies.Repository and companies.TxRepository on top of a
// warehousestest.Memory. A failed WithTx restores both stores.
type Memory struct {
	txMu      sync.Mutex
	mu        sync.Mutex
	companies map[int64]companies.Company
	nextID    int64

	// Stock holds the warehouses of every company.
	Stock *warehousestest.Memory

	// InUse marks companies still referenced by accounts, transactions or users.
	InUse map[int64]bool

	// Conflicts makes that many WithTx calls roll back with a serialization failure
	// after fn succeeds.
	Conflicts int
}

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	stock := warehousestest.NewMemory()
	stock.Companies = map[int64]bool{}
	return &Memory{companies: map[int64]companies.Company{}, Stock: stock, InUse: map[int64]bool{}}
}

var (
	_ companies.Repository   = (*Memory)(nil)
	_ companies.TxRepository = (*Memory)(nil)
)

func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, companies.TxRepository) error) error {
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
	restoreStock := m.Stock.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := make(map[int64]companies.Company, len(m.companies))
	for k, v := range m.companies {
		cs[k] = v
	}
	nextID := m.nextID
	return func() {
		restoreStock()
		m.mu.Lock()
		defer m.mu.Unlock()
		m.companies, m.nextID = cs, nextID
	}
}

func (m *Memory) Warehouses() warehouses.TxRepository { return m.Stock }

func (m *Memory) ListWarehouses(ctx context.Context, companyID int64) ([]warehouses.Warehouse, error) {
	return m.Stock.ListByCompany(ctx, companyID)
}

func (m *Memory) List(_ context.Context, filter companies.ListFilter) ([]companies.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var out []companies.Company
	for _, c := range m.companies {
		if search != "" && !strings.Contains(strings.ToLower(c.Name+" "+c.Code+" "+c.TaxNumber), search) {
			continue
		}
		if filter.IsActive != nil && c.IsActive != *filter.IsActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) Get(_ context.Context, id int64) (companies.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok {
		return companies.Company{}, fmt.Errorf("%w: company", httpx.ErrNotFound)
	}
	return c, nil
}

func (m *Memory) GetForUpdate(ctx context.Context, id int64) (companies.Company, error) {
	return m.Get(ctx, id)
}

func (m *Memory) Insert(_ context.Context, c companies.Company) (companies.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnique(c); err != nil {
		return companies.Company{}, err
	}
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	m.companies[c.ID] = c
	m.Stock.Companies[c.ID] = true
	return c, nil
}

func (m *Memory) checkUnique(c companies.Company) error {
	for _, existing := range m.companies {
		if existing.ID != c.ID && existing.Code == c.Code {
			return fmt.Errorf("%w: company code %s", httpx.ErrDuplicate, c.Code)
		}
	}
	return nil
}

func (m *Memory) Update(_ context.Context, c companies.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.companies[c.ID]; !ok {
		return fmt.Errorf("%w: company %d", httpx.ErrNotFound, c.ID)
	}
	if err := m.checkUnique(c); err != nil {
		return err
	}
	c.Warehouses = nil
	c.UpdatedAt = time.Now().UTC()
	m.companies[c.ID] = c
	return nil
}

func (m *Memory) Delete(ctx context.Context, id int64) error {
	left, err := m.Stock.ListByCompany(ctx, id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.companies[id]; !ok {
		return fmt.Errorf("%w: company %d", httpx.ErrNotFound, id)
	}
	if len(left) > 0 || m.InUse[id] {
		return fmt.Errorf("%w: company %d still has accounts, transactions or users", httpx.ErrValidation, id)
	}
	delete(m.companies, id)
	delete(m.Stock.Companies, id)
	return nil
}
