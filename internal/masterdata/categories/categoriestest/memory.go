// Package categoriestest provides an in-memory category repository for tests.
package categoriestest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/categories"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Memory implements categories.Repository and categories.TxRepository. A failed
// WithTx leaves the state as it was before the call.
type Memory struct {
	txMu       sync.Mutex
	mu         sync.Mutex
	categories map[int64]categories.Category
	nextID     int64

	// Products counts the products filed under a category id.
	Products map[int64]int64
}

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{categories: map[int64]categories.Category{}, Products: map[int64]int64{}}
}

var (
	_ categories.Repository   = (*Memory)(nil)
	_ categories.TxRepository = (*Memory)(nil)
)

func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, categories.TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	saved := make(map[int64]categories.Category, len(m.categories))
	for k, v := range m.categories {
		saved[k] = v
	}
	nextID := m.nextID
	m.mu.Unlock()
	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.categories, m.nextID = saved, nextID
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) List(_ context.Context) ([]categories.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []categories.Category
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) Get(_ context.Context, id int64) (categories.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return categories.Category{}, fmt.Errorf("%w: category", httpx.ErrNotFound)
	}
	return c, nil
}

func (m *Memory) GetForUpdate(ctx context.Context, id int64) (categories.Category, error) {
	return m.Get(ctx, id)
}

func (m *Memory) Insert(_ context.Context, c categories.Category) (categories.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(c); err != nil {
		return categories.Category{}, err
	}
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	m.categories[c.ID] = c
	return c, nil
}

func (m *Memory) check(c categories.Category) error {
	for _, existing := range m.categories {
		if existing.ID != c.ID && existing.Code == c.Code {
			return fmt.Errorf("%w: category code %s", httpx.ErrDuplicate, c.Code)
		}
	}
	if c.ParentID != nil {
		if _, ok := m.categories[*c.ParentID]; !ok {
			return fmt.Errorf("%w: parent category", httpx.ErrNotFound)
		}
	}
	return nil
}

func (m *Memory) Update(_ context.Context, c categories.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[c.ID]; !ok {
		return fmt.Errorf("%w: category", httpx.ErrNotFound)
	}
	if err := m.check(c); err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()
	m.categories[c.ID] = c
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[id]; !ok {
		return fmt.Errorf("%w: category %d", httpx.ErrNotFound, id)
	}
	delete(m.categories, id)
	return nil
}

func (m *Memory) CountChildren(_ context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.categories {
		if c.ParentID != nil && *c.ParentID == id {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountProducts(_ context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Products[id], nil
}
