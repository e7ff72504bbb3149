// Package warehousestest provides an in-memory warehouse repository for tests.
package warehousestest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Memory implements warehouses.Repository and warehouses.TxRepository. A failed
// WithTx leaves the state as it was before the call.
type Memory struct {
	txMu       sync.Mutex
	mu         sync.Mutex
	warehouses map[int64]warehouses.Warehouse
	subs       map[int64]warehouses.SubWarehouse
	nextID     int64

	// Companies lists the company ids a warehouse may reference.
	Companies map[int64]bool

	// Conflicts makes that many WithTx calls roll back with a serialization failure
	// after fn succeeds.
	Conflicts int
}

// NewMemory returns an empty repository that knows company 1.
func NewMemory() *Memory {
	return &Memory{
		warehouses: map[int64]warehouses.Warehouse{},
		subs:       map[int64]warehouses.SubWarehouse{},
		Companies:  map[int64]bool{1: true},
	}
}

var (
	_ warehouses.Repository   = (*Memory)(nil)
	_ warehouses.TxRepository = (*Memory)(nil)
)

// SubCount returns how many sub-warehouses are stored.
func (m *Memory) SubCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, warehouses.TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	restore := m.Snapshot()
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

// Snapshot captures the state; calling the returned func restores it.
func (m *Memory) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := make(map[int64]warehouses.Warehouse, len(m.warehouses))
	for k, v := range m.warehouses {
		ws[k] = v
	}
	ss := make(map[int64]warehouses.SubWarehouse, len(m.subs))
	for k, v := range m.subs {
		ss[k] = v
	}
	companies := make(map[int64]bool, len(m.Companies))
	for k, v := range m.Companies {
		companies[k] = v
	}
	nextID := m.nextID
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.warehouses, m.subs, m.Companies, m.nextID = ws, ss, companies, nextID
	}
}

func (m *Memory) subsOf(id int64) []warehouses.SubWarehouse {
	out := []warehouses.SubWarehouse{}
	for _, s := range m.subs {
		if s.WarehouseID == id {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (m *Memory) ListByCompany(_ context.Context, companyID int64) ([]warehouses.Warehouse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []warehouses.Warehouse
	for _, w := range m.warehouses {
		if w.CompanyID == companyID {
			w.SubWarehouses = m.subsOf(w.ID)
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (m *Memory) Get(_ context.Context, id int64) (warehouses.Warehouse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.warehouses[id]
	if !ok {
		return warehouses.Warehouse{}, fmt.Errorf("%w: warehouse", httpx.ErrNotFound)
	}
	w.SubWarehouses = m.subsOf(id)
	return w, nil
}

func (m *Memory) GetForUpdate(ctx context.Context, id int64) (warehouses.Warehouse, error) {
	return m.Get(ctx, id)
}

func (m *Memory) ListForUpdate(ctx context.Context, companyID int64) ([]warehouses.Warehouse, error) {
	return m.ListByCompany(ctx, companyID)
}

func (m *Memory) Insert(_ context.Context, w warehouses.Warehouse) (warehouses.Warehouse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Companies[w.CompanyID] {
		return warehouses.Warehouse{}, fmt.Errorf("%w: company %d", httpx.ErrNotFound, w.CompanyID)
	}
	if err := m.checkUnique(w); err != nil {
		return warehouses.Warehouse{}, err
	}
	m.nextID++
	w.ID = m.nextID
	w.CreatedAt = time.Now().UTC()
	w.UpdatedAt = w.CreatedAt
	w.SubWarehouses = nil
	m.warehouses[w.ID] = w
	w.SubWarehouses = []warehouses.SubWarehouse{}
	return w, nil
}

func (m *Memory) checkUnique(w warehouses.Warehouse) error {
	for _, existing := range m.warehouses {
		if existing.ID == w.ID || existing.CompanyID != w.CompanyID {
			continue
		}
		if existing.Code == w.Code {
			return fmt.Errorf("%w: warehouse code %s", httpx.ErrDuplicate, w.Code)
		}
		if existing.IsDefault && w.IsDefault {
			return fmt.Errorf("%w: company %d already has a default warehouse", httpx.ErrConflict, w.CompanyID)
		}
	}
	return nil
}

func (m *Memory) Update(_ context.Context, w warehouses.Warehouse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.warehouses[w.ID]; !ok {
		return fmt.Errorf("%w: warehouse", httpx.ErrNotFound)
	}
	if err := m.checkUnique(w); err != nil {
		return err
	}
	w.SubWarehouses = nil
	w.UpdatedAt = time.Now().UTC()
	m.warehouses[w.ID] = w
	return nil
}

func (m *Memory) ClearDefault(_ context.Context, companyID, keepID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, w := range m.warehouses {
		if w.CompanyID == companyID && id != keepID && w.IsDefault {
			w.IsDefault = false
			m.warehouses[id] = w
		}
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.warehouses[id]; !ok {
		return fmt.Errorf("%w: warehouse %d", httpx.ErrNotFound, id)
	}
	for _, s := range m.subs {
		if s.WarehouseID == id {
			return fmt.Errorf("%w: warehouse %d is still referenced", httpx.ErrValidation, id)
		}
	}
	delete(m.warehouses, id)
	return nil
}

func (m *Memory) GetSubForUpdate(_ context.Context, id int64) (warehouses.SubWarehouse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return warehouses.SubWarehouse{}, fmt.Errorf("%w: sub-warehouse", httpx.ErrNotFound)
	}
	return s, nil
}

func (m *Memory) InsertSub(_ context.Context, s warehouses.SubWarehouse) (warehouses.SubWarehouse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.warehouses[s.WarehouseID]; !ok {
		return warehouses.SubWarehouse{}, fmt.Errorf("%w: warehouse %d", httpx.ErrNotFound, s.WarehouseID)
	}
	if err := m.checkSubUnique(s); err != nil {
		return warehouses.SubWarehouse{}, err
	}
	m.nextID++
	s.ID = m.nextID
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	m.subs[s.ID] = s
	return s, nil
}

func (m *Memory) checkSubUnique(s warehouses.SubWarehouse) error {
	for _, existing := range m.subs {
		if existing.ID != s.ID && existing.WarehouseID == s.WarehouseID && existing.Code == s.Code {
			return fmt.Errorf("%w: sub-warehouse code %s", httpx.ErrDuplicate, s.Code)
		}
	}
	return nil
}

func (m *Memory) UpdateSub(_ context.Context, s warehouses.SubWarehouse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[s.ID]; !ok {
		return fmt.Errorf("%w: sub-warehouse", httpx.ErrNotFound)
	}
	if err := m.checkSubUnique(s); err != nil {
		return err
	}
	s.UpdatedAt = time.Now().UTC()
	m.subs[s.ID] = s
	return nil
}

func (m *Memory) DeleteSub(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return fmt.Errorf("%w: sub-warehouse %d", httpx.ErrNotFound, id)
	}
	delete(m.subs, id)
	return nil
}

func (m *Memory) DeleteSubs(_ context.Context, warehouseID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.subs {
		if s.WarehouseID == warehouseID {
			delete(m.subs, id)
			n++
		}
	}
	return n, nil
}
