// Package accountstest provides an in-memory account repository for tests.
package accountstest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Memory implements accounts.Repository and accounts.TxRepository. Companies is the
// set of company ids inserts are allowed to reference.
type Memory struct {
	txMu      sync.Mutex
	mu        sync.Mutex
	accounts  map[int64]accounts.Account
	movements []accounts.Movement
	nextID    int64
	Companies map[int64]bool

	// Locked records GetForUpdate calls in order.
	Locked []int64

	// Conflicts makes that many WithTx calls roll back with a serialization failure
	// after fn succeeds.
	Conflicts int
}

// NewMemory returns an empty repository that knows company 1.
func NewMemory() *Memory {
	return &Memory{accounts: map[int64]accounts.Account{}, Companies: map[int64]bool{1: true}}
}

var (
	_ accounts.Repository   = (*Memory)(nil)
	_ accounts.TxRepository = (*Memory)(nil)
)

// AddAccount stores a as is and returns it with its id.
func (m *Memory) AddAccount(a accounts.Account) accounts.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	if a.CompanyID == 0 {
		a.CompanyID = 1
	}
	if a.AccountType == "" {
		a.AccountType = accounts.TypeBank
	}
	if a.Code == "" {
		a.Code = fmt.Sprintf("ACC-%d", a.ID)
	}
	if a.Name == "" {
		a.Name = a.Code
	}
	a.IsActive = true
	m.accounts[a.ID] = a
	return a
}

// Balance returns the stored balance of id.
func (m *Memory) Balance(id int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].Balance
}

// History returns the movements of id in insertion order.
func (m *Memory) History(id int64) []accounts.Movement {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []accounts.Movement
	for _, mv := range m.movements {
		if mv.AccountID == id {
			out = append(out, mv)
		}
	}
	return out
}

// Remove deletes an account row without checks.
func (m *Memory) Remove(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
}

func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, accounts.TxRepository) error) error {
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
	accs := make(map[int64]accounts.Account, len(m.accounts))
	for k, v := range m.accounts {
		accs[k] = v
	}
	moves := append([]accounts.Movement(nil), m.movements...)
	nextID := m.nextID
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.accounts, m.movements, m.nextID = accs, moves, nextID
	}
}

func (m *Memory) List(_ context.Context, filter accounts.ListFilter) ([]accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []accounts.Account
	for _, a := range m.accounts {
		if filter.CompanyID > 0 && a.CompanyID != filter.CompanyID {
			continue
		}
		if filter.AccountType != "" && a.AccountType != filter.AccountType {
			continue
		}
		if filter.Currency != "" && a.Currency != filter.Currency {
			continue
		}
		if filter.IsActive != nil && a.IsActive != *filter.IsActive {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Get(_ context.Context, id int64) (accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return accounts.Account{}, fmt.Errorf("%w: account", httpx.ErrNotFound)
	}
	return a, nil
}

func (m *Memory) Movements(_ context.Context, accountID int64, window shared.Window) ([]accounts.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []accounts.Movement
	for i := len(m.movements) - 1; i >= 0; i-- {
		if m.movements[i].AccountID == accountID {
			out = append(out, m.movements[i])
		}
	}
	if window.Skip >= len(out) {
		return nil, nil
	}
	out = out[window.Skip:]
	if window.Limit > 0 && len(out) > window.Limit {
		out = out[:window.Limit]
	}
	return out, nil
}

func (m *Memory) GetForUpdate(ctx context.Context, id int64) (accounts.Account, error) {
	m.mu.Lock()
	m.Locked = append(m.Locked, id)
	m.mu.Unlock()
	return m.Get(ctx, id)
}

func (m *Memory) SetBalance(_ context.Context, id int64, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return fmt.Errorf("%w: account", httpx.ErrNotFound)
	}
	a.Balance = balance
	m.accounts[id] = a
	return nil
}

func (m *Memory) InsertMovement(_ context.Context, mv accounts.Movement) (accounts.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	mv.ID = m.nextID
	mv.CreatedAt = time.Now().UTC()
	m.movements = append(m.movements, mv)
	return mv, nil
}

func (m *Memory) Insert(_ context.Context, a accounts.Account) (accounts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Companies[a.CompanyID] {
		return accounts.Account{}, fmt.Errorf("%w: company %d", httpx.ErrNotFound, a.CompanyID)
	}
	for _, existing := range m.accounts {
		if existing.CompanyID == a.CompanyID && existing.Code == a.Code {
			return accounts.Account{}, fmt.Errorf("%w: account code %s", httpx.ErrDuplicate, a.Code)
		}
	}
	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	m.accounts[a.ID] = a
	return a, nil
}

func (m *Memory) Update(_ context.Context, a accounts.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; !ok {
		return fmt.Errorf("%w: account", httpx.ErrNotFound)
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return fmt.Errorf("%w: account %d", httpx.ErrNotFound, id)
	}
	delete(m.accounts, id)
	return nil
}

func (m *Memory) CountMovements(_ context.Context, accountID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, mv := range m.movements {
		if mv.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ClearDefault(_ context.Context, companyID int64, currency string, keepID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.accounts {
		if a.CompanyID == companyID && a.Currency == currency && id != keepID && a.IsDefault {
			a.IsDefault = false
			m.accounts[id] = a
		}
	}
	return nil
}
