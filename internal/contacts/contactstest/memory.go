// Package contactstest provides an in-memory contact repository for tests.
package contactstest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/contacts"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Memory implements contacts.Repository and contacts.TxRepository. A failed WithTx
// leaves the state as it was before the call.
type Memory struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	contacts map[int64]contacts.Contact
	accounts map[int64]contacts.Account
	nextID   int64
}

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{contacts: map[int64]contacts.Contact{}, accounts: map[int64]contacts.Account{}}
}

var (
	_ contacts.Repository   = (*Memory)(nil)
	_ contacts.TxRepository = (*Memory)(nil)
)

// AddContact stores c without an account and returns it with its id.
func (m *Memory) AddContact(c contacts.Contact) contacts.Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	if c.ContactType == "" {
		c.ContactType = contacts.TypeBoth
	}
	c.IsActive = true
	m.contacts[c.ID] = c
	return c
}

// Balance returns the stored balance and whether the account exists.
func (m *Memory) Balance(contactID int64, currency string) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ContactID == contactID && a.Currency == currency {
			return a.Balance, true
		}
	}
	return decimal.Zero, false
}

// DropAccount removes an account row, simulating manual cleanup.
func (m *Memory) DropAccount(contactID int64, currency string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.accounts {
		if a.ContactID == contactID && a.Currency == currency {
			delete(m.accounts, id)
		}
	}
}

// Exists reports whether a contact id is known.
func (m *Memory) Exists(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.contacts[id]
	return ok
}

func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, contacts.TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	restore := m.Snapshot()
	if err := fn(ctx, m); err != nil {
		restore()
		return err
	}
	return nil
}

// Snapshot captures the state; calling the returned func restores it.
func (m *Memory) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := make(map[int64]contacts.Contact, len(m.contacts))
	for k, v := range m.contacts {
		cs[k] = v
	}
	as := make(map[int64]contacts.Account, len(m.accounts))
	for k, v := range m.accounts {
		as[k] = v
	}
	nextID := m.nextID
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.contacts, m.accounts, m.nextID = cs, as, nextID
	}
}

func (m *Memory) List(_ context.Context, filter contacts.ListFilter) ([]contacts.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var out []contacts.Contact
	for _, c := range m.contacts {
		if search != "" && !strings.Contains(strings.ToLower(c.Name+" "+c.Code), search) {
			continue
		}
		if filter.Type != "" && c.ContactType != filter.Type && c.ContactType != contacts.TypeBoth {
			continue
		}
		if filter.IsActive != nil && c.IsActive != *filter.IsActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Get(_ context.Context, id int64) (contacts.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return contacts.Contact{}, fmt.Errorf("%w: contact", httpx.ErrNotFound)
	}
	return c, nil
}

func (m *Memory) Accounts(ctx context.Context, contactID int64) ([]contacts.Account, error) {
	return m.ListAccounts(ctx, contactID)
}

func (m *Memory) GetForUpdate(ctx context.Context, id int64) (contacts.Contact, error) {
	return m.Get(ctx, id)
}

func (m *Memory) Insert(_ context.Context, c contacts.Contact) (contacts.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.contacts {
		if existing.Code == c.Code {
			return contacts.Contact{}, fmt.Errorf("%w: contact code %s", httpx.ErrDuplicate, c.Code)
		}
	}
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	m.contacts[c.ID] = c
	return c, nil
}

func (m *Memory) Update(_ context.Context, c contacts.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[c.ID]; !ok {
		return fmt.Errorf("%w: contact", httpx.ErrNotFound)
	}
	m.contacts[c.ID] = c
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[id]; !ok {
		return fmt.Errorf("%w: contact %d", httpx.ErrNotFound, id)
	}
	delete(m.contacts, id)
	return nil
}

func (m *Memory) ListAccounts(_ context.Context, contactID int64) ([]contacts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contacts.Account
	for _, a := range m.accounts {
		if a.ContactID == contactID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (m *Memory) DeleteAccounts(_ context.Context, contactID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.accounts {
		if a.ContactID == contactID {
			delete(m.accounts, id)
		}
	}
	return nil
}

func (m *Memory) GetAccountForUpdate(_ context.Context, contactID int64, currency string) (contacts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ContactID == contactID && a.Currency == currency {
			return a, nil
		}
	}
	return contacts.Account{}, fmt.Errorf("%w: contact account", httpx.ErrNotFound)
}

func (m *Memory) InsertAccount(_ context.Context, contactID int64, currency string) (contacts.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[contactID]; !ok {
		return contacts.Account{}, fmt.Errorf("%w: contact %d", httpx.ErrNotFound, contactID)
	}
	for _, a := range m.accounts {
		if a.ContactID == contactID && a.Currency == currency {
			return a, nil
		}
	}
	m.nextID++
	now := time.Now().UTC()
	a := contacts.Account{ID: m.nextID, ContactID: contactID, Currency: currency, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	m.accounts[a.ID] = a
	return a, nil
}

func (m *Memory) SetBalance(_ context.Context, accountID int64, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: contact account", httpx.ErrNotFound)
	}
	a.Balance = balance
	m.accounts[accountID] = a
	return nil
}
