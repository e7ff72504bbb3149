// Package paymentstest provides an in-memory payment repository for tests.
package paymentstest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounts/accountstest"
	"github.com/odyssey-erp/odyssey-ledger/internal/contacts"
	"github.com/odyssey-erp/odyssey-ledger/internal/payments"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/transactions/transactionstest"
)

// Memory implements payments.Repository and payments.TxRepository over the
// in-memory transaction, contact and account stores. A failed WithTx restores all
// of them.
type Memory struct {
	txMu    sync.Mutex
	mu      sync.Mutex
	rows    map[int64]payments.Payment
	nextID  int64
	TxStore *transactionstest.Memory
	Accts   *accountstest.Memory

	// Conflicts makes that many WithTx calls roll back with a serialization failure
	// after fn succeeds.
	Conflicts int
}

// NewMemory wires the stores. Nil stores are created empty. The transaction store
// counts this repository's payments so transaction deletes see them.
func NewMemory(txStore *transactionstest.Memory, accts *accountstest.Memory) *Memory {
	if txStore == nil {
		txStore = transactionstest.NewMemory(nil)
	}
	if accts == nil {
		accts = accountstest.NewMemory()
	}
	m := &Memory{rows: map[int64]payments.Payment{}, TxStore: txStore, Accts: accts}
	txStore.Payments = m.countFor
	return m
}

var (
	_ payments.Repository   = (*Memory)(nil)
	_ payments.TxRepository = (*Memory)(nil)
)

func (m *Memory) countFor(transactionID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.rows {
		if p.TransactionID != nil && *p.TransactionID == transactionID {
			n++
		}
	}
	return n
}

// Count returns the number of stored payments.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, payments.TxRepository) error) error {
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

// Snapshot captures payments and every composed store.
func (m *Memory) Snapshot() func() {
	restoreTx := m.TxStore.Snapshot()
	restoreAccts := m.Accts.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make(map[int64]payments.Payment, len(m.rows))
	for k, v := range m.rows {
		rows[k] = v
	}
	nextID := m.nextID
	return func() {
		restoreTx()
		restoreAccts()
		m.mu.Lock()
		defer m.mu.Unlock()
		m.rows, m.nextID = rows, nextID
	}
}

func (m *Memory) Transactions() payments.TransactionStore {
	return m.TxStore
}

func (m *Memory) Contacts() contacts.LedgerStore {
	return m.TxStore.ContactStore
}

func (m *Memory) Accounts() accounts.LedgerStore {
	return m.Accts
}

func (m *Memory) Next(ctx context.Context, prefix string, at time.Time) (string, error) {
	return m.TxStore.Next(ctx, prefix, at)
}

func (m *Memory) List(_ context.Context, filter payments.ListFilter) ([]payments.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match := func(ref *int64, id int64) bool { return id <= 0 || (ref != nil && *ref == id) }
	var out []payments.Payment
	for _, p := range m.rows {
		switch {
		case filter.Type != "" && p.PaymentType != filter.Type:
			continue
		case filter.Channel != "" && p.PaymentChannel != filter.Channel:
			continue
		case !match(p.ContactID, filter.ContactID), !match(p.AccountID, filter.AccountID),
			!match(p.TransactionID, filter.TransactionID):
			continue
		case filter.DateFrom != nil && p.PaymentDate.Before(*filter.DateFrom):
			continue
		case filter.DateTo != nil && !p.PaymentDate.Before(filter.DateTo.AddDate(0, 0, 1)):
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].PaymentDate.After(out[j].PaymentDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *Memory) Get(_ context.Context, id int64) (payments.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return payments.Payment{}, fmt.Errorf("%w: payment", httpx.ErrNotFound)
	}
	return p, nil
}

func (m *Memory) GetForUpdate(ctx context.Context, id int64) (payments.Payment, error) {
	return m.Get(ctx, id)
}

func (m *Memory) TransferLegs(_ context.Context, ref uuid.UUID) ([]payments.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []payments.Payment
	for _, p := range m.rows {
		if p.TransferRef.Valid && p.TransferRef.UUID == ref {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Insert(ctx context.Context, p payments.Payment) (payments.Payment, error) {
	if p.ContactID != nil && !m.TxStore.ContactStore.Exists(*p.ContactID) {
		return payments.Payment{}, fmt.Errorf("%w: contact %d", httpx.ErrNotFound, *p.ContactID)
	}
	if p.AccountID != nil {
		if _, err := m.Accts.Get(ctx, *p.AccountID); err != nil {
			return payments.Payment{}, err
		}
	}
	if p.TransactionID != nil {
		if _, err := m.TxStore.Get(ctx, *p.TransactionID); err != nil {
			return payments.Payment{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.PaymentNo == p.PaymentNo {
			return payments.Payment{}, fmt.Errorf("duplicate payment_no %s", p.PaymentNo)
		}
	}
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	m.rows[p.ID] = p
	return p, nil
}

func (m *Memory) Update(_ context.Context, p payments.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rows[p.ID]
	if !ok {
		return fmt.Errorf("%w: payment", httpx.ErrNotFound)
	}
	current.ReferenceNo, current.Description, current.Status, current.DueDate = p.ReferenceNo, p.Description, p.Status, p.DueDate
	current.UpdatedAt = time.Now().UTC()
	m.rows[p.ID] = current
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return fmt.Errorf("%w: payment %d", httpx.ErrNotFound, id)
	}
	delete(m.rows, id)
	return nil
}
