// Package transactionstest provides an in-memory transaction repository for tests.
package transactionstest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/contacts"
	"github.com/odyssey-erp/odyssey-ledger/internal/contacts/contactstest"
	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/transactions"
)

// Memory implements transactions.Repository and transactions.TxRepository on top of
// an in-memory contact store. A failed WithTx restores both.
type Memory struct {
	txMu         sync.Mutex
	mu           sync.Mutex
	rows         map[int64]transactions.Transaction
	counters     map[string]int64
	nextID       int64
	ContactStore *contactstest.Memory
	Companies    map[int64]bool

	// Products lists the product ids a line may reference; nil accepts any.
	Products map[int64]bool

	// Payments reports how many payments reference a transaction.
	Payments func(id int64) int64

	// Conflicts makes that many WithTx calls run fn, roll back and fail with a
	// serialization failure, as postgres does when a concurrent writer wins.
	Conflicts int
}

// NewMemory returns an empty repository that knows company 1.
func NewMemory(contactStore *contactstest.Memory) *Memory {
	if contactStore == nil {
		contactStore = contactstest.NewMemory()
	}
	return &Memory{
		rows:         map[int64]transactions.Transaction{},
		counters:     map[string]int64{},
		ContactStore: contactStore,
		Companies:    map[int64]bool{1: true},
	}
}

var (
	_ transactions.Repository   = (*Memory)(nil)
	_ transactions.TxRepository = (*Memory)(nil)
)

func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, transactions.TxRepository) error) error {
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

// Snapshot captures transactions and contacts; the returned func restores them.
func (m *Memory) Snapshot() func() {
	restoreContacts := m.ContactStore.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make(map[int64]transactions.Transaction, len(m.rows))
	for k, v := range m.rows {
		v.Items = append([]transactions.Item(nil), v.Items...)
		rows[k] = v
	}
	counters := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	nextID := m.nextID
	return func() {
		restoreContacts()
		m.mu.Lock()
		defer m.mu.Unlock()
		m.rows, m.counters, m.nextID = rows, counters, nextID
	}
}

// Count returns the number of stored transactions.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *Memory) Contacts() contacts.LedgerStore {
	return m.ContactStore
}

func (m *Memory) Next(_ context.Context, prefix string, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := numbering.Day(at, time.UTC)
	key := prefix + day.Format("20060102")
	m.counters[key]++
	return numbering.Format(prefix, day, m.counters[key]), nil
}

func (m *Memory) List(_ context.Context, filter transactions.ListFilter) ([]transactions.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []transactions.Transaction
	for _, t := range m.rows {
		switch {
		case filter.Type != "" && t.TransactionType != filter.Type:
			continue
		case filter.CompanyID > 0 && t.CompanyID != filter.CompanyID:
			continue
		case filter.ContactID > 0 && (t.ContactID == nil || *t.ContactID != filter.ContactID):
			continue
		case filter.Status != "" && t.Status != filter.Status:
			continue
		case filter.DateFrom != nil && t.TransactionDate.Before(*filter.DateFrom):
			continue
		case filter.DateTo != nil && !t.TransactionDate.Before(filter.DateTo.AddDate(0, 0, 1)):
			continue
		}
		t.Items = nil
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Memory) Get(_ context.Context, id int64) (transactions.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return transactions.Transaction{}, fmt.Errorf("%w: transaction", httpx.ErrNotFound)
	}
	t.Items = append([]transactions.Item(nil), t.Items...)
	return t, nil
}

func (m *Memory) GetForUpdate(ctx context.Context, id int64) (transactions.Transaction, error) {
	return m.Get(ctx, id)
}

func (m *Memory) Insert(_ context.Context, t transactions.Transaction) (transactions.Transaction, error) {
	if t.ContactID != nil && !m.ContactStore.Exists(*t.ContactID) {
		return transactions.Transaction{}, fmt.Errorf("%w: contact %d", httpx.ErrNotFound, *t.ContactID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Companies[t.CompanyID] {
		return transactions.Transaction{}, fmt.Errorf("%w: company %d", httpx.ErrNotFound, t.CompanyID)
	}
	for i, it := range t.Items {
		if it.ProductID != nil && m.Products != nil && !m.Products[*it.ProductID] {
			return transactions.Transaction{}, fmt.Errorf("%w: product %d on line %d", httpx.ErrNotFound, *it.ProductID, i+1)
		}
	}
	for _, existing := range m.rows {
		if existing.TransactionNo == t.TransactionNo {
			return transactions.Transaction{}, fmt.Errorf("duplicate transaction_no %s", t.TransactionNo)
		}
	}
	m.nextID++
	t.ID = m.nextID
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	items := make([]transactions.Item, len(t.Items))
	for i, it := range t.Items {
		m.nextID++
		it.ID = m.nextID
		it.TransactionID = t.ID
		it.LineNo = i + 1
		items[i] = it
	}
	t.Items = items
	m.rows[t.ID] = t
	return t, nil
}

func (m *Memory) UpdateHeader(_ context.Context, t transactions.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rows[t.ID]
	if !ok {
		return fmt.Errorf("%w: transaction", httpx.ErrNotFound)
	}
	current.ExternalID, current.DueDate, current.Notes = t.ExternalID, t.DueDate, t.Notes
	current.Status, current.CancelReason, current.CancelledAt = t.Status, t.CancelReason, t.CancelledAt
	current.PaidAmount, current.IsPaid = t.PaidAmount, t.IsPaid
	m.rows[t.ID] = current
	return nil
}

func (m *Memory) SetPaid(_ context.Context, id int64, paid decimal.Decimal, isPaid bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("%w: transaction", httpx.ErrNotFound)
	}
	t.PaidAmount, t.IsPaid = paid, isPaid
	m.rows[id] = t
	return nil
}

func (m *Memory) CountPayments(_ context.Context, id int64) (int64, error) {
	if m.Payments == nil {
		return 0, nil
	}
	return m.Payments(id), nil
}

func (m *Memory) ReturnedQuantities(_ context.Context, transactionNo string) (map[int64]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]decimal.Decimal{}
	for _, t := range m.rows {
		if t.ExternalID != transactionNo || t.Status == transactions.StatusCancelled {
			continue
		}
		if t.TransactionType != transactions.TypeSaleReturn && t.TransactionType != transactions.TypePurchaseReturn {
			continue
		}
		for _, it := range t.Items {
			if it.SourceItemID != nil {
				out[*it.SourceItemID] = out[*it.SourceItemID].Add(it.Quantity)
			}
		}
	}
	return out, nil
}

func (m *Memory) DeleteItems(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.rows[id]; ok {
		t.Items = nil
		m.rows[id] = t
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return fmt.Errorf("%w: transaction %d", httpx.ErrNotFound, id)
	}
	delete(m.rows, id)
	return nil
}
