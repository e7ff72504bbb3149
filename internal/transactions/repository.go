package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/contacts"
	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Repository reads transactions.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Transaction, error)
	Get(ctx context.Context, id int64) (Transaction, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes of one unit of work, including the contact balances
// and the document counter it shares a transaction with.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Transaction, error)
	Insert(ctx context.Context, t Transaction) (Transaction, error)
	UpdateHeader(ctx context.Context, t Transaction) error
	SetPaid(ctx context.Context, id int64, paid decimal.Decimal, isPaid bool) error
	CountPayments(ctx context.Context, id int64) (int64, error)
	ReturnedQuantities(ctx context.Context, transactionNo string) (map[int64]decimal.Decimal, error)
	DeleteItems(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	Contacts() contacts.LedgerStore
	numbering.Allocator
}

type repository struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewRepository builds the pgx backed repository. loc is the time zone document
// numbers are dated in.
func NewRepository(pool *pgxpool.Pool, loc *time.Location) Repository {
	return &repository{pool: pool, loc: loc}
}

const headerColumns = `id, transaction_no, external_id, transaction_type, company_id, contact_id, transaction_date, due_date,
currency, exchange_rate, subtotal, tax_amount, discount_amount, total_amount, paid_amount, is_paid, status, notes,
cancel_reason, cancelled_at, created_at, updated_at`

const itemColumns = `id, transaction_id, line_no, product_id, source_item_id, description, quantity, unit_price, cost_price,
discount_percent, discount_amount, tax_percent, tax_amount, total_amount, profit, profit_margin, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHeader(row rowScanner) (Transaction, error) {
	var t Transaction
	var kind, status string
	err := row.Scan(&t.ID, &t.TransactionNo, &t.ExternalID, &kind, &t.CompanyID, &t.ContactID, &t.TransactionDate,
		&t.DueDate, &t.Currency, &t.ExchangeRate, &t.Subtotal, &t.TaxAmount, &t.DiscountAmount, &t.TotalAmount,
		&t.PaidAmount, &t.IsPaid, &status, &t.Notes, &t.CancelReason, &t.CancelledAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("%w: transaction", httpx.ErrNotFound)
	}
	t.TransactionType, t.Status = Type(kind), Status(status)
	return t, err
}

func scanItem(row rowScanner) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.TransactionID, &it.LineNo, &it.ProductID, &it.SourceItemID, &it.Description, &it.Quantity, &it.UnitPrice,
		&it.CostPrice, &it.DiscountPercent, &it.DiscountAmount, &it.TaxPercent, &it.TaxAmount, &it.TotalAmount,
		&it.Profit, &it.ProfitMargin, &it.CreatedAt)
	return it, err
}

func loadItems(ctx context.Context, q db.Querier, id int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM transaction_items WHERE transaction_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Type != "" {
		add("transaction_type = $%d", string(filter.Type))
	}
	if filter.CompanyID > 0 {
		add("company_id = $%d", filter.CompanyID)
	}
	if filter.ContactID > 0 {
		add("contact_id = $%d", filter.ContactID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.DateFrom != nil {
		add("transaction_date >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		add("transaction_date < $%d", filter.DateTo.AddDate(0, 0, 1))
	}
	query := `SELECT ` + headerColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Window.Limit, filter.Window.Skip)
	query += fmt.Sprintf(` ORDER BY transaction_date DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Transaction, error) {
	t, err := scanHeader(r.pool.QueryRow(ctx, `SELECT `+headerColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return Transaction{}, err
	}
	t.Items, err = loadItems(ctx, r.pool, id)
	return t, err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx, r.loc))
	})
}

type txRepository struct {
	*numbering.Counter
	q db.Querier
}

// NewTxRepository binds transaction writes, contact balances and the document
// counter to q.
func NewTxRepository(q db.Querier, loc *time.Location) TxRepository {
	return &txRepository{Counter: numbering.NewCounter(q, loc), q: q}
}

func (r *txRepository) Contacts() contacts.LedgerStore {
	return contacts.NewTxRepository(r.q)
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Transaction, error) {
	t, err := scanHeader(r.q.QueryRow(ctx, `SELECT `+headerColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Transaction{}, err
	}
	t.Items, err = loadItems(ctx, r.q, id)
	return t, err
}

func (r *txRepository) Insert(ctx context.Context, t Transaction) (Transaction, error) {
	created, err := scanHeader(r.q.QueryRow(ctx, `INSERT INTO transactions
  (transaction_no, external_id, transaction_type, company_id, contact_id, transaction_date, due_date, currency,
   exchange_rate, subtotal, tax_amount, discount_amount, total_amount, paid_amount, is_paid, status, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
RETURNING `+headerColumns,
		t.TransactionNo, t.ExternalID, string(t.TransactionType), t.CompanyID, t.ContactID, t.TransactionDate, t.DueDate,
		t.Currency, t.ExchangeRate, t.Subtotal, t.TaxAmount, t.DiscountAmount, t.TotalAmount, t.PaidAmount, t.IsPaid,
		string(t.Status), t.Notes))
	if err != nil {
		return Transaction{}, missingParty(err, t)
	}
	created.Items = make([]Item, 0, len(t.Items))
	for i, it := range t.Items {
		it.TransactionID = created.ID
		it.LineNo = i + 1
		stored, err := scanItem(r.q.QueryRow(ctx, `INSERT INTO transaction_items
  (transaction_id, line_no, product_id, source_item_id, description, quantity, unit_price, cost_price, discount_percent,
   discount_amount, tax_percent, tax_amount, total_amount, profit, profit_margin)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
RETURNING `+itemColumns,
			it.TransactionID, it.LineNo, it.ProductID, it.SourceItemID, it.Description, it.Quantity, it.UnitPrice, it.CostPrice,
			it.DiscountPercent, it.DiscountAmount, it.TaxPercent, it.TaxAmount, it.TotalAmount, it.Profit, it.ProfitMargin))
		if err != nil {
			if db.IsForeignKeyViolation(err) && db.ConstraintName(err) == "transaction_items_product_id_fkey" {
				return Transaction{}, fmt.Errorf("%w: product %d on line %d", httpx.ErrNotFound, derefID(it.ProductID), it.LineNo)
			}
			return Transaction{}, err
		}
		created.Items = append(created.Items, stored)
	}
	return created, nil
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

// ReturnedQuantities sums, per original item, the quantity already taken back by
// returns of transactionNo that are not cancelled.
func (r *txRepository) ReturnedQuantities(ctx context.Context, transactionNo string) (map[int64]decimal.Decimal, error) {
	rows, err := r.q.Query(ctx, `SELECT ti.source_item_id, SUM(ti.quantity)
FROM transaction_items ti
JOIN transactions t ON t.id = ti.transaction_id
WHERE t.external_id = $1
  AND t.transaction_type IN ('sale_return', 'purchase_return')
  AND t.status <> 'cancelled'
  AND ti.source_item_id IS NOT NULL
GROUP BY ti.source_item_id`, transactionNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64]decimal.Decimal{}
	for rows.Next() {
		var id int64
		var qty decimal.Decimal
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		out[id] = qty
	}
	return out, rows.Err()
}

// missingParty turns foreign key violations on the header into not-found errors and
// leaves everything else, including number collisions, untouched.
func missingParty(err error, t Transaction) error {
	if !db.IsForeignKeyViolation(err) {
		return err
	}
	if strings.Contains(db.ConstraintName(err), "contact") && t.ContactID != nil {
		return fmt.Errorf("%w: contact %d", httpx.ErrNotFound, *t.ContactID)
	}
	return fmt.Errorf("%w: company %d", httpx.ErrNotFound, t.CompanyID)
}

func (r *txRepository) UpdateHeader(ctx context.Context, t Transaction) error {
	_, err := r.q.Exec(ctx, `UPDATE transactions SET external_id = $2, due_date = $3, notes = $4, status = $5,
  cancel_reason = $6, cancelled_at = $7, paid_amount = $8, is_paid = $9, updated_at = NOW()
WHERE id = $1`,
		t.ID, t.ExternalID, t.DueDate, t.Notes, string(t.Status), t.CancelReason, t.CancelledAt, t.PaidAmount, t.IsPaid)
	return err
}

func (r *txRepository) SetPaid(ctx context.Context, id int64, paid decimal.Decimal, isPaid bool) error {
	_, err := r.q.Exec(ctx, `UPDATE transactions SET paid_amount = $2, is_paid = $3, updated_at = NOW() WHERE id = $1`, id, paid, isPaid)
	return err
}

func (r *txRepository) CountPayments(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE transaction_id = $1`, id).Scan(&n)
	return n, err
}

func (r *txRepository) DeleteItems(ctx context.Context, id int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM transaction_items WHERE transaction_id = $1`, id)
	return err
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction %d", httpx.ErrNotFound, id)
	}
	return nil
}
