package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/contacts"
	"github.com/odyssey-erp/odyssey-ledger/internal/numbering"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/transactions"
)

// Repository exposes payment reads and the transactional unit of work.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Payment, error)
	Get(ctx context.Context, id int64) (Payment, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TransactionStore is the part of a transaction row a payment settles.
type TransactionStore interface {
	GetForUpdate(ctx context.Context, id int64) (transactions.Transaction, error)
	SetPaid(ctx context.Context, id int64, paid decimal.Decimal, isPaid bool) error
}

// TxRepository binds payment writes and every ledger a payment touches to one
// database transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Payment, error)
	TransferLegs(ctx context.Context, ref uuid.UUID) ([]Payment, error)
	Insert(ctx context.Context, p Payment) (Payment, error)
	Update(ctx context.Context, p Payment) error
	Delete(ctx context.Context, id int64) error
	Transactions() TransactionStore
	Contacts() contacts.LedgerStore
	Accounts() accounts.LedgerStore
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

const paymentColumns = `id, payment_no, external_id, transaction_id, contact_id, account_id, payment_type, payment_channel,
currency, amount, exchange_rate, base_amount, due_date, is_advance, status, reference_no, description, payment_date,
transfer_ref, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (Payment, error) {
	var p Payment
	var kind, channel, status string
	err := row.Scan(&p.ID, &p.PaymentNo, &p.ExternalID, &p.TransactionID, &p.ContactID, &p.AccountID, &kind, &channel,
		&p.Currency, &p.Amount, &p.ExchangeRate, &p.BaseAmount, &p.DueDate, &p.IsAdvance, &status, &p.ReferenceNo,
		&p.Description, &p.PaymentDate, &p.TransferRef, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, fmt.Errorf("%w: payment", httpx.ErrNotFound)
	}
	p.PaymentType, p.PaymentChannel, p.Status = Type(kind), Channel(channel), Status(status)
	return p, err
}

func collect(rows pgx.Rows) ([]Payment, error) {
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Payment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Type != "" {
		add("payment_type = $%d", string(filter.Type))
	}
	if filter.Channel != "" {
		add("payment_channel = $%d", string(filter.Channel))
	}
	if filter.ContactID > 0 {
		add("contact_id = $%d", filter.ContactID)
	}
	if filter.AccountID > 0 {
		add("account_id = $%d", filter.AccountID)
	}
	if filter.TransactionID > 0 {
		add("transaction_id = $%d", filter.TransactionID)
	}
	if filter.DateFrom != nil {
		add("payment_date >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		add("payment_date < $%d", filter.DateTo.AddDate(0, 0, 1))
	}
	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Window.Limit, filter.Window.Skip)
	query += fmt.Sprintf(` ORDER BY payment_date DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *repository) Get(ctx context.Context, id int64) (Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx, r.loc))
	})
}

type txRepository struct {
	*numbering.Counter
	q   db.Querier
	loc *time.Location
}

// NewTxRepository binds payment writes, the transaction, contact and account ledgers
// and the document counter to q.
func NewTxRepository(q db.Querier, loc *time.Location) TxRepository {
	return &txRepository{Counter: numbering.NewCounter(q, loc), q: q, loc: loc}
}

func (r *txRepository) Transactions() TransactionStore {
	return transactions.NewTxRepository(r.q, r.loc)
}

func (r *txRepository) Contacts() contacts.LedgerStore {
	return contacts.NewTxRepository(r.q)
}

func (r *txRepository) Accounts() accounts.LedgerStore {
	return accounts.NewTxRepository(r.q)
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Payment, error) {
	return scanPayment(r.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) TransferLegs(ctx context.Context, ref uuid.UUID) ([]Payment, error) {
	rows, err := r.q.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transfer_ref = $1 ORDER BY id FOR UPDATE`, ref)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *txRepository) Insert(ctx context.Context, p Payment) (Payment, error) {
	created, err := scanPayment(r.q.QueryRow(ctx, `INSERT INTO payments
  (payment_no, external_id, transaction_id, contact_id, account_id, payment_type, payment_channel, currency, amount,
   exchange_rate, base_amount, due_date, is_advance, status, reference_no, description, payment_date, transfer_ref)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
RETURNING `+paymentColumns,
		p.PaymentNo, p.ExternalID, p.TransactionID, p.ContactID, p.AccountID, string(p.PaymentType),
		string(p.PaymentChannel), p.Currency, p.Amount, p.ExchangeRate, p.BaseAmount, p.DueDate, p.IsAdvance,
		string(p.Status), p.ReferenceNo, p.Description, p.PaymentDate, p.TransferRef))
	if err != nil {
		return Payment{}, missingParty(err, p)
	}
	return created, nil
}

func missingParty(err error, p Payment) error {
	if !db.IsForeignKeyViolation(err) {
		return err
	}
	name := db.ConstraintName(err)
	switch {
	case strings.Contains(name, "contact") && p.ContactID != nil:
		return fmt.Errorf("%w: contact %d", httpx.ErrNotFound, *p.ContactID)
	case strings.Contains(name, "account") && p.AccountID != nil:
		return fmt.Errorf("%w: account %d", httpx.ErrNotFound, *p.AccountID)
	case strings.Contains(name, "transaction") && p.TransactionID != nil:
		return fmt.Errorf("%w: transaction %d", httpx.ErrNotFound, *p.TransactionID)
	}
	return fmt.Errorf("%w: %s", httpx.ErrNotFound, name)
}

func (r *txRepository) Update(ctx context.Context, p Payment) error {
	_, err := r.q.Exec(ctx, `UPDATE payments SET reference_no = $2, description = $3, status = $4, due_date = $5,
  updated_at = NOW() WHERE id = $1`, p.ID, p.ReferenceNo, p.Description, string(p.Status), p.DueDate)
	return err
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %d", httpx.ErrNotFound, id)
	}
	return nil
}
