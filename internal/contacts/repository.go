package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Repository reads contacts.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Contact, error)
	Get(ctx context.Context, id int64) (Contact, error)
	Accounts(ctx context.Context, contactID int64) ([]Account, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes writes that must run inside one transaction.
type TxRepository interface {
	LedgerStore
	GetForUpdate(ctx context.Context, id int64) (Contact, error)
	Insert(ctx context.Context, c Contact) (Contact, error)
	Update(ctx context.Context, c Contact) error
	Delete(ctx context.Context, id int64) error
	ListAccounts(ctx context.Context, contactID int64) ([]Account, error)
	DeleteAccounts(ctx context.Context, contactID int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const contactColumns = `id, code, name, contact_type, company_name, tax_number, tax_office, email, phone, mobile, address, city, country,
payment_term_days, credit_limit, default_currency, notes, is_active, created_at, updated_at`

const accountColumns = `id, contact_id, currency, balance, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var c Contact
	var kind string
	err := row.Scan(&c.ID, &c.Code, &c.Name, &kind, &c.CompanyName, &c.TaxNumber, &c.TaxOffice, &c.Email, &c.Phone, &c.Mobile,
		&c.Address, &c.City, &c.Country, &c.PaymentTermDays, &c.CreditLimit, &c.DefaultCurrency, &c.Notes, &c.IsActive,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, fmt.Errorf("%w: contact", httpx.ErrNotFound)
	}
	c.ContactType = ContactType(kind)
	return c, err
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.ContactID, &a.Currency, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: contact account", httpx.ErrNotFound)
	}
	return a, err
}

func collectAccounts(rows pgx.Rows, err error) ([]Account, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Contact, error) {
	var (
		where []string
		args  []any
	)
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%[1]d OR code ILIKE $%[1]d OR company_name ILIKE $%[1]d OR tax_number ILIKE $%[1]d)", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("(contact_type = $%d OR contact_type = 'both')", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		where = append(where, fmt.Sprintf("is_active = $%d", len(args)))
	}
	query := `SELECT ` + contactColumns + ` FROM contacts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Window.Limit, filter.Window.Skip)
	query += fmt.Sprintf(` ORDER BY name, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Contact, error) {
	return scanContact(r.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id))
}

func (r *repository) Accounts(ctx context.Context, contactID int64) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM contact_accounts WHERE contact_id = $1 ORDER BY currency`, contactID)
	return collectAccounts(rows, err)
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	q db.Querier
}

// NewTxRepository binds contact writes to q. Other packages use it to move contact
// balances inside their own transactions.
func NewTxRepository(q db.Querier) TxRepository {
	return &txRepository{q: q}
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Contact, error) {
	return scanContact(r.q.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) Insert(ctx context.Context, c Contact) (Contact, error) {
	created, err := scanContact(r.q.QueryRow(ctx, `INSERT INTO contacts
  (code, name, contact_type, company_name, tax_number, tax_office, email, phone, mobile, address, city, country,
   payment_term_days, credit_limit, default_currency, notes, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
RETURNING `+contactColumns,
		c.Code, c.Name, string(c.ContactType), c.CompanyName, c.TaxNumber, c.TaxOffice, c.Email, c.Phone, c.Mobile, c.Address,
		c.City, c.Country, c.PaymentTermDays, c.CreditLimit, c.DefaultCurrency, c.Notes, c.IsActive))
	if db.IsUniqueViolation(err, "") {
		return Contact{}, fmt.Errorf("%w: contact code %s", httpx.ErrDuplicate, c.Code)
	}
	return created, err
}

func (r *txRepository) Update(ctx context.Context, c Contact) error {
	_, err := r.q.Exec(ctx, `UPDATE contacts SET name = $2, contact_type = $3, company_name = $4, tax_number = $5, tax_office = $6,
  email = $7, phone = $8, mobile = $9, address = $10, city = $11, country = $12, payment_term_days = $13, credit_limit = $14,
  default_currency = $15, notes = $16, is_active = $17, updated_at = NOW()
WHERE id = $1`,
		c.ID, c.Name, string(c.ContactType), c.CompanyName, c.TaxNumber, c.TaxOffice, c.Email, c.Phone, c.Mobile, c.Address,
		c.City, c.Country, c.PaymentTermDays, c.CreditLimit, c.DefaultCurrency, c.Notes, c.IsActive)
	return err
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: contact %d is referenced by transactions or payments", httpx.ErrValidation, id)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: contact %d", httpx.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) ListAccounts(ctx context.Context, contactID int64) ([]Account, error) {
	rows, err := r.q.Query(ctx, `SELECT `+accountColumns+` FROM contact_accounts WHERE contact_id = $1 ORDER BY currency FOR UPDATE`, contactID)
	return collectAccounts(rows, err)
}

func (r *txRepository) DeleteAccounts(ctx context.Context, contactID int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM contact_accounts WHERE contact_id = $1`, contactID)
	return err
}

func (r *txRepository) GetAccountForUpdate(ctx context.Context, contactID int64, currency string) (Account, error) {
	return scanAccount(r.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM contact_accounts
WHERE contact_id = $1 AND currency = $2 FOR UPDATE`, contactID, currency))
}

// InsertAccount creates the account or returns the existing one; either way the row
// is locked until the transaction ends.
func (r *txRepository) InsertAccount(ctx context.Context, contactID int64, currency string) (Account, error) {
	acc, err := scanAccount(r.q.QueryRow(ctx, `INSERT INTO contact_accounts (contact_id, currency, balance)
VALUES ($1, $2, 0)
ON CONFLICT (contact_id, currency) DO UPDATE SET currency = EXCLUDED.currency
RETURNING `+accountColumns, contactID, currency))
	if db.IsForeignKeyViolation(err) {
		return Account{}, fmt.Errorf("%w: contact %d", httpx.ErrNotFound, contactID)
	}
	return acc, err
}

func (r *txRepository) SetBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	_, err := r.q.Exec(ctx, `UPDATE contact_accounts SET balance = $2, updated_at = NOW() WHERE id = $1`, accountID, balance)
	return err
}
