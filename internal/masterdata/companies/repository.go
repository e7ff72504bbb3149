package companies

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/warehouses"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Repository reads companies.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Company, error)
	Get(ctx context.Context, id int64) (Company, error)
	ListWarehouses(ctx context.Context, companyID int64) ([]warehouses.Warehouse, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes company writes of one unit of work. Warehouses shares the
// same transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Company, error)
	Insert(ctx context.Context, c Company) (Company, error)
	Update(ctx context.Context, c Company) error
	Delete(ctx context.Context, id int64) error
	Warehouses() warehouses.TxRepository
}

type repository struct {
	pool       *pgxpool.Pool
	warehouses warehouses.Repository
}

// NewRepository builds the pgx backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool, warehouses: warehouses.NewRepository(pool)}
}

const companyColumns = `id, code, name, full_name, country, country_code, tax_number, address, phone, email,
default_currency, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompany(row rowScanner) (Company, error) {
	var c Company
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.FullName, &c.Country, &c.CountryCode, &c.TaxNumber, &c.Address, &c.Phone,
		&c.Email, &c.DefaultCurrency, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Company{}, fmt.Errorf("%w: company", httpx.ErrNotFound)
	}
	return c, err
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Company, error) {
	var (
		where []string
		args  []any
	)
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%[1]d OR code ILIKE $%[1]d OR tax_number ILIKE $%[1]d)", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		where = append(where, fmt.Sprintf("is_active = $%d", len(args)))
	}
	query := `SELECT ` + companyColumns + ` FROM companies`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Window.Limit, filter.Window.Skip)
	query += fmt.Sprintf(` ORDER BY code LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Company, error) {
	return scanCompany(r.pool.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id))
}

func (r *repository) ListWarehouses(ctx context.Context, companyID int64) ([]warehouses.Warehouse, error) {
	return r.warehouses.ListByCompany(ctx, companyID)
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx, warehouses: warehouses.NewTxRepository(tx)})
	})
}

type txRepository struct {
	q          db.Querier
	warehouses warehouses.TxRepository
}

func (r *txRepository) Warehouses() warehouses.TxRepository { return r.warehouses }

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Company, error) {
	return scanCompany(r.q.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) Insert(ctx context.Context, c Company) (Company, error) {
	created, err := scanCompany(r.q.QueryRow(ctx, `INSERT INTO companies (code, name, full_name, country, country_code, tax_number,
  address, phone, email, default_currency, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING `+companyColumns, c.Code, c.Name, c.FullName, c.Country, c.CountryCode, c.TaxNumber, c.Address, c.Phone, c.Email,
		c.DefaultCurrency, c.IsActive))
	if db.IsUniqueViolation(err, "companies_code_key") {
		return Company{}, fmt.Errorf("%w: company code %s", httpx.ErrDuplicate, c.Code)
	}
	return created, err
}

func (r *txRepository) Update(ctx context.Context, c Company) error {
	tag, err := r.q.Exec(ctx, `UPDATE companies SET code = $2, name = $3, full_name = $4, country = $5, country_code = $6,
  tax_number = $7, address = $8, phone = $9, email = $10, default_currency = $11, is_active = $12, updated_at = NOW()
WHERE id = $1`, c.ID, c.Code, c.Name, c.FullName, c.Country, c.CountryCode, c.TaxNumber, c.Address, c.Phone, c.Email,
		c.DefaultCurrency, c.IsActive)
	if db.IsUniqueViolation(err, "companies_code_key") {
		return fmt.Errorf("%w: company code %s", httpx.ErrDuplicate, c.Code)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: company %d", httpx.ErrNotFound, c.ID)
	}
	return nil
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM companies WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: company %d still has accounts, transactions or users", httpx.ErrValidation, id)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: company %d", httpx.ErrNotFound, id)
	}
	return nil
}
