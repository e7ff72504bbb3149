package products

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Repository reads products.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Product, error)
	Get(ctx context.Context, id int64) (Product, error)
	GetByCode(ctx context.Context, modelCode string) (Product, error)
	Costs(ctx context.Context, productID int64) ([]Cost, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes product and cost writes of one unit of work.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Product, error)
	Insert(ctx context.Context, p Product) (Product, error)
	Update(ctx context.Context, p Product) error
	Delete(ctx context.Context, id int64) error

	GetCostForUpdate(ctx context.Context, id int64) (Cost, error)
	InsertCost(ctx context.Context, c Cost) (Cost, error)
	UpdateCost(ctx context.Context, c Cost) error
	DeleteCost(ctx context.Context, id int64) error
	DeleteCosts(ctx context.Context, productID int64) (int64, error)
	ClearDefaultCost(ctx context.Context, productID, keepID int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const productColumns = `id, model_code, name, category_id, default_sale_price, default_currency, track_stock, current_stock,
description, barcode, unit, is_active, created_at, updated_at`

const costColumns = `id, product_id, supplier_id, cost, currency, valid_from, valid_until, is_default, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.ModelCode, &p.Name, &p.CategoryID, &p.DefaultSalePrice, &p.DefaultCurrency, &p.TrackStock,
		&p.CurrentStock, &p.Description, &p.Barcode, &p.Unit, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: product", httpx.ErrNotFound)
	}
	return p, err
}

func scanCost(row rowScanner) (Cost, error) {
	var c Cost
	err := row.Scan(&c.ID, &c.ProductID, &c.SupplierID, &c.Cost, &c.Currency, &c.ValidFrom, &c.ValidUntil, &c.IsDefault,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cost{}, fmt.Errorf("%w: product cost", httpx.ErrNotFound)
	}
	return c, err
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Product, error) {
	var (
		where []string
		args  []any
	)
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%[1]d OR model_code ILIKE $%[1]d OR barcode ILIKE $%[1]d)", len(args)))
	}
	if filter.CategoryID > 0 {
		args = append(args, filter.CategoryID)
		where = append(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	query := `SELECT ` + productColumns + ` FROM products`
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
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *repository) GetByCode(ctx context.Context, modelCode string) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE model_code = $1`, modelCode))
}

func (r *repository) Costs(ctx context.Context, productID int64) ([]Cost, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+costColumns+` FROM product_costs WHERE product_id = $1
ORDER BY is_default DESC, valid_from DESC NULLS LAST, id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Cost{}
	for rows.Next() {
		c, err := scanCost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx})
	})
}

type txRepository struct {
	q db.Querier
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) Insert(ctx context.Context, p Product) (Product, error) {
	created, err := scanProduct(r.q.QueryRow(ctx, `INSERT INTO products (model_code, name, category_id, default_sale_price,
  default_currency, track_stock, current_stock, description, barcode, unit, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING `+productColumns, p.ModelCode, p.Name, p.CategoryID, p.DefaultSalePrice, p.DefaultCurrency, p.TrackStock,
		p.CurrentStock, p.Description, p.Barcode, p.Unit, p.IsActive))
	if err != nil {
		return Product{}, mapProductErr(err, p)
	}
	created.Costs = []Cost{}
	return created, nil
}

func (r *txRepository) Update(ctx context.Context, p Product) error {
	_, err := r.q.Exec(ctx, `UPDATE products SET model_code = $2, name = $3, category_id = $4, default_sale_price = $5,
  default_currency = $6, track_stock = $7, current_stock = $8, description = $9, barcode = $10, unit = $11, is_active = $12,
  updated_at = NOW()
WHERE id = $1`, p.ID, p.ModelCode, p.Name, p.CategoryID, p.DefaultSalePrice, p.DefaultCurrency, p.TrackStock, p.CurrentStock,
		p.Description, p.Barcode, p.Unit, p.IsActive)
	return mapProductErr(err, p)
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: product %d is used by transactions", httpx.ErrValidation, id)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d", httpx.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) GetCostForUpdate(ctx context.Context, id int64) (Cost, error) {
	return scanCost(r.q.QueryRow(ctx, `SELECT `+costColumns+` FROM product_costs WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) InsertCost(ctx context.Context, c Cost) (Cost, error) {
	created, err := scanCost(r.q.QueryRow(ctx, `INSERT INTO product_costs (product_id, supplier_id, cost, currency, valid_from,
  valid_until, is_default, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+costColumns, c.ProductID, c.SupplierID, c.Cost, c.Currency, c.ValidFrom, c.ValidUntil, c.IsDefault, c.IsActive))
	if err != nil {
		return Cost{}, mapCostErr(err, c)
	}
	return created, nil
}

func (r *txRepository) UpdateCost(ctx context.Context, c Cost) error {
	_, err := r.q.Exec(ctx, `UPDATE product_costs SET supplier_id = $2, cost = $3, currency = $4, valid_from = $5,
  valid_until = $6, is_default = $7, is_active = $8, updated_at = NOW()
WHERE id = $1`, c.ID, c.SupplierID, c.Cost, c.Currency, c.ValidFrom, c.ValidUntil, c.IsDefault, c.IsActive)
	return mapCostErr(err, c)
}

func (r *txRepository) DeleteCost(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM product_costs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product cost %d", httpx.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) DeleteCosts(ctx context.Context, productID int64) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM product_costs WHERE product_id = $1`, productID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) ClearDefaultCost(ctx context.Context, productID, keepID int64) error {
	_, err := r.q.Exec(ctx, `UPDATE product_costs SET is_default = FALSE, updated_at = NOW()
WHERE product_id = $1 AND id <> $2 AND is_default`, productID, keepID)
	return err
}

func mapProductErr(err error, p Product) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, "products_model_code_key"):
		return fmt.Errorf("%w: model code %s", httpx.ErrDuplicate, p.ModelCode)
	case db.ConstraintName(err) == "products_category_id_fkey":
		return fmt.Errorf("%w: category", httpx.ErrNotFound)
	}
	return err
}

func mapCostErr(err error, c Cost) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, "product_costs_single_default"):
		return fmt.Errorf("%w: product %d already has a default cost", httpx.ErrConflict, c.ProductID)
	case db.ConstraintName(err) == "product_costs_supplier_id_fkey":
		return fmt.Errorf("%w: supplier", httpx.ErrNotFound)
	case db.ConstraintName(err) == "product_costs_product_id_fkey":
		return fmt.Errorf("%w: product %d", httpx.ErrNotFound, c.ProductID)
	}
	return err
}
