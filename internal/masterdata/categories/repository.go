package categories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Repository reads categories.
type Repository interface {
	List(ctx context.Context) ([]Category, error)
	Get(ctx context.Context, id int64) (Category, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes category writes of one unit of work.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Category, error)
	Insert(ctx context.Context, c Category) (Category, error)
	Update(ctx context.Context, c Category) error
	Delete(ctx context.Context, id int64) error
	CountChildren(ctx context.Context, id int64) (int64, error)
	CountProducts(ctx context.Context, id int64) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const categoryColumns = `id, code, name, parent_id, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.ParentID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, fmt.Errorf("%w: category", httpx.ErrNotFound)
	}
	return c, err
}

func (r *repository) List(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+categoryColumns+` FROM product_categories ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Category, error) {
	return scanCategory(r.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM product_categories WHERE id = $1`, id))
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx})
	})
}

type txRepository struct {
	q db.Querier
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Category, error) {
	return scanCategory(r.q.QueryRow(ctx, `SELECT `+categoryColumns+` FROM product_categories WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) Insert(ctx context.Context, c Category) (Category, error) {
	created, err := scanCategory(r.q.QueryRow(ctx, `INSERT INTO product_categories (code, name, parent_id, is_active)
VALUES ($1, $2, $3, $4)
RETURNING `+categoryColumns, c.Code, c.Name, c.ParentID, c.IsActive))
	if err != nil {
		return Category{}, mapErr(err, c)
	}
	return created, nil
}

func (r *txRepository) Update(ctx context.Context, c Category) error {
	_, err := r.q.Exec(ctx, `UPDATE product_categories SET code = $2, name = $3, parent_id = $4, is_active = $5, updated_at = NOW()
WHERE id = $1`, c.ID, c.Code, c.Name, c.ParentID, c.IsActive)
	return mapErr(err, c)
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM product_categories WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: category %d is still in use", httpx.ErrValidation, id)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: category %d", httpx.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) CountChildren(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM product_categories WHERE parent_id = $1`, id).Scan(&n)
	return n, err
}

func (r *txRepository) CountProducts(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE category_id = $1`, id).Scan(&n)
	return n, err
}

func mapErr(err error, c Category) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, "product_categories_code_key"):
		return fmt.Errorf("%w: category code %s", httpx.ErrDuplicate, c.Code)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: parent category", httpx.ErrNotFound)
	}
	return err
}
