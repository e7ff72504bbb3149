package warehouses

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Repository reads warehouses.
type Repository interface {
	ListByCompany(ctx context.Context, companyID int64) ([]Warehouse, error)
	Get(ctx context.Context, id int64) (Warehouse, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes warehouse writes of one unit of work.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Warehouse, error)
	ListForUpdate(ctx context.Context, companyID int64) ([]Warehouse, error)
	Insert(ctx context.Context, w Warehouse) (Warehouse, error)
	Update(ctx context.Context, w Warehouse) error
	ClearDefault(ctx context.Context, companyID, keepID int64) error
	Delete(ctx context.Context, id int64) error

	GetSubForUpdate(ctx context.Context, id int64) (SubWarehouse, error)
	InsertSub(ctx context.Context, s SubWarehouse) (SubWarehouse, error)
	UpdateSub(ctx context.Context, s SubWarehouse) error
	DeleteSub(ctx context.Context, id int64) error
	DeleteSubs(ctx context.Context, warehouseID int64) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const warehouseColumns = `id, company_id, code, name, description, is_default, is_active, created_at, updated_at`

const subColumns = `id, warehouse_id, code, name, description, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWarehouse(row rowScanner) (Warehouse, error) {
	var w Warehouse
	err := row.Scan(&w.ID, &w.CompanyID, &w.Code, &w.Name, &w.Description, &w.IsDefault, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, fmt.Errorf("%w: warehouse", httpx.ErrNotFound)
	}
	return w, err
}

func scanSub(row rowScanner) (SubWarehouse, error) {
	var s SubWarehouse
	err := row.Scan(&s.ID, &s.WarehouseID, &s.Code, &s.Name, &s.Description, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SubWarehouse{}, fmt.Errorf("%w: sub-warehouse", httpx.ErrNotFound)
	}
	return s, err
}

// withSubs loads the warehouses of one company and attaches their sub-warehouses.
func withSubs(ctx context.Context, q db.Querier, companyID int64, lock string) ([]Warehouse, error) {
	rows, err := q.Query(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE company_id = $1 ORDER BY is_default DESC, code`+lock, companyID)
	if err != nil {
		return nil, err
	}
	var out []Warehouse
	index := map[int64]int{}
	for rows.Next() {
		w, err := scanWarehouse(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		w.SubWarehouses = []SubWarehouse{}
		index[w.ID] = len(out)
		out = append(out, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}
	subs, err := q.Query(ctx, `SELECT `+subColumns+` FROM sub_warehouses
WHERE warehouse_id IN (SELECT id FROM warehouses WHERE company_id = $1) ORDER BY code`+lock, companyID)
	if err != nil {
		return nil, err
	}
	defer subs.Close()
	for subs.Next() {
		s, err := scanSub(subs)
		if err != nil {
			return nil, err
		}
		if i, ok := index[s.WarehouseID]; ok {
			out[i].SubWarehouses = append(out[i].SubWarehouses, s)
		}
	}
	return out, subs.Err()
}

func loadSubs(ctx context.Context, q db.Querier, warehouseID int64, lock string) ([]SubWarehouse, error) {
	rows, err := q.Query(ctx, `SELECT `+subColumns+` FROM sub_warehouses WHERE warehouse_id = $1 ORDER BY code`+lock, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SubWarehouse{}
	for rows.Next() {
		s, err := scanSub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repository) ListByCompany(ctx context.Context, companyID int64) ([]Warehouse, error) {
	return withSubs(ctx, r.pool, companyID, "")
}

func (r *repository) Get(ctx context.Context, id int64) (Warehouse, error) {
	w, err := scanWarehouse(r.pool.QueryRow(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id = $1`, id))
	if err != nil {
		return Warehouse{}, err
	}
	w.SubWarehouses, err = loadSubs(ctx, r.pool, id, "")
	return w, err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	q db.Querier
}

// NewTxRepository binds warehouse writes to q so a company delete can remove its
// warehouses inside its own transaction.
func NewTxRepository(q db.Querier) TxRepository {
	return &txRepository{q: q}
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Warehouse, error) {
	w, err := scanWarehouse(r.q.QueryRow(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Warehouse{}, err
	}
	w.SubWarehouses, err = loadSubs(ctx, r.q, id, " FOR UPDATE")
	return w, err
}

func (r *txRepository) ListForUpdate(ctx context.Context, companyID int64) ([]Warehouse, error) {
	return withSubs(ctx, r.q, companyID, " FOR UPDATE")
}

func (r *txRepository) Insert(ctx context.Context, w Warehouse) (Warehouse, error) {
	created, err := scanWarehouse(r.q.QueryRow(ctx, `INSERT INTO warehouses (company_id, code, name, description, is_default, is_active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+warehouseColumns, w.CompanyID, w.Code, w.Name, w.Description, w.IsDefault, w.IsActive))
	if err != nil {
		return Warehouse{}, mapWarehouseErr(err, w)
	}
	created.SubWarehouses = []SubWarehouse{}
	return created, nil
}

func (r *txRepository) Update(ctx context.Context, w Warehouse) error {
	_, err := r.q.Exec(ctx, `UPDATE warehouses SET code = $2, name = $3, description = $4, is_default = $5, is_active = $6,
  updated_at = NOW()
WHERE id = $1`, w.ID, w.Code, w.Name, w.Description, w.IsDefault, w.IsActive)
	return mapWarehouseErr(err, w)
}

func (r *txRepository) ClearDefault(ctx context.Context, companyID, keepID int64) error {
	_, err := r.q.Exec(ctx, `UPDATE warehouses SET is_default = FALSE, updated_at = NOW()
WHERE company_id = $1 AND id <> $2 AND is_default`, companyID, keepID)
	return err
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM warehouses WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: warehouse %d is still referenced", httpx.ErrValidation, id)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: warehouse %d", httpx.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) GetSubForUpdate(ctx context.Context, id int64) (SubWarehouse, error) {
	return scanSub(r.q.QueryRow(ctx, `SELECT `+subColumns+` FROM sub_warehouses WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) InsertSub(ctx context.Context, s SubWarehouse) (SubWarehouse, error) {
	created, err := scanSub(r.q.QueryRow(ctx, `INSERT INTO sub_warehouses (warehouse_id, code, name, description, is_active)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+subColumns, s.WarehouseID, s.Code, s.Name, s.Description, s.IsActive))
	if err != nil {
		return SubWarehouse{}, mapSubErr(err, s)
	}
	return created, nil
}

func (r *txRepository) UpdateSub(ctx context.Context, s SubWarehouse) error {
	_, err := r.q.Exec(ctx, `UPDATE sub_warehouses SET code = $2, name = $3, description = $4, is_active = $5, updated_at = NOW()
WHERE id = $1`, s.ID, s.Code, s.Name, s.Description, s.IsActive)
	return mapSubErr(err, s)
}

func (r *txRepository) DeleteSub(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM sub_warehouses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sub-warehouse %d", httpx.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) DeleteSubs(ctx context.Context, warehouseID int64) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM sub_warehouses WHERE warehouse_id = $1`, warehouseID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func mapWarehouseErr(err error, w Warehouse) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, "warehouses_company_code_key"):
		return fmt.Errorf("%w: warehouse code %s", httpx.ErrDuplicate, w.Code)
	case db.IsUniqueViolation(err, "warehouses_single_default"):
		return fmt.Errorf("%w: company %d already has a default warehouse", httpx.ErrConflict, w.CompanyID)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: company %d", httpx.ErrNotFound, w.CompanyID)
	}
	return err
}

func mapSubErr(err error, s SubWarehouse) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, "sub_warehouses_warehouse_code_key"):
		return fmt.Errorf("%w: sub-warehouse code %s", httpx.ErrDuplicate, s.Code)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: warehouse %d", httpx.ErrNotFound, s.WarehouseID)
	}
	return err
}
