package users

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

// Repository reads users.
type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]User, error)
	Get(ctx context.Context, id int64) (User, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes user writes of one unit of work.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (User, error)
	Insert(ctx context.Context, u User) (User, error)
	Update(ctx context.Context, u User) error
	Delete(ctx context.Context, id int64) error
	// SetRole replaces the roles of a user with roleID.
	SetRole(ctx context.Context, userID, roleID int64) error
	DeleteRoles(ctx context.Context, userID int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// role_id reports the lowest assigned role; the API assigns one role per user.
const userSelect = `SELECT u.id, u.email, u.username, u.full_name, u.company_id,
  (SELECT MIN(ur.role_id) FROM user_roles ur WHERE ur.user_id = u.id),
  u.is_active, u.is_superuser, u.password_hash, u.created_at, u.updated_at
FROM users u`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FullName, &u.CompanyID, &u.RoleID, &u.IsActive, &u.IsSuperUser,
		&u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("%w: user", httpx.ErrNotFound)
	}
	return u, err
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]User, error) {
	var (
		where []string
		args  []any
	)
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		where = append(where, fmt.Sprintf("(u.username ILIKE $%[1]d OR u.email ILIKE $%[1]d OR u.full_name ILIKE $%[1]d)", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		where = append(where, fmt.Sprintf("u.is_active = $%d", len(args)))
	}
	query := userSelect
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Window.Limit, filter.Window.Skip)
	query += fmt.Sprintf(` ORDER BY u.username LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE u.id = $1`, id))
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx})
	})
}

type txRepository struct {
	q db.Querier
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (User, error) {
	return scanUser(r.q.QueryRow(ctx, userSelect+` WHERE u.id = $1 FOR UPDATE OF u`, id))
}

func (r *txRepository) Insert(ctx context.Context, u User) (User, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO users (email, username, full_name, password_hash, company_id, is_active, is_superuser)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, u.Email, u.Username, u.FullName, u.PasswordHash, u.CompanyID, u.IsActive, u.IsSuperUser).Scan(&id)
	if err != nil {
		return User{}, mapErr(err, u)
	}
	return scanUser(r.q.QueryRow(ctx, userSelect+` WHERE u.id = $1`, id))
}

func (r *txRepository) Update(ctx context.Context, u User) error {
	_, err := r.q.Exec(ctx, `UPDATE users SET email = $2, username = $3, full_name = $4, password_hash = $5, company_id = $6,
  is_active = $7, is_superuser = $8, updated_at = NOW()
WHERE id = $1`, u.ID, u.Email, u.Username, u.FullName, u.PasswordHash, u.CompanyID, u.IsActive, u.IsSuperUser)
	return mapErr(err, u)
}

func (r *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: user %d is still referenced", httpx.ErrValidation, id)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %d", httpx.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) SetRole(ctx context.Context, userID, roleID int64) error {
	if err := r.DeleteRoles(ctx, userID); err != nil {
		return err
	}
	_, err := r.q.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, roleID)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: role %d", httpx.ErrNotFound, roleID)
	}
	return err
}

func (r *txRepository) DeleteRoles(ctx context.Context, userID int64) error {
	_, err := r.q.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	return err
}

func mapErr(err error, u User) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, "users_email_key"):
		return fmt.Errorf("%w: email %s", httpx.ErrDuplicate, u.Email)
	case db.IsUniqueViolation(err, "users_username_key"):
		return fmt.Errorf("%w: username %s", httpx.ErrDuplicate, u.Username)
	case db.ConstraintName(err) == "users_company_id_fkey":
		return fmt.Errorf("%w: company", httpx.ErrNotFound)
	}
	return err
}
