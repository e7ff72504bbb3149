package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads audit_logs.
type Repository interface {
	Window(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error)
	All(ctx context.Context, filters Filters) ([]Entry, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the pgx backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const entryColumns = `id, user_id, username, ip_address, action, module, record_type, record_id, old_values, new_values,
description, created_at`

func buildWhere(filters Filters) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filters.Module != "" {
		add("module = $%d", filters.Module)
	}
	if filters.Action != "" {
		add("action = $%d", filters.Action)
	}
	if filters.UserID > 0 {
		add("user_id = $%d", filters.UserID)
	}
	if filters.From != nil {
		add("created_at >= $%d", *filters.From)
	}
	if filters.To != nil {
		add("created_at < $%d", filters.To.AddDate(0, 0, 1))
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (r *pgRepository) Window(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error) {
	where, args := buildWhere(filters)
	args = append(args, limit, offset)
	query := `SELECT ` + entryColumns + ` FROM audit_logs` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	return r.query(ctx, query, args...)
}

func (r *pgRepository) All(ctx context.Context, filters Filters) ([]Entry, error) {
	where, args := buildWhere(filters)
	return r.query(ctx, `SELECT `+entryColumns+` FROM audit_logs`+where+` ORDER BY created_at DESC, id DESC`, args...)
}

func (r *pgRepository) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var before, after []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Username, &e.IPAddress, &e.Action, &e.Module, &e.RecordType,
			&e.RecordID, &before, &after, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OldValues, e.NewValues = before, after
		out = append(out, e)
	}
	return out, rows.Err()
}
