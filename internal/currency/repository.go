package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Repository reads the catalogue and rate table.
type Repository interface {
	ListCurrencies(ctx context.Context, activeOnly bool) ([]Currency, error)
	GetCurrency(ctx context.Context, id int64) (Currency, error)
	GetCurrencyByCode(ctx context.Context, code string) (Currency, error)
	CurrentRate(ctx context.Context, from, to string) (ExchangeRate, error)
	RateOnDate(ctx context.Context, from, to string, date time.Time) (ExchangeRate, error)
	LatestRate(ctx context.Context, from, to string) (ExchangeRate, error)
	ListRates(ctx context.Context, filter RateFilter) ([]ExchangeRate, error)
	RateDates(ctx context.Context, source Source, start, end time.Time) ([]time.Time, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes writes that must run inside one transaction.
type TxRepository interface {
	GetCurrencyForUpdate(ctx context.Context, id int64) (Currency, error)
	InsertCurrency(ctx context.Context, c Currency) (Currency, error)
	UpdateCurrency(ctx context.Context, c Currency) error
	DeleteCurrency(ctx context.Context, id int64) error
	ClearDefaultCurrency(ctx context.Context, exceptID int64) error
	ClearCurrent(ctx context.Context, scope Scope) (int64, error)
	UpsertRate(ctx context.Context, in RateInput, current bool) (ExchangeRate, error)
	InsertRateIfAbsent(ctx context.Context, in RateInput) (bool, error)
	MarkLatestCurrent(ctx context.Context, source Source) (int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const currencyColumns = `id, code, name, symbol, decimal_places, is_crypto, is_default, is_active, created_at`

const rateColumns = `id, from_currency, to_currency, buying_rate, selling_rate, banknote_buying, banknote_selling, rate, rate_date, source, is_current, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCurrency(row rowScanner) (Currency, error) {
	var c Currency
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Symbol, &c.DecimalPlaces, &c.IsCrypto, &c.IsDefault, &c.IsActive, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Currency{}, fmt.Errorf("%w: currency", httpx.ErrNotFound)
	}
	return c, err
}

func scanRate(row rowScanner) (ExchangeRate, error) {
	var r ExchangeRate
	var source string
	err := row.Scan(&r.ID, &r.FromCurrency, &r.ToCurrency, &r.BuyingRate, &r.SellingRate, &r.BanknoteBuying, &r.BanknoteSelling,
		&r.Rate, &r.RateDate, &source, &r.IsCurrent, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ExchangeRate{}, fmt.Errorf("%w: exchange rate", httpx.ErrNotFound)
	}
	r.Source = Source(source)
	return r, err
}

func (r *repository) ListCurrencies(ctx context.Context, activeOnly bool) ([]Currency, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+currencyColumns+` FROM currencies
WHERE ($1 = FALSE OR is_active) ORDER BY is_default DESC, code`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Currency
	for rows.Next() {
		c, err := scanCurrency(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) GetCurrency(ctx context.Context, id int64) (Currency, error) {
	return scanCurrency(r.pool.QueryRow(ctx, `SELECT `+currencyColumns+` FROM currencies WHERE id = $1`, id))
}

func (r *repository) GetCurrencyByCode(ctx context.Context, code string) (Currency, error) {
	return scanCurrency(r.pool.QueryRow(ctx, `SELECT `+currencyColumns+` FROM currencies WHERE code = $1`, code))
}

func (r *repository) CurrentRate(ctx context.Context, from, to string) (ExchangeRate, error) {
	return scanRate(r.pool.QueryRow(ctx, `SELECT `+rateColumns+` FROM exchange_rates
WHERE from_currency = $1 AND to_currency = $2 AND is_current
ORDER BY rate_date DESC, id DESC LIMIT 1`, from, to))
}

func (r *repository) RateOnDate(ctx context.Context, from, to string, date time.Time) (ExchangeRate, error) {
	return scanRate(r.pool.QueryRow(ctx, `SELECT `+rateColumns+` FROM exchange_rates
WHERE from_currency = $1 AND to_currency = $2 AND rate_date <= $3
ORDER BY rate_date DESC, is_current DESC, id DESC LIMIT 1`, from, to, date))
}

func (r *repository) LatestRate(ctx context.Context, from, to string) (ExchangeRate, error) {
	return scanRate(r.pool.QueryRow(ctx, `SELECT `+rateColumns+` FROM exchange_rates
WHERE from_currency = $1 AND to_currency = $2
ORDER BY is_current DESC, rate_date DESC, id DESC LIMIT 1`, from, to))
}

func (r *repository) ListRates(ctx context.Context, filter RateFilter) ([]ExchangeRate, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.From != "" {
		add("from_currency = $%d", filter.From)
	}
	if filter.To != "" {
		add("to_currency = $%d", filter.To)
	}
	if filter.Source != "" {
		add("source = $%d", string(filter.Source))
	}
	if filter.DateFrom != nil {
		add("rate_date >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		add("rate_date <= $%d", *filter.DateTo)
	}
	query := `SELECT ` + rateColumns + ` FROM exchange_rates`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Window.Limit, filter.Window.Skip)
	query += fmt.Sprintf(` ORDER BY rate_date DESC, from_currency, to_currency LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExchangeRate
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rate)
	}
	return out, rows.Err()
}

func (r *repository) RateDates(ctx context.Context, source Source, start, end time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT rate_date FROM exchange_rates
WHERE source = $1 AND rate_date BETWEEN $2 AND $3 ORDER BY rate_date`, string(source), start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetCurrencyForUpdate(ctx context.Context, id int64) (Currency, error) {
	return scanCurrency(r.tx.QueryRow(ctx, `SELECT `+currencyColumns+` FROM currencies WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepository) InsertCurrency(ctx context.Context, c Currency) (Currency, error) {
	created, err := scanCurrency(r.tx.QueryRow(ctx, `INSERT INTO currencies (code, name, symbol, decimal_places, is_crypto, is_default, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+currencyColumns,
		c.Code, c.Name, c.Symbol, c.DecimalPlaces, c.IsCrypto, c.IsDefault, c.IsActive))
	if db.IsUniqueViolation(err, "") {
		return Currency{}, fmt.Errorf("%w: currency %s already exists", httpx.ErrDuplicate, c.Code)
	}
	return created, err
}

func (r *txRepository) UpdateCurrency(ctx context.Context, c Currency) error {
	_, err := r.tx.Exec(ctx, `UPDATE currencies SET name = $2, symbol = $3, decimal_places = $4, is_active = $5, is_default = $6
WHERE id = $1`, c.ID, c.Name, c.Symbol, c.DecimalPlaces, c.IsActive, c.IsDefault)
	return err
}

func (r *txRepository) DeleteCurrency(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM currencies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: currency %d", httpx.ErrNotFound, id)
	}
	return nil
}

func (r *txRepository) ClearDefaultCurrency(ctx context.Context, exceptID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE currencies SET is_default = FALSE WHERE is_default AND id <> $1`, exceptID)
	return err
}

func (r *txRepository) ClearCurrent(ctx context.Context, scope Scope) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE exchange_rates SET is_current = FALSE
WHERE is_current
  AND ($1 = '' OR source = $1)
  AND ($2 = '' OR from_currency = $2)
  AND ($3 = '' OR to_currency = $3)`, string(scope.Source), scope.From, scope.To)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) UpsertRate(ctx context.Context, in RateInput, current bool) (ExchangeRate, error) {
	return scanRate(r.tx.QueryRow(ctx, `INSERT INTO exchange_rates
  (from_currency, to_currency, buying_rate, selling_rate, banknote_buying, banknote_selling, rate, rate_date, source, is_current)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (from_currency, to_currency, rate_date, source) DO UPDATE SET
  buying_rate = EXCLUDED.buying_rate,
  selling_rate = EXCLUDED.selling_rate,
  banknote_buying = EXCLUDED.banknote_buying,
  banknote_selling = EXCLUDED.banknote_selling,
  rate = EXCLUDED.rate,
  is_current = EXCLUDED.is_current
RETURNING `+rateColumns,
		in.From, in.To, in.Buying, in.Selling, in.BanknoteBuying, in.BanknoteSelling, in.Rate, in.Date, string(in.Source), current))
}

func (r *txRepository) InsertRateIfAbsent(ctx context.Context, in RateInput) (bool, error) {
	tag, err := r.tx.Exec(ctx, `INSERT INTO exchange_rates
  (from_currency, to_currency, buying_rate, selling_rate, banknote_buying, banknote_selling, rate, rate_date, source, is_current)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,FALSE)
ON CONFLICT (from_currency, to_currency, rate_date, source) DO NOTHING`,
		in.From, in.To, in.Buying, in.Selling, in.BanknoteBuying, in.BanknoteSelling, in.Rate, in.Date, string(in.Source))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkLatestCurrent clears then re-marks in two statements so the partial unique
// index on current rows never sees two current rows for a pair.
func (r *txRepository) MarkLatestCurrent(ctx context.Context, source Source) (int64, error) {
	if _, err := r.tx.Exec(ctx, `UPDATE exchange_rates SET is_current = FALSE WHERE source = $1 AND is_current`, string(source)); err != nil {
		return 0, err
	}
	tag, err := r.tx.Exec(ctx, `UPDATE exchange_rates er SET is_current = TRUE
FROM (
  SELECT DISTINCT ON (from_currency, to_currency) id
  FROM exchange_rates
  WHERE source = $1
  ORDER BY from_currency, to_currency, rate_date DESC, id DESC
) latest
WHERE er.id = latest.id`, string(source))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
