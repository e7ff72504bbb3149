package currency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements the rate store and the currency catalogue.
type Service struct {
	repo   Repository
	cache  *Cache
	audit  AuditPort
	logger *slog.Logger
	base   string
	group  singleflight.Group
	now    func() time.Time
}

// NewService wires the rate store. base is the currency cross rates are mediated through.
func NewService(repo Repository, cache *Cache, audit AuditPort, logger *slog.Logger, base string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	base = NormalizeCode(base)
	if base == "" {
		base = "TRY"
	}
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger, base: base, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// BaseCurrency returns the base currency code.
func (s *Service) BaseCurrency() string {
	return s.base
}

// ListCurrencies returns the catalogue.
func (s *Service) ListCurrencies(ctx context.Context, activeOnly bool) ([]Currency, error) {
	return s.repo.ListCurrencies(ctx, activeOnly)
}

// CreateCurrency adds a catalogue entry. Fiat codes must be ISO 4217 codes.
func (s *Service) CreateCurrency(ctx context.Context, in CreateCurrencyInput) (Currency, error) {
	code := NormalizeCode(in.Code)
	if code == "" {
		return Currency{}, fmt.Errorf("%w: code required", httpx.ErrValidation)
	}
	places, isISO := ISODecimalPlaces(code)
	if !in.IsCrypto && !isISO {
		return Currency{}, fmt.Errorf("%w: %s is not an ISO 4217 currency", httpx.ErrValidation, code)
	}
	switch {
	case in.DecimalPlaces != nil:
		places = *in.DecimalPlaces
	case in.IsCrypto:
		places = cryptoDecimalPlaces
	case !isISO:
		places = defaultDecimalPlaces
	}
	c := Currency{
		Code:          code,
		Name:          in.Name,
		Symbol:        in.Symbol,
		DecimalPlaces: places,
		IsCrypto:      in.IsCrypto,
		IsDefault:     in.IsDefault,
		IsActive:      in.IsActive == nil || *in.IsActive,
	}
	var created Currency
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			created, err = tx.InsertCurrency(ctx, c)
			if err != nil {
				return err
			}
			if created.IsDefault {
				return tx.ClearDefaultCurrency(ctx, created.ID)
			}
			return nil
		})
	})
	if err != nil {
		return Currency{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "settings", "currency", strconv.FormatInt(created.ID, 10))
	entry.After = currencySnapshot(created)
	entry.Description = "currency " + created.Code + " created"
	s.record(ctx, entry)
	return created, nil
}

// UpdateCurrency applies a typed patch. The code itself is immutable.
func (s *Service) UpdateCurrency(ctx context.Context, id int64, patch CurrencyPatch) (Currency, error) {
	var before, after Currency
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetCurrencyForUpdate(ctx, id)
			if err != nil {
				return err
			}
			before = current
			patch.Apply(&current)
			if err := tx.UpdateCurrency(ctx, current); err != nil {
				return err
			}
			if current.IsDefault && !before.IsDefault {
				if err := tx.ClearDefaultCurrency(ctx, current.ID); err != nil {
					return err
				}
			}
			after = current
			return nil
		})
	})
	if err != nil {
		return Currency{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionEdit, "settings", "currency", strconv.FormatInt(id, 10))
	entry.Before = currencySnapshot(before)
	entry.After = currencySnapshot(after)
	s.record(ctx, entry)
	return after, nil
}

// DeleteCurrency removes a catalogue entry. The default currency cannot be removed.
func (s *Service) DeleteCurrency(ctx context.Context, id int64) error {
	var removed Currency
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetCurrencyForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if current.IsDefault {
				return fmt.Errorf("%w: default currency cannot be deleted", httpx.ErrValidation)
			}
			removed = current
			return tx.DeleteCurrency(ctx, id)
		})
	})
	if err != nil {
		return err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionDelete, "settings", "currency", strconv.FormatInt(id, 10))
	entry.Before = currencySnapshot(removed)
	s.record(ctx, entry)
	return nil
}

// DecimalPlaces returns the display precision of code: the catalogue value, then
// the ISO 4217 minor units, then two.
func (s *Service) DecimalPlaces(ctx context.Context, code string) int32 {
	code = NormalizeCode(code)
	c, err := s.repo.GetCurrencyByCode(ctx, code)
	if err == nil {
		return c.DecimalPlaces
	}
	if !errors.Is(err, httpx.ErrNotFound) {
		s.logger.Warn("currency lookup failed", slog.String("code", code), slog.Any("error", err))
	}
	if places, ok := ISODecimalPlaces(code); ok {
		return places
	}
	return defaultDecimalPlaces
}

// GetCurrentRate returns the current row for a pair.
func (s *Service) GetCurrentRate(ctx context.Context, from, to string) (ExchangeRate, error) {
	from, to = NormalizeCode(from), NormalizeCode(to)
	if from == to {
		return s.identityRow(from), nil
	}
	rate, err := s.repo.CurrentRate(ctx, from, to)
	if err != nil {
		return ExchangeRate{}, wrapPair(err, from, to)
	}
	return rate, nil
}

// GetRateOnDate returns the latest row for a pair dated on or before date.
func (s *Service) GetRateOnDate(ctx context.Context, from, to string, date time.Time) (ExchangeRate, error) {
	from, to = NormalizeCode(from), NormalizeCode(to)
	if from == to {
		row := s.identityRow(from)
		row.RateDate = truncateDay(date)
		return row, nil
	}
	rate, err := s.repo.RateOnDate(ctx, from, to, truncateDay(date))
	if err != nil {
		return ExchangeRate{}, wrapPair(err, from, to)
	}
	return rate, nil
}

// LatestRate returns the current row for a pair, or the newest historical one.
func (s *Service) LatestRate(ctx context.Context, from, to string) (ExchangeRate, error) {
	from, to = NormalizeCode(from), NormalizeCode(to)
	rate, err := s.repo.LatestRate(ctx, from, to)
	if err != nil {
		return ExchangeRate{}, wrapPair(err, from, to)
	}
	return rate, nil
}

// ListRates lists stored snapshots.
func (s *Service) ListRates(ctx context.Context, filter RateFilter) ([]ExchangeRate, error) {
	filter.From = NormalizeCode(filter.From)
	filter.To = NormalizeCode(filter.To)
	if filter.Source != "" && !filter.Source.Valid() {
		return nil, fmt.Errorf("%w: unknown source %q", httpx.ErrValidation, filter.Source)
	}
	return s.repo.ListRates(ctx, filter)
}

// SetCurrentRate stores in as the single current row of its (source, pair). The
// previous current row is cleared in the same transaction.
func (s *Service) SetCurrentRate(ctx context.Context, in RateInput) (ExchangeRate, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return ExchangeRate{}, err
	}
	var stored ExchangeRate
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if _, err := tx.ClearCurrent(ctx, Scope{Source: in.Source, From: in.From, To: in.To}); err != nil {
				return err
			}
			var err error
			stored, err = tx.UpsertRate(ctx, in, true)
			return err
		})
	})
	if err != nil {
		return ExchangeRate{}, err
	}
	s.bump(ctx)
	return stored, nil
}

// ManualRateInput is a hand-entered rate.
type ManualRateInput struct {
	From     string              `json:"from_currency" validate:"required,min=2,max=10"`
	To       string              `json:"to_currency" validate:"required,min=2,max=10"`
	Rate     decimal.NullDecimal `json:"rate"`
	Buying   decimal.NullDecimal `json:"buying_rate"`
	Selling  decimal.NullDecimal `json:"selling_rate"`
	RateDate string              `json:"rate_date" validate:"omitempty,datetime=2006-01-02"`
}

// CreateManualRate stores a manual rate and makes it current for its pair.
func (s *Service) CreateManualRate(ctx context.Context, in ManualRateInput) (ExchangeRate, error) {
	rate := in.Rate.Decimal
	if !in.Rate.Valid && in.Buying.Valid {
		rate = in.Buying.Decimal
	}
	date := s.now().UTC()
	if in.RateDate != "" {
		parsed, err := time.Parse(time.DateOnly, in.RateDate)
		if err != nil {
			return ExchangeRate{}, fmt.Errorf("%w: invalid rate_date %q", httpx.ErrValidation, in.RateDate)
		}
		date = parsed
	}
	stored, err := s.SetCurrentRate(ctx, RateInput{
		From:    in.From,
		To:      in.To,
		Rate:    rate,
		Buying:  in.Buying,
		Selling: in.Selling,
		Date:    date,
		Source:  SourceManual,
	})
	if err != nil {
		return ExchangeRate{}, err
	}
	entry := shared.NewAuditEntry(ctx, shared.ActionCreate, "settings", "exchange_rate", strconv.FormatInt(stored.ID, 10))
	entry.After = map[string]any{
		"pair":      stored.FromCurrency + "/" + stored.ToCurrency,
		"rate":      stored.Rate.String(),
		"rate_date": stored.RateDate.Format(time.DateOnly),
	}
	s.record(ctx, entry)
	return stored, nil
}

// ReplaceCurrent clears every current row inside scope and stores inputs as the new
// current rows, atomically. Inputs are validated before anything is written.
func (s *Service) ReplaceCurrent(ctx context.Context, scope Scope, inputs []RateInput) (int, error) {
	normalized := make([]RateInput, 0, len(inputs))
	for _, in := range inputs {
		in = in.Normalize()
		if err := in.Validate(); err != nil {
			return 0, err
		}
		normalized = append(normalized, in)
	}
	if !scope.Source.Valid() {
		return 0, fmt.Errorf("%w: replace scope needs a source", httpx.ErrValidation)
	}
	if len(normalized) == 0 {
		return 0, nil
	}
	scope.From = NormalizeCode(scope.From)
	scope.To = NormalizeCode(scope.To)
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if _, err := tx.ClearCurrent(ctx, scope); err != nil {
				return err
			}
			for _, in := range normalized {
				if _, err := tx.UpsertRate(ctx, in, true); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	s.bump(ctx)
	return len(normalized), nil
}

// StoreHistorical inserts rows that are not stored yet, never touching current flags.
func (s *Service) StoreHistorical(ctx context.Context, inputs []RateInput) (int, error) {
	normalized := make([]RateInput, 0, len(inputs))
	for _, in := range inputs {
		in = in.Normalize()
		if err := in.Validate(); err != nil {
			return 0, err
		}
		normalized = append(normalized, in)
	}
	inserted := 0
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			for _, in := range normalized {
				ok, err := tx.InsertRateIfAbsent(ctx, in)
				if err != nil {
					return err
				}
				if ok {
					inserted++
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ExistingDates returns the set of rate dates (YYYY-MM-DD) stored for source in range.
func (s *Service) ExistingDates(ctx context.Context, source Source, start, end time.Time) (map[string]struct{}, error) {
	dates, err := s.repo.RateDates(ctx, source, truncateDay(start), truncateDay(end))
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		set[d.Format(time.DateOnly)] = struct{}{}
	}
	return set, nil
}

// MarkLatestCurrent makes the newest row of every pair of source the current one.
func (s *Service) MarkLatestCurrent(ctx context.Context, source Source) (int64, error) {
	var marked int64
	err := db.RetrySerializable(ctx, db.DefaultAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			marked, err = tx.MarkLatestCurrent(ctx, source)
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	s.bump(ctx)
	return marked, nil
}

// ResolveRate finds the rate from -> to. With a nil date the current (or newest) rows
// are used, otherwise the rows in effect on date. Paths are tried in order: identity,
// direct, inverse when one side is the base currency, then cross through the base.
func (s *Service) ResolveRate(ctx context.Context, from, to string, date *time.Time) (Resolution, error) {
	from, to = NormalizeCode(from), NormalizeCode(to)
	if from == "" || to == "" {
		return Resolution{}, fmt.Errorf("%w: from and to currency required", httpx.ErrValidation)
	}
	if date != nil || s.cache == nil {
		return s.resolve(ctx, from, to, date)
	}
	key := from + "/" + to
	v, err, _ := s.group.Do(key, func() (any, error) {
		var res Resolution
		var loadErr error
		err := s.cache.Fetch(ctx, &res, func(ctx context.Context) (any, error) {
			r, err := s.resolve(ctx, from, to, nil)
			loadErr = err
			return r, err
		}, "current", from, to)
		if err != nil && loadErr == nil {
			s.logger.Warn("rate cache unavailable", slog.String("pair", key), slog.Any("error", err))
			return s.resolve(ctx, from, to, nil)
		}
		return res, err
	})
	if err != nil {
		return Resolution{}, err
	}
	return v.(Resolution), nil
}

// RateToBase resolves the rate from code to the base currency.
func (s *Service) RateToBase(ctx context.Context, code string, date *time.Time) (decimal.Decimal, error) {
	res, err := s.ResolveRate(ctx, code, s.base, date)
	if err != nil {
		return decimal.Zero, err
	}
	return res.Rate, nil
}

// Convert converts amount from one currency to another. Converted is exact; Rounded
// is Converted rounded to the target currency's decimal places.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date *time.Time) (Conversion, error) {
	res, err := s.ResolveRate(ctx, from, to, date)
	if err != nil {
		return Conversion{}, err
	}
	converted := amount.Mul(res.Rate)
	places := s.DecimalPlaces(ctx, res.To)
	return Conversion{
		Amount:        amount,
		From:          res.From,
		To:            res.To,
		Rate:          res.Rate,
		Path:          res.Path,
		Converted:     converted,
		Rounded:       converted.Round(places),
		DecimalPlaces: places,
		RateDate:      res.RateDate,
	}, nil
}

func (s *Service) resolve(ctx context.Context, from, to string, date *time.Time) (Resolution, error) {
	if from == to {
		return Resolution{From: from, To: to, Rate: decimal.NewFromInt(1), Path: PathIdentity}, nil
	}
	direct, err := s.lookup(ctx, from, to, date)
	if err == nil {
		return Resolution{From: from, To: to, Rate: direct.Rate, Path: PathDirect, RateDate: datePtr(direct.RateDate)}, nil
	}
	if !errors.Is(err, httpx.ErrNotFound) {
		return Resolution{}, err
	}
	if from == s.base || to == s.base {
		inverse, err := s.lookup(ctx, to, from, date)
		if err != nil {
			return Resolution{}, wrapPair(err, from, to)
		}
		return Resolution{From: from, To: to, Rate: shared.Reciprocal(inverse.Rate), Path: PathInverse, RateDate: datePtr(inverse.RateDate)}, nil
	}
	fromBase, fromDate, err := s.toBase(ctx, from, date)
	if err != nil {
		return Resolution{}, wrapPair(err, from, to)
	}
	toBase, toDate, err := s.toBase(ctx, to, date)
	if err != nil {
		return Resolution{}, wrapPair(err, from, to)
	}
	rateDate := fromDate
	if toDate.Before(rateDate) {
		rateDate = toDate
	}
	return Resolution{
		From:     from,
		To:       to,
		Rate:     fromBase.DivRound(toBase, shared.RateScale),
		Path:     PathCross,
		RateDate: datePtr(rateDate),
	}, nil
}

// toBase returns the rate code -> base from the direct row or the inverted base -> code row.
func (s *Service) toBase(ctx context.Context, code string, date *time.Time) (decimal.Decimal, time.Time, error) {
	row, err := s.lookup(ctx, code, s.base, date)
	if err == nil {
		return row.Rate, row.RateDate, nil
	}
	if !errors.Is(err, httpx.ErrNotFound) {
		return decimal.Zero, time.Time{}, err
	}
	row, err = s.lookup(ctx, s.base, code, date)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	return shared.Reciprocal(row.Rate), row.RateDate, nil
}

func (s *Service) lookup(ctx context.Context, from, to string, date *time.Time) (ExchangeRate, error) {
	var (
		row ExchangeRate
		err error
	)
	if date == nil {
		row, err = s.repo.LatestRate(ctx, from, to)
	} else {
		row, err = s.repo.RateOnDate(ctx, from, to, truncateDay(*date))
	}
	if err != nil {
		return ExchangeRate{}, err
	}
	if !row.Rate.IsPositive() {
		return ExchangeRate{}, fmt.Errorf("%w: non-positive rate %s/%s", httpx.ErrNotFound, from, to)
	}
	return row, nil
}

func (s *Service) identityRow(code string) ExchangeRate {
	one := decimal.NewFromInt(1)
	return ExchangeRate{
		FromCurrency: code,
		ToCurrency:   code,
		Rate:         one,
		BuyingRate:   decimal.NewNullDecimal(one),
		SellingRate:  decimal.NewNullDecimal(one),
		RateDate:     truncateDay(s.now().UTC()),
		Source:       SourceManual,
		IsCurrent:    true,
	}
}

func (s *Service) bump(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("rate cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("entity", entry.Entity), slog.Any("error", err))
	}
}

func wrapPair(err error, from, to string) error {
	if errors.Is(err, httpx.ErrNotFound) {
		return fmt.Errorf("%w: no exchange rate for %s/%s", httpx.ErrNotFound, from, to)
	}
	return err
}

func datePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func currencySnapshot(c Currency) map[string]any {
	return map[string]any{
		"code":           c.Code,
		"name":           c.Name,
		"symbol":         c.Symbol,
		"decimal_places": c.DecimalPlaces,
		"is_crypto":      c.IsCrypto,
		"is_default":     c.IsDefault,
		"is_active":      c.IsActive,
	}
}
