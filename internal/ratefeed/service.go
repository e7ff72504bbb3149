package ratefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/currency"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// BaseCurrency is the quote currency of the central bank bulletin.
const BaseCurrency = "TRY"

// RateStore is the part of the currency service the feed writes through.
type RateStore interface {
	ReplaceCurrent(ctx context.Context, scope currency.Scope, inputs []currency.RateInput) (int, error)
	StoreHistorical(ctx context.Context, inputs []currency.RateInput) (int, error)
	ExistingDates(ctx context.Context, source currency.Source, start, end time.Time) (map[string]struct{}, error)
	MarkLatestCurrent(ctx context.Context, source currency.Source) (int64, error)
}

// DailySource returns a central bank bulletin; a nil date means today.
type DailySource interface {
	FetchDailyRates(ctx context.Context, date *time.Time) (DailyRates, error)
}

// CryptoSource returns stablecoin prices keyed by fiat code.
type CryptoSource interface {
	TetherPrices(ctx context.Context) (map[string]decimal.Decimal, error)
}

// Config tunes ingestion.
type Config struct {
	Throttle time.Duration
	MaxDays  int
}

// UpdateResult summarises a current-rate refresh.
type UpdateResult struct {
	Source     currency.Source `json:"source"`
	RateDate   string          `json:"rate_date"`
	Updated    int             `json:"updated"`
	Currencies []string        `json:"currencies"`
}

// DayResult is the outcome of one backfill day.
type DayResult struct {
	Date   string `json:"date"`
	Count  int    `json:"count,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BackfillReport summarises a historical import.
type BackfillReport struct {
	Start         string      `json:"start_date"`
	End           string      `json:"end_date"`
	Days          int         `json:"days"`
	Fetched       []DayResult `json:"fetched"`
	Skipped       []DayResult `json:"skipped"`
	Failed        []DayResult `json:"failed"`
	Inserted      int         `json:"inserted"`
	MarkedCurrent int64       `json:"marked_current"`
}

// Service pulls remote feeds into the rate store.
type Service struct {
	store   RateStore
	daily   DailySource
	crypto  CryptoSource
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	cfg     Config
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time
}

// NewService wires the ingestion service.
func NewService(store RateStore, daily DailySource, crypto CryptoSource, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxDays <= 0 {
		cfg.MaxDays = 365
	}
	if cfg.Throttle < 0 {
		cfg.Throttle = 0
	}
	return &Service{
		store:  store,
		daily:  daily,
		crypto: crypto,
		logger: logger.With(slog.String("component", "ratefeed")),
		cfg:    cfg,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// WithSleeper replaces the throttle sleep.
func (s *Service) WithSleeper(fn func(context.Context, time.Duration) error) {
	if fn != nil {
		s.sleep = fn
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMetrics attaches ingestion counters.
func (s *Service) WithMetrics(m *jobmetrics.Metrics) {
	s.metrics = m
}

// CurrentSnapshot returns today's bulletin without storing it.
func (s *Service) CurrentSnapshot(ctx context.Context) (DailyRates, error) {
	return s.fetch(ctx, nil)
}

// UpdateToday fetches today's bulletin and makes it the current tcmb rate set. Nothing
// is written when the feed cannot be read.
func (s *Service) UpdateToday(ctx context.Context) (UpdateResult, error) {
	rates, err := s.fetch(ctx, nil)
	if err != nil {
		s.metrics.AddRateDays(string(currency.SourceTCMB), jobmetrics.OutcomeFailed, 1)
		return UpdateResult{}, err
	}
	date := rates.Date
	if date.IsZero() {
		date = s.now().UTC()
	}
	inputs := bulletinInputs(rates, date)
	if len(inputs) == 0 {
		s.metrics.AddRateDays(string(currency.SourceTCMB), jobmetrics.OutcomeFailed, 1)
		return UpdateResult{}, fmt.Errorf("%w: tcmb bulletin carried no supported currency", httpx.ErrUnavailable)
	}
	n, err := s.store.ReplaceCurrent(ctx, currency.Scope{Source: currency.SourceTCMB}, inputs)
	if err != nil {
		return UpdateResult{}, err
	}
	s.metrics.AddRateDays(string(currency.SourceTCMB), jobmetrics.OutcomeFetched, 1)
	s.logger.Info("tcmb rates updated", slog.String("rate_date", date.Format(time.DateOnly)), slog.Int("currencies", n))
	return UpdateResult{
		Source:     currency.SourceTCMB,
		RateDate:   date.Format(time.DateOnly),
		Updated:    n,
		Currencies: inputCodes(inputs),
	}, nil
}

// Backfill imports historical bulletins for [start, end]. Weekends and dates already
// stored are skipped; a failed day is recorded and the loop goes on. Afterwards the
// newest stored day of every pair becomes current.
func (s *Service) Backfill(ctx context.Context, start, end time.Time) (BackfillReport, error) {
	start, end = day(start), day(end)
	if err := s.ValidateRange(start, end); err != nil {
		return BackfillReport{}, err
	}
	span := spanDays(start, end)
	report := BackfillReport{
		Start:   start.Format(time.DateOnly),
		End:     end.Format(time.DateOnly),
		Days:    span,
		Fetched: []DayResult{},
		Skipped: []DayResult{},
		Failed:  []DayResult{},
	}
	existing, err := s.store.ExistingDates(ctx, currency.SourceTCMB, start, end)
	if err != nil {
		return report, err
	}
	calls := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			report.Skipped = append(report.Skipped, DayResult{Date: key, Reason: "weekend"})
			continue
		}
		if _, ok := existing[key]; ok {
			report.Skipped = append(report.Skipped, DayResult{Date: key, Reason: "exists"})
			continue
		}
		if calls > 0 && s.cfg.Throttle > 0 {
			if err := s.sleep(ctx, s.cfg.Throttle); err != nil {
				return report, err
			}
		}
		calls++
		date := d
		rates, err := s.fetch(ctx, &date)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			s.logger.Warn("tcmb backfill day failed", slog.String("date", key), slog.Any("error", err))
			report.Failed = append(report.Failed, DayResult{Date: key, Error: err.Error()})
			continue
		}
		inputs := bulletinInputs(rates, date)
		if len(inputs) == 0 {
			report.Failed = append(report.Failed, DayResult{Date: key, Error: "no supported currency"})
			continue
		}
		inserted, err := s.store.StoreHistorical(ctx, inputs)
		if err != nil {
			return report, err
		}
		report.Inserted += inserted
		report.Fetched = append(report.Fetched, DayResult{Date: key, Count: inserted})
	}
	s.metrics.AddRateDays(string(currency.SourceTCMB), jobmetrics.OutcomeFetched, len(report.Fetched))
	s.metrics.AddRateDays(string(currency.SourceTCMB), jobmetrics.OutcomeSkipped, len(report.Skipped))
	s.metrics.AddRateDays(string(currency.SourceTCMB), jobmetrics.OutcomeFailed, len(report.Failed))

	marked, err := s.store.MarkLatestCurrent(ctx, currency.SourceTCMB)
	if err != nil {
		return report, err
	}
	report.MarkedCurrent = marked
	s.logger.Info("tcmb backfill finished",
		slog.String("start", report.Start), slog.String("end", report.End),
		slog.Int("fetched", len(report.Fetched)), slog.Int("skipped", len(report.Skipped)),
		slog.Int("failed", len(report.Failed)), slog.Int("inserted", report.Inserted))
	return report, nil
}

// UpdateCrypto stores USDT prices as the current crypto_api rates. Only USDT rows are
// replaced.
func (s *Service) UpdateCrypto(ctx context.Context) (UpdateResult, error) {
	if s.crypto == nil {
		return UpdateResult{}, fmt.Errorf("%w: crypto feed not configured", httpx.ErrUnavailable)
	}
	prices, err := s.crypto.TetherPrices(ctx)
	if err != nil {
		s.metrics.AddRateDays(string(currency.SourceCrypto), jobmetrics.OutcomeFailed, 1)
		return UpdateResult{}, wrapUnavailable(err)
	}
	today := day(s.now())
	inputs := make([]currency.RateInput, 0, len(prices))
	for code, price := range prices {
		inputs = append(inputs, currency.RateInput{
			From:    CryptoCode,
			To:      code,
			Rate:    price,
			Buying:  decimal.NewNullDecimal(price),
			Selling: decimal.NewNullDecimal(price),
			Date:    today,
			Source:  currency.SourceCrypto,
		})
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].To < inputs[j].To })
	n, err := s.store.ReplaceCurrent(ctx, currency.Scope{Source: currency.SourceCrypto, From: CryptoCode}, inputs)
	if err != nil {
		return UpdateResult{}, err
	}
	s.metrics.AddRateDays(string(currency.SourceCrypto), jobmetrics.OutcomeFetched, 1)
	s.logger.Info("crypto rates updated", slog.Int("pairs", n))
	return UpdateResult{
		Source:     currency.SourceCrypto,
		RateDate:   today.Format(time.DateOnly),
		Updated:    n,
		Currencies: inputCodes(inputs),
	}, nil
}

// ValidateRange checks a backfill range without running it.
func (s *Service) ValidateRange(start, end time.Time) error {
	start, end = day(start), day(end)
	if end.Before(start) {
		return fmt.Errorf("%w: start_date must not be after end_date", httpx.ErrValidation)
	}
	if gap := spanDays(start, end) - 1; gap > s.cfg.MaxDays {
		return fmt.Errorf("%w: range spans %d days, at most %d allowed", httpx.ErrValidation, gap, s.cfg.MaxDays)
	}
	return nil
}

func spanDays(start, end time.Time) int {
	return int(end.Sub(start).Hours()/24) + 1
}

func (s *Service) fetch(ctx context.Context, date *time.Time) (DailyRates, error) {
	if s.daily == nil {
		return DailyRates{}, fmt.Errorf("%w: tcmb feed not configured", httpx.ErrUnavailable)
	}
	rates, err := s.daily.FetchDailyRates(ctx, date)
	if err != nil {
		return DailyRates{}, wrapUnavailable(err)
	}
	return rates, nil
}

func bulletinInputs(rates DailyRates, date time.Time) []currency.RateInput {
	inputs := make([]currency.RateInput, 0, len(rates.Quotes))
	for _, q := range rates.Quotes {
		rate, ok := q.Rate()
		if !ok {
			continue
		}
		inputs = append(inputs, currency.RateInput{
			From:            q.Code,
			To:              BaseCurrency,
			Rate:            rate,
			Buying:          q.ForexBuying,
			Selling:         q.ForexSelling,
			BanknoteBuying:  q.BanknoteBuying,
			BanknoteSelling: q.BanknoteSelling,
			Date:            date,
			Source:          currency.SourceTCMB,
		})
	}
	return inputs
}

func inputCodes(inputs []currency.RateInput) []string {
	codes := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if in.From == CryptoCode {
			codes = append(codes, in.To)
			continue
		}
		codes = append(codes, in.From)
	}
	return codes
}

func wrapUnavailable(err error) error {
	if errors.Is(err, httpx.ErrUnavailable) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", httpx.ErrUnavailable, err)
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
