// Package currencytest provides an in-memory currency repository for tests.
package currencytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/currency"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Memory implements currency.Repository and currency.TxRepository. WithTx restores
// the previous state when fn fails.
type Memory struct {
	txMu       sync.Mutex
	mu         sync.Mutex
	currencies []currency.Currency
	rates      []currency.ExchangeRate
	nextID     int64
	now        func() time.Time
}

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

var (
	_ currency.Repository   = (*Memory)(nil)
	_ currency.TxRepository = (*Memory)(nil)
)

// Seed stores rows as they are, assigning ids.
func (m *Memory) Seed(rates ...currency.ExchangeRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rates {
		m.nextID++
		r.ID = m.nextID
		if r.Source == "" {
			r.Source = currency.SourceManual
		}
		m.rates = append(m.rates, r)
	}
}

// Rates returns a copy of every stored rate.
func (m *Memory) Rates() []currency.ExchangeRate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]currency.ExchangeRate(nil), m.rates...)
}

// CurrentCount counts current rows for a pair and source.
func (m *Memory) CurrentCount(source currency.Source, from, to string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.rates {
		if r.IsCurrent && r.Source == source && r.FromCurrency == from && r.ToCurrency == to {
			n++
		}
	}
	return n
}

func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, currency.TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	currencies := append([]currency.Currency(nil), m.currencies...)
	rates := append([]currency.ExchangeRate(nil), m.rates...)
	nextID := m.nextID
	m.mu.Unlock()
	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.currencies, m.rates, m.nextID = currencies, rates, nextID
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) ListCurrencies(_ context.Context, activeOnly bool) ([]currency.Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []currency.Currency
	for _, c := range m.currencies {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) GetCurrency(_ context.Context, id int64) (currency.Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.currencies {
		if c.ID == id {
			return c, nil
		}
	}
	return currency.Currency{}, fmt.Errorf("%w: currency", httpx.ErrNotFound)
}

func (m *Memory) GetCurrencyForUpdate(ctx context.Context, id int64) (currency.Currency, error) {
	return m.GetCurrency(ctx, id)
}

func (m *Memory) GetCurrencyByCode(_ context.Context, code string) (currency.Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.currencies {
		if c.Code == code {
			return c, nil
		}
	}
	return currency.Currency{}, fmt.Errorf("%w: currency", httpx.ErrNotFound)
}

func (m *Memory) InsertCurrency(_ context.Context, c currency.Currency) (currency.Currency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.currencies {
		if existing.Code == c.Code {
			return currency.Currency{}, fmt.Errorf("%w: currency %s already exists", httpx.ErrDuplicate, c.Code)
		}
	}
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = m.now()
	m.currencies = append(m.currencies, c)
	return c, nil
}

func (m *Memory) UpdateCurrency(_ context.Context, c currency.Currency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.currencies {
		if m.currencies[i].ID == c.ID {
			m.currencies[i] = c
			return nil
		}
	}
	return fmt.Errorf("%w: currency", httpx.ErrNotFound)
}

func (m *Memory) DeleteCurrency(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.currencies {
		if m.currencies[i].ID == id {
			m.currencies = append(m.currencies[:i], m.currencies[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: currency %d", httpx.ErrNotFound, id)
}

func (m *Memory) ClearDefaultCurrency(_ context.Context, exceptID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.currencies {
		if m.currencies[i].ID != exceptID {
			m.currencies[i].IsDefault = false
		}
	}
	return nil
}

func (m *Memory) CurrentRate(_ context.Context, from, to string) (currency.ExchangeRate, error) {
	return m.pick(func(r currency.ExchangeRate) bool {
		return r.FromCurrency == from && r.ToCurrency == to && r.IsCurrent
	}, byDateDesc)
}

func (m *Memory) RateOnDate(_ context.Context, from, to string, date time.Time) (currency.ExchangeRate, error) {
	return m.pick(func(r currency.ExchangeRate) bool {
		return r.FromCurrency == from && r.ToCurrency == to && !r.RateDate.After(date)
	}, byDateDesc)
}

func (m *Memory) LatestRate(_ context.Context, from, to string) (currency.ExchangeRate, error) {
	return m.pick(func(r currency.ExchangeRate) bool {
		return r.FromCurrency == from && r.ToCurrency == to
	}, func(a, b currency.ExchangeRate) bool {
		if a.IsCurrent != b.IsCurrent {
			return a.IsCurrent
		}
		return byDateDesc(a, b)
	})
}

func (m *Memory) ListRates(_ context.Context, f currency.RateFilter) ([]currency.ExchangeRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []currency.ExchangeRate
	for _, r := range m.rates {
		switch {
		case f.From != "" && r.FromCurrency != f.From,
			f.To != "" && r.ToCurrency != f.To,
			f.Source != "" && r.Source != f.Source,
			f.DateFrom != nil && r.RateDate.Before(*f.DateFrom),
			f.DateTo != nil && r.RateDate.After(*f.DateTo):
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RateDate.After(out[j].RateDate) })
	if f.Window.Skip >= len(out) {
		return nil, nil
	}
	out = out[f.Window.Skip:]
	if f.Window.Limit > 0 && len(out) > f.Window.Limit {
		out = out[:f.Window.Limit]
	}
	return out, nil
}

func (m *Memory) RateDates(_ context.Context, source currency.Source, start, end time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[time.Time]struct{}{}
	var out []time.Time
	for _, r := range m.rates {
		if r.Source != source || r.RateDate.Before(start) || r.RateDate.After(end) {
			continue
		}
		if _, ok := seen[r.RateDate]; ok {
			continue
		}
		seen[r.RateDate] = struct{}{}
		out = append(out, r.RateDate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *Memory) ClearCurrent(_ context.Context, scope currency.Scope) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.rates {
		r := &m.rates[i]
		if !r.IsCurrent ||
			(scope.Source != "" && r.Source != scope.Source) ||
			(scope.From != "" && r.FromCurrency != scope.From) ||
			(scope.To != "" && r.ToCurrency != scope.To) {
			continue
		}
		r.IsCurrent = false
		n++
	}
	return n, nil
}

func (m *Memory) UpsertRate(_ context.Context, in currency.RateInput, current bool) (currency.ExchangeRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current {
		for _, r := range m.rates {
			if r.IsCurrent && r.Source == in.Source && r.FromCurrency == in.From && r.ToCurrency == in.To && !r.RateDate.Equal(in.Date) {
				return currency.ExchangeRate{}, fmt.Errorf("%w: second current row for %s/%s", httpx.ErrDuplicate, in.From, in.To)
			}
		}
	}
	for i := range m.rates {
		r := &m.rates[i]
		if r.FromCurrency == in.From && r.ToCurrency == in.To && r.RateDate.Equal(in.Date) && r.Source == in.Source {
			fillRate(r, in)
			r.IsCurrent = current
			return *r, nil
		}
	}
	m.nextID++
	r := currency.ExchangeRate{ID: m.nextID, CreatedAt: m.now(), IsCurrent: current}
	fillRate(&r, in)
	m.rates = append(m.rates, r)
	return r, nil
}

func (m *Memory) InsertRateIfAbsent(_ context.Context, in currency.RateInput) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rates {
		if r.FromCurrency == in.From && r.ToCurrency == in.To && r.RateDate.Equal(in.Date) && r.Source == in.Source {
			return false, nil
		}
	}
	m.nextID++
	r := currency.ExchangeRate{ID: m.nextID, CreatedAt: m.now()}
	fillRate(&r, in)
	m.rates = append(m.rates, r)
	return true, nil
}

func (m *Memory) MarkLatestCurrent(_ context.Context, source currency.Source) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := map[[2]string]int{}
	for i, r := range m.rates {
		if r.Source != source {
			continue
		}
		m.rates[i].IsCurrent = false
		key := [2]string{r.FromCurrency, r.ToCurrency}
		if j, ok := latest[key]; !ok || r.RateDate.After(m.rates[j].RateDate) {
			latest[key] = i
		}
	}
	for _, i := range latest {
		m.rates[i].IsCurrent = true
	}
	return int64(len(latest)), nil
}

func (m *Memory) pick(match func(currency.ExchangeRate) bool, less func(a, b currency.ExchangeRate) bool) (currency.ExchangeRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var candidates []currency.ExchangeRate
	for _, r := range m.rates {
		if match(r) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return currency.ExchangeRate{}, fmt.Errorf("%w: exchange rate", httpx.ErrNotFound)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return less(candidates[i], candidates[j]) })
	return candidates[0], nil
}

func byDateDesc(a, b currency.ExchangeRate) bool {
	if !a.RateDate.Equal(b.RateDate) {
		return a.RateDate.After(b.RateDate)
	}
	return a.ID > b.ID
}

func fillRate(r *currency.ExchangeRate, in currency.RateInput) {
	r.FromCurrency = in.From
	r.ToCurrency = in.To
	r.Rate = in.Rate
	r.BuyingRate = in.Buying
	r.SellingRate = in.Selling
	r.BanknoteBuying = in.BanknoteBuying
	r.BanknoteSelling = in.BanknoteSelling
	r.RateDate = in.Date
	r.Source = in.Source
}
