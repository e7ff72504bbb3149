package currency_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/currency"
	"github.com/odyssey-erp/odyssey-ledger/internal/currency/currencytest"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var day = time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rate(from, to, value string, date time.Time, current bool) currency.ExchangeRate {
	return currency.ExchangeRate{
		FromCurrency: from,
		ToCurrency:   to,
		Rate:         dec(value),
		RateDate:     date,
		Source:       currency.SourceTCMB,
		IsCurrent:    current,
	}
}

type auditSpy struct {
	entries []shared.AuditLog
}

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func newService(t *testing.T, repo *currencytest.Memory) *currency.Service {
	t.Helper()
	return currency.NewService(repo, nil, &auditSpy{}, nil, "TRY")
}

func TestResolveRateCrossThroughBase(t *testing.T) {
	repo := currencytest.NewMemory()
	repo.Seed(
		rate("USD", "TRY", "30", day, false),
		rate("EUR", "TRY", "32.5", day, false),
	)
	svc := newService(t, repo)

	res, err := svc.ResolveRate(context.Background(), "usd", "eur", nil)
	require.NoError(t, err)
	require.Equal(t, currency.PathCross, res.Path)
	require.True(t, dec("30").DivRound(dec("32.5"), shared.RateScale).Equal(res.Rate), res.Rate.String())
	require.NotNil(t, res.RateDate)
	require.True(t, day.Equal(*res.RateDate))
}

func TestResolveRatePaths(t *testing.T) {
	repo := currencytest.NewMemory()
	repo.Seed(
		rate("USD", "TRY", "30", day, true),
		rate("TRY", "GBP", "0.025", day, true),
	)
	svc := newService(t, repo)
	ctx := context.Background()

	res, err := svc.ResolveRate(ctx, "TRY", "TRY", nil)
	require.NoError(t, err)
	require.Equal(t, currency.PathIdentity, res.Path)
	require.True(t, res.Rate.Equal(decimal.NewFromInt(1)))

	res, err = svc.ResolveRate(ctx, "USD", "TRY", nil)
	require.NoError(t, err)
	require.Equal(t, currency.PathDirect, res.Path)
	require.True(t, res.Rate.Equal(dec("30")))

	res, err = svc.ResolveRate(ctx, "TRY", "USD", nil)
	require.NoError(t, err)
	require.Equal(t, currency.PathInverse, res.Path)
	require.True(t, res.Rate.Equal(dec("0.03333333")), res.Rate.String())

	// GBP -> base only exists as the inverted base -> GBP row.
	res, err = svc.ResolveRate(ctx, "USD", "GBP", nil)
	require.NoError(t, err)
	require.Equal(t, currency.PathCross, res.Path)
	require.True(t, res.Rate.Equal(dec("0.75")), res.Rate.String())

	_, err = svc.ResolveRate(ctx, "USD", "CHF", nil)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestResolveRateOnDate(t *testing.T) {
	repo := currencytest.NewMemory()
	repo.Seed(
		rate("USD", "TRY", "29", day.AddDate(0, 0, -7), false),
		rate("USD", "TRY", "31", day, true),
	)
	svc := newService(t, repo)

	earlier := day.AddDate(0, 0, -2)
	res, err := svc.ResolveRate(context.Background(), "USD", "TRY", &earlier)
	require.NoError(t, err)
	require.True(t, res.Rate.Equal(dec("29")))

	tooEarly := day.AddDate(0, -1, 0)
	_, err = svc.GetRateOnDate(context.Background(), "USD", "TRY", tooEarly)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestSetCurrentRateKeepsSingleCurrentRow(t *testing.T) {
	repo := currencytest.NewMemory()
	svc := newService(t, repo)
	ctx := context.Background()

	for i, value := range []string{"30", "30.5", "31"} {
		_, err := svc.SetCurrentRate(ctx, currency.RateInput{
			From: "USD", To: "TRY", Rate: dec(value), Date: day.AddDate(0, 0, i), Source: currency.SourceTCMB,
		})
		require.NoError(t, err)
		require.Equal(t, 1, repo.CurrentCount(currency.SourceTCMB, "USD", "TRY"))
	}
	// Same date again updates in place.
	_, err := svc.SetCurrentRate(ctx, currency.RateInput{
		From: "USD", To: "TRY", Rate: dec("31.2"), Date: day.AddDate(0, 0, 2), Source: currency.SourceTCMB,
	})
	require.NoError(t, err)
	require.Len(t, repo.Rates(), 3)

	current, err := svc.GetCurrentRate(ctx, "USD", "TRY")
	require.NoError(t, err)
	require.True(t, current.Rate.Equal(dec("31.2")))

	_, err = svc.SetCurrentRate(ctx, currency.RateInput{From: "USD", To: "TRY", Rate: dec("-1"), Date: day, Source: currency.SourceTCMB})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestReplaceCurrentIsAllOrNothing(t *testing.T) {
	repo := currencytest.NewMemory()
	repo.Seed(rate("USD", "TRY", "30", day, true))
	svc := newService(t, repo)

	_, err := svc.ReplaceCurrent(context.Background(), currency.Scope{Source: currency.SourceTCMB}, []currency.RateInput{
		{From: "EUR", To: "TRY", Rate: dec("33"), Date: day.AddDate(0, 0, 1), Source: currency.SourceTCMB},
		{From: "GBP", To: "TRY", Rate: decimal.Zero, Date: day.AddDate(0, 0, 1), Source: currency.SourceTCMB},
	})
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Len(t, repo.Rates(), 1)
	require.Equal(t, 1, repo.CurrentCount(currency.SourceTCMB, "USD", "TRY"))

	n, err := svc.ReplaceCurrent(context.Background(), currency.Scope{Source: currency.SourceTCMB}, []currency.RateInput{
		{From: "USD", To: "TRY", Rate: dec("31"), Date: day.AddDate(0, 0, 1), Source: currency.SourceTCMB},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, repo.CurrentCount(currency.SourceTCMB, "USD", "TRY"))
	require.Len(t, repo.Rates(), 2)
}

func TestConvertRoundsToTargetPrecision(t *testing.T) {
	repo := currencytest.NewMemory()
	repo.Seed(
		rate("USD", "TRY", "30.12345", day, true),
		rate("JPY", "TRY", "0.2", day, true),
	)
	svc := newService(t, repo)
	ctx := context.Background()

	conv, err := svc.Convert(ctx, dec("10.5"), "USD", "TRY", nil)
	require.NoError(t, err)
	require.True(t, conv.Converted.Equal(dec("316.296225")), conv.Converted.String())
	require.True(t, conv.Rounded.Equal(dec("316.30")), conv.Rounded.String())
	require.EqualValues(t, 2, conv.DecimalPlaces)

	// JPY has no minor unit.
	conv, err = svc.Convert(ctx, dec("100"), "USD", "JPY", nil)
	require.NoError(t, err)
	require.Equal(t, currency.PathCross, conv.Path)
	require.EqualValues(t, 0, conv.DecimalPlaces)
	require.True(t, conv.Rounded.Equal(dec("15062")), conv.Rounded.String())

	_, err = svc.Convert(ctx, dec("1"), "USD", "XAU", nil)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestCurrencyCatalogue(t *testing.T) {
	repo := currencytest.NewMemory()
	audit := &auditSpy{}
	svc := currency.NewService(repo, nil, audit, nil, "TRY")
	ctx := context.Background()

	try, err := svc.CreateCurrency(ctx, currency.CreateCurrencyInput{Code: "try", Name: "Turkish Lira", Symbol: "₺", IsDefault: true})
	require.NoError(t, err)
	require.Equal(t, "TRY", try.Code)
	require.EqualValues(t, 2, try.DecimalPlaces)
	require.True(t, try.IsActive)

	_, err = svc.CreateCurrency(ctx, currency.CreateCurrencyInput{Code: "TRY", Name: "dup"})
	require.ErrorIs(t, err, httpx.ErrDuplicate)

	_, err = svc.CreateCurrency(ctx, currency.CreateCurrencyInput{Code: "ABC", Name: "Unknown"})
	require.ErrorIs(t, err, httpx.ErrValidation)

	usdt, err := svc.CreateCurrency(ctx, currency.CreateCurrencyInput{Code: "USDT", Name: "Tether", IsCrypto: true})
	require.NoError(t, err)
	require.EqualValues(t, 8, usdt.DecimalPlaces)

	isDefault := true
	updated, err := svc.UpdateCurrency(ctx, usdt.ID, currency.CurrencyPatch{IsDefault: &isDefault})
	require.NoError(t, err)
	require.True(t, updated.IsDefault)
	list, err := svc.ListCurrencies(ctx, false)
	require.NoError(t, err)
	defaults := 0
	for _, c := range list {
		if c.IsDefault {
			defaults++
		}
	}
	require.Equal(t, 1, defaults)

	require.ErrorIs(t, svc.DeleteCurrency(ctx, usdt.ID), httpx.ErrValidation)
	require.NoError(t, svc.DeleteCurrency(ctx, try.ID))
	require.ErrorIs(t, svc.DeleteCurrency(ctx, try.ID), httpx.ErrNotFound)
	require.Len(t, audit.entries, 4)
}

func TestResolveRateUsesVersionedCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := currencytest.NewMemory()
	repo.Seed(rate("USD", "TRY", "30", day, true))
	svc := currency.NewService(repo, currency.NewCache(client, time.Minute), nil, nil, "TRY")
	ctx := context.Background()

	res, err := svc.ResolveRate(ctx, "USD", "TRY", nil)
	require.NoError(t, err)
	require.True(t, res.Rate.Equal(dec("30")))

	// A row written behind the service's back is not visible until the version moves.
	repo.Seed(rate("USD", "TRY", "35", day.AddDate(0, 0, 1), true))
	res, err = svc.ResolveRate(ctx, "USD", "TRY", nil)
	require.NoError(t, err)
	require.True(t, res.Rate.Equal(dec("30")))

	_, err = svc.SetCurrentRate(ctx, currency.RateInput{From: "USD", To: "TRY", Rate: dec("36"), Date: day.AddDate(0, 0, 2), Source: currency.SourceTCMB})
	require.NoError(t, err)
	res, err = svc.ResolveRate(ctx, "USD", "TRY", nil)
	require.NoError(t, err)
	require.True(t, res.Rate.Equal(dec("36")))

	// Misses are not cached.
	_, err = svc.ResolveRate(ctx, "CHF", "TRY", nil)
	require.ErrorIs(t, err, httpx.ErrNotFound)
	repo.Seed(rate("CHF", "TRY", "34", day, true))
	res, err = svc.ResolveRate(ctx, "CHF", "TRY", nil)
	require.NoError(t, err)
	require.True(t, res.Rate.Equal(dec("34")))
}

func TestISODecimalPlaces(t *testing.T) {
	places, ok := currency.ISODecimalPlaces("usd")
	require.True(t, ok)
	require.EqualValues(t, 2, places)
	places, ok = currency.ISODecimalPlaces("JPY")
	require.True(t, ok)
	require.EqualValues(t, 0, places)
	_, ok = currency.ISODecimalPlaces("USDT")
	require.False(t, ok)
}
