package numbering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestFormatAndParse(t *testing.T) {
	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	no := Format(PrefixSale, day, 7)
	require.Equal(t, "SLS202403090007", no)

	parsed, err := Parse(no)
	require.NoError(t, err)
	require.Equal(t, PrefixSale, parsed.Prefix)
	require.Equal(t, day, parsed.Day)
	require.Equal(t, int64(7), parsed.Seq)

	parsed, err = Parse("TRF202403090012" + SuffixOut)
	require.NoError(t, err)
	require.Equal(t, int64(12), parsed.Seq)

	_, err = Parse("SLS2024")
	require.ErrorIs(t, err, ErrMalformed)
	_, err = Parse("SLS20241340" + "0001")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDayUsesLocation(t *testing.T) {
	istanbul := time.FixedZone("TRT", 3*60*60)
	at := time.Date(2024, 3, 9, 22, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), Day(at, istanbul))
	require.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), Day(at, nil))
}

func TestStripLegSuffix(t *testing.T) {
	require.Equal(t, "TRF202401010001", StripLegSuffix("TRF202401010001-IN"))
	require.Equal(t, "TRF202401010001", StripLegSuffix("TRF202401010001-OUT"))
	require.Equal(t, "PMI202401010001", StripLegSuffix("PMI202401010001"))
}

func TestRetryOnConflict(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), 3, func(context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "23505"}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	boom := errors.New("boom")
	err = RetryOnConflict(context.Background(), 3, func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)

	calls = 0
	err = RetryOnConflict(context.Background(), 2, func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	require.Error(t, err)
	require.Equal(t, 2, calls)
}
