package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("BASE_CURRENCY", " try ")
	t.Setenv("APP_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "TRY", cfg.BaseCurrency)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AppCORSOrigins)
	require.Equal(t, 30*time.Second, cfg.TCMBTimeout)
	require.Equal(t, time.Second, cfg.TCMBThrottle)
	require.Equal(t, 365, cfg.TCMBBackfillMaxDays)
	require.Equal(t, "45 12 * * 1-5", cfg.RateRefreshCron)
	require.Equal(t, "30 3 * * *", cfg.IdempotencyCleanCron)
	require.Equal(t, 5, cfg.WorkerConcurrency)

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "Europe/Istanbul", loc.String())
}

func TestLoadConfigRejects(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("BASE_CURRENCY", "LIRA")
	_, err = LoadConfig()
	require.Error(t, err)

	t.Setenv("BASE_CURRENCY", "TRY")
	t.Setenv("NUMBERING_TZ", "Mars/Olympus")
	_, err = LoadConfig()
	require.Error(t, err)
}
