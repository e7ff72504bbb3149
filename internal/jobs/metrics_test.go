package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerAndRateDays(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("rates:tcmb:refresh").End(nil))
	err := errors.New("feed down")
	require.ErrorIs(t, m.Track("rates:tcmb:refresh").End(err), err)
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("rates:tcmb:refresh", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("rates:tcmb:refresh")))

	m.AddRateDays("tcmb", OutcomeFetched, 3)
	m.AddRateDays("tcmb", OutcomeSkipped, 0)
	require.Equal(t, 3.0, testutil.ToFloat64(m.rateDays.WithLabelValues("tcmb", OutcomeFetched)))

	var nilMetrics *Metrics
	nilMetrics.AddRateDays("tcmb", OutcomeFailed, 1)
	require.NoError(t, nilMetrics.Track("noop").End(nil))
}
