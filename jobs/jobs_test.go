package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/ratefeed"
)

type fakeFeed struct {
	todayErr    error
	backfillErr error
	start, end  time.Time
	calls       int
}

func (f *fakeFeed) UpdateToday(context.Context) (ratefeed.UpdateResult, error) {
	f.calls++
	return ratefeed.UpdateResult{RateDate: "2024-03-14", Updated: 3}, f.todayErr
}

func (f *fakeFeed) UpdateCrypto(context.Context) (ratefeed.UpdateResult, error) {
	f.calls++
	return ratefeed.UpdateResult{Updated: 2}, nil
}

func (f *fakeFeed) Backfill(_ context.Context, start, end time.Time) (ratefeed.BackfillReport, error) {
	f.calls++
	f.start, f.end = start, end
	return ratefeed.BackfillReport{Start: start.Format(time.DateOnly), End: end.Format(time.DateOnly)}, f.backfillErr
}

func newJob(feed RateFeed) *RatesJob {
	return NewRatesJob(feed, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
}

func TestBackfillTaskCarriesRange(t *testing.T) {
	feed := &fakeFeed{}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	task, err := NewBackfillTask(start, end)
	require.NoError(t, err)
	require.Equal(t, TaskRatesTCMBBackfill, task.Type())

	require.NoError(t, newJob(feed).HandleBackfill(context.Background(), task))
	require.Equal(t, start, feed.start)
	require.Equal(t, end, feed.end)
}

func TestBackfillBadPayloadSkipsRetry(t *testing.T) {
	feed := &fakeFeed{}
	job := newJob(feed)

	err := job.HandleBackfill(context.Background(), asynq.NewTask(TaskRatesTCMBBackfill, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	body, _ := json.Marshal(BackfillPayload{StartDate: "2024-13-01", EndDate: "2024-03-10"})
	err = job.HandleBackfill(context.Background(), asynq.NewTask(TaskRatesTCMBBackfill, body))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Zero(t, feed.calls)
}

func TestRetryPolicy(t *testing.T) {
	outage := &fakeFeed{todayErr: fmt.Errorf("%w: tcmb down", httpx.ErrUnavailable)}
	err := newJob(outage).HandleTCMBRefresh(context.Background(), nil)
	require.ErrorIs(t, err, httpx.ErrUnavailable)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	invalid := &fakeFeed{backfillErr: fmt.Errorf("%w: range too long", httpx.ErrValidation)}
	task, err := NewBackfillTask(time.Now(), time.Now())
	require.NoError(t, err)
	require.ErrorIs(t, newJob(invalid).HandleBackfill(context.Background(), task), asynq.SkipRetry)
}

func TestRefreshHandlers(t *testing.T) {
	feed := &fakeFeed{}
	job := newJob(feed)
	require.NoError(t, job.HandleTCMBRefresh(context.Background(), nil))
	require.NoError(t, job.HandleCryptoRefresh(context.Background(), nil))
	require.Equal(t, 2, feed.calls)

	var unconfigured *RatesJob
	require.Error(t, unconfigured.HandleCryptoRefresh(context.Background(), nil))
}

type fakeCleaner struct {
	olderThan time.Duration
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) error {
	f.olderThan = olderThan
	return nil
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	store := &fakeCleaner{}
	job := &IdempotencyCleanupJob{Store: store, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	require.NoError(t, job.Handle(context.Background(), nil))
	require.Equal(t, 72*time.Hour, store.olderThan)
}

func TestTaskByName(t *testing.T) {
	at := time.Date(2024, 3, 14, 12, 45, 0, 0, time.UTC)
	task, err := TaskByName(TaskRatesCryptoRefresh, at)
	require.NoError(t, err)
	var payload SchedulePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.True(t, payload.ScheduledFor.Equal(at))

	_, err = TaskByName(TaskRatesTCMBBackfill, at)
	require.Error(t, err)
	require.Equal(t, []string{TaskIdempotencyCleanup, TaskRatesCryptoRefresh, TaskRatesTCMBRefresh}, TriggerableTasks())
}

func TestValidateCron(t *testing.T) {
	require.NoError(t, ValidateCron("45 12 * * 1-5"))
	require.Error(t, ValidateCron("every day"))
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func TestHealth(t *testing.T) {
	call := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/api/jobs", h.MountRoutes)
		res := httptest.NewRecorder()
		r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/jobs/health", nil))
		return res
	}

	res := call(NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Retry: 1}}, nil))
	require.Equal(t, http.StatusOK, res.Code)
	var body QueueHealth
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Equal(t, QueueHealth{Queue: QueueDefault, Pending: 4, Retry: 1}, body)

	require.Equal(t, http.StatusOK, call(NewHandler(nil, nil)).Code)
	require.Equal(t, http.StatusOK, call(NewHandler(fakeInspector{err: asynq.ErrQueueNotFound}, nil)).Code)
	require.Equal(t, http.StatusServiceUnavailable, call(NewHandler(fakeInspector{err: errors.New("redis down")}, nil)).Code)
}
