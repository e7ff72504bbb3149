package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/ratefeed"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type stubFeed struct {
	report     ratefeed.BackfillReport
	err        error
	start, end time.Time
}

func (s *stubFeed) Backfill(_ context.Context, start, end time.Time) (ratefeed.BackfillReport, error) {
	s.start, s.end = start, end
	return s.report, s.err
}

func fxDeps(feed *stubFeed, stdout, stderr *bytes.Buffer) Deps {
	return Deps{
		FX: func(context.Context) (*FXOpsCLI, func(), error) {
			c, err := NewFXOpsCLI(feed)
			return c, func() {}, err
		},
		Stdout: stdout,
		Stderr: stderr,
	}
}

func TestBackfillJSON(t *testing.T) {
	feed := &stubFeed{report: ratefeed.BackfillReport{
		Start: "2024-03-01", End: "2024-03-03", Days: 3,
		Fetched: []ratefeed.DayResult{{Date: "2024-03-01", Count: 20}},
		Skipped: []ratefeed.DayResult{{Date: "2024-03-02", Reason: "weekend"}, {Date: "2024-03-03", Reason: "weekend"}},
		Inserted: 20,
	}}
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"fx", "backfill", "--from", "2024-03-01", "--to", "2024-03-03", "--json"},
		fxDeps(feed, &stdout, &stderr))
	require.Equal(t, ExitOK, code, stderr.String())
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), feed.start)

	var report ratefeed.BackfillReport
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &report))
	require.Equal(t, 20, report.Inserted)
	require.Len(t, report.Skipped, 2)
}

func TestBackfillHumanPartialFailure(t *testing.T) {
	feed := &stubFeed{report: ratefeed.BackfillReport{
		Start: "2024-03-01", End: "2024-03-01", Days: 1,
		Failed: []ratefeed.DayResult{{Date: "2024-03-01", Error: "timeout"}},
	}}
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"fx", "backfill", "--from", "2024-03-01", "--to", "2024-03-01", "--no-color"},
		fxDeps(feed, &stdout, &stderr))
	require.Equal(t, ExitPartialFail, code)
	require.Contains(t, stdout.String(), "failed: 1")
	require.Contains(t, stdout.String(), "2024-03-01 timeout")
}

func TestBackfillRejectsInput(t *testing.T) {
	feed := &stubFeed{}
	for _, args := range [][]string{
		{"fx", "backfill", "--from", "2024-03-01"},
		{"fx", "backfill", "--from", "01/03/2024", "--to", "2024-03-02"},
		{"fx", "backfill", "--from", "2024-03-05", "--to", "2024-03-01"},
		{"fx", "restore"},
		{"fx"},
	} {
		var stdout, stderr bytes.Buffer
		require.Equal(t, ExitError, Run(context.Background(), args, fxDeps(feed, &stdout, &stderr)), args)
	}
	require.True(t, feed.start.IsZero())

	feed.err = errors.New("range spans 400 days")
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"fx", "backfill", "--from", "2023-01-01", "--to", "2024-03-01"},
		fxDeps(feed, &stdout, &stderr))
	require.Equal(t, ExitError, code)
	require.Contains(t, stderr.String(), "range spans 400 days")
}

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func TestJobsTrigger(t *testing.T) {
	enq := &stubEnqueuer{}
	deps := Deps{
		Jobs: func() *JobsCLI {
			return &JobsCLI{client: enq, now: func() time.Time { return time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC) }}
		},
	}
	var stdout, stderr bytes.Buffer
	deps.Stdout, deps.Stderr = &stdout, &stderr

	require.Equal(t, ExitOK, Run(context.Background(), []string{"jobs", "trigger", jobs.TaskRatesTCMBRefresh}, deps))
	require.Contains(t, stdout.String(), "enqueued rates:tcmb:refresh id=t1")
	require.Len(t, enq.tasks, 1)

	require.Equal(t, ExitError, Run(context.Background(), []string{"jobs", "trigger", "mail:send"}, deps))
	require.Contains(t, stderr.String(), "unknown job")
	require.Len(t, enq.tasks, 1)
}

func TestIsCommand(t *testing.T) {
	require.True(t, IsCommand([]string{"fx", "backfill"}))
	require.True(t, IsCommand([]string{"jobs"}))
	require.False(t, IsCommand(nil))
	require.False(t, IsCommand([]string{"serve"}))
}
