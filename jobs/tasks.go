package jobs

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskRatesTCMBRefresh pulls today's central bank bulletin.
	TaskRatesTCMBRefresh = "rates:tcmb:refresh"
	// TaskRatesCryptoRefresh pulls current stablecoin prices.
	TaskRatesCryptoRefresh = "rates:crypto:refresh"
	// TaskRatesTCMBBackfill imports historical bulletins for a date range.
	TaskRatesTCMBBackfill = "rates:tcmb:backfill"
	// TaskIdempotencyCleanup prunes expired request keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// SchedulePayload carries scheduling metadata for periodic tasks.
type SchedulePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// BackfillPayload names an inclusive date range, formatted YYYY-MM-DD.
type BackfillPayload struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Range parses the payload dates.
func (p BackfillPayload) Range() (time.Time, time.Time, error) {
	start, err := time.Parse(time.DateOnly, p.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date: %w", err)
	}
	end, err := time.Parse(time.DateOnly, p.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date: %w", err)
	}
	return start, end, nil
}

// NewScheduledTask constructs a periodic task of the given type.
func NewScheduledTask(taskType string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SchedulePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

// NewBackfillTask constructs a backfill task for [start, end].
func NewBackfillTask(start, end time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(BackfillPayload{
		StartDate: start.Format(time.DateOnly),
		EndDate:   end.Format(time.DateOnly),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRatesTCMBBackfill, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1),
		asynq.Timeout(6*time.Hour)), nil
}

var triggerable = map[string]struct{}{
	TaskRatesTCMBRefresh:   {},
	TaskRatesCryptoRefresh: {},
	TaskIdempotencyCleanup: {},
}

// TriggerableTasks lists the periodic task types that can be enqueued by name.
func TriggerableTasks() []string {
	names := make([]string, 0, len(triggerable))
	for name := range triggerable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TaskByName builds a periodic task for manual triggering.
func TaskByName(name string, at time.Time) (*asynq.Task, error) {
	if _, ok := triggerable[name]; !ok {
		return nil, fmt.Errorf("unknown job %q (known: %v)", name, TriggerableTasks())
	}
	return NewScheduledTask(name, at)
}
