package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/travilink/travilink/internal/jobs"
)

// StaleReminder re-notifies approvers of requests idle past a cutoff.
type StaleReminder interface {
	RemindStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// StaleReminderJob runs the reminder sweep.
type StaleReminderJob struct {
	Reminder StaleReminder
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewStaleReminderJob initialises the sweep handler.
func NewStaleReminderJob(reminder StaleReminder, logger *slog.Logger, metrics *jobmetrics.Metrics) *StaleReminderJob {
	return &StaleReminderJob{Reminder: reminder, Logger: logger, Metrics: metrics}
}

// Handle processes TaskStaleReminder tasks.
func (j *StaleReminderJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Reminder == nil {
		return errors.New("stale reminder: handler not configured")
	}
	var payload StaleReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("stale reminder: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.OlderThanHours <= 0 {
		return fmt.Errorf("stale reminder: invalid age %d: %w", payload.OlderThanHours, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskStaleReminder)
	defer func() {
		err = tracker.End(err)
	}()

	count, err := j.Reminder.RemindStale(ctx, time.Duration(payload.OlderThanHours)*time.Hour)
	if err != nil {
		return err
	}
	j.Metrics.AddReminded(count)
	if j.Logger != nil {
		j.Logger.Info("stale reminder sweep completed", slog.Int("reminded", count))
	}
	return nil
}
