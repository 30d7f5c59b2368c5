package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskApprovalNotice delivers one approval notification e-mail.
	TaskApprovalNotice = "approval:notice"
)

// ApprovalNoticePayload describes a single notification to deliver.
type ApprovalNoticePayload struct {
	EventID        string `json:"event_id"`
	Kind           string `json:"kind"`
	RequestID      int64  `json:"request_id"`
	RequestNumber  string `json:"request_number"`
	Status         string `json:"status"`
	Comments       string `json:"comments,omitempty"`
	RecipientID    int64  `json:"recipient_id"`
	RecipientName  string `json:"recipient_name"`
	RecipientEmail string `json:"recipient_email"`
}

// NewApprovalNoticeTask constructs an Asynq task keyed by the event id so
// that a duplicate enqueue is rejected by the broker.
func NewApprovalNoticeTask(payload ApprovalNoticePayload) (*asynq.Task, error) {
	if payload.EventID == "" {
		return nil, fmt.Errorf("jobs: approval notice requires event id")
	}
	if payload.RecipientEmail == "" {
		return nil, fmt.Errorf("jobs: approval notice requires recipient email")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskApprovalNotice, data,
		asynq.Queue(QueueDefault),
		asynq.TaskID(payload.EventID),
		asynq.MaxRetry(5),
	), nil
}

// TaskStaleReminder sweeps requests waiting too long at one stage.
const TaskStaleReminder = "approval:stale_reminder"

// StaleReminderPayload configures a reminder sweep.
type StaleReminderPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// NewStaleReminderTask constructs the periodic reminder task.
func NewStaleReminderTask(olderThanHours int) (*asynq.Task, error) {
	if olderThanHours <= 0 {
		return nil, fmt.Errorf("jobs: stale reminder requires a positive age")
	}
	data, err := json.Marshal(StaleReminderPayload{OlderThanHours: olderThanHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStaleReminder, data, asynq.Queue(QueueDefault)), nil
}
