package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/travilink/travilink/internal/jobs"
)

// ApprovalNoticeJob renders and mails approval notifications.
type ApprovalNoticeJob struct {
	Mailer  Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	BaseURL string
}

// NewApprovalNoticeJob initialises the notice handler.
func NewApprovalNoticeJob(mailer Mailer, baseURL string, logger *slog.Logger, metrics *jobmetrics.Metrics) *ApprovalNoticeJob {
	return &ApprovalNoticeJob{Mailer: mailer, Logger: logger, Metrics: metrics, BaseURL: strings.TrimRight(baseURL, "/")}
}

// Handle processes TaskApprovalNotice tasks.
func (j *ApprovalNoticeJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Mailer == nil {
		return errors.New("approval notice: handler not configured")
	}
	var payload ApprovalNoticePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("approval notice: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.RecipientEmail == "" {
		return fmt.Errorf("approval notice: empty recipient: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskApprovalNotice)
	defer func() {
		err = tracker.End(err)
	}()

	msg := j.render(payload)
	if err := j.Mailer.Send(ctx, msg); err != nil {
		j.logger().Error("approval notice delivery failed",
			slog.String("event_id", payload.EventID),
			slog.Int64("request_id", payload.RequestID),
			slog.Any("error", err))
		return err
	}
	j.Metrics.AddDelivered(payload.Kind)
	j.logger().Info("approval notice delivered",
		slog.String("event_id", payload.EventID),
		slog.Int64("request_id", payload.RequestID),
		slog.String("kind", payload.Kind))
	return nil
}

func (j *ApprovalNoticeJob) render(p ApprovalNoticePayload) Message {
	var subject, lead string
	switch p.Kind {
	case "actionable":
		subject = fmt.Sprintf("Travel request %s needs your approval", p.RequestNumber)
		lead = "A travel request is waiting for your decision."
	case "nudge":
		subject = fmt.Sprintf("Reminder: travel request %s is still waiting", p.RequestNumber)
		lead = "The requester asked for a reminder about a travel request waiting for your decision."
	case "approved":
		subject = fmt.Sprintf("Travel request %s was approved", p.RequestNumber)
		lead = "Your travel request completed every approval stage."
	case "rejected":
		subject = fmt.Sprintf("Travel request %s was rejected", p.RequestNumber)
		lead = "Your travel request was rejected."
	case "cancelled":
		subject = fmt.Sprintf("Travel request %s was cancelled", p.RequestNumber)
		lead = "A travel request you were involved in was cancelled."
	default:
		subject = fmt.Sprintf("Travel request %s was updated", p.RequestNumber)
		lead = "A travel request was updated."
	}
	var body strings.Builder
	name := p.RecipientName
	if name == "" {
		name = p.RecipientEmail
	}
	fmt.Fprintf(&body, "Hello %s,\n\n%s\n\nRequest: %s\nStatus: %s\n", name, lead, p.RequestNumber, p.Status)
	if p.Comments != "" {
		fmt.Fprintf(&body, "Comments: %s\n", p.Comments)
	}
	if j.BaseURL != "" {
		fmt.Fprintf(&body, "\n%s/requests/%d\n", j.BaseURL, p.RequestID)
	}
	return Message{To: p.RecipientEmail, ToName: p.RecipientName, Subject: subject, Body: body.String()}
}

func (j *ApprovalNoticeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
