// Package notify turns request lifecycle changes into queued e-mail notices.
// Delivery is best-effort and deduplicated per request, status and recipient.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/travilink/travilink/jobs"
)

// ErrNudgeTooSoon is returned when a request was nudged within the window.
var ErrNudgeTooSoon = errors.New("notify: request was nudged recently")

// TooSoonError carries how long the caller must wait before nudging again.
type TooSoonError struct {
	RetryAfter time.Duration
}

func (e *TooSoonError) Error() string { return ErrNudgeTooSoon.Error() }

func (e *TooSoonError) Unwrap() error { return ErrNudgeTooSoon }

// Kind classifies a notification.
type Kind string

const (
	KindActionable Kind = "actionable"
	KindNudge      Kind = "nudge"
	KindApproved   Kind = "approved"
	KindRejected   Kind = "rejected"
	KindCancelled  Kind = "cancelled"
)

// Recipient is a person to notify.
type Recipient struct {
	PersonID int64
	Name     string
	Email    string
}

// Event describes one lifecycle change.
type Event struct {
	Kind          Kind
	RequestID     int64
	RequestNumber string
	Status        string
	Comments      string
	Recipients    []Recipient
	nonce         string
}

// Enqueuer hands notices to the background queue.
type Enqueuer interface {
	EnqueueApprovalNotice(ctx context.Context, payload jobs.ApprovalNoticePayload) error
}

// Config tunes dedupe windows.
type Config struct {
	DedupeTTL   time.Duration
	NudgeWindow time.Duration
}

// Notifier deduplicates events in Redis and enqueues one notice per recipient.
type Notifier struct {
	redis  redis.Cmdable
	queue  Enqueuer
	cfg    Config
	logger *slog.Logger
}

var eventNamespace = uuid.MustParse("6f1c3a52-51c4-4b55-9d43-1a7d1c4f2e90")

// New constructs a Notifier.
func New(rdb redis.Cmdable, queue Enqueuer, cfg Config, logger *slog.Logger) *Notifier {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 24 * time.Hour
	}
	if cfg.NudgeWindow <= 0 {
		cfg.NudgeWindow = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{redis: rdb, queue: queue, cfg: cfg, logger: logger}
}

func (e Event) dedupeKey(r Recipient) string {
	key := fmt.Sprintf("notify:%d:%s:%s:%d", e.RequestID, e.Status, e.Kind, r.PersonID)
	if e.nonce != "" {
		key += ":" + e.nonce
	}
	return key
}

// Publish enqueues a notice for every recipient not yet notified for this
// request status. It returns the number of notices enqueued.
func (n *Notifier) Publish(ctx context.Context, ev Event) (int, error) {
	if n == nil {
		return 0, nil
	}
	var errs []error
	sent := 0
	for _, r := range ev.Recipients {
		if r.Email == "" {
			n.logger.Warn("notification recipient without email",
				slog.Int64("request_id", ev.RequestID),
				slog.Int64("person_id", r.PersonID))
			continue
		}
		key := ev.dedupeKey(r)
		eventID := uuid.NewSHA1(eventNamespace, []byte(key)).String()
		fresh, err := n.redis.SetNX(ctx, key, eventID, n.cfg.DedupeTTL).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("notify: dedupe %s: %w", key, err))
			continue
		}
		if !fresh {
			continue
		}
		payload := jobs.ApprovalNoticePayload{
			EventID:        eventID,
			Kind:           string(ev.Kind),
			RequestID:      ev.RequestID,
			RequestNumber:  ev.RequestNumber,
			Status:         ev.Status,
			Comments:       ev.Comments,
			RecipientID:    r.PersonID,
			RecipientName:  r.Name,
			RecipientEmail: r.Email,
		}
		if err := n.queue.EnqueueApprovalNotice(ctx, payload); err != nil {
			_ = n.redis.Del(ctx, key).Err()
			errs = append(errs, fmt.Errorf("notify: enqueue %s: %w", key, err))
			continue
		}
		sent++
	}
	err := errors.Join(errs...)
	if err != nil {
		n.logger.Warn("notification publish incomplete",
			slog.Int64("request_id", ev.RequestID),
			slog.String("kind", string(ev.Kind)),
			slog.Any("error", err))
	}
	return sent, err
}

// Nudge re-notifies the current approvers at most once per window.
func (n *Notifier) Nudge(ctx context.Context, ev Event) error {
	if n == nil {
		return nil
	}
	key := fmt.Sprintf("nudge:%d", ev.RequestID)
	nonce := uuid.NewString()
	ok, err := n.redis.SetNX(ctx, key, nonce, n.cfg.NudgeWindow).Result()
	if err != nil {
		return fmt.Errorf("notify: nudge window: %w", err)
	}
	if !ok {
		return &TooSoonError{RetryAfter: n.NudgeRetryAfter(ctx, ev.RequestID)}
	}
	ev.Kind = KindNudge
	ev.nonce = nonce
	if _, err := n.Publish(ctx, ev); err != nil {
		// release the window so the requester can retry
		if delErr := n.redis.Del(ctx, key).Err(); delErr != nil {
			n.logger.Warn("nudge window release failed",
				slog.Int64("request_id", ev.RequestID),
				slog.Any("error", delErr))
		}
		return err
	}
	return nil
}

// NudgeRetryAfter returns how long until the request may be nudged again.
func (n *Notifier) NudgeRetryAfter(ctx context.Context, requestID int64) time.Duration {
	if n == nil {
		return 0
	}
	ttl, err := n.redis.TTL(ctx, fmt.Sprintf("nudge:%d", requestID)).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}
