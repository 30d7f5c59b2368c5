package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ApprovalAction enumerates request history actions.
type ApprovalAction string

const (
	// ApprovalCreate marks a draft being created.
	ApprovalCreate ApprovalAction = "create"
	// ApprovalSubmit marks a submit action.
	ApprovalSubmit ApprovalAction = "submit"
	// ApprovalApprove marks an approve action.
	ApprovalApprove ApprovalAction = "approve"
	// ApprovalReject marks a reject action.
	ApprovalReject ApprovalAction = "reject"
	// ApprovalCancel marks a cancel action.
	ApprovalCancel ApprovalAction = "cancel"
)

// ApprovalLog represents a single immutable request history row.
type ApprovalLog struct {
	ID             int64          `json:"id"`
	RequestID      int64          `json:"requestId"`
	ActorID        int64          `json:"actorId"`
	ActorRole      string         `json:"actorRole"`
	Action         ApprovalAction `json:"action"`
	PreviousStatus string         `json:"previousStatus"`
	NewStatus      string         `json:"newStatus"`
	Note           string         `json:"comments,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
	At             time.Time      `json:"createdAt"`
}

// ApprovalRecorder persists request history.
type ApprovalRecorder struct {
	db     DBTX
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(db DBTX, logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{db: db, logger: logger}
}

// Record writes a history entry with the caller's transaction.
func (r *ApprovalRecorder) Record(ctx context.Context, q DBTX, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	if log.RequestID == 0 {
		return errors.New("approval request id required")
	}
	if log.ActorID == 0 {
		return errors.New("approval actor required")
	}
	if log.Action == "" {
		return errors.New("approval action required")
	}
	if log.Meta == nil {
		log.Meta = map[string]any{}
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `INSERT INTO request_history (request_id, action, actor_id, actor_role, previous_status, new_status, comments, meta)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`, log.RequestID, string(log.Action), log.ActorID, log.ActorRole, log.PreviousStatus, log.NewStatus, log.Note, meta)
	if err != nil {
		r.logger.Error("record approval", slog.Int64("request_id", log.RequestID), slog.Any("error", err))
		return fmt.Errorf("shared: insert request history: %w", err)
	}
	return nil
}

// List returns history for a request in chronological order.
func (r *ApprovalRecorder) List(ctx context.Context, requestID int64) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.db.Query(ctx, `SELECT id, request_id, actor_id, actor_role, action, previous_status, new_status, COALESCE(comments, ''), meta, created_at
FROM request_history WHERE request_id=$1 ORDER BY created_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var action string
		var meta []byte
		if err := rows.Scan(&l.ID, &l.RequestID, &l.ActorID, &l.ActorRole, &action, &l.PreviousStatus, &l.NewStatus, &l.Note, &meta, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &l.Meta); err != nil {
				return nil, err
			}
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
