package requests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/travilink/travilink/internal/platform/db"
	"github.com/travilink/travilink/internal/shared"
)

// DB is the pool surface the repository needs.
type DB interface {
	shared.DBTX
	db.Beginner
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	db      DB
	history *shared.ApprovalRecorder
}

// NewRepository constructs a repository.
func NewRepository(pool DB, history *shared.ApprovalRecorder) *Repository {
	if history == nil {
		history = shared.NewApprovalRecorder(pool, nil)
	}
	return &Repository{db: pool, history: history}
}

const requestColumns = `id, number, requester_id, department_id, parent_department_id, co_department_ids, status,
purpose, destination, travel_start, travel_end, total_budget::text, expense_breakdown, needs_vehicle,
assigned_vehicle_id, assigned_driver_id, requires_hr, direct_to_president, requester_is_head, parent_head_is_exec,
routing, stages, comptroller_edited_budget::text, rejected_by, rejected_at, rejection_reason, rejection_stage,
cancelled_by, cancelled_at, cancel_reason, version, submitted_at, created_at, updated_at`

type txRepo struct {
	tx      pgx.Tx
	history *shared.ApprovalRecorder
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, history: r.history})
	})
}

// Get returns a request by id.
func (r *Repository) Get(ctx context.Context, id int64) (Request, error) {
	req, err := scanRequest(r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("requests: get: %w", err)
	}
	return req, nil
}

// ListByStatus returns requests in any of statuses, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, statuses []Status) ([]Request, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return r.queryRequests(ctx, `SELECT `+requestColumns+` FROM requests WHERE status = ANY($1) ORDER BY updated_at ASC, id ASC`, names)
}

// ListStale returns pending requests not updated since before.
func (r *Repository) ListStale(ctx context.Context, before time.Time, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryRequests(ctx, `SELECT `+requestColumns+` FROM requests
WHERE status LIKE 'pending_%' AND updated_at < $1 ORDER BY updated_at ASC, id ASC LIMIT $2`, before, limit)
}

// History returns the history rows of a request.
func (r *Repository) History(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	return r.history.List(ctx, id)
}

func (r *Repository) queryRequests(ctx context.Context, query string, args ...any) ([]Request, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("requests: list: %w", err)
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		req                                   Request
		status                                string
		budget                                string
		edited                                *string
		expenses, routing, stages             []byte
		rejectedBy, cancelledBy               *int64
		rejectedAt, cancelledAt               *time.Time
		rejectionReason, rejectionStage, note *string
	)
	err := row.Scan(&req.ID, &req.Number, &req.RequesterID, &req.DepartmentID, &req.ParentDepartmentID, &req.CoDepartmentIDs,
		&status, &req.Purpose, &req.Destination, &req.TravelStart, &req.TravelEnd, &budget, &expenses, &req.NeedsVehicle,
		&req.AssignedVehicleID, &req.AssignedDriverID, &req.RequiresHR, &req.DirectToPresident, &req.RequesterIsHead,
		&req.ParentHeadIsExec, &routing, &stages, &edited, &rejectedBy, &rejectedAt, &rejectionReason, &rejectionStage,
		&cancelledBy, &cancelledAt, &note, &req.Version, &req.SubmittedAt, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return Request{}, err
	}
	req.Status = Status(status)
	if req.TotalBudget, err = decimal.NewFromString(budget); err != nil {
		return Request{}, fmt.Errorf("requests: total budget: %w", err)
	}
	if edited != nil {
		v, err := decimal.NewFromString(*edited)
		if err != nil {
			return Request{}, fmt.Errorf("requests: edited budget: %w", err)
		}
		req.ComptrollerEditedBudget = &v
	}
	if err := unmarshalJSON(expenses, &req.ExpenseBreakdown); err != nil {
		return Request{}, fmt.Errorf("requests: expense breakdown: %w", err)
	}
	req.Routing = Unassigned(false)
	if err := unmarshalJSON(routing, &req.Routing); err != nil {
		return Request{}, fmt.Errorf("requests: routing: %w", err)
	}
	req.Stages = map[Stage]StageApproval{}
	if err := unmarshalJSON(stages, &req.Stages); err != nil {
		return Request{}, fmt.Errorf("requests: stages: %w", err)
	}
	if rejectedBy != nil {
		req.Rejection = &Rejection{By: *rejectedBy, Reason: deref(rejectionReason), Stage: Status(deref(rejectionStage))}
		if rejectedAt != nil {
			req.Rejection.At = *rejectedAt
		}
	}
	if cancelledBy != nil {
		req.Cancellation = &Cancellation{By: *cancelledBy, Reason: deref(note)}
		if cancelledAt != nil {
			req.Cancellation.At = *cancelledAt
		}
	}
	return req, nil
}

// Insert stores a new draft.
func (t *txRepo) Insert(ctx context.Context, r Request) (int64, error) {
	expenses, routing, stages, err := encodeDocuments(r)
	if err != nil {
		return 0, err
	}
	coDepts := r.CoDepartmentIDs
	if coDepts == nil {
		coDepts = []int64{}
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO requests (number, requester_id, department_id, co_department_ids, status, purpose,
destination, travel_start, travel_end, total_budget, expense_breakdown, needs_vehicle, direct_to_president, routing, stages,
version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14, $15, $16, $17, $17)
RETURNING id`,
		r.Number, r.RequesterID, r.DepartmentID, coDepts, string(r.Status), r.Purpose,
		r.Destination, r.TravelStart, r.TravelEnd, r.TotalBudget.StringFixed(2), expenses, r.NeedsVehicle, r.DirectToPresident,
		routing, stages, r.Version, r.CreatedAt).Scan(&id)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return 0, &shared.ConflictError{Entity: "request", Expected: "unique number " + r.Number}
		}
		return 0, fmt.Errorf("requests: insert: %w", err)
	}
	return id, nil
}

// CompareAndSwap persists every mutable field guarded by status and version.
func (t *txRepo) CompareAndSwap(ctx context.Context, next Request, expected Status, version int) (bool, error) {
	expenses, routing, stages, err := encodeDocuments(next)
	if err != nil {
		return false, err
	}
	var edited *string
	if next.ComptrollerEditedBudget != nil {
		v := next.ComptrollerEditedBudget.StringFixed(2)
		edited = &v
	}
	var rejectedBy, cancelledBy *int64
	var rejectedAt, cancelledAt *time.Time
	var rejectionReason, rejectionStage, cancelReason *string
	if rj := next.Rejection; rj != nil {
		rejectedBy, rejectedAt = &rj.By, &rj.At
		reason, stage := rj.Reason, string(rj.Stage)
		rejectionReason, rejectionStage = &reason, &stage
	}
	if c := next.Cancellation; c != nil {
		cancelledBy, cancelledAt = &c.By, &c.At
		if c.Reason != "" {
			reason := c.Reason
			cancelReason = &reason
		}
	}
	tag, err := t.tx.Exec(ctx, `UPDATE requests SET
status=$3, parent_department_id=$4, expense_breakdown=$5, assigned_vehicle_id=$6, assigned_driver_id=$7,
requires_hr=$8, direct_to_president=$9, requester_is_head=$10, parent_head_is_exec=$11, routing=$12, stages=$13,
comptroller_edited_budget=$14::numeric, rejected_by=$15, rejected_at=$16, rejection_reason=$17, rejection_stage=$18,
cancelled_by=$19, cancelled_at=$20, cancel_reason=$21, submitted_at=$22, version=$23, updated_at=$24
WHERE id=$1 AND status=$2 AND version=$25`,
		next.ID, string(expected), string(next.Status), next.ParentDepartmentID, expenses, next.AssignedVehicleID,
		next.AssignedDriverID, next.RequiresHR, next.DirectToPresident, next.RequesterIsHead, next.ParentHeadIsExec,
		routing, stages, edited, rejectedBy, rejectedAt, rejectionReason, rejectionStage,
		cancelledBy, cancelledAt, cancelReason, next.SubmittedAt, next.Version, next.UpdatedAt, version)
	if err != nil {
		return false, fmt.Errorf("requests: update: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordHistory appends a history row inside the transaction.
func (t *txRepo) RecordHistory(ctx context.Context, log shared.ApprovalLog) error {
	return t.history.Record(ctx, t.tx, log)
}

func encodeDocuments(r Request) (expenses, routing, stages []byte, err error) {
	items := r.ExpenseBreakdown
	if items == nil {
		items = []ExpenseItem{}
	}
	if expenses, err = json.Marshal(items); err != nil {
		return nil, nil, nil, err
	}
	if routing, err = json.Marshal(r.Routing); err != nil {
		return nil, nil, nil, err
	}
	st := r.Stages
	if st == nil {
		st = map[Stage]StageApproval{}
	}
	if stages, err = json.Marshal(st); err != nil {
		return nil, nil, nil, err
	}
	return expenses, routing, stages, nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
