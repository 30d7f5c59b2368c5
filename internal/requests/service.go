package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/travilink/travilink/internal/approvers"
	"github.com/travilink/travilink/internal/notify"
	"github.com/travilink/travilink/internal/people"
	"github.com/travilink/travilink/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Request, error)
	ListByStatus(ctx context.Context, statuses []Status) ([]Request, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]Request, error)
	History(ctx context.Context, id int64) ([]shared.ApprovalLog, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, r Request) (int64, error)
	// CompareAndSwap persists next only if the stored row still has the
	// expected status and version.
	CompareAndSwap(ctx context.Context, next Request, expected Status, version int) (bool, error)
	RecordHistory(ctx context.Context, log shared.ApprovalLog) error
}

// CandidateResolver resolves approvers for a stage.
type CandidateResolver interface {
	Resolve(ctx context.Context, q approvers.Query) (approvers.Candidates, error)
}

// PeopleLookup reads identities.
type PeopleLookup interface {
	GetPerson(ctx context.Context, id int64) (people.Person, error)
	GetPeople(ctx context.Context, ids []int64) ([]people.Person, error)
	GetDepartment(ctx context.Context, id int64) (people.Department, error)
}

// Notifier publishes lifecycle notifications.
type Notifier interface {
	Publish(ctx context.Context, ev notify.Event) (int, error)
	Nudge(ctx context.Context, ev notify.Event) error
}

// Observer receives transition metrics.
type Observer interface {
	ObserveTransition(from, to, action string)
	ObserveConflict(entity string)
}

// Invalidator drops cached inbox views after a committed transition.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Policy holds the configurable branch inputs.
type Policy struct {
	// HRRequiredRoles lists requester roles whose requests pass the HR stage.
	HRRequiredRoles []people.Role
}

// RequiresHR reports whether a requester with role needs HR review.
func (p Policy) RequiresHR(role people.Role) bool {
	for _, r := range p.HRRequiredRoles {
		if r == role {
			return true
		}
	}
	return false
}

const staleSweepLimit = 200

// Service orchestrates the request lifecycle.
type Service struct {
	repo     RepositoryPort
	resolver CandidateResolver
	people   PeopleLookup
	notifier Notifier
	observer Observer
	inval    Invalidator
	policy   Policy
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the request service.
func NewService(repo RepositoryPort, resolver CandidateResolver, lookup PeopleLookup, notifier Notifier, policy Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		resolver: resolver,
		people:   lookup,
		notifier: notifier,
		policy:   policy,
		validate: validator.New(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithObserver attaches a metrics observer.
func (s *Service) WithObserver(o Observer) *Service {
	s.observer = o
	return s
}

// WithInvalidator attaches the inbox cache invalidator.
func (s *Service) WithInvalidator(inv Invalidator) *Service {
	s.inval = inv
	return s
}

// CreateInput describes a new draft.
type CreateInput struct {
	RequesterID       int64           `json:"requesterId" validate:"required,gt=0"`
	DepartmentID      int64           `json:"departmentId" validate:"gte=0"`
	CoRequesterIDs    []int64         `json:"coRequesterIds" validate:"omitempty,dive,gt=0"`
	Purpose           string          `json:"purpose" validate:"required,max=2000"`
	Destination       string          `json:"destination" validate:"required,max=255"`
	TravelStart       time.Time       `json:"travelStart" validate:"required"`
	TravelEnd         time.Time       `json:"travelEnd" validate:"required"`
	TotalBudget       decimal.Decimal `json:"totalBudget"`
	ExpenseBreakdown  []ExpenseItem   `json:"expenseBreakdown" validate:"omitempty,dive"`
	NeedsVehicle      bool            `json:"needsVehicle"`
	DirectToPresident bool            `json:"directToPresident"`
}

// TransitionInput carries an approver decision.
type TransitionInput struct {
	RequestID         int64            `json:"-"`
	ActorID           int64            `json:"actorId" validate:"required,gt=0"`
	Action            Action           `json:"action" validate:"required,oneof=approve reject cancel"`
	Signature         string           `json:"signature"`
	Comments          string           `json:"comments" validate:"max=2000"`
	Reason            string           `json:"reason" validate:"max=2000"`
	TargetApproverID  *int64           `json:"targetApproverId"`
	TargetApproverIDs []int64          `json:"targetApproverIds"`
	RequireAll        bool             `json:"requireAll"`
	AssignedVehicleID *int64           `json:"assignedVehicleId"`
	AssignedDriverID  *int64           `json:"assignedDriverId"`
	EditedBudget      *decimal.Decimal `json:"editedBudget"`
	ExpectedVersion   *int             `json:"expectedVersion"`
	ExpectedStatus    Status           `json:"expectedStatus"`
}

// TransitionResult reports the outcome of a transition.
type TransitionResult struct {
	RequestID          int64                 `json:"requestId"`
	PreviousStatus     Status                `json:"previousStatus"`
	Status             Status                `json:"status"`
	Version            int                   `json:"version"`
	StageFieldsWritten []string              `json:"stageFieldsWritten"`
	Blocked            *shared.ResolutionGap `json:"blocked,omitempty"`
}

// NextApprovers describes who can act on a request now.
type NextApprovers struct {
	RequestID  int64                 `json:"requestId"`
	Status     Status                `json:"status"`
	Stage      Stage                 `json:"stage,omitempty"`
	Role       approvers.Role        `json:"role,omitempty"`
	Candidates approvers.Candidates  `json:"candidates"`
	Blocked    *shared.ResolutionGap `json:"blocked,omitempty"`
}

// Create persists a draft request.
func (s *Service) Create(ctx context.Context, in CreateInput) (Request, error) {
	if err := s.validateStruct(in); err != nil {
		return Request{}, err
	}
	if in.TravelEnd.Before(in.TravelStart) {
		return Request{}, shared.Invalid("travelEnd", "must not be before travelStart")
	}
	total, err := reconcileBudget(in.TotalBudget, in.ExpenseBreakdown)
	if err != nil {
		return Request{}, err
	}

	requester, err := s.people.GetPerson(ctx, in.RequesterID)
	if err != nil {
		if errors.Is(err, people.ErrNotFound) {
			return Request{}, shared.Invalid("requesterId", "unknown person")
		}
		return Request{}, err
	}
	if !requester.Active() {
		return Request{}, shared.Invalid("requesterId", "requester is inactive")
	}
	deptID := in.DepartmentID
	if deptID == 0 && requester.DepartmentID != nil {
		deptID = *requester.DepartmentID
	}
	if deptID == 0 {
		return Request{}, shared.Invalid("departmentId", "required when the requester has no department")
	}
	if _, err := s.people.GetDepartment(ctx, deptID); err != nil {
		if errors.Is(err, people.ErrNotFound) {
			return Request{}, shared.Invalid("departmentId", "unknown department")
		}
		return Request{}, err
	}
	coDepts, err := s.coDepartments(ctx, in.CoRequesterIDs, deptID)
	if err != nil {
		return Request{}, err
	}

	now := s.now()
	req := Request{
		Number:            newNumber(now),
		RequesterID:       requester.ID,
		DepartmentID:      deptID,
		CoDepartmentIDs:   coDepts,
		Status:            StatusDraft,
		Purpose:           strings.TrimSpace(in.Purpose),
		Destination:       strings.TrimSpace(in.Destination),
		TravelStart:       in.TravelStart,
		TravelEnd:         in.TravelEnd,
		TotalBudget:       total,
		ExpenseBreakdown:  in.ExpenseBreakdown,
		NeedsVehicle:      in.NeedsVehicle,
		DirectToPresident: in.DirectToPresident,
		Routing:           Unassigned(false),
		Stages:            map[Stage]StageApproval{},
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Insert(ctx, req)
		if err != nil {
			return err
		}
		req.ID = id
		return tx.RecordHistory(ctx, shared.ApprovalLog{
			RequestID: id,
			ActorID:   requester.ID,
			ActorRole: "requester",
			Action:    shared.ApprovalCreate,
			NewStatus: string(StatusDraft),
			At:        now,
		})
	})
	if err != nil {
		return Request{}, err
	}
	s.logger.Info("request created", slog.Int64("request_id", req.ID), slog.String("number", req.Number))
	return req, nil
}

// Get loads a request.
func (s *Service) Get(ctx context.Context, id int64) (Request, error) {
	return s.repo.Get(ctx, id)
}

// History returns the request's history rows in order.
func (s *Service) History(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

// Submit moves a draft into its first applicable stage.
func (s *Service) Submit(ctx context.Context, id, actorID int64) (TransitionResult, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return TransitionResult{}, err
	}
	if req.RequesterID != actorID {
		return TransitionResult{}, &shared.AuthorizationError{ActorID: actorID, Required: "requester", Status: string(req.Status)}
	}
	if req.Status != StatusDraft {
		return TransitionResult{}, shared.Invalid("status", "only draft requests can be submitted")
	}
	requester, err := s.people.GetPerson(ctx, req.RequesterID)
	if err != nil {
		return TransitionResult{}, err
	}
	if !requester.Active() {
		return TransitionResult{}, shared.Invalid("requesterId", "requester is inactive")
	}
	dept, err := s.people.GetDepartment(ctx, req.DepartmentID)
	if err != nil {
		return TransitionResult{}, err
	}
	heads, err := s.resolver.Resolve(ctx, approvers.Query{Role: approvers.RoleHead, DepartmentID: &dept.ID})
	if err != nil {
		return TransitionResult{}, err
	}

	next := req.clone()
	next.ParentDepartmentID = dept.ParentID
	next.RequesterIsHead = heads.Contains(requester.ID)
	next.RequiresHR = s.policy.RequiresHR(requester.Role)
	isHead := next.RequesterIsHead || requester.Flags.Head || requester.Role == people.RoleHead
	next.Routing = Unassigned(len(next.CoDepartmentIDs) > 0 && !isHead)
	now := s.now()
	next.SubmittedAt = &now
	next.Status = NextStatus(next, StatusDraft)

	written := []string{"parent_department_id", "requester_is_head", "requires_hr", "routing", "submitted_at"}
	log := shared.ApprovalLog{
		RequestID:      req.ID,
		ActorID:        actorID,
		ActorRole:      "requester",
		Action:         shared.ApprovalSubmit,
		PreviousStatus: string(req.Status),
		NewStatus:      string(next.Status),
		Meta:           map[string]any{"route": Route(next)},
		At:             now,
	}
	saved, err := s.commit(ctx, req, next, log)
	if err != nil {
		return TransitionResult{}, err
	}
	return s.finish(ctx, req, saved, string(shared.ApprovalSubmit), written, ""), nil
}

// Transition applies an approve, reject or cancel decision.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (TransitionResult, error) {
	if err := s.validateStruct(in); err != nil {
		return TransitionResult{}, err
	}
	req, err := s.repo.Get(ctx, in.RequestID)
	if err != nil {
		return TransitionResult{}, err
	}
	if in.ExpectedVersion != nil && *in.ExpectedVersion != req.Version {
		s.observeConflict()
		return TransitionResult{}, &shared.ConflictError{Entity: "request", ID: req.ID, Expected: string(req.Status), Version: *in.ExpectedVersion}
	}
	if in.ExpectedStatus != "" && in.ExpectedStatus != req.Status {
		s.observeConflict()
		return TransitionResult{}, &shared.ConflictError{Entity: "request", ID: req.ID, Expected: string(in.ExpectedStatus), Version: req.Version}
	}
	actor, err := s.people.GetPerson(ctx, in.ActorID)
	if err != nil {
		if errors.Is(err, people.ErrNotFound) {
			return TransitionResult{}, &shared.AuthorizationError{ActorID: in.ActorID, Required: "known actor"}
		}
		return TransitionResult{}, err
	}
	if !actor.Active() {
		return TransitionResult{}, &shared.AuthorizationError{ActorID: actor.ID, Required: "active account", Status: string(req.Status)}
	}

	var (
		next    Request
		written []string
		log     shared.ApprovalLog
	)
	switch in.Action {
	case ActionApprove:
		next, written, log, err = s.approve(ctx, req, actor, in)
	case ActionReject:
		next, written, log, err = s.reject(ctx, req, actor, in)
	case ActionCancel:
		next, written, log, err = s.cancel(req, actor, in)
	default:
		err = shared.Invalid("action", "must be approve, reject or cancel")
	}
	if err != nil {
		return TransitionResult{}, err
	}
	saved, err := s.commit(ctx, req, next, log)
	if err != nil {
		return TransitionResult{}, err
	}
	comments := in.Comments
	if in.Action == ActionReject {
		comments = saved.Rejection.Reason
	}
	return s.finish(ctx, req, saved, string(in.Action), written, comments), nil
}

func (s *Service) approve(ctx context.Context, req Request, actor people.Person, in TransitionInput) (Request, []string, shared.ApprovalLog, error) {
	var log shared.ApprovalLog
	if err := s.authorizeStage(ctx, req, actor); err != nil {
		return Request{}, nil, log, err
	}
	signature := strings.TrimSpace(in.Signature)
	if requiresSignature(req.Status) && signature == "" {
		return Request{}, nil, log, shared.Invalid("signature", "required at "+string(req.Status))
	}
	stage, _ := stageFor(req)
	now := s.now()
	next := req.clone()
	next.Stages[stage] = StageApproval{
		ApprovedBy: actor.ID,
		ApprovedAt: now,
		Signature:  signature,
		Comments:   strings.TrimSpace(in.Comments),
	}
	prefix := string(stage)
	written := []string{prefix + "_approved_by", prefix + "_approved_at"}
	if signature != "" {
		written = append(written, prefix+"_signature")
	}
	if next.Stages[stage].Comments != "" {
		written = append(written, prefix+"_comments")
	}
	meta := map[string]any{"stage": prefix}

	hasTargets := in.TargetApproverID != nil || len(in.TargetApproverIDs) > 0
	if hasTargets && req.Status != StatusPendingHead && req.Status != StatusPendingParentHead {
		return Request{}, nil, log, shared.Invalid("targetApproverId", "only a head approval may choose executives")
	}
	if (in.AssignedVehicleID != nil || in.AssignedDriverID != nil) && req.Status != StatusPendingAdmin {
		return Request{}, nil, log, shared.Invalid("assignedVehicleId", "vehicle assignment happens at the admin stage")
	}
	if in.EditedBudget != nil && req.Status != StatusPendingComptroller {
		return Request{}, nil, log, shared.Invalid("editedBudget", "only the comptroller may edit the budget")
	}

	switch req.Status {
	case StatusPendingHead, StatusPendingParentHead:
		if hasTargets {
			fields, err := s.applyTargets(ctx, &next, in)
			if err != nil {
				return Request{}, nil, log, err
			}
			written = append(written, fields...)
			meta["routing"] = next.Routing
		}
		if req.Status == StatusPendingParentHead {
			next.ParentHeadIsExec = actor.IsExecutive()
			written = append(written, "parent_head_is_exec")
		}
	case StatusPendingAdmin:
		fields, err := s.applyAssignment(ctx, &next, in)
		if err != nil {
			return Request{}, nil, log, err
		}
		written = append(written, fields...)
	case StatusPendingComptroller:
		if in.EditedBudget != nil {
			if in.EditedBudget.IsNegative() {
				return Request{}, nil, log, shared.Invalid("editedBudget", "must not be negative")
			}
			edited := *in.EditedBudget
			next.ComptrollerEditedBudget = &edited
			written = append(written, "comptroller_edited_budget")
			meta["editedBudget"] = edited.String()
		}
	}

	if req.Status == StatusPendingExec && !next.execComplete() {
		next.Status = StatusPendingExec
	} else {
		next.Status = NextStatus(next, req.Status)
	}
	log = shared.ApprovalLog{
		RequestID:      req.ID,
		ActorID:        actor.ID,
		ActorRole:      actorRole(req.Status),
		Action:         shared.ApprovalApprove,
		PreviousStatus: string(req.Status),
		NewStatus:      string(next.Status),
		Note:           next.Stages[stage].Comments,
		Meta:           meta,
		At:             now,
	}
	return next, written, log, nil
}

func (s *Service) reject(ctx context.Context, req Request, actor people.Person, in TransitionInput) (Request, []string, shared.ApprovalLog, error) {
	var log shared.ApprovalLog
	if err := s.authorizeStage(ctx, req, actor); err != nil {
		return Request{}, nil, log, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = strings.TrimSpace(in.Comments)
	}
	if reason == "" {
		return Request{}, nil, log, shared.Invalid("reason", "required when rejecting")
	}
	now := s.now()
	next := req.clone()
	next.Status = StatusRejected
	next.Rejection = &Rejection{By: actor.ID, At: now, Reason: reason, Stage: req.Status}
	log = shared.ApprovalLog{
		RequestID:      req.ID,
		ActorID:        actor.ID,
		ActorRole:      actorRole(req.Status),
		Action:         shared.ApprovalReject,
		PreviousStatus: string(req.Status),
		NewStatus:      string(StatusRejected),
		Note:           reason,
		At:             now,
	}
	return next, []string{"rejected_by", "rejected_at", "rejection_reason", "rejection_stage"}, log, nil
}

func (s *Service) cancel(req Request, actor people.Person, in TransitionInput) (Request, []string, shared.ApprovalLog, error) {
	var log shared.ApprovalLog
	if req.RequesterID != actor.ID {
		return Request{}, nil, log, &shared.AuthorizationError{ActorID: actor.ID, Required: "requester", Status: string(req.Status)}
	}
	if req.Status != StatusDraft && !req.Status.Pending() {
		s.observeConflict()
		return Request{}, nil, log, &shared.ConflictError{Entity: "request", ID: req.ID, Expected: "draft or pending", Version: req.Version}
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = strings.TrimSpace(in.Comments)
	}
	now := s.now()
	next := req.clone()
	next.Status = StatusCancelled
	next.Cancellation = &Cancellation{By: actor.ID, At: now, Reason: reason}
	log = shared.ApprovalLog{
		RequestID:      req.ID,
		ActorID:        actor.ID,
		ActorRole:      "requester",
		Action:         shared.ApprovalCancel,
		PreviousStatus: string(req.Status),
		NewStatus:      string(StatusCancelled),
		Note:           reason,
		At:             now,
	}
	return next, []string{"cancelled_by", "cancelled_at", "cancel_reason"}, log, nil
}

// authorizeStage checks that actor may decide req at its current stage.
func (s *Service) authorizeStage(ctx context.Context, req Request, actor people.Person) error {
	if req.Status == StatusDraft {
		return shared.Invalid("status", "request has not been submitted")
	}
	if !req.Status.Pending() {
		s.observeConflict()
		return &shared.ConflictError{Entity: "request", ID: req.ID, Expected: "pending", Version: req.Version}
	}
	q, _ := ApproverQuery(req)
	candidates, err := s.resolver.Resolve(ctx, q)
	if err != nil {
		return err
	}
	if !candidates.Contains(actor.ID) {
		advanced, err := s.advancedPast(ctx, req, actor.ID)
		if err != nil {
			return err
		}
		if advanced {
			s.observeConflict()
			return &shared.ConflictError{Entity: "request", ID: req.ID, Expected: string(req.Status), Version: req.Version}
		}
		return &shared.AuthorizationError{ActorID: actor.ID, Required: actorRole(req.Status) + " approver", Status: string(req.Status)}
	}
	if req.Status == StatusPendingExec && !req.ExecSlotOpenFor(actor.ID) {
		if first, ok := req.Approved(StageVP); ok && first.ApprovedBy == actor.ID {
			return &shared.AuthorizationError{ActorID: actor.ID, Required: "a second, different executive", Status: string(req.Status)}
		}
		return &shared.AuthorizationError{ActorID: actor.ID, Required: "an executive this request is routed to", Status: string(req.Status)}
	}
	return nil
}

// advancedPast reports whether the last approval moved req out of a stage
// actorID could have decided, i.e. another approver got there first.
func (s *Service) advancedPast(ctx context.Context, req Request, actorID int64) (bool, error) {
	logs, err := s.repo.History(ctx, req.ID)
	if err != nil || len(logs) == 0 {
		return false, err
	}
	last := logs[len(logs)-1]
	prev := Status(last.PreviousStatus)
	if last.Action != shared.ApprovalApprove || prev == req.Status || !prev.Pending() {
		return false, nil
	}
	earlier := req.clone()
	earlier.Status = prev
	q, ok := ApproverQuery(earlier)
	if !ok {
		return false, nil
	}
	candidates, err := s.resolver.Resolve(ctx, q)
	if err != nil {
		return false, err
	}
	return candidates.Contains(actorID), nil
}

// applyTargets records the executive routing chosen by a head.
func (s *Service) applyTargets(ctx context.Context, next *Request, in TransitionInput) ([]string, error) {
	if in.TargetApproverID != nil && len(in.TargetApproverIDs) > 0 {
		return nil, shared.Invalid("targetApproverIds", "use either targetApproverId or targetApproverIds")
	}
	execs, err := s.resolver.Resolve(ctx, approvers.Query{Role: approvers.RoleExec})
	if err != nil {
		return nil, err
	}
	if in.TargetApproverID != nil {
		target := *in.TargetApproverID
		if execs.Contains(target) {
			next.Routing = SingleTarget(target)
			return []string{"routing"}, nil
		}
		presidents, err := s.resolver.Resolve(ctx, approvers.Query{Role: approvers.RolePresident})
		if err != nil {
			return nil, err
		}
		if presidents.Contains(target) {
			next.DirectToPresident = true
			return []string{"direct_to_president"}, nil
		}
		return nil, shared.Invalid("targetApproverId", "must be an active executive")
	}
	for _, id := range in.TargetApproverIDs {
		if !execs.Contains(id) {
			return nil, shared.Invalid("targetApproverIds", fmt.Sprintf("person %d is not an active executive", id))
		}
	}
	routing, err := MultiTarget(in.TargetApproverIDs, in.RequireAll)
	if err != nil {
		return nil, shared.Invalid("targetApproverIds", err.Error())
	}
	next.Routing = routing
	return []string{"routing"}, nil
}

// applyAssignment validates the admin's vehicle and driver choice.
func (s *Service) applyAssignment(ctx context.Context, next *Request, in TransitionInput) ([]string, error) {
	var written []string
	if in.AssignedVehicleID != nil {
		if *in.AssignedVehicleID <= 0 {
			return nil, shared.Invalid("assignedVehicleId", "must be positive")
		}
		v := *in.AssignedVehicleID
		next.AssignedVehicleID = &v
		written = append(written, "assigned_vehicle_id")
	}
	if in.AssignedDriverID != nil {
		driver, err := s.people.GetPerson(ctx, *in.AssignedDriverID)
		if err != nil {
			if errors.Is(err, people.ErrNotFound) {
				return nil, shared.Invalid("assignedDriverId", "unknown person")
			}
			return nil, err
		}
		if driver.Role != people.RoleDriver || !driver.Active() {
			return nil, shared.Invalid("assignedDriverId", "must be an active driver")
		}
		d := driver.ID
		next.AssignedDriverID = &d
		written = append(written, "assigned_driver_id")
	}
	return written, nil
}

// commit writes next with compare-and-set and appends the history row in
// the same transaction.
func (s *Service) commit(ctx context.Context, prev, next Request, log shared.ApprovalLog) (Request, error) {
	next.Version = prev.Version + 1
	next.UpdatedAt = s.now()
	conflict := &shared.ConflictError{Entity: "request", ID: prev.ID, Expected: string(prev.Status), Version: prev.Version}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.CompareAndSwap(ctx, next, prev.Status, prev.Version)
		if err != nil {
			return err
		}
		if !ok {
			return conflict
		}
		return tx.RecordHistory(ctx, log)
	})
	if err != nil {
		var ce *shared.ConflictError
		if errors.As(err, &ce) || shared.IsSerializationFailure(err) {
			s.observeConflict()
			s.logger.Info("request transition lost race",
				slog.Int64("request_id", prev.ID),
				slog.String("status", string(prev.Status)),
				slog.Int("version", prev.Version))
			return Request{}, conflict
		}
		return Request{}, err
	}
	if s.observer != nil {
		s.observer.ObserveTransition(string(prev.Status), string(next.Status), string(log.Action))
	}
	if s.inval != nil {
		if err := s.inval.Bump(ctx); err != nil {
			s.logger.Warn("inbox cache invalidation failed",
				slog.Int64("request_id", prev.ID),
				slog.Any("error", err))
		}
	}
	return next, nil
}

// finish computes the blocked flag and dispatches notifications after commit.
func (s *Service) finish(ctx context.Context, prev, saved Request, action string, written []string, comments string) TransitionResult {
	result := TransitionResult{
		RequestID:          saved.ID,
		PreviousStatus:     prev.Status,
		Status:             saved.Status,
		Version:            saved.Version,
		StageFieldsWritten: written,
	}
	s.logger.Info("request transitioned",
		slog.Int64("request_id", saved.ID),
		slog.String("action", action),
		slog.String("from", string(prev.Status)),
		slog.String("to", string(saved.Status)))

	switch {
	case saved.Status.Pending():
		next, err := s.nextApprovers(ctx, saved)
		if err != nil {
			s.logger.Warn("resolve next approvers", slog.Int64("request_id", saved.ID), slog.Any("error", err))
			return result
		}
		result.Blocked = next.Blocked
		if next.Blocked != nil {
			s.logger.Warn("request blocked without approver",
				slog.Int64("request_id", saved.ID),
				slog.String("status", string(saved.Status)))
		}
		s.publish(ctx, notify.Event{
			Kind:       notify.KindActionable,
			Comments:   comments,
			Recipients: recipients(next.Candidates),
		}, saved)
	case saved.Status == StatusApproved:
		s.publishToRequester(ctx, notify.KindApproved, saved, comments)
	case saved.Status == StatusRejected:
		s.publishToRequester(ctx, notify.KindRejected, saved, comments)
	case saved.Status == StatusCancelled && prev.Status.Pending():
		next, err := s.nextApprovers(ctx, prev)
		if err == nil {
			s.publish(ctx, notify.Event{Kind: notify.KindCancelled, Comments: comments, Recipients: recipients(next.Candidates)}, saved)
		}
	}
	return result
}

func (s *Service) publishToRequester(ctx context.Context, kind notify.Kind, saved Request, comments string) {
	requester, err := s.people.GetPerson(ctx, saved.RequesterID)
	if err != nil {
		s.logger.Warn("load requester for notification", slog.Int64("request_id", saved.ID), slog.Any("error", err))
		return
	}
	s.publish(ctx, notify.Event{
		Kind:       kind,
		Comments:   comments,
		Recipients: []notify.Recipient{{PersonID: requester.ID, Name: requester.Name, Email: requester.Email}},
	}, saved)
}

func (s *Service) publish(ctx context.Context, ev notify.Event, saved Request) {
	if s.notifier == nil || len(ev.Recipients) == 0 {
		return
	}
	ev.RequestID = saved.ID
	ev.RequestNumber = saved.Number
	ev.Status = string(saved.Status)
	if _, err := s.notifier.Publish(ctx, ev); err != nil {
		s.logger.Warn("notification dispatch failed",
			slog.Int64("request_id", saved.ID),
			slog.String("kind", string(ev.Kind)),
			slog.Any("error", err))
	}
}

// NextApprovers reports the candidates for the request's current stage.
func (s *Service) NextApprovers(ctx context.Context, id int64) (NextApprovers, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return NextApprovers{}, err
	}
	return s.nextApprovers(ctx, req)
}

func (s *Service) nextApprovers(ctx context.Context, req Request) (NextApprovers, error) {
	out := NextApprovers{RequestID: req.ID, Status: req.Status, Candidates: approvers.Candidates{}}
	q, ok := ApproverQuery(req)
	if !ok {
		return out, nil
	}
	stage, _ := stageFor(req)
	out.Stage = stage
	out.Role = q.Role
	candidates, err := s.resolver.Resolve(ctx, q)
	if err != nil {
		return NextApprovers{}, err
	}
	if req.Status == StatusPendingExec {
		filtered := make(approvers.Candidates, 0, len(candidates))
		for _, c := range candidates {
			if c.PersonID != nil && req.ExecSlotOpenFor(*c.PersonID) {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}
	out.Candidates = candidates
	if len(candidates.Actionable()) == 0 {
		out.Blocked = &shared.ResolutionGap{
			Stage:        string(req.Status),
			Role:         string(q.Role),
			DepartmentID: q.DepartmentID,
			Placeholder:  candidates.Placeholder(),
		}
	}
	return out, nil
}

// Nudge re-notifies the current approvers on behalf of the requester.
func (s *Service) Nudge(ctx context.Context, id, actorID int64) (int, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if req.RequesterID != actorID {
		return 0, &shared.AuthorizationError{ActorID: actorID, Required: "requester", Status: string(req.Status)}
	}
	if !req.Status.Pending() {
		return 0, shared.Invalid("status", "only pending requests can be nudged")
	}
	next, err := s.nextApprovers(ctx, req)
	if err != nil {
		return 0, err
	}
	if next.Blocked != nil {
		return 0, next.Blocked
	}
	to := recipients(next.Candidates)
	if s.notifier != nil {
		ev := notify.Event{RequestID: req.ID, RequestNumber: req.Number, Status: string(req.Status), Recipients: to}
		if err := s.notifier.Nudge(ctx, ev); err != nil {
			return 0, err
		}
	}
	return len(to), nil
}

// RemindStale nudges approvers of requests idle since before now-olderThan.
func (s *Service) RemindStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.repo.ListStale(ctx, s.now().Add(-olderThan), staleSweepLimit)
	if err != nil {
		return 0, err
	}
	reminded := 0
	for _, req := range stale {
		if err := ctx.Err(); err != nil {
			return reminded, err
		}
		next, err := s.nextApprovers(ctx, req)
		if err != nil {
			s.logger.Warn("stale reminder resolve", slog.Int64("request_id", req.ID), slog.Any("error", err))
			continue
		}
		if next.Blocked != nil || s.notifier == nil {
			continue
		}
		ev := notify.Event{RequestID: req.ID, RequestNumber: req.Number, Status: string(req.Status), Recipients: recipients(next.Candidates)}
		if err := s.notifier.Nudge(ctx, ev); err != nil {
			if !errors.Is(err, notify.ErrNudgeTooSoon) {
				s.logger.Warn("stale reminder nudge", slog.Int64("request_id", req.ID), slog.Any("error", err))
			}
			continue
		}
		reminded++
	}
	return reminded, nil
}

func (s *Service) coDepartments(ctx context.Context, ids []int64, primary int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ids = dedupe(ids)
	found, err := s.people.GetPeople(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(found) != len(ids) {
		return nil, shared.Invalid("coRequesterIds", "contains an unknown person")
	}
	var depts []int64
	for _, p := range found {
		if p.DepartmentID == nil || *p.DepartmentID == primary {
			continue
		}
		depts = append(depts, *p.DepartmentID)
	}
	return dedupe(depts), nil
}

func (s *Service) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return shared.Invalid(lowerFirst(fe.Field()), "failed "+fe.Tag()+" check")
		}
		return shared.Invalid("", err.Error())
	}
	return nil
}

func (s *Service) observeConflict() {
	if s.observer != nil {
		s.observer.ObserveConflict("request")
	}
}

// reconcileBudget checks the expense lines against the declared total. A
// zero total with lines takes the line sum.
func reconcileBudget(total decimal.Decimal, items []ExpenseItem) (decimal.Decimal, error) {
	if total.IsNegative() {
		return decimal.Zero, shared.Invalid("totalBudget", "must not be negative")
	}
	sum := decimal.Zero
	for _, item := range items {
		if item.Amount.IsNegative() {
			return decimal.Zero, shared.Invalid("expenseBreakdown", "amounts must not be negative")
		}
		sum = sum.Add(item.Amount)
	}
	if len(items) == 0 {
		return total.Round(2), nil
	}
	if total.IsZero() {
		return sum.Round(2), nil
	}
	if !sum.Round(2).Equal(total.Round(2)) {
		return decimal.Zero, shared.Invalid("expenseBreakdown", fmt.Sprintf("lines sum to %s, total is %s", sum.StringFixed(2), total.StringFixed(2)))
	}
	return total.Round(2), nil
}

func recipients(c approvers.Candidates) []notify.Recipient {
	var out []notify.Recipient
	for _, cand := range c.Actionable() {
		out = append(out, notify.Recipient{PersonID: *cand.PersonID, Name: cand.Name, Email: cand.Email})
	}
	return out
}

func newNumber(now time.Time) string {
	return fmt.Sprintf("TR-%d-%s", now.Year(), strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8]))
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
