// Package requests implements the travel request lifecycle: creation,
// submission and the fixed approval stage graph.
package requests

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound indicates the request does not exist.
var ErrNotFound = errors.New("requests: not found")

// Status is the lifecycle state of a request.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusPendingHead        Status = "pending_head"
	StatusPendingParentHead  Status = "pending_parent_head"
	StatusPendingAdmin       Status = "pending_admin"
	StatusPendingComptroller Status = "pending_comptroller"
	StatusPendingHR          Status = "pending_hr"
	StatusPendingExec        Status = "pending_exec"
	StatusPendingPresident   Status = "pending_president"
	StatusApproved           Status = "approved"
	StatusRejected           Status = "rejected"
	StatusCancelled          Status = "cancelled"
)

// PendingStatuses lists approval stages in graph order.
var PendingStatuses = []Status{
	StatusPendingHead,
	StatusPendingParentHead,
	StatusPendingAdmin,
	StatusPendingComptroller,
	StatusPendingHR,
	StatusPendingExec,
	StatusPendingPresident,
}

// Pending reports whether s awaits an approver.
func (s Status) Pending() bool {
	for _, p := range PendingStatuses {
		if s == p {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// Stage names a block of approval fields on a request.
type Stage string

const (
	StageHead        Stage = "head"
	StageParentHead  Stage = "parent_head"
	StageAdmin       Stage = "admin"
	StageComptroller Stage = "comptroller"
	StageHR          Stage = "hr"
	StageVP          Stage = "vp"
	StageVP2         Stage = "vp2"
	StagePresident   Stage = "president"
)

// StageApproval holds the fields written when a stage is approved.
type StageApproval struct {
	ApprovedBy int64     `json:"approvedBy"`
	ApprovedAt time.Time `json:"approvedAt"`
	Signature  string    `json:"signature,omitempty"`
	Comments   string    `json:"comments,omitempty"`
}

// ExpenseItem is one line of the declared budget.
type ExpenseItem struct {
	Item        string          `json:"item" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// Rejection records a terminal rejection.
type Rejection struct {
	By     int64     `json:"by"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
	Stage  Status    `json:"stage"`
}

// Cancellation records a requester cancellation.
type Cancellation struct {
	By     int64     `json:"by"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Request is a travel request and its approval state.
type Request struct {
	ID                      int64                   `json:"id"`
	Number                  string                  `json:"number"`
	RequesterID             int64                   `json:"requesterId"`
	DepartmentID            int64                   `json:"departmentId"`
	ParentDepartmentID      *int64                  `json:"parentDepartmentId,omitempty"`
	CoDepartmentIDs         []int64                 `json:"coDepartmentIds"`
	Status                  Status                  `json:"status"`
	Purpose                 string                  `json:"purpose"`
	Destination             string                  `json:"destination"`
	TravelStart             time.Time               `json:"travelStart"`
	TravelEnd               time.Time               `json:"travelEnd"`
	TotalBudget             decimal.Decimal         `json:"totalBudget"`
	ExpenseBreakdown        []ExpenseItem           `json:"expenseBreakdown"`
	NeedsVehicle            bool                    `json:"needsVehicle"`
	AssignedVehicleID       *int64                  `json:"assignedVehicleId,omitempty"`
	AssignedDriverID        *int64                  `json:"assignedDriverId,omitempty"`
	RequiresHR              bool                    `json:"requiresHr"`
	DirectToPresident       bool                    `json:"directToPresident"`
	RequesterIsHead         bool                    `json:"requesterIsHead"`
	ParentHeadIsExec        bool                    `json:"parentHeadIsExec"`
	Routing                 Routing                 `json:"routing"`
	Stages                  map[Stage]StageApproval `json:"stages"`
	ComptrollerEditedBudget *decimal.Decimal        `json:"comptrollerEditedBudget,omitempty"`
	Rejection               *Rejection              `json:"rejection,omitempty"`
	Cancellation            *Cancellation           `json:"cancellation,omitempty"`
	Version                 int                     `json:"version"`
	SubmittedAt             *time.Time              `json:"submittedAt,omitempty"`
	CreatedAt               time.Time               `json:"createdAt"`
	UpdatedAt               time.Time               `json:"updatedAt"`
}

// HasBudget reports whether a budget was declared.
func (r Request) HasBudget() bool {
	return r.TotalBudget.IsPositive()
}

// Approved reports whether stage has been signed off.
func (r Request) Approved(stage Stage) (StageApproval, bool) {
	a, ok := r.Stages[stage]
	return a, ok && a.ApprovedBy != 0
}

// clone returns a deep enough copy for mutation during a transition.
func (r Request) clone() Request {
	out := r
	out.Stages = make(map[Stage]StageApproval, len(r.Stages)+1)
	for k, v := range r.Stages {
		out.Stages[k] = v
	}
	out.CoDepartmentIDs = append([]int64(nil), r.CoDepartmentIDs...)
	out.ExpenseBreakdown = append([]ExpenseItem(nil), r.ExpenseBreakdown...)
	out.Routing.Targets = append([]int64(nil), r.Routing.Targets...)
	return out
}

// Action is a transition verb.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
)

// ParseAction validates a transition verb.
func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case ActionApprove, ActionReject, ActionCancel:
		return Action(raw), nil
	}
	return "", fmt.Errorf("unknown action %q", raw)
}
