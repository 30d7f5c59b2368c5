package requests

import (
	"github.com/travilink/travilink/internal/approvers"
)

// stageFor maps a pending status to the approval block it writes.
func stageFor(r Request) (Stage, bool) {
	switch r.Status {
	case StatusPendingHead:
		return StageHead, true
	case StatusPendingParentHead:
		return StageParentHead, true
	case StatusPendingAdmin:
		return StageAdmin, true
	case StatusPendingComptroller:
		return StageComptroller, true
	case StatusPendingHR:
		return StageHR, true
	case StatusPendingExec:
		return r.execSlot(), true
	case StatusPendingPresident:
		return StagePresident, true
	}
	return "", false
}

// applies reports whether the stage behind status is part of r's route.
func applies(r Request, status Status) bool {
	switch status {
	case StatusPendingHead:
		return !r.RequesterIsHead
	case StatusPendingParentHead:
		return r.ParentDepartmentID != nil
	case StatusPendingAdmin:
		return r.NeedsVehicle
	case StatusPendingComptroller:
		return r.HasBudget()
	case StatusPendingHR:
		return r.RequiresHR
	case StatusPendingExec:
		return !r.DirectToPresident && !r.ParentHeadIsExec
	case StatusPendingPresident:
		return true
	}
	return false
}

// NextStatus returns the first applicable stage after from, or approved.
func NextStatus(r Request, from Status) Status {
	start := 0
	if from != StatusDraft {
		start = len(PendingStatuses)
		for i, s := range PendingStatuses {
			if s == from {
				start = i + 1
				break
			}
		}
	}
	for _, s := range PendingStatuses[start:] {
		if applies(r, s) {
			return s
		}
	}
	return StatusApproved
}

// Route lists every stage r will pass through from draft, given its current flags.
func Route(r Request) []Status {
	var out []Status
	for s := NextStatus(r, StatusDraft); s != StatusApproved; s = NextStatus(r, s) {
		out = append(out, s)
	}
	return out
}

// ApproverQuery returns the resolver query for r's current stage.
func ApproverQuery(r Request) (approvers.Query, bool) {
	dept := r.DepartmentID
	switch r.Status {
	case StatusPendingHead:
		return approvers.Query{Role: approvers.RoleHead, DepartmentID: &dept}, true
	case StatusPendingParentHead:
		return approvers.Query{Role: approvers.RoleHead, DepartmentID: &dept, Parent: true}, true
	case StatusPendingAdmin:
		return approvers.Query{Role: approvers.RoleAdmin}, true
	case StatusPendingComptroller:
		return approvers.Query{Role: approvers.RoleComptroller}, true
	case StatusPendingHR:
		return approvers.Query{Role: approvers.RoleHR}, true
	case StatusPendingExec:
		return approvers.Query{Role: approvers.RoleExec}, true
	case StatusPendingPresident:
		return approvers.Query{Role: approvers.RolePresident}, true
	}
	return approvers.Query{}, false
}

// requiresSignature reports whether approving status needs a signature.
func requiresSignature(status Status) bool {
	switch status {
	case StatusPendingHead, StatusPendingParentHead, StatusPendingHR, StatusPendingExec, StatusPendingPresident:
		return true
	}
	return false
}

// actorRole is the role label written to history for an approval at status.
func actorRole(status Status) string {
	switch status {
	case StatusPendingHead:
		return "head"
	case StatusPendingParentHead:
		return "parent_head"
	case StatusPendingAdmin:
		return "admin"
	case StatusPendingComptroller:
		return "comptroller"
	case StatusPendingHR:
		return "hr"
	case StatusPendingExec:
		return "vp"
	case StatusPendingPresident:
		return "president"
	}
	return "requester"
}
