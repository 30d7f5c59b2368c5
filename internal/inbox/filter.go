// Package inbox computes which pending travel requests each approver sees.
package inbox

import (
	"errors"
	"strings"

	"github.com/travilink/travilink/internal/approvers"
	"github.com/travilink/travilink/internal/requests"
)

// ErrUnknownRole is returned for an inbox role outside the approval stages.
var ErrUnknownRole = errors.New("inbox: unknown role")

// Role selects whose queue to compute.
type Role string

const (
	RoleHead        Role = "head"
	RoleParentHead  Role = "parent_head"
	RoleAdmin       Role = "admin"
	RoleComptroller Role = "comptroller"
	RoleHR          Role = "hr"
	RoleExec        Role = "vp"
	RolePresident   Role = "president"
)

// ParseRole accepts stage names and the executive aliases.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "head":
		return RoleHead, nil
	case "parent_head", "parent-head":
		return RoleParentHead, nil
	case "admin":
		return RoleAdmin, nil
	case "comptroller":
		return RoleComptroller, nil
	case "hr":
		return RoleHR, nil
	case "vp", "exec", "exec-vp":
		return RoleExec, nil
	case "president", "exec-president":
		return RolePresident, nil
	}
	return "", ErrUnknownRole
}

// statuses lists the actionable stages for role. A head also acts as
// parent head for child departments.
func (r Role) statuses() []requests.Status {
	switch r {
	case RoleHead:
		return []requests.Status{requests.StatusPendingHead, requests.StatusPendingParentHead}
	case RoleParentHead:
		return []requests.Status{requests.StatusPendingParentHead}
	case RoleAdmin:
		return []requests.Status{requests.StatusPendingAdmin}
	case RoleComptroller:
		return []requests.Status{requests.StatusPendingComptroller}
	case RoleHR:
		return []requests.Status{requests.StatusPendingHR}
	case RoleExec:
		return []requests.Status{requests.StatusPendingExec}
	case RolePresident:
		return []requests.Status{requests.StatusPendingPresident}
	}
	return nil
}

// upcomingStatuses are stages before the executive stage.
var upcomingStatuses = []requests.Status{
	requests.StatusPendingHead,
	requests.StatusPendingParentHead,
	requests.StatusPendingAdmin,
	requests.StatusPendingComptroller,
	requests.StatusPendingHR,
}

// VisibleToExecutive reports whether execID may act on req at the
// executive stage. execs is the resolved executive candidate list; only
// its actionable members are considered. The result depends on nothing
// but its inputs, so repeated calls agree.
func VisibleToExecutive(req requests.Request, execID int64, execs approvers.Candidates) bool {
	if !execs.Contains(execID) {
		return false
	}
	return req.ExecSlotOpenFor(execID)
}

// UpcomingForExecutive reports whether req, still in an earlier stage,
// names execID as its executive target.
func UpcomingForExecutive(req requests.Request, execID int64, execs approvers.Candidates) bool {
	if !execs.Contains(execID) || req.ParentHeadIsExec || req.DirectToPresident {
		return false
	}
	if req.Routing.Kind == requests.RoutingUnassigned || !req.Routing.Names(execID) {
		return false
	}
	for _, s := range upcomingStatuses {
		if req.Status == s {
			return true
		}
	}
	return false
}
