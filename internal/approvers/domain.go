// Package approvers resolves the people allowed to act for an approval role.
package approvers

import (
	"errors"
	"strings"
)

// ErrUnknownRole is returned for an approver role the resolver does not know.
var ErrUnknownRole = errors.New("approvers: unknown role")

// Role is an approval capability looked up by the resolver.
type Role string

const (
	RoleHead        Role = "head"
	RoleAdmin       Role = "admin"
	RoleComptroller Role = "comptroller"
	RoleHR          Role = "hr"
	RoleExec        Role = "exec"
	RolePresident   Role = "president"
)

// ParseRole accepts canonical names and the aliases used by API callers.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "head", "parent_head":
		return RoleHead, nil
	case "admin":
		return RoleAdmin, nil
	case "comptroller":
		return RoleComptroller, nil
	case "hr":
		return RoleHR, nil
	case "exec", "vp", "exec-vp":
		return RoleExec, nil
	case "president", "exec-president":
		return RolePresident, nil
	}
	return "", ErrUnknownRole
}

// Strength grades how much a candidate can be trusted.
type Strength string

const (
	StrengthStrong      Strength = "strong"
	StrengthWeak        Strength = "weak"
	StrengthPlaceholder Strength = "placeholder"
)

// Candidate is one resolved approver.
type Candidate struct {
	PersonID   *int64   `json:"personId,omitempty"`
	Name       string   `json:"name"`
	Email      string   `json:"email,omitempty"`
	Strength   Strength `json:"strength"`
	Source     string   `json:"source"`
	Actionable bool     `json:"actionable"`
}

// Query selects the role and department to resolve.
type Query struct {
	Role         Role
	DepartmentID *int64
	Parent       bool
}

// Candidates is an ordered resolver result.
type Candidates []Candidate

// Actionable returns only the candidates that can act.
func (c Candidates) Actionable() Candidates {
	out := make(Candidates, 0, len(c))
	for _, cand := range c {
		if cand.Actionable && cand.PersonID != nil {
			out = append(out, cand)
		}
	}
	return out
}

// Contains reports whether personID is an actionable candidate.
func (c Candidates) Contains(personID int64) bool {
	for _, cand := range c {
		if cand.Actionable && cand.PersonID != nil && *cand.PersonID == personID {
			return true
		}
	}
	return false
}

// IDs returns the ids of actionable candidates in order.
func (c Candidates) IDs() []int64 {
	var ids []int64
	for _, cand := range c.Actionable() {
		ids = append(ids, *cand.PersonID)
	}
	return ids
}

// Placeholder returns the first non-actionable name, if any.
func (c Candidates) Placeholder() string {
	for _, cand := range c {
		if cand.Strength == StrengthPlaceholder {
			return cand.Name
		}
	}
	return ""
}
