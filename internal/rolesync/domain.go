// Package rolesync is the single write path for a person's canonical role,
// capability flags, grant ledger, head mapping and role subtable rows.
package rolesync

import (
	"github.com/travilink/travilink/internal/people"
	"github.com/travilink/travilink/internal/shared"
)

// FlagChanges carries explicitly requested flag values; nil leaves a flag alone.
type FlagChanges struct {
	Head      *bool `json:"isHead,omitempty"`
	HR        *bool `json:"isHr,omitempty"`
	VP        *bool `json:"isVp,omitempty"`
	President *bool `json:"isPresident,omitempty"`
	Admin     *bool `json:"isAdmin,omitempty"`
}

// Get returns the requested value for flag.
func (f FlagChanges) Get(flag people.Flag) (bool, bool) {
	var v *bool
	switch flag {
	case people.FlagHead:
		v = f.Head
	case people.FlagHR:
		v = f.HR
	case people.FlagVP:
		v = f.VP
	case people.FlagPresident:
		v = f.President
	case people.FlagAdmin:
		v = f.Admin
	}
	if v == nil {
		return false, false
	}
	return *v, true
}

// Change is a requested update to one person's capabilities. A zero
// DepartmentID clears the department.
type Change struct {
	Role         *people.Role `json:"role,omitempty"`
	Flags        FlagChanges  `json:"flags"`
	DepartmentID *int64       `json:"departmentId,omitempty"`
	SuperAdmin   *bool        `json:"superAdmin,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

// State is the part of a person the synchronizer owns.
type State struct {
	Role         people.Role
	Flags        people.Flags
	SuperAdmin   bool
	DepartmentID *int64
	Status       people.Status
}

// StateOf extracts the synchronized fields of p.
func StateOf(p people.Person) State {
	return State{Role: p.Role, Flags: p.Flags, SuperAdmin: p.SuperAdmin, DepartmentID: p.DepartmentID, Status: p.Status}
}

// Apply writes s onto p.
func (s State) Apply(p people.Person) people.Person {
	p.Role = s.Role
	p.Flags = s.Flags
	p.SuperAdmin = s.SuperAdmin
	p.DepartmentID = s.DepartmentID
	p.Status = s.Status
	return p
}

// Holds reports whether s carries the ledger capability role.
func (s State) Holds(role people.GrantRole) bool {
	if s.Status != people.StatusActive {
		return false
	}
	switch role {
	case people.GrantHead:
		return s.Flags.Head
	case people.GrantHR:
		return s.Flags.HR
	case people.GrantVP:
		return s.Flags.VP
	case people.GrantPresident:
		return s.Flags.President
	case people.GrantAdmin:
		return s.Flags.Admin
	case people.GrantComptroller:
		return s.Role == people.RoleComptroller
	}
	return false
}

// Subtable names the role-specific table a person must have a row in.
type Subtable string

const (
	SubtableNone    Subtable = ""
	SubtableAdmins  Subtable = "admins"
	SubtableFaculty Subtable = "faculties"
	SubtableDrivers Subtable = "drivers"
)

// Subtables lists every role subtable.
var Subtables = []Subtable{SubtableAdmins, SubtableFaculty, SubtableDrivers}

// SubtableFor returns the subtable required by s.
func SubtableFor(s State) Subtable {
	if s.Status != people.StatusActive {
		return SubtableNone
	}
	switch s.Role {
	case people.RoleAdmin:
		return SubtableAdmins
	case people.RoleFaculty:
		return SubtableFaculty
	case people.RoleDriver:
		return SubtableDrivers
	}
	return SubtableNone
}

// GrantDelta is one ledger row opened or revoked by a change.
type GrantDelta struct {
	Role    people.GrantRole `json:"role"`
	Granted bool             `json:"granted"`
}

// Result reports a committed change.
type Result struct {
	Person  people.Person        `json:"person"`
	Grants  []GrantDelta         `json:"grants"`
	Changes []shared.FieldChange `json:"changes"`
}

// Snapshot is the post-write state read back for verification.
type Snapshot struct {
	Role           people.Role
	Status         people.Status
	IsHead         bool
	Rows           map[Subtable]bool
	MaxOpenGrants  int
	ActiveMappings int
}
