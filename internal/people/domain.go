// Package people is the identity and capability store: persons, departments,
// head mappings and the role grant ledger.
package people

import (
	"errors"
	"time"
)

// ErrNotFound indicates the person or department does not exist.
var ErrNotFound = errors.New("people: not found")

// Role is the single canonical role of a person.
type Role string

const (
	RoleFaculty       Role = "faculty"
	RoleStaff         Role = "staff"
	RoleDriver        Role = "driver"
	RoleHead          Role = "head"
	RoleHR            Role = "hr"
	RoleComptroller   Role = "comptroller"
	RoleExecVP        Role = "exec-vp"
	RoleExecPresident Role = "exec-president"
	RoleAdmin         Role = "admin"
)

// Roles lists every canonical role.
var Roles = []Role{RoleFaculty, RoleStaff, RoleDriver, RoleHead, RoleHR, RoleComptroller, RoleExecVP, RoleExecPresident, RoleAdmin}

// Valid reports whether r is a known canonical role.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// IsBase reports whether r carries no approval capability.
func (r Role) IsBase() bool {
	return r == RoleFaculty || r == RoleStaff || r == RoleDriver
}

// IsExecutive reports whether r is an executive role.
func (r Role) IsExecutive() bool {
	return r == RoleExecVP || r == RoleExecPresident
}

// Flag names an independent capability boolean.
type Flag string

const (
	FlagHead      Flag = "head"
	FlagHR        Flag = "hr"
	FlagVP        Flag = "vp"
	FlagPresident Flag = "president"
	FlagAdmin     Flag = "admin"
)

// AllFlags lists flags from strongest to weakest.
var AllFlags = []Flag{FlagPresident, FlagVP, FlagAdmin, FlagHR, FlagHead}

// Flags are the capability booleans stored on a person.
type Flags struct {
	Head      bool `json:"isHead"`
	HR        bool `json:"isHr"`
	VP        bool `json:"isVp"`
	President bool `json:"isPresident"`
	Admin     bool `json:"isAdmin"`
}

// Get returns the value of flag f.
func (f Flags) Get(flag Flag) bool {
	switch flag {
	case FlagHead:
		return f.Head
	case FlagHR:
		return f.HR
	case FlagVP:
		return f.VP
	case FlagPresident:
		return f.President
	case FlagAdmin:
		return f.Admin
	}
	return false
}

// Set returns a copy of f with flag set to v.
func (f Flags) Set(flag Flag, v bool) Flags {
	switch flag {
	case FlagHead:
		f.Head = v
	case FlagHR:
		f.HR = v
	case FlagVP:
		f.VP = v
	case FlagPresident:
		f.President = v
	case FlagAdmin:
		f.Admin = v
	}
	return f
}

// Status is the lifecycle state of a person.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Person is an identity with a canonical role and capability flags.
type Person struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           Role      `json:"role"`
	Flags          Flags     `json:"flags"`
	SuperAdmin     bool      `json:"superAdmin"`
	DepartmentID   *int64    `json:"departmentId,omitempty"`
	DepartmentText string    `json:"departmentText,omitempty"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Active reports whether the person may act.
func (p Person) Active() bool {
	return p.Status == StatusActive
}

// IsExecutive reports whether the person holds an executive role or flag.
func (p Person) IsExecutive() bool {
	return p.Role.IsExecutive() || p.Flags.VP || p.Flags.President
}

// IsAdmin reports whether the person may administer roles.
func (p Person) IsAdmin() bool {
	return p.Active() && (p.Role == RoleAdmin || p.Flags.Admin)
}

// InDepartment reports whether the person belongs to department id.
func (p Person) InDepartment(id int64) bool {
	return p.DepartmentID != nil && *p.DepartmentID == id
}

// Department is an organisational unit with at most one parent.
type Department struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	ParentID *int64 `json:"parentDepartmentId,omitempty"`
	HeadName string `json:"headName,omitempty"`
}

// HeadMapping is a temporal department head assignment.
type HeadMapping struct {
	ID           int64      `json:"id"`
	PersonID     int64      `json:"personId"`
	DepartmentID int64      `json:"departmentId"`
	ValidFrom    time.Time  `json:"validFrom"`
	ValidTo      *time.Time `json:"validTo,omitempty"`
}

// GrantRole names a ledger role.
type GrantRole string

const (
	GrantHead        GrantRole = "head"
	GrantHR          GrantRole = "hr"
	GrantComptroller GrantRole = "comptroller"
	GrantVP          GrantRole = "vp"
	GrantPresident   GrantRole = "president"
	GrantAdmin       GrantRole = "admin"
)

// GrantRoles lists ledger roles in a stable order.
var GrantRoles = []GrantRole{GrantHead, GrantHR, GrantComptroller, GrantVP, GrantPresident, GrantAdmin}

// RoleGrant is one append-only ledger row.
type RoleGrant struct {
	ID        int64      `json:"id"`
	PersonID  int64      `json:"personId"`
	Role      GrantRole  `json:"role"`
	GrantedBy *int64     `json:"grantedBy,omitempty"`
	GrantedAt time.Time  `json:"grantedAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
	RevokedBy *int64     `json:"revokedBy,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Open reports whether the grant has not been revoked.
func (g RoleGrant) Open() bool {
	return g.RevokedAt == nil
}

// Filter narrows person lookups.
type Filter struct {
	Role         Role
	Flag         Flag
	DepartmentID *int64
	ActiveOnly   bool
}
