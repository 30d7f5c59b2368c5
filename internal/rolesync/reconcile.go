package rolesync

import (
	"fmt"

	"github.com/travilink/travilink/internal/people"
	"github.com/travilink/travilink/internal/shared"
)

// compatible lists the flags allowed to stay true for each canonical role.
var compatible = map[people.Role][]people.Flag{
	people.RoleFaculty:       {people.FlagHead},
	people.RoleStaff:         {people.FlagHead},
	people.RoleDriver:        {},
	people.RoleHead:          {people.FlagHead, people.FlagVP, people.FlagPresident},
	people.RoleHR:            {people.FlagHR},
	people.RoleComptroller:   {},
	people.RoleExecVP:        {people.FlagVP, people.FlagHead},
	people.RoleExecPresident: {people.FlagPresident, people.FlagHead},
	people.RoleAdmin:         {people.FlagAdmin},
}

// flagRole is the canonical role a flag promotes to.
var flagRole = map[people.Flag]people.Role{
	people.FlagHead:      people.RoleHead,
	people.FlagHR:        people.RoleHR,
	people.FlagVP:        people.RoleExecVP,
	people.FlagPresident: people.RoleExecPresident,
	people.FlagAdmin:     people.RoleAdmin,
}

// Compatible reports whether flag may be true alongside role.
func Compatible(role people.Role, flag people.Flag) bool {
	for _, f := range compatible[role] {
		if f == flag {
			return true
		}
	}
	return false
}

// impliedFlag returns the flag a role switches on, if any.
func impliedFlag(role people.Role) (people.Flag, bool) {
	for flag, r := range flagRole {
		if r == role {
			return flag, true
		}
	}
	return "", false
}

func clearIncompatible(s State, keep map[people.Flag]bool) State {
	for _, flag := range people.AllFlags {
		if _, explicit := keep[flag]; explicit {
			continue
		}
		if s.Flags.Get(flag) && !Compatible(s.Role, flag) {
			s.Flags = s.Flags.Set(flag, false)
		}
	}
	return s
}

// Reconcile derives the next role and flags from current and ch. It has no
// side effects; persistence happens in Service.
func Reconcile(current State, ch Change) (State, error) {
	next := current
	explicit := make(map[people.Flag]bool)
	for _, flag := range people.AllFlags {
		if v, ok := ch.Flags.Get(flag); ok {
			explicit[flag] = v
		}
	}

	if ch.Role != nil {
		role := *ch.Role
		if !role.Valid() {
			return State{}, shared.Invalid("role", fmt.Sprintf("unknown role %q", role))
		}
		next.Role = role
		if flag, ok := impliedFlag(role); ok {
			if v, set := explicit[flag]; set && !v {
				return State{}, shared.Invalid("flags", fmt.Sprintf("role %s requires %s flag", role, flag))
			}
			next.Flags = next.Flags.Set(flag, true)
		}
		for _, flag := range people.AllFlags {
			v, set := explicit[flag]
			if !set {
				continue
			}
			if v && !Compatible(role, flag) {
				return State{}, shared.Invalid("flags", fmt.Sprintf("flag %s conflicts with role %s", flag, role))
			}
			next.Flags = next.Flags.Set(flag, v)
		}
		next = clearIncompatible(next, explicit)
	} else {
		for _, flag := range people.AllFlags {
			v, set := explicit[flag]
			if !set {
				continue
			}
			next.Flags = next.Flags.Set(flag, v)
			if v {
				if next.Role.IsBase() || executiveFlag(flag) || !Compatible(next.Role, flag) {
					next.Role = flagRole[flag]
				}
			} else if next.Role == flagRole[flag] {
				next.Role = fallbackRole(next.Flags)
			}
			next = clearIncompatible(next, explicit)
		}
		for _, flag := range people.AllFlags {
			v, set := explicit[flag]
			if !set {
				continue
			}
			if next.Flags.Get(flag) != v || (v && !Compatible(next.Role, flag)) {
				return State{}, shared.Invalid("flags", fmt.Sprintf("flag %s conflicts with the other requested flags", flag))
			}
		}
	}

	if ch.SuperAdmin != nil {
		if *ch.SuperAdmin && !next.Flags.Admin {
			return State{}, shared.Invalid("superAdmin", "super admin requires the admin flag")
		}
		next.SuperAdmin = *ch.SuperAdmin
	}
	if !next.Flags.Admin {
		next.SuperAdmin = false
	}

	if ch.DepartmentID != nil {
		if *ch.DepartmentID <= 0 {
			next.DepartmentID = nil
		} else {
			id := *ch.DepartmentID
			next.DepartmentID = &id
		}
	}
	checkHeadDepartment := !current.Flags.Head || current.DepartmentID != nil
	if next.Flags.Head && next.DepartmentID == nil && checkHeadDepartment {
		return State{}, shared.Invalid("departmentId", "a department head needs a department")
	}
	return next, nil
}

// executiveFlag reports whether flag always carries its canonical role.
func executiveFlag(flag people.Flag) bool {
	return flag == people.FlagVP || flag == people.FlagPresident
}

// fallbackRole picks the strongest remaining flag role, else faculty.
func fallbackRole(flags people.Flags) people.Role {
	for _, flag := range people.AllFlags {
		if flags.Get(flag) {
			return flagRole[flag]
		}
	}
	return people.RoleFaculty
}

// Diff lists audited field deltas between two states.
func Diff(before, after State) []shared.FieldChange {
	var out []shared.FieldChange
	add := func(field string, old, updated any) {
		out = append(out, shared.FieldChange{Field: field, Old: old, New: updated})
	}
	if before.Role != after.Role {
		add("role", string(before.Role), string(after.Role))
	}
	for _, flag := range people.AllFlags {
		if b, a := before.Flags.Get(flag), after.Flags.Get(flag); b != a {
			add("is_"+string(flag), b, a)
		}
	}
	if before.SuperAdmin != after.SuperAdmin {
		add("super_admin", before.SuperAdmin, after.SuperAdmin)
	}
	if !sameDepartment(before.DepartmentID, after.DepartmentID) {
		add("department_id", deptValue(before.DepartmentID), deptValue(after.DepartmentID))
	}
	if before.Status != after.Status {
		add("status", string(before.Status), string(after.Status))
	}
	return out
}

func sameDepartment(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func deptValue(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
