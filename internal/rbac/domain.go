package rbac

import "github.com/travilink/travilink/internal/people"

// Capability names something an actor may do. Ledger roles double as
// capabilities; super_admin is derived from the person row.
type Capability = string

const (
	CapAdmin       Capability = string(people.GrantAdmin)
	CapSuperAdmin  Capability = "super_admin"
	CapHR          Capability = string(people.GrantHR)
	CapHead        Capability = string(people.GrantHead)
	CapComptroller Capability = string(people.GrantComptroller)
	CapVP          Capability = string(people.GrantVP)
	CapPresident   Capability = string(people.GrantPresident)
)
