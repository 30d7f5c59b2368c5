package requests

import (
	"encoding/json"
	"fmt"
)

// RoutingKind selects how the executive stage is addressed.
type RoutingKind string

const (
	RoutingUnassigned RoutingKind = "unassigned"
	RoutingSingle     RoutingKind = "single"
	RoutingMulti      RoutingKind = "multi"
)

// Routing is the executive target chosen by a head approval. Unassigned
// routing opens the request to every active executive; Dual asks for a
// second, different executive signature.
type Routing struct {
	Kind       RoutingKind `json:"kind"`
	Targets    []int64     `json:"targets,omitempty"`
	RequireAll bool        `json:"requireAll,omitempty"`
	Dual       bool        `json:"dual,omitempty"`
}

// Unassigned returns the default routing.
func Unassigned(dual bool) Routing {
	return Routing{Kind: RoutingUnassigned, Dual: dual}
}

// SingleTarget routes to one executive.
func SingleTarget(id int64) Routing {
	return Routing{Kind: RoutingSingle, Targets: []int64{id}}
}

// MultiTarget routes to several executives. With requireAll every listed
// executive signs; at most two slots exist.
func MultiTarget(ids []int64, requireAll bool) (Routing, error) {
	uniq := dedupe(ids)
	if len(uniq) == 0 {
		return Routing{}, fmt.Errorf("at least one target is required")
	}
	if requireAll && len(uniq) != 2 {
		return Routing{}, fmt.Errorf("requireAll needs exactly two distinct targets, got %d", len(uniq))
	}
	if len(uniq) == 1 {
		return SingleTarget(uniq[0]), nil
	}
	return Routing{Kind: RoutingMulti, Targets: uniq, RequireAll: requireAll}, nil
}

// Names reports whether id is an explicit target.
func (r Routing) Names(id int64) bool {
	for _, t := range r.Targets {
		if t == id {
			return true
		}
	}
	return false
}

// TwoSignatures reports whether the executive stage needs two signers.
func (r Routing) TwoSignatures() bool {
	return (r.Kind == RoutingMulti && r.RequireAll) || (r.Kind == RoutingUnassigned && r.Dual)
}

// UnmarshalJSON defaults an empty kind to unassigned.
func (r *Routing) UnmarshalJSON(data []byte) error {
	type plain Routing
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Kind == "" {
		p.Kind = RoutingUnassigned
	}
	*r = Routing(p)
	return nil
}

// ExecSlotOpenFor reports whether executive execID may sign the executive
// stage of r right now. It does not check that execID is an active
// executive; callers resolve that separately.
func (r Request) ExecSlotOpenFor(execID int64) bool {
	if r.Status != StatusPendingExec || r.ParentHeadIsExec {
		return false
	}
	first, firstSigned := r.Approved(StageVP)
	_, secondSigned := r.Approved(StageVP2)
	if firstSigned && first.ApprovedBy == execID {
		return false
	}
	switch r.Routing.Kind {
	case RoutingSingle:
		return !firstSigned && r.Routing.Names(execID)
	case RoutingMulti:
		if !r.Routing.Names(execID) {
			return false
		}
		if r.Routing.RequireAll {
			return !secondSigned
		}
		return !firstSigned
	default:
		if !firstSigned {
			return true
		}
		return r.Routing.Dual && !secondSigned
	}
}

// execSlot returns the stage a new executive signature fills.
func (r Request) execSlot() Stage {
	if _, ok := r.Approved(StageVP); ok {
		return StageVP2
	}
	return StageVP
}

// execComplete reports whether enough executives have signed.
func (r Request) execComplete() bool {
	_, first := r.Approved(StageVP)
	_, second := r.Approved(StageVP2)
	if r.Routing.TwoSignatures() {
		return first && second
	}
	return first
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
