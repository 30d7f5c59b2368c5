package approvers

import (
	"context"
	"errors"
	"fmt"

	"github.com/travilink/travilink/internal/people"
)

// Directory is the identity store surface the resolver reads.
type Directory interface {
	GetDepartment(ctx context.Context, id int64) (people.Department, error)
	MappedHeads(ctx context.Context, departmentID int64) ([]people.Person, error)
	FindPeople(ctx context.Context, f people.Filter) ([]people.Person, error)
	LegacyHeads(ctx context.Context) ([]people.Person, error)
}

// Strategy is one link of the head resolution chain.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, dir Directory, dept people.Department) (Candidates, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc struct {
	name string
	fn   func(ctx context.Context, dir Directory, dept people.Department) (Candidates, error)
}

// Name implements Strategy.
func (s StrategyFunc) Name() string { return s.name }

// Resolve implements Strategy.
func (s StrategyFunc) Resolve(ctx context.Context, dir Directory, dept people.Department) (Candidates, error) {
	return s.fn(ctx, dir, dept)
}

// DefaultHeadChain is the ordered head fallback chain.
func DefaultHeadChain() []Strategy {
	direct := []Strategy{mappingStrategy(), headFlagStrategy(), headRoleStrategy()}
	chain := append([]Strategy{}, direct...)
	chain = append(chain, parentStrategy(direct), legacyTextStrategy(), placeholderStrategy())
	return chain
}

func mappingStrategy() Strategy {
	return StrategyFunc{name: "mapping", fn: func(ctx context.Context, dir Directory, dept people.Department) (Candidates, error) {
		heads, err := dir.MappedHeads(ctx, dept.ID)
		if err != nil {
			return nil, err
		}
		return fromPeople(heads, StrengthStrong, "mapping"), nil
	}}
}

func headFlagStrategy() Strategy {
	return StrategyFunc{name: "head_flag", fn: func(ctx context.Context, dir Directory, dept people.Department) (Candidates, error) {
		id := dept.ID
		heads, err := dir.FindPeople(ctx, people.Filter{Flag: people.FlagHead, DepartmentID: &id, ActiveOnly: true})
		if err != nil {
			return nil, err
		}
		return fromPeople(heads, StrengthStrong, "head_flag"), nil
	}}
}

func headRoleStrategy() Strategy {
	return StrategyFunc{name: "head_role", fn: func(ctx context.Context, dir Directory, dept people.Department) (Candidates, error) {
		id := dept.ID
		heads, err := dir.FindPeople(ctx, people.Filter{Role: people.RoleHead, DepartmentID: &id, ActiveOnly: true})
		if err != nil {
			return nil, err
		}
		return fromPeople(heads, StrengthWeak, "head_role"), nil
	}}
}

// parentStrategy runs the direct strategies against the parent department and
// downgrades every hit to weak.
func parentStrategy(direct []Strategy) Strategy {
	return StrategyFunc{name: "parent", fn: func(ctx context.Context, dir Directory, dept people.Department) (Candidates, error) {
		if dept.ParentID == nil {
			return nil, nil
		}
		parent, err := dir.GetDepartment(ctx, *dept.ParentID)
		if err != nil {
			if errors.Is(err, people.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		for _, s := range direct {
			found, err := s.Resolve(ctx, dir, parent)
			if err != nil {
				return nil, err
			}
			if len(found) == 0 {
				continue
			}
			for i := range found {
				found[i].Strength = StrengthWeak
				found[i].Source = "parent:" + found[i].Source
			}
			return found, nil
		}
		return nil, nil
	}}
}

func legacyTextStrategy() Strategy {
	return StrategyFunc{name: "legacy_text", fn: func(ctx context.Context, dir Directory, dept people.Department) (Candidates, error) {
		heads, err := dir.LegacyHeads(ctx)
		if err != nil {
			return nil, err
		}
		var matched []people.Person
		for _, p := range heads {
			if p.DepartmentID != nil && *p.DepartmentID != dept.ID {
				continue
			}
			if matchesDepartment(p.DepartmentText, dept.Name, dept.Code) {
				matched = append(matched, p)
			}
		}
		return fromPeople(matched, StrengthWeak, "legacy_text"), nil
	}}
}

func placeholderStrategy() Strategy {
	return StrategyFunc{name: "placeholder", fn: func(_ context.Context, _ Directory, dept people.Department) (Candidates, error) {
		if dept.HeadName == "" {
			return nil, nil
		}
		return Candidates{{
			Name:     dept.HeadName,
			Strength: StrengthPlaceholder,
			Source:   fmt.Sprintf("department:%d:head_name", dept.ID),
		}}, nil
	}}
}

func fromPeople(list []people.Person, strength Strength, source string) Candidates {
	out := make(Candidates, 0, len(list))
	seen := make(map[int64]struct{}, len(list))
	for _, p := range list {
		if !p.Active() {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		id := p.ID
		out = append(out, Candidate{
			PersonID:   &id,
			Name:       p.Name,
			Email:      p.Email,
			Strength:   strength,
			Source:     source,
			Actionable: true,
		})
	}
	return out
}
