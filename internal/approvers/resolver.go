package approvers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/travilink/travilink/internal/people"
)

// capability pairs a canonical role with its equivalent flag.
type capability struct {
	role people.Role
	flag people.Flag
}

var capabilities = map[Role]capability{
	RoleAdmin:       {role: people.RoleAdmin, flag: people.FlagAdmin},
	RoleComptroller: {role: people.RoleComptroller},
	RoleHR:          {role: people.RoleHR, flag: people.FlagHR},
	RoleExec:        {role: people.RoleExecVP, flag: people.FlagVP},
	RolePresident:   {role: people.RoleExecPresident, flag: people.FlagPresident},
}

// Resolver maps an approval role and department to ordered candidates.
type Resolver struct {
	dir    Directory
	chain  []Strategy
	logger *slog.Logger
}

// NewResolver constructs a Resolver using the default head chain.
func NewResolver(dir Directory, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{dir: dir, chain: DefaultHeadChain(), logger: logger}
}

// WithChain replaces the head chain.
func (r *Resolver) WithChain(chain ...Strategy) *Resolver {
	clone := *r
	clone.chain = chain
	return &clone
}

// Resolve returns candidates for q. A missing department or person never
// yields an error; only storage failures do.
func (r *Resolver) Resolve(ctx context.Context, q Query) (Candidates, error) {
	if q.Role == RoleHead {
		return r.resolveHead(ctx, q)
	}
	capab, ok := capabilities[q.Role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, q.Role)
	}
	byRole, err := r.dir.FindPeople(ctx, people.Filter{Role: capab.role, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("approvers: %s by role: %w", q.Role, err)
	}
	out := fromPeople(byRole, StrengthStrong, "role")
	if capab.flag == "" {
		return out, nil
	}
	byFlag, err := r.dir.FindPeople(ctx, people.Filter{Flag: capab.flag, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("approvers: %s by flag: %w", q.Role, err)
	}
	seen := make(map[int64]struct{}, len(out))
	for _, c := range out {
		seen[*c.PersonID] = struct{}{}
	}
	for _, c := range fromPeople(byFlag, StrengthStrong, "flag") {
		if _, dup := seen[*c.PersonID]; dup {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Resolver) resolveHead(ctx context.Context, q Query) (Candidates, error) {
	if q.DepartmentID == nil {
		return Candidates{}, nil
	}
	dept, err := r.dir.GetDepartment(ctx, *q.DepartmentID)
	if err != nil {
		if errors.Is(err, people.ErrNotFound) {
			return Candidates{}, nil
		}
		return nil, fmt.Errorf("approvers: load department: %w", err)
	}
	if q.Parent {
		if dept.ParentID == nil {
			return Candidates{}, nil
		}
		dept, err = r.dir.GetDepartment(ctx, *dept.ParentID)
		if err != nil {
			if errors.Is(err, people.ErrNotFound) {
				return Candidates{}, nil
			}
			return nil, fmt.Errorf("approvers: load parent department: %w", err)
		}
	}
	for _, s := range r.chain {
		found, err := s.Resolve(ctx, r.dir, dept)
		if err != nil {
			return nil, fmt.Errorf("approvers: strategy %s: %w", s.Name(), err)
		}
		if len(found) > 0 {
			if s.Name() != "mapping" && s.Name() != "head_flag" {
				r.logger.Debug("head resolved by fallback",
					slog.Int64("department_id", dept.ID),
					slog.String("strategy", s.Name()),
					slog.Int("candidates", len(found)))
			}
			return found, nil
		}
	}
	return Candidates{}, nil
}
