package rbac

import (
	"context"
	"errors"
	"sort"

	"github.com/travilink/travilink/internal/people"
)

// ErrNotFound indicates that the actor does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Source reads persons and their open ledger rows.
type Source interface {
	GetPerson(ctx context.Context, id int64) (people.Person, error)
	ListGrants(ctx context.Context, f people.GrantFilter) ([]people.RoleGrant, error)
}

// Service resolves actor capabilities from the grant ledger.
type Service struct {
	source Source
}

// NewService constructs a Service.
func NewService(source Source) *Service {
	return &Service{source: source}
}

// EffectiveCapabilities returns the sorted capabilities of an active person.
// Inactive persons have none.
func (s *Service) EffectiveCapabilities(ctx context.Context, personID int64) ([]string, error) {
	p, err := s.source.GetPerson(ctx, personID)
	if err != nil {
		if errors.Is(err, people.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !p.Active() {
		return []string{}, nil
	}
	grants, err := s.source.ListGrants(ctx, people.GrantFilter{PersonID: &personID, OpenOnly: true})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(grants)+1)
	for _, g := range grants {
		seen[string(g.Role)] = struct{}{}
	}
	if _, admin := seen[CapAdmin]; admin && p.SuperAdmin {
		seen[CapSuperAdmin] = struct{}{}
	}
	caps := make([]string, 0, len(seen))
	for c := range seen {
		caps = append(caps, c)
	}
	sort.Strings(caps)
	return caps, nil
}
