package people

import (
	"context"
	"errors"
	"strconv"

	"github.com/travilink/travilink/internal/shared"
)

// Store is the read surface of the identity store.
type Store interface {
	GetPerson(ctx context.Context, id int64) (Person, error)
	GetDepartment(ctx context.Context, id int64) (Department, error)
	ActiveMapping(ctx context.Context, personID int64) (*HeadMapping, error)
	ListGrants(ctx context.Context, f GrantFilter) ([]RoleGrant, error)
}

// AuditReader lists audit entries.
type AuditReader interface {
	List(ctx context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error)
}

// AuditEntity is the audit_logs entity name for persons.
const AuditEntity = "people"

// Profile is a person with the derived state an admin screen needs.
type Profile struct {
	Person      Person       `json:"person"`
	Department  *Department  `json:"department,omitempty"`
	HeadMapping *HeadMapping `json:"headMapping,omitempty"`
	OpenGrants  []GrantRole  `json:"openGrants"`
}

// Service exposes identity store queries.
type Service struct {
	store Store
	audit AuditReader
}

// NewService constructs the service.
func NewService(store Store, audit AuditReader) *Service {
	return &Service{store: store, audit: audit}
}

// Profile loads a person together with department, mapping and open grants.
func (s *Service) Profile(ctx context.Context, id int64) (Profile, error) {
	p, err := s.store.GetPerson(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	out := Profile{Person: p, OpenGrants: []GrantRole{}}
	if p.DepartmentID != nil {
		dept, err := s.store.GetDepartment(ctx, *p.DepartmentID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Profile{}, err
		}
		if err == nil {
			out.Department = &dept
		}
	}
	if out.HeadMapping, err = s.store.ActiveMapping(ctx, id); err != nil {
		return Profile{}, err
	}
	grants, err := s.store.ListGrants(ctx, GrantFilter{PersonID: &id, OpenOnly: true})
	if err != nil {
		return Profile{}, err
	}
	for _, g := range grants {
		out.OpenGrants = append(out.OpenGrants, g.Role)
	}
	return out, nil
}

// Grants returns the ledger for one person, or for everyone when personID is nil.
func (s *Service) Grants(ctx context.Context, f GrantFilter) ([]RoleGrant, error) {
	if f.PersonID != nil {
		if _, err := s.store.GetPerson(ctx, *f.PersonID); err != nil {
			return nil, err
		}
	}
	return s.store.ListGrants(ctx, f)
}

// AuditTrail returns field-level changes recorded for a person.
func (s *Service) AuditTrail(ctx context.Context, id int64, limit int) ([]shared.AuditLog, error) {
	if _, err := s.store.GetPerson(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.List(ctx, AuditEntity, strconv.FormatInt(id, 10), limit)
}
