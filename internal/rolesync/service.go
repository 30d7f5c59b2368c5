package rolesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/travilink/travilink/internal/people"
	"github.com/travilink/travilink/internal/shared"
)

const (
	actionRoleChange = "person.role_change"
	actionDeactivate = "person.deactivate"
)

// ActorLookup reads the acting administrator.
type ActorLookup interface {
	GetPerson(ctx context.Context, id int64) (people.Person, error)
}

// Observer receives ledger metrics.
type Observer interface {
	ObserveGrant(role string, granted bool)
}

// Service applies role changes through one transactional write path.
type Service struct {
	repo     RepositoryPort
	actors   ActorLookup
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the synchronizer.
func NewService(repo RepositoryPort, actors ActorLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		actors: actors,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithObserver attaches a metrics observer.
func (s *Service) WithObserver(o Observer) *Service {
	s.observer = o
	return s
}

// ApplyRoleChange reconciles ch against the stored person and commits the
// person row, subtables, head mapping, grant ledger and audit trail together.
func (s *Service) ApplyRoleChange(ctx context.Context, personID int64, ch Change, actorID int64) (Result, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return Result{}, err
	}
	var result Result
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		before, err := s.lock(ctx, tx, personID)
		if err != nil {
			return err
		}
		if !before.Active() {
			return shared.Invalid("personId", "person is inactive")
		}
		next, err := Reconcile(StateOf(before), ch)
		if err != nil {
			return err
		}
		if err := authorizeChange(actor, before, next); err != nil {
			return err
		}
		reason := ch.Reason
		if reason == "" {
			reason = fmt.Sprintf("role changed to %s by %s", next.Role, actorLabel(actor))
		}
		result, err = s.write(ctx, tx, before, next, actorID, reason, actionRoleChange)
		return err
	})
	if err != nil {
		return Result{}, s.mapErr(err, personID)
	}
	s.logCommitted("role change applied", personID, actorID, result)
	return result, nil
}

// Deactivate soft-unlinks a person: inactive status, grants revoked, head
// mapping closed, subtable rows removed.
func (s *Service) Deactivate(ctx context.Context, personID, actorID int64, reason string) (Result, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return Result{}, err
	}
	if actorID == personID {
		return Result{}, &shared.AuthorizationError{ActorID: actorID, Required: "another administrator"}
	}
	if reason == "" {
		reason = "deactivated by " + actorLabel(actor)
	}
	var result Result
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		before, err := s.lock(ctx, tx, personID)
		if err != nil {
			return err
		}
		next := StateOf(before)
		next.Status = people.StatusInactive
		if err := authorizeChange(actor, before, next); err != nil {
			return err
		}
		result, err = s.write(ctx, tx, before, next, actorID, reason, actionDeactivate)
		return err
	})
	if err != nil {
		return Result{}, s.mapErr(err, personID)
	}
	s.logCommitted("person deactivated", personID, actorID, result)
	return result, nil
}

func (s *Service) loadActor(ctx context.Context, actorID int64) (people.Person, error) {
	if actorID <= 0 {
		return people.Person{}, shared.Invalid("actorId", "is required")
	}
	actor, err := s.actors.GetPerson(ctx, actorID)
	if err != nil {
		if errors.Is(err, people.ErrNotFound) {
			return people.Person{}, &shared.AuthorizationError{ActorID: actorID, Required: "admin"}
		}
		return people.Person{}, err
	}
	if !actor.IsAdmin() {
		return people.Person{}, &shared.AuthorizationError{ActorID: actorID, Required: "admin"}
	}
	return actor, nil
}

func (s *Service) lock(ctx context.Context, tx TxRepository, personID int64) (people.Person, error) {
	if err := tx.DeferConstraints(ctx); err != nil {
		return people.Person{}, err
	}
	return tx.LockPerson(ctx, personID)
}

// actorLabel names the actor in ledger reasons.
func actorLabel(actor people.Person) string {
	if actor.SuperAdmin {
		return fmt.Sprintf("super admin %d", actor.ID)
	}
	return fmt.Sprintf("admin %d", actor.ID)
}

// authorizeChange enforces the admin capability rules on a computed change.
func authorizeChange(actor, target people.Person, next State) error {
	touchesAdmin := target.Flags.Admin != next.Flags.Admin || target.SuperAdmin != next.SuperAdmin ||
		(target.Flags.Admin && next.Status != target.Status)
	if touchesAdmin && !(actor.SuperAdmin && actor.Flags.Admin) {
		return &shared.AuthorizationError{ActorID: actor.ID, Required: "super admin"}
	}
	if actor.ID == target.ID && target.Flags.Admin && !next.Flags.Admin {
		return &shared.AuthorizationError{ActorID: actor.ID, Required: "another administrator to revoke your admin capability"}
	}
	return nil
}

// write provisions the new subtable row before the person row, then tidies
// stale rows, mapping and ledger, audits, and verifies.
func (s *Service) write(ctx context.Context, tx TxRepository, before people.Person, next State, actorID int64, reason, action string) (Result, error) {
	now := s.now()
	after := next.Apply(before)
	after.UpdatedAt = now

	if err := tx.UpsertSubtable(ctx, after); err != nil {
		return Result{}, err
	}
	if err := tx.UpdatePerson(ctx, after, now); err != nil {
		return Result{}, err
	}
	if err := tx.DeleteSubtables(ctx, after.ID, SubtableFor(next)); err != nil {
		return Result{}, err
	}
	if err := syncMapping(ctx, tx, after, now); err != nil {
		return Result{}, err
	}
	grants, err := syncGrants(ctx, tx, after.ID, next, actorID, reason, now)
	if err != nil {
		return Result{}, err
	}
	changes := Diff(StateOf(before), next)
	if len(changes) > 0 {
		if err := tx.RecordChanges(ctx, actorID, action, after.ID, changes); err != nil {
			return Result{}, err
		}
	}
	snap, err := tx.Snapshot(ctx, after.ID)
	if err != nil {
		return Result{}, err
	}
	if err := Verify(next, snap); err != nil {
		return Result{}, err
	}
	if grants == nil {
		grants = []GrantDelta{}
	}
	if changes == nil {
		changes = []shared.FieldChange{}
	}
	return Result{Person: after, Grants: grants, Changes: changes}, nil
}

// syncMapping keeps exactly one open mapping for an active head and none otherwise.
func syncMapping(ctx context.Context, tx TxRepository, p people.Person, now time.Time) error {
	active, err := tx.ActiveMapping(ctx, p.ID)
	if err != nil {
		return err
	}
	wantHead := p.Active() && p.Flags.Head && p.DepartmentID != nil
	if wantHead && active != nil && active.DepartmentID == *p.DepartmentID {
		return nil
	}
	if active != nil {
		if _, err := tx.CloseMappings(ctx, p.ID, now); err != nil {
			return err
		}
	}
	if !wantHead {
		return nil
	}
	return tx.OpenMapping(ctx, p.ID, *p.DepartmentID, now)
}

// syncGrants opens or revokes ledger rows so they match next.
func syncGrants(ctx context.Context, tx TxRepository, personID int64, next State, actorID int64, reason string, now time.Time) ([]GrantDelta, error) {
	var deltas []GrantDelta
	for _, role := range people.GrantRoles {
		if next.Holds(role) {
			opened, err := tx.OpenGrant(ctx, personID, role, actorID, reason, now)
			if err != nil {
				return nil, err
			}
			if opened {
				deltas = append(deltas, GrantDelta{Role: role, Granted: true})
			}
			continue
		}
		revoked, err := tx.RevokeGrant(ctx, personID, role, actorID, reason, now)
		if err != nil {
			return nil, err
		}
		if revoked {
			deltas = append(deltas, GrantDelta{Role: role, Granted: false})
		}
	}
	return deltas, nil
}

// Verify checks the stored state against the invariants of next.
func Verify(next State, snap Snapshot) error {
	if snap.Role != next.Role || snap.Status != next.Status {
		return &shared.ConsistencyError{Check: "person_row", Reason: fmt.Sprintf("stored role %s/%s, expected %s/%s", snap.Role, snap.Status, next.Role, next.Status)}
	}
	want := SubtableFor(next)
	for _, table := range Subtables {
		if snap.Rows[table] != (table == want) {
			return &shared.ConsistencyError{Check: "subtable_" + string(table), Reason: fmt.Sprintf("row present=%t for role %s", snap.Rows[table], next.Role)}
		}
	}
	if snap.MaxOpenGrants > 1 {
		return &shared.ConsistencyError{Check: "role_grants_one_open", Reason: fmt.Sprintf("%d open grants for one role", snap.MaxOpenGrants)}
	}
	if snap.ActiveMappings > 1 {
		return &shared.ConsistencyError{Check: "department_heads_one_active", Reason: fmt.Sprintf("%d active mappings", snap.ActiveMappings)}
	}
	wantMapping := next.Status == people.StatusActive && next.Flags.Head && next.DepartmentID != nil
	if wantMapping != (snap.ActiveMappings == 1) {
		return &shared.ConsistencyError{Check: "department_heads_active", Reason: fmt.Sprintf("head=%t but %d active mappings", wantMapping, snap.ActiveMappings)}
	}
	return nil
}

func (s *Service) mapErr(err error, personID int64) error {
	if errors.Is(err, people.ErrNotFound) {
		return shared.NotFound("person", personID)
	}
	if shared.IsSerializationFailure(err) {
		return &shared.ConflictError{Entity: "person", ID: personID}
	}
	var ce *shared.ConsistencyError
	if errors.As(err, &ce) {
		s.logger.Error("role sync consistency check failed",
			slog.Int64("person_id", personID),
			slog.String("check", ce.Check),
			slog.String("reason", ce.Reason))
	}
	return err
}

func (s *Service) logCommitted(msg string, personID, actorID int64, result Result) {
	for _, g := range result.Grants {
		if s.observer != nil {
			s.observer.ObserveGrant(string(g.Role), g.Granted)
		}
	}
	s.logger.Info(msg,
		slog.Int64("person_id", personID),
		slog.Int64("actor_id", actorID),
		slog.String("role", string(result.Person.Role)),
		slog.Int("grant_deltas", len(result.Grants)),
		slog.Int("field_changes", len(result.Changes)))
}
