package rolesync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/travilink/travilink/internal/people"
	"github.com/travilink/travilink/internal/platform/db"
	"github.com/travilink/travilink/internal/shared"
)

// RepositoryPort is the persistence surface used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the synchronizer's writes inside one transaction.
type TxRepository interface {
	DeferConstraints(ctx context.Context) error
	LockPerson(ctx context.Context, id int64) (people.Person, error)
	UpsertSubtable(ctx context.Context, p people.Person) error
	DeleteSubtables(ctx context.Context, personID int64, keep Subtable) error
	UpdatePerson(ctx context.Context, p people.Person, at time.Time) error
	ActiveMapping(ctx context.Context, personID int64) (*people.HeadMapping, error)
	CloseMappings(ctx context.Context, personID int64, at time.Time) (int64, error)
	OpenMapping(ctx context.Context, personID, departmentID int64, at time.Time) error
	OpenGrant(ctx context.Context, personID int64, role people.GrantRole, by int64, reason string, at time.Time) (bool, error)
	RevokeGrant(ctx context.Context, personID int64, role people.GrantRole, by int64, reason string, at time.Time) (bool, error)
	RecordChanges(ctx context.Context, actorID int64, action string, personID int64, changes []shared.FieldChange) error
	Snapshot(ctx context.Context, personID int64) (Snapshot, error)
}

// DB is the pool surface needed by Repository.
type DB interface {
	shared.DBTX
	db.Beginner
}

// Repository persists synchronizer writes in PostgreSQL.
type Repository struct {
	pool  DB
	audit *shared.AuditLogger
}

// NewRepository constructs a repository.
func NewRepository(pool DB, audit *shared.AuditLogger) *Repository {
	if audit == nil {
		audit = shared.NewAuditLogger(pool)
	}
	return &Repository{pool: pool, audit: audit}
}

// WithTx runs fn in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, audit: r.audit})
	})
}

type txRepo struct {
	tx    pgx.Tx
	audit *shared.AuditLogger
}

// DeferConstraints postpones deferrable foreign keys to commit.
func (t *txRepo) DeferConstraints(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `SET CONSTRAINTS ALL DEFERRED`); err != nil {
		return fmt.Errorf("rolesync: defer constraints: %w", err)
	}
	return nil
}

// LockPerson reads the person row FOR UPDATE.
func (t *txRepo) LockPerson(ctx context.Context, id int64) (people.Person, error) {
	p, err := people.ScanPerson(t.tx.QueryRow(ctx, `SELECT `+people.PersonColumns()+` FROM people p WHERE p.id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return people.Person{}, people.ErrNotFound
		}
		return people.Person{}, fmt.Errorf("rolesync: lock person: %w", err)
	}
	return p, nil
}

// UpsertSubtable provisions the subtable row required by p's role.
func (t *txRepo) UpsertSubtable(ctx context.Context, p people.Person) error {
	var err error
	switch SubtableFor(StateOf(p)) {
	case SubtableAdmins:
		_, err = t.tx.Exec(ctx, `INSERT INTO admins (person_id, super_admin) VALUES ($1, $2)
ON CONFLICT (person_id) DO UPDATE SET super_admin = EXCLUDED.super_admin`, p.ID, p.SuperAdmin)
	case SubtableFaculty:
		_, err = t.tx.Exec(ctx, `INSERT INTO faculties (person_id, department_id) VALUES ($1, $2)
ON CONFLICT (person_id) DO UPDATE SET department_id = EXCLUDED.department_id`, p.ID, p.DepartmentID)
	case SubtableDrivers:
		_, err = t.tx.Exec(ctx, `INSERT INTO drivers (person_id) VALUES ($1) ON CONFLICT (person_id) DO NOTHING`, p.ID)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("rolesync: upsert subtable: %w", err)
	}
	return nil
}

// DeleteSubtables removes every subtable row except keep.
func (t *txRepo) DeleteSubtables(ctx context.Context, personID int64, keep Subtable) error {
	for _, table := range Subtables {
		if table == keep {
			continue
		}
		if _, err := t.tx.Exec(ctx, `DELETE FROM `+string(table)+` WHERE person_id=$1`, personID); err != nil {
			return fmt.Errorf("rolesync: delete %s row: %w", table, err)
		}
	}
	return nil
}

// UpdatePerson writes the synchronized columns.
func (t *txRepo) UpdatePerson(ctx context.Context, p people.Person, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE people SET role=$2, is_head=$3, is_hr=$4, is_vp=$5, is_president=$6, is_admin=$7,
super_admin=$8, department_id=$9, status=$10, updated_at=$11 WHERE id=$1`,
		p.ID, string(p.Role), p.Flags.Head, p.Flags.HR, p.Flags.VP, p.Flags.President, p.Flags.Admin,
		p.SuperAdmin, p.DepartmentID, string(p.Status), at)
	if err != nil {
		return fmt.Errorf("rolesync: update person: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return people.ErrNotFound
	}
	return nil
}

// ActiveMapping returns the open head mapping, if any.
func (t *txRepo) ActiveMapping(ctx context.Context, personID int64) (*people.HeadMapping, error) {
	var m people.HeadMapping
	err := t.tx.QueryRow(ctx, `SELECT id, person_id, department_id, valid_from, valid_to FROM department_heads
WHERE person_id=$1 AND valid_to IS NULL`, personID).Scan(&m.ID, &m.PersonID, &m.DepartmentID, &m.ValidFrom, &m.ValidTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("rolesync: active mapping: %w", err)
	}
	return &m, nil
}

// CloseMappings ends every open mapping of the person.
func (t *txRepo) CloseMappings(ctx context.Context, personID int64, at time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE department_heads SET valid_to=$2 WHERE person_id=$1 AND valid_to IS NULL`, personID, at)
	if err != nil {
		return 0, fmt.Errorf("rolesync: close mappings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// OpenMapping starts a head mapping.
func (t *txRepo) OpenMapping(ctx context.Context, personID, departmentID int64, at time.Time) error {
	if _, err := t.tx.Exec(ctx, `INSERT INTO department_heads (person_id, department_id, valid_from) VALUES ($1, $2, $3)`,
		personID, departmentID, at); err != nil {
		if shared.IsUniqueViolation(err) {
			return &shared.ConsistencyError{Check: "department_heads_one_active", Reason: "person already has an active head mapping"}
		}
		return fmt.Errorf("rolesync: open mapping: %w", err)
	}
	return nil
}

// OpenGrant inserts an open ledger row unless one exists.
func (t *txRepo) OpenGrant(ctx context.Context, personID int64, role people.GrantRole, by int64, reason string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO role_grants (person_id, role, granted_by, granted_at, reason)
VALUES ($1, $2, $3, $4, NULLIF($5, ''))
ON CONFLICT (person_id, role) WHERE revoked_at IS NULL DO NOTHING`, personID, string(role), by, at, reason)
	if err != nil {
		return false, fmt.Errorf("rolesync: open grant: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeGrant closes the open ledger row for role, if any.
func (t *txRepo) RevokeGrant(ctx context.Context, personID int64, role people.GrantRole, by int64, reason string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE role_grants SET revoked_at=$3, revoked_by=$4, reason=$5
WHERE person_id=$1 AND role=$2 AND revoked_at IS NULL`, personID, string(role), at, by, reason)
	if err != nil {
		return false, fmt.Errorf("rolesync: revoke grant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordChanges writes field deltas to the audit log.
func (t *txRepo) RecordChanges(ctx context.Context, actorID int64, action string, personID int64, changes []shared.FieldChange) error {
	return t.audit.RecordChanges(ctx, t.tx, actorID, action, people.AuditEntity, strconv.FormatInt(personID, 10), changes)
}

// Snapshot reads back what verification needs.
func (t *txRepo) Snapshot(ctx context.Context, personID int64) (Snapshot, error) {
	s := Snapshot{Rows: map[Subtable]bool{}}
	var role, status string
	var admin, faculty, driver bool
	err := t.tx.QueryRow(ctx, `SELECT p.role, p.status, p.is_head,
EXISTS (SELECT 1 FROM admins WHERE person_id = p.id),
EXISTS (SELECT 1 FROM faculties WHERE person_id = p.id),
EXISTS (SELECT 1 FROM drivers WHERE person_id = p.id),
COALESCE((SELECT MAX(n) FROM (SELECT COUNT(*) AS n FROM role_grants
    WHERE person_id = p.id AND revoked_at IS NULL GROUP BY role) g), 0),
(SELECT COUNT(*) FROM department_heads WHERE person_id = p.id AND valid_to IS NULL)
FROM people p WHERE p.id = $1`, personID).
		Scan(&role, &status, &s.IsHead, &admin, &faculty, &driver, &s.MaxOpenGrants, &s.ActiveMappings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, people.ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("rolesync: snapshot: %w", err)
	}
	s.Role = people.Role(role)
	s.Status = people.Status(status)
	s.Rows[SubtableAdmins] = admin
	s.Rows[SubtableFaculty] = faculty
	s.Rows[SubtableDrivers] = driver
	return s, nil
}
