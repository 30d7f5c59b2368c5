package people

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/travilink/travilink/internal/shared"
)

const personColumns = `p.id, p.name, p.email, p.role, p.is_head, p.is_hr, p.is_vp, p.is_president, p.is_admin,
p.super_admin, p.department_id, COALESCE(p.department_text, ''), p.status, p.created_at, p.updated_at`

// Repository provides PostgreSQL backed reads of the identity store.
type Repository struct {
	db shared.DBTX
}

// NewRepository constructs a repository.
func NewRepository(db shared.DBTX) *Repository {
	return &Repository{db: db}
}

// ScanPerson reads one row selected with the person column list.
func ScanPerson(row pgx.Row) (Person, error) {
	var p Person
	var role, status string
	err := row.Scan(&p.ID, &p.Name, &p.Email, &role, &p.Flags.Head, &p.Flags.HR, &p.Flags.VP, &p.Flags.President, &p.Flags.Admin,
		&p.SuperAdmin, &p.DepartmentID, &p.DepartmentText, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Person{}, err
	}
	p.Role = Role(role)
	p.Status = Status(status)
	return p, nil
}

// PersonColumns is the select list understood by ScanPerson, aliased on p.
func PersonColumns() string {
	return personColumns
}

// GetPerson returns a person by id.
func (r *Repository) GetPerson(ctx context.Context, id int64) (Person, error) {
	p, err := ScanPerson(r.db.QueryRow(ctx, `SELECT `+personColumns+` FROM people p WHERE p.id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Person{}, ErrNotFound
		}
		return Person{}, fmt.Errorf("people: get person: %w", err)
	}
	return p, nil
}

// GetPeople returns the persons with the given ids ordered by id. Missing ids are skipped.
func (r *Repository) GetPeople(ctx context.Context, ids []int64) ([]Person, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryPeople(ctx, `SELECT `+personColumns+` FROM people p WHERE p.id = ANY($1) ORDER BY p.id`, ids)
}

// FindPeople returns persons matching the filter ordered by id.
func (r *Repository) FindPeople(ctx context.Context, f Filter) ([]Person, error) {
	var where []string
	var args []any
	if f.Role != "" {
		args = append(args, string(f.Role))
		where = append(where, fmt.Sprintf("p.role = $%d", len(args)))
	}
	if f.Flag != "" {
		col, ok := flagColumn(f.Flag)
		if !ok {
			return nil, fmt.Errorf("people: unknown flag %q", f.Flag)
		}
		where = append(where, "p."+col)
	}
	if f.DepartmentID != nil {
		args = append(args, *f.DepartmentID)
		where = append(where, fmt.Sprintf("p.department_id = $%d", len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "p.status = 'active'")
	}
	query := `SELECT ` + personColumns + ` FROM people p`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.id"
	return r.queryPeople(ctx, query, args...)
}

// MappedHeads returns active persons holding a head mapping for the department
// that is in effect now.
func (r *Repository) MappedHeads(ctx context.Context, departmentID int64) ([]Person, error) {
	return r.queryPeople(ctx, `SELECT `+personColumns+` FROM people p
JOIN department_heads dh ON dh.person_id = p.id
WHERE dh.department_id = $1 AND dh.valid_from <= now() AND dh.valid_to IS NULL AND p.status = 'active'
ORDER BY p.id`, departmentID)
}

// LegacyHeads returns active head-capable persons that only carry a free-text department.
func (r *Repository) LegacyHeads(ctx context.Context) ([]Person, error) {
	return r.queryPeople(ctx, `SELECT `+personColumns+` FROM people p
WHERE p.status = 'active' AND COALESCE(p.department_text, '') <> '' AND (p.is_head OR p.role = 'head')
ORDER BY p.id`)
}

// GetDepartment returns a department by id.
func (r *Repository) GetDepartment(ctx context.Context, id int64) (Department, error) {
	var d Department
	err := r.db.QueryRow(ctx, `SELECT id, name, code, parent_department_id, COALESCE(head_name, '') FROM departments WHERE id=$1`, id).
		Scan(&d.ID, &d.Name, &d.Code, &d.ParentID, &d.HeadName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Department{}, ErrNotFound
		}
		return Department{}, fmt.Errorf("people: get department: %w", err)
	}
	return d, nil
}

// ActiveMapping returns the open head mapping of a person, if any.
func (r *Repository) ActiveMapping(ctx context.Context, personID int64) (*HeadMapping, error) {
	var m HeadMapping
	err := r.db.QueryRow(ctx, `SELECT id, person_id, department_id, valid_from, valid_to FROM department_heads
WHERE person_id=$1 AND valid_to IS NULL`, personID).Scan(&m.ID, &m.PersonID, &m.DepartmentID, &m.ValidFrom, &m.ValidTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("people: active mapping: %w", err)
	}
	return &m, nil
}

// GrantFilter narrows ledger listings.
type GrantFilter struct {
	PersonID *int64
	Role     GrantRole
	OpenOnly bool
	Limit    int
}

// ListGrants returns ledger rows, newest first.
func (r *Repository) ListGrants(ctx context.Context, f GrantFilter) ([]RoleGrant, error) {
	var where []string
	var args []any
	if f.PersonID != nil {
		args = append(args, *f.PersonID)
		where = append(where, fmt.Sprintf("person_id = $%d", len(args)))
	}
	if f.Role != "" {
		args = append(args, string(f.Role))
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	if f.OpenOnly {
		where = append(where, "revoked_at IS NULL")
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	query := `SELECT id, person_id, role, granted_by, granted_at, revoked_at, revoked_by, COALESCE(reason, '') FROM role_grants`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY granted_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("people: list grants: %w", err)
	}
	defer rows.Close()
	var grants []RoleGrant
	for rows.Next() {
		var g RoleGrant
		var role string
		if err := rows.Scan(&g.ID, &g.PersonID, &role, &g.GrantedBy, &g.GrantedAt, &g.RevokedAt, &g.RevokedBy, &g.Reason); err != nil {
			return nil, err
		}
		g.Role = GrantRole(role)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (r *Repository) queryPeople(ctx context.Context, query string, args ...any) ([]Person, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("people: query: %w", err)
	}
	defer rows.Close()
	var out []Person
	for rows.Next() {
		p, err := ScanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func flagColumn(f Flag) (string, bool) {
	switch f {
	case FlagHead:
		return "is_head", true
	case FlagHR:
		return "is_hr", true
	case FlagVP:
		return "is_vp", true
	case FlagPresident:
		return "is_president", true
	case FlagAdmin:
		return "is_admin", true
	}
	return "", false
}
