package shared

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
)

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }
func (e *ValidationError) Title() string   { return "Validation Failed" }
func (e *ValidationError) Detail() string  { return strings.TrimPrefix(e.Error(), "validation: ") }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AuthorizationError reports an actor that may not perform the operation.
type AuthorizationError struct {
	ActorID  int64
	Required string
	Status   string
}

func (e *AuthorizationError) Error() string {
	msg := fmt.Sprintf("actor %d is not authorized", e.ActorID)
	if e.Required != "" {
		msg += ": requires " + e.Required
	}
	if e.Status != "" {
		msg += " (current status " + e.Status + ")"
	}
	return msg
}

func (e *AuthorizationError) StatusCode() int { return http.StatusForbidden }
func (e *AuthorizationError) Title() string   { return "Forbidden" }
func (e *AuthorizationError) Detail() string  { return e.Error() }

// ConflictError reports a stale read detected by compare-and-set.
type ConflictError struct {
	Entity   string
	ID       int64
	Expected string
	Version  int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %d changed concurrently (expected status %s, version %d)", e.Entity, e.ID, e.Expected, e.Version)
}

func (e *ConflictError) StatusCode() int { return http.StatusConflict }
func (e *ConflictError) Title() string   { return "Conflict" }
func (e *ConflictError) Detail() string  { return e.Error() }

// ResolutionGap reports a stage with no actionable approver.
type ResolutionGap struct {
	Stage        string `json:"stage"`
	Role         string `json:"role"`
	DepartmentID *int64 `json:"departmentId,omitempty"`
	Placeholder  string `json:"placeholder,omitempty"`
}

func (e *ResolutionGap) Error() string {
	msg := fmt.Sprintf("no actionable %s approver for stage %s", e.Role, e.Stage)
	if e.DepartmentID != nil {
		msg += fmt.Sprintf(" in department %d", *e.DepartmentID)
	}
	return msg
}

func (e *ResolutionGap) StatusCode() int { return http.StatusUnprocessableEntity }
func (e *ResolutionGap) Title() string   { return "Approver Not Resolved" }
func (e *ResolutionGap) Detail() string  { return e.Error() }

// ConsistencyError reports a violated cross-table invariant; the write is rolled back.
type ConsistencyError struct {
	Check  string
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency check %s failed: %s", e.Check, e.Reason)
}

func (e *ConsistencyError) StatusCode() int { return http.StatusInternalServerError }
func (e *ConsistencyError) Title() string   { return "Consistency Violation" }
func (e *ConsistencyError) Detail() string {
	return "check " + e.Check + " failed, no changes were applied"
}

// notFoundError maps ErrNotFound for httpx.
type notFoundError struct{ err error }

func (e notFoundError) Error() string   { return e.err.Error() }
func (e notFoundError) Unwrap() error   { return e.err }
func (e notFoundError) StatusCode() int { return http.StatusNotFound }
func (e notFoundError) Title() string   { return "Not Found" }
func (e notFoundError) Detail() string  { return e.err.Error() }

// NotFound wraps ErrNotFound with the entity that was missing.
func NotFound(entity string, id int64) error {
	return notFoundError{err: fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)}
}

// IsUniqueViolation reports whether err is a PostgreSQL unique violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// IsSerializationFailure reports whether err is a PostgreSQL serialization failure.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgSerializationFailure
}
