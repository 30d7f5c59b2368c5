package shared

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomyStatusCodes(t *testing.T) {
	cases := []struct {
		err  interface{ StatusCode() int }
		code int
	}{
		{&ValidationError{Field: "signature", Reason: "required"}, http.StatusBadRequest},
		{&AuthorizationError{ActorID: 7, Required: "head"}, http.StatusForbidden},
		{&ConflictError{Entity: "request", ID: 1, Expected: "pending_head", Version: 2}, http.StatusConflict},
		{&ResolutionGap{Stage: "head", Role: "head"}, http.StatusUnprocessableEntity},
		{&ConsistencyError{Check: "subtable", Reason: "missing admins row"}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.err.StatusCode(), fmt.Sprintf("%T", tc.err))
	}
}

func TestNotFoundUnwraps(t *testing.T) {
	err := NotFound("person", 3)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "person 3")
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	assert.False(t, ok)
	id, ok := ActorFromContext(ContextWithActor(context.Background(), 42))
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestAuditLoggerRecordChanges(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(int64(1), "person.role_change", "people", "5", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(int64(1), "person.role_change", "people", "5", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	logger := NewAuditLogger(mock)
	err = logger.RecordChanges(context.Background(), mock, 1, "person.role_change", "people", "5", []FieldChange{
		{Field: "role", Old: "faculty", New: "admin"},
		{Field: "is_admin", Old: false, New: true},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLoggerRejectsIncompleteEntry(t *testing.T) {
	logger := NewAuditLogger(nil)
	err := logger.RecordTx(context.Background(), nil, AuditLog{Action: "x"})
	require.Error(t, err)
}

func TestAuditLoggerList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"id", "actor_id", "action", "entity", "entity_id", "meta", "occurred_at"}).
		AddRow(int64(10), int64(1), "person.role_change", "people", "5", []byte(`{"field":"role","old":"faculty","new":"admin"}`), at)
	mock.ExpectQuery("SELECT id, actor_id, action, entity, entity_id, meta, occurred_at").
		WithArgs("people", "5", 100).
		WillReturnRows(rows)

	logs, err := NewAuditLogger(mock).List(context.Background(), "people", "5", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "role", logs[0].Meta["field"])
	assert.Equal(t, at, logs[0].At)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRecorderValidates(t *testing.T) {
	recorder := NewApprovalRecorder(nil, nil)
	err := recorder.Record(context.Background(), nil, ApprovalLog{RequestID: 1, Action: ApprovalApprove})
	require.Error(t, err)
}

func TestApprovalRecorderRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO request_history").
		WithArgs(int64(3), "approve", int64(8), "head", "pending_head", "pending_president", "ok", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	recorder := NewApprovalRecorder(mock, nil)
	err = recorder.Record(context.Background(), mock, ApprovalLog{
		RequestID:      3,
		ActorID:        8,
		ActorRole:      "head",
		Action:         ApprovalApprove,
		PreviousStatus: "pending_head",
		NewStatus:      "pending_president",
		Note:           "ok",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
