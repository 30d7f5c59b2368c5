package requests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travilink/travilink/internal/shared"
)

func TestRepositoryGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id, number, requester_id").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = NewRepository(mock, nil).Get(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCompareAndSwapCommitsWithHistory(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	next := Request{
		ID:          5,
		Status:      StatusPendingComptroller,
		TotalBudget: decimal.NewFromInt(300),
		Routing:     SingleTarget(9),
		Stages:      map[Stage]StageApproval{StageHead: {ApprovedBy: 2, ApprovedAt: time.Now(), Signature: "sig"}},
		Version:     3,
		UpdatedAt:   time.Now(),
	}
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectExec("UPDATE requests SET").
		WithArgs(int64(5), "pending_head", "pending_comptroller", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), false, false, false, false, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), 3, pgxmock.AnyArg(), 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO request_history").
		WithArgs(int64(5), "approve", int64(2), "head", "pending_head", "pending_comptroller", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	repo := NewRepository(mock, nil)
	err = repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.CompareAndSwap(ctx, next, StatusPendingHead, 2)
		require.NoError(t, err)
		require.True(t, ok)
		return tx.RecordHistory(ctx, shared.ApprovalLog{
			RequestID:      5,
			ActorID:        2,
			ActorRole:      "head",
			Action:         shared.ApprovalApprove,
			PreviousStatus: "pending_head",
			NewStatus:      "pending_comptroller",
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCompareAndSwapStaleRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	casArgs := make([]any, 25)
	for i := range casArgs {
		casArgs[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec("UPDATE requests SET").WithArgs(casArgs...).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	stale := errors.New("stale")
	err = NewRepository(mock, nil).WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.CompareAndSwap(ctx, Request{ID: 5, Status: StatusRejected, Routing: Unassigned(false)}, StatusPendingHead, 2)
		require.NoError(t, err)
		if !ok {
			return stale
		}
		return nil
	})
	require.ErrorIs(t, err, stale)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryInsertUsesFixedBudget(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	r := Request{
		Number:       "TR-2026-ABCDEF01",
		RequesterID:  1,
		DepartmentID: 3,
		Status:       StatusDraft,
		Purpose:      "Audit",
		Destination:  "Davao",
		TravelStart:  now,
		TravelEnd:    now,
		TotalBudget:  decimal.RequireFromString("12.5"),
		Routing:      Unassigned(false),
		Version:      1,
		CreatedAt:    now,
	}
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectQuery("INSERT INTO requests").
		WithArgs(r.Number, int64(1), int64(3), []int64{}, "draft", "Audit", "Davao", now, now, "12.50",
			pgxmock.AnyArg(), false, false, pgxmock.AnyArg(), pgxmock.AnyArg(), 1, now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(77)))
	mock.ExpectCommit()

	var id int64
	err = NewRepository(mock, nil).WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.Insert(ctx, r)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}
