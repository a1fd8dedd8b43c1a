//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/garyjia/xpensure/internal/domain/entity"
	"github.com/garyjia/xpensure/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/xpensure/pkg/database"
)

func setupPostgres(t *testing.T) *sqldb.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("xpensure_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := zap.NewNop()
	db, err := database.New(database.Config{Driver: "postgres", DSN: connStr, MaxOpenConns: 5}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).Run(ctx))
	return sqldb.New(db, logger)
}

func TestPostgres_RequestLifecycle(t *testing.T) {
	db := setupPostgres(t)
	requests := NewRequestRepository(db, zap.NewNop())
	history := NewHistoryRepository(db, zap.NewNop())
	employees := NewEmployeeRepository(db, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, employees.Create(ctx, newEmployee("fv1", entity.RoleFinanceVerification, "")))
	fv, err := employees.FirstWithRole(ctx, entity.RoleFinanceVerification)
	require.NoError(t, err)
	assert.Equal(t, "fv1", fv.EmployeeID)

	req := newRequest(entity.KindAdvance, "e1")
	require.NoError(t, requests.Create(ctx, req))

	err = db.WithTransaction(ctx, func(txCtx context.Context) error {
		locked, err := requests.GetForUpdate(txCtx, entity.KindAdvance, req.ID)
		if err != nil {
			return err
		}
		locked.CurrentApproverID = entity.StringPtr("fv1")
		if err := requests.Update(txCtx, locked); err != nil {
			return err
		}
		return history.Append(txCtx, &entity.ApprovalHistory{
			RequestKind: locked.Kind, RequestID: locked.ID, ActorID: "m1",
			Action: entity.ActionApproved, PreviousStatus: entity.StatusPending,
			NewStatus: entity.StatusPending, Timestamp: time.Now().UTC(),
		})
	})
	require.NoError(t, err)

	got, err := requests.GetByID(ctx, entity.KindAdvance, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "fv1", got.CurrentApprover())
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, req.Amount.Equal(got.Amount))

	_, err = db.Exec("DELETE FROM approval_history")
	assert.Error(t, err, "ledger is append-only")
}

func TestPostgres_GetForUpdateBlocksConcurrentTransitions(t *testing.T) {
	db := setupPostgres(t)
	requests := NewRequestRepository(db, zap.NewNop())
	ctx := context.Background()

	req := newRequest(entity.KindReimbursement, "e1")
	require.NoError(t, requests.Create(ctx, req))

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- db.WithTransaction(ctx, func(txCtx context.Context) error {
			if _, err := requests.GetForUpdate(txCtx, entity.KindReimbursement, req.ID); err != nil {
				return err
			}
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	err := db.WithTransaction(waitCtx, func(txCtx context.Context) error {
		_, err := requests.GetForUpdate(txCtx, entity.KindReimbursement, req.ID)
		return err
	})
	assert.Error(t, err, "second locker must wait for the first")

	close(release)
	require.NoError(t, <-done)

	err = db.WithTransaction(ctx, func(txCtx context.Context) error {
		_, err := requests.GetForUpdate(txCtx, entity.KindReimbursement, req.ID)
		return err
	})
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
	assert.NoError(t, err)
}
