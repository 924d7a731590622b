package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/funds-movement/internal/domain"
	"github.com/ayo6706/funds-movement/internal/gateway"
	"github.com/ayo6706/funds-movement/internal/models"
	"github.com/ayo6706/funds-movement/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPostgresLedgerLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	store := repository.NewStore(pool)
	ledger := NewPostgresLedger(store, NewAuditService())

	from := uuid.New()
	to := uuid.New()
	m := &models.Movement{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		FromAccountID: &from,
		ToAccountID:   &to,
		Amount:        dec("12.30"),
		Kind:          domain.KindTransfer,
		Status:        domain.StatusPending,
		Note:          "rent",
	}
	require.NoError(t, ledger.Create(ctx, m))
	assert.False(t, m.CreatedAt.IsZero())

	settled, err := ledger.Settle(ctx, Settlement{MovementID: m.ID, Status: domain.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, settled.Status)
	require.NotNil(t, settled.SettledAt)
	assert.True(t, settled.Amount.Equal(dec("12.3")))
	assert.Equal(t, "rent", settled.Note)

	_, err = ledger.Settle(ctx, Settlement{MovementID: m.ID, Status: domain.StatusFailed})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = ledger.Settle(ctx, Settlement{MovementID: uuid.New(), Status: domain.StatusFailed})
	assert.ErrorIs(t, err, ErrMovementNotFound)

	audit, err := ledger.AuditTrail(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, "movement.created", audit[0].Action)
	assert.Equal(t, domain.StatusPending, audit[0].NextState)
	assert.Equal(t, domain.StatusPending, audit[1].PrevState)
	assert.Equal(t, domain.StatusCompleted, audit[1].NextState)

	_, err = pool.Exec(ctx, "DELETE FROM movements WHERE id = $1", m.ID)
	assert.Error(t, err)
}

func TestPostgresLedgerListAndReconcile(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	ledger := NewPostgresLedger(repository.NewStore(pool), nil)
	user := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		acc := uuid.New()
		m := &models.Movement{ID: uuid.New(), UserID: user, ToAccountID: &acc, Amount: dec("1"), Kind: domain.KindDeposit, Status: domain.StatusPending}
		require.NoError(t, ledger.Create(ctx, m))
		ids = append(ids, m.ID)
		time.Sleep(5 * time.Millisecond)
	}

	items, total, err := ledger.ListByUser(ctx, user, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, items, 3)
	assert.Equal(t, ids[2], items[0].ID)
	assert.Equal(t, ids[0], items[2].ID)

	stale, err := ledger.ListStalePending(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 3)

	flagged, err := ledger.Flag(ctx, ids[0], domain.ReconcileStalePending)
	require.NoError(t, err)
	assert.True(t, flagged)
	flagged, err = ledger.Flag(ctx, ids[0], domain.ReconcileStalePending)
	require.NoError(t, err)
	assert.False(t, flagged)

	queue, count, err := ledger.ListFlagged(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, ids[0], queue[0].ID)

	resolved, err := ledger.Resolve(ctx, Resolution{MovementID: ids[0], Decision: DecisionMarkCompleted, ActorID: uuid.New(), Reason: "confirmed with accounts"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resolved.Status)
	assert.False(t, resolved.NeedsReconciliation)

	_, err = ledger.Resolve(ctx, Resolution{MovementID: ids[1], Decision: DecisionAcknowledge, ActorID: uuid.New()})
	assert.ErrorIs(t, err, ErrInvalidResolution)

	// ids[1] is PENDING but was never flagged, so its saga still owns it.
	_, err = ledger.Resolve(ctx, Resolution{MovementID: ids[1], Decision: DecisionMarkCompleted, ActorID: uuid.New()})
	assert.ErrorIs(t, err, ErrInvalidResolution)
	current, err := ledger.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, current.Status)
}

func TestMovementServiceAgainstPostgres(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	gw := gateway.NewMockGateway()
	caller := Caller{UserID: uuid.New(), Credential: "tok"}
	a := uuid.New()
	b := uuid.New()
	gw.Open(a, caller.UserID, dec("500"))
	gw.Open(b, uuid.New(), dec("200"))
	gw.Script(gateway.OpWriteBalance, b, gateway.OutcomeRejected)

	ledger := NewPostgresLedger(repository.NewStore(pool), nil)
	svc := NewMovementService(gw, ledger, nil, nil, zap.NewNop(), MovementConfig{})

	_, err := svc.Transfer(context.Background(), caller, TransferRequest{FromAccountID: a, ToAccountID: b, Amount: dec("100")})
	require.ErrorIs(t, err, ErrMovementExecutionFailed)

	pg, err := svc.ListMovements(context.Background(), caller.UserID, 1, 10)
	require.NoError(t, err)
	require.Len(t, pg.Items, 1)
	assert.Equal(t, domain.StatusFailed, pg.Items[0].Status)
	assert.Equal(t, domain.StepDestinationCredit, pg.Items[0].FailureReason)

	balance, _ := gw.Balance(a)
	assert.True(t, balance.Equal(dec("500")))
}
