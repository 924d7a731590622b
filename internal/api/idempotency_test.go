package api_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/ayo6706/funds-movement/internal/api"
	"github.com/ayo6706/funds-movement/internal/config"
	"github.com/ayo6706/funds-movement/internal/db"
	"github.com/ayo6706/funds-movement/internal/gateway"
	"github.com/ayo6706/funds-movement/internal/idempotency"
	"github.com/ayo6706/funds-movement/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupIdempotentAPI(t *testing.T) *testAPI {
	t.Helper()
	if testDB == nil {
		t.Skip("DATABASE_URL not set")
	}
	require.NoError(t, db.Migrate(testDB, zap.NewNop()))
	_, err := testDB.Exec(context.Background(), "TRUNCATE TABLE idempotency_keys")
	require.NoError(t, err)

	gw := gateway.NewMockGateway()
	ledger := newMemoryLedger()
	router := api.NewRouter(api.Deps{
		Config:         &config.Config{PublicRateLimitRPS: 1000, AuthRateLimitRPS: 1000},
		Logger:         zap.NewNop(),
		DB:             testDB,
		Idempotency:    idempotency.NewStore(nil, testDB, time.Hour),
		Movements:      service.NewMovementService(gw, ledger, nil, nil, zap.NewNop(), service.DefaultMovementConfig()),
		Reconciliation: service.NewReconciliationService(ledger, nil, time.Minute),
	})
	return &testAPI{handler: router.Routes(), gw: gw, ledger: ledger}
}

func TestTransferIdempotency(t *testing.T) {
	a := setupIdempotentAPI(t)
	userID := uuid.New()
	from, to := uuid.New(), uuid.New()
	a.gw.Open(from, userID, decimal.NewFromInt(100))
	a.gw.Open(to, uuid.New(), decimal.Zero)
	token := generateTestToken(userID.String())
	key := uuid.NewString()
	payload := map[string]any{"from_account_id": from, "to_account_id": to, "amount": "50"}

	first := a.do(t, http.MethodPost, "/v1/transactions/transfer", token, payload, "Idempotency-Key", key)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := a.do(t, http.MethodPost, "/v1/transactions/transfer", token, payload, "Idempotency-Key", key)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.NotEmpty(t, second.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, decodeMovement(t, first).ID, decodeMovement(t, second).ID)

	fromBalance, _ := a.gw.Balance(from)
	toBalance, _ := a.gw.Balance(to)
	assert.True(t, fromBalance.Equal(decimal.NewFromInt(50)), fromBalance.String())
	assert.True(t, toBalance.Equal(decimal.NewFromInt(50)), toBalance.String())

	conflict := a.do(t, http.MethodPost, "/v1/transactions/transfer", token,
		map[string]any{"from_account_id": from, "to_account_id": to, "amount": "10"}, "Idempotency-Key", key)
	assert.Equal(t, http.StatusConflict, conflict.Code)
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	a := setupIdempotentAPI(t)
	key := uuid.NewString()

	for _, userID := range []uuid.UUID{uuid.New(), uuid.New()} {
		accountID := uuid.New()
		a.gw.Open(accountID, userID, decimal.Zero)
		w := a.do(t, http.MethodPost, "/v1/transactions/deposit", generateTestToken(userID.String()),
			map[string]any{"account_id": accountID, "amount": "5"}, "Idempotency-Key", key)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Empty(t, w.Header().Get("X-Idempotent-Replay"))
	}
}

func TestReadinessWithDatabase(t *testing.T) {
	a := setupIdempotentAPI(t)

	w := a.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
