package service

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/funds-movement/internal/db"
	"github.com/ayo6706/funds-movement/internal/domain"
	"github.com/ayo6706/funds-movement/internal/gateway"
	"github.com/ayo6706/funds-movement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// setupTestDB connects to Postgres, applies migrations and empties the tables.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	pool, err := db.Connect(context.Background(), connString)
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}
	if err := db.Migrate(pool, zap.NewNop()); err != nil {
		pool.Close()
		t.Fatalf("Failed to migrate DB: %v", err)
	}
	if _, err := pool.Exec(context.Background(), "TRUNCATE TABLE audit_log, movements, idempotency_keys"); err != nil {
		pool.Close()
		t.Fatalf("Failed to truncate tables: %v", err)
	}
	return pool
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decEq(s string) interface{} {
	want := dec(s)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

// memLedger is an in-memory Ledger with call counters and injectable faults.
type memLedger struct {
	mu         sync.Mutex
	items      map[uuid.UUID]*models.Movement
	seq        map[uuid.UUID]int
	next       int
	creates    int
	settles    int
	createErr  error
	settleErrs []error
	audit      map[uuid.UUID][]models.AuditEntry
}

func newMemLedger() *memLedger {
	return &memLedger{
		items: make(map[uuid.UUID]*models.Movement),
		seq:   make(map[uuid.UUID]int),
		audit: make(map[uuid.UUID][]models.AuditEntry),
	}
}

// record must be called with mu held.
func (l *memLedger) record(id uuid.UUID, action, prev, next string) {
	entries := l.audit[id]
	l.audit[id] = append(entries, models.AuditEntry{
		ID:         int64(len(entries) + 1),
		EntityType: auditEntityMovement,
		EntityID:   id,
		Action:     action,
		PrevState:  prev,
		NextState:  next,
		CreatedAt:  time.Now().UTC(),
	})
}

func (l *memLedger) AuditTrail(ctx context.Context, id uuid.UUID) ([]models.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.AuditEntry{}, l.audit[id]...), nil
}

func (l *memLedger) Create(ctx context.Context, m *models.Movement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.createErr != nil {
		return l.createErr
	}
	if err := m.Validate(); err != nil {
		return err
	}
	l.creates++
	l.next++
	cp := *m
	l.items[m.ID] = &cp
	l.seq[m.ID] = l.next
	l.record(m.ID, "movement.created", "", m.Status)
	return nil
}

func (l *memLedger) Settle(ctx context.Context, s Settlement) (*models.Movement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.settles++
	if len(l.settleErrs) > 0 {
		err := l.settleErrs[0]
		l.settleErrs = l.settleErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	m, ok := l.items[s.MovementID]
	if !ok {
		return nil, ErrMovementNotFound
	}
	if !domain.CanTransition(m.Status, s.Status) {
		return nil, ErrInvalidTransition
	}
	now := time.Now().UTC()
	l.record(m.ID, "movement.settled", m.Status, s.Status)
	m.Status = s.Status
	m.FailureReason = s.FailureReason
	m.NeedsReconciliation = m.NeedsReconciliation || s.NeedsReconciliation
	m.SettledAt = &now
	cp := *m
	return &cp, nil
}

func (l *memLedger) Get(ctx context.Context, id uuid.UUID) (*models.Movement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.items[id]
	if !ok {
		return nil, ErrMovementNotFound
	}
	cp := *m
	return &cp, nil
}

func (l *memLedger) sorted(filter func(*models.Movement) bool, newestFirst bool) []models.Movement {
	out := []models.Movement{}
	for _, m := range l.items {
		if filter(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return l.seq[out[i].ID] > l.seq[out[j].ID]
		}
		return l.seq[out[i].ID] < l.seq[out[j].ID]
	})
	return out
}

func pageOf(items []models.Movement, limit, offset int) []models.Movement {
	if offset >= len(items) {
		return []models.Movement{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (l *memLedger) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Movement, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := l.sorted(func(m *models.Movement) bool { return m.UserID == userID }, true)
	return pageOf(all, limit, offset), int64(len(all)), nil
}

func (l *memLedger) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Movement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := l.sorted(func(m *models.Movement) bool {
		return m.Status == domain.StatusPending && m.CreatedAt.Before(createdBefore)
	}, false)
	return pageOf(all, limit, 0), nil
}

func (l *memLedger) Flag(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.items[id]
	if !ok {
		return false, ErrMovementNotFound
	}
	if m.NeedsReconciliation {
		return false, nil
	}
	m.NeedsReconciliation = true
	return true, nil
}

func (l *memLedger) ListFlagged(ctx context.Context, limit, offset int) ([]models.Movement, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := l.sorted(func(m *models.Movement) bool { return m.NeedsReconciliation }, false)
	return pageOf(all, limit, offset), int64(len(all)), nil
}

func (l *memLedger) Resolve(ctx context.Context, r Resolution) (*models.Movement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.items[r.MovementID]
	if !ok {
		return nil, ErrMovementNotFound
	}
	switch r.Decision {
	case DecisionMarkCompleted, DecisionMarkFailed:
		next := domain.StatusCompleted
		if r.Decision == DecisionMarkFailed {
			next = domain.StatusFailed
		}
		if !domain.CanTransition(m.Status, next) {
			return nil, ErrInvalidTransition
		}
		if !m.NeedsReconciliation {
			return nil, ErrInvalidResolution
		}
		now := time.Now().UTC()
		l.record(m.ID, "movement.resolved", m.Status, next)
		m.Status = next
		m.SettledAt = &now
	case DecisionAcknowledge:
		if !domain.IsTerminal(m.Status) || !m.NeedsReconciliation {
			return nil, ErrInvalidResolution
		}
	default:
		return nil, ErrInvalidResolution
	}
	m.NeedsReconciliation = false
	cp := *m
	return &cp, nil
}

func (l *memLedger) only(t *testing.T) *models.Movement {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) != 1 {
		t.Fatalf("expected exactly one movement, got %d", len(l.items))
	}
	for _, m := range l.items {
		cp := *m
		return &cp
	}
	return nil
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) ValidateOwnership(ctx context.Context, cred gateway.Credential, accountID, userID uuid.UUID) gateway.Result {
	args := m.Called(ctx, cred, accountID, userID)
	return args.Get(0).(gateway.Result)
}

func (m *mockGateway) ReadBalance(ctx context.Context, cred gateway.Credential, accountID uuid.UUID) (decimal.Decimal, gateway.Result) {
	args := m.Called(ctx, cred, accountID)
	return args.Get(0).(decimal.Decimal), args.Get(1).(gateway.Result)
}

func (m *mockGateway) WriteBalance(ctx context.Context, cred gateway.Credential, accountID uuid.UUID, newBalance decimal.Decimal) gateway.Result {
	args := m.Called(ctx, cred, accountID, newBalance)
	return args.Get(0).(gateway.Result)
}

type mockHook struct {
	mock.Mock
}

func (m *mockHook) ReconciliationRequired(ctx context.Context, mv *models.Movement, reason string, cause error) {
	m.Called(ctx, mv, reason, cause)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, eventType string, mv *models.Movement, reason string) error {
	args := m.Called(ctx, eventType, mv, reason)
	return args.Error(0)
}

type fixture struct {
	gw     *gateway.MockGateway
	ledger *memLedger
	hook   *mockHook
	svc    *MovementService
	caller Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gw:     gateway.NewMockGateway(),
		ledger: newMemLedger(),
		hook:   &mockHook{},
		caller: Caller{UserID: uuid.New(), Credential: "token-abc"},
	}
	f.svc = NewMovementService(f.gw, f.ledger, f.hook, nil, zap.NewNop(), MovementConfig{
		LedgerWriteTimeout: time.Second,
		SettleAttempts:     3,
	})
	return f
}

func (f *fixture) openAccount(owner uuid.UUID, balance string) uuid.UUID {
	id := uuid.New()
	f.gw.Open(id, owner, dec(balance))
	return id
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	b, ok := f.gw.Balance(id)
	if !ok {
		t.Fatalf("account %s not found", id)
	}
	return b
}
