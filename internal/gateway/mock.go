package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockGateway simulates the Accounts service in memory. Outcomes can be
// scripted per account for tests, or injected at random for local runs.
type MockGateway struct {
	// FailureRate is the probability that a call ends indeterminate (0.0 to 1.0).
	FailureRate float64
	// MaxDelay bounds a random simulated latency per call.
	MaxDelay time.Duration
	// AutoProvision opens unknown accounts for the first caller that touches them.
	AutoProvision  bool
	OpeningBalance decimal.Decimal

	mu       sync.Mutex
	accounts map[uuid.UUID]*mockAccount
	scripts  map[scriptKey][]Outcome
	calls    map[string]int
	writes   map[uuid.UUID][]decimal.Decimal
}

type mockAccount struct {
	owner   uuid.UUID
	balance decimal.Decimal
}

type scriptKey struct {
	op        string
	accountID uuid.UUID
}

// NewMockGateway creates an empty MockGateway with no failure injection.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		accounts: make(map[uuid.UUID]*mockAccount),
		scripts:  make(map[scriptKey][]Outcome),
		calls:    make(map[string]int),
		writes:   make(map[uuid.UUID][]decimal.Decimal),
	}
}

// Open registers an account owned by owner with the given balance.
func (g *MockGateway) Open(accountID, owner uuid.UUID, balance decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts[accountID] = &mockAccount{owner: owner, balance: balance}
}

// Balance returns the stored balance of an account.
func (g *MockGateway) Balance(accountID uuid.UUID) (decimal.Decimal, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	acc, ok := g.accounts[accountID]
	if !ok {
		return decimal.Zero, false
	}
	return acc.balance, true
}

// Script queues outcomes for successive calls of op against accountID. Once
// the queue drains, calls behave normally.
func (g *MockGateway) Script(op string, accountID uuid.UUID, outcomes ...Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := scriptKey{op: op, accountID: accountID}
	g.scripts[key] = append(g.scripts[key], outcomes...)
}

// Calls returns how many times op was invoked.
func (g *MockGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// TotalCalls returns the number of gateway calls of any kind.
func (g *MockGateway) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.calls {
		total += n
	}
	return total
}

// Writes returns every balance value written to accountID, in call order,
// including writes that were scripted to fail.
func (g *MockGateway) Writes(accountID uuid.UUID) []decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]decimal.Decimal(nil), g.writes[accountID]...)
}

func (g *MockGateway) ValidateOwnership(ctx context.Context, cred Credential, accountID, userID uuid.UUID) Result {
	if res, ok := g.begin(ctx, OpValidateOwnership, accountID); !ok {
		return res
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	acc, ok := g.lookup(accountID, userID)
	if !ok {
		return Rejected(ErrAccountNotFound)
	}
	if acc.owner != userID {
		return Rejected(ErrNotOwner)
	}
	return Confirmed()
}

func (g *MockGateway) ReadBalance(ctx context.Context, cred Credential, accountID uuid.UUID) (decimal.Decimal, Result) {
	if res, ok := g.begin(ctx, OpReadBalance, accountID); !ok {
		return decimal.Zero, res
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	acc, ok := g.accounts[accountID]
	if !ok {
		return decimal.Zero, Rejected(ErrAccountNotFound)
	}
	return acc.balance, Confirmed()
}

func (g *MockGateway) WriteBalance(ctx context.Context, cred Credential, accountID uuid.UUID, newBalance decimal.Decimal) Result {
	g.mu.Lock()
	g.writes[accountID] = append(g.writes[accountID], newBalance)
	g.mu.Unlock()

	if res, ok := g.begin(ctx, OpWriteBalance, accountID); !ok {
		return res
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	acc, ok := g.accounts[accountID]
	if !ok {
		return Rejected(ErrAccountNotFound)
	}
	acc.balance = newBalance
	return Confirmed()
}

// begin records the call, applies latency and scripted or random failures.
// ok is false when the call must stop with res.
func (g *MockGateway) begin(ctx context.Context, op string, accountID uuid.UUID) (res Result, ok bool) {
	g.mu.Lock()
	g.calls[op]++
	key := scriptKey{op: op, accountID: accountID}
	var scripted *Outcome
	if queue := g.scripts[key]; len(queue) > 0 {
		next := queue[0]
		scripted = &next
		g.scripts[key] = queue[1:]
	}
	g.mu.Unlock()

	if g.MaxDelay > 0 {
		delay := time.Duration(rand.Int63n(int64(g.MaxDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Indeterminate(fmt.Errorf("gateway call canceled: %w", ctx.Err())), false
		}
	}
	if err := ctx.Err(); err != nil {
		return Indeterminate(fmt.Errorf("gateway call canceled: %w", err)), false
	}

	if scripted != nil {
		switch *scripted {
		case OutcomeRejected:
			return Rejected(fmt.Errorf("%w: scripted rejection", ErrUnexpectedReply)), false
		case OutcomeIndeterminate:
			return Indeterminate(fmt.Errorf("%w: scripted timeout", ErrUnavailable)), false
		case OutcomeConfirmed:
			return Confirmed(), true
		}
		return Result{Outcome: *scripted}, false
	}

	if g.FailureRate > 0 && rand.Float64() < g.FailureRate {
		return Indeterminate(fmt.Errorf("%w: temporarily unavailable", ErrUnavailable)), false
	}
	return Confirmed(), true
}

// lookup must be called with mu held.
func (g *MockGateway) lookup(accountID, userID uuid.UUID) (*mockAccount, bool) {
	acc, ok := g.accounts[accountID]
	if ok || !g.AutoProvision {
		return acc, ok
	}
	acc = &mockAccount{owner: userID, balance: g.OpeningBalance}
	g.accounts[accountID] = acc
	return acc, true
}
