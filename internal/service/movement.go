package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ayo6706/funds-movement/internal/domain"
	"github.com/ayo6706/funds-movement/internal/gateway"
	"github.com/ayo6706/funds-movement/internal/models"
	"github.com/ayo6706/funds-movement/internal/observability"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Caller identifies the user a movement runs for and carries the credential
// forwarded to the Accounts service.
type Caller struct {
	UserID     uuid.UUID
	Credential gateway.Credential
}

type DepositRequest struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Note      string
}

type WithdrawRequest struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Note      string
}

type TransferRequest struct {
	FromAccountID uuid.UUID
	ToAccountID   uuid.UUID
	Amount        decimal.Decimal
	Note          string
}

// MovementPage is one page of a user's movements, newest first.
type MovementPage struct {
	Items    []models.Movement `json:"items"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Total    int64             `json:"total"`
}

type MovementConfig struct {
	// LedgerWriteTimeout bounds each ledger write once a movement is PENDING.
	LedgerWriteTimeout time.Duration
	// SettleAttempts is the number of tries to persist a terminal status.
	SettleAttempts int
	// SettleBackoff is the delay before the second attempt, doubled after each.
	SettleBackoff time.Duration
}

// MaxGatewayCalls is the most Accounts service calls one movement makes: a
// transfer's ownership check, two reads, debit, credit and compensation.
const MaxGatewayCalls = 6

// Budget is the longest a single movement can run when every gateway call
// takes gatewayTimeout and every ledger write is retried to exhaustion.
func (c MovementConfig) Budget(gatewayTimeout time.Duration) time.Duration {
	if c.SettleAttempts <= 0 {
		c.SettleAttempts = DefaultMovementConfig().SettleAttempts
	}
	if c.LedgerWriteTimeout <= 0 {
		c.LedgerWriteTimeout = DefaultMovementConfig().LedgerWriteTimeout
	}
	// One create, then a settle and a re-read per attempt.
	ledger := time.Duration(1+2*c.SettleAttempts) * c.LedgerWriteTimeout
	var backoff time.Duration
	for i, delay := 1, c.SettleBackoff; i < c.SettleAttempts; i, delay = i+1, delay*2 {
		backoff += delay
	}
	return MaxGatewayCalls*gatewayTimeout + ledger + backoff
}

func DefaultMovementConfig() MovementConfig {
	return MovementConfig{
		LedgerWriteTimeout: 5 * time.Second,
		SettleAttempts:     3,
		SettleBackoff:      100 * time.Millisecond,
	}
}

// MovementService executes deposits, withdrawals and transfers as synchronous
// sagas against the Accounts service, recording every attempt in the ledger.
// It holds no per-request state.
type MovementService struct {
	gateway gateway.Gateway
	ledger  Ledger
	hook    ReconciliationHook
	events  EventPublisher
	logger  *zap.Logger
	cfg     MovementConfig
}

func NewMovementService(gw gateway.Gateway, ledger Ledger, hook ReconciliationHook, events EventPublisher, logger *zap.Logger, cfg MovementConfig) *MovementService {
	defaults := DefaultMovementConfig()
	if cfg.LedgerWriteTimeout <= 0 {
		cfg.LedgerWriteTimeout = defaults.LedgerWriteTimeout
	}
	if cfg.SettleAttempts <= 0 {
		cfg.SettleAttempts = defaults.SettleAttempts
	}
	if cfg.SettleBackoff < 0 {
		cfg.SettleBackoff = 0
	}
	if hook == nil {
		hook = nopHook{}
	}
	if events == nil {
		events = nopPublisher{}
	}
	if logger == nil {
		logger = zap.L()
	}
	return &MovementService{
		gateway: gw,
		ledger:  ledger,
		hook:    hook,
		events:  events,
		logger:  logger,
		cfg:     cfg,
	}
}

// Deposit credits amount to an account owned by the caller.
func (s *MovementService) Deposit(ctx context.Context, caller Caller, req DepositRequest) (*models.Movement, error) {
	const kind = domain.KindDeposit
	amount, err := checkInput(req.Amount, req.Note)
	if err != nil {
		return nil, s.reject(kind, caller, err)
	}

	// 1. Ownership
	if res := s.gateway.ValidateOwnership(ctx, caller.Credential, req.AccountID, caller.UserID); !res.OK() {
		return nil, s.reject(kind, caller, fmt.Errorf("%w: %w", ErrAccountAccessDenied, res.Err()))
	}

	// 2. Current balance
	balance, res := s.gateway.ReadBalance(ctx, caller.Credential, req.AccountID)
	if !res.OK() {
		return nil, s.reject(kind, caller, fmt.Errorf("%w: %w", ErrBalanceUnavailable, res.Err()))
	}

	// 3. Commit to the attempt
	accountID := req.AccountID
	m, execCtx, err := s.begin(ctx, caller, kind, nil, &accountID, amount, req.Note)
	if err != nil {
		return nil, err
	}

	// 4. Credit
	if res := s.gateway.WriteBalance(execCtx, caller.Credential, accountID, balance.Add(amount)); !res.OK() {
		return s.fail(execCtx, m, &ExecutionError{Step: domain.StepBalanceWrite, Cause: res.Err()})
	}
	return s.complete(execCtx, m)
}

// Withdraw debits amount from an account owned by the caller.
func (s *MovementService) Withdraw(ctx context.Context, caller Caller, req WithdrawRequest) (*models.Movement, error) {
	const kind = domain.KindWithdrawal
	amount, err := checkInput(req.Amount, req.Note)
	if err != nil {
		return nil, s.reject(kind, caller, err)
	}

	if res := s.gateway.ValidateOwnership(ctx, caller.Credential, req.AccountID, caller.UserID); !res.OK() {
		return nil, s.reject(kind, caller, fmt.Errorf("%w: %w", ErrAccountAccessDenied, res.Err()))
	}

	balance, res := s.gateway.ReadBalance(ctx, caller.Credential, req.AccountID)
	if !res.OK() {
		return nil, s.reject(kind, caller, fmt.Errorf("%w: %w", ErrBalanceUnavailable, res.Err()))
	}
	if balance.LessThan(amount) {
		return nil, s.reject(kind, caller, ErrInsufficientFunds)
	}

	accountID := req.AccountID
	m, execCtx, err := s.begin(ctx, caller, kind, &accountID, nil, amount, req.Note)
	if err != nil {
		return nil, err
	}

	if res := s.gateway.WriteBalance(execCtx, caller.Credential, accountID, balance.Sub(amount)); !res.OK() {
		return s.fail(execCtx, m, &ExecutionError{Step: domain.StepBalanceWrite, Cause: res.Err()})
	}
	return s.complete(execCtx, m)
}

// Transfer debits the caller's source account and credits the destination.
// A failed credit triggers exactly one compensating write to the source.
func (s *MovementService) Transfer(ctx context.Context, caller Caller, req TransferRequest) (*models.Movement, error) {
	const kind = domain.KindTransfer
	amount, err := checkInput(req.Amount, req.Note)
	if err != nil {
		return nil, s.reject(kind, caller, err)
	}

	// 1. Same account, no remote call
	if req.FromAccountID == req.ToAccountID {
		return nil, s.reject(kind, caller, ErrSameAccountTransfer)
	}

	// 2. Ownership of the source only; third-party destinations are allowed
	if res := s.gateway.ValidateOwnership(ctx, caller.Credential, req.FromAccountID, caller.UserID); !res.OK() {
		return nil, s.reject(kind, caller, fmt.Errorf("%w: %w", ErrAccountAccessDenied, res.Err()))
	}

	// 3. Source balance and sufficiency
	fromBalance, res := s.gateway.ReadBalance(ctx, caller.Credential, req.FromAccountID)
	if !res.OK() {
		return nil, s.reject(kind, caller, fmt.Errorf("%w: %w", ErrBalanceUnavailable, res.Err()))
	}
	if fromBalance.LessThan(amount) {
		return nil, s.reject(kind, caller, ErrInsufficientFunds)
	}

	// 4. Destination must resolve
	toBalance, res := s.gateway.ReadBalance(ctx, caller.Credential, req.ToAccountID)
	if !res.OK() {
		return nil, s.reject(kind, caller, fmt.Errorf("%w: %w", ErrDestinationUnavailable, res.Err()))
	}

	// 5. Commit to the attempt
	from, to := req.FromAccountID, req.ToAccountID
	m, execCtx, err := s.begin(ctx, caller, kind, &from, &to, amount, req.Note)
	if err != nil {
		return nil, err
	}

	// 6. Debit first so a later failure can never create money
	if res := s.gateway.WriteBalance(execCtx, caller.Credential, from, fromBalance.Sub(amount)); !res.OK() {
		return s.fail(execCtx, m, &ExecutionError{Step: domain.StepSourceDebit, Cause: res.Err()})
	}

	// 7. Credit
	res = s.gateway.WriteBalance(execCtx, caller.Credential, to, toBalance.Add(amount))
	if res.OK() {
		return s.complete(execCtx, m)
	}

	// 8. Single compensating write restoring the source
	execErr := &ExecutionError{Step: domain.StepDestinationCredit, Cause: res.Err()}
	comp := s.gateway.WriteBalance(execCtx, caller.Credential, from, fromBalance)
	if comp.OK() {
		execErr.Compensated = true
		observability.IncrementCompensation("restored")
		s.logger.Warn("source balance restored after failed credit",
			zap.String("movement_id", m.ID.String()),
			zap.String("account_id", from.String()),
			zap.Error(execErr.Cause),
		)
	} else {
		execErr.CompensationErr = comp.Err()
		observability.IncrementCompensation("failed")
		s.logger.Error("CRITICAL: compensation failed, source balance not restored",
			zap.String("movement_id", m.ID.String()),
			zap.String("account_id", from.String()),
			zap.String("expected_balance", domain.FormatAmount(fromBalance)),
			zap.String("amount", domain.FormatAmount(amount)),
			zap.NamedError("credit_error", execErr.Cause),
			zap.Error(execErr.CompensationErr),
		)
	}
	return s.fail(execCtx, m, execErr)
}

// ListMovements returns the user's movements, newest first.
func (s *MovementService) ListMovements(ctx context.Context, userID uuid.UUID, page, pageSize int) (*MovementPage, error) {
	page, pageSize = clampPage(page, pageSize)
	items, total, err := s.ledger.ListByUser(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	return &MovementPage{Items: items, Page: page, PageSize: pageSize, Total: total}, nil
}

// GetMovement returns one movement initiated by userID.
func (s *MovementService) GetMovement(ctx context.Context, userID, movementID uuid.UUID) (*models.Movement, error) {
	m, err := s.ledger.Get(ctx, movementID)
	if err != nil {
		if errors.Is(err, ErrMovementNotFound) {
			return nil, ErrMovementNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	if m.UserID != userID {
		return nil, ErrMovementNotFound
	}
	return m, nil
}

func checkInput(amount decimal.Decimal, note string) (decimal.Decimal, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	if utf8.RuneCountInString(note) > domain.MaxNoteLength {
		return decimal.Zero, fmt.Errorf("%w: longer than %d characters", ErrInvalidNote, domain.MaxNoteLength)
	}
	return domain.NormalizeAmount(amount), nil
}

func (s *MovementService) reject(kind string, caller Caller, err error) error {
	observability.IncrementMovementOutcome(kind, "rejected")
	s.logger.Info("movement rejected",
		zap.String("kind", kind),
		zap.String("user_id", caller.UserID.String()),
		zap.Error(err),
	)
	return err
}

// begin persists the PENDING record. From here on the movement is driven to a
// terminal status even if the caller goes away, so the returned context is
// detached from ctx's cancellation.
func (s *MovementService) begin(ctx context.Context, caller Caller, kind string, from, to *uuid.UUID, amount decimal.Decimal, note string) (*models.Movement, context.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	m := &models.Movement{
		ID:            uuid.New(),
		UserID:        caller.UserID,
		FromAccountID: from,
		ToAccountID:   to,
		Amount:        amount,
		Kind:          kind,
		Status:        domain.StatusPending,
		Note:          note,
		CreatedAt:     time.Now().UTC(),
	}

	execCtx := context.WithoutCancel(ctx)
	wctx, cancel := context.WithTimeout(execCtx, s.cfg.LedgerWriteTimeout)
	defer cancel()
	if err := s.ledger.Create(wctx, m); err != nil {
		observability.IncrementMovementOutcome(kind, "ledger_error")
		s.logger.Error("persist pending movement failed",
			zap.String("movement_id", m.ID.String()),
			zap.String("kind", kind),
			zap.String("user_id", caller.UserID.String()),
			zap.Error(err),
		)
		return nil, nil, fmt.Errorf("%w: create movement: %w", ErrLedgerUnavailable, err)
	}

	s.logger.Debug("movement pending",
		zap.String("movement_id", m.ID.String()),
		zap.String("kind", kind),
		zap.String("amount", domain.FormatAmount(amount)),
	)
	return m, execCtx, nil
}

func (s *MovementService) complete(ctx context.Context, m *models.Movement) (*models.Movement, error) {
	settled, err := s.settle(ctx, m, Settlement{Status: domain.StatusCompleted})
	if err != nil {
		s.notPersisted(ctx, err, domain.ReconcileSettleNotPersisted, nil)
		return nil, err
	}

	observability.IncrementMovementOutcome(m.Kind, "completed")
	s.logger.Info("movement completed",
		zap.String("movement_id", settled.ID.String()),
		zap.String("kind", settled.Kind),
		zap.String("amount", domain.FormatAmount(settled.Amount)),
	)
	s.publish(ctx, domain.EventMovementCompleted, settled)
	return settled, nil
}

func (s *MovementService) fail(ctx context.Context, m *models.Movement, execErr *ExecutionError) (*models.Movement, error) {
	needsReconciliation := execErr.CompensationErr != nil
	settled, err := s.settle(ctx, m, Settlement{
		Status:              domain.StatusFailed,
		FailureReason:       execErr.Step,
		NeedsReconciliation: needsReconciliation,
	})

	if err != nil {
		reason := domain.ReconcileSettleNotPersisted
		if needsReconciliation {
			reason = domain.ReconcileCompensationFailed
		}
		s.notPersisted(ctx, err, reason, execErr.CompensationErr)
		return nil, err
	}
	if needsReconciliation {
		s.hook.ReconciliationRequired(ctx, settled, domain.ReconcileCompensationFailed, execErr.CompensationErr)
	}

	execErr.Movement = settled
	observability.IncrementMovementOutcome(m.Kind, "failed")
	s.logger.Warn("movement failed",
		zap.String("movement_id", settled.ID.String()),
		zap.String("kind", settled.Kind),
		zap.String("step", execErr.Step),
		zap.Bool("compensated", execErr.Compensated),
		zap.Error(execErr.Cause),
	)
	s.publish(ctx, domain.EventMovementFailed, settled)
	return nil, execErr
}

// settle persists a terminal status with a few bounded retries. When the
// status cannot be stored it returns a SettlementError carrying the intended
// outcome; the caller fires the reconciliation hook.
func (s *MovementService) settle(ctx context.Context, m *models.Movement, st Settlement) (*models.Movement, error) {
	st.MovementID = m.ID
	delay := s.cfg.SettleBackoff

	var lastErr error
	for attempt := 1; attempt <= s.cfg.SettleAttempts; attempt++ {
		wctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerWriteTimeout)
		settled, err := s.ledger.Settle(wctx, st)
		cancel()
		if err == nil {
			return settled, nil
		}

		// The row already left PENDING: an earlier attempt committed before
		// its reply was lost, or someone else settled it.
		if errors.Is(err, ErrInvalidTransition) {
			gctx, gcancel := context.WithTimeout(ctx, s.cfg.LedgerWriteTimeout)
			current, getErr := s.ledger.Get(gctx, m.ID)
			gcancel()
			if getErr == nil && current.Status == st.Status {
				return current, nil
			}
			if getErr == nil {
				err = fmt.Errorf("%w: recorded %s, outcome %s", err, current.Status, st.Status)
			}
		}

		lastErr = err
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrMovementNotFound) {
			break
		}
		s.logger.Warn("settle movement failed",
			zap.String("movement_id", m.ID.String()),
			zap.String("status", st.Status),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < s.cfg.SettleAttempts && delay > 0 {
			time.Sleep(delay)
			delay *= 2
		}
	}

	intended := *m
	intended.Status = st.Status
	intended.FailureReason = st.FailureReason
	intended.NeedsReconciliation = true
	observability.IncrementMovementOutcome(m.Kind, "ledger_error")
	return nil, &SettlementError{Movement: &intended, Cause: lastErr}
}

// notPersisted raises one reconciliation alert for a movement whose terminal
// status could not be stored.
func (s *MovementService) notPersisted(ctx context.Context, err error, reason string, cause error) {
	var settleErr *SettlementError
	if !errors.As(err, &settleErr) {
		return
	}
	if cause == nil {
		cause = settleErr.Cause
	} else {
		cause = errors.Join(cause, settleErr.Cause)
	}
	s.hook.ReconciliationRequired(ctx, settleErr.Movement, reason, cause)
}

func (s *MovementService) publish(ctx context.Context, eventType string, m *models.Movement) {
	if err := s.events.Publish(ctx, eventType, m, ""); err != nil {
		s.logger.Warn("publish movement event failed",
			zap.String("movement_id", m.ID.String()),
			zap.String("event", eventType),
			zap.Error(err),
		)
	}
}
