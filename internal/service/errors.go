package service

import (
	"errors"
	"fmt"

	"github.com/ayo6706/funds-movement/internal/domain"
	"github.com/ayo6706/funds-movement/internal/models"
)

var (
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidNote             = errors.New("invalid note")
	ErrSameAccountTransfer     = errors.New("source and destination accounts must differ")
	ErrAccountAccessDenied     = errors.New("account access denied")
	ErrBalanceUnavailable      = errors.New("balance unavailable")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrDestinationUnavailable  = errors.New("destination account unavailable")
	ErrMovementExecutionFailed = errors.New("movement execution failed")
	ErrLedgerUnavailable       = errors.New("ledger unavailable")
	ErrMovementNotFound        = errors.New("movement not found")
	ErrInvalidTransition       = errors.New("invalid movement state transition")
	ErrInvalidResolution       = errors.New("invalid reconciliation decision")
)

// ExecutionError reports a movement that reached PENDING and was then settled
// as FAILED because a balance write was not confirmed.
type ExecutionError struct {
	Movement *models.Movement
	Step     string
	Cause    error
	// Compensated is true when a debited source balance was restored.
	Compensated bool
	// CompensationErr is set when the restoring write itself failed.
	CompensationErr error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrMovementExecutionFailed, stepMessage(e.Step))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.CompensationErr != nil {
		msg += " (compensation failed: " + e.CompensationErr.Error() + ")"
	}
	return msg
}

// Summary describes the failure without the underlying causes, which may name
// internal hosts.
func (e *ExecutionError) Summary() string {
	msg := fmt.Sprintf("%s: %s", ErrMovementExecutionFailed, stepMessage(e.Step))
	switch {
	case e.CompensationErr != nil:
		msg += "; source balance not restored, movement flagged for reconciliation"
	case e.Compensated:
		msg += "; source balance restored"
	}
	return msg
}

func (e *ExecutionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrMovementExecutionFailed}
	}
	return []error{ErrMovementExecutionFailed, e.Cause}
}

// SettlementError reports a movement whose outcome is known but whose
// terminal status could not be persisted. Movement carries the intended status.
type SettlementError struct {
	Movement *models.Movement
	Cause    error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("%s: persist %s outcome of movement %s: %v", ErrLedgerUnavailable, e.Movement.Status, e.Movement.ID, e.Cause)
}

func (e *SettlementError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrLedgerUnavailable}
	}
	return []error{ErrLedgerUnavailable, e.Cause}
}

func stepMessage(step string) string {
	switch step {
	case domain.StepSourceDebit:
		return "source debit failed"
	case domain.StepDestinationCredit:
		return "destination credit failed"
	default:
		return "balance write failed"
	}
}
