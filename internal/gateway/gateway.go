package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Credential is the caller's bearer token, forwarded unchanged to the
// Accounts service.
type Credential string

// Outcome classifies a single Accounts service call.
type Outcome int

const (
	// OutcomeUnknown is the zero value. It never counts as success.
	OutcomeUnknown Outcome = iota
	// OutcomeConfirmed means the collaborator explicitly acknowledged the call.
	OutcomeConfirmed
	// OutcomeRejected means the collaborator explicitly refused (not found,
	// not owned, non-success status).
	OutcomeRejected
	// OutcomeIndeterminate means the effect is unknown: transport fault,
	// timeout, open circuit or an unreadable response.
	OutcomeIndeterminate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeIndeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrNotOwner        = errors.New("account not owned by caller")
	ErrUnexpectedReply = errors.New("unexpected accounts service reply")
	ErrUnavailable     = errors.New("accounts service unavailable")
)

// Result is the three-way outcome of a gateway call. Anything other than
// OutcomeConfirmed must be treated as failure.
type Result struct {
	Outcome Outcome
	Cause   error
}

func Confirmed() Result {
	return Result{Outcome: OutcomeConfirmed}
}

func Rejected(cause error) Result {
	return Result{Outcome: OutcomeRejected, Cause: cause}
}

func Indeterminate(cause error) Result {
	if cause == nil {
		cause = ErrUnavailable
	}
	return Result{Outcome: OutcomeIndeterminate, Cause: cause}
}

// OK reports whether the call was explicitly confirmed.
func (r Result) OK() bool {
	return r.Outcome == OutcomeConfirmed
}

// Err returns nil for confirmed calls and a non-nil cause otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	if r.Cause != nil {
		return r.Cause
	}
	if r.Outcome == OutcomeRejected {
		return ErrUnexpectedReply
	}
	return ErrUnavailable
}

// Gateway is the sole channel to the external Accounts service. Every method
// is a single remote call without retry.
type Gateway interface {
	ValidateOwnership(ctx context.Context, cred Credential, accountID, userID uuid.UUID) Result
	ReadBalance(ctx context.Context, cred Credential, accountID uuid.UUID) (decimal.Decimal, Result)
	WriteBalance(ctx context.Context, cred Credential, accountID uuid.UUID, newBalance decimal.Decimal) Result
}

// Operation names used in logs and metrics.
const (
	OpValidateOwnership = "validate_ownership"
	OpReadBalance       = "read_balance"
	OpWriteBalance      = "write_balance"
)
