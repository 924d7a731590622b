package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ayo6706/funds-movement/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Movement is the durable record of one deposit, withdrawal or transfer.
type Movement struct {
	ID                  uuid.UUID       `json:"id"`
	UserID              uuid.UUID       `json:"user_id"`
	FromAccountID       *uuid.UUID      `json:"from_account_id,omitempty"`
	ToAccountID         *uuid.UUID      `json:"to_account_id,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	Kind                string          `json:"kind"`
	Status              string          `json:"status"`
	Note                string          `json:"note,omitempty"`
	FailureReason       string          `json:"failure_reason,omitempty"`
	NeedsReconciliation bool            `json:"needs_reconciliation"`
	CreatedAt           time.Time       `json:"created_at"`
	SettledAt           *time.Time      `json:"settled_at,omitempty"`
}

var ErrInvalidMovement = errors.New("invalid movement")

// Validate checks the shape invariants of a movement record.
func (m *Movement) Validate() error {
	if m.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidMovement)
	}
	if m.UserID == uuid.Nil {
		return fmt.Errorf("%w: missing initiator", ErrInvalidMovement)
	}
	if err := domain.ValidateAmount(m.Amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMovement, err)
	}
	if utf8.RuneCountInString(m.Note) > domain.MaxNoteLength {
		return fmt.Errorf("%w: note exceeds %d characters", ErrInvalidMovement, domain.MaxNoteLength)
	}

	switch m.Kind {
	case domain.KindDeposit:
		if m.FromAccountID != nil || m.ToAccountID == nil {
			return fmt.Errorf("%w: deposit requires only a destination account", ErrInvalidMovement)
		}
	case domain.KindWithdrawal:
		if m.FromAccountID == nil || m.ToAccountID != nil {
			return fmt.Errorf("%w: withdrawal requires only a source account", ErrInvalidMovement)
		}
	case domain.KindTransfer:
		if m.FromAccountID == nil || m.ToAccountID == nil {
			return fmt.Errorf("%w: transfer requires source and destination accounts", ErrInvalidMovement)
		}
		if *m.FromAccountID == *m.ToAccountID {
			return fmt.Errorf("%w: transfer accounts must differ", ErrInvalidMovement)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMovement, m.Kind)
	}

	switch m.Status {
	case domain.StatusPending:
		if m.SettledAt != nil {
			return fmt.Errorf("%w: pending movement cannot be settled", ErrInvalidMovement)
		}
	case domain.StatusCompleted, domain.StatusFailed:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidMovement, m.Status)
	}
	return nil
}

// AccountIDs returns the accounts touched by the movement.
func (m *Movement) AccountIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, 2)
	if m.FromAccountID != nil {
		ids = append(ids, *m.FromAccountID)
	}
	if m.ToAccountID != nil {
		ids = append(ids, *m.ToAccountID)
	}
	return ids
}

// AuditEntry is one immutable state-transition row of a movement.
type AuditEntry struct {
	ID         int64           `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	ActorID    *uuid.UUID      `json:"actor_id,omitempty"`
	Action     string          `json:"action"`
	PrevState  string          `json:"prev_state,omitempty"`
	NextState  string          `json:"next_state,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
