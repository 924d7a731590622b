package events

import "time"

// DefaultStream receives movement lifecycle events.
const DefaultStream = "funds.movement.events"

// Event is the envelope appended to the stream.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// MovementEvent is the payload of every movement lifecycle event.
type MovementEvent struct {
	MovementID          string  `json:"movementId"`
	UserID              string  `json:"userId"`
	Kind                string  `json:"kind"`
	Status              string  `json:"status"`
	Amount              string  `json:"amount"`
	FromAccountID       *string `json:"fromAccountId,omitempty"`
	ToAccountID         *string `json:"toAccountId,omitempty"`
	FailureReason       string  `json:"failureReason,omitempty"`
	NeedsReconciliation bool    `json:"needsReconciliation"`
	Reason              string  `json:"reason,omitempty"`
}
