package domain

// Movement kinds.
const (
	KindDeposit    = "DEPOSIT"
	KindWithdrawal = "WITHDRAWAL"
	KindTransfer   = "TRANSFER"
)

// Movement statuses.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Execution steps recorded as the failure reason of a FAILED movement.
const (
	StepBalanceWrite      = "balance_write"
	StepSourceDebit       = "source_debit"
	StepDestinationCredit = "destination_credit"
)

// Movement lifecycle event types published to the events stream.
const (
	EventMovementCompleted              = "movement.completed"
	EventMovementFailed                 = "movement.failed"
	EventMovementReconciliationRequired = "movement.reconciliation_required"
)

// Reasons attached to reconciliation alerts.
const (
	ReconcileCompensationFailed = "compensation_failed"
	ReconcileSettleNotPersisted = "settle_not_persisted"
	ReconcileStalePending       = "stale_pending"
)

// MaxNoteLength bounds the free-text note stored with a movement.
const MaxNoteLength = 500
