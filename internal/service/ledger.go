package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/funds-movement/internal/domain"
	"github.com/ayo6706/funds-movement/internal/models"
	"github.com/ayo6706/funds-movement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Settlement describes one PENDING -> terminal transition.
type Settlement struct {
	MovementID          uuid.UUID
	Status              string
	FailureReason       string
	NeedsReconciliation bool
	// RequireFlagged rejects the transition unless the movement is
	// awaiting reconciliation.
	RequireFlagged      bool
	ActorID             *uuid.UUID
	Action              string
	Metadata            map[string]any
}

// Ledger is the durable store of movement records used by the engine.
type Ledger interface {
	Create(ctx context.Context, m *models.Movement) error
	Settle(ctx context.Context, s Settlement) (*models.Movement, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Movement, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Movement, int64, error)
}

// Reconciliation decisions an operator can apply to a flagged movement.
const (
	DecisionMarkCompleted = "mark_completed"
	DecisionMarkFailed    = "mark_failed"
	DecisionAcknowledge   = "acknowledge"
)

// Resolution is an operator decision on a movement awaiting reconciliation.
type Resolution struct {
	MovementID uuid.UUID
	Decision   string
	ActorID    uuid.UUID
	Reason     string
}

// ReconciliationLedger exposes the queries behind stuck/flagged movement handling.
type ReconciliationLedger interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Movement, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Movement, error)
	Flag(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	ListFlagged(ctx context.Context, limit, offset int) ([]models.Movement, int64, error)
	Resolve(ctx context.Context, r Resolution) (*models.Movement, error)
	AuditTrail(ctx context.Context, id uuid.UUID) ([]models.AuditEntry, error)
}

// PostgresLedger persists movements and their audit trail in Postgres.
type PostgresLedger struct {
	store QueryStore
	audit *AuditService
}

func NewPostgresLedger(store QueryStore, audit *AuditService) *PostgresLedger {
	if audit == nil {
		audit = NewAuditService()
	}
	return &PostgresLedger{store: store, audit: audit}
}

func (l *PostgresLedger) Create(ctx context.Context, m *models.Movement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return l.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		created, err := qtx.InsertMovement(ctx, *m)
		if err != nil {
			return fmt.Errorf("insert movement: %w", err)
		}
		metadata := map[string]any{
			"kind":   created.Kind,
			"amount": domain.FormatAmount(created.Amount),
		}
		if err := l.audit.Write(ctx, qtx, auditEntityMovement, created.ID, &created.UserID, "movement.created", "", created.Status, metadata); err != nil {
			return err
		}
		*m = created
		return nil
	})
}

func (l *PostgresLedger) Settle(ctx context.Context, s Settlement) (*models.Movement, error) {
	var settled models.Movement
	err := l.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		var err error
		settled, err = transitionMovementState(ctx, qtx, l.audit, s)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &settled, nil
}

func (l *PostgresLedger) Get(ctx context.Context, id uuid.UUID) (*models.Movement, error) {
	m, err := l.store.Queries().GetMovement(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMovementNotFound
		}
		return nil, fmt.Errorf("get movement: %w", err)
	}
	return &m, nil
}

func (l *PostgresLedger) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Movement, int64, error) {
	queries := l.store.Queries()
	items, err := queries.ListMovementsByUser(ctx, userID, int32(limit), int32(offset))
	if err != nil {
		return nil, 0, fmt.Errorf("list movements: %w", err)
	}
	total, err := queries.CountMovementsByUser(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("count movements: %w", err)
	}
	return items, total, nil
}

func (l *PostgresLedger) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Movement, error) {
	items, err := l.store.Queries().ListStalePendingMovements(ctx, createdBefore, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list stale pending movements: %w", err)
	}
	return items, nil
}

// Flag marks a movement for reconciliation. It reports false when the
// movement was already flagged.
func (l *PostgresLedger) Flag(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	flagged := false
	err := l.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		rows, err := qtx.SetMovementReconciliation(ctx, id, true)
		if err != nil {
			return fmt.Errorf("flag movement: %w", err)
		}
		if rows == 0 {
			return nil
		}
		flagged = true
		return l.audit.Write(ctx, qtx, auditEntityMovement, id, nil, "movement.flagged", "", "", map[string]any{"reason": reason})
	})
	return flagged, err
}

func (l *PostgresLedger) ListFlagged(ctx context.Context, limit, offset int) ([]models.Movement, int64, error) {
	queries := l.store.Queries()
	items, err := queries.ListFlaggedMovements(ctx, int32(limit), int32(offset))
	if err != nil {
		return nil, 0, fmt.Errorf("list flagged movements: %w", err)
	}
	total, err := queries.CountFlaggedMovements(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("count flagged movements: %w", err)
	}
	return items, total, nil
}

// Resolve applies an operator decision. Flagged PENDING movements are settled
// and unflagged; flagged terminal movements can only be acknowledged. A
// PENDING movement that was never flagged still belongs to its saga.
func (l *PostgresLedger) Resolve(ctx context.Context, r Resolution) (*models.Movement, error) {
	var resolved models.Movement
	err := l.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		actor := r.ActorID
		metadata := map[string]any{"decision": r.Decision}
		if r.Reason != "" {
			metadata["reason"] = r.Reason
		}

		switch r.Decision {
		case DecisionMarkCompleted, DecisionMarkFailed:
			status := domain.StatusCompleted
			failureReason := ""
			if r.Decision == DecisionMarkFailed {
				status = domain.StatusFailed
				failureReason = "operator_resolution"
			}
			if _, err := transitionMovementState(ctx, qtx, l.audit, Settlement{
				MovementID:     r.MovementID,
				Status:         status,
				FailureReason:  failureReason,
				RequireFlagged: true,
				ActorID:        &actor,
				Action:         "movement.resolved",
				Metadata:       metadata,
			}); err != nil {
				return err
			}
		case DecisionAcknowledge:
			current, err := qtx.GetMovement(ctx, r.MovementID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrMovementNotFound
				}
				return fmt.Errorf("get movement: %w", err)
			}
			if !domain.IsTerminal(current.Status) || !current.NeedsReconciliation {
				return fmt.Errorf("%w: movement is %s and flagged=%t", ErrInvalidResolution, current.Status, current.NeedsReconciliation)
			}
		default:
			return fmt.Errorf("%w: %q", ErrInvalidResolution, r.Decision)
		}

		rows, err := qtx.SetMovementReconciliation(ctx, r.MovementID, false)
		if err != nil {
			return fmt.Errorf("clear reconciliation flag: %w", err)
		}
		if r.Decision == DecisionAcknowledge {
			if err := requireExactlyOne(rows, "clear reconciliation flag"); err != nil {
				return err
			}
			if err := l.audit.Write(ctx, qtx, auditEntityMovement, r.MovementID, &actor, "movement.reconciled", "", "", metadata); err != nil {
				return err
			}
		}

		m, err := qtx.GetMovement(ctx, r.MovementID)
		if err != nil {
			return fmt.Errorf("reload movement: %w", err)
		}
		resolved = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resolved, nil
}

// AuditTrail returns every recorded transition of a movement, oldest first.
func (l *PostgresLedger) AuditTrail(ctx context.Context, id uuid.UUID) ([]models.AuditEntry, error) {
	entries, err := l.store.Queries().ListAuditLogByEntity(ctx, auditEntityMovement, id)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	return entries, nil
}
