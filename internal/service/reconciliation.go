package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/funds-movement/internal/domain"
	"github.com/ayo6706/funds-movement/internal/models"
	"github.com/ayo6706/funds-movement/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const staleScanBatch = 100

// ReconciliationService surfaces movements whose books may disagree with the
// Accounts service: PENDING records left behind by a crash and movements
// flagged by the engine. It never settles them on its own.
type ReconciliationService struct {
	ledger     ReconciliationLedger
	hook       ReconciliationHook
	staleAfter time.Duration
	now        func() time.Time
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(ledger ReconciliationLedger, hook ReconciliationHook, staleAfter time.Duration) *ReconciliationService {
	if hook == nil {
		hook = nopHook{}
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &ReconciliationService{
		ledger:     ledger,
		hook:       hook,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Run flags PENDING movements older than the stale threshold and refreshes
// the reconciliation queue gauge.
func (s *ReconciliationService) Run(ctx context.Context) error {
	cutoff := s.now().Add(-s.staleAfter)
	stale, err := s.ledger.ListStalePending(ctx, cutoff, staleScanBatch)
	if err != nil {
		return fmt.Errorf("list stale pending movements: %w", err)
	}

	for i := range stale {
		m := &stale[i]
		flagged, err := s.ledger.Flag(ctx, m.ID, domain.ReconcileStalePending)
		if err != nil {
			return fmt.Errorf("flag movement %s: %w", m.ID, err)
		}
		if !flagged {
			continue
		}
		m.NeedsReconciliation = true
		s.hook.ReconciliationRequired(ctx, m, domain.ReconcileStalePending, nil)
	}

	_, total, err := s.ledger.ListFlagged(ctx, 1, 0)
	if err != nil {
		return fmt.Errorf("count flagged movements: %w", err)
	}
	observability.SetReconciliationQueueSize(total)

	if total > 0 {
		zap.L().Warn("movements awaiting reconciliation", zap.Int64("count", total), zap.Int("newly_stale", len(stale)))
	} else {
		zap.L().Info("reconciliation queue empty")
	}
	return nil
}

// Queue lists flagged movements, oldest first.
func (s *ReconciliationService) Queue(ctx context.Context, page, pageSize int) (*MovementPage, error) {
	page, pageSize = clampPage(page, pageSize)
	items, total, err := s.ledger.ListFlagged(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	return &MovementPage{Items: items, Page: page, PageSize: pageSize, Total: total}, nil
}

// MovementDetail is a movement with its audit trail.
type MovementDetail struct {
	Movement *models.Movement    `json:"movement"`
	Audit    []models.AuditEntry `json:"audit"`
}

// Inspect loads a movement and its audit trail for an operator.
func (s *ReconciliationService) Inspect(ctx context.Context, movementID uuid.UUID) (*MovementDetail, error) {
	m, err := s.ledger.Get(ctx, movementID)
	if err != nil {
		if errors.Is(err, ErrMovementNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	audit, err := s.ledger.AuditTrail(ctx, movementID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	return &MovementDetail{Movement: m, Audit: audit}, nil
}

// Resolve records an operator decision for a flagged or stuck movement.
func (s *ReconciliationService) Resolve(ctx context.Context, actorID, movementID uuid.UUID, decision, reason string) (*models.Movement, error) {
	switch decision {
	case DecisionMarkCompleted, DecisionMarkFailed, DecisionAcknowledge:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, decision)
	}

	m, err := s.ledger.Resolve(ctx, Resolution{
		MovementID: movementID,
		Decision:   decision,
		ActorID:    actorID,
		Reason:     reason,
	})
	if err != nil {
		if errors.Is(err, ErrMovementNotFound) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrInvalidResolution) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	zap.L().Info("movement reconciled",
		zap.String("movement_id", m.ID.String()),
		zap.String("decision", decision),
		zap.String("actor_id", actorID.String()),
		zap.String("status", m.Status),
	)
	return m, nil
}
