package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/funds-movement/internal/domain"
	"github.com/ayo6706/funds-movement/internal/models"
	"github.com/ayo6706/funds-movement/internal/repository"
	"github.com/jackc/pgx/v5"
)

// transitionMovementState moves a PENDING movement to a terminal status under
// a row lock and records the transition in the audit log.
func transitionMovementState(ctx context.Context, qtx *repository.Queries, audit *AuditService, s Settlement) (models.Movement, error) {
	locked, err := qtx.GetMovementStateForUpdate(ctx, s.MovementID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Movement{}, ErrMovementNotFound
		}
		return models.Movement{}, fmt.Errorf("get current movement state: %w", err)
	}
	currentState := locked.Status

	if !domain.CanTransition(currentState, s.Status) {
		return models.Movement{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentState, s.Status)
	}
	// Operators may only settle movements the engine has let go of.
	if s.RequireFlagged && !locked.NeedsReconciliation {
		return models.Movement{}, fmt.Errorf("%w: movement is not awaiting reconciliation", ErrInvalidResolution)
	}

	settled, err := qtx.SettleMovement(ctx, repository.SettleMovementParams{
		ID:                  s.MovementID,
		Status:              s.Status,
		FailureReason:       s.FailureReason,
		NeedsReconciliation: s.NeedsReconciliation,
	})
	if err != nil {
		return models.Movement{}, fmt.Errorf("update movement state: %w", err)
	}

	action := s.Action
	if action == "" {
		action = "movement.settled"
	}
	metadata := map[string]any{}
	for k, v := range s.Metadata {
		metadata[k] = v
	}
	if s.FailureReason != "" {
		metadata["failure_reason"] = s.FailureReason
	}
	if s.NeedsReconciliation {
		metadata["needs_reconciliation"] = true
	}
	if err := audit.Write(ctx, qtx, auditEntityMovement, s.MovementID, s.ActorID, action, currentState, s.Status, metadata); err != nil {
		return models.Movement{}, err
	}

	return settled, nil
}
