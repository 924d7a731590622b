package service

import (
	"context"

	"github.com/ayo6706/funds-movement/internal/domain"
	"github.com/ayo6706/funds-movement/internal/models"
	"github.com/ayo6706/funds-movement/internal/observability"
	"go.uber.org/zap"
)

// EventPublisher receives movement lifecycle events. Publishing is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, m *models.Movement, reason string) error
}

// ReconciliationHook is told about movements whose books may be inconsistent
// and need an operator.
type ReconciliationHook interface {
	ReconciliationRequired(ctx context.Context, m *models.Movement, reason string, cause error)
}

// AlertingHook logs at error severity, counts the alert and publishes a
// reconciliation event.
type AlertingHook struct {
	logger *zap.Logger
	events EventPublisher
}

func NewAlertingHook(logger *zap.Logger, events EventPublisher) *AlertingHook {
	if logger == nil {
		logger = zap.L()
	}
	return &AlertingHook{logger: logger, events: events}
}

func (h *AlertingHook) ReconciliationRequired(ctx context.Context, m *models.Movement, reason string, cause error) {
	observability.IncrementReconciliationRequired(reason)
	h.logger.Error("CRITICAL: movement requires reconciliation",
		zap.String("movement_id", m.ID.String()),
		zap.String("kind", m.Kind),
		zap.Stringers("account_ids", m.AccountIDs()),
		zap.String("status", m.Status),
		zap.String("amount", domain.FormatAmount(m.Amount)),
		zap.String("reason", reason),
		zap.Error(cause),
	)

	if h.events == nil {
		return
	}
	if err := h.events.Publish(ctx, domain.EventMovementReconciliationRequired, m, reason); err != nil {
		h.logger.Warn("publish reconciliation event failed", zap.String("movement_id", m.ID.String()), zap.Error(err))
	}
}

type nopHook struct{}

func (nopHook) ReconciliationRequired(context.Context, *models.Movement, string, error) {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, *models.Movement, string) error { return nil }
