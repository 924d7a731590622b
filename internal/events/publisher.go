package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayo6706/funds-movement/internal/domain"
	"github.com/ayo6706/funds-movement/internal/models"
	"github.com/ayo6706/funds-movement/internal/observability"
	"github.com/redis/go-redis/v9"
)

const defaultMaxLen = 100_000

// Publisher appends movement events to a Redis stream.
type Publisher struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewPublisher(client redis.Cmdable, stream string) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{client: client, stream: stream, maxLen: defaultMaxLen}
}

// Publish appends one event for m. reason is only set for reconciliation alerts.
func (p *Publisher) Publish(ctx context.Context, eventType string, m *models.Movement, reason string) error {
	if p == nil || p.client == nil {
		return nil
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      newMovementEvent(m, reason),
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		observability.IncrementEventPublish(eventType, "error")
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":  eventType,
			"event": eventJSON,
		},
	}
	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		observability.IncrementEventPublish(eventType, "error")
		return fmt.Errorf("failed to publish event: %w", err)
	}
	observability.IncrementEventPublish(eventType, "ok")
	return nil
}

func newMovementEvent(m *models.Movement, reason string) MovementEvent {
	ev := MovementEvent{
		MovementID:          m.ID.String(),
		UserID:              m.UserID.String(),
		Kind:                m.Kind,
		Status:              m.Status,
		Amount:              domain.FormatAmount(m.Amount),
		FailureReason:       m.FailureReason,
		NeedsReconciliation: m.NeedsReconciliation,
		Reason:              reason,
	}
	if m.FromAccountID != nil {
		from := m.FromAccountID.String()
		ev.FromAccountID = &from
	}
	if m.ToAccountID != nil {
		to := m.ToAccountID.String()
		ev.ToAccountID = &to
	}
	return ev
}
