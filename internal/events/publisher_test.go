package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ayo6706/funds-movement/internal/domain"
	"github.com/ayo6706/funds-movement/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPublisherAppendsMovementEvent(t *testing.T) {
	_, client := newTestRedis(t)
	pub := NewPublisher(client, "test.movements")

	from := uuid.New()
	to := uuid.New()
	m := &models.Movement{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		FromAccountID: &from,
		ToAccountID:   &to,
		Amount:        decimal.RequireFromString("100"),
		Kind:          domain.KindTransfer,
		Status:        domain.StatusCompleted,
		CreatedAt:     time.Now().UTC(),
	}

	require.NoError(t, pub.Publish(context.Background(), domain.EventMovementCompleted, m, ""))

	msgs, err := client.XRange(context.Background(), "test.movements", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.EventMovementCompleted, msgs[0].Values["type"])

	raw, ok := msgs[0].Values["event"].(string)
	require.True(t, ok)
	var decoded struct {
		Type string        `json:"type"`
		Data MovementEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, domain.EventMovementCompleted, decoded.Type)
	assert.Equal(t, m.ID.String(), decoded.Data.MovementID)
	assert.Equal(t, "100.00", decoded.Data.Amount)
	require.NotNil(t, decoded.Data.FromAccountID)
	assert.Equal(t, from.String(), *decoded.Data.FromAccountID)
}

func TestPublisherReturnsErrorWhenRedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	pub := NewPublisher(client, "")
	mr.Close()

	to := uuid.New()
	m := &models.Movement{ID: uuid.New(), UserID: uuid.New(), ToAccountID: &to, Amount: decimal.NewFromInt(1), Kind: domain.KindDeposit, Status: domain.StatusFailed}
	assert.Error(t, pub.Publish(context.Background(), domain.EventMovementFailed, m, ""))
}

func TestNilPublisherIsNoop(t *testing.T) {
	var pub *Publisher
	assert.NoError(t, pub.Publish(context.Background(), domain.EventMovementFailed, &models.Movement{}, ""))
}
