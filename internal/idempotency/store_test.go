package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCachedStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, nil, time.Minute), mr
}

func TestLookupServesFromRedisCache(t *testing.T) {
	store, mr := newCachedStore(t)
	ctx := context.Background()

	store.cache(ctx, Record{
		Key:         "key-1",
		RequestHash: "hash-1",
		Status:      201,
		Body:        []byte(`{"id":"abc"}`),
		ContentType: "application/json",
	})
	assert.True(t, mr.Exists("idempotency:key-1"))
	assert.Equal(t, time.Minute, mr.TTL("idempotency:key-1"))

	rec, err := store.Lookup(ctx, "key-1", "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "redis", rec.ServedBy)
	assert.Equal(t, 201, rec.Status)
	assert.JSONEq(t, `{"id":"abc"}`, string(rec.Body))
}

func TestLookupDetectsHashMismatchInCache(t *testing.T) {
	store, _ := newCachedStore(t)
	ctx := context.Background()
	store.cache(ctx, Record{Key: "key-2", RequestHash: "hash-a", Status: 201})

	_, err := store.Lookup(ctx, "key-2", "hash-b")
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestRedisKeyPrefix(t *testing.T) {
	assert.Equal(t, "idempotency:abc", redisKey("abc"))
}

func TestLookupWithoutDatabaseMissesCleanly(t *testing.T) {
	store, _ := newCachedStore(t)

	_, err := store.Lookup(context.Background(), "absent", "hash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupIgnoresMalformedCacheEntry(t *testing.T) {
	store, mr := newCachedStore(t)
	require.NoError(t, mr.Set("idempotency:bad", "{not json"))

	_, err := store.Lookup(context.Background(), "bad", "hash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWaitForCompletionReturnsCachedRecord(t *testing.T) {
	store, _ := newCachedStore(t)
	ctx := context.Background()
	store.cache(ctx, Record{Key: "key-3", RequestHash: "h", Status: 201, Body: []byte(`{}`)})

	rec, err := store.WaitForCompletion(ctx, "key-3", "h")
	require.NoError(t, err)
	assert.Equal(t, 201, rec.Status)
}

func TestNewStoreDefaultsTTL(t *testing.T) {
	store := NewStore(nil, nil, 0)
	assert.Equal(t, 24*time.Hour, store.ttl)
	assert.Equal(t, defaultWaitTimeout, store.waitTimeout)
}
