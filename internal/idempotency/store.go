// Package idempotency stores the first response to a request made with an
// Idempotency-Key so retries of a movement replay it instead of moving money
// again. Postgres is the source of truth; Redis is a read-through cache.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/funds-movement/internal/observability"
	"github.com/ayo6706/funds-movement/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const (
	redisKeyPrefix = "idempotency"
	// defaultWaitTimeout bounds how long a duplicate waits for the first
	// request. It must cover a full saga including settle retries.
	defaultWaitTimeout = 20 * time.Second
	pollInterval       = 50 * time.Millisecond
)

type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

// Store keeps Idempotency-Key responses in Postgres with a Redis read cache.
// Keys expire after ttl in both.
type Store struct {
	redis       redis.Cmdable
	db          repository.DBTX
	ttl         time.Duration
	waitTimeout time.Duration
}

func NewStore(redis redis.Cmdable, db repository.DBTX, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{redis: redis, db: db, ttl: ttl, waitTimeout: defaultWaitTimeout}
}

type cacheEnvelope struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

// Lookup returns the stored response for key. It fails with ErrHashMismatch
// when key was used for a different request and ErrInProgress while the
// first request is still executing.
func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if rec, err := s.lookupCache(ctx, key, requestHash); rec != nil || err != nil {
		return rec, err
	}
	if s.db == nil {
		return nil, ErrNotFound
	}

	row, err := repository.New(s.db).GetIdempotencyKey(ctx, key, s.ttl)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if row.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	if row.InProgress {
		return nil, ErrInProgress
	}

	rec := recordFromRow(row)
	s.cache(ctx, rec)
	return &rec, nil
}

func (s *Store) lookupCache(ctx context.Context, key, requestHash string) (*Record, error) {
	if s.redis == nil {
		return nil, nil
	}
	val, err := s.redis.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			observability.IncrementIdempotencyEvent("cache_error")
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		}
		return nil, nil
	}
	var env cacheEnvelope
	if err := json.Unmarshal(val, &env); err != nil {
		zap.L().Warn("discarding malformed idempotency cache entry", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	if env.Hash != requestHash {
		return nil, ErrHashMismatch
	}
	return &Record{
		Key:         env.Key,
		RequestHash: env.Hash,
		Status:      env.Status,
		Body:        env.Body,
		ContentType: env.ContentType,
		ServedBy:    "redis",
	}, nil
}

// Reserve claims key for a new request. It reports false when a live
// reservation or response already exists.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	_, err := repository.New(s.db).ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Method:         method,
		Path:           path,
		TTL:            s.ttl,
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("reserve idempotency key: %w", err)
}

// Finalize stores the response for a reserved key.
func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	row, err := repository.New(s.db).FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		ResponseStatus: int32(status),
		ResponseBody:   body,
		ContentType:    contentType,
		IdempotencyKey: key,
		RequestHash:    requestHash,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}

	rec := recordFromRow(row)
	s.cache(ctx, rec)
	return &rec, nil
}

// Release drops an unfinished reservation so the key can be retried.
func (s *Store) Release(ctx context.Context, key, requestHash string) error {
	if _, err := repository.New(s.db).ReleaseIdempotencyKey(ctx, key, requestHash); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// WaitForCompletion polls until the first request for key finishes, ctx ends
// or the wait timeout passes.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrInProgress) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrInProgress, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Purge deletes expired keys from Postgres. Redis entries expire on their own.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	n, err := repository.New(s.db).DeleteExpiredIdempotencyKeys(ctx, s.ttl)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return n, nil
}

func (s *Store) cache(ctx context.Context, rec Record) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(cacheEnvelope{
		Key:         rec.Key,
		Hash:        rec.RequestHash,
		Status:      rec.Status,
		Body:        rec.Body,
		ContentType: rec.ContentType,
	})
	if err != nil {
		zap.L().Warn("marshal idempotency cache", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, redisKey(rec.Key), payload, s.ttl).Err(); err != nil {
		observability.IncrementIdempotencyEvent("cache_error")
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err))
	}
}

func recordFromRow(row repository.IdempotencyKey) Record {
	return Record{
		Key:         row.IdempotencyKey,
		RequestHash: row.RequestHash,
		Status:      int(row.ResponseStatus),
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
		ServedBy:    "postgres",
	}
}

func redisKey(key string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, key)
}
