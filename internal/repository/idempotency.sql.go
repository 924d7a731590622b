package repository

import (
	"context"
	"time"
)

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	InProgress     bool
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const idempotencyColumns = `idempotency_key, request_hash, method, path, in_progress,
	response_status, response_body, content_type, created_at, updated_at`

func scanIdempotencyKey(row interface{ Scan(dest ...any) error }) (IdempotencyKey, error) {
	var i IdempotencyKey
	err := row.Scan(
		&i.IdempotencyKey,
		&i.RequestHash,
		&i.Method,
		&i.Path,
		&i.InProgress,
		&i.ResponseStatus,
		&i.ResponseBody,
		&i.ContentType,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getIdempotencyKey = `SELECT ` + idempotencyColumns + `
FROM idempotency_keys
WHERE idempotency_key = $1 AND created_at >= NOW() - make_interval(secs => $2::double precision)`

// GetIdempotencyKey ignores keys older than ttl.
func (q *Queries) GetIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, getIdempotencyKey, key, ttl.Seconds()))
}

const reserveIdempotencyKey = `
INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress)
VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (idempotency_key) DO UPDATE
SET request_hash = EXCLUDED.request_hash,
    method = EXCLUDED.method,
    path = EXCLUDED.path,
    in_progress = TRUE,
    response_status = 0,
    response_body = ''::bytea,
    content_type = '',
    created_at = NOW(),
    updated_at = NOW()
WHERE idempotency_keys.created_at < NOW() - make_interval(secs => $5::double precision)
RETURNING ` + idempotencyColumns

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	TTL            time.Duration
}

// ReserveIdempotencyKey claims a new or expired key. It returns
// pgx.ErrNoRows when a live key already exists.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (IdempotencyKey, error) {
	row := q.db.QueryRow(ctx, reserveIdempotencyKey, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path, arg.TTL.Seconds())
	return scanIdempotencyKey(row)
}

const finalizeIdempotencyKey = `
UPDATE idempotency_keys
SET in_progress = FALSE,
    response_status = $1,
    response_body = $2,
    content_type = $3,
    updated_at = NOW()
WHERE idempotency_key = $4 AND request_hash = $5
RETURNING ` + idempotencyColumns

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	row := q.db.QueryRow(ctx, finalizeIdempotencyKey,
		arg.ResponseStatus,
		arg.ResponseBody,
		arg.ContentType,
		arg.IdempotencyKey,
		arg.RequestHash,
	)
	return scanIdempotencyKey(row)
}

const releaseIdempotencyKey = `
DELETE FROM idempotency_keys
WHERE idempotency_key = $1 AND request_hash = $2 AND in_progress`

func (q *Queries) ReleaseIdempotencyKey(ctx context.Context, key, requestHash string) (int64, error) {
	tag, err := q.db.Exec(ctx, releaseIdempotencyKey, key, requestHash)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const deleteExpiredIdempotencyKeys = `
DELETE FROM idempotency_keys
WHERE created_at < NOW() - make_interval(secs => $1::double precision)`

func (q *Queries) DeleteExpiredIdempotencyKeys(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteExpiredIdempotencyKeys, ttl.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
