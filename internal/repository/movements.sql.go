package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/funds-movement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const movementColumns = `id, user_id, from_account_id, to_account_id, amount::text, kind, status, note,
	failure_reason, needs_reconciliation, created_at, settled_at`

func scanMovement(row pgx.Row) (models.Movement, error) {
	var (
		m         models.Movement
		from, to  pgtype.UUID
		amount    string
		settledAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&m.ID,
		&m.UserID,
		&from,
		&to,
		&amount,
		&m.Kind,
		&m.Status,
		&m.Note,
		&m.FailureReason,
		&m.NeedsReconciliation,
		&m.CreatedAt,
		&settledAt,
	); err != nil {
		return models.Movement{}, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return models.Movement{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	m.Amount = parsed
	m.FromAccountID = FromPgUUIDPtr(from)
	m.ToAccountID = FromPgUUIDPtr(to)
	if settledAt.Valid {
		t := settledAt.Time
		m.SettledAt = &t
	}
	return m, nil
}

func collectMovements(rows pgx.Rows) ([]models.Movement, error) {
	defer rows.Close()
	items := []models.Movement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertMovement = `
INSERT INTO movements (id, user_id, from_account_id, to_account_id, amount, kind, status, note)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)
RETURNING ` + movementColumns

func (q *Queries) InsertMovement(ctx context.Context, m models.Movement) (models.Movement, error) {
	row := q.db.QueryRow(ctx, insertMovement,
		m.ID,
		m.UserID,
		ToPgUUIDPtr(m.FromAccountID),
		ToPgUUIDPtr(m.ToAccountID),
		m.Amount.StringFixed(2),
		m.Kind,
		m.Status,
		m.Note,
	)
	return scanMovement(row)
}

const getMovement = `SELECT ` + movementColumns + ` FROM movements WHERE id = $1`

func (q *Queries) GetMovement(ctx context.Context, id uuid.UUID) (models.Movement, error) {
	return scanMovement(q.db.QueryRow(ctx, getMovement, id))
}

const getMovementStateForUpdate = `SELECT status, needs_reconciliation FROM movements WHERE id = $1 FOR UPDATE`

type MovementLockState struct {
	Status              string
	NeedsReconciliation bool
}

// GetMovementStateForUpdate locks the movement row for the rest of the
// transaction.
func (q *Queries) GetMovementStateForUpdate(ctx context.Context, id uuid.UUID) (MovementLockState, error) {
	var st MovementLockState
	err := q.db.QueryRow(ctx, getMovementStateForUpdate, id).Scan(&st.Status, &st.NeedsReconciliation)
	return st, err
}

const settleMovement = `
UPDATE movements
SET status = $2,
    failure_reason = $3,
    needs_reconciliation = needs_reconciliation OR $4,
    settled_at = NOW()
WHERE id = $1 AND status = 'PENDING'
RETURNING ` + movementColumns

type SettleMovementParams struct {
	ID                  uuid.UUID
	Status              string
	FailureReason       string
	NeedsReconciliation bool
}

func (q *Queries) SettleMovement(ctx context.Context, arg SettleMovementParams) (models.Movement, error) {
	row := q.db.QueryRow(ctx, settleMovement, arg.ID, arg.Status, arg.FailureReason, arg.NeedsReconciliation)
	return scanMovement(row)
}

const listMovementsByUser = `
SELECT ` + movementColumns + `
FROM movements
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`

func (q *Queries) ListMovementsByUser(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.Movement, error) {
	rows, err := q.db.Query(ctx, listMovementsByUser, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

const countMovementsByUser = `SELECT COUNT(*) FROM movements WHERE user_id = $1`

func (q *Queries) CountMovementsByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countMovementsByUser, userID).Scan(&n)
	return n, err
}

const listStalePendingMovements = `
SELECT ` + movementColumns + `
FROM movements
WHERE status = 'PENDING' AND created_at < $1
ORDER BY created_at ASC
LIMIT $2`

func (q *Queries) ListStalePendingMovements(ctx context.Context, createdBefore time.Time, limit int32) ([]models.Movement, error) {
	rows, err := q.db.Query(ctx, listStalePendingMovements, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

const setMovementReconciliation = `
UPDATE movements
SET needs_reconciliation = $2
WHERE id = $1 AND needs_reconciliation <> $2`

func (q *Queries) SetMovementReconciliation(ctx context.Context, id uuid.UUID, flagged bool) (int64, error) {
	tag, err := q.db.Exec(ctx, setMovementReconciliation, id, flagged)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listFlaggedMovements = `
SELECT ` + movementColumns + `
FROM movements
WHERE needs_reconciliation
ORDER BY created_at ASC
LIMIT $1 OFFSET $2`

func (q *Queries) ListFlaggedMovements(ctx context.Context, limit, offset int32) ([]models.Movement, error) {
	rows, err := q.db.Query(ctx, listFlaggedMovements, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

const countFlaggedMovements = `SELECT COUNT(*) FROM movements WHERE needs_reconciliation`

func (q *Queries) CountFlaggedMovements(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countFlaggedMovements).Scan(&n)
	return n, err
}
