package repository

import (
	"context"

	"github.com/ayo6706/funds-movement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const insertAuditLog = `
INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    pgtype.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, insertAuditLog,
		arg.EntityType,
		arg.EntityID,
		arg.ActorID,
		arg.Action,
		arg.PrevState,
		arg.NextState,
		arg.Metadata,
	).Scan(&id)
	return id, err
}

const listAuditLogByEntity = `
SELECT id, entity_type, entity_id, actor_id, action, COALESCE(prev_state, ''), COALESCE(next_state, ''), metadata, created_at
FROM audit_log
WHERE entity_type = $1 AND entity_id = $2
ORDER BY id ASC`

func (q *Queries) ListAuditLogByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEntry, error) {
	rows, err := q.db.Query(ctx, listAuditLogByEntity, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.AuditEntry{}
	for rows.Next() {
		var (
			e     models.AuditEntry
			actor pgtype.UUID
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &actor, &e.Action, &e.PrevState, &e.NextState, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = FromPgUUIDPtr(actor)
		items = append(items, e)
	}
	return items, rows.Err()
}
