package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/funds-movement/internal/repository"
	"github.com/google/uuid"
)

const auditEntityMovement = "movement"

// AuditService writes immutable audit trail entries.
type AuditService struct{}

func NewAuditService() *AuditService {
	return &AuditService{}
}

// Write stores a single immutable audit record inside the caller's transaction.
func (s *AuditService) Write(ctx context.Context, qtx *repository.Queries, entityType string, entityID uuid.UUID, actorID *uuid.UUID, action, prevState, nextState string, metadata map[string]any) error {
	var raw []byte
	if len(metadata) > 0 {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		raw = encoded
	}

	if _, err := qtx.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    repository.ToPgUUIDPtr(actorID),
		Action:     action,
		PrevState:  textParam(prevState),
		NextState:  textParam(nextState),
		Metadata:   raw,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
