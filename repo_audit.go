package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuditLogs stores activity events and doubles as an ActivitySink
type AuditLogs interface {
	repository.Repository[*AuditLog]
	ActivitySink
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*AuditLog, error)
}

type auditLogs struct {
	repository.Repository[*AuditLog]
	db *bun.DB
}

var _ AuditLogs = (*auditLogs)(nil)

// NewAuditLogsRepository returns the bun backed audit log store
func NewAuditLogsRepository(db *bun.DB) AuditLogs {
	repo := repository.NewRepository[*AuditLog](db, repository.ModelHandlers[*AuditLog]{
		NewRecord: func() *AuditLog { return &AuditLog{} },
		GetID: func(record *AuditLog) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *AuditLog, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
		GetIdentifier: func() string {
			return "entity_id"
		},
	})

	return &auditLogs{
		Repository: repo,
		db:         db,
	}
}

// Record implements ActivitySink
func (a *auditLogs) Record(ctx context.Context, event ActivityEvent) error {
	_, err := a.Repository.CreateTx(ctx, a.db, auditLogFromEvent(event))
	return err
}

// ListByEntity returns the entries of one entity, oldest first
func (a *auditLogs) ListByEntity(ctx context.Context, entityType, entityID string) ([]*AuditLog, error) {
	records := []*AuditLog{}
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.entity_type = ?", entityType).
		Where("?TableAlias.entity_id = ?", entityID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func auditLogFromEvent(event ActivityEvent) *AuditLog {
	entityType := event.EntityType
	if entityType == "" {
		entityType = AuditEntityUser
	}

	entityID := event.EntityID
	if entityID == "" {
		entityID = event.UserID
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	record := &AuditLog{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     string(event.EventType),
		IPAddress:  event.Origin.IPAddress,
		UserAgent:  event.Origin.UserAgent,
		Metadata:   event.Metadata,
		CreatedAt:  &occurredAt,
	}

	if uid, err := uuid.Parse(event.UserID); err == nil {
		record.UserID = &uid
	}

	return record
}
