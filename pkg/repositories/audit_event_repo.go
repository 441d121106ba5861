package repositories

import (
	"context"

	"github.com/finscope/txsync/pkg/database"
	"github.com/finscope/txsync/pkg/models"
	"github.com/google/uuid"
)

// AuditEventRepository defines the interface for the append-only audit trail.
type AuditEventRepository interface {
	// Insert appends one audit event and returns its id.
	Insert(ctx context.Context, event models.AuditEvent) (uuid.UUID, error)
	// FindByCorrelationId returns all events of one logical operation, oldest first.
	FindByCorrelationId(ctx context.Context, correlationID uuid.UUID) ([]models.AuditEvent, error)
}

type AuditEventRepositoryImpl struct {
	db *database.DB
}

func NewAuditEventRepository(db *database.DB) AuditEventRepository {
	return &AuditEventRepositoryImpl{db: db}
}

func (a AuditEventRepositoryImpl) Insert(ctx context.Context, event models.AuditEvent) (uuid.UUID, error) {
	var id uuid.UUID
	err := a.db.QueryRowPrimary(ctx, `
		INSERT INTO audit_events (user_id, event_type, level, correlation_id, account_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb) RETURNING id`,
		event.UserID, event.EventType, event.Level, event.CorrelationID, event.AccountID, event.Payload,
	).Scan(&id)
	return id, err
}

func (a AuditEventRepositoryImpl) FindByCorrelationId(ctx context.Context, correlationID uuid.UUID) ([]models.AuditEvent, error) {
	rows, err := a.db.Query(ctx, `
		SELECT id, user_id, event_type, level, correlation_id, account_id, payload, created_at
		FROM audit_events
		WHERE correlation_id = $1
		ORDER BY created_at ASC`,
		correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []models.AuditEvent
	for rows.Next() {
		var event models.AuditEvent
		if err = rows.Scan(
			&event.ID, &event.UserID, &event.EventType, &event.Level,
			&event.CorrelationID, &event.AccountID, &event.Payload, &event.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
