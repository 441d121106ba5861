package audit

import (
	"context"
	"encoding/json"

	"github.com/finscope/txsync/pkg/models"
	"github.com/finscope/txsync/pkg/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Level is the severity attached to an audit event.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// EventType is the kind of operation an audit event records.
type EventType string

const (
	EventSyncStart EventType = "sync_start"
	EventSyncEnd   EventType = "sync_end"
	EventSyncError EventType = "sync_error"

	EventAccountLinked         EventType = "account_linked"
	EventTransactionUpsert     EventType = "transaction_upsert"
	EventTransactionCategorize EventType = "transaction_categorize"

	EventUserAction  EventType = "user_action"
	EventSystemError EventType = "system_error"
	EventExternalAPI EventType = "external_api"
)

// Event is one audit record to append.
type Event struct {
	UserID        *uuid.UUID
	AccountID     *uuid.UUID
	Type          EventType
	Level         Level
	CorrelationID uuid.UUID // zero value: Auditor generates one
	Payload       map[string]any
}

// Auditor appends structured events to the audit trail. All writes are best
// effort: a failed insert is logged and swallowed; auditing must never change
// the outcome of the operation being audited.
type Auditor struct {
	logger *zap.Logger
	events repositories.AuditEventRepository
}

func NewAuditor(logger *zap.Logger, events repositories.AuditEventRepository) *Auditor {
	return &Auditor{logger: logger, events: events}
}

// RecordEvent appends one event, generating a correlation id when absent.
// Returns the stored event id, or uuid.Nil when the write failed.
func (a *Auditor) RecordEvent(ctx context.Context, event Event) uuid.UUID {
	if event.CorrelationID == uuid.Nil {
		event.CorrelationID = uuid.New()
	}
	if event.Level == "" {
		event.Level = LevelInfo
	}

	var payloadJSON []byte
	if event.Payload != nil {
		b, err := json.Marshal(event.Payload)
		if err != nil {
			a.logger.Warn("failed to serialize audit payload", zap.Error(err))
			b, _ = json.Marshal(map[string]string{"error": "failed to serialize payload", "original_error": err.Error()})
		}
		payloadJSON = b
	}

	id, err := a.events.Insert(ctx, models.AuditEvent{
		UserID:        event.UserID,
		AccountID:     event.AccountID,
		EventType:     string(event.Type),
		Level:         string(event.Level),
		CorrelationID: event.CorrelationID,
		Payload:       payloadJSON,
	})
	if err != nil {
		a.logger.Error("failed to record audit event",
			zap.String("event_type", string(event.Type)),
			zap.String("correlation_id", event.CorrelationID.String()),
			zap.Error(err))
		return uuid.Nil
	}

	a.logger.Debug("audit event recorded",
		zap.String("event_type", string(event.Type)),
		zap.String("level", string(event.Level)),
		zap.String("correlation_id", event.CorrelationID.String()),
		zap.String("audit_id", id.String()))
	return id
}
