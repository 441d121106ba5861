package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent maps to table `audit_events`. Append-only.
type AuditEvent struct {
	ID            uuid.UUID
	UserID        *uuid.UUID
	EventType     string
	Level         string
	CorrelationID uuid.UUID
	AccountID     *uuid.UUID
	Payload       []byte // JSON
	CreatedAt     time.Time
}
