package models

import (
	"time"

	"github.com/finscope/txsync/pkg"
	"github.com/google/uuid"
)

// SyncLog maps to table `sync_logs`: one row per sync attempt.
// Created with status running, mutated exactly once at sync end by the same
// orchestrator invocation that created it. A new attempt always creates a new row.
type SyncLog struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	AccountID     *uuid.UUID
	StartTS       time.Time
	EndTS         *time.Time
	Status        pkg.SyncStatus
	InsertedCount int
	ErrorText     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
