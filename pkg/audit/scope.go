package audit

import (
	"context"
	"time"

	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/models"
	"github.com/finscope/txsync/pkg/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SyncScope is the mutable context handed to the function running inside
// WithSyncScope. The function accumulates counters; the scope finalizes the
// SyncLog row and emits the correlated end/error audit events.
type SyncScope struct {
	CorrelationID uuid.UUID
	SyncLogID     uuid.UUID

	Inserted int
	Skipped  int
	Errors   int
	Metadata map[string]any
}

// ScopeParams identify whose sync a scope records.
type ScopeParams struct {
	UserID        uuid.UUID
	AccountID     *uuid.UUID
	Operation     string    // e.g. "account_sync"
	CorrelationID uuid.UUID // zero value: generated
}

// Scoper owns the SyncLog lifecycle and its audit trail. This is the single
// place that keeps the two consistent; the sync orchestrator is built on it
// rather than duplicating the start/end/error bookkeeping.
type Scoper struct {
	logger   *zap.Logger
	auditor  *Auditor
	syncLogs repositories.SyncLogRepository
}

func NewScoper(logger *zap.Logger, auditor *Auditor, syncLogs repositories.SyncLogRepository) *Scoper {
	return &Scoper{logger: logger, auditor: auditor, syncLogs: syncLogs}
}

// WithSyncScope creates a running SyncLog row plus a sync_start event, runs fn,
// then finalizes: on success the row is marked completed and a sync_end event
// carries the counters and duration; on error the row is marked failed with
// the error text, a sync_error event is emitted, and the error is returned.
// Audit-trail failures never abort the scoped operation; a failure to create
// the SyncLog row does (there would be no durable record of the attempt).
func (s *Scoper) WithSyncScope(ctx context.Context, params ScopeParams, fn func(ctx context.Context, scope *SyncScope) error) error {
	correlationID := params.CorrelationID
	if correlationID == uuid.Nil {
		correlationID = uuid.New()
	}
	if params.Operation == "" {
		params.Operation = "account_sync"
	}
	startTS := time.Now().UTC()

	syncLogID, err := s.syncLogs.Create(ctx, models.SyncLog{
		UserID:    params.UserID,
		AccountID: params.AccountID,
		StartTS:   startTS,
		Status:    pkg.SyncStatusRunning,
	})
	if err != nil {
		s.logger.Error("failed to create sync log",
			zap.String(pkg.CorrelationId, correlationID.String()),
			zap.Error(err))
		return err
	}

	scope := &SyncScope{
		CorrelationID: correlationID,
		SyncLogID:     syncLogID,
		Metadata:      map[string]any{},
	}

	s.auditor.RecordEvent(ctx, Event{
		UserID:        &params.UserID,
		AccountID:     params.AccountID,
		Type:          EventSyncStart,
		Level:         LevelInfo,
		CorrelationID: correlationID,
		Payload: map[string]any{
			"operation_type": params.Operation,
			"sync_log_id":    syncLogID.String(),
		},
	})

	s.logger.Info("sync scope opened",
		zap.String(pkg.CorrelationId, correlationID.String()),
		zap.String("sync_log_id", syncLogID.String()),
		zap.String("operation", params.Operation))

	if err = fn(ctx, scope); err != nil {
		endTS := time.Now().UTC()
		if dbErr := s.syncLogs.MarkFailed(ctx, syncLogID, endTS, err.Error()); dbErr != nil {
			s.logger.Error("failed to mark sync log failed",
				zap.String(pkg.CorrelationId, correlationID.String()),
				zap.Error(dbErr))
		}
		s.auditor.RecordEvent(ctx, Event{
			UserID:        &params.UserID,
			AccountID:     params.AccountID,
			Type:          EventSyncError,
			Level:         LevelError,
			CorrelationID: correlationID,
			Payload: map[string]any{
				"operation_type":   params.Operation,
				"sync_log_id":      syncLogID.String(),
				"error":            err.Error(),
				"inserted_count":   scope.Inserted,
				"skipped_count":    scope.Skipped,
				"error_count":      scope.Errors,
				"duration_seconds": endTS.Sub(startTS).Seconds(),
			},
		})
		return err
	}

	endTS := time.Now().UTC()
	if dbErr := s.syncLogs.MarkCompleted(ctx, syncLogID, endTS, scope.Inserted); dbErr != nil {
		s.logger.Error("failed to mark sync log completed",
			zap.String(pkg.CorrelationId, correlationID.String()),
			zap.Error(dbErr))
	}

	payload := map[string]any{
		"operation_type":   params.Operation,
		"sync_log_id":      syncLogID.String(),
		"inserted_count":   scope.Inserted,
		"skipped_count":    scope.Skipped,
		"error_count":      scope.Errors,
		"duration_seconds": endTS.Sub(startTS).Seconds(),
	}
	for k, v := range scope.Metadata {
		payload[k] = v
	}
	s.auditor.RecordEvent(ctx, Event{
		UserID:        &params.UserID,
		AccountID:     params.AccountID,
		Type:          EventSyncEnd,
		Level:         LevelInfo,
		CorrelationID: correlationID,
		Payload:       payload,
	})

	return nil
}
