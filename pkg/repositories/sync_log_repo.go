package repositories

import (
	"context"
	"time"

	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/database"
	"github.com/finscope/txsync/pkg/models"
	"github.com/google/uuid"
)

// SyncLogRepository defines the interface for sync attempt rows.
// A row is created at sync start and finalized exactly once by the same
// invocation; concurrent attempts never share a row.
type SyncLogRepository interface {
	// Create inserts a running sync log and returns its id.
	Create(ctx context.Context, log models.SyncLog) (uuid.UUID, error)
	// MarkCompleted finalizes a sync log as completed with the inserted count.
	MarkCompleted(ctx context.Context, id uuid.UUID, endTS time.Time, insertedCount int) error
	// MarkFailed finalizes a sync log as failed with the error text.
	MarkFailed(ctx context.Context, id uuid.UUID, endTS time.Time, errorText string) error
	// FindRecent lists recent sync logs, optionally filtered by user and account.
	FindRecent(ctx context.Context, userID, accountID *uuid.UUID, limit int) ([]models.SyncLog, error)
	// ReapRunning marks running logs older than cutoff as cancelled and returns
	// the number of rows reaped. Operator recovery for orphans left by crashes.
	ReapRunning(ctx context.Context, cutoff time.Time) (int64, error)
}

type SyncLogRepositoryImpl struct {
	db *database.DB
}

func NewSyncLogRepository(db *database.DB) SyncLogRepository {
	return &SyncLogRepositoryImpl{db: db}
}

func (s SyncLogRepositoryImpl) Create(ctx context.Context, log models.SyncLog) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRowPrimary(ctx, `
		INSERT INTO sync_logs (user_id, account_id, start_ts, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $3, $3) RETURNING id`,
		log.UserID, log.AccountID, log.StartTS, log.Status,
	).Scan(&id)
	return id, err
}

func (s SyncLogRepositoryImpl) MarkCompleted(ctx context.Context, id uuid.UUID, endTS time.Time, insertedCount int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sync_logs SET end_ts = $1, status = $2, inserted_count = $3, updated_at = $1
		WHERE id = $4`,
		endTS, pkg.SyncStatusCompleted, insertedCount, id)
	return err
}

func (s SyncLogRepositoryImpl) MarkFailed(ctx context.Context, id uuid.UUID, endTS time.Time, errorText string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sync_logs SET end_ts = $1, status = $2, error_text = $3, updated_at = $1
		WHERE id = $4`,
		endTS, pkg.SyncStatusFailed, errorText, id)
	return err
}

func (s SyncLogRepositoryImpl) FindRecent(ctx context.Context, userID, accountID *uuid.UUID, limit int) ([]models.SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, account_id, start_ts, end_ts, status, inserted_count, error_text, created_at, updated_at
		FROM sync_logs
		WHERE ($1::uuid IS NULL OR user_id = $1)
		AND ($2::uuid IS NULL OR account_id = $2)
		ORDER BY start_ts DESC
		LIMIT $3`,
		userID, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []models.SyncLog
	for rows.Next() {
		var log models.SyncLog
		if err = rows.Scan(
			&log.ID, &log.UserID, &log.AccountID, &log.StartTS, &log.EndTS,
			&log.Status, &log.InsertedCount, &log.ErrorText, &log.CreatedAt, &log.UpdatedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s SyncLogRepositoryImpl) ReapRunning(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sync_logs SET status = $1, end_ts = $2, updated_at = $2
		WHERE status = $3 AND start_ts < $4`,
		pkg.SyncStatusCancelled, time.Now().UTC(), pkg.SyncStatusRunning, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
