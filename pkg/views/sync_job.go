package views

import (
	"time"
)

// SyncJob is the wire payload for one entry on the sync job queues.
// Times marshal as RFC 3339; since_ts is null for "use the account watermark".
// RetryCount is the only field the worker mutates between attempts.
type SyncJob struct {
	UserID              string     `json:"user_id" validate:"required,uuid"`
	AccountID           string     `json:"account_id" validate:"required,uuid"`
	SinceTS             *time.Time `json:"since_ts"`
	RetryCount          int        `json:"retry_count" validate:"min=0"`
	OriginalEnqueueTime *time.Time `json:"original_enqueue_time"`
}

// RetryEntry is a SyncJob parked on the delayed-retry queue until RetryAt.
type RetryEntry struct {
	SyncJob
	RetryAt time.Time `json:"retry_at"`
}

// DeadLetterEntry is a SyncJob that exhausted its retries (or failed
// validation at the queue boundary), held for operator inspection.
type DeadLetterEntry struct {
	SyncJob
	FailedAt time.Time `json:"failed_at"`
	Reason   string    `json:"reason"`
	Error    string    `json:"error,omitempty"`
}

// JobOutcome is the observability record pushed to the completed/failed
// Redis lists after each attempt. Capped rolling window, not a durable log.
type JobOutcome struct {
	JobType             string         `json:"job_type"`
	UserID              string         `json:"user_id"`
	AccountID           string         `json:"account_id"`
	Success             bool           `json:"success"`
	Result              map[string]any `json:"result,omitempty"`
	RetryCount          int            `json:"retry_count"`
	CompletedAt         time.Time      `json:"completed_at"`
	OriginalEnqueueTime *time.Time     `json:"original_enqueue_time"`
}

// SchedulerRun summarizes one scheduler pass.
type SchedulerRun struct {
	ScheduledCount int       `json:"scheduled_count"`
	SkippedCount   int       `json:"skipped_count"`
	ErrorCount     int       `json:"error_count"`
	TotalAccounts  int       `json:"total_accounts"`
	Timestamp      time.Time `json:"timestamp"`
}

// CategorizeJob is the hand-off payload consumed by the categorization service.
type CategorizeJob struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
	JobType       string    `json:"job_type"`
}
