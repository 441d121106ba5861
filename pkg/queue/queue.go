package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/views"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// outcomeListCap is the LTRIM upper index for the rolling observability
// lists: 0..99 keeps the most recent 100 entries.
const outcomeListCap = 99

// JobTypeAccountSync tags outcome records so mixed consumers can filter.
const JobTypeAccountSync = "account_sync"

// Names holds the Redis list keys the pipeline runs on. All consumers and
// producers must agree on these, so they travel as one struct.
type Names struct {
	Main          string
	Retry         string
	DeadLetter    string
	Completed     string
	Failed        string
	SchedulerRuns string
	Categorize    string
}

func DefaultNames() Names {
	return Names{
		Main:          "tx_sync",
		Retry:         "tx_sync_retry",
		DeadLetter:    "tx_sync_dlq",
		Completed:     "tx_sync_completed",
		Failed:        "tx_sync_failed",
		SchedulerRuns: "sync_scheduler_events",
		Categorize:    "categorization_jobs",
	}
}

// JobQueue is the Redis-list job transport: producers LPUSH, the worker
// BRPOPs, so jobs move oldest-first. Payloads are JSON SyncJob documents
// validated at the dequeue boundary; anything unparseable or invalid goes
// straight to the dead-letter list instead of crashing the consumer.
type JobQueue struct {
	logger   *zap.Logger
	client   *redis.Client
	names    Names
	validate *validator.Validate
}

func NewJobQueue(logger *zap.Logger, client *redis.Client, names Names) *JobQueue {
	return &JobQueue{
		logger:   logger,
		client:   client,
		names:    names,
		validate: validator.New(),
	}
}

func (q *JobQueue) Names() Names {
	return q.names
}

// Enqueue pushes a job onto the main queue. OriginalEnqueueTime is stamped on
// first enqueue and preserved across retries for end-to-end latency tracking.
func (q *JobQueue) Enqueue(ctx context.Context, job views.SyncJob) error {
	if err := q.validate.Struct(job); err != nil {
		return fmt.Errorf("invalid sync job: %w", err)
	}
	if job.OriginalEnqueueTime == nil {
		now := time.Now().UTC()
		job.OriginalEnqueueTime = &now
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal sync job: %w", err)
	}
	if err := q.client.LPush(ctx, q.names.Main, raw).Err(); err != nil {
		return fmt.Errorf("enqueue sync job: %w", err)
	}
	q.logger.Debug("sync job enqueued",
		zap.String("user_id", job.UserID),
		zap.String("account_id", job.AccountID),
		zap.Int("retry_count", job.RetryCount))
	return nil
}

// Dequeue blocks up to timeout for the next job. It returns (nil, nil) when
// the queue stayed empty, so callers can loop without treating idleness as an
// error. A payload that fails to parse or validate is diverted to the
// dead-letter list and the call also returns (nil, nil).
func (q *JobQueue) Dequeue(ctx context.Context, timeout time.Duration) (*views.SyncJob, error) {
	res, err := q.client.BRPop(ctx, timeout, q.names.Main).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue sync job: %w", err)
	}
	// BRPOP returns [key, value].
	raw := res[1]

	var job views.SyncJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.deadLetterRaw(ctx, raw, err)
		return nil, nil
	}
	if err := q.validate.Struct(job); err != nil {
		q.deadLetterRaw(ctx, raw, err)
		return nil, nil
	}
	return &job, nil
}

// deadLetterRaw parks an undecodable payload on the DLQ. The original bytes
// go into the error text since the job fields may be unusable.
func (q *JobQueue) deadLetterRaw(ctx context.Context, raw string, cause error) {
	q.logger.Warn("discarding invalid job payload to dead-letter queue",
		zap.String("payload", raw),
		zap.Error(cause))
	entry := views.DeadLetterEntry{
		FailedAt: time.Now().UTC(),
		Reason:   pkg.DLQReasonInvalidPayload,
		Error:    fmt.Sprintf("%s: %s", cause.Error(), raw),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := q.client.LPush(ctx, q.names.DeadLetter, payload).Err(); err != nil {
		q.logger.Error("failed to push invalid payload to dead-letter queue", zap.Error(err))
	}
}

// PushDeadLetter parks a job that exhausted its retries.
func (q *JobQueue) PushDeadLetter(ctx context.Context, job views.SyncJob, reason string, cause error) error {
	entry := views.DeadLetterEntry{
		SyncJob:  job,
		FailedAt: time.Now().UTC(),
		Reason:   reason,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}
	if err := q.client.LPush(ctx, q.names.DeadLetter, raw).Err(); err != nil {
		return fmt.Errorf("push dead-letter entry: %w", err)
	}
	q.logger.Warn("job moved to dead-letter queue",
		zap.String("user_id", job.UserID),
		zap.String("account_id", job.AccountID),
		zap.Int("retry_count", job.RetryCount),
		zap.String("reason", reason))
	return nil
}

// DeadLetterEntries returns up to limit entries, newest first, without
// removing them.
func (q *JobQueue) DeadLetterEntries(ctx context.Context, limit int) ([]views.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	raws, err := q.client.LRange(ctx, q.names.DeadLetter, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead-letter queue: %w", err)
	}
	entries := make([]views.DeadLetterEntry, 0, len(raws))
	for _, raw := range raws {
		var entry views.DeadLetterEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			q.logger.Warn("skipping malformed dead-letter entry", zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RequeueDeadLetters drains up to max entries off the DLQ back onto the main
// queue with their retry counters reset, giving each a fresh retry budget.
// Entries dead-lettered for an invalid payload cannot be rebuilt into a valid
// job and are dropped. Returns the number of jobs requeued.
func (q *JobQueue) RequeueDeadLetters(ctx context.Context, max int) (int, error) {
	if max <= 0 {
		max = 100
	}
	requeued := 0
	for i := 0; i < max; i++ {
		raw, err := q.client.RPop(ctx, q.names.DeadLetter).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return requeued, fmt.Errorf("pop dead-letter entry: %w", err)
		}
		var entry views.DeadLetterEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			q.logger.Warn("dropping malformed dead-letter entry during requeue", zap.Error(err))
			continue
		}
		job := entry.SyncJob
		job.RetryCount = 0
		if err := q.Enqueue(ctx, job); err != nil {
			q.logger.Warn("dropping unrequeueable dead-letter entry",
				zap.String("reason", entry.Reason),
				zap.Error(err))
			continue
		}
		requeued++
	}
	return requeued, nil
}

// RecordOutcome appends the attempt record to the matching rolling list and
// trims it to the cap. Observability only; failures are returned but callers
// treat them as non-fatal.
func (q *JobQueue) RecordOutcome(ctx context.Context, outcome views.JobOutcome) error {
	if outcome.JobType == "" {
		outcome.JobType = JobTypeAccountSync
	}
	if outcome.CompletedAt.IsZero() {
		outcome.CompletedAt = time.Now().UTC()
	}
	key := q.names.Failed
	if outcome.Success {
		key = q.names.Completed
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal job outcome: %w", err)
	}
	pipe := q.client.Pipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, outcomeListCap)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record job outcome: %w", err)
	}
	return nil
}

// RecentOutcomes returns the newest attempt records from the completed or
// failed list.
func (q *JobQueue) RecentOutcomes(ctx context.Context, success bool, limit int) ([]views.JobOutcome, error) {
	if limit <= 0 || limit > outcomeListCap+1 {
		limit = outcomeListCap + 1
	}
	key := q.names.Failed
	if success {
		key = q.names.Completed
	}
	raws, err := q.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read job outcomes: %w", err)
	}
	outcomes := make([]views.JobOutcome, 0, len(raws))
	for _, raw := range raws {
		var outcome views.JobOutcome
		if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// PushSchedulerRun appends a scheduler pass summary, same capped-list shape
// as the outcome records.
func (q *JobQueue) PushSchedulerRun(ctx context.Context, run views.SchedulerRun) error {
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal scheduler run: %w", err)
	}
	pipe := q.client.Pipeline()
	pipe.LPush(ctx, q.names.SchedulerRuns, raw)
	pipe.LTrim(ctx, q.names.SchedulerRuns, 0, outcomeListCap)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record scheduler run: %w", err)
	}
	return nil
}

func (q *JobQueue) RecentSchedulerRuns(ctx context.Context, limit int) ([]views.SchedulerRun, error) {
	if limit <= 0 || limit > outcomeListCap+1 {
		limit = outcomeListCap + 1
	}
	raws, err := q.client.LRange(ctx, q.names.SchedulerRuns, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read scheduler runs: %w", err)
	}
	runs := make([]views.SchedulerRun, 0, len(raws))
	for _, raw := range raws {
		var run views.SchedulerRun
		if err := json.Unmarshal([]byte(raw), &run); err != nil {
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// EnqueueCategorize hands an inserted transaction to the categorization
// pipeline. Satisfies ingest.CategorizeEnqueuer.
func (q *JobQueue) EnqueueCategorize(ctx context.Context, transactionID, userID uuid.UUID) error {
	job := views.CategorizeJob{
		TransactionID: transactionID.String(),
		UserID:        userID.String(),
		CreatedAt:     time.Now().UTC(),
		JobType:       "categorize_transaction",
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal categorize job: %w", err)
	}
	if err := q.client.LPush(ctx, q.names.Categorize, raw).Err(); err != nil {
		return fmt.Errorf("enqueue categorize job: %w", err)
	}
	return nil
}

// Depths reports the current length of every pipeline list, keyed by list
// name. Feeds the worker's queue-depth gauges and the ops stats endpoint.
func (q *JobQueue) Depths(ctx context.Context) (map[string]int64, error) {
	keys := []string{
		q.names.Main,
		q.names.Retry,
		q.names.DeadLetter,
		q.names.Completed,
		q.names.Failed,
		q.names.Categorize,
	}
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.LLen(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read queue depths: %w", err)
	}
	depths := make(map[string]int64, len(keys))
	for i, key := range keys {
		depths[key] = cmds[i].Val()
	}
	return depths, nil
}
