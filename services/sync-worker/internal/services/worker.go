package services

import (
	"context"
	"sync"
	"time"

	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/ingest"
	"github.com/finscope/txsync/pkg/queue"
	"github.com/finscope/txsync/pkg/utils"
	"github.com/finscope/txsync/pkg/views"
	"github.com/finscope/txsync/services/sync-worker/configs"
	"github.com/finscope/txsync/services/sync-worker/internal/observability"
	"go.uber.org/zap"
)

const (
	infraBackoffBase = 2 * time.Second
	infraBackoffMax  = time.Minute
)

// AccountSyncer runs one sync attempt for a job.
type AccountSyncer interface {
	SyncAccount(ctx context.Context, job views.SyncJob) (ingest.SyncResult, error)
}

// SyncWorker consumes jobs off the main queue and returns a cleanup function
// that drains in-flight syncs.
type SyncWorker interface {
	Start() func()
}

// SyncWorkerConfig holds configuration and dependencies for the sync worker.
type SyncWorkerConfig struct {
	Context context.Context
	Logger  *zap.Logger
	Config  *configs.Config
	Queue   *queue.JobQueue
	Delay   queue.DelayQueue
	Lease   *queue.AccountLease
	Syncer  AccountSyncer

	// internal initialization
	retryDelays []time.Duration
	syncSem     chan struct{} // Semaphore to limit concurrent account syncs
	inflight    sync.WaitGroup
}

// NewSyncWorker initializes a SyncWorker with the provided configuration.
// It parses the retry schedule and sizes the concurrency semaphore.
func NewSyncWorker(cfg SyncWorkerConfig) SyncWorker {
	delays, err := utils.ParseDurations(cfg.Config.RetryDelays)
	if err != nil {
		cfg.Logger.Fatal("failed to parse retry delay schedule",
			zap.String("retry_delays", cfg.Config.RetryDelays),
			zap.Error(err))
	}
	cfg.retryDelays = delays
	cfg.syncSem = make(chan struct{}, cfg.Config.MaxConcurrentSyncs)
	return &cfg
}

// Start runs the consume loop in a goroutine and returns a cleanup function
// that waits for in-flight syncs to finish.
//
// Each iteration first promotes due retries back onto the main queue, then
// blocks on the queue up to PopTimeout. Infrastructure errors (Redis away)
// back off exponentially instead of hot-looping; the fixed per-job retry
// schedule is separate and applies only to sync failures.
func (w *SyncWorkerConfig) Start() func() {
	w.Logger.Info("sync worker listening",
		zap.String("queue", w.Queue.Names().Main),
		zap.Int("max_concurrent_syncs", w.Config.MaxConcurrentSyncs),
		zap.Int("max_retry_count", w.Config.MaxRetryCount))

	go w.sampleQueueDepths()

	go func() {
		infraErrors := 0
		for {
			select {
			case <-w.Context.Done():
				return
			default:
			}

			w.promoteReadyRetries()

			job, err := w.Queue.Dequeue(w.Context, w.Config.PopTimeout)
			if err != nil {
				if w.Context.Err() != nil {
					return
				}
				infraErrors++
				delay := utils.CalculateExponentialBackoffWithJitter(infraErrors, infraBackoffBase, infraBackoffMax)
				w.Logger.Error("failed to dequeue sync job, backing off",
					zap.Int("consecutive_errors", infraErrors),
					zap.Duration("backoff", delay),
					zap.Error(err))
				time.Sleep(delay)
				continue
			}
			infraErrors = 0
			if job == nil {
				continue
			}

			observability.JobsReceived.Inc()
			// Acquire semaphore slot, blocking if limit is reached
			w.syncSem <- struct{}{}
			w.inflight.Add(1)
			observability.InflightSyncs.Inc()
			go func(j views.SyncJob) {
				defer func() {
					<-w.syncSem
					w.inflight.Done()
					observability.InflightSyncs.Dec()
				}()
				w.processJob(j)
			}(*job)
		}
	}()

	// Return cleanup function to gracefully shut down resources
	return func() {
		w.inflight.Wait()
		w.Logger.Info("sync worker drained")
	}
}

// promoteReadyRetries moves due entries from the retry queue back onto the
// main queue. A promotion failure re-parks the job so it is not lost.
func (w *SyncWorkerConfig) promoteReadyRetries() {
	jobs, err := w.Delay.PopReady(w.Context)
	if err != nil {
		if w.Context.Err() == nil {
			w.Logger.Error("failed to promote retry jobs", zap.Error(err))
		}
		return
	}
	for _, job := range jobs {
		if err := w.Queue.Enqueue(w.Context, job); err != nil {
			w.Logger.Error("failed to requeue promoted job, re-parking",
				zap.String("account_id", job.AccountID),
				zap.Error(err))
			_ = w.Delay.Push(w.Context, job, 0)
			continue
		}
		w.Logger.Info("retry job promoted to main queue",
			zap.String("account_id", job.AccountID),
			zap.Int("retry_count", job.RetryCount))
	}
}

// processJob syncs one account under its lease. A contended lease is not a
// failure: the job is re-parked untouched and picked up after the holder
// finishes.
func (w *SyncWorkerConfig) processJob(job views.SyncJob) {
	select {
	case <-w.Context.Done():
		// Re-park so a shutdown mid-dequeue does not drop the job.
		_ = w.Delay.Push(context.Background(), job, 0)
		return
	default:
	}

	release, ok, err := w.Lease.Acquire(w.Context, job.AccountID)
	if err != nil {
		w.handleFailure(job, err)
		return
	}
	if !ok {
		observability.LeaseContended.Inc()
		w.Logger.Info("account lease held elsewhere, deferring job",
			zap.String("account_id", job.AccountID))
		if err := w.Delay.Push(w.Context, job, w.Config.LeaseRequeueDelay); err != nil {
			w.Logger.Error("failed to defer contended job", zap.Error(err))
		}
		return
	}
	defer release(w.Context)

	start := time.Now()
	result, err := w.Syncer.SyncAccount(w.Context, job)
	observability.SyncLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		w.Logger.Error("account sync failed",
			zap.String(pkg.CorrelationId, result.CorrelationID.String()),
			zap.String("account_id", job.AccountID),
			zap.Int("retry_count", job.RetryCount),
			zap.Error(err))
		w.handleFailure(job, err)
		return
	}

	observability.SyncsCompleted.Inc()
	observability.TransactionsInserted.Add(float64(result.InsertedCount))
	observability.TransactionsSkipped.Add(float64(result.SkippedCount))
	observability.RecordErrors.Add(float64(result.ErrorCount))

	if err := w.Queue.RecordOutcome(w.Context, views.JobOutcome{
		UserID:    job.UserID,
		AccountID: job.AccountID,
		Success:   true,
		Result: map[string]any{
			"inserted_count": result.InsertedCount,
			"skipped_count":  result.SkippedCount,
			"error_count":    result.ErrorCount,
			"sync_log_id":    result.SyncLogID.String(),
			"correlation_id": result.CorrelationID.String(),
		},
		RetryCount:          job.RetryCount,
		OriginalEnqueueTime: job.OriginalEnqueueTime,
	}); err != nil {
		w.Logger.Warn("failed to record job outcome", zap.Error(err))
	}
}

// handleFailure applies the retry policy. The delay is chosen by how many
// retries the job has already used, then the counter advances: a fresh job
// waits retryDelays[0], its next failure retryDelays[1], and so on with the
// last entry repeating. Once the budget is spent the job is dead-lettered.
func (w *SyncWorkerConfig) handleFailure(job views.SyncJob, cause error) {
	if job.RetryCount >= w.Config.MaxRetryCount {
		observability.SyncsFailed.WithLabelValues("dead_lettered").Inc()
		observability.DeadLettered.WithLabelValues(pkg.DLQReasonMaxRetries).Inc()
		if err := w.Queue.PushDeadLetter(w.Context, job, pkg.DLQReasonMaxRetries, cause); err != nil {
			w.Logger.Error("failed to dead-letter job",
				zap.String("account_id", job.AccountID),
				zap.Error(err))
		}
		w.recordFailure(job, cause, true)
		return
	}

	idx := job.RetryCount
	if idx >= len(w.retryDelays) {
		idx = len(w.retryDelays) - 1
	}
	delay := w.retryDelays[idx]
	job.RetryCount++

	observability.SyncsFailed.WithLabelValues("retried").Inc()
	observability.RetriesScheduled.Inc()
	if err := w.Delay.Push(w.Context, job, delay); err != nil {
		w.Logger.Error("failed to schedule retry, dead-lettering instead",
			zap.String("account_id", job.AccountID),
			zap.Error(err))
		_ = w.Queue.PushDeadLetter(w.Context, job, pkg.DLQReasonMaxRetries, cause)
	}
	w.recordFailure(job, cause, false)
}

func (w *SyncWorkerConfig) recordFailure(job views.SyncJob, cause error, deadLettered bool) {
	if err := w.Queue.RecordOutcome(w.Context, views.JobOutcome{
		UserID:    job.UserID,
		AccountID: job.AccountID,
		Success:   false,
		Result: map[string]any{
			"error":         cause.Error(),
			"dead_lettered": deadLettered,
		},
		RetryCount:          job.RetryCount,
		OriginalEnqueueTime: job.OriginalEnqueueTime,
	}); err != nil {
		w.Logger.Warn("failed to record job outcome", zap.Error(err))
	}
}

// sampleQueueDepths feeds the depth gauges until shutdown.
func (w *SyncWorkerConfig) sampleQueueDepths() {
	ticker := time.NewTicker(w.Config.DepthSampleEvery)
	defer ticker.Stop()
	for {
		select {
		case <-w.Context.Done():
			return
		case <-ticker.C:
			depths, err := w.Queue.Depths(w.Context)
			if err != nil {
				if w.Context.Err() == nil {
					w.Logger.Warn("failed to sample queue depths", zap.Error(err))
				}
				continue
			}
			for name, depth := range depths {
				observability.QueueDepth.WithLabelValues(name).Set(float64(depth))
			}
		}
	}
}
