package services

import (
	"context"
	"time"

	"github.com/finscope/txsync/pkg/models"
	"github.com/finscope/txsync/pkg/views"
	"github.com/finscope/txsync/services/sync-scheduler/configs"
	"github.com/finscope/txsync/services/sync-scheduler/internal/observability"
	"go.uber.org/zap"
)

// StaleAccountSource lists accounts due for a sync.
type StaleAccountSource interface {
	FindStale(ctx context.Context, threshold time.Time) ([]models.Account, error)
}

// JobSink is where the scheduler hands off work and run summaries.
type JobSink interface {
	Enqueue(ctx context.Context, job views.SyncJob) error
	PushSchedulerRun(ctx context.Context, run views.SchedulerRun) error
}

// Scheduler periodically finds accounts whose last sync is older than the
// stale threshold and enqueues a sync job for each. Accounts without active
// consent never surface from the stale query, so consent is enforced at
// selection time.
type Scheduler struct {
	logger   *zap.Logger
	config   *configs.Config
	accounts StaleAccountSource
	sink     JobSink
}

func NewScheduler(logger *zap.Logger, cfg *configs.Config, accounts StaleAccountSource, sink JobSink) *Scheduler {
	return &Scheduler{logger: logger, config: cfg, accounts: accounts, sink: sink}
}

// RunOnce performs a single scheduling pass. Per-account enqueue failures are
// counted, not fatal: one bad account must not starve the rest of the fleet.
func (s *Scheduler) RunOnce(ctx context.Context) (views.SchedulerRun, error) {
	start := time.Now()
	threshold := start.UTC().Add(-s.config.StaleThreshold)

	stale, err := s.accounts.FindStale(ctx, threshold)
	if err != nil {
		observability.RunsTotal.WithLabelValues("error").Inc()
		return views.SchedulerRun{}, err
	}
	observability.StaleAccounts.Set(float64(len(stale)))

	run := views.SchedulerRun{
		TotalAccounts: len(stale),
		Timestamp:     start.UTC(),
	}
	for _, account := range stale {
		if account.ProviderAccountID == "" {
			// Not linked to the provider yet; nothing to fetch.
			run.SkippedCount++
			continue
		}
		since := s.resolveSince(account)
		job := views.SyncJob{
			UserID:    account.UserID.String(),
			AccountID: account.ID.String(),
			SinceTS:   &since,
		}
		if err := s.sink.Enqueue(ctx, job); err != nil {
			s.logger.Error("failed to enqueue stale account",
				zap.String("account_id", account.ID.String()),
				zap.Error(err))
			run.ErrorCount++
			continue
		}
		run.ScheduledCount++
	}

	observability.RunsTotal.WithLabelValues("ok").Inc()
	observability.AccountsScheduled.Add(float64(run.ScheduledCount))
	observability.AccountsSkipped.Add(float64(run.SkippedCount))
	observability.EnqueueErrors.Add(float64(run.ErrorCount))
	observability.RunDuration.Observe(time.Since(start).Seconds())

	if err := s.sink.PushSchedulerRun(ctx, run); err != nil {
		s.logger.Warn("failed to record scheduler run", zap.Error(err))
	}
	s.logger.Info("scheduler pass completed",
		zap.Int("total_accounts", run.TotalAccounts),
		zap.Int("scheduled", run.ScheduledCount),
		zap.Int("skipped", run.SkippedCount),
		zap.Int("errors", run.ErrorCount),
		zap.Duration("duration", time.Since(start)))
	return run, nil
}

// Start runs an immediate pass and then ticks at the configured interval
// until the context is canceled. Returns a function that blocks until the
// loop exits.
func (s *Scheduler) Start(ctx context.Context) func() {
	done := make(chan struct{})
	if !s.config.Enabled {
		s.logger.Warn("scheduler disabled, running idle")
		close(done)
		return func() { <-done }
	}

	go func() {
		defer close(done)
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduler pass failed", zap.Error(err))
		}
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					s.logger.Error("scheduler pass failed", zap.Error(err))
				}
			}
		}
	}()
	return func() { <-done }
}

// resolveSince mirrors the worker's window logic so a scheduled job carries
// an explicit, bounded since value.
func (s *Scheduler) resolveSince(account models.Account) time.Time {
	if account.LastSyncAt != nil {
		return *account.LastSyncAt
	}
	return time.Now().UTC().Add(-s.config.InitialLookback)
}
