package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/audit"
	"github.com/finscope/txsync/pkg/models"
	"github.com/finscope/txsync/pkg/provider"
	"github.com/finscope/txsync/pkg/repositories"
	"github.com/finscope/txsync/pkg/views"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultInitialSyncWindow bounds the first sync of a never-synced account.
const DefaultInitialSyncWindow = 30 * 24 * time.Hour

// Upserter is the slice of UpsertStore the syncer needs.
type Upserter interface {
	Upsert(ctx context.Context, userID, accountID uuid.UUID, raw provider.RawTransaction) (Outcome, error)
}

// SyncResult summarizes one sync attempt.
type SyncResult struct {
	Status        pkg.SyncStatus
	InsertedCount int
	SkippedCount  int
	ErrorCount    int
	Duration      time.Duration
	SyncLogID     uuid.UUID
	CorrelationID uuid.UUID
}

// SyncerConfig holds dependencies for the sync orchestrator.
type SyncerConfig struct {
	Logger      *zap.Logger
	AccountRepo repositories.AccountRepository
	Upserter    Upserter
	Provider    provider.Client
	Scoper      *audit.Scoper
	FetchLimit  int // defaults to provider.DefaultFetchLimit
}

// Syncer orchestrates one account sync: fetch from the provider, upsert each
// transaction, advance the account watermark, and leave a SyncLog plus a
// correlated audit trail via the sync scope.
//
// Only a fetch failure propagates to the caller (the worker's retry signal, a
// typed *provider.FetchError). Record-level failures are counted and never
// abort the batch.
type Syncer struct {
	logger      *zap.Logger
	accountRepo repositories.AccountRepository
	upserter    Upserter
	provider    provider.Client
	scoper      *audit.Scoper
	fetchLimit  int
}

func NewSyncer(cfg SyncerConfig) *Syncer {
	limit := cfg.FetchLimit
	if limit <= 0 {
		limit = provider.DefaultFetchLimit
	}
	return &Syncer{
		logger:      cfg.Logger,
		accountRepo: cfg.AccountRepo,
		upserter:    cfg.Upserter,
		provider:    cfg.Provider,
		scoper:      cfg.Scoper,
		fetchLimit:  limit,
	}
}

// SyncAccount runs one sync attempt for the job's account.
// An empty fetch window is a successful sync with zero inserts.
func (s *Syncer) SyncAccount(ctx context.Context, job views.SyncJob) (SyncResult, error) {
	userID, err := uuid.Parse(job.UserID)
	if err != nil {
		return SyncResult{Status: pkg.SyncStatusFailed}, fmt.Errorf("invalid user id %q: %w", job.UserID, err)
	}
	accountID, err := uuid.Parse(job.AccountID)
	if err != nil {
		return SyncResult{Status: pkg.SyncStatusFailed}, fmt.Errorf("invalid account id %q: %w", job.AccountID, err)
	}

	account, err := s.accountRepo.FindById(ctx, accountID)
	if err != nil {
		return SyncResult{Status: pkg.SyncStatusFailed}, fmt.Errorf("resolve account %s: %w", accountID, err)
	}
	if account.UserID != userID {
		return SyncResult{Status: pkg.SyncStatusFailed}, fmt.Errorf("account %s does not belong to user %s", accountID, userID)
	}

	since := s.resolveSince(job.SinceTS, account)
	start := time.Now()
	result := SyncResult{Status: pkg.SyncStatusFailed}

	err = s.scoper.WithSyncScope(ctx, audit.ScopeParams{
		UserID:    userID,
		AccountID: &accountID,
	}, func(ctx context.Context, scope *audit.SyncScope) error {
		result.SyncLogID = scope.SyncLogID
		result.CorrelationID = scope.CorrelationID

		transactions, err := s.provider.FetchTransactions(ctx, account.ProviderAccountID, since, s.fetchLimit)
		if err != nil {
			return err
		}
		windowEnd := time.Now().UTC()

		for _, raw := range transactions {
			outcome, err := s.upserter.Upsert(ctx, userID, accountID, raw)
			if err != nil {
				scope.Errors++
				continue
			}
			switch outcome {
			case OutcomeInserted:
				scope.Inserted++
			default:
				scope.Skipped++
			}
		}
		scope.Metadata["fetched_count"] = len(transactions)

		if err := s.accountRepo.UpdateLastSyncAt(ctx, accountID, windowEnd); err != nil {
			// The sync itself succeeded; a stale watermark only means the next
			// pass re-fetches an overlapping window, which dedup absorbs.
			s.logger.Error("failed to advance sync watermark",
				zap.String(pkg.CorrelationId, scope.CorrelationID.String()),
				zap.String("account_id", accountID.String()),
				zap.Error(err))
		}

		result.InsertedCount = scope.Inserted
		result.SkippedCount = scope.Skipped
		result.ErrorCount = scope.Errors
		return nil
	})
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}

	result.Status = pkg.SyncStatusCompleted
	s.logger.Info("account sync completed",
		zap.String(pkg.CorrelationId, result.CorrelationID.String()),
		zap.String("account_id", accountID.String()),
		zap.Int("inserted", result.InsertedCount),
		zap.Int("skipped", result.SkippedCount),
		zap.Int("errors", result.ErrorCount),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// SyncAllAccounts syncs every account of a user sequentially, isolating
// per-account failures: one failed account does not stop the rest.
func (s *Syncer) SyncAllAccounts(ctx context.Context, userID uuid.UUID) ([]SyncResult, error) {
	accounts, err := s.accountRepo.FindByUserId(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts for user %s: %w", userID, err)
	}

	results := make([]SyncResult, 0, len(accounts))
	for _, account := range accounts {
		result, err := s.SyncAccount(ctx, views.SyncJob{
			UserID:    userID.String(),
			AccountID: account.ID.String(),
		})
		if err != nil {
			s.logger.Error("account sync failed during user sync",
				zap.String("account_id", account.ID.String()),
				zap.Error(err))
		}
		results = append(results, result)
	}
	return results, nil
}

// resolveSince picks the fetch window start: explicit job value, else the
// account watermark, else a bounded initial lookback.
func (s *Syncer) resolveSince(jobSince *time.Time, account models.Account) *time.Time {
	if jobSince != nil {
		return jobSince
	}
	if account.LastSyncAt != nil {
		return account.LastSyncAt
	}
	since := time.Now().UTC().Add(-DefaultInitialSyncWindow)
	return &since
}
