package services

import (
	"context"
	"errors"
	"time"

	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/models"
	"github.com/finscope/txsync/pkg/queue"
	"github.com/finscope/txsync/pkg/repositories"
	"github.com/finscope/txsync/pkg/views"
	"github.com/finscope/txsync/services/ops-api/configs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OpsService exposes the operational surface of the sync pipeline: queue
// introspection, dead-letter management, sync history and manual triggers.
type OpsService interface {
	QueueStats(ctx context.Context) (map[string]int64, error)
	DeadLetters(ctx context.Context, limit int) ([]views.DeadLetterEntry, error)
	RequeueDeadLetters(ctx context.Context, max int) (int, error)
	RecentOutcomes(ctx context.Context, success bool, limit int) ([]views.JobOutcome, error)
	RecentSyncLogs(ctx context.Context, userID, accountID *uuid.UUID, limit int) ([]models.SyncLog, error)
	RecentSchedulerRuns(ctx context.Context, limit int) ([]views.SchedulerRun, error)
	AuditTrail(ctx context.Context, correlationID uuid.UUID) ([]models.AuditEvent, error)
	TriggerAccountSync(ctx context.Context, traceID string, accountID uuid.UUID, since *time.Time) error
	TriggerUserSync(ctx context.Context, traceID string, userID uuid.UUID) (int, error)
	ReapSyncLogs(ctx context.Context) (int64, error)
}

type OpsServiceImpl struct {
	logger      *zap.Logger
	config      *configs.Config
	queue       *queue.JobQueue
	limiter     *pkg.DistributedLimiter
	accountRepo repositories.AccountRepository
	consentRepo repositories.ConsentRepository
	syncLogRepo repositories.SyncLogRepository
	auditRepo   repositories.AuditEventRepository
}

type OpsServiceConfig struct {
	Logger      *zap.Logger
	Config      *configs.Config
	Queue       *queue.JobQueue
	Limiter     *pkg.DistributedLimiter
	AccountRepo repositories.AccountRepository
	ConsentRepo repositories.ConsentRepository
	SyncLogRepo repositories.SyncLogRepository
	AuditRepo   repositories.AuditEventRepository
}

func NewOpsService(cfg OpsServiceConfig) OpsService {
	return &OpsServiceImpl{
		logger:      cfg.Logger,
		config:      cfg.Config,
		queue:       cfg.Queue,
		limiter:     cfg.Limiter,
		accountRepo: cfg.AccountRepo,
		consentRepo: cfg.ConsentRepo,
		syncLogRepo: cfg.SyncLogRepo,
		auditRepo:   cfg.AuditRepo,
	}
}

func (s *OpsServiceImpl) QueueStats(ctx context.Context) (map[string]int64, error) {
	return s.queue.Depths(ctx)
}

func (s *OpsServiceImpl) DeadLetters(ctx context.Context, limit int) ([]views.DeadLetterEntry, error) {
	return s.queue.DeadLetterEntries(ctx, limit)
}

func (s *OpsServiceImpl) RequeueDeadLetters(ctx context.Context, max int) (int, error) {
	return s.queue.RequeueDeadLetters(ctx, max)
}

func (s *OpsServiceImpl) RecentOutcomes(ctx context.Context, success bool, limit int) ([]views.JobOutcome, error) {
	return s.queue.RecentOutcomes(ctx, success, limit)
}

func (s *OpsServiceImpl) RecentSyncLogs(ctx context.Context, userID, accountID *uuid.UUID, limit int) ([]models.SyncLog, error) {
	return s.syncLogRepo.FindRecent(ctx, userID, accountID, limit)
}

func (s *OpsServiceImpl) RecentSchedulerRuns(ctx context.Context, limit int) ([]views.SchedulerRun, error) {
	return s.queue.RecentSchedulerRuns(ctx, limit)
}

func (s *OpsServiceImpl) AuditTrail(ctx context.Context, correlationID uuid.UUID) ([]models.AuditEvent, error) {
	return s.auditRepo.FindByCorrelationId(ctx, correlationID)
}

// TriggerAccountSync enqueues a manual sync for one account after checking
// the shared rate budget and the user's consent. The sync itself runs
// asynchronously on the worker.
func (s *OpsServiceImpl) TriggerAccountSync(ctx context.Context, traceID string, accountID uuid.UUID, since *time.Time) error {
	if !s.limiter.Allow(ctx) {
		return pkg.NewAppError(pkg.ErrRateLimitedCode, "sync trigger budget exhausted", pkg.ErrRateLimitExceeded)
	}

	account, err := s.accountRepo.FindById(ctx, accountID)
	if err != nil {
		return pkg.HandleSQLError(traceID, s.logger, err)
	}
	if _, err := s.consentRepo.FindActiveByUserId(ctx, account.UserID); err != nil {
		if errors.Is(err, pkg.ErrNoActiveConsent) {
			return pkg.NewAppError(pkg.ErrConsentInactiveCode, "no active consent for account owner", err)
		}
		return pkg.HandleSQLError(traceID, s.logger, err)
	}

	job := views.SyncJob{
		UserID:    account.UserID.String(),
		AccountID: account.ID.String(),
		SinceTS:   since,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return pkg.NewAppError(pkg.ErrEnqueueFailedCode, "failed to enqueue sync job", err)
	}
	s.logger.Info("manual account sync enqueued",
		zap.String(pkg.TraceId, traceID),
		zap.String("account_id", accountID.String()))
	return nil
}

// TriggerUserSync enqueues a sync for every account the user has linked.
// Returns how many jobs were enqueued; a single failing account aborts with
// the partial count so the caller can retry.
func (s *OpsServiceImpl) TriggerUserSync(ctx context.Context, traceID string, userID uuid.UUID) (int, error) {
	if !s.limiter.Allow(ctx) {
		return 0, pkg.NewAppError(pkg.ErrRateLimitedCode, "sync trigger budget exhausted", pkg.ErrRateLimitExceeded)
	}
	if _, err := s.consentRepo.FindActiveByUserId(ctx, userID); err != nil {
		if errors.Is(err, pkg.ErrNoActiveConsent) {
			return 0, pkg.NewAppError(pkg.ErrConsentInactiveCode, "no active consent for user", err)
		}
		return 0, pkg.HandleSQLError(traceID, s.logger, err)
	}

	accounts, err := s.accountRepo.FindByUserId(ctx, userID)
	if err != nil {
		return 0, pkg.HandleSQLError(traceID, s.logger, err)
	}

	enqueued := 0
	for _, account := range accounts {
		job := views.SyncJob{
			UserID:    userID.String(),
			AccountID: account.ID.String(),
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return enqueued, pkg.NewAppError(pkg.ErrEnqueueFailedCode, "failed to enqueue sync job", err)
		}
		enqueued++
	}
	s.logger.Info("manual user sync enqueued",
		zap.String(pkg.TraceId, traceID),
		zap.String("user_id", userID.String()),
		zap.Int("accounts", enqueued))
	return enqueued, nil
}

// ReapSyncLogs cancels running sync logs older than the configured cutoff.
// These are rows orphaned by a worker that died mid-sync.
func (s *OpsServiceImpl) ReapSyncLogs(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.config.ReapOlderThan)
	reaped, err := s.syncLogRepo.ReapRunning(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reaped > 0 {
		s.logger.Warn("reaped orphaned sync logs",
			zap.Int64("count", reaped),
			zap.Time("cutoff", cutoff))
	}
	return reaped, nil
}
