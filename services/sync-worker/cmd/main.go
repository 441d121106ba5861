package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/audit"
	"github.com/finscope/txsync/pkg/cache"
	"github.com/finscope/txsync/pkg/database"
	"github.com/finscope/txsync/pkg/ingest"
	"github.com/finscope/txsync/pkg/provider"
	"github.com/finscope/txsync/pkg/queue"
	"github.com/finscope/txsync/pkg/repositories"
	"github.com/finscope/txsync/pkg/utils"
	"github.com/finscope/txsync/services/sync-worker/configs"
	"github.com/finscope/txsync/services/sync-worker/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// main initializes and runs the sync worker service.
func main() {
	logger := pkg.InitLogger()
	defer logger.Sync() // Ensure all buffered logs are flushed on exit

	// Load configuration from environment and optional config file
	cfg, err := configs.Load(logger)
	if err != nil {
		logger.Fatal("failed_to_load_config", zap.Error(err))
	}

	// Initialize PostgreSQL database connection
	dbConfig := database.Config{
		PrimaryDSN: cfg.PrimaryDbAddr,
		MaxConns:   cfg.MaxDbCons,
		MinConns:   cfg.MinDbCons,
	}
	if cfg.ReplicaDbAddr != "" {
		dbConfig.ReplicaDSNs = []string{cfg.ReplicaDbAddr}
	}
	db, disconnect, err := database.New(context.Background(), logger, dbConfig)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer disconnect() // Ensure database connections are closed on shutdown

	// Create a context that can be canceled for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis client backing the job queues and the account lease
	redisClient, redisCloser, err := cache.New(ctx, cache.Config{
		Addr: cfg.RedisAddr,
	})
	if err != nil {
		logger.Fatal("failed to initialize redis client", zap.Error(err))
	}
	logger.Info("redis client initialized successfully")

	// Initialize repositories for data access
	accountRepo := repositories.NewAccountRepository(db)
	transactionRepo := repositories.NewTransactionRepository(db)
	syncLogRepo := repositories.NewSyncLogRepository(db)
	consentRepo := repositories.NewConsentRepository(db)
	auditRepo := repositories.NewAuditEventRepository(db)

	// Queue transport, retry queue and per-account lease
	names := queue.DefaultNames()
	jobQueue := queue.NewJobQueue(logger, redisClient, names)
	delayQueue := queue.NewRedisDelayQueue(logger, redisClient, names.Retry)
	lease := queue.NewAccountLease(logger, redisClient, cfg.LeaseTTL)

	// Provider client: fixture-backed mock or the real HTTP aggregator
	providerClient := buildProvider(logger, cfg, accountRepo, consentRepo)

	// Sync orchestrator with its audit scope
	auditor := audit.NewAuditor(logger, auditRepo)
	scoper := audit.NewScoper(logger, auditor, syncLogRepo)
	upserter := ingest.NewUpsertStore(logger, transactionRepo, jobQueue)
	syncer := ingest.NewSyncer(ingest.SyncerConfig{
		Logger:      logger,
		AccountRepo: accountRepo,
		Upserter:    upserter,
		Provider:    providerClient,
		Scoper:      scoper,
		FetchLimit:  cfg.FetchLimit,
	})

	worker := services.NewSyncWorker(services.SyncWorkerConfig{
		Context: ctx,
		Logger:  logger,
		Config:  cfg,
		Queue:   jobQueue,
		Delay:   delayQueue,
		Lease:   lease,
		Syncer:  syncer,
	})
	drainWorker := worker.Start()

	// Metrics and liveness endpoint
	metricsServer := startMetricsServer(logger, cfg.MetricsAddr)

	// Handle graceful shutdown on SIGINT or SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	osSignal := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", osSignal.String()))
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	cancel() // Trigger context cancellation
	drainWorker()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}
	redisCloser()
	logger.Info("service shutdown completed successfully")
}

// buildProvider selects the transaction source. The real client needs the
// consent token chain, which in turn needs the AES key that seals tokens at
// rest.
func buildProvider(logger *zap.Logger, cfg *configs.Config, accounts repositories.AccountRepository, consents repositories.ConsentRepository) provider.Client {
	if cfg.UseMockProvider {
		logger.Info("using mock provider", zap.String("fixture", cfg.MockDataFile))
		return provider.NewMockClient(logger, cfg.MockDataFile)
	}
	if cfg.ProviderBaseURL == "" {
		logger.Fatal("PROVIDER_BASE_URL is required when the mock provider is disabled")
	}
	aesKey, err := utils.DecodeString(cfg.AesKey)
	if err != nil {
		logger.Fatal("failed to decode encryption key", zap.Error(err))
	}
	tokens := provider.NewConsentTokenProvider(accounts, consents, aesKey)
	return provider.NewHTTPClient(provider.HTTPClientConfig{
		Logger:          logger,
		BaseURL:         cfg.ProviderBaseURL,
		Tokens:          tokens,
		RateLimitPerSec: cfg.ProviderRatePerSec,
		Burst:           cfg.ProviderBurst,
	})
}

func startMetricsServer(logger *zap.Logger, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
