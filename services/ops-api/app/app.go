package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/cache"
	"github.com/finscope/txsync/pkg/database"
	middleware "github.com/finscope/txsync/pkg/middlewares"
	"github.com/finscope/txsync/pkg/queue"
	"github.com/finscope/txsync/pkg/repositories"
	"github.com/finscope/txsync/services/ops-api/configs"
	"github.com/finscope/txsync/services/ops-api/internal/handlers"
	"github.com/finscope/txsync/services/ops-api/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewApp wires dependencies, builds the Gin engine, and returns an *http.Server and a cleanup func.
// It reads configuration from environment variables via configs.Load.
func NewApp(ctx context.Context, logger *zap.Logger) (*http.Server, func(), error) {
	// Load config
	cfg, err := configs.Load(logger)
	if err != nil {
		return nil, nil, err
	}

	// Initialize postgres db
	dbConfig := database.Config{
		PrimaryDSN: cfg.PrimaryDbAddr,
		MaxConns:   cfg.MaxDbCons,
		MinConns:   cfg.MinDbCons,
	}
	if cfg.ReplicaDbAddr != "" {
		dbConfig.ReplicaDSNs = []string{cfg.ReplicaDbAddr}
	}
	db, disconnect, err := database.New(ctx, logger, dbConfig)
	if err != nil {
		return nil, nil, err
	}

	// Run migrations on primary
	if err := database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
		disconnect()
		return nil, nil, err
	}

	// Redis backs the queue views and the distributed trigger limiter
	redisClient, redisCloser, err := cache.New(ctx, cache.Config{
		Addr: cfg.RedisAddr,
	})
	if err != nil {
		disconnect()
		return nil, nil, err
	}

	// Setup dependencies
	baseHandler := handlers.NewBaseHandler(logger)

	jobQueue := queue.NewJobQueue(logger, redisClient, queue.DefaultNames())
	limiter := pkg.NewDistributedLimiter(redisClient, "ops_sync_trigger",
		cfg.SyncTriggerRate, cfg.SyncTriggerBurst, cfg.SyncTriggerTTL, logger)

	opsService := services.NewOpsService(services.OpsServiceConfig{
		Logger:      logger,
		Config:      cfg,
		Queue:       jobQueue,
		Limiter:     limiter,
		AccountRepo: repositories.NewAccountRepository(db),
		ConsentRepo: repositories.NewConsentRepository(db),
		SyncLogRepo: repositories.NewSyncLogRepository(db),
		AuditRepo:   repositories.NewAuditEventRepository(db),
	})
	queueHandler := handlers.NewQueueHandler(logger, opsService)
	syncHandler := handlers.NewSyncHandler(logger, opsService)

	// Router
	r := gin.Default()

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(middleware.TraceID())
	api.Use(middleware.Metrics())

	queueHandler.RegisterRoutes(api)
	syncHandler.RegisterRoutes(api)
	baseHandler.RegisterRoutes(r)

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	cleanup := func() {
		// close db pools
		disconnect()
		// close redis client
		redisCloser()
	}

	return srv, cleanup, nil
}
