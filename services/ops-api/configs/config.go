package configs

import (
	"time"

	"github.com/finscope/txsync/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds application configuration for ops-api.
type Config struct {
	Port          string `mapstructure:"PORT" validate:"required"`
	PrimaryDbAddr string `mapstructure:"PRIMARY_DB_ADDR" validate:"required"`
	ReplicaDbAddr string `mapstructure:"REPLICA_DB_ADDR"`
	MaxDbCons     int32  `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbCons     int32  `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=1"`
	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required"`

	// Manual sync triggers share one distributed budget across replicas.
	SyncTriggerRate  int           `mapstructure:"SYNC_TRIGGER_RATE" validate:"min=1"`
	SyncTriggerBurst int           `mapstructure:"SYNC_TRIGGER_BURST" validate:"min=1"`
	SyncTriggerTTL   time.Duration `mapstructure:"SYNC_TRIGGER_TTL" validate:"required"`

	// Running sync logs older than this are presumed orphaned by a crashed
	// worker and eligible for the reap endpoint.
	ReapOlderThan time.Duration `mapstructure:"REAP_OLDER_THAN" validate:"required"`
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app") // Prefix for env vars
	viper.AutomaticEnv()

	// Default values
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("MAX_DB_CONNECTIONS", "10")
	viper.SetDefault("MIN_DB_CONNECTIONS", "2")
	viper.SetDefault("SYNC_TRIGGER_RATE", "5")
	viper.SetDefault("SYNC_TRIGGER_BURST", "10")
	viper.SetDefault("SYNC_TRIGGER_TTL", "1m")
	viper.SetDefault("REAP_OLDER_THAN", "1h")

	// Optional: Read from config.yaml if exists
	if gin.ReleaseMode == gin.Mode() {
		viper.SetConfigName("config.prod")
	} else if gin.TestMode == gin.Mode() {
		logger.Warn("running_in_test_mode")
		viper.SetConfigName("config.test")
	} else {
		logger.Warn("running_in_development_mode")
		viper.SetConfigName("config.dev")
	}
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./services/ops-api/configs")
	_ = viper.ReadInConfig() // Ignore if no file

	var cfg Config
	if err := utils.ParseStructEnv(&cfg); err != nil {
		return nil, err
	}

	// Validate after unmarshal
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, utils.FormatConfigErrors(logger, err, cfg)
	}
	return &cfg, nil
}
