package configs

import (
	"time"

	"github.com/finscope/txsync/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds application configuration for sync-scheduler.
type Config struct {
	MetricsAddr   string `mapstructure:"METRICS_ADDR" validate:"required"`
	PrimaryDbAddr string `mapstructure:"PRIMARY_DB_ADDR" validate:"required"`
	ReplicaDbAddr string `mapstructure:"REPLICA_DB_ADDR"`
	MaxDbCons     int32  `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbCons     int32  `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=1"`
	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required"`

	// Enabled gates the periodic loop; a disabled scheduler still serves
	// metrics so a standby replica can run warm.
	Enabled        bool          `mapstructure:"SCHEDULER_ENABLED"`
	Interval       time.Duration `mapstructure:"SCHEDULE_INTERVAL" validate:"required"`
	StaleThreshold time.Duration `mapstructure:"STALE_THRESHOLD" validate:"required"`

	// Lookback for accounts that have never synced; bounds the first window.
	InitialLookback time.Duration `mapstructure:"INITIAL_LOOKBACK" validate:"required"`
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app") // Prefix for env vars
	viper.AutomaticEnv()

	// Default values
	viper.SetDefault("METRICS_ADDR", ":9103")
	viper.SetDefault("MAX_DB_CONNECTIONS", "5")
	viper.SetDefault("MIN_DB_CONNECTIONS", "1")
	viper.SetDefault("SCHEDULER_ENABLED", "true")
	viper.SetDefault("SCHEDULE_INTERVAL", "4h")
	viper.SetDefault("STALE_THRESHOLD", "4h")
	viper.SetDefault("INITIAL_LOOKBACK", "168h")

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
	viper.AddConfigPath("./services/sync-scheduler/configs")
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
