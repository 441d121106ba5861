package configs

import (
	"time"

	"github.com/finscope/txsync/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds application configuration for sync-worker.
type Config struct {
	MetricsAddr   string `mapstructure:"METRICS_ADDR" validate:"required"`
	PrimaryDbAddr string `mapstructure:"PRIMARY_DB_ADDR" validate:"required"`
	ReplicaDbAddr string `mapstructure:"REPLICA_DB_ADDR"`
	MaxDbCons     int32  `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbCons     int32  `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=1"`
	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"required"`

	// Retry policy. RetryDelays is a comma-separated schedule indexed by how
	// many times the job has already been retried; the last entry repeats.
	MaxRetryCount int    `mapstructure:"MAX_RETRY_COUNT" validate:"min=1,max=10"`
	RetryDelays   string `mapstructure:"RETRY_DELAYS" validate:"required"`

	PopTimeout         time.Duration `mapstructure:"POP_TIMEOUT" validate:"required"`
	MaxConcurrentSyncs int           `mapstructure:"MAX_CONCURRENT_SYNCS" validate:"min=1"`
	LeaseTTL           time.Duration `mapstructure:"LEASE_TTL" validate:"required"`
	LeaseRequeueDelay  time.Duration `mapstructure:"LEASE_REQUEUE_DELAY" validate:"required"`
	DepthSampleEvery   time.Duration `mapstructure:"DEPTH_SAMPLE_EVERY" validate:"required"`

	// Provider selection. The mock provider serves fixture data from a JSON
	// file; the real one needs a base URL plus the AES key that unseals
	// consent access tokens.
	UseMockProvider    bool   `mapstructure:"USE_MOCK_PROVIDER"`
	MockDataFile       string `mapstructure:"MOCK_DATA_FILE"`
	ProviderBaseURL    string `mapstructure:"PROVIDER_BASE_URL"`
	ProviderRatePerSec int    `mapstructure:"PROVIDER_RATE_PER_SEC" validate:"min=1"`
	ProviderBurst      int    `mapstructure:"PROVIDER_BURST" validate:"min=1"`
	FetchLimit         int    `mapstructure:"FETCH_LIMIT" validate:"min=1"`
	AesKey             string `mapstructure:"AES_KEY"`
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app") // Prefix for env vars
	viper.AutomaticEnv()

	// Default values
	viper.SetDefault("METRICS_ADDR", ":9102")
	viper.SetDefault("MAX_DB_CONNECTIONS", "10")
	viper.SetDefault("MIN_DB_CONNECTIONS", "2")
	viper.SetDefault("MAX_RETRY_COUNT", "3")
	viper.SetDefault("RETRY_DELAYS", "30s,2m,5m")
	viper.SetDefault("POP_TIMEOUT", "5s")
	viper.SetDefault("MAX_CONCURRENT_SYNCS", "4")
	viper.SetDefault("LEASE_TTL", "5m")
	viper.SetDefault("LEASE_REQUEUE_DELAY", "5s")
	viper.SetDefault("DEPTH_SAMPLE_EVERY", "15s")
	viper.SetDefault("USE_MOCK_PROVIDER", "true")
	viper.SetDefault("PROVIDER_RATE_PER_SEC", "10")
	viper.SetDefault("PROVIDER_BURST", "10")
	viper.SetDefault("FETCH_LIMIT", "1000")

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
	viper.AddConfigPath("./services/sync-worker/configs")
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
