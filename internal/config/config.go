package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the whitelist decision engine.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Learning LearningConfig `mapstructure:"learning"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// RedisConfig contains Redis configuration for caching.
type RedisConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Password        string        `mapstructure:"password"`
	Database        int           `mapstructure:"database"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	MaxRetries      int           `mapstructure:"max_retries"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	LookupTimeout   time.Duration `mapstructure:"lookup_timeout"`
	FeatureCacheTTL time.Duration `mapstructure:"feature_cache_ttl"`
	ResultCacheTTL  time.Duration `mapstructure:"result_cache_ttl"`
	WhitelistTTL    time.Duration `mapstructure:"whitelist_ttl"`
}

// EngineConfig contains decision engine configuration. Fusion weights are
// renormalized over the scorers that actually ran.
type EngineConfig struct {
	PhoneHashSalt         string        `mapstructure:"phone_hash_salt"`
	ScorerTimeout         time.Duration `mapstructure:"scorer_timeout"`
	HighPriorityThreshold int           `mapstructure:"high_priority_threshold"`
	SpamThreshold         float64       `mapstructure:"spam_threshold"`
	PatternWeight         float64       `mapstructure:"pattern_weight"`
	TemporalWeight        float64       `mapstructure:"temporal_weight"`
	ContextualWeight      float64       `mapstructure:"contextual_weight"`
	BehavioralWeight      float64       `mapstructure:"behavioral_weight"`
	BatchWorkers          int           `mapstructure:"batch_workers"`
	AutoLearnThreshold    float64       `mapstructure:"auto_learn_threshold"`
}

// LearningConfig contains feedback loop configuration.
type LearningConfig struct {
	MaxQueueSize     int           `mapstructure:"max_queue_size"`
	DrainInterval    time.Duration `mapstructure:"drain_interval"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize   int           `mapstructure:"sweep_batch_size"`
	ProfileRetention time.Duration `mapstructure:"profile_retention"`
}

// MetricsConfig contains monitoring configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Encoding    string `mapstructure:"encoding"`
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("WHITELIST_ENGINE")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with environment variables and defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 3007)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "5s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "whitelist_engine")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.ssl_mode", "prefer")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "1h")
	viper.SetDefault("database.conn_max_idle_time", "10m")
	viper.SetDefault("database.query_timeout", "30s")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.database", 1)
	viper.SetDefault("redis.pool_size", 20)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "2s")
	viper.SetDefault("redis.write_timeout", "2s")
	viper.SetDefault("redis.lookup_timeout", "20ms")
	viper.SetDefault("redis.feature_cache_ttl", "30m")
	viper.SetDefault("redis.result_cache_ttl", "10m")
	viper.SetDefault("redis.whitelist_ttl", "10m")

	// Engine defaults
	viper.SetDefault("engine.phone_hash_salt", "whitelist-engine")
	viper.SetDefault("engine.scorer_timeout", "50ms")
	viper.SetDefault("engine.high_priority_threshold", 500)
	viper.SetDefault("engine.spam_threshold", 0.6)
	viper.SetDefault("engine.pattern_weight", 0.4)
	viper.SetDefault("engine.temporal_weight", 0.3)
	viper.SetDefault("engine.contextual_weight", 0.2)
	viper.SetDefault("engine.behavioral_weight", 0.1)
	viper.SetDefault("engine.batch_workers", 4)
	viper.SetDefault("engine.auto_learn_threshold", 0.85)

	// Learning defaults
	viper.SetDefault("learning.max_queue_size", 1000)
	viper.SetDefault("learning.drain_interval", "30s")
	viper.SetDefault("learning.sweep_interval", "1h")
	viper.SetDefault("learning.sweep_batch_size", 1000)
	viper.SetDefault("learning.profile_retention", "720h")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.development", false)
	viper.SetDefault("logging.encoding", "json")
}

func validate(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max_connections must be positive")
	}

	if config.Engine.SpamThreshold < 0 || config.Engine.SpamThreshold > 1 {
		return fmt.Errorf("engine spam_threshold must be between 0 and 1")
	}

	totalWeight := config.Engine.PatternWeight + config.Engine.TemporalWeight +
		config.Engine.ContextualWeight + config.Engine.BehavioralWeight
	if totalWeight <= 0 {
		return fmt.Errorf("engine fusion weights must sum to a positive value")
	}

	if config.Learning.MaxQueueSize <= 0 {
		return fmt.Errorf("learning max_queue_size must be positive")
	}

	return nil
}

// NewConfig creates a new configuration instance.
func NewConfig() (*Config, error) {
	return Load()
}
