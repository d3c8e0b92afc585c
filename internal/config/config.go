package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Notifier NotifierConfig
	Worker   WorkerConfig
	Feed     FeedConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
	BcryptCost  int    `mapstructure:"bcrypt_cost"`
	// UserCacheTTL bounds how stale the auth middleware's cached user
	// lookups may be.
	UserCacheTTL time.Duration `mapstructure:"user_cache_ttl"`
}

type NotifierConfig struct {
	// IncludeSupervisors folds supervisors into the pending-patient
	// audience. Doctor + admin is the baseline.
	IncludeSupervisors bool `mapstructure:"include_supervisors"`
}

type WorkerConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	ProcessedRetention time.Duration `mapstructure:"processed_retention"`
}

type FeedConfig struct {
	SnapshotRetries    int           `mapstructure:"snapshot_retries"`
	SnapshotBackoff    time.Duration `mapstructure:"snapshot_backoff"`
	MaxSnapshotBackoff time.Duration `mapstructure:"max_snapshot_backoff"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
