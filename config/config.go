// Package config loads the pipeline configuration.
//
// Values come from a YAML file. Environment variables prefixed with
// WIRECREST_ override individual settings after the file is read, so
// secrets such as the provider token need not live on disk.
package config

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/logging"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "WIRECREST_"

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

const (
	defaultDatabasePath = "wirecrest.db"
	defaultRedisPrefix  = "wirecrest"

	defaultMaxMessages = 100
	defaultMessageTTL  = 7 * 24 * time.Hour

	defaultRetryMaxRetries     = 3
	defaultRetryBaseDelay      = 5 * time.Minute
	defaultRetryRatio          = 3
	defaultRetryBatchSize      = 10
	defaultRetryConcurrency    = 5
	defaultRetryAttemptTimeout = 10 * time.Minute
	defaultRetryRetentionDays  = 30

	defaultProfileTimeout   = 30 * time.Second
	defaultCollectTimeout   = 15 * time.Minute
	defaultAnalyticsTimeout = 5 * time.Minute
	defaultBatchConcurrency = 10
	defaultMessageLimit     = 20

	defaultRequestTimeout = 30 * time.Second
	defaultPollInterval   = 5 * time.Second
	defaultProfileCache   = 5 * time.Minute

	defaultJobName = "wirecrest"
)

// Config represents the complete application configuration.
type Config struct {
	Logging    logging.Config   `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Retry      RetryConfig      `yaml:"retry"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Provider   ProviderConfig   `yaml:"provider"`
	Notify     NotifyConfig     `yaml:"notify"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// DatabaseConfig points at the SQLite file holding profiles and the retry backlog.
type DatabaseConfig struct {
	Path         string        `yaml:"path" env:"DATABASE_PATH, overwrite"`
	ProfileCache time.Duration `yaml:"profile_cache"`
}

// RedisConfig is only needed when a component uses the redis store.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"REDIS_ADDR, overwrite"`
	Password  string `yaml:"password" env:"REDIS_PASSWORD, overwrite"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// TrackerConfig controls where task state lives.
type TrackerConfig struct {
	// Store is memory or redis. Redis also switches per-key locks to redis
	// so several schedulers can share tasks.
	Store       string        `yaml:"store" env:"TRACKER_STORE, overwrite"`
	MaxMessages int           `yaml:"max_messages"`
	MessageTTL  time.Duration `yaml:"message_ttl"`
}

// RetryConfig configures the retry backlog.
type RetryConfig struct {
	// Store is memory or sqlite.
	Store          string        `yaml:"store" env:"RETRY_STORE, overwrite"`
	MaxRetries     int           `yaml:"max_retries"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	Ratio          int           `yaml:"ratio"`
	BatchSize      int           `yaml:"batch_size"`
	Concurrency    int           `yaml:"concurrency"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	RetentionDays  int           `yaml:"retention_days"`
}

// PipelineConfig bounds individual pipeline runs.
type PipelineConfig struct {
	ProfileTimeout   time.Duration `yaml:"profile_timeout"`
	CollectTimeout   time.Duration `yaml:"collect_timeout"`
	AnalyticsTimeout time.Duration `yaml:"analytics_timeout"`
	BatchConcurrency int           `yaml:"batch_concurrency"`
	MessageLimit     int           `yaml:"message_limit"`
	// MaxItems caps reviews collected per run. Zero means no cap.
	MaxItems int `yaml:"max_items"`
}

// ProviderConfig holds the data provider API settings.
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url" env:"PROVIDER_URL, overwrite"`
	Token          string        `yaml:"token" env:"PROVIDER_TOKEN, overwrite"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// NotifyConfig selects the sinks for permanent-failure notifications.
// Log notifications are always on.
type NotifyConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
	Email EmailConfig `yaml:"email"`
}

// KafkaConfig enables the Kafka sink when Brokers is set.
type KafkaConfig struct {
	// Brokers is a comma separated list of host:port.
	Brokers string `yaml:"brokers" env:"KAFKA_BROKERS, overwrite"`
	Topic   string `yaml:"topic" env:"KAFKA_TOPIC, overwrite"`
}

// EmailConfig enables the SES sink when From is set.
type EmailConfig struct {
	Region string `yaml:"region" env:"EMAIL_REGION, overwrite"`
	From   string `yaml:"from" env:"EMAIL_FROM, overwrite"`
	// Recipients maps a notification audience to email addresses.
	Recipients map[string][]string `yaml:"recipients"`
}

// MonitoringConfig holds metrics settings.
type MonitoringConfig struct {
	// VictoriaMetricsURL is the remote-write endpoint the CLI pushes to.
	VictoriaMetricsURL string `yaml:"victoriametrics_url" env:"METRICS_URL, overwrite"`
	JobName            string `yaml:"jobname"`
}

// SetDefaults sets reasonable default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = defaultDatabasePath
	}
	if c.Database.ProfileCache == 0 {
		c.Database.ProfileCache = defaultProfileCache
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = defaultRedisPrefix
	}

	if c.Tracker.Store == "" {
		c.Tracker.Store = StoreMemory
	}
	if c.Tracker.MaxMessages == 0 {
		c.Tracker.MaxMessages = defaultMaxMessages
	}
	if c.Tracker.MessageTTL == 0 {
		c.Tracker.MessageTTL = defaultMessageTTL
	}

	if c.Retry.Store == "" {
		c.Retry.Store = StoreSQLite
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = defaultRetryMaxRetries
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = defaultRetryBaseDelay
	}
	if c.Retry.Ratio == 0 {
		c.Retry.Ratio = defaultRetryRatio
	}
	if c.Retry.BatchSize == 0 {
		c.Retry.BatchSize = defaultRetryBatchSize
	}
	if c.Retry.Concurrency == 0 {
		c.Retry.Concurrency = defaultRetryConcurrency
	}
	if c.Retry.AttemptTimeout == 0 {
		c.Retry.AttemptTimeout = defaultRetryAttemptTimeout
	}
	if c.Retry.RetentionDays == 0 {
		c.Retry.RetentionDays = defaultRetryRetentionDays
	}

	if c.Pipeline.ProfileTimeout == 0 {
		c.Pipeline.ProfileTimeout = defaultProfileTimeout
	}
	if c.Pipeline.CollectTimeout == 0 {
		c.Pipeline.CollectTimeout = defaultCollectTimeout
	}
	if c.Pipeline.AnalyticsTimeout == 0 {
		c.Pipeline.AnalyticsTimeout = defaultAnalyticsTimeout
	}
	if c.Pipeline.BatchConcurrency == 0 {
		c.Pipeline.BatchConcurrency = defaultBatchConcurrency
	}
	if c.Pipeline.MessageLimit == 0 {
		c.Pipeline.MessageLimit = defaultMessageLimit
	}

	if c.Provider.RequestTimeout == 0 {
		c.Provider.RequestTimeout = defaultRequestTimeout
	}
	if c.Provider.PollInterval == 0 {
		c.Provider.PollInterval = defaultPollInterval
	}

	if c.Monitoring.JobName == "" {
		c.Monitoring.JobName = defaultJobName
	}
}

// Validate performs basic validation on the configuration.
func (c *Config) Validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider base_url is required")
	}
	if !slices.Contains([]string{StoreMemory, StoreRedis}, c.Tracker.Store) {
		return fmt.Errorf("tracker store must be %q or %q, got %q", StoreMemory, StoreRedis, c.Tracker.Store)
	}
	if c.Tracker.Store == StoreRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required for the redis tracker store")
	}
	if c.Tracker.MaxMessages < 0 {
		return fmt.Errorf("tracker max_messages must not be negative")
	}
	if !slices.Contains([]string{StoreMemory, StoreSQLite}, c.Retry.Store) {
		return fmt.Errorf("retry store must be %q or %q, got %q", StoreMemory, StoreSQLite, c.Retry.Store)
	}
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("retry max_retries must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry base_delay must be positive")
	}
	if c.Retry.Ratio < 2 {
		return fmt.Errorf("retry ratio must be at least 2 for geometric backoff")
	}
	if c.Retry.BatchSize < 1 || c.Retry.Concurrency < 1 {
		return fmt.Errorf("retry batch_size and concurrency must be positive")
	}
	if c.Retry.AttemptTimeout <= 0 {
		return fmt.Errorf("retry attempt_timeout must be positive")
	}
	if c.Retry.RetentionDays < 0 {
		return fmt.Errorf("retry retention_days must not be negative")
	}
	if c.Pipeline.ProfileTimeout <= 0 || c.Pipeline.CollectTimeout <= 0 || c.Pipeline.AnalyticsTimeout <= 0 {
		return fmt.Errorf("pipeline timeouts must be positive")
	}
	if c.Pipeline.BatchConcurrency < 1 {
		return fmt.Errorf("pipeline batch_concurrency must be positive")
	}
	if c.Pipeline.MaxItems < 0 {
		return fmt.Errorf("pipeline max_items must not be negative")
	}
	if c.Notify.Kafka.Brokers != "" && c.Notify.Kafka.Topic == "" {
		return fmt.Errorf("notify kafka topic is required when brokers are set")
	}
	if c.Notify.Email.From != "" && c.Notify.Email.Region == "" {
		return fmt.Errorf("notify email region is required when from is set")
	}
	return nil
}

// ApplyEnv overrides settings from environment variables looked up through l.
func (c *Config) ApplyEnv(ctx context.Context, l envconfig.Lookuper) error {
	return envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   c,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, l),
	})
}

// LoadConfig reads the YAML config file at path, applies WIRECREST_
// environment overrides and defaults, and validates the result.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := cfg.ApplyEnv(ctx, envconfig.OsLookuper()); err != nil {
		return cfg, fmt.Errorf("applying environment overrides: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
