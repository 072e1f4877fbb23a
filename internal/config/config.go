// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Rate        RateConfig        `mapstructure:"rate"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Checkpoint  CheckpointConfig  `mapstructure:"checkpoint"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CrawlerConfig governs pagination and the detail pipeline.
type CrawlerConfig struct {
	InitialURL         string        `mapstructure:"initial_url"`
	BaseURL            string        `mapstructure:"base_url"`
	PageURLTemplate    string        `mapstructure:"page_url_template"`
	MaxPages           int           `mapstructure:"max_pages"`
	PageAttempts       int           `mapstructure:"page_attempts"`
	PageRetryDelay     time.Duration `mapstructure:"page_retry_delay"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	DetailWorkers      int           `mapstructure:"detail_workers"`
	UserAgent          string        `mapstructure:"user_agent"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	ArchiveRawPages    bool          `mapstructure:"archive_raw_pages"`
}

// RetryConfig bounds per-request retries and the open-breaker backoff.
type RetryConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts"`
	MinDelay            time.Duration `mapstructure:"min_delay"`
	MaxDelay            time.Duration `mapstructure:"max_delay"`
	BreakerBackoffFloor time.Duration `mapstructure:"breaker_backoff_floor"`
	BreakerBackoffCap   time.Duration `mapstructure:"breaker_backoff_cap"`
}

// RateConfig bounds the adaptive request rate, in requests per second.
type RateConfig struct {
	Initial      float64 `mapstructure:"initial"`
	Min          float64 `mapstructure:"min"`
	Max          float64 `mapstructure:"max"`
	CeilingBurst int     `mapstructure:"ceiling_burst"`
}

// ConcurrencyConfig bounds the adaptive in-flight limit.
type ConcurrencyConfig struct {
	Initial int `mapstructure:"initial"`
	Min     int `mapstructure:"min"`
	Max     int `mapstructure:"max"`
}

// BreakerConfig controls the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// CheckpointConfig locates the resume file.
type CheckpointConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig selects the school store.
type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ArchiveConfig selects where raw detail pages are kept.
type ArchiveConfig struct {
	Provider    string `mapstructure:"provider"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	GCSEndpoint string `mapstructure:"gcs_endpoint"`
	Prefix      string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for record notifications. An empty topic
// disables publishing.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether notifications should be published.
func (p PubSubConfig) Enabled() bool {
	return p.TopicName != ""
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCHOOLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

const (
	defaultInitialURL = "https://web.archive.org/web/20121231154127/http://www.usnews.com/education/best-high-schools/national-rankings"
	defaultBaseURL    = "https://web.archive.org"
	defaultPageURL    = defaultInitialURL + "/page+%d"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.initial_url", defaultInitialURL)
	v.SetDefault("crawler.base_url", defaultBaseURL)
	v.SetDefault("crawler.page_url_template", defaultPageURL)
	v.SetDefault("crawler.max_pages", 49)
	v.SetDefault("crawler.page_attempts", 5)
	v.SetDefault("crawler.page_retry_delay", "30s")
	v.SetDefault("crawler.checkpoint_interval", "15m")
	v.SetDefault("crawler.detail_workers", 5)
	v.SetDefault("crawler.user_agent", "school-rankings-bot/1.0")
	v.SetDefault("crawler.request_timeout", "30s")
	v.SetDefault("crawler.archive_raw_pages", false)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.min_delay", "4s")
	v.SetDefault("retry.max_delay", "60s")
	v.SetDefault("retry.breaker_backoff_floor", "60s")
	v.SetDefault("retry.breaker_backoff_cap", "1h")
	v.SetDefault("rate.initial", 0.5)
	v.SetDefault("rate.min", 0.1)
	v.SetDefault("rate.max", 2.0)
	v.SetDefault("rate.ceiling_burst", 1)
	v.SetDefault("concurrency.initial", 3)
	v.SetDefault("concurrency.min", 1)
	v.SetDefault("concurrency.max", 5)
	v.SetDefault("breaker.failure_threshold", 10)
	v.SetDefault("breaker.reset_timeout", "10m")
	v.SetDefault("checkpoint.path", "scraper_checkpoint.json")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "file:schools.db")
	v.SetDefault("storage.table", "schools")
	v.SetDefault("storage.max_conns", 4)
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.base_dir", "data/pages")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("pubsub.provider", "gcp")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.validateCrawler(); err != nil {
		return err
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.MinDelay <= 0 || c.Retry.MaxDelay < c.Retry.MinDelay {
		return fmt.Errorf("retry.min_delay must be > 0 and <= retry.max_delay")
	}
	if c.Retry.BreakerBackoffFloor <= 0 || c.Retry.BreakerBackoffCap < c.Retry.BreakerBackoffFloor {
		return fmt.Errorf("retry.breaker_backoff_floor must be > 0 and <= retry.breaker_backoff_cap")
	}
	if c.Rate.Min <= 0 || c.Rate.Min > c.Rate.Max || c.Rate.Initial < c.Rate.Min || c.Rate.Initial > c.Rate.Max {
		return fmt.Errorf("rate must satisfy 0 < rate.min <= rate.initial <= rate.max")
	}
	if c.Concurrency.Min <= 0 || c.Concurrency.Min > c.Concurrency.Max ||
		c.Concurrency.Initial < c.Concurrency.Min || c.Concurrency.Initial > c.Concurrency.Max {
		return fmt.Errorf("concurrency must satisfy 0 < concurrency.min <= concurrency.initial <= concurrency.max")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be > 0")
	}
	if c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker.reset_timeout must be > 0")
	}
	if strings.TrimSpace(c.Checkpoint.Path) == "" {
		return fmt.Errorf("checkpoint.path is required")
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be one of sqlite, postgres, memory")
	}
	switch c.Archive.Provider {
	case "", "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local provider")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("archive.provider must be one of none, local, gcs, memory")
	}
	switch c.PubSub.Provider {
	case "", "gcp":
		if c.PubSub.Enabled() && c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
		}
	case "memory":
	default:
		return fmt.Errorf("pubsub.provider must be one of gcp, memory")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

func (c Config) validateCrawler() error {
	if c.Crawler.InitialURL == "" {
		return fmt.Errorf("crawler.initial_url is required")
	}
	if strings.Count(c.Crawler.PageURLTemplate, "%d") != 1 {
		return fmt.Errorf("crawler.page_url_template must contain exactly one %%d")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.PageAttempts <= 0 {
		return fmt.Errorf("crawler.page_attempts must be > 0")
	}
	if c.Crawler.PageRetryDelay < 0 {
		return fmt.Errorf("crawler.page_retry_delay must be >= 0")
	}
	if c.Crawler.CheckpointInterval < 0 {
		return fmt.Errorf("crawler.checkpoint_interval must be >= 0")
	}
	if c.Crawler.DetailWorkers <= 0 {
		return fmt.Errorf("crawler.detail_workers must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	return nil
}
