// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-scraper/internal/crawler"
	"github.com/JakeFAU/site-scraper/internal/extract"
)

// EnvPrefix is prepended to environment overrides, e.g. SCRAPER_SERVER_PORT.
const EnvPrefix = "SCRAPER"

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Scraper    ScraperConfig    `mapstructure:"scraper"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Store      StoreConfig      `mapstructure:"store"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs discovery, crawling and page fetching.
type ScraperConfig struct {
	Concurrency        int           `mapstructure:"concurrency"`
	SitemapConcurrency int           `mapstructure:"sitemap_concurrency"`
	MaxPages           int           `mapstructure:"max_pages"`
	BatchSize          int           `mapstructure:"batch_size"`
	ProgressEvery      int           `mapstructure:"progress_every"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	SitemapTimeout     time.Duration `mapstructure:"sitemap_timeout"`
	MaxRedirects       int           `mapstructure:"max_redirects"`
	UserAgent          string        `mapstructure:"user_agent"`
	Format             string        `mapstructure:"format"`
	RespectRobots      bool          `mapstructure:"respect_robots"`
	// BlockedDomains lists hosts ("example.org") or domains ("*.example.org") that
	// may not be submitted.
	BlockedDomains []string `mapstructure:"blocked_domains"`
}

// QueueConfig controls job execution and retries.
type QueueConfig struct {
	Workers        int           `mapstructure:"workers"`
	Depth          int           `mapstructure:"depth"`
	Attempts       int           `mapstructure:"attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
	KeepCompleted  int           `mapstructure:"keep_completed"`
	KeepFailed     int           `mapstructure:"keep_failed"`
}

// StoreConfig selects where job state lives.
type StoreConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// CacheConfig controls reuse of recent results. A zero TTL disables the cache.
type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// ArchiveConfig sets where completed results are written.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the run archive database.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	MaxConns    int32  `mapstructure:"max_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// HeadlessConfig configures the headless rendering fetcher.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	ExecPath    string        `mapstructure:"exec_path"`
}

// PolitenessConfig throttles requests per host. A zero RPS disables throttling.
type PolitenessConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Cloud Run injects PORT.
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("scraper.concurrency", crawler.DefaultConcurrency)
	v.SetDefault("scraper.sitemap_concurrency", crawler.DefaultSitemapConcurrency)
	v.SetDefault("scraper.max_pages", crawler.DefaultMaxPages)
	v.SetDefault("scraper.batch_size", crawler.DefaultBatchSize)
	v.SetDefault("scraper.progress_every", crawler.DefaultProgressEvery)
	v.SetDefault("scraper.request_timeout", 30*time.Second)
	v.SetDefault("scraper.sitemap_timeout", 30*time.Second)
	v.SetDefault("scraper.max_redirects", 5)
	v.SetDefault("scraper.user_agent", "site-scraper/1.0")
	v.SetDefault("scraper.format", string(extract.FormatText))
	v.SetDefault("scraper.respect_robots", false)
	v.SetDefault("scraper.blocked_domains", []string{})
	v.SetDefault("queue.workers", 1)
	v.SetDefault("queue.depth", 256)
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoff_initial", 2*time.Second)
	v.SetDefault("queue.job_timeout", 10*time.Minute)
	v.SetDefault("queue.keep_completed", 100)
	v.SetDefault("queue.keep_failed", 200)
	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_prefix", "scraper:")
	v.SetDefault("cache.ttl", time.Duration(0))
	v.SetDefault("cache.purge_interval", time.Minute)
	v.SetDefault("archive.backend", ArchiveMemory)
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "results")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "scrape_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout", 45*time.Second)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("politeness.rps", 0.0)
	v.SetDefault("politeness.burst", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	check(c.Server.Port > 0, "server.port must be > 0")
	check(c.Server.RequestTimeout > 0, "server.request_timeout must be > 0")
	check(!c.Auth.Enabled || c.Auth.APIKey != "", "auth.api_key must be set when auth is enabled")

	check(c.Scraper.Concurrency > 0, "scraper.concurrency must be > 0")
	check(c.Scraper.SitemapConcurrency > 0, "scraper.sitemap_concurrency must be > 0")
	check(c.Scraper.MaxPages > 0, "scraper.max_pages must be > 0")
	check(c.Scraper.BatchSize > 0, "scraper.batch_size must be > 0")
	check(c.Scraper.ProgressEvery > 0, "scraper.progress_every must be > 0")
	check(c.Scraper.RequestTimeout > 0, "scraper.request_timeout must be > 0")
	check(c.Scraper.SitemapTimeout > 0, "scraper.sitemap_timeout must be > 0")
	check(c.Scraper.MaxRedirects > 0, "scraper.max_redirects must be > 0")
	if _, err := extract.New(extract.Format(c.Scraper.Format)); err != nil {
		errs = append(errs, fmt.Errorf("scraper.format: %w", err))
	}

	check(c.Queue.Workers > 0, "queue.workers must be > 0")
	check(c.Queue.Depth > 0, "queue.depth must be > 0")
	check(c.Queue.Attempts > 0, "queue.attempts must be > 0")
	check(c.Queue.BackoffInitial >= 0, "queue.backoff_initial must be >= 0")
	check(c.Queue.JobTimeout > 0, "queue.job_timeout must be > 0")
	check(c.Queue.KeepCompleted >= 0 && c.Queue.KeepFailed >= 0, "queue.keep_completed and queue.keep_failed must be >= 0")

	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		check(c.Store.RedisAddr != "", "store.redis_addr is required for the redis backend")
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of memory, redis", c.Store.Backend))
	}

	check(c.Cache.TTL >= 0, "cache.ttl must be >= 0")

	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		check(c.Archive.LocalDir != "", "archive.local_dir is required for the local backend")
	case ArchiveGCS:
		check(c.Archive.GCSBucket != "", "archive.gcs_bucket is required for the gcs backend")
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q is not one of none, memory, local, gcs", c.Archive.Backend))
	}

	check(c.PubSub.TopicName == "" || c.PubSub.ProjectID != "", "pubsub.project_id is required when pubsub.topic_name is set")
	check(!c.Headless.Enabled || c.Headless.MaxParallel >= 0, "headless.max_parallel must be >= 0")
	check(c.Politeness.RPS >= 0, "politeness.rps must be >= 0")

	return errors.Join(errs...)
}

// Crawler converts the scraper section into orchestrator settings.
func (c Config) Crawler() crawler.Config {
	return crawler.Config{
		Concurrency:   c.Scraper.Concurrency,
		ProgressEvery: c.Scraper.ProgressEvery,
		Sitemap: crawler.SitemapConfig{
			Concurrency: c.Scraper.SitemapConcurrency,
			Timeout:     c.Scraper.SitemapTimeout,
		},
		Recursive: crawler.RecursiveConfig{
			MaxPages:  c.Scraper.MaxPages,
			BatchSize: c.Scraper.BatchSize,
		},
	}
}

// Retention converts the queue history limits for job stores.
func (c Config) Retention() crawler.Retention {
	return crawler.Retention{
		KeepCompleted: c.Queue.KeepCompleted,
		KeepFailed:    c.Queue.KeepFailed,
	}
}
