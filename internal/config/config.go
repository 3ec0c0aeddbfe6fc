// Package config loads the gateway configuration from GRID_* environment
// variables, an optional config file and command line flags.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/sdko-org/gridgate/internal/database"
	"github.com/sdko-org/gridgate/internal/storage"
)

const EnvPrefix = "GRID"

type Config struct {
	Addr            string
	TLSAddr         string
	ShutdownTimeout time.Duration

	WorkerPoolSize  int
	WorkerQueueSize int

	RateLimitEnabled        bool
	RateLimitPerIPPerMinute int
	RateLimitConcurrentJobs int
	RateLimitDailyTotal     int
	SyncRateLimitPerMinute  int
	TrustProxyHeaders       bool

	JobMaxAge time.Duration
	MaxJobs   int

	CacheMaxEntries int
	CacheTTL        time.Duration

	GeometryURL     string
	GeometryTimeout time.Duration

	LogLevel  logrus.Level
	LogFormat string

	// Postgres is nil when no host is configured.
	Postgres *database.PostgresConfig
	// S3 is nil when no bucket is configured.
	S3       *storage.S3Config
	S3Prefix string
}

// NewViper returns a viper instance reading GRID_* variables with every
// default registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("tls_addr", "")
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.SetDefault("worker_pool_size", 2)
	v.SetDefault("worker_queue_size", 64)

	v.SetDefault("rate_limit_enabled", runtime.GOOS != "darwin")
	v.SetDefault("rate_limit_per_ip_per_minute", 10)
	v.SetDefault("rate_limit_concurrent_jobs", 4)
	v.SetDefault("rate_limit_daily_total", 500)
	v.SetDefault("sync_rate_limit", 60)
	v.SetDefault("trust_proxy_headers", false)

	v.SetDefault("job_max_age_seconds", 3600)
	v.SetDefault("max_jobs", 200)

	v.SetDefault("cache_max_entries", 100)
	v.SetDefault("cache_ttl", time.Hour)

	v.SetDefault("geometry_url", "")
	v.SetDefault("geometry_timeout", time.Duration(0))

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("postgres_host", "")
	v.SetDefault("postgres_port", "5432")
	v.SetDefault("postgres_user", "gridgate")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_database", "gridgate")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("s3_bucket", "")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_access_key", "")
	v.SetDefault("s3_secret_key", "")
	v.SetDefault("s3_prefix", "jobs")
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	level, err := logrus.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return nil, fmt.Errorf("invalid log_level: %w", err)
	}

	cfg := &Config{
		Addr:            v.GetString("addr"),
		TLSAddr:         v.GetString("tls_addr"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),

		WorkerPoolSize:  v.GetInt("worker_pool_size"),
		WorkerQueueSize: v.GetInt("worker_queue_size"),

		RateLimitEnabled:        v.GetBool("rate_limit_enabled"),
		RateLimitPerIPPerMinute: v.GetInt("rate_limit_per_ip_per_minute"),
		RateLimitConcurrentJobs: v.GetInt("rate_limit_concurrent_jobs"),
		RateLimitDailyTotal:     v.GetInt("rate_limit_daily_total"),
		SyncRateLimitPerMinute:  v.GetInt("sync_rate_limit"),
		TrustProxyHeaders:       v.GetBool("trust_proxy_headers"),

		JobMaxAge: time.Duration(v.GetInt("job_max_age_seconds")) * time.Second,
		MaxJobs:   v.GetInt("max_jobs"),

		CacheMaxEntries: v.GetInt("cache_max_entries"),
		CacheTTL:        v.GetDuration("cache_ttl"),

		GeometryURL:     v.GetString("geometry_url"),
		GeometryTimeout: v.GetDuration("geometry_timeout"),

		LogLevel:  level,
		LogFormat: strings.ToLower(v.GetString("log_format")),

		S3Prefix: v.GetString("s3_prefix"),
	}

	if host := v.GetString("postgres_host"); host != "" {
		cfg.Postgres = &database.PostgresConfig{
			Host:     host,
			Port:     v.GetString("postgres_port"),
			User:     v.GetString("postgres_user"),
			Password: v.GetString("postgres_password"),
			DBName:   v.GetString("postgres_database"),
			SSLMode:  v.GetString("postgres_ssl_mode"),
		}
	}
	if bucket := v.GetString("s3_bucket"); bucket != "" {
		cfg.S3 = &storage.S3Config{
			Bucket:    bucket,
			Region:    v.GetString("s3_region"),
			Endpoint:  v.GetString("s3_endpoint"),
			AccessKey: v.GetString("s3_access_key"),
			SecretKey: v.GetString("s3_secret_key"),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	positive := []struct {
		key string
		val int
	}{
		{"worker_pool_size", c.WorkerPoolSize},
		{"worker_queue_size", c.WorkerQueueSize},
		{"rate_limit_per_ip_per_minute", c.RateLimitPerIPPerMinute},
		{"rate_limit_concurrent_jobs", c.RateLimitConcurrentJobs},
		{"rate_limit_daily_total", c.RateLimitDailyTotal},
		{"job_max_age_seconds", int(c.JobMaxAge / time.Second)},
		{"max_jobs", c.MaxJobs},
		{"cache_max_entries", c.CacheMaxEntries},
	}
	for _, p := range positive {
		if p.val < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", p.key, p.val)
		}
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %s", c.CacheTTL)
	}
	if c.SyncRateLimitPerMinute < 0 {
		return fmt.Errorf("sync_rate_limit must not be negative, got %d", c.SyncRateLimitPerMinute)
	}
	if c.GeometryTimeout < 0 {
		return fmt.Errorf("geometry_timeout must not be negative, got %s", c.GeometryTimeout)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// NewLogger builds the process logger from the configured level and format.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
