// Package config provides configuration management for Kestrel.
package config

import (
	"time"
)

// Config is the root configuration structure for Kestrel.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Workers       WorkersConfig       `mapstructure:"workers"`
	Alerts        AlertsConfig        `mapstructure:"alerts"`
	Renderer      RendererConfig      `mapstructure:"renderer"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// DatabaseConfig holds settings for the engine's own SQLite database.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys (required for recipient/log cascades)
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`
}

// SchedulerConfig holds settings for the tick loop.
type SchedulerConfig struct {
	// Enable the whole scheduling subsystem. When false the loop still
	// ticks but dispatches nothing.
	Enabled bool `mapstructure:"enabled"`

	// Tick interval; the match window is (now-interval, now].
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// Enforce hard per-run deadlines on dispatched tasks.
	HardTimeouts bool `mapstructure:"hard_timeouts"`

	// Margin added on top of a schedule's working timeout to absorb
	// queueing delay before the hard deadline fires.
	SchedulingMargin time.Duration `mapstructure:"scheduling_margin"`

	// How often the log pruner runs.
	PruneInterval time.Duration `mapstructure:"prune_interval"`

	// Wall-clock budget for one pruning pass.
	PruneTimeout time.Duration `mapstructure:"prune_timeout"`
}

// WorkersConfig holds settings for the execution pool.
type WorkersConfig struct {
	// Number of concurrent execution workers
	Count int `mapstructure:"count"`

	// Pending task queue capacity
	QueueSize int `mapstructure:"queue_size"`
}

// AlertsConfig holds settings for alert SQL evaluation.
type AlertsConfig struct {
	// Soft time limit for the validation query round-trip
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// RendererConfig holds settings for the external artifact renderer service.
type RendererConfig struct {
	// Base URL of the renderer service
	BaseURL string `mapstructure:"base_url"`

	// Shared secret for machine-auth tokens
	AuthSecret string `mapstructure:"auth_secret"`

	// Lifetime of a machine-auth token
	AuthTokenTTL time.Duration `mapstructure:"auth_token_ttl"`

	// Soft time limit for a screenshot capture
	ScreenshotTimeout time.Duration `mapstructure:"screenshot_timeout"`

	// Soft time limit for CSV / tabular data materialization
	DataTimeout time.Duration `mapstructure:"data_timeout"`
}

// NotificationsConfig holds delivery channel settings.
type NotificationsConfig struct {
	// Log notifications instead of sending them
	DryRun bool `mapstructure:"dry_run"`

	// Soft time limit for one delivery call
	SendTimeout time.Duration `mapstructure:"send_timeout"`

	// User-facing base URL for links back to charts and dashboards
	LinkBaseURL string `mapstructure:"link_base_url"`

	Email EmailConfig `mapstructure:"email"`
	Slack SlackConfig `mapstructure:"slack"`
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// From address on outgoing mail
	From string `mapstructure:"from"`

	// Addresses blind-copied on every report
	Bcc []string `mapstructure:"bcc"`
}

// SlackConfig holds chat webhook settings.
type SlackConfig struct {
	// Incoming webhook URL
	WebhookURL string `mapstructure:"webhook_url"`
}

// ArchiveConfig holds artifact archival settings.
type ArchiveConfig struct {
	// Enable archival of produced artifacts
	Enabled bool `mapstructure:"enabled"`

	// Backend type: "filesystem" or "s3"
	Backend string `mapstructure:"backend"`

	// Base path for the filesystem backend
	Path string `mapstructure:"path"`

	// Compression: "" (none), "gzip", or "zstd"
	Compression string `mapstructure:"compression"`

	// Artifacts older than this are swept
	Retention time.Duration `mapstructure:"retention"`

	S3 S3Config `mapstructure:"s3"`
}

// S3Config holds S3 backend settings.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// MetricsConfig holds the Prometheus listener settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`
}
