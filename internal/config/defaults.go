package config

import "time"

// Default configuration values.
const (
	// Database defaults.
	DefaultDBPath       = "kestrel.db"
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Scheduler defaults.
	DefaultTickInterval     = time.Minute
	DefaultSchedulingMargin = 10 * time.Second
	DefaultPruneInterval    = time.Hour
	DefaultPruneTimeout     = 5 * time.Minute

	// Worker defaults.
	DefaultWorkerCount = 4
	DefaultQueueSize   = 64

	// Alert defaults.
	DefaultQueryTimeout = 2 * time.Minute

	// Renderer defaults.
	DefaultScreenshotTimeout = 5 * time.Minute
	DefaultDataTimeout       = 2 * time.Minute
	DefaultAuthTokenTTL      = 5 * time.Minute

	// Notification defaults.
	DefaultSendTimeout = 30 * time.Second
	DefaultSMTPPort    = 587

	// Archive defaults.
	DefaultArchiveBackend   = "filesystem"
	DefaultArchivePath      = "artifacts"
	DefaultArchiveRetention = 30 * 24 * time.Hour

	// Metrics defaults.
	DefaultMetricsAddress = "localhost:9108"

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         DefaultDBPath,
			WALMode:      true,
			BusyTimeout:  DefaultBusyTimeout,
			ForeignKeys:  true,
			MaxOpenConns: DefaultMaxOpenConns,
			MaxIdleConns: DefaultMaxIdleConns,
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			TickInterval:     DefaultTickInterval,
			HardTimeouts:     true,
			SchedulingMargin: DefaultSchedulingMargin,
			PruneInterval:    DefaultPruneInterval,
			PruneTimeout:     DefaultPruneTimeout,
		},
		Workers: WorkersConfig{
			Count:     DefaultWorkerCount,
			QueueSize: DefaultQueueSize,
		},
		Alerts: AlertsConfig{
			QueryTimeout: DefaultQueryTimeout,
		},
		Renderer: RendererConfig{
			AuthTokenTTL:      DefaultAuthTokenTTL,
			ScreenshotTimeout: DefaultScreenshotTimeout,
			DataTimeout:       DefaultDataTimeout,
		},
		Notifications: NotificationsConfig{
			SendTimeout: DefaultSendTimeout,
			Email: EmailConfig{
				Port: DefaultSMTPPort,
			},
		},
		Archive: ArchiveConfig{
			Backend:   DefaultArchiveBackend,
			Path:      DefaultArchivePath,
			Retention: DefaultArchiveRetention,
		},
		Metrics: MetricsConfig{
			Address: DefaultMetricsAddress,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
