package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type LoadOptions struct {
	ConfigFile string
	EnvPrefix  string
	Defaults   *Config
}

func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "KESTREL"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("kestrel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/kestrel")
		v.AddConfigPath("/etc/kestrel")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func LoadFromFile(path string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: path})
}

func LoadWithDefaults() (*Config, error) {
	return Load(LoadOptions{})
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.wal_mode", cfg.Database.WALMode)
	v.SetDefault("database.busy_timeout", cfg.Database.BusyTimeout)
	v.SetDefault("database.foreign_keys", cfg.Database.ForeignKeys)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)

	v.SetDefault("scheduler.enabled", cfg.Scheduler.Enabled)
	v.SetDefault("scheduler.tick_interval", cfg.Scheduler.TickInterval)
	v.SetDefault("scheduler.hard_timeouts", cfg.Scheduler.HardTimeouts)
	v.SetDefault("scheduler.scheduling_margin", cfg.Scheduler.SchedulingMargin)
	v.SetDefault("scheduler.prune_interval", cfg.Scheduler.PruneInterval)
	v.SetDefault("scheduler.prune_timeout", cfg.Scheduler.PruneTimeout)

	v.SetDefault("workers.count", cfg.Workers.Count)
	v.SetDefault("workers.queue_size", cfg.Workers.QueueSize)

	v.SetDefault("alerts.query_timeout", cfg.Alerts.QueryTimeout)

	v.SetDefault("renderer.base_url", cfg.Renderer.BaseURL)
	v.SetDefault("renderer.auth_token_ttl", cfg.Renderer.AuthTokenTTL)
	v.SetDefault("renderer.screenshot_timeout", cfg.Renderer.ScreenshotTimeout)
	v.SetDefault("renderer.data_timeout", cfg.Renderer.DataTimeout)

	v.SetDefault("notifications.dry_run", cfg.Notifications.DryRun)
	v.SetDefault("notifications.send_timeout", cfg.Notifications.SendTimeout)
	v.SetDefault("notifications.link_base_url", cfg.Notifications.LinkBaseURL)
	v.SetDefault("notifications.email.host", cfg.Notifications.Email.Host)
	v.SetDefault("notifications.email.port", cfg.Notifications.Email.Port)
	v.SetDefault("notifications.email.from", cfg.Notifications.Email.From)
	v.SetDefault("notifications.email.bcc", cfg.Notifications.Email.Bcc)
	v.SetDefault("notifications.slack.webhook_url", cfg.Notifications.Slack.WebhookURL)

	v.SetDefault("archive.enabled", cfg.Archive.Enabled)
	v.SetDefault("archive.backend", cfg.Archive.Backend)
	v.SetDefault("archive.path", cfg.Archive.Path)
	v.SetDefault("archive.compression", cfg.Archive.Compression)
	v.SetDefault("archive.retention", cfg.Archive.Retention)
	v.SetDefault("archive.s3.region", cfg.Archive.S3.Region)
	v.SetDefault("archive.s3.bucket", cfg.Archive.S3.Bucket)
	v.SetDefault("archive.s3.endpoint", cfg.Archive.S3.Endpoint)
	v.SetDefault("archive.s3.force_path_style", cfg.Archive.S3.ForcePathStyle)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.address", cfg.Metrics.Address)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}
