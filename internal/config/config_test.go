package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.Equal(t, "kestrel.db", cfg.Database.Path)
	require.True(t, cfg.Database.WALMode)
	require.True(t, cfg.Database.ForeignKeys)
	require.Equal(t, 1, cfg.Database.MaxOpenConns)

	require.True(t, cfg.Scheduler.Enabled)
	require.Equal(t, time.Minute, cfg.Scheduler.TickInterval)
	require.Equal(t, 10*time.Second, cfg.Scheduler.SchedulingMargin)

	require.Equal(t, 4, cfg.Workers.Count)
	require.Equal(t, 64, cfg.Workers.QueueSize)

	require.Equal(t, 2*time.Minute, cfg.Alerts.QueryTimeout)
	require.Equal(t, 5*time.Minute, cfg.Renderer.ScreenshotTimeout)
	require.Equal(t, 30*time.Second, cfg.Notifications.SendTimeout)
	require.Equal(t, 587, cfg.Notifications.Email.Port)

	require.Equal(t, "filesystem", cfg.Archive.Backend)
	require.Equal(t, 30*24*time.Hour, cfg.Archive.Retention)

	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "console", cfg.Logging.Format)

	require.NoError(t, Validate(cfg))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kestrel.yaml")

	content := `
database:
  path: /var/lib/kestrel/kestrel.db
scheduler:
  tick_interval: 30s
workers:
  count: 8
notifications:
  dry_run: true
  link_base_url: https://bi.example.com
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	require.Equal(t, "/var/lib/kestrel/kestrel.db", cfg.Database.Path)
	require.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
	require.Equal(t, 8, cfg.Workers.Count)
	require.True(t, cfg.Notifications.DryRun)
	require.Equal(t, "https://bi.example.com", cfg.Notifications.LinkBaseURL)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)

	// Untouched keys keep their defaults.
	require.Equal(t, 64, cfg.Workers.QueueSize)
	require.True(t, cfg.Database.ForeignKeys)
}

func TestLoadFromFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kestrel.yaml")

	content := `
workers:
  count: 0
logging:
  level: loud
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadFromFile(path)
	require.Error(t, err)

	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)
	require.Contains(t, err.Error(), "workers.count")
	require.Contains(t, err.Error(), "logging.level")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("KESTREL_DATABASE_PATH", "/tmp/env-override.db")
	t.Setenv("KESTREL_LOGGING_LEVEL", "warn")

	dir := t.TempDir()
	path := filepath.Join(dir, "kestrel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	require.Equal(t, "/tmp/env-override.db", cfg.Database.Path)
	// Environment wins over the file.
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{ConfigFile: ""})
	require.NoError(t, err)
	require.Equal(t, Default().Workers.Count, cfg.Workers.Count)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "empty database path",
			mutate: func(c *Config) { c.Database.Path = "" },
			field:  "database.path",
		},
		{
			name:   "tick interval too small",
			mutate: func(c *Config) { c.Scheduler.TickInterval = 100 * time.Millisecond },
			field:  "scheduler.tick_interval",
		},
		{
			name:   "negative scheduling margin",
			mutate: func(c *Config) { c.Scheduler.SchedulingMargin = -time.Second },
			field:  "scheduler.scheduling_margin",
		},
		{
			name:   "zero workers",
			mutate: func(c *Config) { c.Workers.Count = 0 },
			field:  "workers.count",
		},
		{
			name: "smtp host without from address",
			mutate: func(c *Config) {
				c.Notifications.Email.Host = "smtp.example.com"
				c.Notifications.Email.From = ""
			},
			field: "notifications.email.from",
		},
		{
			name: "smtp port out of range",
			mutate: func(c *Config) {
				c.Notifications.Email.Host = "smtp.example.com"
				c.Notifications.Email.From = "reports@example.com"
				c.Notifications.Email.Port = 70000
			},
			field: "notifications.email.port",
		},
		{
			name: "unknown archive backend",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Backend = "tape"
			},
			field: "archive.backend",
		},
		{
			name: "filesystem archive without path",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Path = ""
			},
			field: "archive.path",
		},
		{
			name: "s3 archive without bucket",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Backend = "s3"
				c.Archive.S3.Region = "us-east-1"
			},
			field: "archive.s3.bucket",
		},
		{
			name: "unknown compression",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Compression = "lzma"
			},
			field: "archive.compression",
		},
		{
			name:   "unknown log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			field:  "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)

			var errs ValidationErrors
			require.ErrorAs(t, err, &errs)

			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			require.True(t, found, "expected a validation error on %s, got %v", tt.field, errs)
		})
	}
}

func TestValidateArchiveDisabledSkipsBackendChecks(t *testing.T) {
	cfg := Default()
	cfg.Archive.Enabled = false
	cfg.Archive.Backend = "tape"
	cfg.Archive.Path = ""

	require.NoError(t, Validate(cfg))
}

func TestValidationErrorsFormat(t *testing.T) {
	errs := ValidationErrors{
		{Field: "workers.count", Message: "must be at least 1"},
		{Field: "logging.level", Message: `unknown level "loud"`},
	}

	msg := errs.Error()
	require.Contains(t, msg, "configuration validation failed")
	require.Contains(t, msg, "  - workers.count: must be at least 1")
	require.Contains(t, msg, `  - logging.level: unknown level "loud"`)

	require.Empty(t, ValidationErrors{}.Error())
}
