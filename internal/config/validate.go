package config

import (
	"fmt"
	"strings"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateWorkers(&cfg.Workers)...)
	errs = append(errs, validateNotifications(&cfg.Notifications)...)
	errs = append(errs, validateArchive(&cfg.Archive)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "must not be empty",
		})
	}

	if cfg.MaxOpenConns < 1 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateScheduler(cfg *SchedulerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.TickInterval < time.Second {
		errs = append(errs, ValidationError{
			Field:   "scheduler.tick_interval",
			Message: "must be at least 1s",
		})
	}

	if cfg.SchedulingMargin < 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.scheduling_margin",
			Message: "must be non-negative",
		})
	}

	if cfg.PruneTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.prune_timeout",
			Message: "must be positive",
		})
	}

	return errs
}

func validateWorkers(cfg *WorkersConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Count < 1 {
		errs = append(errs, ValidationError{
			Field:   "workers.count",
			Message: "must be at least 1",
		})
	}

	if cfg.QueueSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "workers.queue_size",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateNotifications(cfg *NotificationsConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Email.Host != "" && (cfg.Email.Port < 1 || cfg.Email.Port > 65535) {
		errs = append(errs, ValidationError{
			Field:   "notifications.email.port",
			Message: "must be between 1 and 65535",
		})
	}

	if cfg.Email.Host != "" && cfg.Email.From == "" {
		errs = append(errs, ValidationError{
			Field:   "notifications.email.from",
			Message: "required when an SMTP host is configured",
		})
	}

	return errs
}

func validateArchive(cfg *ArchiveConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	switch cfg.Backend {
	case "filesystem":
		if cfg.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "archive.path",
				Message: "required for the filesystem backend",
			})
		}
	case "s3":
		if cfg.S3.Bucket == "" {
			errs = append(errs, ValidationError{
				Field:   "archive.s3.bucket",
				Message: "required for the s3 backend",
			})
		}
		if cfg.S3.Region == "" {
			errs = append(errs, ValidationError{
				Field:   "archive.s3.region",
				Message: "required for the s3 backend",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "archive.backend",
			Message: fmt.Sprintf("unknown backend %q", cfg.Backend),
		})
	}

	switch cfg.Compression {
	case "", "gzip", "zstd":
	default:
		errs = append(errs, ValidationError{
			Field:   "archive.compression",
			Message: fmt.Sprintf("unknown compression %q", cfg.Compression),
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Level {
	case "debug", "info", "warn", "error", "":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", cfg.Level),
		})
	}

	switch cfg.Format {
	case "json", "console", "":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q", cfg.Format),
		})
	}

	return errs
}
