// Package reports defines the report schedule domain model and its store.
package reports

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ScheduleKind distinguishes alerts from plain reports.
type ScheduleKind string

const (
	// KindAlert evaluates a SQL condition and only notifies when it is met.
	KindAlert ScheduleKind = "alert"
	// KindReport always produces and sends an artifact on each fire.
	KindReport ScheduleKind = "report"
)

// State is the execution state persisted on a schedule and its logs.
type State string

const (
	StateNoop    State = "noop"
	StateWorking State = "working"
	StateSuccess State = "success"
	StateError   State = "error"
	StateGrace   State = "grace"
)

// Format selects the artifact produced for a run.
type Format string

const (
	FormatPNG  Format = "png"
	FormatCSV  Format = "csv"
	FormatText Format = "text"
)

// RecipientType selects the delivery channel.
type RecipientType string

const (
	RecipientEmail RecipientType = "email"
	RecipientSlack RecipientType = "slack"
)

// ValidatorType selects the alert condition rule.
type ValidatorType string

const (
	ValidatorNotNull  ValidatorType = "not_null"
	ValidatorOperator ValidatorType = "operator"
)

// ValidatorConfig is the JSON-encoded operator rule configuration.
type ValidatorConfig struct {
	Op        string  `json:"op"`
	Threshold float64 `json:"threshold"`
}

// Schedule is a persisted recurring alert or report definition.
type Schedule struct {
	ID       string
	Name     string
	Kind     ScheduleKind
	Crontab  string
	Timezone string

	// Target: at most one of chart or dashboard.
	ChartID     *string
	DashboardID *string

	// Alert-only bindings.
	DatabaseURI         *string
	SQL                 *string
	ValidatorType       ValidatorType
	ValidatorConfigJSON *string

	Format          Format
	ForceScreenshot bool

	// Operational knobs. GracePeriod/WorkingTimeout are seconds,
	// LogRetention is days.
	GracePeriod    *int
	WorkingTimeout int
	LogRetention   int

	Active bool

	// Mutable run state, written only by the execution command.
	LastEvalDttm     *time.Time
	LastState        State
	LastValue        *float64
	LastValueRowJSON *string

	Recipients []Recipient

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recipient is a delivery target owned by exactly one schedule.
type Recipient struct {
	ID         string
	ScheduleID string
	Type       RecipientType
	ConfigJSON string
	CreatedAt  time.Time
}

// RecipientConfig is the per-channel recipient configuration.
type RecipientConfig struct {
	// Target is the email address or chat channel.
	Target string `json:"target"`
}

// Config decodes the recipient's channel configuration.
func (r *Recipient) Config() (RecipientConfig, error) {
	var cfg RecipientConfig
	if err := json.Unmarshal([]byte(r.ConfigJSON), &cfg); err != nil {
		return cfg, fmt.Errorf("decoding recipient config: %w", err)
	}
	return cfg, nil
}

var (
	ErrAmbiguousTarget  = errors.New("schedule has both a chart and a dashboard target")
	ErrMissingDatabase  = errors.New("alert schedule has no bound data source")
	ErrMissingSQL       = errors.New("alert schedule has no SQL statement")
	ErrUnexpectedFields = errors.New("report schedule has validator fields set")
)

// CheckRunnable defensively rejects malformed schedules before execution.
// Malformed schedules should never reach the engine, but a direct database
// edit can produce one.
func (s *Schedule) CheckRunnable() error {
	if s.ChartID != nil && s.DashboardID != nil {
		return ErrAmbiguousTarget
	}
	switch s.Kind {
	case KindAlert:
		if s.DatabaseURI == nil || *s.DatabaseURI == "" {
			return ErrMissingDatabase
		}
		if s.SQL == nil || *s.SQL == "" {
			return ErrMissingSQL
		}
	case KindReport:
		if s.ValidatorType != "" || s.ValidatorConfigJSON != nil {
			return ErrUnexpectedFields
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// WorkingTimeoutDuration returns the working timeout as a duration.
func (s *Schedule) WorkingTimeoutDuration() time.Duration {
	return time.Duration(s.WorkingTimeout) * time.Second
}

// GracePeriodDuration returns the grace period and whether one is set.
func (s *Schedule) GracePeriodDuration() (time.Duration, bool) {
	if s.GracePeriod == nil {
		return 0, false
	}
	return time.Duration(*s.GracePeriod) * time.Second, true
}

// Location resolves the schedule's IANA timezone.
func (s *Schedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}
