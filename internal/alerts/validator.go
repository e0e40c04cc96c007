// Package alerts evaluates alert schedule conditions against their bound
// data sources.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kestrelhq/kestrel/internal/reports"
)

// Hard safety cap on rows fetched per validation query, independent of any
// LIMIT already present in the statement.
const maxQueryRows = 10

var (
	// ErrMultipleRows is returned when the validation query yields more
	// than one row.
	ErrMultipleRows = errors.New("alert query returned more than one row")

	// ErrMultipleColumns is returned when the validation query yields more
	// than one column.
	ErrMultipleColumns = errors.New("alert query returned more than one column")

	// ErrInvalidType is returned when the observed cell cannot be coerced
	// to a number.
	ErrInvalidType = errors.New("alert query returned a non-numeric value")

	// ErrValidatorConfig is returned for malformed operator configuration.
	ErrValidatorConfig = errors.New("invalid alert validator configuration")

	// ErrQueryTimeout is returned when the validation query exceeds its
	// soft time limit.
	ErrQueryTimeout = errors.New("timeout executing the alert query")
)

// QueryError wraps a data-source failure during validation.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("alert query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Observation is the outcome of evaluating an alert condition.
type Observation struct {
	// Met reports whether the alert condition triggered.
	Met bool

	// Value is the observed cell, when one was coercible.
	Value *float64

	// RowJSON is the raw result row encoded as JSON, empty for an empty
	// result set.
	RowJSON string
}

// Validator evaluates alert schedule conditions.
type Validator struct {
	connector    Connector
	queryTimeout time.Duration
}

// NewValidator creates a validator using the given connector. A zero
// queryTimeout disables the soft limit; the hard deadline on the run
// context still applies.
func NewValidator(connector Connector, queryTimeout time.Duration) *Validator {
	return &Validator{
		connector:    connector,
		queryTimeout: queryTimeout,
	}
}

// Evaluate runs the schedule's SQL and applies its validation rule. Every
// failure mode maps to a distinct named error so callers can attribute
// accurate messages to logs and notifications.
func (v *Validator) Evaluate(ctx context.Context, schedule *reports.Schedule) (*Observation, error) {
	if schedule.DatabaseURI == nil || schedule.SQL == nil {
		return nil, reports.ErrMissingDatabase
	}

	if v.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.queryTimeout)
		defer cancel()
	}

	result, err := v.connector.Query(ctx, *schedule.DatabaseURI, *schedule.SQL, maxQueryRows)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrQueryTimeout
		}
		return nil, &QueryError{Err: err}
	}

	if len(result.Rows) > 1 {
		return nil, ErrMultipleRows
	}
	if len(result.Columns) > 1 {
		return nil, ErrMultipleColumns
	}

	// An empty result set means the condition was not met, not an error.
	if len(result.Rows) == 0 {
		log.Debug().
			Str("schedule_id", schedule.ID).
			Msg("Alert query returned no rows")
		return &Observation{Met: false}, nil
	}

	cell := result.Rows[0][0]

	rowJSON, err := encodeRow(result.Columns[0], cell)
	if err != nil {
		return nil, fmt.Errorf("encoding result row: %w", err)
	}

	obs := &Observation{RowJSON: rowJSON}

	switch schedule.ValidatorType {
	case reports.ValidatorNotNull:
		obs.Met = notNullMet(cell)
		if value, ok := coerceFloat(cell); ok {
			obs.Value = &value
		}
		return obs, nil

	case reports.ValidatorOperator:
		cfg, err := decodeValidatorConfig(schedule.ValidatorConfigJSON)
		if err != nil {
			return nil, err
		}

		value, ok := coerceFloat(cell)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrInvalidType, cell)
		}

		met, err := compare(cfg.Op, value, cfg.Threshold)
		if err != nil {
			return nil, err
		}

		obs.Met = met
		obs.Value = &value
		return obs, nil

	default:
		return nil, fmt.Errorf("%w: unknown validator type %q", ErrValidatorConfig, schedule.ValidatorType)
	}
}

// notNullMet applies the not-null rule. A cell equal to zero is treated the
// same as NULL, matching the long-standing observed behavior.
func notNullMet(cell any) bool {
	if cell == nil {
		return false
	}
	if value, ok := coerceFloat(cell); ok {
		if math.IsNaN(value) || value == 0 {
			return false
		}
	}
	return true
}

func decodeValidatorConfig(raw *string) (*reports.ValidatorConfig, error) {
	if raw == nil || *raw == "" {
		return nil, fmt.Errorf("%w: missing operator config", ErrValidatorConfig)
	}

	var cfg reports.ValidatorConfig
	if err := json.Unmarshal([]byte(*raw), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidatorConfig, err)
	}
	if cfg.Op == "" {
		return nil, fmt.Errorf("%w: missing operator", ErrValidatorConfig)
	}

	return &cfg, nil
}

func compare(op string, value, threshold float64) (bool, error) {
	switch op {
	case ">":
		return value > threshold, nil
	case ">=":
		return value >= threshold, nil
	case "<":
		return value < threshold, nil
	case "<=":
		return value <= threshold, nil
	case "==":
		return value == threshold, nil
	case "!=":
		return value != threshold, nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrValidatorConfig, op)
	}
}

func coerceFloat(cell any) (float64, bool) {
	switch v := cell.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func encodeRow(column string, cell any) (string, error) {
	data, err := json.Marshal(map[string]any{column: cell})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
