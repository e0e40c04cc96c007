// Package executions persists the append-only execution log of report runs.
package executions

import (
	"time"

	"github.com/kestrelhq/kestrel/internal/reports"
)

// Log is one row of a schedule's execution history. Rows are appended once
// per state transition and never mutated, only pruned by age.
type Log struct {
	ID            string
	ScheduleID    string
	ExecutionID   string
	ScheduledDttm time.Time
	StartDttm     time.Time
	EndDttm       *time.Time
	State         reports.State
	ErrorMessage  *string
	Value         *float64
	ValueRowJSON  *string
}
