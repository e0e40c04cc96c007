package executions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelhq/kestrel/internal/database"
	"github.com/kestrelhq/kestrel/internal/reports"
)

const logColumns = `id, report_schedule_id, execution_id, scheduled_dttm,
	start_dttm, end_dttm, state, error_message, value, value_row_json`

// Store handles database operations for execution logs.
type Store struct {
	db *database.DB
}

// NewStore creates a new execution log store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create appends an execution log row.
func (s *Store) Create(ctx context.Context, log *Log) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}

	query := `
		INSERT INTO report_execution_log (` + logColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var endDttm sql.NullString
	if log.EndDttm != nil {
		endDttm = sql.NullString{String: log.EndDttm.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		log.ID,
		log.ScheduleID,
		log.ExecutionID,
		log.ScheduledDttm.UTC().Format(time.RFC3339),
		log.StartDttm.UTC().Format(time.RFC3339),
		endDttm,
		string(log.State),
		log.ErrorMessage,
		log.Value,
		log.ValueRowJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting execution log: %w", err)
	}

	return nil
}

// List retrieves a schedule's logs, newest first.
func (s *Store) List(ctx context.Context, scheduleID string, limit, offset int) ([]*Log, error) {
	query := `
		SELECT ` + logColumns + `
		FROM report_execution_log
		WHERE report_schedule_id = ?
		ORDER BY start_dttm DESC, rowid DESC
	`
	args := []any{scheduleID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying execution logs: %w", err)
	}
	defer rows.Close()

	var logs []*Log
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution logs: %w", err)
	}

	return logs, nil
}

// FindLastByState retrieves a schedule's most recent log in the given state,
// or nil when none exists. The executor uses this with the error state to
// find the last failure for which owners were actually notified (grace rows
// are suppressed failures and do not count).
func (s *Store) FindLastByState(ctx context.Context, scheduleID string, state reports.State) (*Log, error) {
	query := `
		SELECT ` + logColumns + `
		FROM report_execution_log
		WHERE report_schedule_id = ? AND state = ?
		ORDER BY start_dttm DESC, rowid DESC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query, scheduleID, string(state))

	log, err := scanLog(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return log, nil
}

// CountByState returns how many log rows a schedule has per state.
func (s *Store) CountByState(ctx context.Context, scheduleID string) (map[reports.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state, COUNT(*)
		FROM report_execution_log
		WHERE report_schedule_id = ?
		GROUP BY state
	`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("counting execution logs: %w", err)
	}
	defer rows.Close()

	counts := make(map[reports.State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scanning log count: %w", err)
		}
		counts[reports.State(state)] = count
	}

	return counts, rows.Err()
}

// CloseStale finalizes the working row of a stuck attempt as an error. The
// row is keyed on its start timestamp so completed attempts' historical
// working rows are left alone. Used by the timeout self-heal before a fresh
// attempt appends its own rows.
func (s *Store) CloseStale(ctx context.Context, scheduleID string, staleSince time.Time, message string, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE report_execution_log
		SET state = ?, error_message = ?, end_dttm = ?
		WHERE report_schedule_id = ? AND state = ? AND start_dttm = ?
	`,
		string(reports.StateError),
		message,
		now.UTC().Format(time.RFC3339),
		scheduleID,
		string(reports.StateWorking),
		staleSince.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("closing stale execution logs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows, nil
}

// DeleteOlderThan bulk-deletes a schedule's logs started before the cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, scheduleID string, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM report_execution_log
		WHERE report_schedule_id = ? AND start_dttm < ?
	`, scheduleID, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting old execution logs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (*Log, error) {
	var log Log
	var scheduledStr, startStr string
	var endDttm, errorMessage, valueRow sql.NullString
	var state string
	var value sql.NullFloat64

	err := row.Scan(
		&log.ID,
		&log.ScheduleID,
		&log.ExecutionID,
		&scheduledStr,
		&startStr,
		&endDttm,
		&state,
		&errorMessage,
		&value,
		&valueRow,
	)
	if err != nil {
		return nil, err
	}

	log.State = reports.State(state)

	scheduledAt, parseErr := time.Parse(time.RFC3339, scheduledStr)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing scheduled_dttm: %w", parseErr)
	}
	log.ScheduledDttm = scheduledAt

	startedAt, parseErr := time.Parse(time.RFC3339, startStr)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing start_dttm: %w", parseErr)
	}
	log.StartDttm = startedAt

	if endDttm.Valid {
		t, parseErr := time.Parse(time.RFC3339, endDttm.String)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing end_dttm: %w", parseErr)
		}
		log.EndDttm = &t
	}
	if errorMessage.Valid {
		log.ErrorMessage = &errorMessage.String
	}
	if value.Valid {
		log.Value = &value.Float64
	}
	if valueRow.Valid {
		log.ValueRowJSON = &valueRow.String
	}

	return &log, nil
}
