package reports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelhq/kestrel/internal/database"
)

// ErrNotFound is returned when a schedule does not exist.
var ErrNotFound = errors.New("schedule not found")

const scheduleColumns = `id, name, kind, crontab, timezone, chart_id, dashboard_id,
	database_uri, sql, validator_type, validator_config_json, report_format,
	force_screenshot, grace_period, working_timeout, log_retention, active,
	last_eval_dttm, last_state, last_value, last_value_row_json, created_at, updated_at`

// Store handles database operations for schedules and recipients.
type Store struct {
	db *database.DB
}

// NewStore creates a new schedule store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a schedule and its recipients.
func (s *Store) Create(ctx context.Context, schedule *Schedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	if schedule.UpdatedAt.IsZero() {
		schedule.UpdatedAt = now
	}
	if schedule.Timezone == "" {
		schedule.Timezone = "UTC"
	}
	if schedule.Format == "" {
		schedule.Format = FormatPNG
	}

	return s.db.Transaction(ctx, func(tx *database.Tx) error {
		query := `
			INSERT INTO report_schedule (` + scheduleColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		if _, err := tx.ExecContext(ctx, query,
			schedule.ID,
			schedule.Name,
			string(schedule.Kind),
			schedule.Crontab,
			schedule.Timezone,
			schedule.ChartID,
			schedule.DashboardID,
			schedule.DatabaseURI,
			schedule.SQL,
			nullableString(string(schedule.ValidatorType)),
			schedule.ValidatorConfigJSON,
			string(schedule.Format),
			boolToInt(schedule.ForceScreenshot),
			schedule.GracePeriod,
			schedule.WorkingTimeout,
			schedule.LogRetention,
			boolToInt(schedule.Active),
			formatTimePtr(schedule.LastEvalDttm),
			nullableString(string(schedule.LastState)),
			schedule.LastValue,
			schedule.LastValueRowJSON,
			schedule.CreatedAt.Format(time.RFC3339),
			schedule.UpdatedAt.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("inserting schedule: %w", err)
		}

		for i := range schedule.Recipients {
			r := &schedule.Recipients[i]
			if r.ID == "" {
				r.ID = uuid.New().String()
			}
			if r.CreatedAt.IsZero() {
				r.CreatedAt = now
			}
			r.ScheduleID = schedule.ID

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO report_recipient (id, report_schedule_id, type, config_json, created_at)
				VALUES (?, ?, ?, ?, ?)
			`, r.ID, r.ScheduleID, string(r.Type), r.ConfigJSON, r.CreatedAt.Format(time.RFC3339)); err != nil {
				return fmt.Errorf("inserting recipient: %w", err)
			}
		}

		return nil
	})
}

// Update rewrites a schedule's definition. Run state columns are untouched;
// use the state methods for those.
func (s *Store) Update(ctx context.Context, schedule *Schedule) error {
	schedule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE report_schedule
		SET name = ?, kind = ?, crontab = ?, timezone = ?, chart_id = ?,
		    dashboard_id = ?, database_uri = ?, sql = ?, validator_type = ?,
		    validator_config_json = ?, report_format = ?, force_screenshot = ?,
		    grace_period = ?, working_timeout = ?, log_retention = ?, active = ?,
		    updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		schedule.Name,
		string(schedule.Kind),
		schedule.Crontab,
		schedule.Timezone,
		schedule.ChartID,
		schedule.DashboardID,
		schedule.DatabaseURI,
		schedule.SQL,
		nullableString(string(schedule.ValidatorType)),
		schedule.ValidatorConfigJSON,
		string(schedule.Format),
		boolToInt(schedule.ForceScreenshot),
		schedule.GracePeriod,
		schedule.WorkingTimeout,
		schedule.LogRetention,
		boolToInt(schedule.Active),
		schedule.UpdatedAt.Format(time.RFC3339),
		schedule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, schedule.ID)
	}

	return nil
}

// Delete removes a schedule; recipients and logs cascade.
func (s *Store) Delete(ctx context.Context, scheduleID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM report_schedule WHERE id = ?`, scheduleID)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	return nil
}

// Get retrieves a schedule and its recipients by ID.
func (s *Store) Get(ctx context.Context, scheduleID string) (*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM report_schedule WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, scheduleID)

	schedule, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, scheduleID)
		}
		return nil, fmt.Errorf("getting schedule: %w", err)
	}

	if err := s.loadRecipients(ctx, schedule); err != nil {
		return nil, err
	}

	return schedule, nil
}

// List retrieves all schedules, without recipients.
func (s *Store) List(ctx context.Context) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM report_schedule ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// ListActive retrieves all active schedules, without recipients.
func (s *Store) ListActive(ctx context.Context) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM report_schedule WHERE active = 1 ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying active schedules: %w", err)
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// ClaimWorking atomically transitions a schedule to the working state,
// clearing the previous observation. Returns false when another run already
// holds the working lease.
func (s *Store) ClaimWorking(ctx context.Context, scheduleID string, now time.Time) (bool, error) {
	query := `
		UPDATE report_schedule
		SET last_state = ?, last_eval_dttm = ?, last_value = NULL,
		    last_value_row_json = NULL, updated_at = ?
		WHERE id = ? AND (last_state IS NULL OR last_state != ?)
	`

	ts := now.UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, query,
		string(StateWorking), ts, ts, scheduleID, string(StateWorking))
	if err != nil {
		return false, fmt.Errorf("claiming working lease: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows == 1, nil
}

// ReclaimStale takes over a working lease whose evaluation timestamp has not
// moved since it was observed. Used for the stale-lock self-heal so two
// healers cannot both win.
func (s *Store) ReclaimStale(ctx context.Context, scheduleID string, seenEval, now time.Time) (bool, error) {
	query := `
		UPDATE report_schedule
		SET last_state = ?, last_eval_dttm = ?, last_value = NULL,
		    last_value_row_json = NULL, updated_at = ?
		WHERE id = ? AND last_state = ? AND last_eval_dttm = ?
	`

	ts := now.UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, query,
		string(StateWorking), ts, ts,
		scheduleID, string(StateWorking), seenEval.UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("reclaiming stale lease: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows == 1, nil
}

// UpdateState persists a terminal (or grace) state transition.
func (s *Store) UpdateState(ctx context.Context, scheduleID string, state State, now time.Time) error {
	ts := now.UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		UPDATE report_schedule
		SET last_state = ?, last_eval_dttm = ?, updated_at = ?
		WHERE id = ?
	`, string(state), ts, ts, scheduleID)
	if err != nil {
		return fmt.Errorf("updating schedule state: %w", err)
	}

	return nil
}

// UpdateObservation persists the alert validator's observed value.
func (s *Store) UpdateObservation(ctx context.Context, scheduleID string, value *float64, rowJSON *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE report_schedule
		SET last_value = ?, last_value_row_json = ?, updated_at = ?
		WHERE id = ?
	`, value, rowJSON, database.Now(), scheduleID)
	if err != nil {
		return fmt.Errorf("updating observation: %w", err)
	}

	return nil
}

func (s *Store) loadRecipients(ctx context.Context, schedule *Schedule) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_schedule_id, type, config_json, created_at
		FROM report_recipient
		WHERE report_schedule_id = ?
		ORDER BY created_at ASC
	`, schedule.ID)
	if err != nil {
		return fmt.Errorf("querying recipients: %w", err)
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		var r Recipient
		var recipientType, createdAt string

		if err := rows.Scan(&r.ID, &r.ScheduleID, &recipientType, &r.ConfigJSON, &createdAt); err != nil {
			return fmt.Errorf("scanning recipient: %w", err)
		}

		r.Type = RecipientType(recipientType)
		if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
			r.CreatedAt = t
		}

		recipients = append(recipients, r)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating recipients: %w", err)
	}

	schedule.Recipients = recipients
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var schedule Schedule
	var kind, format string
	var chartID, dashboardID, databaseURI, sqlText sql.NullString
	var validatorType, validatorConfig sql.NullString
	var gracePeriod sql.NullInt64
	var forceScreenshot, active int
	var lastEval, lastState, lastValueRow sql.NullString
	var lastValue sql.NullFloat64
	var createdAt, updatedAt string

	err := row.Scan(
		&schedule.ID,
		&schedule.Name,
		&kind,
		&schedule.Crontab,
		&schedule.Timezone,
		&chartID,
		&dashboardID,
		&databaseURI,
		&sqlText,
		&validatorType,
		&validatorConfig,
		&format,
		&forceScreenshot,
		&gracePeriod,
		&schedule.WorkingTimeout,
		&schedule.LogRetention,
		&active,
		&lastEval,
		&lastState,
		&lastValue,
		&lastValueRow,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	schedule.Kind = ScheduleKind(kind)
	schedule.Format = Format(format)
	schedule.ForceScreenshot = forceScreenshot == 1
	schedule.Active = active == 1

	if chartID.Valid {
		schedule.ChartID = &chartID.String
	}
	if dashboardID.Valid {
		schedule.DashboardID = &dashboardID.String
	}
	if databaseURI.Valid {
		schedule.DatabaseURI = &databaseURI.String
	}
	if sqlText.Valid {
		schedule.SQL = &sqlText.String
	}
	if validatorType.Valid {
		schedule.ValidatorType = ValidatorType(validatorType.String)
	}
	if validatorConfig.Valid {
		schedule.ValidatorConfigJSON = &validatorConfig.String
	}
	if gracePeriod.Valid {
		gp := int(gracePeriod.Int64)
		schedule.GracePeriod = &gp
	}
	if lastEval.Valid {
		t, parseErr := time.Parse(time.RFC3339, lastEval.String)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing last_eval_dttm: %w", parseErr)
		}
		schedule.LastEvalDttm = &t
	}
	if lastState.Valid {
		schedule.LastState = State(lastState.String)
	}
	if lastValue.Valid {
		schedule.LastValue = &lastValue.Float64
	}
	if lastValueRow.Valid {
		schedule.LastValueRowJSON = &lastValueRow.String
	}

	createdAtTime, parseErr := time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	schedule.CreatedAt = createdAtTime

	updatedAtTime, parseErr := time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}
	schedule.UpdatedAt = updatedAtTime

	return &schedule, nil
}

func scanSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var schedules []*Schedule

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule row: %w", err)
		}
		schedules = append(schedules, schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedule rows: %w", err)
	}

	return schedules, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
