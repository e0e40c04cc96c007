// Package executor runs one scheduled report or alert attempt end to end,
// driving the persisted state machine on the schedule row and its
// execution log.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kestrelhq/kestrel/internal/alerts"
	"github.com/kestrelhq/kestrel/internal/archive"
	"github.com/kestrelhq/kestrel/internal/artifacts"
	"github.com/kestrelhq/kestrel/internal/executions"
	"github.com/kestrelhq/kestrel/internal/metrics"
	"github.com/kestrelhq/kestrel/internal/notifications"
	"github.com/kestrelhq/kestrel/internal/renderer"
	"github.com/kestrelhq/kestrel/internal/reports"
)

// ErrPreviousWorking is returned when a run is already in flight for the
// schedule and its working timeout has not elapsed. No log row is appended;
// the in-flight run's working row already records the attempt.
var ErrPreviousWorking = errors.New("report schedule is still working, refusing to re-compute")

const workingTimeoutMessage = "working timeout"

// Command executes one schedule attempt. Safe for concurrent use across
// schedules; per-schedule exclusion comes from the working lease on the
// schedule row.
type Command struct {
	schedules   *reports.Store
	logs        *executions.Store
	validator   *alerts.Validator
	renderer    renderer.Service
	dispatcher  *notifications.Dispatcher
	archive     *archive.Service
	linkBaseURL string

	now func() time.Time
}

// NewCommand wires an executor. The archive service may be nil when
// archival is disabled.
func NewCommand(
	schedules *reports.Store,
	logs *executions.Store,
	validator *alerts.Validator,
	rendererSvc renderer.Service,
	dispatcher *notifications.Dispatcher,
	archiveSvc *archive.Service,
	linkBaseURL string,
) *Command {
	return &Command{
		schedules:   schedules,
		logs:        logs,
		validator:   validator,
		renderer:    rendererSvc,
		dispatcher:  dispatcher,
		archive:     archiveSvc,
		linkBaseURL: linkBaseURL,
		now:         time.Now,
	}
}

// Run executes the schedule once for the given trigger instant.
//
// The attempt appends a working log row at start and one terminal row
// (noop, success, error or grace) at finish, both sharing an execution id.
// Errors are persisted to the log and returned to the caller so the worker
// can record task-level failure.
func (c *Command) Run(ctx context.Context, scheduleID string, triggeredAt time.Time) error {
	schedule, err := c.schedules.Get(ctx, scheduleID)
	if err != nil {
		return fmt.Errorf("loading schedule %s: %w", scheduleID, err)
	}

	if err := schedule.CheckRunnable(); err != nil {
		return fmt.Errorf("schedule %s is not runnable: %w", scheduleID, err)
	}

	prevState := schedule.LastState
	now := c.now().UTC()

	claimed, err := c.schedules.ClaimWorking(ctx, schedule.ID, now)
	if err != nil {
		return err
	}
	if !claimed {
		if schedule.LastEvalDttm == nil || now.Sub(*schedule.LastEvalDttm) <= schedule.WorkingTimeoutDuration() {
			return ErrPreviousWorking
		}

		// Stale lock. Take over the lease keyed on the evaluation
		// timestamp we observed so only one healer wins, then close the
		// stuck run's working row as an error.
		reclaimed, err := c.schedules.ReclaimStale(ctx, schedule.ID, *schedule.LastEvalDttm, now)
		if err != nil {
			return err
		}
		if !reclaimed {
			return ErrPreviousWorking
		}

		if _, err := c.logs.CloseStale(ctx, schedule.ID, *schedule.LastEvalDttm, workingTimeoutMessage, now); err != nil {
			return err
		}

		log.Warn().
			Str("schedule_id", schedule.ID).
			Time("stale_since", *schedule.LastEvalDttm).
			Msg("Closed stale working run, starting fresh attempt")

		prevState = reports.StateError
	}

	executionID := uuid.New().String()

	workingLog := &executions.Log{
		ScheduleID:    schedule.ID,
		ExecutionID:   executionID,
		ScheduledDttm: triggeredAt,
		StartDttm:     now,
		State:         reports.StateWorking,
	}
	if err := c.logs.Create(ctx, workingLog); err != nil {
		return fmt.Errorf("appending working log: %w", err)
	}

	log.Info().
		Str("schedule_id", schedule.ID).
		Str("execution_id", executionID).
		Str("kind", string(schedule.Kind)).
		Time("triggered_at", triggeredAt).
		Msg("Execution started")

	var observation *alerts.Observation

	if schedule.Kind == reports.KindAlert {
		observation, err = c.validator.Evaluate(ctx, schedule)
		if err != nil {
			return c.finalizeError(ctx, schedule, executionID, triggeredAt, now, prevState, err)
		}

		if !observation.Met {
			return c.finalizeNoop(ctx, schedule, executionID, triggeredAt, now, observation)
		}
	}

	if err := c.produceAndDeliver(ctx, schedule, executionID); err != nil {
		return c.finalizeError(ctx, schedule, executionID, triggeredAt, now, prevState, err)
	}

	return c.finalizeSuccess(ctx, schedule, executionID, triggeredAt, now, observation)
}

func (c *Command) produceAndDeliver(ctx context.Context, schedule *reports.Schedule, executionID string) error {
	producer, err := artifacts.For(schedule, c.renderer)
	if err != nil {
		return err
	}

	artifact, err := producer.Produce(ctx, schedule)
	if err != nil {
		return err
	}

	if c.archive != nil {
		// Archival is supplemental; a failed write must not fail the run.
		if err := c.archive.Store(ctx, schedule.ID, executionID, artifact); err != nil {
			log.Warn().
				Err(err).
				Str("schedule_id", schedule.ID).
				Msg("Artifact archival failed")
		}
	}

	content := notifications.FromArtifact(schedule.Name, "", c.linkURL(schedule), artifact)

	return c.dispatcher.SendAll(ctx, schedule.Recipients, content)
}

func (c *Command) finalizeNoop(ctx context.Context, schedule *reports.Schedule, executionID string, triggeredAt, start time.Time, observation *alerts.Observation) error {
	end := c.now().UTC()

	if err := c.schedules.UpdateState(ctx, schedule.ID, reports.StateNoop, end); err != nil {
		return err
	}

	entry := &executions.Log{
		ScheduleID:    schedule.ID,
		ExecutionID:   executionID,
		ScheduledDttm: triggeredAt,
		StartDttm:     start,
		EndDttm:       &end,
		State:         reports.StateNoop,
		Value:         observation.Value,
		ValueRowJSON:  rowJSONPtr(observation),
	}
	if err := c.logs.Create(ctx, entry); err != nil {
		return err
	}

	metrics.RecordExecution(string(reports.StateNoop), end.Sub(start))

	log.Info().
		Str("schedule_id", schedule.ID).
		Str("execution_id", executionID).
		Msg("Alert condition not met")

	return nil
}

func (c *Command) finalizeSuccess(ctx context.Context, schedule *reports.Schedule, executionID string, triggeredAt, start time.Time, observation *alerts.Observation) error {
	end := c.now().UTC()

	var value *float64
	var rowJSON *string
	if observation != nil {
		value = observation.Value
		rowJSON = rowJSONPtr(observation)
		if err := c.schedules.UpdateObservation(ctx, schedule.ID, value, rowJSON); err != nil {
			return err
		}
	}

	if err := c.schedules.UpdateState(ctx, schedule.ID, reports.StateSuccess, end); err != nil {
		return err
	}

	entry := &executions.Log{
		ScheduleID:    schedule.ID,
		ExecutionID:   executionID,
		ScheduledDttm: triggeredAt,
		StartDttm:     start,
		EndDttm:       &end,
		State:         reports.StateSuccess,
		Value:         value,
		ValueRowJSON:  rowJSON,
	}
	if err := c.logs.Create(ctx, entry); err != nil {
		return err
	}

	metrics.RecordExecution(string(reports.StateSuccess), end.Sub(start))

	log.Info().
		Str("schedule_id", schedule.ID).
		Str("execution_id", executionID).
		Dur("duration", end.Sub(start)).
		Msg("Execution succeeded")

	return nil
}

// finalizeError applies the grace-period policy, persists the terminal
// state and log row, notifies recipients when the failure is not
// suppressed, and returns the original error to the caller.
func (c *Command) finalizeError(ctx context.Context, schedule *reports.Schedule, executionID string, triggeredAt, start time.Time, prevState reports.State, runErr error) error {
	end := c.now().UTC()

	notify, err := c.shouldNotifyFailure(ctx, schedule, prevState, end)
	if err != nil {
		log.Error().
			Err(err).
			Str("schedule_id", schedule.ID).
			Msg("Grace-period lookup failed, notifying")
		notify = true
	}

	state := reports.StateGrace
	if notify {
		state = reports.StateError
	}

	if notify {
		name := fmt.Sprintf("Error occurred for %s: %s", schedule.Kind, schedule.Name)
		content := notifications.ForError(name, runErr.Error())
		if sendErr := c.dispatcher.SendAll(ctx, schedule.Recipients, content); sendErr != nil {
			log.Error().
				Err(sendErr).
				Str("schedule_id", schedule.ID).
				Msg("Failure notice delivery failed")
		}
	}

	if err := c.schedules.UpdateState(ctx, schedule.ID, state, end); err != nil {
		log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Persisting error state failed")
	}

	message := runErr.Error()
	entry := &executions.Log{
		ScheduleID:    schedule.ID,
		ExecutionID:   executionID,
		ScheduledDttm: triggeredAt,
		StartDttm:     start,
		EndDttm:       &end,
		State:         state,
		ErrorMessage:  &message,
	}
	if err := c.logs.Create(ctx, entry); err != nil {
		log.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Appending error log failed")
	}

	metrics.RecordExecution(string(state), end.Sub(start))

	log.Error().
		Err(runErr).
		Str("schedule_id", schedule.ID).
		Str("execution_id", executionID).
		Str("state", string(state)).
		Bool("notified", notify).
		Msg("Execution failed")

	return runErr
}

// shouldNotifyFailure decides whether this failure is past the grace
// window. A success or noop resets the streak, so the first failure after
// one always notifies. Within a streak the clock runs from the most recent
// error log row; grace rows are suppressed failures and do not reset it.
func (c *Command) shouldNotifyFailure(ctx context.Context, schedule *reports.Schedule, prevState reports.State, now time.Time) (bool, error) {
	if prevState != reports.StateError && prevState != reports.StateGrace {
		return true, nil
	}

	grace, ok := schedule.GracePeriodDuration()
	if !ok {
		return true, nil
	}

	lastError, err := c.logs.FindLastByState(ctx, schedule.ID, reports.StateError)
	if err != nil {
		return true, err
	}
	if lastError == nil {
		return true, nil
	}

	reference := lastError.StartDttm
	if lastError.EndDttm != nil {
		reference = *lastError.EndDttm
	}

	return now.Sub(reference) >= grace, nil
}

func (c *Command) linkURL(schedule *reports.Schedule) string {
	if c.linkBaseURL == "" {
		return ""
	}

	base := strings.TrimRight(c.linkBaseURL, "/")
	switch {
	case schedule.ChartID != nil:
		return fmt.Sprintf("%s/chart/%s", base, *schedule.ChartID)
	case schedule.DashboardID != nil:
		return fmt.Sprintf("%s/dashboard/%s", base, *schedule.DashboardID)
	default:
		return ""
	}
}

func rowJSONPtr(observation *alerts.Observation) *string {
	if observation == nil || observation.RowJSON == "" {
		return nil
	}
	row := observation.RowJSON
	return &row
}
