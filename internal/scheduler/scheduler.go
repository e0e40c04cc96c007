// Package scheduler matches report schedules against the clock and
// dispatches due executions to the worker pool.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kestrelhq/kestrel/internal/config"
	"github.com/kestrelhq/kestrel/internal/metrics"
	"github.com/kestrelhq/kestrel/internal/reports"
)

// Task is one dispatched execution: a schedule and the fire instant that
// triggered it.
type Task struct {
	ScheduleID  string
	TriggeredAt time.Time

	// HardDeadline is zero when hard timeout enforcement is disabled.
	HardDeadline time.Time
}

// Backend accepts execution tasks for asynchronous processing.
type Backend interface {
	Submit(task Task) error
}

// Scheduler is the periodic tick loop. It only matches and dispatches; it
// never executes a schedule inline and never writes schedule state.
type Scheduler struct {
	store   *reports.Store
	backend Backend
	matcher *CronMatcher
	cfg     config.SchedulerConfig

	ticks  atomic.Int64
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup
}

// New creates a scheduler over the given store and execution backend.
func New(store *reports.Store, backend Backend, cfg config.SchedulerConfig) *Scheduler {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = config.DefaultTickInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:   store,
		backend: backend,
		matcher: NewCronMatcher(),
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the background tick loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.tickLoop()

	log.Info().
		Dur("tick_interval", s.cfg.TickInterval).
		Bool("enabled", s.cfg.Enabled).
		Msg("Scheduler started")
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

// Ticks returns how many times the loop has ticked, including no-op ticks
// while the subsystem is disabled.
func (s *Scheduler) Ticks() int64 {
	return s.ticks.Load()
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.Tick(s.ctx, now.UTC()); err != nil {
				log.Error().Err(err).Msg("Scheduler tick failed")
			}
		}
	}
}

// Tick evaluates one scheduling window (now-tick, now] and submits an
// execution task for every active schedule that fires within it. A
// submission failure for one schedule does not block the others.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	s.ticks.Add(1)
	metrics.RecordTick()

	if !s.cfg.Enabled {
		return nil
	}

	windowStart := now.Add(-s.cfg.TickInterval)

	schedules, err := s.store.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, schedule := range schedules {
		instants, err := s.matcher.FireInstants(schedule.Crontab, schedule.Timezone, windowStart, now)
		if err != nil {
			log.Error().
				Err(err).
				Str("schedule_id", schedule.ID).
				Str("schedule_name", schedule.Name).
				Msg("Failed to match schedule crontab")
			continue
		}

		for _, triggeredAt := range instants {
			s.dispatch(schedule, triggeredAt, now)
		}
	}

	return nil
}

func (s *Scheduler) dispatch(schedule *reports.Schedule, triggeredAt, now time.Time) {
	task := Task{
		ScheduleID:  schedule.ID,
		TriggeredAt: triggeredAt,
	}

	if s.cfg.HardTimeouts {
		task.HardDeadline = now.Add(schedule.WorkingTimeoutDuration() + s.cfg.SchedulingMargin)
	}

	if err := s.backend.Submit(task); err != nil {
		metrics.RecordDispatchFailure()
		log.Error().
			Err(err).
			Str("schedule_id", schedule.ID).
			Str("schedule_name", schedule.Name).
			Time("triggered_at", triggeredAt).
			Msg("Failed to submit execution")
		return
	}

	metrics.RecordDispatch()
	log.Debug().
		Str("schedule_id", schedule.ID).
		Str("schedule_name", schedule.Name).
		Time("triggered_at", triggeredAt).
		Msg("Execution dispatched")
}
