package executions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kestrelhq/kestrel/internal/metrics"
	"github.com/kestrelhq/kestrel/internal/reports"
)

// ErrPruneTimeout is returned when a pruning pass exceeds its budget. The
// pass fails loudly rather than silently truncating the batch.
var ErrPruneTimeout = errors.New("log pruning timed out")

// Pruner periodically deletes execution logs older than each schedule's
// retention window.
type Pruner struct {
	schedules *reports.Store
	logs      *Store
	interval  time.Duration
	timeout   time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPruner creates a new log pruner.
func NewPruner(schedules *reports.Store, logs *Store, interval, timeout time.Duration) *Pruner {
	if interval == 0 {
		interval = time.Hour
	}
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pruner{
		schedules: schedules,
		logs:      logs,
		interval:  interval,
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the background pruning loop.
func (p *Pruner) Start() {
	p.wg.Add(1)
	go p.loop()

	log.Info().
		Dur("interval", p.interval).
		Dur("timeout", p.timeout).
		Msg("Execution log pruner started")
}

// Stop gracefully shuts down the pruner.
func (p *Pruner) Stop() {
	p.cancel()
	p.wg.Wait()
	log.Info().Msg("Execution log pruner stopped")
}

func (p *Pruner) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			deleted, err := p.RunOnce(p.ctx)
			if err != nil {
				log.Error().Err(err).Msg("Execution log pruning failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Pruned execution logs")
			}
		}
	}
}

// RunOnce prunes logs for every schedule under the pruner's time budget.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	schedules, err := p.schedules.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing schedules: %w", err)
	}

	now := time.Now().UTC()

	var total int64
	for _, schedule := range schedules {
		if schedule.LogRetention <= 0 {
			continue
		}

		cutoff := now.AddDate(0, 0, -schedule.LogRetention)

		deleted, err := p.logs.DeleteOlderThan(ctx, schedule.ID, cutoff)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return total, fmt.Errorf("%w after %d deletions", ErrPruneTimeout, total)
			}
			return total, fmt.Errorf("pruning logs for %s: %w", schedule.ID, err)
		}

		total += deleted
	}

	metrics.RecordLogsPruned(total)

	return total, nil
}
