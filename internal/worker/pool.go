// Package worker provides the asynchronous execution backend: a bounded
// pool of goroutines that run dispatched report executions under their hard
// deadlines.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kestrelhq/kestrel/internal/metrics"
	"github.com/kestrelhq/kestrel/internal/scheduler"
)

// ErrQueueFull is returned when a task cannot be accepted.
var ErrQueueFull = errors.New("execution queue is full")

// ErrStopped is returned when the pool is shutting down.
var ErrStopped = errors.New("worker pool is stopped")

// RunFunc executes one dispatched task.
type RunFunc func(ctx context.Context, task scheduler.Task) error

// Pool is a fixed-size worker pool consuming scheduler tasks.
type Pool struct {
	run     RunFunc
	queue   chan scheduler.Task
	count   int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped sync.Once
	closed  chan struct{}
}

// NewPool creates a pool of count workers with the given queue capacity.
func NewPool(count, queueSize int, run RunFunc) *Pool {
	if count < 1 {
		count = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		run:    run,
		queue:  make(chan scheduler.Task, queueSize),
		count:  count,
		ctx:    ctx,
		cancel: cancel,
		closed: make(chan struct{}),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	log.Info().
		Int("workers", p.count).
		Int("queue_size", cap(p.queue)).
		Msg("Worker pool started")
}

// Stop shuts the pool down. Running tasks see their context cancelled and
// queued tasks that have not started are dropped. Stop returns once every
// worker has exited.
func (p *Pool) Stop() {
	p.stopped.Do(func() {
		close(p.closed)
		p.cancel()
	})
	p.wg.Wait()
	log.Info().Msg("Worker pool stopped")
}

// Submit enqueues a task. It never blocks; a full queue is a submission
// error surfaced to the scheduler.
func (p *Pool) Submit(task scheduler.Task) error {
	select {
	case <-p.closed:
		return ErrStopped
	default:
	}

	select {
	case p.queue <- task:
		metrics.SetQueueDepth(len(p.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.queue:
			metrics.SetQueueDepth(len(p.queue))
			p.process(task)
		}
	}
}

func (p *Pool) process(task scheduler.Task) {
	ctx := p.ctx
	if !task.HardDeadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, task.HardDeadline)
		defer cancel()
	}

	if err := p.run(ctx, task); err != nil {
		log.Error().
			Err(err).
			Str("schedule_id", task.ScheduleID).
			Time("triggered_at", task.TriggeredAt).
			Msg("Execution finished with error")
	}
}
