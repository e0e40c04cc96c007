package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/kestrel/internal/scheduler"
)

func TestPoolProcessesTasks(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	done := make(chan struct{}, 3)

	pool := NewPool(2, 8, func(ctx context.Context, task scheduler.Task) error {
		mu.Lock()
		seen[task.ScheduleID] = true
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	pool.Start()
	defer pool.Stop()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, pool.Submit(scheduler.Task{ScheduleID: id, TriggeredAt: time.Now()}))
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for tasks")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
}

func TestPoolQueueFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)

	pool := NewPool(1, 1, func(ctx context.Context, task scheduler.Task) error {
		started <- struct{}{}
		<-block
		return nil
	})
	pool.Start()
	defer func() {
		close(block)
		pool.Stop()
	}()

	// First task occupies the worker, second fills the queue.
	require.NoError(t, pool.Submit(scheduler.Task{ScheduleID: "running"}))
	<-started
	require.NoError(t, pool.Submit(scheduler.Task{ScheduleID: "queued"}))

	err := pool.Submit(scheduler.Task{ScheduleID: "rejected"})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestPoolStopCancelsRunningTask(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan error, 1)

	pool := NewPool(1, 1, func(ctx context.Context, task scheduler.Task) error {
		close(started)
		<-ctx.Done()
		cancelled <- ctx.Err()
		return ctx.Err()
	})
	pool.Start()

	require.NoError(t, pool.Submit(scheduler.Task{ScheduleID: "long-running"}))
	<-started

	// Stop does not wait for the task to finish on its own; it cancels the
	// task's context and returns once the worker exits.
	pool.Stop()

	select {
	case err := <-cancelled:
		require.ErrorIs(t, err, context.Canceled)
	default:
		t.Fatal("running task was not cancelled by Stop")
	}
}

func TestPoolSubmitAfterStop(t *testing.T) {
	pool := NewPool(1, 1, func(ctx context.Context, task scheduler.Task) error {
		return nil
	})
	pool.Start()
	pool.Stop()

	err := pool.Submit(scheduler.Task{ScheduleID: "late"})
	require.ErrorIs(t, err, ErrStopped)
}

func TestPoolHardDeadline(t *testing.T) {
	deadlines := make(chan time.Time, 1)

	pool := NewPool(1, 1, func(ctx context.Context, task scheduler.Task) error {
		dl, ok := ctx.Deadline()
		require.True(t, ok)
		deadlines <- dl
		return nil
	})
	pool.Start()
	defer pool.Stop()

	want := time.Now().Add(time.Minute)
	require.NoError(t, pool.Submit(scheduler.Task{ScheduleID: "a", HardDeadline: want}))

	select {
	case got := <-deadlines:
		require.WithinDuration(t, want, got, time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the task")
	}
}

func TestPoolNoDeadlineWithoutHardTimeout(t *testing.T) {
	hasDeadline := make(chan bool, 1)

	pool := NewPool(1, 1, func(ctx context.Context, task scheduler.Task) error {
		_, ok := ctx.Deadline()
		hasDeadline <- ok
		return nil
	})
	pool.Start()
	defer pool.Stop()

	require.NoError(t, pool.Submit(scheduler.Task{ScheduleID: "a"}))

	select {
	case ok := <-hasDeadline:
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the task")
	}
}
