package queue

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"
)

// LocalDispatcher runs jobs on a fixed-size in-process worker pool. Jobs
// are lost on shutdown; the recovery sweeper re-dispatches them.
type LocalDispatcher struct {
	runner Runner
	logger *slog.Logger

	mu      sync.RWMutex
	stopped bool
	tasks   chan uuid.UUID
	wg      sync.WaitGroup
	once    sync.Once
}

// NewLocalDispatcher starts size workers reading from a queue of the given
// buffer length. Non-positive size means GOMAXPROCS workers; non-positive
// buffer means twice the worker count.
func NewLocalDispatcher(runner Runner, size, buffer int, logger *slog.Logger) *LocalDispatcher {
	if size <= 0 {
		size = max(runtime.GOMAXPROCS(0), 1)
	}
	if buffer <= 0 {
		buffer = size * 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &LocalDispatcher{
		runner: runner,
		logger: logger,
		tasks:  make(chan uuid.UUID, buffer),
	}
	d.wg.Add(size)
	for i := 0; i < size; i++ {
		go d.worker()
	}
	return d
}

func (d *LocalDispatcher) worker() {
	defer d.wg.Done()
	for id := range d.tasks {
		if err := d.runner.RunJob(context.Background(), id); err != nil {
			d.logger.Error("report job run failed", "job_id", id, "error", err)
		}
	}
}

// Dispatch enqueues without blocking and returns ErrQueueFull when the
// buffer is exhausted.
func (d *LocalDispatcher) Dispatch(_ context.Context, id uuid.UUID) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.tasks <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects new jobs and waits for queued ones to finish.
func (d *LocalDispatcher) Stop() {
	d.once.Do(func() {
		d.mu.Lock()
		d.stopped = true
		close(d.tasks)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

var _ Dispatcher = (*LocalDispatcher)(nil)
