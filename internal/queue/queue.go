// Package queue hands report jobs from the API to the pipeline workers.
package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("job queue is stopped")
)

// Runner executes one report job. The pipeline orchestrator satisfies it.
type Runner interface {
	RunJob(ctx context.Context, id uuid.UUID) error
}

// Dispatcher schedules a job for asynchronous execution. Dispatch returns
// once the job is handed off; it never waits for the job to run.
type Dispatcher interface {
	Dispatch(ctx context.Context, id uuid.UUID) error
}
