package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/kiranshivaraju/scoutreport/internal/config"
)

const TaskTypeGenerateReport = "report:generate"

const taskRetention = 24 * time.Hour

type generateReportPayload struct {
	ReportID uuid.UUID `json:"report_id"`
}

func NewGenerateReportTask(id uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(generateReportPayload{ReportID: id})
	if err != nil {
		return nil, fmt.Errorf("marshal task payload: %w", err)
	}
	return asynq.NewTask(TaskTypeGenerateReport, data), nil
}

// Enqueuer is the subset of *asynq.Client used for dispatch.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqDispatcher enqueues jobs in redis through asynq. Tasks survive
// restarts and are retried when the pipeline returns an error.
type AsynqDispatcher struct {
	client   Enqueuer
	queue    string
	maxRetry int
}

func NewAsynqDispatcher(client Enqueuer, cfg config.QueueConfig) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, queue: cfg.Name, maxRetry: cfg.MaxRetry}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, id uuid.UUID) error {
	task, err := NewGenerateReportTask(id)
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue(d.queue),
		asynq.MaxRetry(d.maxRetry),
		asynq.Retention(taskRetention),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Worker adapts a Runner to an asynq handler.
type Worker struct {
	runner Runner
	logger *slog.Logger
}

func NewWorker(runner Runner, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{runner: runner, logger: logger}
}

// ProcessTask runs the job named in the payload. A malformed payload is
// never retried.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p generateReportPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		w.logger.Error("discarding malformed report task", "error", err)
		return fmt.Errorf("unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.ReportID == uuid.Nil {
		return fmt.Errorf("task payload has no report id: %w", asynq.SkipRetry)
	}
	return w.runner.RunJob(ctx, p.ReportID)
}

// NewServeMux routes report tasks to w.
func NewServeMux(w *Worker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeGenerateReport, w.ProcessTask)
	return mux
}

// NewClient builds an asynq client from a redis URL.
func NewClient(redisURL string) (*asynq.Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return asynq.NewClient(opt), nil
}

// NewServer builds the asynq worker server for the configured queue.
func NewServer(redisURL string, cfg config.QueueConfig, logLevel string) (*asynq.Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Name: 1},
		LogLevel:    asynqLogLevel(logLevel),
	}), nil
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

var _ Dispatcher = (*AsynqDispatcher)(nil)
