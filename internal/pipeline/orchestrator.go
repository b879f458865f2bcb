// Package pipeline runs report jobs through metadata lookup, analysis and
// rendering, and records the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kiranshivaraju/scoutreport/internal/events"
	"github.com/kiranshivaraju/scoutreport/internal/store"
	"github.com/kiranshivaraju/scoutreport/internal/video"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

const instrumentationName = "github.com/kiranshivaraju/scoutreport/internal/pipeline"

// Orchestrator drives a single report job from queued to a terminal state.
// Runs are safe to repeat: the claim is atomic, so concurrent or duplicate
// deliveries of the same job execute the steps at most once per lease.
type Orchestrator struct {
	store    store.Store
	videos   video.Client
	engine   models.AnalysisEngine
	renderer models.ArtifactRenderer
	events   events.Publisher
	cfg      Config
	cleanup  ArtifactRemover

	logger   *slog.Logger
	tracer   trace.Tracer
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	now      func() time.Time
}

// ArtifactRemover deletes a rendered artifact by location.
type ArtifactRemover interface {
	Delete(ctx context.Context, key string) error
}

type Option func(*Orchestrator)

// WithArtifactCleanup removes artifacts that no job record points to: the
// upload of a run whose job was deleted while it rendered, and an upload
// that finished after its render step timed out.
func WithArtifactCleanup(r ArtifactRemover) Option {
	return func(o *Orchestrator) { o.cleanup = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMeter records run counts and durations on m.
func WithMeter(m metric.Meter) Option {
	return func(o *Orchestrator) { o.initMetrics(m) }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(
	st store.Store,
	videos video.Client,
	engine models.AnalysisEngine,
	renderer models.ArtifactRenderer,
	publisher events.Publisher,
	cfg Config,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		videos:   videos,
		engine:   engine,
		renderer: renderer,
		events:   publisher,
		cfg:      cfg.normalize(),
		logger:   slog.Default(),
		tracer:   otel.Tracer(instrumentationName),
		now:      func() time.Time { return time.Now().UTC() },
	}
	o.initMetrics(otel.Meter(instrumentationName))
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) initMetrics(m metric.Meter) {
	runs, err := m.Int64Counter("scoutreport.pipeline.runs",
		metric.WithDescription("Pipeline runs by outcome"),
		metric.WithUnit("{run}"))
	if err != nil {
		o.logger.Warn("pipeline run counter unavailable", "error", err)
	}
	duration, err := m.Float64Histogram("scoutreport.pipeline.duration",
		metric.WithDescription("Wall time of claimed pipeline runs"),
		metric.WithUnit("s"))
	if err != nil {
		o.logger.Warn("pipeline duration histogram unavailable", "error", err)
	}
	o.runs, o.duration = runs, duration
}

// stepError carries the pipeline step that failed.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

type result struct {
	meta     *models.VideoMetadata
	doc      *models.AnalysisDocument
	location string
}

// RunJob executes the job if it can be claimed. Jobs that are unknown,
// terminal, or held by a live lease are left alone and nil is returned.
// A non-nil error means the store could not be updated; the job keeps its
// lease and becomes claimable again once the lease expires.
func (o *Orchestrator) RunJob(ctx context.Context, id uuid.UUID) error {
	// Collaborator calls are bounded by step timeouts, not by the caller.
	ctx = context.WithoutCancel(ctx)

	ctx, span := o.tracer.Start(ctx, "pipeline.RunJob", trace.WithAttributes(
		attribute.String("report.id", id.String()),
	))
	defer span.End()

	job, fresh, err := o.claim(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		o.logger.Warn("report job not found", "job_id", id)
		o.record(ctx, "not_found", 0)
		return nil
	case errors.Is(err, store.ErrNoChange):
		o.logger.Debug("report job not claimable", "job_id", id)
		o.record(ctx, "skipped", 0)
		return nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		o.record(ctx, "store_error", 0)
		return fmt.Errorf("claim report %s: %w", id, err)
	}

	started := time.Now()
	attempt := job.Attempts
	span.SetAttributes(attribute.Int("report.attempt", attempt))
	o.logger.Info("report job claimed", "job_id", id, "attempt", attempt, "video_id", job.VideoID)
	if fresh {
		o.publish(ctx, events.KindJobStatusChanged, job)
	}

	settled := make(chan struct{})
	defer close(settled)
	res, runErr := o.execute(ctx, job, settled)

	var final *models.ReportJob
	if runErr != nil {
		o.logger.Error("report job failed", "job_id", id, "attempt", attempt, "error", runErr)
		span.RecordError(runErr)
		final, err = o.finish(ctx, id, attempt, failWith(runErr))
	} else {
		final, err = o.finish(ctx, id, attempt, completeWith(res))
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		o.logger.Warn("report job deleted during run", "job_id", id, "attempt", attempt)
		o.removeOrphan(ctx, id, res.location)
		o.record(ctx, "superseded", time.Since(started))
		return nil
	case errors.Is(err, store.ErrNoChange):
		// Re-claimed by a newer attempt after our lease lapsed. The artifact
		// key is shared, so it is left for that attempt.
		o.logger.Warn("report job outcome discarded", "job_id", id, "attempt", attempt, "error", err)
		o.record(ctx, "superseded", time.Since(started))
		return nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "terminal write failed")
		o.record(ctx, "store_error", time.Since(started))
		return fmt.Errorf("record outcome of report %s: %w", id, err)
	}

	o.publish(ctx, events.KindJobStatusChanged, final)
	o.record(ctx, string(final.Status), time.Since(started))
	if final.Status == models.ReportStatusFailed {
		span.SetStatus(codes.Error, "report failed")
	} else {
		o.logger.Info("report job completed", "job_id", id, "attempt", attempt, "artifact", res.location)
	}
	return nil
}

func (o *Orchestrator) removeOrphan(ctx context.Context, id uuid.UUID, location string) {
	if o.cleanup == nil || location == "" {
		return
	}
	if err := o.cleanup.Delete(ctx, location); err != nil {
		o.logger.Warn("orphaned artifact not removed", "job_id", id, "key", location, "error", err)
	}
}

// removeLateArtifact deletes an upload that finished after its render step
// timed out. It is kept if the job went on to complete with it.
func (o *Orchestrator) removeLateArtifact(id uuid.UUID, location string) {
	if o.cleanup == nil || location == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.RenderTimeout)
	defer cancel()

	job, err := o.store.GetReport(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		o.logger.Warn("late artifact check failed", "job_id", id, "key", location, "error", err)
		return
	case job.Status != models.ReportStatusFailed:
		return
	}
	o.logger.Info("removing artifact uploaded after render timeout", "job_id", id, "key", location)
	o.removeOrphan(ctx, id, location)
}

// claim moves a queued job, or a processing job whose lease has expired,
// to processing under a new lease. fresh is true when the job came from
// queued.
func (o *Orchestrator) claim(ctx context.Context, id uuid.UUID) (*models.ReportJob, bool, error) {
	now := o.now()
	var fresh bool
	job, err := o.store.UpdateReport(ctx, id, func(j *models.ReportJob) error {
		switch {
		case j.Status == models.ReportStatusQueued:
			fresh = true
		case j.Status == models.ReportStatusProcessing && (j.LeaseExpiresAt == nil || !now.Before(*j.LeaseExpiresAt)):
			fresh = false
		default:
			return store.ErrNoChange
		}
		lease := now.Add(o.cfg.LeaseDuration)
		j.Status = models.ReportStatusProcessing
		j.LeaseExpiresAt = &lease
		j.Attempts++
		return nil
	})
	return job, fresh, err
}

// execute runs the three collaborator steps. Panics are converted into
// errors so the job can still be marked failed. settled is closed once the
// run has recorded its outcome.
func (o *Orchestrator) execute(ctx context.Context, job *models.ReportJob, settled <-chan struct{}) (res result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	res.meta, err = runStep(ctx, o, "fetch_metadata", o.cfg.MetadataTimeout, func(ctx context.Context) (*models.VideoMetadata, error) {
		meta, err := o.videos.GetVideoMetadata(ctx, job.VideoID)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			return nil, fmt.Errorf("%w: empty metadata for %s", video.ErrUpstreamUnavailable, job.VideoID)
		}
		return meta, nil
	}, nil)
	if err != nil {
		return res, err
	}

	meta := *res.meta
	res.doc, err = runStep(ctx, o, "analyze", o.cfg.AnalysisTimeout, func(ctx context.Context) (*models.AnalysisDocument, error) {
		doc, err := o.engine.Analyze(ctx, meta)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, fmt.Errorf("%w: engine %s returned no document", models.ErrAnalysisFailed, o.engine.Name())
		}
		return doc, nil
	}, nil)
	if err != nil {
		return res, err
	}

	doc := res.doc
	res.location, err = runStep(ctx, o, "render", o.cfg.RenderTimeout, func(ctx context.Context) (string, error) {
		location, err := o.renderer.Render(ctx, job, doc)
		if err != nil {
			return "", err
		}
		if location == "" {
			return "", fmt.Errorf("%w: renderer returned no location", models.ErrRenderFailed)
		}
		return location, nil
	}, func(location string) {
		<-settled
		o.removeLateArtifact(job.ID, location)
	})
	return res, err
}

type stepOutcome[T any] struct {
	val T
	err error
}

// runStep runs fn in its own goroutine under timeout, so a collaborator
// that ignores ctx cannot hold the run past its deadline. A successful
// result that arrives after the deadline is passed to late, when set.
func runStep[T any](ctx context.Context, o *Orchestrator, name string, timeout time.Duration, fn func(context.Context) (T, error), late func(T)) (T, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan stepOutcome[T], 1)
	go func() {
		var out stepOutcome[T]
		defer func() {
			if r := recover(); r != nil {
				out.err = fmt.Errorf("pipeline panic: %v", r)
			}
			done <- out
		}()
		out.val, out.err = fn(ctx)
	}()

	var out stepOutcome[T]
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = fmt.Errorf("%w after %s", ctx.Err(), timeout)
		if late != nil {
			go func() {
				if r := <-done; r.err == nil {
					late(r.val)
				}
			}()
		}
	}

	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
		var zero T
		return zero, &stepError{step: name, err: out.err}
	}
	return out.val, nil
}

// finish writes the terminal state, provided the job is still processing
// under this run's attempt.
func (o *Orchestrator) finish(ctx context.Context, id uuid.UUID, attempt int, apply func(*models.ReportJob)) (*models.ReportJob, error) {
	now := o.now()
	return o.store.UpdateReport(ctx, id, func(j *models.ReportJob) error {
		if j.Status != models.ReportStatusProcessing || j.Attempts != attempt {
			return store.ErrNoChange
		}
		apply(j)
		j.CompletedAt = &now
		j.LeaseExpiresAt = nil
		return nil
	})
}

func completeWith(res result) func(*models.ReportJob) {
	return func(j *models.ReportJob) {
		location := res.location
		j.Status = models.ReportStatusCompleted
		j.AnalysisResult = res.doc
		j.ArtifactLocation = &location
		j.ErrorMessage = nil
	}
}

func failWith(cause error) func(*models.ReportJob) {
	return func(j *models.ReportJob) {
		msg := cause.Error()
		j.Status = models.ReportStatusFailed
		j.AnalysisResult = nil
		j.ArtifactLocation = nil
		j.ErrorMessage = &msg
	}
}

func (o *Orchestrator) publish(ctx context.Context, kind events.Kind, job *models.ReportJob) {
	if o.events == nil {
		return
	}
	o.events.Publish(ctx, events.Event{
		Kind:       kind,
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		Status:     job.Status,
		OccurredAt: job.UpdatedAt,
	})
}

func (o *Orchestrator) record(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if o.runs != nil {
		o.runs.Add(ctx, 1, attrs)
	}
	if o.duration != nil && elapsed > 0 {
		o.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}
