// Package report is the client-facing boundary for scouting report jobs:
// creation, lookup, listing, deletion and artifact download.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/scoutreport/internal/blob"
	"github.com/kiranshivaraju/scoutreport/internal/cache"
	"github.com/kiranshivaraju/scoutreport/internal/events"
	"github.com/kiranshivaraju/scoutreport/internal/queue"
	"github.com/kiranshivaraju/scoutreport/internal/render"
	"github.com/kiranshivaraju/scoutreport/internal/store"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotReady is returned when an artifact is requested for a report
	// that has not completed.
	ErrNotReady = errors.New("report is not completed")
)

// ValidationError lists the fields that failed validation, keyed by their
// JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, f+" "+e.Fields[f])
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// CreateParams holds the descriptive fields of a new report job.
type CreateParams struct {
	OwnerID      string     `json:"owner_id"      validate:"required,max=128"`
	Title        string     `json:"title"         validate:"required,max=200"`
	Description  string     `json:"description"   validate:"max=2000"`
	VideoID      string     `json:"video_id"      validate:"required,max=128"`
	VideoTitle   *string    `json:"video_title"   validate:"omitempty,max=300"`
	TeamName     string     `json:"team_name"     validate:"max=200"`
	OpponentName string     `json:"opponent_name" validate:"max=200"`
	GameDate     *time.Time `json:"game_date"`
}

// Page is one page of a job listing.
type Page struct {
	Jobs   []*models.ReportJob
	Total  int
	Offset int
	Limit  int
}

// Service implements the report job operations exposed to clients.
type Service struct {
	store      store.Store
	blobs      blob.Store
	dispatcher queue.Dispatcher
	events     events.Publisher
	status     cache.Cache
	validate   *validator.Validate
	logger     *slog.Logger
	now        func() time.Time
	statusTTL  time.Duration
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithStatusCache lets JobStatus answer from the cache and warm it on a
// miss.
func WithStatusCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) { s.status, s.statusTTL = c, ttl }
}

func NewService(st store.Store, blobs blob.Store, dispatcher queue.Dispatcher, publisher events.Publisher, opts ...Option) *Service {
	s := &Service{
		store:      st,
		blobs:      blobs,
		dispatcher: dispatcher,
		events:     publisher,
		validate:   newValidator(),
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// CreateJob validates and persists a queued job, announces it and hands it
// to the dispatcher. A dispatch failure is logged but not returned: the job
// is stored and the recovery sweeper will pick it up.
func (s *Service) CreateJob(ctx context.Context, p CreateParams) (*models.ReportJob, error) {
	p = trimParams(p)
	if err := s.validate.Struct(p); err != nil {
		return nil, toValidationError(err)
	}

	now := s.now()
	job := &models.ReportJob{
		ID:           uuid.New(),
		Title:        p.Title,
		Description:  p.Description,
		VideoID:      p.VideoID,
		VideoTitle:   p.VideoTitle,
		TeamName:     p.TeamName,
		OpponentName: p.OpponentName,
		GameDate:     p.GameDate,
		OwnerID:      p.OwnerID,
		Status:       models.ReportStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateReport(ctx, job); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	s.logger.Info("report job created", "job_id", job.ID, "owner_id", job.OwnerID, "video_id", job.VideoID)

	s.publish(ctx, events.KindJobCreated, job, job.Status)

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		s.logger.Error("report job dispatch failed; left for recovery sweep", "job_id", job.ID, "error", err)
	}
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*models.ReportJob, error) {
	job, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns jobs newest first. An empty ownerID lists every owner.
func (s *Service) ListJobs(ctx context.Context, ownerID string, offset, limit int) (*Page, error) {
	offset, limit = store.NormalizePage(offset, limit)
	jobs, total, err := s.store.ListReports(ctx, store.ReportFilter{
		OwnerID: ownerID,
		Offset:  offset,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return &Page{Jobs: jobs, Total: total, Offset: offset, Limit: limit}, nil
}

// JobStatus returns the cached status entry for a job, falling back to the
// store on a cache miss or cache error.
func (s *Service) JobStatus(ctx context.Context, id uuid.UUID) (*cache.StatusEntry, error) {
	if s.status != nil {
		entry, ok, err := s.status.GetReportStatus(ctx, id)
		if err != nil {
			s.logger.Warn("status cache read failed", "job_id", id, "error", err)
		} else if ok {
			if entry.Deleted {
				return nil, store.ErrNotFound
			}
			return entry, nil
		}
	}

	job, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	entry := &cache.StatusEntry{Status: job.Status, OwnerID: job.OwnerID, UpdatedAt: job.UpdatedAt}
	if s.status != nil {
		// Conditional write: a status event that landed after our read
		// carries a newer UpdatedAt and is kept.
		if err := s.status.SetReportStatus(ctx, id, *entry, s.statusTTL); err != nil {
			s.logger.Warn("status cache write failed", "job_id", id, "error", err)
		}
	}
	return entry, nil
}

// DeleteJob removes the job record and then its artifact. Blob deletion is
// best effort: once the row is gone the job no longer exists.
func (s *Service) DeleteJob(ctx context.Context, id uuid.UUID) error {
	job, err := s.store.GetReport(ctx, id)
	if err != nil {
		return err
	}

	deleted, err := s.store.DeleteReport(ctx, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if !deleted {
		return store.ErrNotFound
	}

	// The deterministic key also covers an upload whose terminal write
	// never landed.
	keys := []string{render.ArtifactKey(id)}
	if job.ArtifactLocation != nil && *job.ArtifactLocation != keys[0] {
		keys = append(keys, *job.ArtifactLocation)
	}
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn("artifact delete failed", "job_id", id, "key", key, "error", err)
		}
	}

	s.logger.Info("report job deleted", "job_id", id, "owner_id", job.OwnerID)
	s.publish(ctx, events.KindJobDeleted, job, "")
	return nil
}

// DownloadURL returns a time-limited URL for a completed job's artifact.
func (s *Service) DownloadURL(ctx context.Context, id uuid.UUID, expiry time.Duration) (string, error) {
	job, err := s.store.GetReport(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Status != models.ReportStatusCompleted || job.ArtifactLocation == nil {
		return "", ErrNotReady
	}
	url, err := s.blobs.PresignedURL(ctx, *job.ArtifactLocation, expiry)
	if err != nil {
		return "", fmt.Errorf("presign artifact: %w", err)
	}
	return url, nil
}

func (s *Service) publish(ctx context.Context, kind events.Kind, job *models.ReportJob, status models.ReportStatus) {
	if s.events == nil {
		return
	}
	// Status-bearing events are stamped with the row version so the
	// status cache can order them against the pipeline's writes.
	occurredAt := s.now()
	if status != "" {
		occurredAt = job.UpdatedAt
	}
	s.events.Publish(ctx, events.Event{
		Kind:       kind,
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		Status:     status,
		OccurredAt: occurredAt,
	})
}

func trimParams(p CreateParams) CreateParams {
	p.OwnerID = strings.TrimSpace(p.OwnerID)
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.VideoID = strings.TrimSpace(p.VideoID)
	p.TeamName = strings.TrimSpace(p.TeamName)
	p.OpponentName = strings.TrimSpace(p.OpponentName)
	if p.VideoTitle != nil {
		t := strings.TrimSpace(*p.VideoTitle)
		if t == "" {
			p.VideoTitle = nil
		} else {
			p.VideoTitle = &t
		}
	}
	return p
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[fe.Field()] = rule
	}
	return &ValidationError{Fields: fields}
}
