package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scoutreport/internal/analysis/mock"
	"github.com/kiranshivaraju/scoutreport/internal/events"
	"github.com/kiranshivaraju/scoutreport/internal/pipeline"
	rendermock "github.com/kiranshivaraju/scoutreport/internal/render/mock"
	"github.com/kiranshivaraju/scoutreport/internal/store"
	"github.com/kiranshivaraju/scoutreport/internal/video"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
	"github.com/stretchr/testify/require"
)

type fakeVideos struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeVideos) GetVideoMetadata(_ context.Context, id string) (*models.VideoMetadata, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if id == "V404" {
		return nil, fmt.Errorf("%w: %s", video.ErrVideoNotFound, id)
	}
	return &models.VideoMetadata{
		ID:               id,
		Title:            "Game film " + id,
		DurationSeconds:  2880,
		PlayableLocation: "https://cdn.example.com/" + id + ".mp4",
		ContentType:      "video/mp4",
	}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) statuses() []models.ReportStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ReportStatus, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Status)
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Now().UTC()} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// flakyStore fails the UpdateReport calls whose 1-based index is listed.
type flakyStore struct {
	store.Store
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
}

func (s *flakyStore) UpdateReport(ctx context.Context, id uuid.UUID, fn store.Mutator) (*models.ReportJob, error) {
	s.mu.Lock()
	s.calls++
	fail := s.failOn[s.calls]
	s.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset by peer")
	}
	return s.Store.UpdateReport(ctx, id, fn)
}

var testConfig = pipeline.Config{
	MetadataTimeout: time.Second,
	AnalysisTimeout: time.Second,
	RenderTimeout:   time.Second,
	LeaseDuration:   time.Minute,
}

type harness struct {
	store    *store.MemoryStore
	videos   *fakeVideos
	engine   *mock.MockEngine
	renderer *rendermock.MockRenderer
	events   *recorder
	clock    *clock
}

func newHarness() *harness {
	return &harness{
		store:    store.NewMemoryStore(),
		videos:   &fakeVideos{},
		engine:   mock.NewMockEngine(),
		renderer: &rendermock.MockRenderer{},
		events:   &recorder{},
		clock:    newClock(),
	}
}

func (h *harness) orchestrator(st store.Store, cfg pipeline.Config) *pipeline.Orchestrator {
	if st == nil {
		st = h.store
	}
	return pipeline.NewOrchestrator(st, h.videos, h.engine, h.renderer, h.events, cfg,
		pipeline.WithClock(h.clock.Now))
}

func (h *harness) createJob(t *testing.T, videoID string) *models.ReportJob {
	t.Helper()
	now := time.Now().UTC()
	job := &models.ReportJob{
		ID:           uuid.New(),
		Title:        "Scouting report",
		VideoID:      videoID,
		TeamName:     "Hawks",
		OpponentName: "Rivals",
		OwnerID:      "U1",
		Status:       models.ReportStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, h.store.CreateReport(context.Background(), job))
	return job
}

func (h *harness) get(t *testing.T, id uuid.UUID) *models.ReportJob {
	t.Helper()
	job, err := h.store.GetReport(context.Background(), id)
	require.NoError(t, err)
	return job
}
