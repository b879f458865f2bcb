package render_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scoutreport/internal/analysis/stub"
	"github.com/kiranshivaraju/scoutreport/internal/blob"
	"github.com/kiranshivaraju/scoutreport/internal/render"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJob() *models.ReportJob {
	gameDate := time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)
	return &models.ReportJob{
		ID:           uuid.New(),
		Title:        "Scouting: Rivals",
		Description:  "Conference semifinal prep",
		VideoID:      "V1",
		TeamName:     "Hawks",
		OpponentName: "Rivals",
		GameDate:     &gameDate,
		Status:       models.ReportStatusProcessing,
	}
}

func testDoc(t *testing.T) *models.AnalysisDocument {
	t.Helper()
	doc, err := stub.NewEngine().Analyze(context.Background(), models.VideoMetadata{ID: "V1", Title: "Rivals – Game 3"})
	require.NoError(t, err)
	doc.AnalyzedAt = time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC)
	return doc
}

func TestPDFRenderer_UploadsUnderDeterministicKey(t *testing.T) {
	store := blob.NewMemoryStore("reports")
	r := render.NewPDFRenderer(store)
	job := testJob()

	loc, err := r.Render(context.Background(), job, testDoc(t))
	require.NoError(t, err)
	assert.Equal(t, "reports/"+job.ID.String()+".pdf", loc)
	assert.Equal(t, render.ArtifactKey(job.ID), loc)

	data, ct, ok := store.Object(loc)
	require.True(t, ok)
	assert.Equal(t, "application/pdf", ct)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestPDFRenderer_RerenderIsByteIdentical(t *testing.T) {
	store := blob.NewMemoryStore("reports")
	r := render.NewPDFRenderer(store)
	job := testJob()
	doc := testDoc(t)

	loc, err := r.Render(context.Background(), job, doc)
	require.NoError(t, err)
	first, _, _ := store.Object(loc)

	_, err = r.Render(context.Background(), job, doc)
	require.NoError(t, err)
	second, _, _ := store.Object(loc)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.Len())
}

func TestPDFRenderer_EmptyTeam(t *testing.T) {
	store := blob.NewMemoryStore("reports")
	r := render.NewPDFRenderer(store)

	_, err := r.Render(context.Background(), testJob(), &models.AnalysisDocument{VideoID: "V1"})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestPDFRenderer_NilDocument(t *testing.T) {
	r := render.NewPDFRenderer(blob.NewMemoryStore("reports"))
	_, err := r.Render(context.Background(), testJob(), nil)
	assert.ErrorIs(t, err, models.ErrRenderFailed)
}

func TestPDFRenderer_CancelledContext(t *testing.T) {
	store := blob.NewMemoryStore("reports")
	r := render.NewPDFRenderer(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Render(ctx, testJob(), testDoc(t))
	assert.ErrorIs(t, err, models.ErrRenderFailed)
	assert.Equal(t, 0, store.Len())
}

type failingStore struct{ blob.Store }

func (failingStore) Put(context.Context, string, io.Reader, int64, string) error {
	return errors.New("bucket unavailable")
}

func TestPDFRenderer_UploadFailure(t *testing.T) {
	r := render.NewPDFRenderer(failingStore{})
	_, err := r.Render(context.Background(), testJob(), testDoc(t))
	require.ErrorIs(t, err, models.ErrRenderFailed)
	assert.Contains(t, err.Error(), "bucket unavailable")
}
