package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/scoutreport/internal/api/handler"
	mw "github.com/kiranshivaraju/scoutreport/internal/api/middleware"
	"github.com/kiranshivaraju/scoutreport/internal/blob"
	"github.com/kiranshivaraju/scoutreport/internal/cache"
	"github.com/kiranshivaraju/scoutreport/internal/report"
	"github.com/kiranshivaraju/scoutreport/internal/store"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

// --- fake ReportService ---

type fakeService struct {
	jobs map[uuid.UUID]*models.ReportJob

	createErr   error
	downloadErr error
	lastCreate  report.CreateParams
	lastList    string
	lastExpiry  time.Duration
	deleted     []uuid.UUID
}

func newFakeService(jobs ...*models.ReportJob) *fakeService {
	f := &fakeService{jobs: map[uuid.UUID]*models.ReportJob{}}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeService) CreateJob(_ context.Context, p report.CreateParams) (*models.ReportJob, error) {
	f.lastCreate = p
	if f.createErr != nil {
		return nil, f.createErr
	}
	now := time.Now().UTC()
	job := &models.ReportJob{
		ID:        uuid.New(),
		OwnerID:   p.OwnerID,
		Title:     p.Title,
		VideoID:   p.VideoID,
		GameDate:  p.GameDate,
		Status:    models.ReportStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeService) GetJob(_ context.Context, id uuid.UUID) (*models.ReportJob, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeService) ListJobs(_ context.Context, ownerID string, offset, limit int) (*report.Page, error) {
	f.lastList = ownerID
	offset, limit = store.NormalizePage(offset, limit)
	var out []*models.ReportJob
	for _, j := range f.jobs {
		if ownerID == "" || j.OwnerID == ownerID {
			out = append(out, j)
		}
	}
	return &report.Page{Jobs: out, Total: len(out), Offset: offset, Limit: limit}, nil
}

func (f *fakeService) JobStatus(_ context.Context, id uuid.UUID) (*cache.StatusEntry, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cache.StatusEntry{Status: j.Status, OwnerID: j.OwnerID, UpdatedAt: j.UpdatedAt}, nil
}

func (f *fakeService) DeleteJob(_ context.Context, id uuid.UUID) error {
	if _, ok := f.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.jobs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeService) DownloadURL(_ context.Context, id uuid.UUID, expiry time.Duration) (string, error) {
	f.lastExpiry = expiry
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	j := f.jobs[id]
	if j.Status != models.ReportStatusCompleted {
		return "", report.ErrNotReady
	}
	return "https://blobs.example/" + *j.ArtifactLocation + "?sig=abc", nil
}

// --- helpers ---

func job(owner string, status models.ReportStatus) *models.ReportJob {
	now := time.Now().UTC()
	j := &models.ReportJob{
		ID:        uuid.New(),
		OwnerID:   owner,
		Title:     "Scout",
		VideoID:   "V1",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status == models.ReportStatusCompleted {
		loc := "reports/" + j.ID.String() + ".pdf"
		msg := "never shown"
		j.ArtifactLocation = &loc
		j.AnalysisResult = &models.AnalysisDocument{VideoID: "V1"}
		j.CompletedAt = &now
		j.ErrorMessage = &msg
	}
	if status == models.ReportStatusFailed {
		msg := "video lookup: not found"
		j.ErrorMessage = &msg
		j.CompletedAt = &now
	}
	return j
}

func serve(h *handler.Reports, req *http.Request, owner string, scopes ...string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Post("/api/v1/reports", h.Create)
	r.Get("/api/v1/reports", h.List)
	r.Get("/api/v1/reports/{id}", h.Get)
	r.Get("/api/v1/reports/{id}/status", h.Status)
	r.Get("/api/v1/reports/{id}/download", h.Download)
	r.Delete("/api/v1/reports/{id}", h.Delete)

	if owner != "" {
		ctx := mw.SetOwnerID(req.Context(), owner)
		ctx = mw.SetScopes(ctx, scopes)
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonReq(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env.Error.Code
}

// --- Create ---

func TestCreate_202_UsesCallerAsOwner(t *testing.T) {
	svc := newFakeService()
	h := handler.NewReports(svc, time.Minute, nil)

	rec := serve(h, jsonReq(http.MethodPost, "/api/v1/reports", map[string]any{
		"title":     "Scout vs Hawks",
		"video_id":  "V1",
		"game_date": "2026-03-14",
	}), "U1")

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	data := decodeData(t, rec)
	assert.Equal(t, "queued", data["status"])
	assert.Equal(t, "U1", data["owner_id"])
	assert.Equal(t, "2026-03-14", data["game_date"])
	assert.NotContains(t, data, "analysis")
	assert.NotContains(t, data, "download_url")

	assert.Equal(t, "U1", svc.lastCreate.OwnerID)
	require.NotNil(t, svc.lastCreate.GameDate)
	assert.Equal(t, time.March, svc.lastCreate.GameDate.Month())
}

func TestCreate_403_OtherOwnerWithoutAdmin(t *testing.T) {
	h := handler.NewReports(newFakeService(), time.Minute, nil)

	rec := serve(h, jsonReq(http.MethodPost, "/api/v1/reports", map[string]any{
		"owner_id": "U2", "title": "T", "video_id": "V1",
	}), "U1")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreate_AdminOnBehalfOfOwner(t *testing.T) {
	svc := newFakeService()
	h := handler.NewReports(svc, time.Minute, nil)

	rec := serve(h, jsonReq(http.MethodPost, "/api/v1/reports", map[string]any{
		"owner_id": "U2", "title": "T", "video_id": "V1",
	}), "ops", mw.ScopeAdmin)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "U2", svc.lastCreate.OwnerID)
}

func TestCreate_400_InvalidJSON(t *testing.T) {
	h := handler.NewReports(newFakeService(), time.Minute, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", bytes.NewBufferString("{not json"))
	rec := serve(h, req, "U1")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))
}

func TestCreate_400_BadGameDate(t *testing.T) {
	h := handler.NewReports(newFakeService(), time.Minute, nil)

	rec := serve(h, jsonReq(http.MethodPost, "/api/v1/reports", map[string]any{
		"title": "T", "video_id": "V1", "game_date": "last tuesday",
	}), "U1")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

func TestCreate_400_ValidationDetails(t *testing.T) {
	svc := newFakeService()
	svc.createErr = &report.ValidationError{Fields: map[string]string{"title": "is required"}}
	h := handler.NewReports(svc, time.Minute, nil)

	rec := serve(h, jsonReq(http.MethodPost, "/api/v1/reports", map[string]any{"video_id": "V1"}), "U1")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var env struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Equal(t, "is required", env.Error.Details["title"])
}

func TestCreate_500_ServiceFailure(t *testing.T) {
	svc := newFakeService()
	svc.createErr = errors.New("db down")
	h := handler.NewReports(svc, time.Minute, nil)

	rec := serve(h, jsonReq(http.MethodPost, "/api/v1/reports", map[string]any{"title": "T", "video_id": "V1"}), "U1")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestCreate_401_NoOwner(t *testing.T) {
	h := handler.NewReports(newFakeService(), time.Minute, nil)
	rec := serve(h, jsonReq(http.MethodPost, "/api/v1/reports", map[string]any{}), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// --- List ---

func TestList_ScopedToCaller(t *testing.T) {
	svc := newFakeService(job("U1", models.ReportStatusQueued), job("U2", models.ReportStatusQueued))
	h := handler.NewReports(svc, time.Minute, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil), "U1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "U1", svc.lastList)

	var env struct {
		Data []map[string]any   `json:"data"`
		Meta map[string]float64 `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Len(t, env.Data, 1)
	assert.Equal(t, float64(1), env.Meta["total"])
	assert.Equal(t, float64(store.DefaultListLimit), env.Meta["limit"])
}

func TestList_403_OtherOwnerWithoutAdmin(t *testing.T) {
	h := handler.NewReports(newFakeService(), time.Minute, nil)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports?owner_id=U2", nil), "U1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestList_AdminSeesAllOwners(t *testing.T) {
	svc := newFakeService(job("U1", models.ReportStatusQueued), job("U2", models.ReportStatusQueued))
	h := handler.NewReports(svc, time.Minute, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports?limit=500", nil), "ops", mw.ScopeAdmin)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", svc.lastList)

	var env struct {
		Data []map[string]any   `json:"data"`
		Meta map[string]float64 `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Len(t, env.Data, 2)
	assert.Equal(t, float64(store.MaxListLimit), env.Meta["limit"])
}

func TestList_400_BadOffset(t *testing.T) {
	h := handler.NewReports(newFakeService(), time.Minute, nil)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports?offset=abc", nil), "U1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Get ---

func TestGet_CompletedExposesAnalysisNotError(t *testing.T) {
	j := job("U1", models.ReportStatusCompleted)
	h := handler.NewReports(newFakeService(j), time.Minute, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+j.ID.String(), nil), "U1")

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "completed", data["status"])
	assert.NotNil(t, data["analysis"])
	assert.Equal(t, "/api/v1/reports/"+j.ID.String()+"/download", data["download_url"])
	assert.NotContains(t, data, "error_message")
}

func TestGet_FailedHidesErrorMessage(t *testing.T) {
	j := job("U1", models.ReportStatusFailed)
	h := handler.NewReports(newFakeService(j), time.Minute, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+j.ID.String(), nil), "U1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "video lookup")
	data := decodeData(t, rec)
	assert.Equal(t, "failed", data["status"])
	assert.NotContains(t, data, "analysis")
}

func TestGet_404_OtherOwner(t *testing.T) {
	j := job("U2", models.ReportStatusQueued)
	h := handler.NewReports(newFakeService(j), time.Minute, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+j.ID.String(), nil), "U1")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "REPORT_NOT_FOUND", errorCode(t, rec))
}

func TestGet_AdminReadsAnyOwner(t *testing.T) {
	j := job("U2", models.ReportStatusQueued)
	h := handler.NewReports(newFakeService(j), time.Minute, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+j.ID.String(), nil), "ops", mw.ScopeAdmin)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGet_400_BadID(t *testing.T) {
	h := handler.NewReports(newFakeService(), time.Minute, nil)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/not-a-uuid", nil), "U1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGet_404_Unknown(t *testing.T) {
	h := handler.NewReports(newFakeService(), time.Minute, nil)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+uuid.NewString(), nil), "U1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- Status ---

func TestStatus_200(t *testing.T) {
	j := job("U1", models.ReportStatusProcessing)
	h := handler.NewReports(newFakeService(j), time.Minute, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+j.ID.String()+"/status", nil), "U1")

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "processing", data["status"])
	assert.Equal(t, j.ID.String(), data["id"])
}

func TestStatus_404_OtherOwner(t *testing.T) {
	j := job("U2", models.ReportStatusProcessing)
	h := handler.NewReports(newFakeService(j), time.Minute, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+j.ID.String()+"/status", nil), "U1")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- Download ---

func TestDownload_302ToPresignedURL(t *testing.T) {
	j := job("U1", models.ReportStatusCompleted)
	svc := newFakeService(j)
	h := handler.NewReports(svc, 90*time.Second, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+j.ID.String()+"/download", nil), "U1")

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://blobs.example/reports/"+j.ID.String()+".pdf?sig=abc", rec.Header().Get("Location"))
	assert.Equal(t, 90*time.Second, svc.lastExpiry)
}

func TestDownload_409_NotReady(t *testing.T) {
	j := job("U1", models.ReportStatusProcessing)
	h := handler.NewReports(newFakeService(j), time.Minute, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+j.ID.String()+"/download", nil), "U1")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "REPORT_NOT_READY", errorCode(t, rec))
}

func TestDownload_404_ArtifactMissing(t *testing.T) {
	j := job("U1", models.ReportStatusCompleted)
	svc := newFakeService(j)
	svc.downloadErr = errors.Join(errors.New("presign artifact"), blob.ErrObjectNotFound)
	h := handler.NewReports(svc, time.Minute, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+j.ID.String()+"/download", nil), "U1")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ARTIFACT_NOT_FOUND", errorCode(t, rec))
}

func TestNewReports_DefaultExpiry(t *testing.T) {
	j := job("U1", models.ReportStatusCompleted)
	svc := newFakeService(j)
	h := handler.NewReports(svc, 0, nil)

	serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+j.ID.String()+"/download", nil), "U1")

	assert.Equal(t, 15*time.Minute, svc.lastExpiry)
}

// --- Delete ---

func TestDelete_204(t *testing.T) {
	j := job("U1", models.ReportStatusCompleted)
	svc := newFakeService(j)
	h := handler.NewReports(svc, time.Minute, nil)

	rec := serve(h, httptest.NewRequest(http.MethodDelete, "/api/v1/reports/"+j.ID.String(), nil), "U1")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uuid.UUID{j.ID}, svc.deleted)
}

func TestDelete_404_OtherOwnerLeavesJob(t *testing.T) {
	j := job("U2", models.ReportStatusCompleted)
	svc := newFakeService(j)
	h := handler.NewReports(svc, time.Minute, nil)

	rec := serve(h, httptest.NewRequest(http.MethodDelete, "/api/v1/reports/"+j.ID.String(), nil), "U1")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, svc.deleted)
	assert.Contains(t, svc.jobs, j.ID)
}
