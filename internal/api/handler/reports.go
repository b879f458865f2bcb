package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/kiranshivaraju/scoutreport/internal/api/middleware"
	"github.com/kiranshivaraju/scoutreport/internal/api/response"
	"github.com/kiranshivaraju/scoutreport/internal/blob"
	"github.com/kiranshivaraju/scoutreport/internal/cache"
	"github.com/kiranshivaraju/scoutreport/internal/report"
	"github.com/kiranshivaraju/scoutreport/internal/store"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

const defaultPresignExpiry = 15 * time.Minute

// ReportService is the report.Service surface the handlers depend on.
type ReportService interface {
	CreateJob(ctx context.Context, p report.CreateParams) (*models.ReportJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.ReportJob, error)
	ListJobs(ctx context.Context, ownerID string, offset, limit int) (*report.Page, error)
	JobStatus(ctx context.Context, id uuid.UUID) (*cache.StatusEntry, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
	DownloadURL(ctx context.Context, id uuid.UUID, expiry time.Duration) (string, error)
}

// Reports serves the /api/v1/reports endpoints. A key sees only the reports
// of its own owner unless it carries the admin scope; reports of other
// owners answer 404 so their ids are not confirmed.
type Reports struct {
	svc           ReportService
	presignExpiry time.Duration
	logger        *slog.Logger
}

func NewReports(svc ReportService, presignExpiry time.Duration, logger *slog.Logger) *Reports {
	if presignExpiry <= 0 {
		presignExpiry = defaultPresignExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reports{svc: svc, presignExpiry: presignExpiry, logger: logger}
}

type createReportRequest struct {
	OwnerID      string  `json:"owner_id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	VideoID      string  `json:"video_id"`
	VideoTitle   *string `json:"video_title"`
	TeamName     string  `json:"team_name"`
	OpponentName string  `json:"opponent_name"`
	GameDate     string  `json:"game_date"`
}

// Create handles POST /api/v1/reports. The owner comes from the API key;
// an admin key may create on behalf of another owner.
func (h *Reports) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
		return
	}

	var req createReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}

	owner := caller
	if req.OwnerID != "" && req.OwnerID != caller {
		if !mw.HasScope(r, mw.ScopeAdmin) {
			response.Error(w, http.StatusForbidden, "FORBIDDEN", "Cannot create reports for another owner", nil)
			return
		}
		owner = req.OwnerID
	}

	gameDate, err := parseGameDate(req.GameDate)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request fields",
			map[string]string{"game_date": "must be YYYY-MM-DD or RFC3339"})
		return
	}

	job, err := h.svc.CreateJob(r.Context(), report.CreateParams{
		OwnerID:      owner,
		Title:        req.Title,
		Description:  req.Description,
		VideoID:      req.VideoID,
		VideoTitle:   req.VideoTitle,
		TeamName:     req.TeamName,
		OpponentName: req.OpponentName,
		GameDate:     gameDate,
	})
	if err != nil {
		var ve *report.ValidationError
		if errors.As(err, &ve) {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request fields", ve.Fields)
			return
		}
		h.internalError(w, "create report", err)
		return
	}

	response.Accepted(w, toReportResponse(job))
}

// List handles GET /api/v1/reports?owner_id&offset&limit.
func (h *Reports) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
		return
	}

	q := r.URL.Query()
	owner := q.Get("owner_id")
	if !mw.HasScope(r, mw.ScopeAdmin) {
		if owner != "" && owner != caller {
			response.Error(w, http.StatusForbidden, "FORBIDDEN", "Cannot list reports of another owner", nil)
			return
		}
		owner = caller
	}

	offset, err := intParam(q.Get("offset"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "offset must be an integer", nil)
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be an integer", nil)
		return
	}

	page, err := h.svc.ListJobs(r.Context(), owner, offset, limit)
	if err != nil {
		h.internalError(w, "list reports", err)
		return
	}

	items := make([]reportResponse, 0, len(page.Jobs))
	for _, job := range page.Jobs {
		items = append(items, toReportResponse(job))
	}
	response.Collection(w, items, response.NewPaginationMeta(page.Offset, page.Limit, len(items), page.Total))
}

// Get handles GET /api/v1/reports/{id}.
func (h *Reports) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	response.JSON(w, toReportResponse(job))
}

// Status handles GET /api/v1/reports/{id}/status. It is served from the
// status cache when possible and is the endpoint clients should poll.
func (h *Reports) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}

	entry, err := h.svc.JobStatus(r.Context(), id)
	if err != nil {
		h.lookupError(w, "report status", err)
		return
	}
	if !canAccess(r, entry.OwnerID) {
		notFound(w)
		return
	}

	response.JSON(w, statusResponse{
		ID:        id,
		Status:    entry.Status,
		UpdatedAt: entry.UpdatedAt,
	})
}

// Download handles GET /api/v1/reports/{id}/download by redirecting to a
// short-lived presigned URL for the PDF.
func (h *Reports) Download(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	url, err := h.svc.DownloadURL(r.Context(), job.ID, h.presignExpiry)
	if err != nil {
		switch {
		case errors.Is(err, report.ErrNotReady):
			response.Error(w, http.StatusConflict, "REPORT_NOT_READY",
				"Report has not completed", map[string]string{"status": string(job.Status)})
		case errors.Is(err, blob.ErrObjectNotFound), errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "ARTIFACT_NOT_FOUND", "Report artifact not found", nil)
		default:
			h.internalError(w, "download report", err)
		}
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// Delete handles DELETE /api/v1/reports/{id}.
func (h *Reports) Delete(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteJob(r.Context(), job.ID); err != nil {
		h.lookupError(w, "delete report", err)
		return
	}
	response.NoContent(w)
}

func (h *Reports) loadOwned(w http.ResponseWriter, r *http.Request) (*models.ReportJob, bool) {
	id, ok := reportID(w, r)
	if !ok {
		return nil, false
	}
	job, err := h.svc.GetJob(r.Context(), id)
	if err != nil {
		h.lookupError(w, "get report", err)
		return nil, false
	}
	if !canAccess(r, job.OwnerID) {
		notFound(w)
		return nil, false
	}
	return job, true
}

func (h *Reports) lookupError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		notFound(w)
		return
	}
	h.internalError(w, op, err)
}

func (h *Reports) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}

func canAccess(r *http.Request, owner string) bool {
	caller, ok := mw.GetOwnerID(r)
	if !ok {
		return false
	}
	return caller == owner || mw.HasScope(r, mw.ScopeAdmin)
}

func reportID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "id must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func notFound(w http.ResponseWriter) {
	response.Error(w, http.StatusNotFound, "REPORT_NOT_FOUND", "Report not found", nil)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseGameDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
