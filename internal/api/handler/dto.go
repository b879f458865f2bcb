package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

type reportResponse struct {
	ID           uuid.UUID                `json:"id"`
	OwnerID      string                   `json:"owner_id"`
	Title        string                   `json:"title"`
	Description  string                   `json:"description"`
	VideoID      string                   `json:"video_id"`
	VideoTitle   *string                  `json:"video_title,omitempty"`
	TeamName     string                   `json:"team_name"`
	OpponentName string                   `json:"opponent_name"`
	GameDate     string                   `json:"game_date,omitempty"`
	Status       models.ReportStatus      `json:"status"`
	Analysis     *models.AnalysisDocument `json:"analysis,omitempty"`
	DownloadURL  string                   `json:"download_url,omitempty"`
	CompletedAt  *time.Time               `json:"completed_at,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

type statusResponse struct {
	ID        uuid.UUID           `json:"id"`
	Status    models.ReportStatus `json:"status"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// toReportResponse hides the analysis and artifact until the job has
// completed. The failure message is internal and never leaves the server.
func toReportResponse(job *models.ReportJob) reportResponse {
	resp := reportResponse{
		ID:           job.ID,
		OwnerID:      job.OwnerID,
		Title:        job.Title,
		Description:  job.Description,
		VideoID:      job.VideoID,
		VideoTitle:   job.VideoTitle,
		TeamName:     job.TeamName,
		OpponentName: job.OpponentName,
		Status:       job.Status,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	if job.GameDate != nil {
		resp.GameDate = job.GameDate.Format(time.DateOnly)
	}
	if job.Status == models.ReportStatusCompleted {
		resp.Analysis = job.AnalysisResult
		resp.CompletedAt = job.CompletedAt
		if job.ArtifactLocation != nil {
			resp.DownloadURL = "/api/v1/reports/" + job.ID.String() + "/download"
		}
	}
	return resp
}
