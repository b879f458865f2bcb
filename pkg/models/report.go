package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReportStatus is the lifecycle state of a ReportJob.
type ReportStatus string

const (
	ReportStatusQueued     ReportStatus = "queued"
	ReportStatusProcessing ReportStatus = "processing"
	ReportStatusCompleted  ReportStatus = "completed"
	ReportStatusFailed     ReportStatus = "failed"
)

var (
	ErrInvalidTransition  = errors.New("invalid report status transition")
	ErrInvariantViolation = errors.New("report invariant violation")
)

// validTransitions lists the status changes a report may make. Terminal
// states have no outgoing edges and nothing leads back to queued.
var validTransitions = map[ReportStatus][]ReportStatus{
	ReportStatusQueued:     {ReportStatusProcessing},
	ReportStatusProcessing: {ReportStatusCompleted, ReportStatusFailed},
}

// Valid reports whether s is one of the four known statuses.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportStatusQueued, ReportStatusProcessing, ReportStatusCompleted, ReportStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s is completed or failed.
func (s ReportStatus) IsTerminal() bool {
	return s == ReportStatusCompleted || s == ReportStatusFailed
}

// CanTransition reports whether a report may move from one status to another.
func CanTransition(from, to ReportStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ReportJob is a request to generate a scouting report for one video.
// Descriptive fields are fixed at creation; everything below Status is
// written only by the pipeline.
type ReportJob struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	Title        string     `db:"title"         json:"title"`
	Description  string     `db:"description"   json:"description"`
	VideoID      string     `db:"video_id"      json:"video_id"`
	VideoTitle   *string    `db:"video_title"   json:"video_title,omitempty"`
	TeamName     string     `db:"team_name"     json:"team_name"`
	OpponentName string     `db:"opponent_name" json:"opponent_name"`
	GameDate     *time.Time `db:"game_date"     json:"game_date,omitempty"`
	OwnerID      string     `db:"owner_id"      json:"owner_id"`

	Status           ReportStatus      `db:"status"            json:"status"`
	ArtifactLocation *string           `db:"artifact_location" json:"artifact_location,omitempty"`
	AnalysisResult   *AnalysisDocument `db:"analysis_result"   json:"analysis_result,omitempty"`
	ErrorMessage     *string           `db:"error_message"     json:"-"`
	Attempts         int               `db:"attempts"          json:"attempts"`
	LeaseExpiresAt   *time.Time        `db:"lease_expires_at"  json:"-"`
	CompletedAt      *time.Time        `db:"completed_at"      json:"completed_at,omitempty"`
	CreatedAt        time.Time         `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at"        json:"updated_at"`
}

// Clone returns a deep copy of j.
func (j *ReportJob) Clone() *ReportJob {
	c := *j
	c.VideoTitle = clonePtr(j.VideoTitle)
	c.GameDate = clonePtr(j.GameDate)
	c.ArtifactLocation = clonePtr(j.ArtifactLocation)
	c.ErrorMessage = clonePtr(j.ErrorMessage)
	c.LeaseExpiresAt = clonePtr(j.LeaseExpiresAt)
	c.CompletedAt = clonePtr(j.CompletedAt)
	if j.AnalysisResult != nil {
		c.AnalysisResult = j.AnalysisResult.Clone()
	}
	return &c
}

// Validate checks the field-level invariants that must hold for every
// persisted report regardless of how it got there.
func (j *ReportJob) Validate() error {
	if !j.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvariantViolation, j.Status)
	}

	completed := j.Status == ReportStatusCompleted
	hasResult := j.ArtifactLocation != nil && j.AnalysisResult != nil
	if completed != hasResult {
		return fmt.Errorf("%w: artifact and analysis must be set iff completed (status %s)",
			ErrInvariantViolation, j.Status)
	}
	if !completed && (j.ArtifactLocation != nil || j.AnalysisResult != nil) {
		return fmt.Errorf("%w: partial result on %s report", ErrInvariantViolation, j.Status)
	}

	if j.Status.IsTerminal() != (j.CompletedAt != nil) {
		return fmt.Errorf("%w: completed_at must be set iff terminal (status %s)",
			ErrInvariantViolation, j.Status)
	}

	if j.UpdatedAt.Before(j.CreatedAt) {
		return fmt.Errorf("%w: updated_at before created_at", ErrInvariantViolation)
	}
	return nil
}

// CheckUpdate validates that after is a legal successor of before: the
// descriptive fields are untouched, terminal reports are frozen, and any
// status change follows the transition table.
func CheckUpdate(before, after *ReportJob) error {
	if before.Status.IsTerminal() {
		return fmt.Errorf("%w: report %s is %s", ErrInvalidTransition, before.ID, before.Status)
	}
	if before.Status != after.Status && !CanTransition(before.Status, after.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, before.Status, after.Status)
	}
	if after.ID != before.ID ||
		after.Title != before.Title ||
		after.Description != before.Description ||
		after.VideoID != before.VideoID ||
		after.TeamName != before.TeamName ||
		after.OpponentName != before.OpponentName ||
		after.OwnerID != before.OwnerID ||
		!equalString(after.VideoTitle, before.VideoTitle) ||
		!equalTime(after.GameDate, before.GameDate) ||
		!after.CreatedAt.Equal(before.CreatedAt) {
		return fmt.Errorf("%w: descriptive fields are immutable", ErrInvariantViolation)
	}
	return after.Validate()
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
