package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrNoChange is returned by a Mutator to abort an update without writing.
// UpdateReport passes it through together with the unchanged report.
var ErrNoChange = errors.New("no change")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateReport(ctx context.Context, job *models.ReportJob) error
	GetReport(ctx context.Context, id uuid.UUID) (*models.ReportJob, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]*models.ReportJob, int, error)
	// UpdateReport applies fn to the current report under a row lock and
	// persists the result in one write. The returned report is the stored
	// state after the call.
	UpdateReport(ctx context.Context, id uuid.UUID, fn Mutator) (*models.ReportJob, error)
	DeleteReport(ctx context.Context, id uuid.UUID) (bool, error)
	ListStaleReports(ctx context.Context, filter StaleFilter) ([]*models.ReportJob, error)
}

// Mutator edits a working copy of a report. Returning an error aborts the
// update; returning ErrNoChange aborts it silently.
type Mutator func(job *models.ReportJob) error

type ReportFilter struct {
	OwnerID string
	Offset  int
	Limit   int
}

// StaleFilter selects reports the recovery sweeper should re-dispatch:
// queued reports created before QueuedBefore, and processing reports whose
// lease expired before LeaseExpiredBefore.
type StaleFilter struct {
	QueuedBefore       time.Time
	LeaseExpiredBefore time.Time
	Limit              int
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// NormalizePage clamps list pagination: limit defaults to DefaultListLimit
// and is capped at MaxListLimit, offset is never negative.
func NormalizePage(offset, limit int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}

// applyMutation runs fn against a copy of current and validates the result.
// It stamps UpdatedAt so it never moves backwards.
func applyMutation(current *models.ReportJob, fn Mutator, now time.Time) (*models.ReportJob, error) {
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if now.Before(current.UpdatedAt) {
		now = current.UpdatedAt
	}
	next.UpdatedAt = now
	if err := models.CheckUpdate(current, next); err != nil {
		return nil, err
	}
	return next, nil
}

func validateNew(job *models.ReportJob) error {
	if job.Status != models.ReportStatusQueued {
		return fmt.Errorf("%w: new report has status %s", models.ErrInvariantViolation, job.Status)
	}
	return job.Validate()
}
