package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, owner_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.OwnerID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Reports ---

const reportColumns = `id, title, description, video_id, video_title, team_name, opponent_name,
	game_date, owner_id, status, artifact_location, analysis_result, error_message, attempts,
	lease_expires_at, completed_at, created_at, updated_at`

func (s *PostgresStore) CreateReport(ctx context.Context, job *models.ReportJob) error {
	if err := validateNew(job); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO report_jobs (id, title, description, video_id, video_title, team_name, opponent_name,
		   game_date, owner_id, status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.Title, job.Description, job.VideoID, job.VideoTitle, job.TeamName, job.OpponentName,
		job.GameDate, job.OwnerID, job.Status, job.Attempts, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, id uuid.UUID) (*models.ReportJob, error) {
	job, err := scanReport(s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM report_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]*models.ReportJob, int, error) {
	where := "TRUE"
	args := []any{}
	if filter.OwnerID != "" {
		where = "owner_id = $1"
		args = append(args, filter.OwnerID)
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM report_jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	offset, limit := NormalizePage(filter.Offset, filter.Limit)
	query := fmt.Sprintf(
		`SELECT %s FROM report_jobs WHERE %s ORDER BY created_at DESC, seq DESC LIMIT $%d OFFSET $%d`,
		reportColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	jobs := []*models.ReportJob{}
	for rows.Next() {
		job, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan report: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) UpdateReport(ctx context.Context, id uuid.UUID, fn Mutator) (*models.ReportJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update report: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	current, err := scanReport(tx.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM report_jobs WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock report: %w", err)
	}

	next, err := applyMutation(current, fn, time.Now().UTC())
	if errors.Is(err, ErrNoChange) {
		return current, ErrNoChange
	}
	if err != nil {
		return nil, err
	}

	analysis, err := marshalAnalysis(next.AnalysisResult)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE report_jobs SET status = $2, artifact_location = $3, analysis_result = $4,
		   error_message = $5, attempts = $6, lease_expires_at = $7, completed_at = $8, updated_at = $9
		 WHERE id = $1`,
		id, next.Status, next.ArtifactLocation, analysis, next.ErrorMessage, next.Attempts,
		next.LeaseExpiresAt, next.CompletedAt, next.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update report: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit report update: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) DeleteReport(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM report_jobs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete report: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListStaleReports(ctx context.Context, filter StaleFilter) ([]*models.ReportJob, error) {
	_, limit := NormalizePage(0, filter.Limit)
	rows, err := s.pool.Query(ctx,
		`SELECT `+reportColumns+` FROM report_jobs
		 WHERE (status = 'queued' AND created_at < $1)
		    OR (status = 'processing' AND lease_expires_at < $2)
		 ORDER BY created_at ASC, seq ASC LIMIT $3`,
		filter.QueuedBefore, filter.LeaseExpiredBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale reports: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ReportJob
	for rows.Next() {
		job, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanReport(row pgx.Row) (*models.ReportJob, error) {
	var j models.ReportJob
	var analysis []byte
	if err := row.Scan(&j.ID, &j.Title, &j.Description, &j.VideoID, &j.VideoTitle, &j.TeamName,
		&j.OpponentName, &j.GameDate, &j.OwnerID, &j.Status, &j.ArtifactLocation, &analysis,
		&j.ErrorMessage, &j.Attempts, &j.LeaseExpiresAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if analysis != nil {
		var doc models.AnalysisDocument
		if err := json.Unmarshal(analysis, &doc); err != nil {
			return nil, fmt.Errorf("decode analysis result: %w", err)
		}
		j.AnalysisResult = &doc
	}
	return &j, nil
}

func marshalAnalysis(doc *models.AnalysisDocument) ([]byte, error) {
	if doc == nil {
		return nil, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode analysis result: %w", err)
	}
	return b, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
