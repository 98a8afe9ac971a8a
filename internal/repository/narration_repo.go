package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studybuddy/internal/model"
)

// NarrationRepository stores narration jobs and their progress.
type NarrationRepository interface {
	CreateJob(ctx context.Context, job *model.NarrationJob) error
	// GetJob returns nil when the job does not exist.
	GetJob(ctx context.Context, id string) (*model.NarrationJob, error)
	UpdateStatus(ctx context.Context, id, status string) error
	// Claim moves a queued job to generating, or takes over a generating job
	// whose last update is older than lease. It reports whether this caller
	// now owns the job.
	Claim(ctx context.Context, id string, lease time.Duration) (bool, error)
	Complete(ctx context.Context, id, script, storagePath, provider string) error
	Fail(ctx context.Context, id, details string) error
}

type narrationRepo struct {
	pool *pgxpool.Pool
}

func NewNarrationRepo(pool *pgxpool.Pool) NarrationRepository {
	return &narrationRepo{pool: pool}
}

const narrationColumns = `id, user_id, title, style, source_text, status, script, storage_path, provider, error_details, created_at, updated_at`

func (r *narrationRepo) CreateJob(ctx context.Context, job *model.NarrationJob) error {
	q := `INSERT INTO narration_jobs (user_id, title, style, source_text, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, job.UserID, job.Title, job.Style, job.SourceText, job.Status).
		Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create narration job for user %s: %w", job.UserID, err)
	}
	return nil
}

func (r *narrationRepo) GetJob(ctx context.Context, id string) (*model.NarrationJob, error) {
	var j model.NarrationJob
	err := r.pool.QueryRow(ctx, `SELECT `+narrationColumns+` FROM narration_jobs WHERE id = $1`, id).Scan(
		&j.ID,
		&j.UserID,
		&j.Title,
		&j.Style,
		&j.SourceText,
		&j.Status,
		&j.Script,
		&j.StoragePath,
		&j.Provider,
		&j.ErrorDetails,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch narration job %s: %w", id, err)
	}
	return &j, nil
}

func (r *narrationRepo) UpdateStatus(ctx context.Context, id, status string) error {
	const q = `UPDATE narration_jobs SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, status); err != nil {
		return fmt.Errorf("set narration job %s to %s: %w", id, status, err)
	}
	return nil
}

func (r *narrationRepo) Claim(ctx context.Context, id string, lease time.Duration) (bool, error) {
	const q = `
		UPDATE narration_jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		  AND (status = $3 OR (status = $2 AND updated_at < NOW() - $4 * INTERVAL '1 second'))`
	tag, err := r.pool.Exec(ctx, q, id, model.NarrationGenerating, model.NarrationQueued, int64(lease/time.Second))
	if err != nil {
		return false, fmt.Errorf("claim narration job %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *narrationRepo) Complete(ctx context.Context, id, script, storagePath, provider string) error {
	const q = `
		UPDATE narration_jobs
		SET status = $2, script = $3, storage_path = $4, provider = $5, error_details = NULL, updated_at = NOW()
		WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, model.NarrationComplete, script, storagePath, provider); err != nil {
		return fmt.Errorf("complete narration job %s: %w", id, err)
	}
	return nil
}

func (r *narrationRepo) Fail(ctx context.Context, id, details string) error {
	const q = `UPDATE narration_jobs SET status = $2, error_details = $3, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, model.NarrationFailed, details); err != nil {
		return fmt.Errorf("fail narration job %s: %w", id, err)
	}
	return nil
}
