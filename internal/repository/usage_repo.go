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

// UsageUpdateFunc inspects and mutates a locked usage record. It returns
// whether the record must be saved. A non-nil error is handed back to the
// caller of UpdateUsage after the transaction finishes, so a mutation marked
// for saving is kept even when the update as a whole is refused.
type UsageUpdateFunc func(rec *model.UsageRecord) (save bool, err error)

// UsageRepository persists per-user quota counters.
type UsageRepository interface {
	// GetUsage returns the stored record, or nil when the user has none.
	GetUsage(ctx context.Context, userID string) (*model.UsageRecord, error)
	// UpdateUsage loads the user's record under a row lock, creating it with
	// windows starting at now when missing, and applies fn to it in the same
	// transaction. Concurrent updates for one user are serialized.
	UpdateUsage(ctx context.Context, userID string, now time.Time, fn UsageUpdateFunc) error
}

type usageRepo struct {
	pool *pgxpool.Pool
}

// NewUsageRepo creates a new UsageRepository.
func NewUsageRepo(pool *pgxpool.Pool) UsageRepository {
	return &usageRepo{pool: pool}
}

const usageColumns = `user_id, document_count, document_last_reset, lecture_count, lecture_last_reset`

func scanUsage(row pgx.Row) (*model.UsageRecord, error) {
	var rec model.UsageRecord
	err := row.Scan(
		&rec.UserID,
		&rec.Documents.Count,
		&rec.Documents.LastReset,
		&rec.Lectures.Count,
		&rec.Lectures.LastReset,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetUsage returns the stored record without touching its windows.
func (r *usageRepo) GetUsage(ctx context.Context, userID string) (*model.UsageRecord, error) {
	q := `SELECT ` + usageColumns + ` FROM usage_records WHERE user_id = $1`
	rec, err := scanUsage(r.pool.QueryRow(ctx, q, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch usage for user %s: %w", userID, err)
	}
	return rec, nil
}

// UpdateUsage runs fn against the row-locked record of the user.
func (r *usageRepo) UpdateUsage(ctx context.Context, userID string, now time.Time, fn UsageUpdateFunc) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("starting transaction for usage update: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const insertQ = `
		INSERT INTO usage_records (user_id, document_count, document_last_reset, lecture_count, lecture_last_reset)
		VALUES ($1, 0, $2, 0, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insertQ, userID, now); err != nil {
		return fmt.Errorf("creating usage record for user %s: %w", userID, err)
	}

	selectQ := `SELECT ` + usageColumns + ` FROM usage_records WHERE user_id = $1 FOR UPDATE`
	rec, err := scanUsage(tx.QueryRow(ctx, selectQ, userID))
	if err != nil {
		return fmt.Errorf("locking usage record for user %s: %w", userID, err)
	}

	save, fnErr := fn(rec)
	if save {
		const updateQ = `
			UPDATE usage_records
			SET document_count = $2,
			    document_last_reset = $3,
			    lecture_count = $4,
			    lecture_last_reset = $5,
			    updated_at = NOW()
			WHERE user_id = $1
		`
		_, err := tx.Exec(ctx, updateQ,
			userID,
			rec.Documents.Count,
			rec.Documents.LastReset,
			rec.Lectures.Count,
			rec.Lectures.LastReset,
		)
		if err != nil {
			return fmt.Errorf("saving usage for user %s: %w", userID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing usage for user %s: %w", userID, err)
	}
	return fnErr
}
