package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studybuddy/internal/model"
)

// MaterialRepository stores generated study artifacts.
type MaterialRepository interface {
	CreateMaterial(ctx context.Context, m *model.Material) error
	// GetMaterial returns nil when no material with that ID belongs to the user.
	GetMaterial(ctx context.Context, userID, id string) (*model.Material, error)
	// FindBySourceHash returns the user's earlier artifact for the same input, or nil.
	FindBySourceHash(ctx context.Context, userID string, contentType model.ContentType, hash string) (*model.Material, error)
	ListMaterials(ctx context.Context, userID string, limit, offset int) ([]model.Material, error)
	DeleteMaterial(ctx context.Context, userID, id string) (bool, error)
}

type materialRepo struct {
	pool *pgxpool.Pool
}

func NewMaterialRepo(pool *pgxpool.Pool) MaterialRepository {
	return &materialRepo{pool: pool}
}

const materialColumns = `id, user_id, content_type, title, source_hash, provider, content, created_at, updated_at`

func scanMaterial(row pgx.Row) (*model.Material, error) {
	var m model.Material
	err := row.Scan(&m.ID, &m.UserID, &m.Type, &m.Title, &m.SourceHash, &m.Provider, &m.Content, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMaterial inserts m. A concurrent insert of the same source hash keeps
// the first row, and m is filled from whichever row is stored.
func (r *materialRepo) CreateMaterial(ctx context.Context, m *model.Material) error {
	q := `
		INSERT INTO study_materials (user_id, content_type, title, source_hash, provider, content)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, content_type, source_hash) DO UPDATE SET updated_at = study_materials.updated_at
		RETURNING ` + materialColumns
	stored, err := scanMaterial(r.pool.QueryRow(ctx, q, m.UserID, m.Type, m.Title, m.SourceHash, m.Provider, m.Content))
	if err != nil {
		return fmt.Errorf("create %s material for user %s: %w", m.Type, m.UserID, err)
	}
	*m = *stored
	return nil
}

func (r *materialRepo) GetMaterial(ctx context.Context, userID, id string) (*model.Material, error) {
	q := `SELECT ` + materialColumns + ` FROM study_materials WHERE id = $1 AND user_id = $2`
	m, err := scanMaterial(r.pool.QueryRow(ctx, q, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch material %s: %w", id, err)
	}
	return m, nil
}

func (r *materialRepo) FindBySourceHash(ctx context.Context, userID string, contentType model.ContentType, hash string) (*model.Material, error) {
	q := `SELECT ` + materialColumns + ` FROM study_materials WHERE user_id = $1 AND content_type = $2 AND source_hash = $3`
	m, err := scanMaterial(r.pool.QueryRow(ctx, q, userID, contentType, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup %s material by hash for user %s: %w", contentType, userID, err)
	}
	return m, nil
}

func (r *materialRepo) ListMaterials(ctx context.Context, userID string, limit, offset int) ([]model.Material, error) {
	q := `SELECT ` + materialColumns + `
		FROM study_materials
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list materials for user %s: %w", userID, err)
	}
	defer rows.Close()

	materials := []model.Material{}
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, fmt.Errorf("scan material for user %s: %w", userID, err)
		}
		materials = append(materials, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate materials for user %s: %w", userID, err)
	}
	return materials, nil
}

func (r *materialRepo) DeleteMaterial(ctx context.Context, userID, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM study_materials WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete material %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}
