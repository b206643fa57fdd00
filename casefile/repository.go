package casefile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested case does not exist.
var ErrNotFound = errors.New("casefile: not found")

// Repository provides access to case records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new case referencing an already-uploaded image.
func (r *Repository) Create(ctx context.Context, imagePath string) (Case, error) {
	if imagePath == "" {
		return Case{}, fmt.Errorf("casefile: image path required")
	}

	const query = `
		INSERT INTO cases (image_path)
		VALUES ($1)
		RETURNING id, image_path, created_at
	`

	var c Case
	if err := r.pool.QueryRow(ctx, query, imagePath).Scan(&c.ID, &c.ImagePath, &c.CreatedAt); err != nil {
		return Case{}, fmt.Errorf("casefile: insert: %w", err)
	}
	return c, nil
}

// GetByID fetches a case by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Case, error) {
	const query = `
		SELECT id, image_path, created_at
		FROM cases
		WHERE id = $1
	`

	var c Case
	err := r.pool.QueryRow(ctx, query, id).Scan(&c.ID, &c.ImagePath, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, ErrNotFound
		}
		return Case{}, fmt.Errorf("casefile: query by id: %w", err)
	}
	return c, nil
}

// PendingForRater lists cases assigned to the rater that still lack the
// rater's submission, oldest assignment first.
func (r *Repository) PendingForRater(ctx context.Context, raterID string, limit int) ([]QueueItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT c.id, c.image_path, a.created_at
		FROM assignments a
		JOIN cases c ON c.id = a.case_id
		WHERE a.rater_id = $1
		  AND NOT EXISTS (
		        SELECT 1 FROM submissions s
		        WHERE s.case_id = a.case_id AND s.rater_id = a.rater_id
		  )
		ORDER BY a.created_at ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, raterID, limit)
	if err != nil {
		return nil, fmt.Errorf("casefile: pending queue: %w", err)
	}
	defer rows.Close()

	items := make([]QueueItem, 0, limit)
	for rows.Next() {
		var item QueueItem
		if err := rows.Scan(&item.CaseID, &item.ImagePath, &item.AssignedAt); err != nil {
			return nil, fmt.Errorf("casefile: scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("casefile: iterate queue: %w", err)
	}

	return items, nil
}
