package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Mode is the review policy applied when two raters disagree.
type Mode string

const (
	// ModeDual escalates disagreements for manual adjudication.
	ModeDual Mode = "dual"
	// ModeTriage recruits a third rater on disagreement. Default.
	ModeTriage Mode = "triage"
)

// ErrInvalidMode signals an unrecognised review mode value.
var ErrInvalidMode = errors.New("policy: invalid review mode")

// Valid reports whether m is a recognised review mode.
func (m Mode) Valid() bool {
	return m == ModeDual || m == ModeTriage
}

// Store reads and writes the single global review-mode setting.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ReviewMode reads the current mode inside the caller's transaction so the
// resolution decision sees a value consistent with that transaction.
// A missing row is not an error; it reads as the triage default.
func (s *Store) ReviewMode(ctx context.Context, tx pgx.Tx) (Mode, error) {
	var mode Mode
	err := tx.QueryRow(ctx, `SELECT review_mode FROM review_policy WHERE id`).Scan(&mode)
	if errors.Is(err, pgx.ErrNoRows) {
		return ModeTriage, nil
	}
	if err != nil {
		return "", fmt.Errorf("policy: read review mode: %w", err)
	}
	if !mode.Valid() {
		return "", fmt.Errorf("policy: %w: %q", ErrInvalidMode, mode)
	}
	return mode, nil
}

// SetReviewMode is the administrative write path.
func (s *Store) SetReviewMode(ctx context.Context, mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("policy: %w: %q", ErrInvalidMode, mode)
	}
	const q = `
		INSERT INTO review_policy (id, review_mode)
		VALUES (true, $1)
		ON CONFLICT (id) DO UPDATE SET review_mode = $1, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, q, mode); err != nil {
		return fmt.Errorf("policy: set review mode: %w", err)
	}
	return nil
}

// CurrentMode reads the mode outside any transaction, for the admin surface.
func (s *Store) CurrentMode(ctx context.Context) (Mode, error) {
	var mode Mode
	err := s.pool.QueryRow(ctx, `SELECT review_mode FROM review_policy WHERE id`).Scan(&mode)
	if errors.Is(err, pgx.ErrNoRows) {
		return ModeTriage, nil
	}
	if err != nil {
		return "", fmt.Errorf("policy: current mode: %w", err)
	}
	return mode, nil
}
