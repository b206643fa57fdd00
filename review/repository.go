package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrCaseNotFound signals the submission references an unknown case.
	ErrCaseNotFound = errors.New("review: case not found")
	// ErrDuplicateSubmission signals the rater already labeled this case.
	ErrDuplicateSubmission = errors.New("review: rater already submitted for case")
	// ErrResolutionExists signals the one-resolution-per-case constraint
	// rejected a second insert. The engine treats this as a benign no-op.
	ErrResolutionExists = errors.New("review: resolution already exists")
	// ErrResolutionNotFound is returned when no resolution row exists yet.
	ErrResolutionNotFound = errors.New("review: resolution not found")
	// ErrAlreadyAdjudicated signals the resolution left the
	// disputed/escalated states before this adjudication attempt.
	ErrAlreadyAdjudicated = errors.New("review: resolution already adjudicated")
)

// Repository handles data access for submissions and resolutions. The
// tx-scoped methods form the engine's lock -> count -> decide sequence and
// must all run on the same transaction.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertSubmission appends the rater's label inside the active transaction.
func (r *Repository) InsertSubmission(ctx context.Context, tx pgx.Tx, params SubmissionParams) (Submission, error) {
	const insertSQL = `
		INSERT INTO submissions (case_id, rater_id, payload, confidence, duration_ms)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, case_id, rater_id, payload, confidence, duration_ms, created_at
	`

	var sub Submission
	err := tx.QueryRow(ctx, insertSQL,
		params.CaseID,
		params.RaterID,
		params.Payload,
		params.Confidence,
		params.DurationMS,
	).Scan(&sub.ID, &sub.CaseID, &sub.RaterID, &sub.Payload, &sub.Confidence, &sub.DurationMS, &sub.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return Submission{}, ErrDuplicateSubmission
			case "23503":
				return Submission{}, ErrCaseNotFound
			}
		}
		return Submission{}, fmt.Errorf("review: insert submission: %w", err)
	}
	return sub, nil
}

// LockCase takes the exclusive case-scoped lock that serializes concurrent
// resolution attempts. Held until the enclosing transaction ends.
func (r *Repository) LockCase(ctx context.Context, tx pgx.Tx, caseID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM cases WHERE id = $1 FOR UPDATE`, caseID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCaseNotFound
		}
		return fmt.Errorf("review: lock case: %w", err)
	}
	return nil
}

// CountSubmissions counts the case's submissions as visible to the
// transaction. Safe only after LockCase on the same transaction.
func (r *Repository) CountSubmissions(ctx context.Context, tx pgx.Tx, caseID string) (int, error) {
	var n int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM submissions WHERE case_id = $1`, caseID).Scan(&n); err != nil {
		return 0, fmt.Errorf("review: count submissions: %w", err)
	}
	return n, nil
}

// FirstTwo loads the two earliest submissions for the case. Creation time
// orders the pair; the serial id breaks timestamp ties deterministically.
func (r *Repository) FirstTwo(ctx context.Context, tx pgx.Tx, caseID string) ([]Submission, error) {
	const query = `
		SELECT id, case_id, rater_id, payload, confidence, duration_ms, created_at
		FROM submissions
		WHERE case_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT 2
	`

	rows, err := tx.Query(ctx, query, caseID)
	if err != nil {
		return nil, fmt.Errorf("review: load pair: %w", err)
	}
	defer rows.Close()

	subs := make([]Submission, 0, 2)
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(&sub.ID, &sub.CaseID, &sub.RaterID, &sub.Payload, &sub.Confidence, &sub.DurationMS, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("review: scan pair: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("review: iterate pair: %w", err)
	}
	return subs, nil
}

// ResolutionExists reports whether the case already carries a resolution.
func (r *Repository) ResolutionExists(ctx context.Context, tx pgx.Tx, caseID string) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM resolutions WHERE case_id = $1)`, caseID).Scan(&exists); err != nil {
		return false, fmt.Errorf("review: check resolution: %w", err)
	}
	return exists, nil
}

// InsertResolution writes the case's single resolution row. A unique
// violation maps to ErrResolutionExists so callers can treat the race
// loser as a no-op.
func (r *Repository) InsertResolution(ctx context.Context, tx pgx.Tx, caseID string, status Status, finalSubmissionID *int64) error {
	const insertSQL = `
		INSERT INTO resolutions (case_id, status, final_submission_id)
		VALUES ($1, $2, $3)
	`

	if _, err := tx.Exec(ctx, insertSQL, caseID, status, finalSubmissionID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrResolutionExists
		}
		return fmt.Errorf("review: insert resolution: %w", err)
	}
	return nil
}

// GetResolution fetches the case's resolution for the read surface.
func (r *Repository) GetResolution(ctx context.Context, caseID string) (Resolution, error) {
	const query = `
		SELECT id, case_id, status, final_submission_id, created_at, updated_at
		FROM resolutions
		WHERE case_id = $1
	`

	var res Resolution
	err := r.pool.QueryRow(ctx, query, caseID).
		Scan(&res.ID, &res.CaseID, &res.Status, &res.FinalSubmissionID, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resolution{}, ErrResolutionNotFound
		}
		return Resolution{}, fmt.Errorf("review: get resolution: %w", err)
	}
	return res, nil
}

// Adjudicate applies the external human decision: disputed/escalated moves
// to resolved exactly once, recording the winning submission. The engine
// itself never calls this.
func (r *Repository) Adjudicate(ctx context.Context, caseID string, finalSubmissionID int64) (Resolution, error) {
	const updateSQL = `
		UPDATE resolutions
		SET status = 'resolved',
		    final_submission_id = $2,
		    updated_at = now()
		WHERE case_id = $1
		  AND status IN ('disputed', 'escalated')
		RETURNING id, case_id, status, final_submission_id, created_at, updated_at
	`

	var res Resolution
	err := r.pool.QueryRow(ctx, updateSQL, caseID, finalSubmissionID).
		Scan(&res.ID, &res.CaseID, &res.Status, &res.FinalSubmissionID, &res.CreatedAt, &res.UpdatedAt)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Resolution{}, fmt.Errorf("review: adjudicate: %w", err)
	}

	// Distinguish "no resolution yet" from "already terminal".
	var status Status
	if err := r.pool.QueryRow(ctx, `SELECT status FROM resolutions WHERE case_id = $1`, caseID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resolution{}, ErrResolutionNotFound
		}
		return Resolution{}, fmt.Errorf("review: adjudicate fetch: %w", err)
	}
	return Resolution{}, ErrAlreadyAdjudicated
}
