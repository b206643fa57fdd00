package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnknownReference signals the case or rater does not exist.
var ErrUnknownReference = errors.New("assignment: unknown case or rater")

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the ledger can
// serve the standalone admin path and the engine's in-transaction path.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository is the assignment ledger. Inserts are idempotent per
// (case, rater): assigning an existing pair is a silent no-op, never an
// error, so admin retries and recruiter races stay benign.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Assign records the rater's responsibility for the case in its own
// transaction. Used by the admin assignment path.
func (r *Repository) Assign(ctx context.Context, caseID, raterID string) error {
	return assign(ctx, r.pool, caseID, raterID)
}

// AssignTx records the assignment inside the caller's transaction. The
// resolution engine uses this so recruiting shares the triggering
// submission's atomic unit.
func (r *Repository) AssignTx(ctx context.Context, tx pgx.Tx, caseID, raterID string) error {
	return assign(ctx, tx, caseID, raterID)
}

func assign(ctx context.Context, q querier, caseID, raterID string) error {
	if caseID == "" || raterID == "" {
		return fmt.Errorf("assignment: case id and rater id required")
	}

	const query = `
		INSERT INTO assignments (case_id, rater_id)
		VALUES ($1, $2)
		ON CONFLICT (case_id, rater_id) DO NOTHING
	`

	if _, err := q.Exec(ctx, query, caseID, raterID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrUnknownReference
		}
		return fmt.Errorf("assignment: insert: %w", err)
	}
	return nil
}

// ListForCase returns every assignment for the case, oldest first.
func (r *Repository) ListForCase(ctx context.Context, caseID string) ([]Assignment, error) {
	return listForCase(ctx, r.pool, caseID)
}

func listForCase(ctx context.Context, q querier, caseID string) ([]Assignment, error) {
	const query = `
		SELECT id, case_id, rater_id, created_at
		FROM assignments
		WHERE case_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := q.Query(ctx, query, caseID)
	if err != nil {
		return nil, fmt.Errorf("assignment: list for case: %w", err)
	}
	defer rows.Close()

	out := make([]Assignment, 0, 4)
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.CaseID, &a.RaterID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("assignment: scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("assignment: iterate: %w", err)
	}
	return out, nil
}
