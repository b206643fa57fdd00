package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Recruiter selects an additional rater when the triage policy needs a
// third opinion on a disputed case.
type Recruiter struct{}

func NewRecruiter() *Recruiter {
	return &Recruiter{}
}

// Recruit picks one uniformly-random user with the rater role and no
// existing assignment for the case. It runs inside the engine's
// transaction so the eligibility check and the subsequent assignment see
// the same snapshot. An empty pool returns ok=false, which is a normal
// outcome, not an error.
//
// ORDER BY random() is fine here: the pool is small and the randomness
// only spreads load, it carries no security weight.
func (r *Recruiter) Recruit(ctx context.Context, tx pgx.Tx, caseID string) (raterID string, ok bool, err error) {
	const query = `
		SELECT u.id
		FROM users u
		WHERE u.role = 'rater'
		  AND NOT EXISTS (
		        SELECT 1 FROM assignments a
		        WHERE a.case_id = $1 AND a.rater_id = u.id
		  )
		ORDER BY random()
		LIMIT 1
	`

	err = tx.QueryRow(ctx, query, caseID).Scan(&raterID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("assignment: recruit: %w", err)
	}
	return raterID, true, nil
}
