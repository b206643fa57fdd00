package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_resolution_per_case",
			SQL: `SELECT case_id, COUNT(*) FROM resolutions
                  GROUP BY case_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_resolution_needs_two_submissions",
			SQL: `SELECT r.case_id FROM resolutions r
                  WHERE (SELECT COUNT(*) FROM submissions s WHERE s.case_id = r.case_id) < 2`,
		},
		{
			Name: "O3_agreed_final_is_earliest",
			SQL: `SELECT r.case_id FROM resolutions r
                  WHERE r.status = 'agreed'
                    AND r.final_submission_id IS DISTINCT FROM (
                        SELECT s.id FROM submissions s
                        WHERE s.case_id = r.case_id
                        ORDER BY s.created_at ASC, s.id ASC LIMIT 1)`,
		},
		{
			Name: "O4_submission_per_rater_unique",
			SQL: `SELECT case_id, rater_id, COUNT(*) FROM submissions
                  GROUP BY case_id, rater_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_assignment_per_rater_unique",
			SQL: `SELECT case_id, rater_id, COUNT(*) FROM assignments
                  GROUP BY case_id, rater_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_assignment_cap",
			SQL: `SELECT case_id, COUNT(*) FROM assignments
                  GROUP BY case_id HAVING COUNT(*) > 3`,
		},
		{
			Name: "O7_third_assignment_implies_dispute",
			SQL: `SELECT a.case_id FROM assignments a
                  GROUP BY a.case_id HAVING COUNT(*) = 3
                  EXCEPT
                  SELECT case_id FROM resolutions
                  WHERE status IN ('disputed', 'resolved')`,
		},
		{
			Name: "O8_resolution_status_domain",
			SQL: `SELECT id, status FROM resolutions
                  WHERE status NOT IN ('agreed', 'disputed', 'escalated', 'resolved')`,
		},
		{
			Name: "O9_policy_single_row",
			SQL: `SELECT 'review_policy row count' AS detail
                  WHERE (SELECT COUNT(*) FROM review_policy) <> 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
