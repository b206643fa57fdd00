package assignment

import "time"

// Assignment records that a rater is responsible for labeling a case.
// Rows are created by an admin or by the recruiter and never change.
type Assignment struct {
	ID        string
	CaseID    string
	RaterID   string
	CreatedAt time.Time
}
