package review

import "time"

// Status is the resolution outcome for a case. All values are terminal for
// the engine; only external adjudication moves disputed/escalated onward.
type Status string

const (
	// StatusAgreed means both raters matched on every decision field.
	StatusAgreed Status = "agreed"
	// StatusDisputed means the raters disagreed under triage policy; a
	// third rater may have been recruited.
	StatusDisputed Status = "disputed"
	// StatusEscalated means the raters disagreed under dual policy; a
	// human adjudicator must act out-of-band.
	StatusEscalated Status = "escalated"
	// StatusResolved is set by external adjudication, never by the engine.
	StatusResolved Status = "resolved"
)

// Submission mirrors the submissions table. Rows are append-only.
type Submission struct {
	ID         int64
	CaseID     string
	RaterID    string
	Payload    []byte
	Confidence float64
	DurationMS int64
	CreatedAt  time.Time
}

// Resolution mirrors the resolutions table: at most one row per case.
type Resolution struct {
	ID                string
	CaseID            string
	Status            Status
	FinalSubmissionID *int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SubmissionParams enumerates the fields written for a new submission.
type SubmissionParams struct {
	CaseID     string
	RaterID    string
	Payload    []byte
	Confidence float64
	DurationMS int64
}
