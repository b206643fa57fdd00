package casefile

import "time"

// Case is one unit of labeling work. ImagePath is an opaque blob-store
// reference; this service never touches the image bytes.
type Case struct {
	ID        string
	ImagePath string
	CreatedAt time.Time
}

// QueueItem is a case still awaiting the rater's label.
type QueueItem struct {
	CaseID     string
	ImagePath  string
	AssignedAt time.Time
}
