package casefile

import "context"

// CaseStore abstracts repository operations for the service.
type CaseStore interface {
	Create(ctx context.Context, imagePath string) (Case, error)
	GetByID(ctx context.Context, id string) (Case, error)
	PendingForRater(ctx context.Context, raterID string, limit int) ([]QueueItem, error)
}

// Service exposes business-level case operations.
type Service struct {
	repo CaseStore
}

// NewService builds a Service using the provided repository.
func NewService(repo CaseStore) *Service {
	return &Service{repo: repo}
}

// Create registers a new case for an uploaded image.
func (s *Service) Create(ctx context.Context, imagePath string) (Case, error) {
	return s.repo.Create(ctx, imagePath)
}

// GetByID returns the case for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Case, error) {
	return s.repo.GetByID(ctx, id)
}

// PendingForRater returns the rater's open labeling queue.
func (s *Service) PendingForRater(ctx context.Context, raterID string, limit int) ([]QueueItem, error) {
	return s.repo.PendingForRater(ctx, raterID, limit)
}
