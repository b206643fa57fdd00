package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"earmark/label"
	"earmark/policy"
)

// SubmitRequest is one rater's completed label for one case, normalized
// for the service. Identity comes from the authenticated caller and is
// trusted as given.
type SubmitRequest struct {
	CaseID     string
	RaterID    string
	Payload    label.Payload
	Confidence float64
	DurationMS int64
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the engine. All methods run on
// the transaction opened for the triggering submission.
type Store interface {
	InsertSubmission(ctx context.Context, tx pgx.Tx, params SubmissionParams) (Submission, error)
	LockCase(ctx context.Context, tx pgx.Tx, caseID string) error
	CountSubmissions(ctx context.Context, tx pgx.Tx, caseID string) (int, error)
	FirstTwo(ctx context.Context, tx pgx.Tx, caseID string) ([]Submission, error)
	ResolutionExists(ctx context.Context, tx pgx.Tx, caseID string) (bool, error)
	InsertResolution(ctx context.Context, tx pgx.Tx, caseID string, status Status, finalSubmissionID *int64) error
}

// ModeReader exposes the review policy inside the engine's transaction.
type ModeReader interface {
	ReviewMode(ctx context.Context, tx pgx.Tx) (policy.Mode, error)
}

// RaterRecruiter selects a third rater for a disputed case.
type RaterRecruiter interface {
	Recruit(ctx context.Context, tx pgx.Tx, caseID string) (raterID string, ok bool, err error)
}

// Ledger records assignments inside the engine's transaction.
type Ledger interface {
	AssignTx(ctx context.Context, tx pgx.Tx, caseID, raterID string) error
}

// Service is the resolution engine. Every accepted submission runs through
// HandleSubmission, which appends the label and performs the
// count-and-decide sequence in one transaction under the case lock.
type Service struct {
	pool      TxBeginner
	repo      Store
	modes     ModeReader
	recruiter RaterRecruiter
	ledger    Ledger
	log       *slog.Logger

	maxAttempts int
}

func NewService(pool TxBeginner, repo Store, modes ModeReader, recruiter RaterRecruiter, ledger Ledger, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		modes:       modes,
		recruiter:   recruiter,
		ledger:      ledger,
		log:         log,
		maxAttempts: 3,
	}
}

// HandleSubmission appends the label and, when the case reaches its second
// submission, writes the resolution (plus a triage assignment when the
// raters disagree) before the same transaction commits. Lock contention
// that Postgres resolves by killing a transaction (deadlock or
// serialization failure) retries the whole submission from scratch;
// nothing is ever partially applied.
func (s *Service) HandleSubmission(ctx context.Context, req SubmitRequest) (Submission, error) {
	if req.CaseID == "" {
		return Submission{}, fmt.Errorf("review: missing case id")
	}
	if req.RaterID == "" {
		return Submission{}, fmt.Errorf("review: missing rater id")
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return Submission{}, fmt.Errorf("review: marshal payload: %w", err)
	}

	var sub Submission
	for attempt := 1; ; attempt++ {
		sub, err = s.submitOnce(ctx, req, payload)
		if err == nil || !retryable(err) || attempt >= s.maxAttempts {
			break
		}
		s.log.Warn("review: transaction aborted by contention, retrying",
			"case_id", req.CaseID, "attempt", attempt, "error", err)
	}
	return sub, err
}

func (s *Service) submitOnce(ctx context.Context, req SubmitRequest, payload []byte) (Submission, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Submission{}, fmt.Errorf("review: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sub, err := s.repo.InsertSubmission(ctx, tx, SubmissionParams{
		CaseID:     req.CaseID,
		RaterID:    req.RaterID,
		Payload:    payload,
		Confidence: req.Confidence,
		DurationMS: req.DurationMS,
	})
	if err != nil {
		return Submission{}, err
	}

	if err := s.resolve(ctx, tx, req.CaseID); err != nil {
		return Submission{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Submission{}, fmt.Errorf("review: commit tx: %w", err)
	}
	return sub, nil
}

// resolve runs the count-and-decide sequence. The case lock is acquired
// first so a concurrent submitter's count always observes this
// transaction's committed submission, or vice versa.
func (s *Service) resolve(ctx context.Context, tx pgx.Tx, caseID string) error {
	if err := s.repo.LockCase(ctx, tx, caseID); err != nil {
		return err
	}

	n, err := s.repo.CountSubmissions(ctx, tx, caseID)
	if err != nil {
		return err
	}
	// Only the second submission triggers a decision. The third (triage)
	// submission and any later replays fall through here.
	if n != 2 {
		return nil
	}

	// The count check alone is not an idempotency guard: a resolution can
	// already exist when submissions were replayed into a decided case.
	exists, err := s.repo.ResolutionExists(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	pair, err := s.repo.FirstTwo(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("review: expected 2 submissions for case %s, got %d", caseID, len(pair))
	}

	first, second := pair[0], pair[1]
	if label.Equal(label.Decode(first.Payload), label.Decode(second.Payload)) {
		_, err := s.writeResolution(ctx, tx, caseID, StatusAgreed, &first.ID)
		return err
	}

	mode, err := s.modes.ReviewMode(ctx, tx)
	if err != nil {
		// Fail open: an unreadable policy must not strand the case.
		s.log.Warn("review: review policy unreadable, defaulting to triage",
			"case_id", caseID, "error", err)
		mode = policy.ModeTriage
	}

	if mode == policy.ModeDual {
		_, err := s.writeResolution(ctx, tx, caseID, StatusEscalated, nil)
		return err
	}

	created, err := s.writeResolution(ctx, tx, caseID, StatusDisputed, nil)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	raterID, ok, err := s.recruiter.Recruit(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if !ok {
		// Normal outcome: the case stays disputed with its original raters.
		s.log.Info("review: no eligible third rater", "case_id", caseID)
		return nil
	}
	return s.ledger.AssignTx(ctx, tx, caseID, raterID)
}

func (s *Service) writeResolution(ctx context.Context, tx pgx.Tx, caseID string, status Status, finalSubmissionID *int64) (bool, error) {
	err := s.repo.InsertResolution(ctx, tx, caseID, status, finalSubmissionID)
	if errors.Is(err, ErrResolutionExists) {
		// Lost a race the lock should have prevented; the surviving row
		// wins and this attempt becomes a no-op.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// retryable reports whether the transaction died to store contention that
// a clean re-run can win: deadlock_detected or serialization_failure.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
