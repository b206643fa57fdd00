package actors

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"earmark/label"
	"earmark/policy"
	"earmark/review"
)

// Job is one label submission for a submitter to perform.
type Job struct {
	CaseID  string
	RaterID string
	Payload label.Payload
}

// Submitter drains jobs and pushes each label through the review engine.
// Duplicate submissions are expected under contention and swallowed.
func Submitter(ctx context.Context, svc *review.Service, jobs <-chan Job, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case job, ok := <-jobs:
			if !ok {
				return nil
			}
			_, err := svc.HandleSubmission(ctx, review.SubmitRequest{
				CaseID:     job.CaseID,
				RaterID:    job.RaterID,
				Payload:    job.Payload,
				Confidence: rand.Float64(),
				DurationMS: int64(rand.Intn(90_000)),
			})
			switch {
			case err == nil:
			case errors.Is(err, review.ErrDuplicateSubmission):
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil
			case Transient(err):
				// connection was chaos-killed mid-flight; the dropped label is
				// caught by the unresolved-case check if it mattered
			default:
				return err
			}
		}
	}
}

// PolicyFlipper toggles the review mode between dual and triage so resolutions
// land under both regimes during a run.
func PolicyFlipper(ctx context.Context, store *policy.Store, stop <-chan struct{}) error {
	modes := []policy.Mode{policy.ModeDual, policy.ModeTriage}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := store.SetReviewMode(ctx, modes[rand.Intn(len(modes))]); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if !Transient(err) {
				return err
			}
		}
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)
	}
}

// Adjudicator picks an open disputed or escalated case and closes it with the
// earliest submission. Races with other adjudicators are benign: the loser
// sees ErrAlreadyAdjudicated.
func Adjudicator(ctx context.Context, pool *pgxpool.Pool, repo *review.Repository, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var caseID string
		var subID int64
		err := pool.QueryRow(ctx, `SELECT r.case_id, (SELECT s.id FROM submissions s WHERE s.case_id = r.case_id ORDER BY s.created_at, s.id LIMIT 1)
                                   FROM resolutions r WHERE r.status IN ('disputed','escalated') LIMIT 1`).Scan(&caseID, &subID)
		if err == nil {
			_, err = repo.Adjudicate(ctx, caseID, subID)
			if err != nil && !errors.Is(err, review.ErrAlreadyAdjudicated) && !errors.Is(err, review.ErrResolutionNotFound) {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				if !Transient(err) {
					return err
				}
			}
		}
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}

// TieBreaker plays the recruited third rater: it finds a disputed case where
// the extra assignee has not yet submitted and files the tie-break label.
func TieBreaker(ctx context.Context, pool *pgxpool.Pool, svc *review.Service, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var caseID, raterID string
		err := pool.QueryRow(ctx, `SELECT a.case_id, a.rater_id
                                   FROM assignments a
                                   JOIN resolutions r ON r.case_id = a.case_id AND r.status = 'disputed'
                                   WHERE NOT EXISTS (SELECT 1 FROM submissions s WHERE s.case_id = a.case_id AND s.rater_id = a.rater_id)
                                   LIMIT 1`).Scan(&caseID, &raterID)
		if err == nil {
			_, err = svc.HandleSubmission(ctx, review.SubmitRequest{
				CaseID:  caseID,
				RaterID: raterID,
				Payload: RandomPayload(),
			})
			if err != nil && !errors.Is(err, review.ErrDuplicateSubmission) {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				if !Transient(err) {
					return err
				}
			}
		}
		time.Sleep(time.Duration(60+rand.Intn(120)) * time.Millisecond)
	}
}

// Transient reports whether err is an expected casualty of the run itself:
// a backend the chaos actor killed, or contention the engine's bounded
// retry gave up on. Neither indicates an engine bug.
func Transient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57P01", "08006", "40001", "40P01":
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") || strings.Contains(msg, "unexpected EOF") || strings.Contains(msg, "connection reset")
}

// RandomPayload builds a complete label from the vocabulary, biased so that
// independent raters agree roughly half the time.
func RandomPayload() label.Payload {
	losses := []string{label.LossNormal, label.LossSensorineural}
	severities := []string{label.SeverityNormal, label.SeverityModerate}
	recs := []string{label.RecommendNone, label.RecommendRefer}
	ear := func() label.EarFinding {
		return label.EarFinding{
			LossType:         losses[rand.Intn(len(losses))],
			Severity:         severities[rand.Intn(len(severities))],
			FrequencyProfile: "flat",
		}
	}
	return label.Payload{
		Right:          ear(),
		Left:           ear(),
		Recommendation: recs[rand.Intn(len(recs))],
	}
}
