package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"earmark/assignment"
	"earmark/auth"
	"earmark/casefile"
	"earmark/config"
	"earmark/db"
	"earmark/label"
	"earmark/policy"
	"earmark/review"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type caseService interface {
	Create(ctx context.Context, imagePath string) (casefile.Case, error)
	GetByID(ctx context.Context, id string) (casefile.Case, error)
	PendingForRater(ctx context.Context, raterID string, limit int) ([]casefile.QueueItem, error)
}

type assignmentLedger interface {
	Assign(ctx context.Context, caseID, raterID string) error
	ListForCase(ctx context.Context, caseID string) ([]assignment.Assignment, error)
}

type submissionHandler interface {
	HandleSubmission(ctx context.Context, req review.SubmitRequest) (review.Submission, error)
}

type resolutionStore interface {
	GetResolution(ctx context.Context, caseID string) (review.Resolution, error)
	Adjudicate(ctx context.Context, caseID string, finalSubmissionID int64) (review.Resolution, error)
}

type policyStore interface {
	CurrentMode(ctx context.Context) (policy.Mode, error)
	SetReviewMode(ctx context.Context, mode policy.Mode) error
}

type api struct {
	auth        authService
	cases       caseService
	assignments assignmentLedger
	engine      submissionHandler
	resolutions resolutionStore
	policy      policyStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	caseSvc := casefile.NewService(casefile.NewRepository(pool))
	ledger := assignment.NewRepository(pool)
	policySvc := policy.NewStore(pool)
	reviewRepo := review.NewRepository(pool)
	engine := review.NewService(pool, reviewRepo, policySvc, assignment.NewRecruiter(), ledger, logger)

	a := &api{
		auth:        authSvc,
		cases:       caseSvc,
		assignments: ledger,
		engine:      engine,
		resolutions: reviewRepo,
		policy:      policySvc,
	}

	logger.Info("earmark api listening", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, a.routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Post("/auth/register", a.handleRegister)
	r.Post("/auth/login", a.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)

		r.Get("/cases/{caseID}", a.handleGetCase)
		r.Get("/cases/{caseID}/resolution", a.handleGetResolution)
		r.Post("/cases/{caseID}/submissions", a.handleSubmit)
		r.Get("/queue", a.handleQueue)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAdmin)

			r.Post("/cases", a.handleCreateCase)
			r.Get("/cases/{caseID}/assignments", a.handleListAssignments)
			r.Post("/cases/{caseID}/assignments", a.handleAssign)
			r.Post("/cases/{caseID}/adjudication", a.handleAdjudicate)
			r.Get("/policy/review-mode", a.handleGetPolicy)
			r.Put("/policy/review-mode", a.handleSetPolicy)
		})
	})

	return r
}

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxRole
)

func (a *api) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, role, err := a.auth.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, userID)
		ctx = context.WithValue(ctx, ctxRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *api) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role, _ := r.Context().Value(ctxRole).(auth.Role); role != auth.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxUserID).(string)
	return id
}

// caseParam validates the caseID path parameter. Rejecting junk here keeps
// non-UUID strings from ever reaching a uuid column.
func caseParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "caseID")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusNotFound, "case not found")
		return "", false
	}
	return id, true
}

func (a *api) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	user, err := a.auth.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
		"role":      user.Role,
	})
}

func (a *api) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	result, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":        result.User.ID,
			"email":     result.User.Email,
			"full_name": result.User.FullName,
			"role":      result.User.Role,
		},
	})
}

func (a *api) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImagePath string `json:"image_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	c, err := a.cases.Create(r.Context(), req.ImagePath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, caseJSON(c))
}

func (a *api) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id, ok := caseParam(w, r)
	if !ok {
		return
	}
	c, err := a.cases.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, casefile.ErrNotFound) {
			writeError(w, http.StatusNotFound, "case not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "fetch case failed")
		return
	}
	writeJSON(w, http.StatusOK, caseJSON(c))
}

func (a *api) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RaterID string `json:"rater_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id, ok := caseParam(w, r)
	if !ok {
		return
	}
	if _, err := uuid.Parse(req.RaterID); err != nil {
		writeError(w, http.StatusBadRequest, "rater_id must be a UUID")
		return
	}

	err := a.assignments.Assign(r.Context(), id, req.RaterID)
	if err != nil {
		if errors.Is(err, assignment.ErrUnknownReference) {
			writeError(w, http.StatusNotFound, "unknown case or rater")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	id, ok := caseParam(w, r)
	if !ok {
		return
	}
	items, err := a.assignments.ListForCase(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list assignments failed")
		return
	}

	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"id":         item.ID,
			"case_id":    item.CaseID,
			"rater_id":   item.RaterID,
			"created_at": item.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": out})
}

func (a *api) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payload    label.Payload `json:"payload"`
		Confidence float64       `json:"confidence"`
		DurationMS int64         `json:"duration_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id, ok := caseParam(w, r)
	if !ok {
		return
	}
	sub, err := a.engine.HandleSubmission(r.Context(), review.SubmitRequest{
		CaseID:     id,
		RaterID:    callerID(r),
		Payload:    req.Payload,
		Confidence: req.Confidence,
		DurationMS: req.DurationMS,
	})
	if err != nil {
		switch {
		case errors.Is(err, review.ErrCaseNotFound):
			writeError(w, http.StatusNotFound, "case not found")
		case errors.Is(err, review.ErrDuplicateSubmission):
			writeError(w, http.StatusConflict, "label already submitted for this case")
		default:
			writeError(w, http.StatusInternalServerError, "submission failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         sub.ID,
		"case_id":    sub.CaseID,
		"created_at": sub.CreatedAt,
	})
}

func (a *api) handleGetResolution(w http.ResponseWriter, r *http.Request) {
	id, ok := caseParam(w, r)
	if !ok {
		return
	}
	res, err := a.resolutions.GetResolution(r.Context(), id)
	if err != nil {
		if errors.Is(err, review.ErrResolutionNotFound) {
			writeError(w, http.StatusNotFound, "case not resolved yet")
			return
		}
		writeError(w, http.StatusInternalServerError, "fetch resolution failed")
		return
	}
	writeJSON(w, http.StatusOK, resolutionJSON(res))
}

func (a *api) handleAdjudicate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FinalSubmissionID int64 `json:"final_submission_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	id, ok := caseParam(w, r)
	if !ok {
		return
	}
	res, err := a.resolutions.Adjudicate(r.Context(), id, req.FinalSubmissionID)
	if err != nil {
		switch {
		case errors.Is(err, review.ErrResolutionNotFound):
			writeError(w, http.StatusNotFound, "no resolution to adjudicate")
		case errors.Is(err, review.ErrAlreadyAdjudicated):
			writeError(w, http.StatusConflict, "resolution is already terminal")
		default:
			writeError(w, http.StatusInternalServerError, "adjudication failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, resolutionJSON(res))
}

func (a *api) handleQueue(w http.ResponseWriter, r *http.Request) {
	items, err := a.cases.PendingForRater(r.Context(), callerID(r), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "fetch queue failed")
		return
	}

	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"case_id":     item.CaseID,
			"image_path":  item.ImagePath,
			"assigned_at": item.AssignedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": out, "count": len(out)})
}

func (a *api) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	mode, err := a.policy.CurrentMode(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "fetch policy failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review_mode": mode})
}

func (a *api) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReviewMode policy.Mode `json:"review_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if err := a.policy.SetReviewMode(r.Context(), req.ReviewMode); err != nil {
		if errors.Is(err, policy.ErrInvalidMode) {
			writeError(w, http.StatusBadRequest, "review_mode must be dual or triage")
			return
		}
		writeError(w, http.StatusInternalServerError, "set policy failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review_mode": req.ReviewMode})
}

func caseJSON(c casefile.Case) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"image_path": c.ImagePath,
		"created_at": c.CreatedAt,
	}
}

func resolutionJSON(res review.Resolution) map[string]any {
	return map[string]any{
		"id":                  res.ID,
		"case_id":             res.CaseID,
		"status":              res.Status,
		"final_submission_id": res.FinalSubmissionID,
		"created_at":          res.CreatedAt,
		"updated_at":          res.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
