package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"earmark/assignment"
	"earmark/auth"
	"earmark/casefile"
	"earmark/policy"
	"earmark/review"
)

type stubAuthService struct {
	userID string
	role   auth.Role
	err    error
}

func (s *stubAuthService) Register(_ context.Context, req auth.RegisterRequest) (*auth.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &auth.User{ID: s.userID, Email: req.Email, FullName: req.FullName, Role: auth.RoleRater}, nil
}

func (s *stubAuthService) Login(_ context.Context, req auth.LoginRequest) (auth.LoginResult, error) {
	if s.err != nil {
		return auth.LoginResult{}, s.err
	}
	return auth.LoginResult{Token: "stub-token", User: auth.User{ID: s.userID, Email: req.Email, Role: s.role}}, nil
}

func (s *stubAuthService) VerifyToken(string) (string, auth.Role, error) {
	if s.err != nil {
		return "", "", s.err
	}
	return s.userID, s.role, nil
}

type stubCaseService struct {
	c     casefile.Case
	queue []casefile.QueueItem
	err   error
}

func (s *stubCaseService) Create(_ context.Context, imagePath string) (casefile.Case, error) {
	if s.err != nil {
		return casefile.Case{}, s.err
	}
	return casefile.Case{ID: s.c.ID, ImagePath: imagePath, CreatedAt: time.Now()}, nil
}

func (s *stubCaseService) GetByID(context.Context, string) (casefile.Case, error) {
	return s.c, s.err
}

func (s *stubCaseService) PendingForRater(context.Context, string, int) ([]casefile.QueueItem, error) {
	return s.queue, s.err
}

type stubLedger struct {
	assigned [][2]string
	list     []assignment.Assignment
	err      error
}

func (s *stubLedger) Assign(_ context.Context, caseID, raterID string) error {
	if s.err != nil {
		return s.err
	}
	s.assigned = append(s.assigned, [2]string{caseID, raterID})
	return nil
}

func (s *stubLedger) ListForCase(context.Context, string) ([]assignment.Assignment, error) {
	return s.list, s.err
}

type stubEngine struct {
	sub    review.Submission
	gotReq review.SubmitRequest
	err    error
}

func (s *stubEngine) HandleSubmission(_ context.Context, req review.SubmitRequest) (review.Submission, error) {
	s.gotReq = req
	return s.sub, s.err
}

type stubResolutions struct {
	res review.Resolution
	err error
}

func (s *stubResolutions) GetResolution(context.Context, string) (review.Resolution, error) {
	return s.res, s.err
}

func (s *stubResolutions) Adjudicate(context.Context, string, int64) (review.Resolution, error) {
	return s.res, s.err
}

type stubPolicy struct {
	mode policy.Mode
	err  error
}

func (s *stubPolicy) CurrentMode(context.Context) (policy.Mode, error) { return s.mode, s.err }
func (s *stubPolicy) SetReviewMode(_ context.Context, m policy.Mode) error {
	if s.err != nil {
		return s.err
	}
	s.mode = m
	return nil
}

const (
	testCaseID  = "5f0c2c1e-9a1f-4be2-8a52-6c7d37f0a001"
	testCaseID2 = "5f0c2c1e-9a1f-4be2-8a52-6c7d37f0a002"
	testRaterID = "ad1b07a9-4c55-4f7e-9a38-2f4b9f4d9b01"
)

func newTestAPI(role auth.Role) (*api, *stubEngine, *stubLedger) {
	engine := &stubEngine{sub: review.Submission{ID: 7, CaseID: testCaseID}}
	ledger := &stubLedger{}
	return &api{
		auth:        &stubAuthService{userID: "user-1", role: role},
		cases:       &stubCaseService{c: casefile.Case{ID: testCaseID, ImagePath: "cases/img.png"}},
		assignments: ledger,
		engine:      engine,
		resolutions: &stubResolutions{res: review.Resolution{ID: "res-1", CaseID: testCaseID, Status: review.StatusDisputed}},
		policy:      &stubPolicy{mode: policy.ModeTriage},
	}, engine, ledger
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string, authd bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authd {
		req.Header.Set("Authorization", "Bearer stub-token")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitEndpoint(t *testing.T) {
	a, engine, _ := newTestAPI(auth.RoleRater)

	body := `{"payload":{"right":{"loss_type":"normal","severity":"normal","frequency_profile":"flat"},"left":{"loss_type":"normal","severity":"normal","frequency_profile":"flat"},"recommendation":"none"},"confidence":0.9,"duration_ms":42000}`
	rec := doRequest(t, a.routes(), http.MethodPost, "/cases/"+testCaseID+"/submissions", body, true)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if engine.gotReq.CaseID != testCaseID {
		t.Errorf("expected case id from URL, got %q", engine.gotReq.CaseID)
	}
	if engine.gotReq.RaterID != "user-1" {
		t.Errorf("expected rater id from token, got %q", engine.gotReq.RaterID)
	}
	if engine.gotReq.Payload.Recommendation != "none" {
		t.Errorf("payload not decoded: %+v", engine.gotReq.Payload)
	}
}

func TestSubmitEndpoint_DuplicateConflict(t *testing.T) {
	a, engine, _ := newTestAPI(auth.RoleRater)
	engine.err = review.ErrDuplicateSubmission

	rec := doRequest(t, a.routes(), http.MethodPost, "/cases/"+testCaseID+"/submissions", `{"payload":{}}`, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestSubmitEndpoint_RequiresAuth(t *testing.T) {
	a, _, _ := newTestAPI(auth.RoleRater)

	rec := doRequest(t, a.routes(), http.MethodPost, "/cases/"+testCaseID+"/submissions", `{}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestPolicyEndpoint_AdminOnly(t *testing.T) {
	a, _, _ := newTestAPI(auth.RoleRater)

	rec := doRequest(t, a.routes(), http.MethodPut, "/policy/review-mode", `{"review_mode":"dual"}`, true)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for rater, got %d", rec.Code)
	}

	admin, _, _ := newTestAPI(auth.RoleAdmin)
	rec = doRequest(t, admin.routes(), http.MethodPut, "/policy/review-mode", `{"review_mode":"dual"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestResolutionEndpoint_NotFound(t *testing.T) {
	a, _, _ := newTestAPI(auth.RoleRater)
	a.resolutions = &stubResolutions{err: review.ErrResolutionNotFound}

	rec := doRequest(t, a.routes(), http.MethodGet, "/cases/"+testCaseID+"/resolution", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdjudicateEndpoint_AlreadyTerminal(t *testing.T) {
	a, _, _ := newTestAPI(auth.RoleAdmin)
	a.resolutions = &stubResolutions{err: review.ErrAlreadyAdjudicated}

	rec := doRequest(t, a.routes(), http.MethodPost, "/cases/"+testCaseID+"/adjudication", `{"final_submission_id":7}`, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCaseEndpoints_RejectNonUUID(t *testing.T) {
	a, _, _ := newTestAPI(auth.RoleRater)

	rec := doRequest(t, a.routes(), http.MethodGet, "/cases/not-a-uuid/resolution", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for malformed case id, got %d", rec.Code)
	}
}

func TestAssignEndpoint(t *testing.T) {
	a, _, ledger := newTestAPI(auth.RoleAdmin)

	rec := doRequest(t, a.routes(), http.MethodPost, "/cases/"+testCaseID+"/assignments", `{"rater_id":"`+testRaterID+`"}`, true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(ledger.assigned) != 1 || ledger.assigned[0] != [2]string{testCaseID, testRaterID} {
		t.Fatalf("unexpected assignment calls: %v", ledger.assigned)
	}
}

func TestQueueEndpoint(t *testing.T) {
	a, _, _ := newTestAPI(auth.RoleRater)
	a.cases = &stubCaseService{queue: []casefile.QueueItem{
		{CaseID: testCaseID, ImagePath: "cases/a.png"},
		{CaseID: testCaseID2, ImagePath: "cases/b.png"},
	}}

	rec := doRequest(t, a.routes(), http.MethodGet, "/queue", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("expected 2 pending, got %d", body.Count)
	}
}

func TestRegisterEndpoint_DuplicateEmail(t *testing.T) {
	a, _, _ := newTestAPI(auth.RoleRater)
	a.auth = &stubAuthService{err: auth.ErrDuplicateEmail}

	rec := doRequest(t, a.routes(), http.MethodPost, "/auth/register", `{"email":"x@example.com","password":"longenough","full_name":"X"}`, false)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}
