package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quadrant/api/internal/gate"
	"quadrant/api/internal/store"
)

func newTestServer(profile gate.Profile) (*HTTPServer, *store.MemoryStore) {
	svc, ms, _ := newTestService(profile)
	return NewHTTPServer(svc, "*"), ms
}

func do(t *testing.T, server *HTTPServer, method, path, body string, identity bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if identity {
		req.Header.Set("X-User-ID", "user_a")
		req.Header.Set("X-Session-ID", "sess_1")
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(gate.Lenient())

	rr := do(t, server, http.MethodGet, "/api/health", "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["ok"] != true {
		t.Errorf("expected ok=true, got %v", payload["ok"])
	}
}

func TestReadyEndpointReportsDatabase(t *testing.T) {
	fs := &fakeStore{pingFn: func(context.Context) error {
		return errors.New("connection refused")
	}}
	svc, _, _ := newTestService(gate.Lenient())
	svc.store = fs
	server := NewHTTPServer(svc, "*")

	rr := do(t, server, http.MethodGet, "/api/ready", "", false)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["status"] != "not_ready" {
		t.Errorf("expected not_ready, got %v", payload["status"])
	}
}

func TestIdentityRequired(t *testing.T) {
	server, _ := newTestServer(gate.Lenient())

	rr := do(t, server, http.MethodGet, "/api/projects/prj_1/ideas", "", false)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["code"] != "UNAUTHORIZED" {
		t.Errorf("expected UNAUTHORIZED, got %v", payload["code"])
	}
}

func TestCreateIdeaEndpoint(t *testing.T) {
	server, _ := newTestServer(gate.Lenient())

	rr := do(t, server, http.MethodPost, "/api/projects/prj_1/ideas",
		`{"content":"Ship dark mode","x":100,"y":90,"priority":"high"}`, true)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["category"] != "quick-wins" {
		t.Errorf("expected quick-wins, got %v", payload["category"])
	}
	if payload["ownerId"] != "user_a" {
		t.Errorf("expected owner user_a, got %v", payload["ownerId"])
	}
	if id, _ := payload["id"].(string); !strings.HasPrefix(id, "idea_") {
		t.Errorf("expected an idea_ id, got %v", payload["id"])
	}
}

func TestCreateIdeaValidationShape(t *testing.T) {
	server, _ := newTestServer(gate.Lenient())

	long := strings.Repeat("a ", 300)
	rr := do(t, server, http.MethodPost, "/api/projects/prj_1/ideas",
		`{"content":"`+long+`"}`, true)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", payload["code"])
	}
	details, _ := payload["details"].(map[string]any)
	if details["subkind"] != "TOO_LONG" {
		t.Errorf("expected TOO_LONG, got %v", details["subkind"])
	}
}

func TestRateLimitedResponseShape(t *testing.T) {
	profile := gate.Lenient()
	profile.RateLimit = 1
	server, _ := newTestServer(profile)

	if rr := do(t, server, http.MethodPost, "/api/projects/prj_1/ideas",
		`{"content":"First and only"}`, true); rr.Code != http.StatusCreated {
		t.Fatalf("first create failed: %d", rr.Code)
	}

	rr := do(t, server, http.MethodPost, "/api/projects/prj_1/ideas",
		`{"content":"Over the limit"}`, true)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "RATE_LIMITED" {
		t.Errorf("expected RATE_LIMITED, got %v", payload["code"])
	}
	details, _ := payload["details"].(map[string]any)
	if _, ok := details["retryAfterSeconds"]; !ok {
		t.Errorf("expected a retry hint, got %v", payload["details"])
	}
}

func TestLockConflictResponse(t *testing.T) {
	server, ms := newTestServer(gate.Lenient())
	seeded := seedIdea(t, ms, "prj_1", "user_b")

	if _, _, err := ms.AcquireLock(context.Background(), seeded.ID, "user_b", 5*time.Minute); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	rr := do(t, server, http.MethodPost, "/api/ideas/"+seeded.ID+"/lock", "", true)
	if rr.Code != http.StatusLocked {
		t.Fatalf("expected 423, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "LOCK_CONFLICT" {
		t.Errorf("expected LOCK_CONFLICT, got %v", payload["code"])
	}
	details, _ := payload["details"].(map[string]any)
	if details["holderId"] != "user_b" {
		t.Errorf("expected holder user_b, got %v", details["holderId"])
	}
}

func TestStaleMoveResponse(t *testing.T) {
	server, ms := newTestServer(gate.Lenient())
	seeded := seedIdea(t, ms, "prj_1", "user_a")

	stale := seeded.UpdatedAt.Add(-time.Minute).Format(time.RFC3339Nano)
	rr := do(t, server, http.MethodPut, "/api/ideas/"+seeded.ID+"/position",
		`{"x":300,"y":300,"updatedAt":"`+stale+`"}`, true)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	if payload := decodeResponse(t, rr); payload["code"] != "STALE_WRITE" {
		t.Errorf("expected STALE_WRITE, got %v", payload["code"])
	}
}

func TestProjectSnapshotEndpoint(t *testing.T) {
	server, ms := newTestServer(gate.Lenient())
	seedIdea(t, ms, "prj_1", "user_a")

	rr := do(t, server, http.MethodGet, "/api/projects/prj_1/ideas", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	ideas, _ := payload["ideas"].([]any)
	if len(ideas) != 1 {
		t.Fatalf("expected 1 idea, got %d", len(ideas))
	}
	idea, _ := ideas[0].(map[string]any)
	if idea["category"] != "quick-wins" {
		t.Errorf("expected quick-wins, got %v", idea["category"])
	}
}

func TestDeleteUnknownIdea(t *testing.T) {
	server, _ := newTestServer(gate.Lenient())

	rr := do(t, server, http.MethodDelete, "/api/ideas/idea_missing", "", true)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSearchRequiresProjectID(t *testing.T) {
	server, _ := newTestServer(gate.Lenient())

	rr := do(t, server, http.MethodGet, "/api/search?q=beta", "", true)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestSessionFullResponse(t *testing.T) {
	profile := gate.Lenient()
	profile.SessionCapacity = 1
	server, _ := newTestServer(profile)

	if rr := do(t, server, http.MethodPost, "/api/projects/prj_1/session", "", true); rr.Code != http.StatusOK {
		t.Fatalf("first join failed: %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/projects/prj_1/session", nil)
	req.Header.Set("X-User-ID", "user_b")
	req.Header.Set("X-Session-ID", "sess_2")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["code"] != "SESSION_FULL" {
		t.Errorf("expected SESSION_FULL, got %v", payload["code"])
	}
}
