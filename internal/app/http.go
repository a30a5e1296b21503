package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quadrant/api/internal/gate"
	"quadrant/api/internal/lock"
	"quadrant/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	who, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		projectID := strings.TrimSpace(r.URL.Query().Get("projectId"))
		if projectID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectId is required", nil)
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		writeJSON(w, http.StatusOK, s.service.SearchIdeas(projectID, q, limit))
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/projects/{id}/...
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "projects" {
		projectID := parts[2]

		switch parts[3] {
		case "ideas":
			switch r.Method {
			case http.MethodGet:
				ideas, err := s.service.ProjectSnapshot(r.Context(), projectID)
				if err != nil {
					writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load ideas", nil)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ideas": ideas})
				return
			case http.MethodPost:
				var body CreateIdeaInput
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				payload, err := s.service.CreateIdea(r.Context(), projectID, body, who)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusCreated, payload)
				return
			}

		case "events":
			if r.Method == http.MethodGet {
				s.handleEvents(w, r, projectID)
				return
			}

		case "session":
			switch r.Method {
			case http.MethodPost:
				count, err := s.service.JoinSession(projectID, who)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true, "participants": count})
				return
			case http.MethodDelete:
				count := s.service.LeaveSession(r.Context(), projectID, who)
				writeJSON(w, http.StatusOK, map[string]any{"ok": true, "participants": count})
				return
			}
		}
	}

	// /api/ideas/{id}
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "ideas" {
		ideaID := parts[2]

		switch r.Method {
		case http.MethodPut:
			var body UpdateIdeaInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateIdea(r.Context(), ideaID, body, who)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			if err := s.service.DeleteIdea(r.Context(), ideaID, who); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	// /api/ideas/{id}/position and /api/ideas/{id}/lock
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "ideas" {
		ideaID := parts[2]

		switch parts[3] {
		case "position":
			if r.Method == http.MethodPut {
				var body MoveIdeaInput
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				payload, err := s.service.MoveIdea(r.Context(), ideaID, body, who)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, payload)
				return
			}

		case "lock":
			switch r.Method {
			case http.MethodPost:
				grant, err := s.service.AcquireLock(r.Context(), ideaID, who)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{
					"ok":                    true,
					"expiresAt":             grant.ExpiresAt,
					"heartbeatEverySeconds": int(grant.HeartbeatEvery / time.Second),
				})
				return
			case http.MethodPut:
				if err := s.service.HeartbeatLock(r.Context(), ideaID, who); err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return
			case http.MethodDelete:
				if err := s.service.ReleaseLock(r.Context(), ideaID, who); err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return
			}
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// requireIdentity reads the identity headers the gateway sets. There is
// no token handling here: an upstream proxy already authenticated the
// user and strips any client-supplied values.
func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Identity{}, false
	}
	return Identity{
		UserID:    userID,
		SessionID: strings.TrimSpace(r.Header.Get("X-Session-ID")),
	}, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade work through the logging wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-Session-ID, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var validationErr *gate.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Message,
			map[string]any{"subkind": string(validationErr.Subkind)}
	}

	var rateErr *gate.RateLimitError
	if errors.As(err, &rateErr) {
		return http.StatusTooManyRequests, "RATE_LIMITED", "Too many submissions",
			map[string]any{"retryAfterSeconds": int(rateErr.RetryAfter.Round(time.Second) / time.Second)}
	}

	if errors.Is(err, gate.ErrSessionFull) {
		return http.StatusConflict, "SESSION_FULL", "Session is at capacity", nil
	}

	var conflictErr *lock.ConflictError
	if errors.As(err, &conflictErr) {
		return http.StatusLocked, "LOCK_CONFLICT", "Idea is being edited by another user",
			map[string]any{"holderId": conflictErr.HolderID, "expiresAt": conflictErr.ExpiresAt}
	}

	if errors.Is(err, lock.ErrNotHolder) {
		return http.StatusConflict, "LOCK_EXPIRED", "Edit lock expired or is held by another user", nil
	}

	if errors.Is(err, store.ErrStaleWrite) {
		return http.StatusConflict, "STALE_WRITE", "Idea was changed by a concurrent update", nil
	}

	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}

	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
