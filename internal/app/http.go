package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agenda/api/internal/agenda"
	"agenda/api/internal/coord"
	"agenda/api/internal/metrics"
	"agenda/api/internal/search"
	"agenda/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *slog.Logger
}

type requestIDKey struct{}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		logger:     slog.Default().With("component", "http"),
	}
}

func (s *HTTPServer) WithLogger(logger *slog.Logger) *HTTPServer {
	s.logger = logger
	return s
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

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/levels" {
		score, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("score")))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "score must be an integer", nil)
			return
		}
		payload, err := s.service.LevelProgress(score)
		if err != nil {
			s.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.URL.Path == "/api/proposals" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body SubmitProposalInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.SubmitProposal(r.Context(), body)
		if err != nil {
			s.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"proposal": view})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "users" {
		s.handleUsers(w, r, parts[2], parts)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "proposals" {
		s.handleProposal(w, r, parts[2], parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, userID string, parts []string) {
	if len(parts) == 3 && r.Method == http.MethodPut {
		var body UserInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.UpsertUser(r.Context(), userID, body)
		if err != nil {
			s.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
		return
	}

	if len(parts) == 4 && parts[3] == "notifications" && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := s.service.UserNotifications(r.Context(), userID, limit)
		if err != nil {
			s.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleProposal(w http.ResponseWriter, r *http.Request, proposalID string, parts []string) {
	if len(parts) == 3 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		view, err := s.service.GetProposal(r.Context(), proposalID)
		if err != nil {
			s.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"proposal": view})
		return
	}

	action := parts[3]

	if len(parts) == 4 && r.Method == http.MethodGet {
		switch action {
		case "permissions":
			perm, err := s.service.Permissions(r.Context(), proposalID, r.URL.Query().Get("userId"))
			if err != nil {
				s.handleError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"permission": perm})
			return
		case "recipients":
			recipients, err := s.service.Recipients(r.Context(), proposalID, r.URL.Query().Get("event"))
			if err != nil {
				s.handleError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"recipients": recipients})
			return
		}
	}

	if len(parts) == 5 && action == "actions" && r.Method == http.MethodGet {
		payload, err := s.service.CanPerformAction(r.Context(), proposalID, parts[4], r.URL.Query().Get("userId"))
		if err != nil {
			s.handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	var (
		view TransitionView
		err  error
	)
	switch {
	case len(parts) == 4 && action == "votes":
		var body VoteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err = s.service.CastVote(r.Context(), proposalID, body)
	case len(parts) == 5 && action == "votes" && parts[4] == "sync":
		var body SyncVotesInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err = s.service.SyncVotes(r.Context(), proposalID, body)
	case len(parts) == 4 && action == "comments":
		var body CommentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err = s.service.AddComment(r.Context(), proposalID, body)
	case len(parts) == 4 && action == "committee":
		var body CommitteeInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err = s.service.Committee(r.Context(), proposalID, body)
	case len(parts) == 4 && action == "actions":
		var body OfficerActionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err = s.service.OfficerAction(r.Context(), proposalID, body)
	case len(parts) == 4 && action == "extensions":
		var body ExtensionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err = s.service.RequestExtension(r.Context(), proposalID, body)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	limit, _ := strconv.Atoi(params.Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(params.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	resp, err := s.service.Search(r.Context(), search.Query{
		Text:       strings.TrimSpace(params.Get("q")),
		Level:      strings.TrimSpace(params.Get("level")),
		Status:     strings.ToLower(strings.TrimSpace(params.Get("status"))),
		Department: strings.TrimSpace(params.Get("department")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", requestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
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

		elapsed := time.Since(started)
		metrics.RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), writer.status, elapsed.Seconds())
		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// routeLabel collapses ids out of a path so the request metric keeps a
// bounded label set.
func routeLabel(path string) string {
	parts := splitPath(path)
	if len(parts) < 3 || parts[0] != "api" || (parts[1] != "proposals" && parts[1] != "users") {
		return path
	}
	parts[2] = "{id}"
	if len(parts) == 5 && parts[1] == "proposals" && parts[3] == "actions" {
		parts[4] = "{action}"
	}
	return "/" + strings.Join(parts, "/")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
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
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, agenda.ErrAlreadyClosed) {
		return http.StatusConflict, "ALREADY_CLOSED", "Proposal is already closed", nil
	}
	if errors.Is(err, store.ErrVersionConflict) {
		return http.StatusConflict, "VERSION_CONFLICT", "Proposal changed concurrently, retry", nil
	}
	if errors.Is(err, coord.ErrLockTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "BUSY", "Proposal is busy, retry", nil
	}
	if errors.Is(err, agenda.ErrInvalidState) {
		return http.StatusUnprocessableEntity, "INVALID_STATE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
