package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agenda/api/internal/agenda"
	"agenda/api/internal/coord"
	"agenda/api/internal/store"
)

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse response: %v (%s)", err, rr.Body.String())
	}
}

type proposalBody struct {
	Proposal struct {
		ID            string `json:"id"`
		Level         string `json:"level"`
		Score         int    `json:"score"`
		DeadlineState struct {
			RemainingDays int  `json:"remainingDays"`
			Expired       bool `json:"expired"`
		} `json:"deadlineState"`
		Closure *struct {
			Reason string `json:"reason"`
		} `json:"closure"`
	} `json:"proposal"`
	LevelChanges []struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"levelChanges"`
	Notifications []struct {
		Event string `json:"event"`
		Key   string `json:"key"`
	} `json:"notifications"`
	Changed  bool `json:"changed"`
	Decision *struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	} `json:"decision"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details"`
}

func TestProposalLifecycleOverHTTP(t *testing.T) {
	f := newServiceFixture()
	handler := NewHTTPServer(f.svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodPost, "/api/proposals", map[string]any{"title": "Quieter night alarms", "authorId": "author"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}
	var created proposalBody
	decodeResponse(t, rr, &created)
	if created.Proposal.Level != "PENDING" || created.Proposal.DeadlineState.RemainingDays != 30 {
		t.Fatalf("created = %+v, want PENDING with 30 days", created.Proposal)
	}
	id := created.Proposal.ID

	votes := append(strongVotes(27), VoteInput{UserID: "voter_support", Option: "support"})
	rr = doJSON(t, handler, http.MethodPost, "/api/proposals/"+id+"/votes/sync", map[string]any{"votes": votes})
	if rr.Code != http.StatusOK {
		t.Fatalf("sync status = %d, body %s", rr.Code, rr.Body.String())
	}
	var synced proposalBody
	decodeResponse(t, rr, &synced)
	if synced.Proposal.Score != 55 || synced.Proposal.Level != "DEPT_AGENDA" {
		t.Fatalf("synced = %+v, want 55 DEPT_AGENDA", synced.Proposal)
	}
	if synced.Proposal.DeadlineState.RemainingDays != 90 {
		t.Fatalf("remaining days = %d, want 90 after escalation", synced.Proposal.DeadlineState.RemainingDays)
	}
	if len(synced.Notifications) != 2 ||
		synced.Notifications[0].Key != id+":level_up:DEPT_REVIEW" ||
		synced.Notifications[1].Key != id+":level_up:DEPT_AGENDA" {
		t.Fatalf("notifications = %+v, want level_up for DEPT_REVIEW then DEPT_AGENDA", synced.Notifications)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/proposals/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var fetched proposalBody
	decodeResponse(t, rr, &fetched)
	if fetched.Proposal.Level != "DEPT_AGENDA" {
		t.Fatalf("fetched level = %s, want DEPT_AGENDA", fetched.Proposal.Level)
	}
}

func TestCastVoteOverHTTP(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("prop_1")
	f.store.addUser("voter", 1)
	handler := NewHTTPServer(f.svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodPost, "/api/proposals/prop_1/votes", map[string]any{"userId": "voter", "option": "strongly_support"})
	if rr.Code != http.StatusOK {
		t.Fatalf("vote status = %d, body %s", rr.Code, rr.Body.String())
	}
	var body proposalBody
	decodeResponse(t, rr, &body)
	if body.Proposal.Score != 2 {
		t.Fatalf("score = %d, want 2", body.Proposal.Score)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/proposals/prop_1/votes", map[string]any{"userId": "voter", "option": "meh"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad option status = %d, want 422", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/proposals/prop_1/comments", map[string]any{"userId": "voter"})
	if rr.Code != http.StatusOK {
		t.Fatalf("comment status = %d, body %s", rr.Code, rr.Body.String())
	}
	if got := f.store.stored("prop_1").CommentCount; got != 1 {
		t.Fatalf("comment count = %d, want 1", got)
	}
}

func TestOfficerActionsOverHTTP(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("prop_1")
	f.store.addUser("officer", 3)
	handler := NewHTTPServer(f.svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodGet, "/api/proposals/prop_1/actions/reject", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("check status = %d", rr.Code)
	}
	var check map[string]any
	decodeResponse(t, rr, &check)
	if check["allowed"] != false || check["reason"] != "fairness requires waiting until the voting deadline" {
		t.Fatalf("check = %v, want reject denied before deadline", check)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/proposals/prop_1/actions/reject?userId=officer", nil)
	decodeResponse(t, rr, &check)
	perm, _ := check["permission"].(map[string]any)
	if check["allowed"] != false || perm["role"] != "owner" {
		t.Fatalf("check = %v, want owner permission with phase denial", check)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/proposals/prop_1/actions", map[string]any{"officerId": "officer", "action": "reject"})
	if rr.Code != http.StatusOK {
		t.Fatalf("reject status = %d, want 200", rr.Code)
	}
	var denied proposalBody
	decodeResponse(t, rr, &denied)
	if denied.Changed || denied.Decision == nil || denied.Decision.Allowed || denied.Decision.Reason != check["reason"] {
		t.Fatalf("changed/decision = %v/%+v, want denied decision", denied.Changed, denied.Decision)
	}

	f.now = f.now.Add(45 * 24 * time.Hour)
	rr = doJSON(t, handler, http.MethodGet, "/api/proposals/prop_1/actions/approve_levelup", nil)
	decodeResponse(t, rr, &check)
	if check["allowed"] != false || check["reason"] != "deadline already expired, cannot promote" {
		t.Fatalf("check = %v, want promotion denied after deadline", check)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/proposals/prop_1/actions", map[string]any{"officerId": "officer", "action": "department_matter", "feedback": "handled by ward lead"})
	if rr.Code != http.StatusOK {
		t.Fatalf("department_matter status = %d, body %s", rr.Code, rr.Body.String())
	}
	var closed proposalBody
	decodeResponse(t, rr, &closed)
	if closed.Proposal.Closure == nil || closed.Proposal.Closure.Reason != "department_matter" {
		t.Fatalf("closure = %+v, want department_matter", closed.Proposal.Closure)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/proposals/prop_1/comments", map[string]any{"userId": "officer"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("comment on closed status = %d, want 409", rr.Code)
	}
	var closedErr errorBody
	decodeResponse(t, rr, &closedErr)
	if closedErr.Code != "ALREADY_CLOSED" {
		t.Fatalf("code = %s, want ALREADY_CLOSED", closedErr.Code)
	}
}

func TestUnknownActionOverHTTP(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("prop_1")
	handler := NewHTTPServer(f.svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodGet, "/api/proposals/prop_1/actions/escalate", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	rr = doJSON(t, handler, http.MethodPost, "/api/proposals/prop_1/actions", map[string]any{"officerId": "x", "action": "escalate"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
}

func TestReadEndpoints(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("prop_1")
	f.store.addUser("chief", 5)
	f.store.notifications["chief"] = []store.UserNotification{{ID: "ntf_1", Event: "level_up", ProposalID: "prop_1", Reasons: []string{"responsible_officer"}}}
	handler := NewHTTPServer(f.svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodGet, "/api/proposals/prop_1/permissions?userId=chief", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("permissions status = %d", rr.Code)
	}
	var perm struct {
		Permission struct {
			Role string `json:"role"`
		} `json:"permission"`
	}
	decodeResponse(t, rr, &perm)
	if perm.Permission.Role != "supervisor" {
		t.Fatalf("role = %s, want supervisor", perm.Permission.Role)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/proposals/prop_1/recipients?event=deadline_warning", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("recipients status = %d, body %s", rr.Code, rr.Body.String())
	}
	var recipients struct {
		Recipients []struct {
			UserID  string   `json:"userId"`
			Reasons []string `json:"reasons"`
		} `json:"recipients"`
	}
	decodeResponse(t, rr, &recipients)
	if len(recipients.Recipients) != 2 || recipients.Recipients[0].UserID != "author" {
		t.Fatalf("recipients = %+v, want author then chief", recipients.Recipients)
	}
	if got := recipients.Recipients[0].Reasons; len(got) != 2 || got[0] != "author" || got[1] != "department_scope" {
		t.Fatalf("author reasons = %v, want author,department_scope", got)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/users/chief/notifications", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("notifications status = %d", rr.Code)
	}
	var inbox struct {
		Items []store.UserNotification `json:"items"`
	}
	decodeResponse(t, rr, &inbox)
	if len(inbox.Items) != 1 || inbox.Items[0].ID != "ntf_1" {
		t.Fatalf("items = %+v, want ntf_1", inbox.Items)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/levels?score=120", nil)
	var levels map[string]any
	decodeResponse(t, rr, &levels)
	if levels["level"] != "FACILITY_AGENDA" || levels["scope"] != "facility" {
		t.Fatalf("levels = %v, want FACILITY_AGENDA facility", levels)
	}
	if rr := doJSON(t, handler, http.MethodGet, "/api/levels?score=abc", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("levels bad score status = %d, want 400", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/search?q=handover&status=open", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("search status = %d", rr.Code)
	}
}

func TestUpsertUserOverHTTP(t *testing.T) {
	f := newServiceFixture()
	handler := NewHTTPServer(f.svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodPut, "/api/users/u_lee", map[string]any{
		"name": "Lee", "email": "lee@example.com", "department": "icu", "facility": "west", "rank": 6,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert status = %d, body %s", rr.Code, rr.Body.String())
	}
	if user, err := f.store.GetUser(context.Background(), "u_lee"); err != nil || user.Facility != "west" {
		t.Fatalf("stored user = %+v, %v", user, err)
	}

	f.store.upsertUserFn = func(context.Context, agenda.User) error { return errors.New("db down") }
	rr = doJSON(t, handler, http.MethodPut, "/api/users/u_lee", map[string]any{
		"name": "Lee", "department": "icu", "facility": "west", "rank": 6,
	})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("failing store status = %d, want 500", rr.Code)
	}
}

func TestRoutingErrors(t *testing.T) {
	f := newServiceFixture()
	handler := NewHTTPServer(f.svc, "*").Handler()

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/api/proposals/missing", "", http.StatusNotFound},
		{http.MethodGet, "/api/proposals", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/proposals", "{not json", http.StatusBadRequest},
		{http.MethodDelete, "/api/proposals/prop_1/votes", "", http.StatusNotFound},
		{http.MethodGet, "/api/unknown", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.path), func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newServiceFixture()
	handler := NewHTTPServer(f.svc, "*").Handler()

	doJSON(t, handler, http.MethodGet, "/api/health", nil)
	rr := doJSON(t, handler, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "agenda_api_http_requests_total") {
		t.Fatalf("metrics body missing request counter")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newServiceFixture()
	handler := NewHTTPServer(f.svc, "*").Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("X-Request-ID = %q, want req-123", got)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"domain", validationError("bad"), http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"not found", fmt.Errorf("load proposal p: %w", sql.ErrNoRows), http.StatusNotFound, "NOT_FOUND"},
		{"closed", fmt.Errorf("vote: %w", agenda.ErrAlreadyClosed), http.StatusConflict, "ALREADY_CLOSED"},
		{"version", fmt.Errorf("save: %w", store.ErrVersionConflict), http.StatusConflict, "VERSION_CONFLICT"},
		{"lock", fmt.Errorf("lock: %w", coord.ErrLockTimeout), http.StatusServiceUnavailable, "BUSY"},
		{"invalid state", fmt.Errorf("%w: level has no deadline", agenda.ErrInvalidState), http.StatusUnprocessableEntity, "INVALID_STATE"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _, _ := mapError(tt.err)
			if status != tt.want || code != tt.code {
				t.Fatalf("mapError() = %d %s, want %d %s", status, code, tt.want, tt.code)
			}
		})
	}
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/api/health":                          "/api/health",
		"/api/proposals/prop_9":                "/api/proposals/{id}",
		"/api/proposals/prop_9/votes/sync":     "/api/proposals/{id}/votes/sync",
		"/api/proposals/prop_9/actions/reject": "/api/proposals/{id}/actions/{action}",
		"/api/users/u_1/notifications":         "/api/users/{id}/notifications",
	}
	for path, want := range tests {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
