package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"agenda/api/internal/agenda"
	"agenda/api/internal/closure"
	"agenda/api/internal/coord"
	"agenda/api/internal/deadline"
	"agenda/api/internal/engine"
	"agenda/api/internal/gate"
	"agenda/api/internal/notify"
	"agenda/api/internal/rbac"
	"agenda/api/internal/search"
	"agenda/api/internal/store"
)

var testNow = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu            sync.Mutex
	users         map[string]agenda.User
	proposals     map[string]agenda.Proposal
	notifications map[string][]store.UserNotification

	pingFn       func(context.Context) error
	upsertUserFn func(context.Context, agenda.User) error
	afterGetUser func(userID string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         map[string]agenda.User{},
		proposals:     map[string]agenda.Proposal{},
		notifications: map[string][]store.UserNotification{},
	}
}

func (f *fakeStore) addUser(id string, rank int) agenda.User {
	user := agenda.User{
		ID:         id,
		Name:       "User " + id,
		Email:      id + "@example.com",
		Department: "nursing",
		Facility:   "east",
		Rank:       rank,
	}
	f.mu.Lock()
	f.users[id] = user
	f.mu.Unlock()
	return user
}

func (f *fakeStore) seed(p agenda.Proposal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposals[p.ID] = p.Clone()
}

func (f *fakeStore) stored(id string) agenda.Proposal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.proposals[id].Clone()
}

func (f *fakeStore) GetUser(_ context.Context, userID string) (agenda.User, error) {
	f.mu.Lock()
	user, ok := f.users[userID]
	f.mu.Unlock()
	if !ok {
		return agenda.User{}, sql.ErrNoRows
	}
	if f.afterGetUser != nil {
		f.afterGetUser(userID)
	}
	return user, nil
}

func (f *fakeStore) UpsertUser(ctx context.Context, user agenda.User) error {
	if f.upsertUserFn != nil {
		return f.upsertUserFn(ctx, user)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) ListNotifications(_ context.Context, userID string, _ int) ([]store.UserNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.notifications[userID]
	if items == nil {
		items = []store.UserNotification{}
	}
	return items, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetProposal(_ context.Context, id string) (agenda.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return agenda.Proposal{}, sql.ErrNoRows
	}
	return p.Clone(), nil
}

func (f *fakeStore) CreateProposal(_ context.Context, p agenda.Proposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposals[p.ID] = p.Clone()
	return nil
}

func (f *fakeStore) SaveProposal(_ context.Context, p agenda.Proposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.proposals[p.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if current.Version != p.Version {
		return store.ErrVersionConflict
	}
	next := p.Clone()
	next.Version++
	f.proposals[p.ID] = next
	return nil
}

func (f *fakeStore) ListOpenProposalIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := []string{}
	for id, p := range f.proposals {
		if !p.IsClosed() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeStore) ListArchiveDue(context.Context, time.Time) ([]string, error) { return nil, nil }

func (f *fakeStore) MarkArchived(context.Context, string, time.Time, string) error { return nil }

func (f *fakeStore) Officers(_ context.Context, department string, minRank int) ([]agenda.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var users []agenda.User
	for _, user := range f.users {
		if user.Department == department && user.Rank >= minRank {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Rank != users[j].Rank {
			return users[i].Rank > users[j].Rank
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (f *fakeStore) Members(_ context.Context, scope agenda.Scope, author agenda.User) ([]agenda.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var users []agenda.User
	for _, user := range f.users {
		switch scope {
		case agenda.ScopeDepartment:
			if user.Department != author.Department {
				continue
			}
		case agenda.ScopeFacility:
			if user.Facility != author.Facility {
				continue
			}
		}
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (f *fakeStore) Users(_ context.Context, ids []string) ([]agenda.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var users []agenda.User
	for _, id := range ids {
		if user, ok := f.users[id]; ok {
			users = append(users, user)
		}
	}
	return users, nil
}

type fakeSearch struct {
	queries []search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Result{{ID: "prop_1", Title: "Night shift handover", Level: q.Level}}, Total: 1, Query: q.Text}
}

type serviceFixture struct {
	store *fakeStore
	svc   *Service
	now   time.Time
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{store: newFakeStore(), now: testNow}
	levels := agenda.MustEngine(agenda.DefaultBands())
	deadlines := deadline.NewManager(deadline.DefaultPolicy())
	g := gate.New(deadlines)
	resolver := rbac.NewResolver(levels, rbac.DefaultBands())
	closer := closure.NewService()
	evaluator := engine.NewEvaluator(levels, deadlines, g, resolver, closer, engine.DefaultOptions())
	coordinator := engine.NewCoordinator(f.store, coord.NewLocalLocker(), evaluator, deadlines, closer, nil).
		WithClock(func() time.Time { return f.now })

	f.svc = &Service{
		store:     f.store,
		proposals: coordinator,
		levels:    levels,
		deadlines: deadlines,
		gate:      g,
		resolver:  resolver,
		targeting: notify.NewTargeting(levels, f.store),
	}
	f.store.addUser("author", 2)
	return f
}

// seedPending stores an open PENDING proposal with the standard 30 day window.
func (f *serviceFixture) seedPending(id string) agenda.Proposal {
	d := f.now.Add(30 * 24 * time.Hour)
	author := f.store.users["author"]
	p := agenda.Proposal{
		ID:             id,
		Title:          "Night shift handover checklist",
		Author:         author,
		Level:          agenda.LevelPending,
		PromotedLevel:  agenda.LevelPending,
		Deadline:       &d,
		Votes:          []agenda.Vote{},
		LastActivityAt: f.now,
		CreatedAt:      f.now,
		UpdatedAt:      f.now,
	}
	f.store.seed(p)
	return p
}

func strongVotes(n int) []VoteInput {
	votes := make([]VoteInput, 0, n)
	for i := 0; i < n; i++ {
		votes = append(votes, VoteInput{UserID: fmt.Sprintf("voter_%02d", i), Option: "strongly_support"})
	}
	return votes
}

func TestSubmitProposalRequiresKnownAuthor(t *testing.T) {
	f := newServiceFixture()

	_, err := f.svc.SubmitProposal(context.Background(), SubmitProposalInput{Title: "Quieter alarms", AuthorID: "ghost"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "UNKNOWN_USER" {
		t.Fatalf("SubmitProposal() error = %v, want UNKNOWN_USER", err)
	}

	_, err = f.svc.SubmitProposal(context.Background(), SubmitProposalInput{Title: "  ", AuthorID: "author"})
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("SubmitProposal(blank title) error = %v, want VALIDATION_ERROR", err)
	}
}

func TestSubmitProposalStartsPending(t *testing.T) {
	f := newServiceFixture()

	view, err := f.svc.SubmitProposal(context.Background(), SubmitProposalInput{Title: "Quieter alarms", AuthorID: "author"})
	if err != nil {
		t.Fatalf("SubmitProposal() error = %v", err)
	}
	if view.Level != agenda.LevelPending {
		t.Fatalf("level = %s, want PENDING", view.Level)
	}
	if view.DeadlineState.RemainingDays != 30 || view.DeadlineState.Expired {
		t.Fatalf("deadline state = %+v, want 30 days remaining", view.DeadlineState)
	}
	if view.Author.Rank != 2 {
		t.Fatalf("author rank = %d, want 2 from the directory", view.Author.Rank)
	}
	if _, err := f.store.GetProposal(context.Background(), view.ID); err != nil {
		t.Fatalf("proposal not stored: %v", err)
	}
}

func TestSyncVotesEscalatesThroughLevels(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("prop_1")

	votes := append(strongVotes(27), VoteInput{UserID: "voter_support", Option: "support"})
	view, err := f.svc.SyncVotes(context.Background(), "prop_1", SyncVotesInput{Votes: votes})
	if err != nil {
		t.Fatalf("SyncVotes() error = %v", err)
	}
	if view.Proposal.Score != 55 || view.Proposal.Level != agenda.LevelDeptAgenda {
		t.Fatalf("score/level = %d/%s, want 55/DEPT_AGENDA", view.Proposal.Score, view.Proposal.Level)
	}
	if len(view.LevelChanges) != 1 || view.LevelChanges[0].From != agenda.LevelPending {
		t.Fatalf("level changes = %+v, want one change from PENDING", view.LevelChanges)
	}
	if len(view.Notifications) != 2 {
		t.Fatalf("notifications = %d, want one per crossed level", len(view.Notifications))
	}
	if got := f.store.stored("prop_1").Version; got != 1 {
		t.Fatalf("stored version = %d, want 1", got)
	}
}

func TestSyncVotesRejectsBadEntry(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("prop_1")

	_, err := f.svc.SyncVotes(context.Background(), "prop_1", SyncVotesInput{Votes: []VoteInput{
		{UserID: "voter_1", Option: "support"},
		{UserID: "voter_2", Option: "maybe"},
	}})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Message != `votes[1]: unknown vote option "maybe"` {
		t.Fatalf("SyncVotes() error = %v, want indexed validation error", err)
	}
	if got := f.store.stored("prop_1").Version; got != 0 {
		t.Fatalf("stored version = %d, want untouched", got)
	}
}

func TestOfficerActionWaitsForDeadline(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("prop_1")
	f.store.addUser("officer", 3)

	view, err := f.svc.OfficerAction(context.Background(), "prop_1", OfficerActionInput{OfficerID: "officer", Action: "reject"})
	if err != nil {
		t.Fatalf("OfficerAction() error = %v, want a denied decision", err)
	}
	if view.Changed || view.Decision == nil || view.Decision.Allowed || view.Decision.Reason != gate.ReasonWaitForDeadline {
		t.Fatalf("changed/decision = %v/%+v, want wait-for-deadline denial", view.Changed, view.Decision)
	}
	if view.Proposal.Closure != nil || f.store.stored("prop_1").Version != 0 {
		t.Fatal("denied action must not touch the stored proposal")
	}

	f.now = f.now.Add(31 * 24 * time.Hour)
	view, err = f.svc.OfficerAction(context.Background(), "prop_1", OfficerActionInput{OfficerID: "officer", Action: "reject", Feedback: "duplicate of prop_0"})
	if err != nil {
		t.Fatalf("OfficerAction() after deadline error = %v", err)
	}
	if view.Proposal.Closure == nil || view.Proposal.Closure.Reason != agenda.ClosureRejectedByManager {
		t.Fatalf("closure = %+v, want rejected_by_manager", view.Proposal.Closure)
	}

	_, err = f.svc.OfficerAction(context.Background(), "prop_1", OfficerActionInput{OfficerID: "officer", Action: "hold"})
	if !errors.Is(err, agenda.ErrAlreadyClosed) {
		t.Fatalf("second action error = %v, want ErrAlreadyClosed", err)
	}
}

func TestOfficerActionRequiresOfficerRights(t *testing.T) {
	f := newServiceFixture()
	p := f.seedPending("prop_1")
	p.Level = agenda.LevelDeptAgenda
	p.PromotedLevel = agenda.LevelDeptAgenda
	f.store.seed(p)
	f.store.addUser("junior", 2)

	_, err := f.svc.OfficerAction(context.Background(), "prop_1", OfficerActionInput{OfficerID: "junior", Action: "approve_levelup"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("OfficerAction() error = %v, want 403", err)
	}
	perm, ok := domainErr.Details.(rbac.Permission)
	if !ok || perm.Role != rbac.RoleNone {
		t.Fatalf("details = %#v, want resolved permission with role none", domainErr.Details)
	}
}

func TestOfficerRightsFollowLevelAtApply(t *testing.T) {
	f := newServiceFixture()
	p := f.seedPending("prop_1")
	p.Level = agenda.LevelDeptAgenda
	p.PromotedLevel = agenda.LevelDeptAgenda
	p.Score = 60
	f.store.seed(p)
	f.store.addUser("chief", 5)

	// The proposal climbs while the officer's directory entry is being read.
	f.store.afterGetUser = func(string) {
		current := f.store.stored("prop_1")
		current.Level = agenda.LevelFacilityAgenda
		current.Score = 120
		f.store.seed(current)
	}
	_, err := f.svc.OfficerAction(context.Background(), "prop_1", OfficerActionInput{OfficerID: "chief", Action: "reject"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("OfficerAction() error = %v, want 403", err)
	}
	perm, ok := domainErr.Details.(rbac.Permission)
	if !ok || perm.TargetRank != 7 || rbac.CanActAsOfficer(perm) {
		t.Fatalf("details = %#v, want a non-officer permission at rank 7", domainErr.Details)
	}
	stored := f.store.stored("prop_1")
	if stored.Level != agenda.LevelFacilityAgenda || stored.Closure != nil {
		t.Fatalf("stored level/closure = %s/%+v, want FACILITY_AGENDA and open", stored.Level, stored.Closure)
	}
}

func TestCanPerformActionWithRequester(t *testing.T) {
	f := newServiceFixture()
	p := f.seedPending("prop_1")
	p.Level = agenda.LevelDeptAgenda
	p.PromotedLevel = agenda.LevelDeptAgenda
	f.store.seed(p)
	f.store.addUser("chief", 5)
	f.store.addUser("junior", 2)

	payload, err := f.svc.CanPerformAction(context.Background(), "prop_1", "approve_levelup", "chief")
	if err != nil {
		t.Fatalf("CanPerformAction(chief) error = %v", err)
	}
	perm, _ := payload["permission"].(rbac.Permission)
	if payload["allowed"] != true || perm.Role != rbac.RoleOwner {
		t.Fatalf("payload = %v, want allowed for the owner", payload)
	}

	payload, err = f.svc.CanPerformAction(context.Background(), "prop_1", "approve_levelup", "junior")
	if err != nil {
		t.Fatalf("CanPerformAction(junior) error = %v", err)
	}
	if payload["allowed"] != false || payload["reason"] != "rank 2 cannot act on a DEPT_AGENDA proposal" {
		t.Fatalf("payload = %v, want rank denial", payload)
	}

	payload, err = f.svc.CanPerformAction(context.Background(), "prop_1", "approve_levelup", "")
	if err != nil {
		t.Fatalf("CanPerformAction() error = %v", err)
	}
	if _, ok := payload["permission"]; ok || payload["allowed"] != true {
		t.Fatalf("payload = %v, want phase-only check", payload)
	}

	_, err = f.svc.CanPerformAction(context.Background(), "prop_1", "approve_levelup", "ghost")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "UNKNOWN_USER" {
		t.Fatalf("CanPerformAction(ghost) error = %v, want UNKNOWN_USER", err)
	}
}

func TestOfficerPromotionSetsFloor(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("prop_1")
	f.store.addUser("officer", 3)

	view, err := f.svc.OfficerAction(context.Background(), "prop_1", OfficerActionInput{OfficerID: "officer", Action: "approve_levelup"})
	if err != nil {
		t.Fatalf("OfficerAction() error = %v", err)
	}
	if view.Proposal.Level != agenda.LevelDeptReview || view.Proposal.PromotedLevel != agenda.LevelDeptReview {
		t.Fatalf("level/promoted = %s/%s, want DEPT_REVIEW", view.Proposal.Level, view.Proposal.PromotedLevel)
	}
}

func TestRequestExtensionUsesDefaultDays(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("prop_1")
	f.store.addUser("officer", 3)

	view, err := f.svc.RequestExtension(context.Background(), "prop_1", ExtensionInput{OfficerID: "officer"})
	if err != nil {
		t.Fatalf("RequestExtension() error = %v", err)
	}
	want := testNow.Add(60 * 24 * time.Hour)
	if view.Proposal.Deadline == nil || !view.Proposal.Deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", view.Proposal.Deadline, want)
	}
	if view.Proposal.ExtensionCount != 1 {
		t.Fatalf("extension count = %d, want 1", view.Proposal.ExtensionCount)
	}
}

func TestCommitteeSubmitThenDecide(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("prop_1")
	f.store.addUser("officer", 3)

	view, err := f.svc.Committee(context.Background(), "prop_1", CommitteeInput{Type: "submit", OfficerID: "officer", Committees: []string{"safety", " "}})
	if err != nil {
		t.Fatalf("Committee(submit) error = %v", err)
	}
	if view.Proposal.Committee == nil || view.Proposal.Committee.Status != agenda.CommitteeSubmitted {
		t.Fatalf("committee = %+v, want submitted", view.Proposal.Committee)
	}
	if len(view.Proposal.Committee.Targets) != 1 {
		t.Fatalf("targets = %v, want blank names dropped", view.Proposal.Committee.Targets)
	}

	view, err = f.svc.Committee(context.Background(), "prop_1", CommitteeInput{Type: "decide", OfficerID: "officer", Decision: "approved", Reason: "rolled out in Q3"})
	if err != nil {
		t.Fatalf("Committee(decide) error = %v", err)
	}
	if view.Proposal.Closure == nil || view.Proposal.Closure.Reason != agenda.ClosureCommitteeApproved {
		t.Fatalf("closure = %+v, want committee_approved", view.Proposal.Closure)
	}
	if len(view.Notifications) != 1 || view.Notifications[0].Event != notify.EventCommitteeDecision {
		t.Fatalf("notifications = %+v, want only committee_decision", view.Notifications)
	}
}

func TestCommitteeRejectsUnknownType(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("prop_1")

	for _, input := range []CommitteeInput{
		{Type: "vote"},
		{Type: "status", Status: "sleeping"},
		{Type: "decide", Decision: "maybe"},
	} {
		_, err := f.svc.Committee(context.Background(), "prop_1", input)
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
			t.Fatalf("Committee(%+v) error = %v, want VALIDATION_ERROR", input, err)
		}
	}
}

func TestPermissionsResolveAgainstCurrentLevel(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("prop_1")
	f.store.addUser("chief", 5)

	perm, err := f.svc.Permissions(context.Background(), "prop_1", "chief")
	if err != nil {
		t.Fatalf("Permissions() error = %v", err)
	}
	if perm.Role != rbac.RoleSupervisor || perm.CanEdit || !perm.CanEmergencyOverride {
		t.Fatalf("permission = %+v, want supervisor with override and no edit", perm)
	}
}

func TestRecipientsPreview(t *testing.T) {
	f := newServiceFixture()
	f.seedPending("prop_1")
	f.store.addUser("officer", 4)
	f.store.addUser("staff", 1)

	recipients, err := f.svc.Recipients(context.Background(), "prop_1", "level_up")
	if err != nil {
		t.Fatalf("Recipients() error = %v", err)
	}
	if len(recipients) != 2 {
		t.Fatalf("recipients = %+v, want author and one officer", recipients)
	}
	if recipients[0].UserID != "author" || recipients[1].UserID != "officer" {
		t.Fatalf("recipient order = %s,%s, want author,officer", recipients[0].UserID, recipients[1].UserID)
	}

	if _, err := f.svc.Recipients(context.Background(), "prop_1", "party"); err == nil {
		t.Fatalf("Recipients(unknown event) error = nil, want validation error")
	}
}

func TestSearchValidatesFilters(t *testing.T) {
	f := newServiceFixture()
	searcher := &fakeSearch{}
	f.svc.search = searcher

	resp, err := f.svc.Search(context.Background(), search.Query{Text: "handover", Level: "dept_agenda"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Total != 1 || searcher.queries[0].Level != "DEPT_AGENDA" {
		t.Fatalf("search = %+v / %+v, want normalized level", resp, searcher.queries)
	}

	if _, err := f.svc.Search(context.Background(), search.Query{Level: "SENATE"}); err == nil {
		t.Fatalf("Search(unknown level) error = nil")
	}
	if _, err := f.svc.Search(context.Background(), search.Query{Status: "draft"}); err == nil {
		t.Fatalf("Search(unknown status) error = nil")
	}
}

func TestSearchWithoutBackendIsEmpty(t *testing.T) {
	f := newServiceFixture()

	resp, err := f.svc.Search(context.Background(), search.Query{Text: "anything"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("results = %#v, want empty slice", resp.Results)
	}
}

func TestUpsertUserValidation(t *testing.T) {
	f := newServiceFixture()

	tests := []struct {
		name  string
		input UserInput
		ok    bool
	}{
		{"valid", UserInput{Name: "Kim", Department: "icu", Facility: "east", Rank: 4}, true},
		{"missing name", UserInput{Department: "icu", Facility: "east", Rank: 4}, false},
		{"missing facility", UserInput{Name: "Kim", Department: "icu", Rank: 4}, false},
		{"rank too low", UserInput{Name: "Kim", Department: "icu", Facility: "east", Rank: 0}, false},
		{"rank too high", UserInput{Name: "Kim", Department: "icu", Facility: "east", Rank: 14}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpsertUser(context.Background(), "u_kim", tt.input)
			if tt.ok && err != nil {
				t.Fatalf("UpsertUser() error = %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("UpsertUser() error = nil, want validation error")
			}
		})
	}
	if user, err := f.store.GetUser(context.Background(), "u_kim"); err != nil || user.Rank != 4 {
		t.Fatalf("stored user = %+v, %v", user, err)
	}
}

func TestLevelProgress(t *testing.T) {
	f := newServiceFixture()

	payload, err := f.svc.LevelProgress(55)
	if err != nil {
		t.Fatalf("LevelProgress() error = %v", err)
	}
	if payload["level"] != agenda.LevelDeptAgenda {
		t.Fatalf("level = %v, want DEPT_AGENDA", payload["level"])
	}
	progress := payload["progress"].(agenda.Progress)
	if progress.RemainingScore != 45 {
		t.Fatalf("remaining = %d, want 45", progress.RemainingScore)
	}

	if _, err := f.svc.LevelProgress(-1); err == nil {
		t.Fatalf("LevelProgress(-1) error = nil")
	}
}
