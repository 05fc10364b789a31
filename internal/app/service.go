package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"agenda/api/internal/agenda"
	"agenda/api/internal/deadline"
	"agenda/api/internal/engine"
	"agenda/api/internal/gate"
	"agenda/api/internal/notify"
	"agenda/api/internal/rbac"
	"agenda/api/internal/search"
	"agenda/api/internal/store"
)

const (
	minRank = 1
	maxRank = 13
)

type SubmitProposalInput struct {
	Title    string `json:"title"`
	AuthorID string `json:"authorId"`
}

type VoteInput struct {
	UserID string    `json:"userId"`
	Option string    `json:"option"`
	CastAt time.Time `json:"castAt"`
}

type SyncVotesInput struct {
	Votes []VoteInput `json:"votes"`
}

type CommentInput struct {
	UserID string `json:"userId"`
}

// CommitteeInput covers the three committee calls. Type selects which
// fields are read: "status" uses Status, "submit" uses OfficerID and
// Committees, "decide" uses Decision and Reason.
type CommitteeInput struct {
	Type       string   `json:"type"`
	OfficerID  string   `json:"officerId"`
	Status     string   `json:"status"`
	Committees []string `json:"committees"`
	Decision   string   `json:"decision"`
	Reason     string   `json:"reason"`
}

type OfficerActionInput struct {
	OfficerID string `json:"officerId"`
	Action    string `json:"action"`
	Feedback  string `json:"feedback"`
}

type ExtensionInput struct {
	OfficerID string `json:"officerId"`
	Days      int    `json:"days"`
}

type UserInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Department string `json:"department"`
	Facility   string `json:"facility"`
	Rank       int    `json:"rank"`
}

// ProposalView is a stored snapshot plus the values derived from it at read
// time.
type ProposalView struct {
	agenda.Proposal
	DeadlineState deadline.State            `json:"deadlineState"`
	Progress      agenda.Progress           `json:"progress"`
	Tally         map[agenda.VoteOption]int `json:"tally"`
}

type LevelChangeView struct {
	From agenda.Level `json:"from"`
	To   agenda.Level `json:"to"`
}

// TransitionView is the outcome of an event. A gated action the deadline
// phase refuses comes back with Decision set and Changed false.
type TransitionView struct {
	Proposal      ProposalView      `json:"proposal"`
	Changed       bool              `json:"changed"`
	Decision      *gate.Decision    `json:"decision,omitempty"`
	LevelChanges  []LevelChangeView `json:"levelChanges"`
	Notifications []notify.Intent   `json:"notifications"`
}

type dataStore interface {
	GetUser(ctx context.Context, userID string) (agenda.User, error)
	UpsertUser(ctx context.Context, user agenda.User) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]store.UserNotification, error)
	Ping(ctx context.Context) error
}

type proposalEngine interface {
	Now() time.Time
	Get(ctx context.Context, id string) (agenda.Proposal, error)
	Submit(ctx context.Context, in engine.NewProposal) (agenda.Proposal, error)
	Apply(ctx context.Context, id string, ev engine.Event) (engine.Result, error)
}

type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

// Governance is the policy wiring shared by the engine and the read paths.
type Governance struct {
	Levels    *agenda.Engine
	Deadlines *deadline.Manager
	Gate      *gate.Gate
	Resolver  *rbac.Resolver
	Targeting *notify.Targeting
}

type Service struct {
	store     dataStore
	proposals proposalEngine
	levels    *agenda.Engine
	deadlines *deadline.Manager
	gate      *gate.Gate
	resolver  *rbac.Resolver
	targeting *notify.Targeting
	search    searcher
}

func New(dataStore *store.PostgresStore, coordinator *engine.Coordinator, governance Governance, searchService *search.Service) *Service {
	s := &Service{
		store:     dataStore,
		proposals: coordinator,
		levels:    governance.Levels,
		deadlines: governance.Deadlines,
		gate:      governance.Gate,
		resolver:  governance.Resolver,
		targeting: governance.Targeting,
	}
	if searchService != nil {
		s.search = searchService
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// LevelProgress reports the level a score reaches and how far it is from the
// next threshold.
func (s *Service) LevelProgress(score int) (map[string]any, error) {
	if score < 0 {
		return nil, validationError("score must not be negative")
	}
	level := s.levels.LevelForScore(score)
	band, err := s.levels.Band(level)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"score":           score,
		"level":           level,
		"scope":           band.Scope,
		"responsibleRank": band.ResponsibleRank,
		"progress":        s.levels.Progress(score),
	}, nil
}

func (s *Service) SubmitProposal(ctx context.Context, input SubmitProposalInput) (ProposalView, error) {
	if strings.TrimSpace(input.Title) == "" {
		return ProposalView{}, validationError("title is required")
	}
	author, err := s.user(ctx, input.AuthorID, "authorId")
	if err != nil {
		return ProposalView{}, err
	}
	p, err := s.proposals.Submit(ctx, engine.NewProposal{Title: input.Title, Author: author})
	if err != nil {
		return ProposalView{}, err
	}
	return s.view(p), nil
}

func (s *Service) GetProposal(ctx context.Context, proposalID string) (ProposalView, error) {
	p, err := s.proposals.Get(ctx, proposalID)
	if err != nil {
		return ProposalView{}, err
	}
	return s.view(p), nil
}

func (s *Service) CastVote(ctx context.Context, proposalID string, input VoteInput) (TransitionView, error) {
	vote, err := parseVote(input)
	if err != nil {
		return TransitionView{}, err
	}
	if _, err := s.user(ctx, vote.UserID, "userId"); err != nil {
		return TransitionView{}, err
	}
	return s.apply(ctx, proposalID, engine.Event{Kind: engine.EventVoteCast, ActorID: vote.UserID, Vote: vote})
}

// SyncVotes replaces the vote set with the one held by the voting system.
// Voters are not checked against the directory.
func (s *Service) SyncVotes(ctx context.Context, proposalID string, input SyncVotesInput) (TransitionView, error) {
	votes := make([]agenda.Vote, 0, len(input.Votes))
	for i, item := range input.Votes {
		vote, err := parseVote(item)
		if err != nil {
			var domainErr *DomainError
			if errors.As(err, &domainErr) {
				domainErr.Message = fmt.Sprintf("votes[%d]: %s", i, domainErr.Message)
			}
			return TransitionView{}, err
		}
		votes = append(votes, vote)
	}
	return s.apply(ctx, proposalID, engine.Event{Kind: engine.EventVotesSynced, Votes: votes})
}

func (s *Service) AddComment(ctx context.Context, proposalID string, input CommentInput) (TransitionView, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return TransitionView{}, validationError("userId is required")
	}
	return s.apply(ctx, proposalID, engine.Event{Kind: engine.EventCommentAdded, ActorID: input.UserID})
}

func (s *Service) Committee(ctx context.Context, proposalID string, input CommitteeInput) (TransitionView, error) {
	switch strings.ToLower(strings.TrimSpace(input.Type)) {
	case "status":
		status, err := parseCommitteeStatus(input.Status)
		if err != nil {
			return TransitionView{}, err
		}
		return s.apply(ctx, proposalID, engine.Event{Kind: engine.EventCommitteeStatus, Status: status})
	case "submit":
		officer, err := s.user(ctx, input.OfficerID, "officerId")
		if err != nil {
			return TransitionView{}, err
		}
		return s.apply(ctx, proposalID, engine.Event{
			Kind:       engine.EventCommitteeSubmitted,
			ActorID:    officer.ID,
			ActorRank:  officer.Rank,
			Committees: input.Committees,
		})
	case "decide":
		decision := agenda.CommitteeDecision(strings.ToLower(strings.TrimSpace(input.Decision)))
		if decision != agenda.DecisionApproved && decision != agenda.DecisionRejected {
			return TransitionView{}, validationError("decision must be approved or rejected")
		}
		return s.apply(ctx, proposalID, engine.Event{
			Kind:     engine.EventCommitteeDecided,
			ActorID:  input.OfficerID,
			Decision: decision,
			Feedback: input.Reason,
		})
	default:
		return TransitionView{}, validationError("type must be status, submit or decide")
	}
}

// OfficerAction runs a gated governance action. The requester must hold
// owner rights or the emergency override at the level the proposal is at
// when the action is applied.
func (s *Service) OfficerAction(ctx context.Context, proposalID string, input OfficerActionInput) (TransitionView, error) {
	action, err := gate.ParseAction(input.Action)
	if err != nil {
		return TransitionView{}, validationError(fmt.Sprintf("unknown action %q", input.Action))
	}
	officer, err := s.user(ctx, input.OfficerID, "officerId")
	if err != nil {
		return TransitionView{}, err
	}
	return s.apply(ctx, proposalID, engine.Event{
		Kind:      engine.EventOfficerAction,
		ActorID:   officer.ID,
		ActorRank: officer.Rank,
		Action:    action,
		Feedback:  strings.TrimSpace(input.Feedback),
	})
}

func (s *Service) RequestExtension(ctx context.Context, proposalID string, input ExtensionInput) (TransitionView, error) {
	if input.Days < 0 {
		return TransitionView{}, validationError("days must not be negative")
	}
	officer, err := s.user(ctx, input.OfficerID, "officerId")
	if err != nil {
		return TransitionView{}, err
	}
	return s.apply(ctx, proposalID, engine.Event{
		Kind:      engine.EventExtensionRequested,
		ActorID:   officer.ID,
		ActorRank: officer.Rank,
		Days:      input.Days,
	})
}

// Permissions resolves what a user may do on a proposal at its current level.
func (s *Service) Permissions(ctx context.Context, proposalID, userID string) (rbac.Permission, error) {
	p, err := s.proposals.Get(ctx, proposalID)
	if err != nil {
		return rbac.Permission{}, err
	}
	user, err := s.user(ctx, userID, "userId")
	if err != nil {
		return rbac.Permission{}, err
	}
	return s.resolver.Resolve(user.Rank, p.Level)
}

// CanPerformAction evaluates the responsibility gate without acting. With a
// userID the requester's rank is checked too and the permission is included;
// without one only the deadline phase is considered.
func (s *Service) CanPerformAction(ctx context.Context, proposalID, actionName, userID string) (map[string]any, error) {
	action, err := gate.ParseAction(actionName)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("unknown action %q", actionName), nil)
	}
	var requester *agenda.User
	if strings.TrimSpace(userID) != "" {
		user, err := s.user(ctx, userID, "userId")
		if err != nil {
			return nil, err
		}
		requester = &user
	}
	p, err := s.proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	decision, err := s.gate.CanPerform(p, action, s.proposals.Now())
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"proposalId": p.ID,
		"action":     action,
		"allowed":    decision.Allowed,
		"reason":     decision.Reason,
	}
	if requester == nil {
		return payload, nil
	}
	perm, err := s.resolver.AuthorizeOfficer(requester.Rank, p.Level)
	payload["permission"] = perm
	var officerErr *rbac.OfficerError
	if errors.As(err, &officerErr) {
		payload["allowed"] = false
		payload["reason"] = officerErr.Error()
		return payload, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// Recipients previews who would be notified of event for the proposal as it
// stands now.
func (s *Service) Recipients(ctx context.Context, proposalID, eventName string) ([]notify.Recipient, error) {
	event, err := notify.ParseEvent(eventName)
	if err != nil {
		return nil, validationError(fmt.Sprintf("unknown event %q", eventName))
	}
	p, err := s.proposals.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	recipients, err := s.targeting.ComputeRecipients(ctx, notify.NewIntent(event, p, "preview"), p)
	if err != nil {
		return nil, err
	}
	if recipients == nil {
		recipients = []notify.Recipient{}
	}
	return recipients, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if q.Level != "" {
		level, err := agenda.ParseLevel(q.Level)
		if err != nil {
			return search.Response{}, validationError(fmt.Sprintf("unknown level %q", q.Level))
		}
		q.Level = level.String()
	}
	switch q.Status {
	case "", search.StatusOpen, search.StatusClosed, search.StatusArchived:
	default:
		return search.Response{}, validationError(fmt.Sprintf("unknown status %q", q.Status))
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) UserNotifications(ctx context.Context, userID string, limit int) ([]store.UserNotification, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, validationError("user id is required")
	}
	return s.store.ListNotifications(ctx, userID, limit)
}

// UpsertUser syncs a directory entry. Targeting and permission resolution
// read ranks and departments from here.
func (s *Service) UpsertUser(ctx context.Context, userID string, input UserInput) (agenda.User, error) {
	user := agenda.User{
		ID:         strings.TrimSpace(userID),
		Name:       strings.TrimSpace(input.Name),
		Email:      strings.TrimSpace(input.Email),
		Department: strings.TrimSpace(input.Department),
		Facility:   strings.TrimSpace(input.Facility),
		Rank:       input.Rank,
	}
	if user.ID == "" || user.Name == "" {
		return agenda.User{}, validationError("id and name are required")
	}
	if user.Department == "" || user.Facility == "" {
		return agenda.User{}, validationError("department and facility are required")
	}
	if user.Rank < minRank || user.Rank > maxRank {
		return agenda.User{}, validationError(fmt.Sprintf("rank must be between %d and %d", minRank, maxRank))
	}
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return agenda.User{}, err
	}
	return user, nil
}

func (s *Service) apply(ctx context.Context, proposalID string, ev engine.Event) (TransitionView, error) {
	res, err := s.proposals.Apply(ctx, proposalID, ev)
	var officerErr *rbac.OfficerError
	if errors.As(err, &officerErr) {
		return TransitionView{}, forbidden(officerErr.Error(), officerErr.Permission)
	}
	if err != nil {
		return TransitionView{}, err
	}
	changes := make([]LevelChangeView, 0, len(res.LevelChanges))
	for _, change := range res.LevelChanges {
		changes = append(changes, LevelChangeView{From: change.From, To: change.To})
	}
	intents := res.Intents
	if intents == nil {
		intents = []notify.Intent{}
	}
	return TransitionView{
		Proposal:      s.view(res.Proposal),
		Changed:       res.Changed,
		Decision:      res.Decision,
		LevelChanges:  changes,
		Notifications: intents,
	}, nil
}

func (s *Service) view(p agenda.Proposal) ProposalView {
	if p.Votes == nil {
		p.Votes = []agenda.Vote{}
	}
	return ProposalView{
		Proposal:      p,
		DeadlineState: s.deadlines.State(p.Deadline, p.ExtensionCount, s.proposals.Now()),
		Progress:      s.levels.Progress(p.Score),
		Tally:         p.Tally(),
	}
}

// user loads a directory entry named by a request field; an unknown id is a
// validation error, not a missing route.
func (s *Service) user(ctx context.Context, userID, field string) (agenda.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return agenda.User{}, validationError(field + " is required")
	}
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return agenda.User{}, domainError(http.StatusUnprocessableEntity, "UNKNOWN_USER", fmt.Sprintf("%s %q is not in the directory", field, userID), nil)
	}
	if err != nil {
		return agenda.User{}, err
	}
	return user, nil
}

func parseVote(input VoteInput) (agenda.Vote, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return agenda.Vote{}, validationError("userId is required")
	}
	option := agenda.VoteOption(strings.ToLower(strings.TrimSpace(input.Option)))
	if !option.Valid() {
		return agenda.Vote{}, validationError(fmt.Sprintf("unknown vote option %q", input.Option))
	}
	return agenda.Vote{UserID: userID, Option: option, CastAt: input.CastAt}, nil
}

func parseCommitteeStatus(value string) (agenda.CommitteeStatus, error) {
	status := agenda.CommitteeStatus(strings.ToLower(strings.TrimSpace(value)))
	switch status {
	case agenda.CommitteeSubmitted, agenda.CommitteeUnderReview, agenda.CommitteeDeliberating,
		agenda.CommitteeApproved, agenda.CommitteeImplementationDecided, agenda.CommitteeImplementing,
		agenda.CommitteeOnHold, agenda.CommitteeRejected:
		return status, nil
	default:
		return "", validationError(fmt.Sprintf("unknown committee status %q", value))
	}
}
