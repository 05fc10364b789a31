// Package engine applies events to proposal snapshots.
//
// Evaluator is a pure function of (snapshot, event): it returns the next
// snapshot and the notifications the transition calls for. Coordinator is the
// single writer that loads, evaluates and stores a proposal under its lock.
package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"agenda/api/internal/agenda"
	"agenda/api/internal/closure"
	"agenda/api/internal/deadline"
	"agenda/api/internal/gate"
	"agenda/api/internal/notify"
	"agenda/api/internal/rbac"
)

type EventKind string

const (
	EventVotesSynced        EventKind = "votes_synced"
	EventVoteCast           EventKind = "vote_cast"
	EventCommentAdded       EventKind = "comment_added"
	EventCommitteeStatus    EventKind = "committee_status"
	EventCommitteeSubmitted EventKind = "committee_submitted"
	EventCommitteeDecided   EventKind = "committee_decided"
	EventOfficerAction      EventKind = "officer_action"
	EventExtensionRequested EventKind = "extension_requested"
	EventTick               EventKind = "tick"
)

type Event struct {
	Kind    EventKind
	At      time.Time
	ActorID string
	// ActorRank is the directory rank of ActorID. Officer actions, committee
	// submissions and extension requests are authorized against it at the
	// proposal's level in the snapshot being evaluated.
	ActorRank  int
	Vote       agenda.Vote
	Votes      []agenda.Vote
	Status     agenda.CommitteeStatus
	Committees []string
	Decision   agenda.CommitteeDecision
	Action     gate.Action
	Feedback   string
	Days       int
}

type LevelChange struct {
	From agenda.Level
	To   agenda.Level
}

type Result struct {
	Proposal agenda.Proposal
	Intents  []notify.Intent
	// Decision is set for gated events; a denied decision leaves the
	// snapshot untouched.
	Decision     *gate.Decision
	Changed      bool
	LevelChanges []LevelChange
	Closed       bool
}

type Options struct {
	// NotifyIntermediateLevels fires a level-up notification for every
	// level crossed by a single event. When false only the final level is
	// announced and the skipped ones are logged.
	NotifyIntermediateLevels bool
	// ExpiryGraceDays is how long after expiry the sweep leaves a proposal
	// open for officer action before closing it as expired.
	ExpiryGraceDays int
}

func DefaultOptions() Options {
	return Options{NotifyIntermediateLevels: true, ExpiryGraceDays: 14}
}

type Evaluator struct {
	levels    *agenda.Engine
	deadlines *deadline.Manager
	gate      *gate.Gate
	resolver  *rbac.Resolver
	closer    *closure.Service
	opts      Options
	logger    *slog.Logger
}

func NewEvaluator(levels *agenda.Engine, deadlines *deadline.Manager, g *gate.Gate, resolver *rbac.Resolver, closer *closure.Service, opts Options) *Evaluator {
	return &Evaluator{
		levels:    levels,
		deadlines: deadlines,
		gate:      g,
		resolver:  resolver,
		closer:    closer,
		opts:      opts,
		logger:    slog.Default().With("component", "engine"),
	}
}

func (e *Evaluator) WithLogger(logger *slog.Logger) *Evaluator {
	e.logger = logger
	return e
}

// Evaluate applies ev to p. The input snapshot is never modified.
func (e *Evaluator) Evaluate(p agenda.Proposal, ev Event) (Result, error) {
	if ev.At.IsZero() {
		return Result{}, fmt.Errorf("%w: event %s has no timestamp", agenda.ErrInvalidState, ev.Kind)
	}
	if ev.Kind == EventTick && p.IsClosed() {
		return Result{Proposal: p.Clone()}, nil
	}
	if p.IsClosed() {
		return Result{}, fmt.Errorf("%s on %s: %w", ev.Kind, p.ID, agenda.ErrAlreadyClosed)
	}

	t := &transition{e: e, next: p.Clone(), now: ev.At}
	var err error
	switch ev.Kind {
	case EventVotesSynced:
		err = t.syncVotes(ev.Votes)
	case EventVoteCast:
		err = t.castVote(ev.Vote)
	case EventCommentAdded:
		t.next.CommentCount++
		t.touch()
	case EventCommitteeStatus:
		err = t.committeeStatus(ev.Status)
	case EventCommitteeSubmitted:
		if err = t.authorize(ev.ActorRank); err == nil {
			err = t.committeeSubmitted(ev.ActorID, ev.Committees)
		}
	case EventCommitteeDecided:
		err = t.committeeDecided(ev.ActorID, ev.Decision, ev.Feedback)
	case EventOfficerAction:
		if err = t.authorize(ev.ActorRank); err == nil {
			err = t.officerAction(ev.ActorID, ev.Action, ev.Feedback)
		}
	case EventExtensionRequested:
		if err = t.authorize(ev.ActorRank); err == nil {
			err = t.extend(ev.Days)
		}
	case EventTick:
		err = t.tick()
	default:
		err = fmt.Errorf("%w: unknown event %q", agenda.ErrInvalidState, ev.Kind)
	}
	if err != nil {
		return Result{}, err
	}
	return t.result(), nil
}

type transition struct {
	e        *Evaluator
	next     agenda.Proposal
	now      time.Time
	intents  []notify.Intent
	decision *gate.Decision
	changed  bool
	levels   []LevelChange
	closed   bool
}

func (t *transition) result() Result {
	if t.changed {
		t.next.UpdatedAt = t.now
	}
	return Result{
		Proposal:     t.next,
		Intents:      t.intents,
		Decision:     t.decision,
		Changed:      t.changed,
		LevelChanges: t.levels,
		Closed:       t.closed,
	}
}

func (t *transition) touch() {
	t.next.LastActivityAt = t.now
	t.changed = true
}

func (t *transition) notify(event notify.Event, discriminator string, mutate func(*notify.Intent)) {
	intent := notify.NewIntent(event, t.next, discriminator)
	if mutate != nil {
		mutate(&intent)
	}
	t.intents = append(t.intents, intent)
}

// authorize checks the actor's rank against the level of the snapshot under
// evaluation, so a level change that lands first is always seen.
func (t *transition) authorize(rank int) error {
	_, err := t.e.resolver.AuthorizeOfficer(rank, t.next.Level)
	return err
}

func (t *transition) syncVotes(votes []agenda.Vote) error {
	next := make([]agenda.Vote, 0, len(votes))
	for _, vote := range votes {
		if vote.UserID == "" || !vote.Option.Valid() {
			return fmt.Errorf("%w: invalid vote %+v", agenda.ErrInvalidState, vote)
		}
		if vote.CastAt.IsZero() {
			vote.CastAt = t.now
		}
		next = append(next, vote)
	}
	t.next.Votes = nil
	for _, vote := range next {
		t.next.SetVote(vote)
	}
	t.touch()
	return t.rescore()
}

func (t *transition) castVote(vote agenda.Vote) error {
	if vote.UserID == "" || !vote.Option.Valid() {
		return fmt.Errorf("%w: invalid vote %+v", agenda.ErrInvalidState, vote)
	}
	if vote.CastAt.IsZero() {
		vote.CastAt = t.now
	}
	t.next.SetVote(vote)
	t.touch()
	return t.rescore()
}

// rescore recomputes the score and moves the level to the band containing
// it, never below an officer promotion.
func (t *transition) rescore() error {
	t.next.Score = agenda.ScoreVotes(t.next.Votes)
	target := t.e.levels.LevelForScore(t.next.Score)
	if target < t.next.PromotedLevel {
		target = t.next.PromotedLevel
	}
	return t.moveTo(target)
}

func (t *transition) moveTo(target agenda.Level) error {
	from := t.next.Level
	if target == from {
		return nil
	}
	t.changed = true
	t.levels = append(t.levels, LevelChange{From: from, To: target})

	if target < from {
		t.next.Level = target
		t.e.logger.Info("level lowered by score", "proposal_id", t.next.ID, "from", from.String(), "to", target.String(), "score", t.next.Score)
		return nil
	}

	crossed := t.e.levels.Between(from, target)
	for _, level := range crossed {
		d, err := t.e.deadlines.OnLevelUp(t.next.Deadline, level, t.now)
		if err != nil {
			return err
		}
		t.next.Deadline = &d
	}
	t.next.Level = target

	announce := crossed
	if !t.e.opts.NotifyIntermediateLevels && len(crossed) > 1 {
		skipped := make([]string, 0, len(crossed)-1)
		for _, level := range crossed[:len(crossed)-1] {
			skipped = append(skipped, level.String())
		}
		t.e.logger.Info("skipped intermediate level notifications", "proposal_id", t.next.ID, "skipped", strings.Join(skipped, ","), "final", target.String())
		announce = crossed[len(crossed)-1:]
	}
	previous := from
	for _, level := range crossed {
		if containsLevel(announce, level) {
			fromLevel, toLevel := previous, level
			if len(announce) == 1 {
				fromLevel = from
			}
			t.notify(notify.EventLevelUp, level.String(), func(i *notify.Intent) {
				i.FromLevel = fromLevel
				i.Level = toLevel
			})
		}
		previous = level
	}
	return nil
}

func containsLevel(levels []agenda.Level, level agenda.Level) bool {
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

func (t *transition) committeeStatus(status agenda.CommitteeStatus) error {
	d, err := t.e.deadlines.AdjustForCommitteeStatus(t.next.Deadline, status, t.now)
	if err != nil {
		return err
	}
	if t.next.Committee == nil {
		t.next.Committee = &agenda.Committee{}
	}
	previous := t.next.Committee.Status
	t.next.Committee.Status = status
	t.next.Deadline = &d
	t.changed = true
	if status == agenda.CommitteeUnderReview && previous != agenda.CommitteeUnderReview {
		t.notify(notify.EventCommitteeReviewStarted, string(status), nil)
	}
	return nil
}

func (t *transition) committeeSubmitted(officerID string, committees []string) error {
	targets := make([]string, 0, len(committees))
	for _, name := range committees {
		if name = strings.TrimSpace(name); name != "" {
			targets = append(targets, name)
		}
	}
	if len(targets) == 0 {
		return fmt.Errorf("%w: committee submission needs at least one committee", agenda.ErrInvalidState)
	}
	submittedAt := t.now
	t.next.Committee = &agenda.Committee{
		Targets:     targets,
		SubmittedAt: &submittedAt,
		SubmittedBy: officerID,
	}
	if err := t.committeeStatus(agenda.CommitteeSubmitted); err != nil {
		return err
	}
	t.notify(notify.EventCommitteeSubmitted, strings.Join(targets, ","), nil)
	return nil
}

func (t *transition) committeeDecided(officerID string, decision agenda.CommitteeDecision, reasonText string) error {
	reason, err := closure.ReasonForDecision(decision)
	if err != nil {
		return err
	}
	status := agenda.CommitteeImplementationDecided
	if decision == agenda.DecisionRejected {
		status = agenda.CommitteeRejected
	}
	if err := t.committeeStatus(status); err != nil {
		return err
	}
	decidedAt := t.now
	t.next.Committee.Decision = decision
	t.next.Committee.DecisionReason = strings.TrimSpace(reasonText)
	t.next.Committee.DecidedAt = &decidedAt

	if err := t.close(closure.Request{Reason: reason, ClosedBy: officerID, Feedback: reasonText}, false); err != nil {
		return err
	}
	t.notify(notify.EventCommitteeDecision, string(decision), func(i *notify.Intent) {
		i.Detail = string(decision)
	})
	return nil
}

func (t *transition) officerAction(officerID string, action gate.Action, feedback string) error {
	decision, err := t.e.gate.CanPerform(t.next, action, t.now)
	if err != nil {
		return err
	}
	t.decision = &decision
	if !decision.Allowed {
		return nil
	}

	if action == gate.ActionApproveLevelUp {
		target, ok := t.e.levels.Next(t.next.Level)
		if !ok {
			return fmt.Errorf("%w: no level above %s", agenda.ErrInvalidState, t.next.Level)
		}
		t.next.PromotedLevel = target
		t.e.logger.Info("officer promoted proposal", "proposal_id", t.next.ID, "officer_id", officerID, "to", target.String())
		return t.moveTo(target)
	}

	reason, ok := closure.ReasonForAction(string(action))
	if !ok {
		return fmt.Errorf("%w: action %s does not close", agenda.ErrInvalidState, action)
	}
	return t.close(closure.Request{Reason: reason, ClosedBy: officerID, Feedback: feedback}, true)
}

func (t *transition) extend(days int) error {
	decision, err := t.e.gate.CanApproveExtension(t.next)
	if err != nil {
		return err
	}
	t.decision = &decision
	if !decision.Allowed {
		return nil
	}
	return t.applyExtension(days)
}

// applyExtension is capped at the level ceiling; the gate has already
// refused a deadline sitting at it.
func (t *transition) applyExtension(days int) error {
	extended, err := t.e.deadlines.ExtendWithin(t.next.Level, t.next.CreatedAt, *t.next.Deadline, days)
	if err != nil {
		return err
	}
	t.next.Deadline = &extended
	t.next.ExtensionCount++
	t.changed = true
	t.notify(notify.EventDeadlineExtended, extended.UTC().Format(time.RFC3339), nil)
	return nil
}

func (t *transition) close(req closure.Request, announce bool) error {
	closed, err := t.e.closer.Close(t.next, req, t.now)
	if err != nil {
		return err
	}
	t.next = closed
	t.changed = true
	t.closed = true
	if announce {
		t.notify(notify.EventProposalClosed, string(req.Reason), func(i *notify.Intent) {
			i.Detail = string(req.Reason)
		})
	}
	return nil
}

// tick is the periodic deadline check: auto-extend active proposals close to
// their deadline, warn once per deadline, close after the expiry grace.
func (t *transition) tick() error {
	if t.next.Deadline == nil {
		return nil
	}
	state := t.e.deadlines.State(t.next.Deadline, t.next.ExtensionCount, t.now)

	if !state.Expired {
		auto, err := t.e.deadlines.ShouldAutoExtend(t.next.Level, t.next.LastActivityAt, t.next.Deadline, t.now)
		if err != nil {
			return err
		}
		if auto {
			reached, err := t.e.deadlines.HasReachedMax(t.next.Level, t.next.CreatedAt, *t.next.Deadline, t.next.ExtensionCount)
			if err != nil {
				return err
			}
			if !reached {
				return t.applyExtension(0)
			}
		}
	}

	if state.NearExpiration && (t.next.WarnedDeadline == nil || !t.next.WarnedDeadline.Equal(*t.next.Deadline)) {
		warned := *t.next.Deadline
		t.next.WarnedDeadline = &warned
		t.changed = true
		t.notify(notify.EventDeadlineWarning, warned.UTC().Format(time.RFC3339), nil)
		return nil
	}

	if state.Expired && state.RemainingDays <= -t.e.opts.ExpiryGraceDays {
		return t.close(closure.Request{Reason: agenda.ClosureDeadlineExpired}, true)
	}
	return nil
}
