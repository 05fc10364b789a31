// Package gate decides which governance actions a responsible officer may
// take on a proposal right now.
//
// Before the voting deadline only promotion is allowed; rejecting, holding or
// reclassifying a proposal waits until the deadline has passed.
package gate

import (
	"fmt"
	"strings"
	"time"

	"agenda/api/internal/agenda"
	"agenda/api/internal/deadline"
)

type Action string

const (
	ActionApproveLevelUp   Action = "approve_levelup"
	ActionReject           Action = "reject"
	ActionHold             Action = "hold"
	ActionDepartmentMatter Action = "department_matter"
)

func ParseAction(value string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(value)))
	switch action {
	case ActionApproveLevelUp, ActionReject, ActionHold, ActionDepartmentMatter:
		return action, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", agenda.ErrInvalidState, value)
	}
}

// Suppressive reports whether the action ends or freezes a proposal.
func (a Action) Suppressive() bool {
	return a == ActionReject || a == ActionHold || a == ActionDepartmentMatter
}

// Decision is a policy verdict. A denial is an ordinary result, not an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

const (
	ReasonClosed           = "proposal is closed"
	ReasonWaitForDeadline  = "fairness requires waiting until the voting deadline"
	ReasonDeadlineExpired  = "deadline already expired, cannot promote"
	ReasonTopLevel         = "proposal is already at the highest agenda level"
	ReasonNotExtendable    = "deadline extension is not permitted at this level"
	ReasonCeilingReached   = "maximum deadline for this level has been reached"
	ReasonNotUnderDeadline = "proposal is not under deadline governance"
)

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

type Gate struct {
	deadlines *deadline.Manager
}

func New(deadlines *deadline.Manager) *Gate {
	return &Gate{deadlines: deadlines}
}

// Expired is the single expiration predicate every action decision shares.
func (g *Gate) Expired(p agenda.Proposal, now time.Time) (bool, error) {
	if p.Deadline == nil {
		return false, fmt.Errorf("%w: proposal %s has no deadline", agenda.ErrInvalidState, p.ID)
	}
	return g.deadlines.IsExpired(*p.Deadline, now), nil
}

func (g *Gate) CanPerform(p agenda.Proposal, action Action, now time.Time) (Decision, error) {
	switch action {
	case ActionApproveLevelUp, ActionReject, ActionHold, ActionDepartmentMatter:
	default:
		return Decision{}, fmt.Errorf("%w: unknown action %q", agenda.ErrInvalidState, action)
	}
	if p.IsClosed() {
		return deny(ReasonClosed), nil
	}
	expired, err := g.Expired(p, now)
	if err != nil {
		return Decision{}, err
	}

	if action == ActionApproveLevelUp {
		if expired {
			return deny(ReasonDeadlineExpired), nil
		}
		if p.Level == agenda.LevelCorpAgenda {
			return deny(ReasonTopLevel), nil
		}
		return allow(), nil
	}

	if !expired {
		return deny(ReasonWaitForDeadline), nil
	}
	return allow(), nil
}

// CanApproveExtension is independent of the deadline phase; only the level
// configuration and its ceiling decide.
func (g *Gate) CanApproveExtension(p agenda.Proposal) (Decision, error) {
	if p.IsClosed() {
		return deny(ReasonClosed), nil
	}
	if p.Deadline == nil {
		return deny(ReasonNotUnderDeadline), nil
	}
	extendable, err := g.deadlines.CanExtend(p.Level)
	if err != nil {
		return Decision{}, err
	}
	if !extendable {
		return deny(ReasonNotExtendable), nil
	}
	reached, err := g.deadlines.HasReachedMax(p.Level, p.CreatedAt, *p.Deadline, p.ExtensionCount)
	if err != nil {
		return Decision{}, err
	}
	if reached {
		return deny(ReasonCeilingReached), nil
	}
	return allow(), nil
}

// Decisions evaluates every action at once, keyed by action name.
func (g *Gate) Decisions(p agenda.Proposal, now time.Time) (map[Action]Decision, error) {
	actions := []Action{ActionApproveLevelUp, ActionReject, ActionHold, ActionDepartmentMatter}
	decisions := make(map[Action]Decision, len(actions))
	for _, action := range actions {
		decision, err := g.CanPerform(p, action, now)
		if err != nil {
			return nil, err
		}
		decisions[action] = decision
	}
	return decisions, nil
}
