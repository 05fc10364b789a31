// Package notify works out who hears about a proposal event and hands the
// resulting notification to delivery sinks.
package notify

import (
	"fmt"
	"time"

	"agenda/api/internal/agenda"
)

type Event string

const (
	EventLevelUp                Event = "level_up"
	EventCommitteeSubmitted     Event = "committee_submitted"
	EventCommitteeReviewStarted Event = "committee_review_started"
	EventCommitteeDecision      Event = "committee_decision"
	EventDeadlineWarning        Event = "deadline_warning"
	EventDeadlineExtended       Event = "deadline_extended"
	EventProposalClosed         Event = "proposal_closed"
)

func ParseEvent(value string) (Event, error) {
	switch e := Event(value); e {
	case EventLevelUp, EventCommitteeSubmitted, EventCommitteeReviewStarted, EventCommitteeDecision,
		EventDeadlineWarning, EventDeadlineExtended, EventProposalClosed:
		return e, nil
	default:
		return "", fmt.Errorf("%w: unknown notification event %q", agenda.ErrInvalidState, value)
	}
}

// Reason explains why a recipient was included.
type Reason string

const (
	ReasonAuthor             Reason = "author"
	ReasonResponsibleOfficer Reason = "responsible_officer"
	ReasonVoter              Reason = "voter"
	ReasonDepartmentScope    Reason = "department_scope"
	ReasonFacilityScope      Reason = "facility_scope"
	ReasonCorporationScope   Reason = "corporation_scope"
)

type Recipient struct {
	UserID   string   `json:"userId"`
	UserName string   `json:"userName"`
	Email    string   `json:"-"`
	Role     string   `json:"role"`
	Reasons  []Reason `json:"reasons"`
}

// Intent is a notification the engine decided to send. Recipients are
// resolved later, outside the state transition.
type Intent struct {
	Event      Event        `json:"event"`
	ProposalID string       `json:"proposalId"`
	Level      agenda.Level `json:"level"`
	FromLevel  agenda.Level `json:"fromLevel"`
	Deadline   *time.Time   `json:"deadline,omitempty"`
	Detail     string       `json:"detail,omitempty"`
	// Key identifies the event occurrence; redelivering the same key to the
	// same user is suppressed.
	Key string `json:"key"`
}

// NewIntent builds an intent whose key is derived from the proposal, the
// event and a discriminator such as the level or deadline it concerns.
func NewIntent(event Event, p agenda.Proposal, discriminator string) Intent {
	intent := Intent{
		Event:      event,
		ProposalID: p.ID,
		Level:      p.Level,
		FromLevel:  p.Level,
	}
	if p.Deadline != nil {
		d := *p.Deadline
		intent.Deadline = &d
	}
	intent.Key = fmt.Sprintf("%s:%s:%s", p.ID, event, discriminator)
	return intent
}

type Message struct {
	Title     string `json:"title"`
	Body      string `json:"message"`
	Icon      string `json:"icon"`
	Severity  string `json:"severity"`
	ActionURL string `json:"actionUrl"`
}

type Notification struct {
	ID         string `json:"id"`
	Key        string `json:"key"`
	Event      Event  `json:"event"`
	ProposalID string `json:"proposalId"`
	Message
	Recipients []Recipient `json:"recipients"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Representative is the single recipient that receives direct pushes; the
// rest of the list goes to the notification store only.
func (n Notification) Representative() (Recipient, bool) {
	if len(n.Recipients) == 0 {
		return Recipient{}, false
	}
	return n.Recipients[0], true
}
