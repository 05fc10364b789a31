package notify

import (
	"fmt"
	"strings"

	"agenda/api/internal/agenda"
)

const (
	SeverityInfo     = "info"
	SeveritySuccess  = "success"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Compose renders the user-facing message of an intent.
func Compose(intent Intent, p agenda.Proposal, baseURL string) Message {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = p.ID
	}
	msg := Message{
		Severity:  SeverityInfo,
		ActionURL: strings.TrimRight(baseURL, "/") + "/proposals/" + p.ID,
	}

	switch intent.Event {
	case EventLevelUp:
		msg.Title = fmt.Sprintf("Escalated to %s", intent.Level)
		msg.Body = fmt.Sprintf("%q moved from %s to %s with a score of %d.", title, intent.FromLevel, intent.Level, p.Score)
		msg.Icon = "trending-up"
		msg.Severity = SeveritySuccess
	case EventCommitteeSubmitted:
		msg.Title = "Submitted to committee"
		msg.Body = fmt.Sprintf("%q was submitted to %s.", title, committeeNames(p))
		msg.Icon = "users"
	case EventCommitteeReviewStarted:
		msg.Title = "Committee review started"
		msg.Body = fmt.Sprintf("%s started reviewing %q.", committeeNames(p), title)
		msg.Icon = "users"
	case EventCommitteeDecision:
		msg.Title = "Committee decision"
		msg.Body = fmt.Sprintf("The committee decision on %q is: %s.", title, intent.Detail)
		msg.Icon = "gavel"
		if intent.Detail == string(agenda.DecisionApproved) {
			msg.Severity = SeveritySuccess
		}
	case EventDeadlineWarning:
		msg.Title = "Voting closes soon"
		msg.Body = fmt.Sprintf("Voting on %q closes %s. Your vote has not been recorded yet.", title, deadlineText(intent))
		msg.Icon = "clock"
		msg.Severity = SeverityWarning
	case EventDeadlineExtended:
		msg.Title = "Voting deadline extended"
		msg.Body = fmt.Sprintf("The voting deadline of %q was extended to %s.", title, deadlineText(intent))
		msg.Icon = "calendar-plus"
	case EventProposalClosed:
		msg.Title = "Proposal closed"
		msg.Body = fmt.Sprintf("%q was closed: %s.", title, strings.ReplaceAll(intent.Detail, "_", " "))
		msg.Icon = "archive"
		if intent.Detail == string(agenda.ClosureRejectedByManager) || intent.Detail == string(agenda.ClosureCommitteeRejected) {
			msg.Severity = SeverityCritical
		}
	default:
		msg.Title = title
		msg.Body = string(intent.Event)
		msg.Icon = "bell"
	}
	return msg
}

func committeeNames(p agenda.Proposal) string {
	if p.Committee == nil || len(p.Committee.Targets) == 0 {
		return "the committee"
	}
	return strings.Join(p.Committee.Targets, ", ")
}

func deadlineText(intent Intent) string {
	if intent.Deadline == nil {
		return "soon"
	}
	return "on " + intent.Deadline.Format("2006-01-02")
}
