// Package closure moves proposals into their terminal state and schedules
// their archival.
package closure

import (
	"fmt"
	"strings"
	"time"

	"agenda/api/internal/agenda"
)

const day = 24 * time.Hour

var archiveOffsets = map[agenda.ClosureReason]time.Duration{
	agenda.ClosureDeadlineExpired:   90 * day,
	agenda.ClosureRejectedByManager: 30 * day,
	agenda.ClosureHeldByManager:     180 * day,
	agenda.ClosureDepartmentMatter:  90 * day,
	agenda.ClosureCommitteeApproved: 365 * day,
	agenda.ClosureCommitteeRejected: 30 * day,
}

// ArchiveOffset is how long a proposal closed for reason stays visible.
func ArchiveOffset(reason agenda.ClosureReason) (time.Duration, bool) {
	offset, ok := archiveOffsets[reason]
	return offset, ok
}

func ParseReason(value string) (agenda.ClosureReason, error) {
	reason := agenda.ClosureReason(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := archiveOffsets[reason]; !ok {
		return "", fmt.Errorf("%w: unknown closure reason %q", agenda.ErrInvalidState, value)
	}
	return reason, nil
}

type Request struct {
	Reason   agenda.ClosureReason
	ClosedBy string
	Feedback string
}

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Close returns a copy of p carrying its closure record. A proposal closes
// exactly once; closing it again fails with agenda.ErrAlreadyClosed.
func (s *Service) Close(p agenda.Proposal, req Request, now time.Time) (agenda.Proposal, error) {
	if p.IsClosed() {
		return agenda.Proposal{}, fmt.Errorf("close %s: %w", p.ID, agenda.ErrAlreadyClosed)
	}
	offset, ok := ArchiveOffset(req.Reason)
	if !ok {
		return agenda.Proposal{}, fmt.Errorf("%w: unknown closure reason %q", agenda.ErrInvalidState, req.Reason)
	}

	closed := p.Clone()
	closed.Closure = &agenda.ClosureInfo{
		Reason:     req.Reason,
		ClosedBy:   strings.TrimSpace(req.ClosedBy),
		ClosedAt:   now,
		FinalScore: p.Score,
		FinalLevel: p.Level,
		Feedback:   strings.TrimSpace(req.Feedback),
		ArchiveAt:  now.Add(offset),
	}
	closed.UpdatedAt = now
	return closed, nil
}

// DueForArchive reports whether a closed, not yet archived proposal has
// passed its archive date.
func (s *Service) DueForArchive(p agenda.Proposal, now time.Time) bool {
	if !p.IsClosed() || p.ArchivedAt != nil {
		return false
	}
	return !now.Before(p.Closure.ArchiveAt)
}

// ReasonForAction maps a suppressive officer action to its closure reason.
func ReasonForAction(action string) (agenda.ClosureReason, bool) {
	switch action {
	case "reject":
		return agenda.ClosureRejectedByManager, true
	case "hold":
		return agenda.ClosureHeldByManager, true
	case "department_matter":
		return agenda.ClosureDepartmentMatter, true
	default:
		return "", false
	}
}

// ReasonForDecision maps a committee decision to its closure reason.
func ReasonForDecision(decision agenda.CommitteeDecision) (agenda.ClosureReason, error) {
	switch decision {
	case agenda.DecisionApproved:
		return agenda.ClosureCommitteeApproved, nil
	case agenda.DecisionRejected:
		return agenda.ClosureCommitteeRejected, nil
	default:
		return "", fmt.Errorf("%w: unknown committee decision %q", agenda.ErrInvalidState, decision)
	}
}
