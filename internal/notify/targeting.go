package notify

import (
	"context"
	"fmt"

	"agenda/api/internal/agenda"
)

// Directory is the read-only user directory targeting draws on.
type Directory interface {
	// Officers lists users of a department whose rank is at least minRank.
	Officers(ctx context.Context, department string, minRank int) ([]agenda.User, error)
	// Members lists the users eligible to vote within scope, relative to the
	// author's department and facility.
	Members(ctx context.Context, scope agenda.Scope, author agenda.User) ([]agenda.User, error)
	Users(ctx context.Context, ids []string) ([]agenda.User, error)
}

type Targeting struct {
	levels    *agenda.Engine
	directory Directory
}

func NewTargeting(levels *agenda.Engine, directory Directory) *Targeting {
	return &Targeting{levels: levels, directory: directory}
}

// ComputeRecipients returns the deduplicated recipients of an intent. Users
// reachable through several rules appear once, with every reason recorded,
// in order of first inclusion.
func (t *Targeting) ComputeRecipients(ctx context.Context, intent Intent, p agenda.Proposal) ([]Recipient, error) {
	set := newRecipientSet()
	set.add(p.Author, ReasonAuthor)

	switch intent.Event {
	case EventLevelUp:
		band, err := t.levels.Band(intent.Level)
		if err != nil {
			return nil, err
		}
		officers, err := t.directory.Officers(ctx, p.Author.Department, band.ResponsibleRank)
		if err != nil {
			return nil, fmt.Errorf("list officers: %w", err)
		}
		for _, officer := range officers {
			set.add(officer, ReasonResponsibleOfficer)
		}
		if intent.Level >= agenda.LevelFacilityAgenda {
			if err := t.addVoters(ctx, set, p); err != nil {
				return nil, err
			}
		}
	case EventCommitteeSubmitted, EventCommitteeReviewStarted, EventCommitteeDecision,
		EventDeadlineExtended, EventProposalClosed:
		if err := t.addVoters(ctx, set, p); err != nil {
			return nil, err
		}
	case EventDeadlineWarning:
		band, err := t.levels.Band(p.Level)
		if err != nil {
			return nil, err
		}
		members, err := t.directory.Members(ctx, band.Scope, p.Author)
		if err != nil {
			return nil, fmt.Errorf("list scope members: %w", err)
		}
		reason := scopeReason(band.Scope)
		for _, member := range members {
			if p.HasVoted(member.ID) {
				continue
			}
			set.add(member, reason)
		}
	default:
		return nil, fmt.Errorf("%w: unknown notification event %q", agenda.ErrInvalidState, intent.Event)
	}
	return set.list(), nil
}

func (t *Targeting) addVoters(ctx context.Context, set *recipientSet, p agenda.Proposal) error {
	ids := p.VoterIDs()
	if len(ids) == 0 {
		return nil
	}
	users, err := t.directory.Users(ctx, ids)
	if err != nil {
		return fmt.Errorf("lookup voters: %w", err)
	}
	byID := make(map[string]agenda.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}
	for _, id := range ids {
		user, ok := byID[id]
		if !ok {
			user = agenda.User{ID: id}
		}
		set.add(user, ReasonVoter)
	}
	return nil
}

func scopeReason(scope agenda.Scope) Reason {
	switch scope {
	case agenda.ScopeFacility:
		return ReasonFacilityScope
	case agenda.ScopeCorporation:
		return ReasonCorporationScope
	default:
		return ReasonDepartmentScope
	}
}

func roleFor(reason Reason) string {
	switch reason {
	case ReasonAuthor:
		return "author"
	case ReasonResponsibleOfficer:
		return "officer"
	case ReasonVoter:
		return "voter"
	default:
		return "member"
	}
}

type recipientSet struct {
	order []string
	byID  map[string]*Recipient
}

func newRecipientSet() *recipientSet {
	return &recipientSet{byID: map[string]*Recipient{}}
}

func (s *recipientSet) add(user agenda.User, reason Reason) {
	if user.ID == "" {
		return
	}
	if existing, ok := s.byID[user.ID]; ok {
		for _, r := range existing.Reasons {
			if r == reason {
				return
			}
		}
		existing.Reasons = append(existing.Reasons, reason)
		return
	}
	s.order = append(s.order, user.ID)
	s.byID[user.ID] = &Recipient{
		UserID:   user.ID,
		UserName: user.Name,
		Email:    user.Email,
		Role:     roleFor(reason),
		Reasons:  []Reason{reason},
	}
}

func (s *recipientSet) list() []Recipient {
	out := make([]Recipient, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}
