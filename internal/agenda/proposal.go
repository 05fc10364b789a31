package agenda

import (
	"sort"
	"time"
)

type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Department string `json:"department"`
	Facility   string `json:"facility"`
	Rank       int    `json:"rank"`
}

type VoteOption string

const (
	VoteStronglySupport VoteOption = "strongly_support"
	VoteSupport         VoteOption = "support"
	VoteNeutral         VoteOption = "neutral"
	VoteOppose          VoteOption = "oppose"
	VoteStronglyOppose  VoteOption = "strongly_oppose"
)

var voteWeights = map[VoteOption]int{
	VoteStronglySupport: 2,
	VoteSupport:         1,
	VoteNeutral:         0,
	VoteOppose:          -1,
	VoteStronglyOppose:  -2,
}

func (o VoteOption) Valid() bool {
	_, ok := voteWeights[o]
	return ok
}

func (o VoteOption) Weight() int {
	return voteWeights[o]
}

type Vote struct {
	UserID string     `json:"userId"`
	Option VoteOption `json:"option"`
	CastAt time.Time  `json:"castAt"`
}

// ScoreVotes sums the vote weights. The result is never negative.
func ScoreVotes(votes []Vote) int {
	score := 0
	for _, vote := range votes {
		score += vote.Option.Weight()
	}
	if score < 0 {
		return 0
	}
	return score
}

type CommitteeStatus string

const (
	CommitteeSubmitted             CommitteeStatus = "submitted"
	CommitteeUnderReview           CommitteeStatus = "under_review"
	CommitteeDeliberating          CommitteeStatus = "deliberating"
	CommitteeApproved              CommitteeStatus = "approved"
	CommitteeImplementationDecided CommitteeStatus = "implementation_decided"
	CommitteeImplementing          CommitteeStatus = "implementing"
	CommitteeOnHold                CommitteeStatus = "on_hold"
	CommitteeRejected              CommitteeStatus = "rejected"
)

type CommitteeDecision string

const (
	DecisionApproved CommitteeDecision = "approved"
	DecisionRejected CommitteeDecision = "rejected"
)

// Committee is the committee submission metadata of a proposal.
type Committee struct {
	Status         CommitteeStatus   `json:"status"`
	Targets        []string          `json:"targets,omitempty"`
	SubmittedAt    *time.Time        `json:"submittedAt,omitempty"`
	SubmittedBy    string            `json:"submittedBy,omitempty"`
	Decision       CommitteeDecision `json:"decision,omitempty"`
	DecisionReason string            `json:"decisionReason,omitempty"`
	DecidedAt      *time.Time        `json:"decidedAt,omitempty"`
}

type ClosureReason string

const (
	ClosureDeadlineExpired   ClosureReason = "deadline_expired"
	ClosureRejectedByManager ClosureReason = "rejected_by_manager"
	ClosureHeldByManager     ClosureReason = "held_by_manager"
	ClosureDepartmentMatter  ClosureReason = "department_matter"
	ClosureCommitteeApproved ClosureReason = "committee_approved"
	ClosureCommitteeRejected ClosureReason = "committee_rejected"
)

// ClosureInfo is written once, when a proposal reaches a terminal state.
type ClosureInfo struct {
	Reason     ClosureReason `json:"reason"`
	ClosedBy   string        `json:"closedBy,omitempty"`
	ClosedAt   time.Time     `json:"closedAt"`
	FinalScore int           `json:"finalScore"`
	FinalLevel Level         `json:"finalLevel"`
	Feedback   string        `json:"feedback,omitempty"`
	ArchiveAt  time.Time     `json:"archiveAt"`
}

// Proposal is the snapshot the engine evaluates. Snapshots are treated as
// values: evaluation works on a Clone and never mutates its input.
type Proposal struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Author         User         `json:"author"`
	Score          int          `json:"score"`
	Level          Level        `json:"level"`
	PromotedLevel  Level        `json:"promotedLevel"`
	Deadline       *time.Time   `json:"deadline,omitempty"`
	ExtensionCount int          `json:"extensionCount"`
	Votes          []Vote       `json:"votes"`
	CommentCount   int          `json:"commentCount"`
	LastActivityAt time.Time    `json:"lastActivityAt"`
	Committee      *Committee   `json:"committee,omitempty"`
	Closure        *ClosureInfo `json:"closure,omitempty"`
	WarnedDeadline *time.Time   `json:"warnedDeadline,omitempty"`
	ArchivedAt     *time.Time   `json:"archivedAt,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	Version        int          `json:"version"`
}

func (p Proposal) IsClosed() bool {
	return p.Closure != nil
}

// UnderDeadline reports whether the proposal is under deadline governance.
func (p Proposal) UnderDeadline() bool {
	return p.Deadline != nil
}

func (p Proposal) Clone() Proposal {
	clone := p
	clone.Votes = append([]Vote(nil), p.Votes...)
	clone.Deadline = cloneTime(p.Deadline)
	clone.WarnedDeadline = cloneTime(p.WarnedDeadline)
	clone.ArchivedAt = cloneTime(p.ArchivedAt)
	if p.Committee != nil {
		committee := *p.Committee
		committee.Targets = append([]string(nil), p.Committee.Targets...)
		committee.SubmittedAt = cloneTime(p.Committee.SubmittedAt)
		committee.DecidedAt = cloneTime(p.Committee.DecidedAt)
		clone.Committee = &committee
	}
	if p.Closure != nil {
		closure := *p.Closure
		clone.Closure = &closure
	}
	return clone
}

// SetVote records a user's vote, replacing an earlier one from the same user.
func (p *Proposal) SetVote(vote Vote) {
	for i := range p.Votes {
		if p.Votes[i].UserID == vote.UserID {
			p.Votes[i] = vote
			return
		}
	}
	p.Votes = append(p.Votes, vote)
}

func (p Proposal) HasVoted(userID string) bool {
	for _, vote := range p.Votes {
		if vote.UserID == userID {
			return true
		}
	}
	return false
}

// VoterIDs returns the voters in the order they first voted.
func (p Proposal) VoterIDs() []string {
	ids := make([]string, 0, len(p.Votes))
	seen := make(map[string]struct{}, len(p.Votes))
	for _, vote := range p.Votes {
		if _, ok := seen[vote.UserID]; ok {
			continue
		}
		seen[vote.UserID] = struct{}{}
		ids = append(ids, vote.UserID)
	}
	return ids
}

// Tally counts votes per option.
func (p Proposal) Tally() map[VoteOption]int {
	tally := map[VoteOption]int{
		VoteStronglySupport: 0,
		VoteSupport:         0,
		VoteNeutral:         0,
		VoteOppose:          0,
		VoteStronglyOppose:  0,
	}
	for _, vote := range p.Votes {
		tally[vote.Option]++
	}
	return tally
}

// SortVotes orders votes by cast time, then user id.
func SortVotes(votes []Vote) {
	sort.SliceStable(votes, func(i, j int) bool {
		if votes[i].CastAt.Equal(votes[j].CastAt) {
			return votes[i].UserID < votes[j].UserID
		}
		return votes[i].CastAt.Before(votes[j].CastAt)
	})
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
