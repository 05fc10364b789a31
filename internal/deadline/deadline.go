// Package deadline computes and evaluates proposal voting deadlines.
//
// Every function takes the current time explicitly so callers can evaluate a
// snapshot deterministically.
package deadline

import (
	"fmt"
	"time"

	"agenda/api/internal/agenda"
)

const day = 24 * time.Hour

// Config is the deadline policy of a single level.
type Config struct {
	StandardDays  int
	Extendable    bool
	AutoExtend    bool
	MaxExtensions int
	// MaxTotalDays caps the deadline relative to the proposal's creation.
	MaxTotalDays int
}

type Policy struct {
	Levels               map[agenda.Level]Config
	CommitteeFloors      map[agenda.CommitteeStatus]int
	NearExpirationDays   int
	AutoExtendWindowDays int
	ActivityWindowDays   int
	ExtensionDays        int
}

func DefaultPolicy() Policy {
	return Policy{
		Levels: map[agenda.Level]Config{
			agenda.LevelPending:        {StandardDays: 30, Extendable: true, AutoExtend: true, MaxExtensions: 2, MaxTotalDays: 120},
			agenda.LevelDeptReview:     {StandardDays: 60, Extendable: true, AutoExtend: true, MaxExtensions: 2, MaxTotalDays: 180},
			agenda.LevelDeptAgenda:     {StandardDays: 90, Extendable: true, AutoExtend: true, MaxExtensions: 3, MaxTotalDays: 270},
			agenda.LevelFacilityAgenda: {StandardDays: 120, Extendable: true, MaxExtensions: 2, MaxTotalDays: 365},
			agenda.LevelCorpReview:     {StandardDays: 180, Extendable: true, MaxExtensions: 2, MaxTotalDays: 540},
			agenda.LevelCorpAgenda:     {StandardDays: 365, MaxTotalDays: 730},
		},
		CommitteeFloors: map[agenda.CommitteeStatus]int{
			agenda.CommitteeSubmitted:             30,
			agenda.CommitteeUnderReview:           60,
			agenda.CommitteeDeliberating:          90,
			agenda.CommitteeApproved:              180,
			agenda.CommitteeImplementationDecided: 365,
			agenda.CommitteeImplementing:          365,
			agenda.CommitteeOnHold:                90,
			agenda.CommitteeRejected:              30,
		},
		NearExpirationDays:   7,
		AutoExtendWindowDays: 14,
		ActivityWindowDays:   30,
		ExtensionDays:        30,
	}
}

// State is the derived deadline view of a proposal. It is never stored.
type State struct {
	Governed       bool       `json:"governed"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	RemainingDays  int        `json:"remainingDays"`
	NearExpiration bool       `json:"nearExpiration"`
	Expired        bool       `json:"expired"`
	ExtensionCount int        `json:"extensionCount"`
}

type Manager struct {
	policy Policy
}

func NewManager(policy Policy) *Manager {
	return &Manager{policy: policy}
}

func (m *Manager) Config(level agenda.Level) (Config, error) {
	cfg, ok := m.policy.Levels[level]
	if !ok || cfg.StandardDays <= 0 {
		return Config{}, fmt.Errorf("%w: no deadline config for level %s", agenda.ErrInvalidState, level)
	}
	return cfg, nil
}

func (m *Manager) Initial(level agenda.Level, createdAt time.Time) (time.Time, error) {
	cfg, err := m.Config(level)
	if err != nil {
		return time.Time{}, err
	}
	return createdAt.Add(days(cfg.StandardDays)), nil
}

// AdjustForCommitteeStatus raises the deadline to the status floor. It never
// moves a deadline earlier.
func (m *Manager) AdjustForCommitteeStatus(current *time.Time, status agenda.CommitteeStatus, now time.Time) (time.Time, error) {
	floorDays, ok := m.policy.CommitteeFloors[status]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unknown committee status %q", agenda.ErrInvalidState, status)
	}
	return later(current, now.Add(days(floorDays))), nil
}

// RemainingDays is ceil((deadline-now) / 24h).
func RemainingDays(deadline, now time.Time) int {
	diff := deadline.Sub(now)
	remaining := int(diff / day)
	if diff > 0 && diff%day != 0 {
		remaining++
	}
	return remaining
}

// State evaluates a deadline at now. A nil deadline means the proposal is not
// under deadline governance, which is neither expired nor near expiration.
func (m *Manager) State(deadline *time.Time, extensions int, now time.Time) State {
	state := State{ExtensionCount: extensions}
	if deadline == nil {
		return state
	}
	remaining := RemainingDays(*deadline, now)
	copied := *deadline
	state.Governed = true
	state.Deadline = &copied
	state.RemainingDays = remaining
	state.Expired = remaining <= 0
	state.NearExpiration = remaining > 0 && remaining <= m.policy.NearExpirationDays
	return state
}

func (m *Manager) IsExpired(deadline time.Time, now time.Time) bool {
	return RemainingDays(deadline, now) <= 0
}

// ShouldAutoExtend holds when the level allows it, the proposal saw activity
// within the activity window and the deadline is inside the extension window.
func (m *Manager) ShouldAutoExtend(level agenda.Level, lastActivity time.Time, deadline *time.Time, now time.Time) (bool, error) {
	cfg, err := m.Config(level)
	if err != nil {
		return false, err
	}
	if deadline == nil || !cfg.AutoExtend {
		return false, nil
	}
	if lastActivity.IsZero() || now.Sub(lastActivity) > days(m.policy.ActivityWindowDays) {
		return false, nil
	}
	return RemainingDays(*deadline, now) <= m.policy.AutoExtendWindowDays, nil
}

// Extend adds days to the deadline, using the policy default when days is not
// positive. It ignores the level ceiling; governed extensions go through
// ExtendWithin.
func (m *Manager) Extend(deadline time.Time, extraDays int) time.Time {
	if extraDays <= 0 {
		extraDays = m.policy.ExtensionDays
	}
	return deadline.Add(days(extraDays))
}

// ExtendWithin extends like Extend but never past the level's ceiling at
// creation + MaxTotalDays. A deadline already beyond the ceiling is returned
// unchanged.
func (m *Manager) ExtendWithin(level agenda.Level, createdAt, deadline time.Time, extraDays int) (time.Time, error) {
	cfg, err := m.Config(level)
	if err != nil {
		return time.Time{}, err
	}
	extended := m.Extend(deadline, extraDays)
	if cfg.MaxTotalDays <= 0 {
		return extended, nil
	}
	ceiling := createdAt.Add(days(cfg.MaxTotalDays))
	if extended.After(ceiling) {
		return later(&deadline, ceiling), nil
	}
	return extended, nil
}

func (m *Manager) CanExtend(level agenda.Level) (bool, error) {
	cfg, err := m.Config(level)
	if err != nil {
		return false, err
	}
	return cfg.Extendable, nil
}

// HasReachedMax reports whether the level's extension ceiling is exhausted:
// either the extension count hit MaxExtensions or the deadline already sits at
// creation + MaxTotalDays.
func (m *Manager) HasReachedMax(level agenda.Level, createdAt, deadline time.Time, extensions int) (bool, error) {
	cfg, err := m.Config(level)
	if err != nil {
		return false, err
	}
	if extensions >= cfg.MaxExtensions {
		return true, nil
	}
	if cfg.MaxTotalDays > 0 && !deadline.Before(createdAt.Add(days(cfg.MaxTotalDays))) {
		return true, nil
	}
	return false, nil
}

// OnLevelUp returns max(current, now + window of the new level).
func (m *Manager) OnLevelUp(current *time.Time, level agenda.Level, now time.Time) (time.Time, error) {
	cfg, err := m.Config(level)
	if err != nil {
		return time.Time{}, err
	}
	return later(current, now.Add(days(cfg.StandardDays))), nil
}

func later(current *time.Time, candidate time.Time) time.Time {
	if current != nil && current.After(candidate) {
		return *current
	}
	return candidate
}

func days(n int) time.Duration {
	return time.Duration(n) * day
}
