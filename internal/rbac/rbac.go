// Package rbac resolves what a requester may do on a proposal from the
// distance between their rank and the rank responsible for the proposal's
// current level.
package rbac

import (
	"errors"
	"fmt"

	"agenda/api/internal/agenda"
)

// ErrNotPermitted marks a requester whose rank carries no officer rights at
// the proposal's current level.
var ErrNotPermitted = errors.New("not permitted")

type Role string
type Action string

// Reason records which rung of the ladder produced a role.
type Reason string

const (
	RoleOwner      Role = "owner"
	RoleSupervisor Role = "supervisor"
	RoleObserver   Role = "observer"
	RoleNone       Role = "none"
)

const (
	ActionView     Action = "view"
	ActionEdit     Action = "edit"
	ActionComment  Action = "comment"
	ActionOverride Action = "override"
)

const (
	ReasonResponsible Reason = "responsible"
	ReasonSupervisor  Reason = "supervisor"
	ReasonReference   Reason = "reference"
	ReasonDelegate    Reason = "delegate"
	ReasonLearning    Reason = "learning"
	ReasonOutOfRange  Reason = "out_of_range"
)

type Permission struct {
	Role                 Role   `json:"role"`
	Reason               Reason `json:"reason"`
	CanView              bool   `json:"canView"`
	CanEdit              bool   `json:"canEdit"`
	CanComment           bool   `json:"canComment"`
	CanEmergencyOverride bool   `json:"canEmergencyOverride"`
	RequesterRank        int    `json:"requesterRank"`
	TargetRank           int    `json:"targetRank"`
}

// Bands are the rank distances that shape the ladder.
type Bands struct {
	// SupervisorBand is how far above the target rank a requester still
	// advises as a supervisor rather than observing.
	SupervisorBand int
	// DelegateBand is how far below the target rank a requester may stand in
	// for the responsible officer.
	DelegateBand int
	// LearningBand extends below a level's minimum permission rank: juniors
	// there may watch but not take part.
	LearningBand int
}

func DefaultBands() Bands {
	return Bands{SupervisorBand: 2, DelegateBand: 2, LearningBand: 2}
}

func Can(p Permission, action Action) bool {
	switch action {
	case ActionView:
		return p.CanView
	case ActionEdit:
		return p.CanEdit
	case ActionComment:
		return p.CanComment
	case ActionOverride:
		return p.CanEmergencyOverride
	default:
		return false
	}
}

// Ladder resolves a permission for requester rank r against target rank t
// and the level's minimum permission rank.
func Ladder(r, t, minPermission int, bands Bands) Permission {
	p := Permission{RequesterRank: r, TargetRank: t}
	switch {
	case r == t:
		p.Role, p.Reason = RoleOwner, ReasonResponsible
		p.CanView, p.CanEdit, p.CanComment = true, true, true
	case r > t && r-t <= bands.SupervisorBand:
		p.Role, p.Reason = RoleSupervisor, ReasonSupervisor
		p.CanView, p.CanComment, p.CanEmergencyOverride = true, true, true
	case r > t:
		p.Role, p.Reason = RoleObserver, ReasonReference
		p.CanView, p.CanEmergencyOverride = true, true
	case t-r <= bands.DelegateBand && r >= minPermission:
		p.Role, p.Reason = RoleOwner, ReasonDelegate
		p.CanView, p.CanEdit, p.CanComment = true, true, true
	case t-r <= bands.DelegateBand && r >= minPermission-bands.LearningBand:
		p.Role, p.Reason = RoleObserver, ReasonLearning
		p.CanView = true
	default:
		p.Role, p.Reason = RoleNone, ReasonOutOfRange
	}
	return p
}

type Resolver struct {
	levels *agenda.Engine
	bands  Bands
}

func NewResolver(levels *agenda.Engine, bands Bands) *Resolver {
	return &Resolver{levels: levels, bands: bands}
}

// Resolve returns the requester's permission on a proposal at its current
// level.
func (r *Resolver) Resolve(requesterRank int, level agenda.Level) (Permission, error) {
	if requesterRank <= 0 {
		return Permission{}, fmt.Errorf("%w: requester rank %d", agenda.ErrInvalidState, requesterRank)
	}
	band, err := r.levels.Band(level)
	if err != nil {
		return Permission{}, err
	}
	return Ladder(requesterRank, band.ResponsibleRank, band.MinPermissionRank, r.bands), nil
}

// ResponsibleRank returns the rank formally tasked with acting at a level.
func (r *Resolver) ResponsibleRank(level agenda.Level) (int, error) {
	band, err := r.levels.Band(level)
	if err != nil {
		return 0, err
	}
	return band.ResponsibleRank, nil
}

// CanActAsOfficer reports whether a permission is enough to take a
// governance action: the responsible owner, a delegate or anyone holding the
// emergency override.
func CanActAsOfficer(p Permission) bool {
	return p.Role == RoleOwner || p.CanEmergencyOverride
}

// OfficerError is returned by AuthorizeOfficer. It carries the permission the
// requester resolved to so callers can show why they were refused.
type OfficerError struct {
	Level      agenda.Level
	Permission Permission
}

func (e *OfficerError) Error() string {
	return fmt.Sprintf("rank %d cannot act on a %s proposal", e.Permission.RequesterRank, e.Level)
}

func (e *OfficerError) Unwrap() error { return ErrNotPermitted }

// AuthorizeOfficer resolves the requester at level and fails with
// *OfficerError unless the permission allows governance actions.
func (r *Resolver) AuthorizeOfficer(requesterRank int, level agenda.Level) (Permission, error) {
	perm, err := r.Resolve(requesterRank, level)
	if err != nil {
		return Permission{}, err
	}
	if !CanActAsOfficer(perm) {
		return perm, &OfficerError{Level: level, Permission: perm}
	}
	return perm, nil
}
