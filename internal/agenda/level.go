// Package agenda holds the proposal model and the score to level mapping.
package agenda

import (
	"fmt"
	"strings"
)

// Level is an agenda escalation stage. Levels are ordered; comparing two
// levels with < and > compares their escalation order.
type Level int

const (
	LevelPending Level = iota
	LevelDeptReview
	LevelDeptAgenda
	LevelFacilityAgenda
	LevelCorpReview
	LevelCorpAgenda
)

var levelNames = [...]string{
	LevelPending:        "PENDING",
	LevelDeptReview:     "DEPT_REVIEW",
	LevelDeptAgenda:     "DEPT_AGENDA",
	LevelFacilityAgenda: "FACILITY_AGENDA",
	LevelCorpReview:     "CORP_REVIEW",
	LevelCorpAgenda:     "CORP_AGENDA",
}

func (l Level) Valid() bool {
	return l >= LevelPending && l <= LevelCorpAgenda
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

func ParseLevel(value string) (Level, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for i, name := range levelNames {
		if name == normalized {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown level %q", ErrInvalidState, value)
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: unknown level %d", ErrInvalidState, int(l))
	}
	return []byte(levelNames[l]), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Scope is the organizational reach of a level.
type Scope string

const (
	ScopeDepartment  Scope = "department"
	ScopeFacility    Scope = "facility"
	ScopeCorporation Scope = "corporation"
)

// Band is one row of the level table. A band covers scores from MinScore up
// to the next band's MinScore.
type Band struct {
	Level             Level
	MinScore          int
	Scope             Scope
	ResponsibleRank   int
	MinPermissionRank int
}

// DefaultBands is the production level table. Ranks run from 1 (staff) to
// 10 (chairman).
func DefaultBands() []Band {
	return []Band{
		{Level: LevelPending, MinScore: 0, Scope: ScopeDepartment, ResponsibleRank: 3, MinPermissionRank: 1},
		{Level: LevelDeptReview, MinScore: 30, Scope: ScopeDepartment, ResponsibleRank: 4, MinPermissionRank: 2},
		{Level: LevelDeptAgenda, MinScore: 50, Scope: ScopeDepartment, ResponsibleRank: 5, MinPermissionRank: 3},
		{Level: LevelFacilityAgenda, MinScore: 100, Scope: ScopeFacility, ResponsibleRank: 7, MinPermissionRank: 6},
		{Level: LevelCorpReview, MinScore: 300, Scope: ScopeCorporation, ResponsibleRank: 8, MinPermissionRank: 7},
		{Level: LevelCorpAgenda, MinScore: 600, Scope: ScopeCorporation, ResponsibleRank: 9, MinPermissionRank: 8},
	}
}

// Engine maps scores to levels using a validated band table.
type Engine struct {
	bands []Band
}

func NewEngine(bands []Band) (*Engine, error) {
	if len(bands) != len(levelNames) {
		return nil, fmt.Errorf("%w: expected %d level bands, got %d", ErrInvalidState, len(levelNames), len(bands))
	}
	for i, band := range bands {
		if band.Level != Level(i) {
			return nil, fmt.Errorf("%w: band %d is %s, want %s", ErrInvalidState, i, band.Level, Level(i))
		}
		if i == 0 && band.MinScore != 0 {
			return nil, fmt.Errorf("%w: first band must start at 0", ErrInvalidState)
		}
		if i > 0 && band.MinScore <= bands[i-1].MinScore {
			return nil, fmt.Errorf("%w: band %s threshold %d is not above %d", ErrInvalidState, band.Level, band.MinScore, bands[i-1].MinScore)
		}
		if band.ResponsibleRank <= 0 {
			return nil, fmt.Errorf("%w: level %s has no responsible rank", ErrInvalidState, band.Level)
		}
		if band.MinPermissionRank <= 0 || band.MinPermissionRank > band.ResponsibleRank {
			return nil, fmt.Errorf("%w: level %s min permission rank %d out of range", ErrInvalidState, band.Level, band.MinPermissionRank)
		}
		switch band.Scope {
		case ScopeDepartment, ScopeFacility, ScopeCorporation:
		default:
			return nil, fmt.Errorf("%w: level %s has unknown scope %q", ErrInvalidState, band.Level, band.Scope)
		}
	}
	copied := make([]Band, len(bands))
	copy(copied, bands)
	return &Engine{bands: copied}, nil
}

func MustEngine(bands []Band) *Engine {
	engine, err := NewEngine(bands)
	if err != nil {
		panic(err)
	}
	return engine
}

// LevelForScore returns the band containing score. Thresholds are inclusive
// lower bounds; negative scores count as 0.
func (e *Engine) LevelForScore(score int) Level {
	level := e.bands[0].Level
	for _, band := range e.bands {
		if score < band.MinScore {
			break
		}
		level = band.Level
	}
	return level
}

func (e *Engine) Band(level Level) (Band, error) {
	if !level.Valid() {
		return Band{}, fmt.Errorf("%w: unknown level %d", ErrInvalidState, int(level))
	}
	return e.bands[level], nil
}

func (e *Engine) Next(level Level) (Level, bool) {
	if !level.Valid() || level == LevelCorpAgenda {
		return level, false
	}
	return level + 1, true
}

// Between lists the levels entered when moving from one level up to another,
// excluding from and including to. It is empty when to is not above from.
func (e *Engine) Between(from, to Level) []Level {
	if to <= from {
		return nil
	}
	levels := make([]Level, 0, int(to-from))
	for level := from + 1; level <= to; level++ {
		levels = append(levels, level)
	}
	return levels
}

// Progress describes how far a score is from the next level.
type Progress struct {
	Current        Level   `json:"current"`
	Next           *Level  `json:"nextLevel,omitempty"`
	RequiredScore  int     `json:"requiredScore"`
	RemainingScore int     `json:"remainingScore"`
	Ratio          float64 `json:"progressRatio"`
}

func (e *Engine) Progress(score int) Progress {
	if score < 0 {
		score = 0
	}
	current := e.LevelForScore(score)
	band := e.bands[current]
	next, ok := e.Next(current)
	if !ok {
		return Progress{
			Current:        current,
			RequiredScore:  band.MinScore,
			RemainingScore: 0,
			Ratio:          100,
		}
	}
	required := e.bands[next].MinScore
	span := required - band.MinScore
	return Progress{
		Current:        current,
		Next:           &next,
		RequiredScore:  required,
		RemainingScore: required - score,
		Ratio:          float64(score-band.MinScore) * 100 / float64(span),
	}
}
