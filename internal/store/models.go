package store

import (
	"errors"
	"time"
)

// ErrVersionConflict reports a write against a proposal snapshot that is no
// longer current.
var ErrVersionConflict = errors.New("proposal version conflict")

// UserNotification is a stored notification as seen by one recipient.
type UserNotification struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	Event      string     `json:"event"`
	ProposalID string     `json:"proposalId"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Icon       string     `json:"icon"`
	Severity   string     `json:"severity"`
	ActionURL  string     `json:"actionUrl"`
	Role       string     `json:"role"`
	Reasons    []string   `json:"reasons"`
	ReadAt     *time.Time `json:"readAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}
