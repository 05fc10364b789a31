package agenda

import "errors"

var (
	// ErrInvalidState marks missing or inconsistent governance configuration:
	// no deadline where one is required, an unknown level, a level without a
	// responsible rank. Callers must not fall back to defaults.
	ErrInvalidState = errors.New("invalid state")

	// ErrAlreadyClosed is returned by every mutating operation on a closed
	// proposal.
	ErrAlreadyClosed = errors.New("proposal already closed")
)
