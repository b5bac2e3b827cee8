package session

import "errors"

// Sentinel kinds for session errors.
var (
	ErrNotFound        = errors.New("session not found")
	ErrInvalidArgument = errors.New("invalid session argument")
	// ErrSupply marks a failure of the item pool while filling a round.
	ErrSupply = errors.New("item supply failed")
)
