package round

import "errors"

// Sentinel kinds for round protocol errors.
var (
	// ErrInvalidState marks protocol misuse: picking an empty slot, picking
	// outside the picking phase, or any event after the round finished.
	ErrInvalidState = errors.New("invalid round state")
	// ErrInvalidArgument marks malformed input such as an unknown policy or an
	// empty supply.
	ErrInvalidArgument = errors.New("invalid round argument")
)
