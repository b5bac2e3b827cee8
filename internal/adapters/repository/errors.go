package repository

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrInvalidArgument = errors.New("invalid store argument")
	ErrUnknownDriver   = errors.New("unknown store driver")
	ErrCorruptRecord   = errors.New("corrupt store record")
)
