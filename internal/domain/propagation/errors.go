package propagation

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds for round processing errors.
var (
	// ErrInvalidArgument marks a malformed round: empty player id, empty item
	// id, or an item chosen over itself.
	ErrInvalidArgument = errors.New("invalid round")
	// ErrReferenceNotFound marks a choice naming an item absent from the catalog.
	// Nothing is written when it is returned.
	ErrReferenceNotFound = errors.New("item reference not found")
	// ErrPersistence marks a store failure. No partial state was committed, so
	// the whole call may be retried.
	ErrPersistence = errors.New("score persistence failed")
)

// MissingItemsError lists the unknown item ids of a rejected round.
type MissingItemsError struct {
	IDs []string
}

func (e *MissingItemsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrReferenceNotFound, strings.Join(e.IDs, ", "))
}

// Unwrap makes errors.Is(err, ErrReferenceNotFound) hold.
func (e *MissingItemsError) Unwrap() error { return ErrReferenceNotFound }
