package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/versus/internal/adapters/repository"
	"github.com/okian/versus/internal/domain/propagation"
	"github.com/okian/versus/internal/domain/round"
	"github.com/okian/versus/internal/domain/session"
	"github.com/okian/versus/internal/domain/types"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("backpressure")
)

// KindError tags an error with the operation that failed and its kind.
type KindError struct {
	Op   string
	Kind error
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *KindError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewKind builds a KindError without a cause.
func NewKind(op string, kind error) error {
	return &KindError{Op: op, Kind: kind}
}

// WrapKind builds a KindError around err.
func WrapKind(op string, kind, err error) error {
	return &KindError{Op: op, Kind: kind, Err: err}
}

// classify maps an error to its HTTP status and wire code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, round.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, propagation.ErrReferenceNotFound):
		return http.StatusUnprocessableEntity, "reference_not_found"
	case errors.Is(err, propagation.ErrPersistence), errors.Is(err, session.ErrSupply):
		return http.StatusServiceUnavailable, "persistence_failure"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, types.ErrInvalidRequest),
		errors.Is(err, round.ErrInvalidArgument),
		errors.Is(err, propagation.ErrInvalidArgument),
		errors.Is(err, session.ErrInvalidArgument),
		errors.Is(err, repository.ErrInvalidArgument):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
