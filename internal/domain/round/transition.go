// Package round implements the two-slot forced-choice protocol.
//
// The protocol is an explicit state machine driven by Transition, a pure
// function of (State, Event). Controller wraps it for callers that want
// callbacks instead of effect lists.
//
//	starting -> loading -> (fill check) -> picking -> (pick) -> loading -> ... -> finished
//
// The fill check is not a separate status: after every refill attempt a round
// either has both slots occupied (picking), is waiting for the caller to
// supply items (loading, Awaiting), or is finished.
package round

import (
	"fmt"
	"slices"
	"time"

	"github.com/okian/versus/internal/domain/model"
)

// Event is an input to Transition.
type Event interface{ isEvent() }

// Start begins the round with the given policy and initial backlog.
type Start struct {
	Policy  Policy
	Backlog []model.Item
}

// Pick chooses the item in Slot over the item in the other slot.
type Pick struct {
	Slot       Slot
	ObservedAt time.Time
}

// Supply appends replenishment items to the backlog.
type Supply struct {
	Items []model.Item
}

// Exhaust tells the round that the item pool has nothing more to give.
type Exhaust struct{}

func (Start) isEvent()   {}
func (Pick) isEvent()    {}
func (Supply) isEvent()  {}
func (Exhaust) isEvent() {}

// Effect is an output of Transition that the caller must act on.
type Effect interface{ isEffect() }

// RequestItems asks the caller to Supply at least Count items (or Exhaust).
type RequestItems struct {
	Count int
}

// ChoiceMade carries the choice recorded by a pick.
type ChoiceMade struct {
	Choice model.Choice
}

// RoundFinished carries the final ordered choice list.
type RoundFinished struct {
	Choices []model.Choice
}

func (RequestItems) isEffect()  {}
func (ChoiceMade) isEffect()    {}
func (RoundFinished) isEffect() {}

// Transition applies e to s. On error the returned State equals s.
func Transition(s State, e Event) (State, []Effect, error) {
	if s.Status == Finished {
		return s, nil, fmt.Errorf("%w: round is finished", ErrInvalidState)
	}

	switch ev := e.(type) {
	case Start:
		return start(s, ev)
	case Pick:
		return pick(s, ev)
	case Supply:
		return supply(s, ev)
	case Exhaust:
		return exhaust(s)
	default:
		return s, nil, fmt.Errorf("%w: unknown event %T", ErrInvalidArgument, e)
	}
}

func start(s State, ev Start) (State, []Effect, error) {
	if s.Status != Starting {
		return s, nil, fmt.Errorf("%w: start while %s", ErrInvalidState, s.Status)
	}
	if !ev.Policy.Valid() {
		return s, nil, fmt.Errorf("%w: unknown replacement policy %q", ErrInvalidArgument, ev.Policy)
	}
	next := s.clone()
	next.Policy = ev.Policy
	next.Backlog = append(next.Backlog, ev.Backlog...)
	next.Status = Loading
	return next.settle(nil, true)
}

func pick(s State, ev Pick) (State, []Effect, error) {
	if s.Status != Picking {
		return s, nil, fmt.Errorf("%w: pick while %s", ErrInvalidState, s.Status)
	}
	if !ev.Slot.valid() {
		return s, nil, fmt.Errorf("%w: unknown slot %d", ErrInvalidArgument, int(ev.Slot))
	}
	picked, other := s.Slots[ev.Slot], s.Slots[ev.Slot.Other()]
	if picked == nil || other == nil {
		return s, nil, fmt.Errorf("%w: slot %s is empty", ErrInvalidState, ev.Slot)
	}

	c := model.Choice{Picked: picked.ID, NotPicked: other.ID, ObservedAt: ev.ObservedAt}
	next := s.clone()
	next.Choices = append(next.Choices, c)
	for _, sl := range next.Policy.cleared(ev.Slot) {
		next.Slots[sl] = nil
	}
	next.Status = Loading
	return next.settle([]Effect{ChoiceMade{Choice: c}}, true)
}

func supply(s State, ev Supply) (State, []Effect, error) {
	if len(ev.Items) == 0 {
		return s, nil, fmt.Errorf("%w: supply needs at least one item", ErrInvalidArgument)
	}
	if s.Status == Starting {
		return s, nil, fmt.Errorf("%w: supply before start", ErrInvalidState)
	}
	next := s.clone()
	next.Backlog = append(next.Backlog, ev.Items...)
	if next.Status != Loading {
		// Prefetch while picking: just queue the items.
		return next, nil, nil
	}
	next.Awaiting = false
	// A supply that still cannot fill the slots ends the round.
	return next.settle(nil, false)
}

func exhaust(s State) (State, []Effect, error) {
	if s.Status == Starting {
		return s, nil, fmt.Errorf("%w: exhaust before start", ErrInvalidState)
	}
	next := s.clone()
	next.Exhausted = true
	if next.Status != Loading {
		return next, nil, nil
	}
	next.Awaiting = false
	return next.settle(nil, false)
}

// settle runs the fill check. allowRequest is false when the caller has just
// answered a request, so a remaining shortage finishes the round.
func (s State) settle(effects []Effect, allowRequest bool) (State, []Effect, error) {
	s.fill()
	missing := s.missing()
	if missing == 0 {
		s.Status = Picking
		return s, effects, nil
	}
	if s.OnDemand && allowRequest && !s.Exhausted {
		s.Awaiting = true
		return s, append(effects, RequestItems{Count: max(missing, s.Batch)}), nil
	}
	s.Status = Finished
	s.Awaiting = false
	return s, append(effects, RoundFinished{Choices: slices.Clone(s.Choices)}), nil
}
