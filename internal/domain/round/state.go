package round

import (
	"fmt"
	"slices"
	"strings"

	"github.com/okian/versus/internal/domain/model"
)

// Slot is one of the two presentation positions.
type Slot int

// Slots.
const (
	First Slot = iota
	Second
)

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	if s == First {
		return Second
	}
	return First
}

func (s Slot) valid() bool { return s == First || s == Second }

func (s Slot) String() string {
	switch s {
	case First:
		return "first"
	case Second:
		return "second"
	}
	return fmt.Sprintf("slot(%d)", int(s))
}

// ParseSlot accepts "first"/"second" (or "0"/"1").
func ParseSlot(s string) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first", "0":
		return First, nil
	case "second", "1":
		return Second, nil
	}
	return 0, fmt.Errorf("%w: unknown slot %q", ErrInvalidArgument, s)
}

// Status is the externally observable phase of a round.
type Status int

// Round phases.
const (
	Starting Status = iota
	Loading
	Picking
	Finished
)

func (s Status) String() string {
	switch s {
	case Starting:
		return "starting"
	case Loading:
		return "loading"
	case Picking:
		return "picking"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// State is the complete round context. Transition never mutates the State it
// is given; it returns a new one.
type State struct {
	Status  Status
	Policy  Policy
	Backlog []model.Item
	Slots   [2]*model.Item
	Choices []model.Choice

	// OnDemand rounds ask for more items instead of finishing on the first shortage.
	OnDemand bool
	// Batch is the minimum size of an item request.
	Batch int
	// Awaiting is set while a RequestItems effect is unanswered.
	Awaiting bool
	// Exhausted is set once the supplier reported it has nothing more.
	Exhausted bool
	// Dequeued counts items taken off the backlog.
	Dequeued int
}

// NewState returns a round in the starting phase.
func NewState(onDemand bool, batch int) State {
	if batch < 1 {
		batch = 1
	}
	return State{Status: Starting, OnDemand: onDemand, Batch: batch}
}

func (s State) clone() State {
	next := s
	next.Backlog = slices.Clone(s.Backlog)
	next.Choices = slices.Clone(s.Choices)
	return next
}

// missing counts empty slots.
func (s State) missing() int {
	n := 0
	for _, it := range s.Slots {
		if it == nil {
			n++
		}
	}
	return n
}

// fill moves backlog items into empty slots, first slot first. An entry equal
// to the item in the other slot is dropped.
func (s *State) fill() {
	for _, sl := range [2]Slot{First, Second} {
		if s.Slots[sl] != nil {
			continue
		}
		for len(s.Backlog) > 0 {
			item := s.Backlog[0]
			s.Backlog = s.Backlog[1:]
			s.Dequeued++
			if other := s.Slots[sl.Other()]; other != nil && other.ID == item.ID {
				continue
			}
			s.Slots[sl] = &item
			break
		}
	}
}
