package round

import (
	"fmt"
	"slices"
	"time"

	"github.com/okian/versus/internal/domain/model"
)

// Controller drives one round. It is not safe for concurrent use; a round is
// a single-threaded conversation between the controller and its caller.
type Controller struct {
	state State

	needItems func(count int)
	onChoice  func(model.Choice)
	onFinish  func([]model.Choice)
	batch     int
}

// Option applies a configuration option to the Controller.
type Option func(*Controller)

// WithNeedItems switches the controller to load-on-demand: instead of
// finishing on the first shortage it calls fn and waits for Supply or Exhaust.
func WithNeedItems(fn func(count int)) Option {
	return func(c *Controller) {
		c.needItems = fn
	}
}

// WithReplenishBatch sets the minimum number of items asked for per request.
func WithReplenishBatch(n int) Option {
	return func(c *Controller) {
		c.batch = n
	}
}

// WithOnChoice registers a callback fired for every recorded choice.
func WithOnChoice(fn func(model.Choice)) Option {
	return func(c *Controller) {
		c.onChoice = fn
	}
}

// WithOnFinish registers a callback fired once with the final choice list.
func WithOnFinish(fn func([]model.Choice)) Option {
	return func(c *Controller) {
		c.onFinish = fn
	}
}

// NewController builds a controller in the starting phase.
func NewController(opts ...Option) (*Controller, error) {
	c := &Controller{batch: 1}
	for _, opt := range opts {
		opt(c)
	}
	if c.batch <= 0 {
		return nil, fmt.Errorf("%w: replenish batch must be positive, got %d", ErrInvalidArgument, c.batch)
	}
	c.state = NewState(c.needItems != nil, c.batch)
	return c, nil
}

// Start fills both slots from the initial backlog.
func (c *Controller) Start(policy Policy, backlog []model.Item) error {
	return c.apply(Start{Policy: policy, Backlog: backlog})
}

// Pick records the item in slot as chosen over the other slot.
func (c *Controller) Pick(slot Slot, observedAt time.Time) error {
	return c.apply(Pick{Slot: slot, ObservedAt: observedAt})
}

// Supply feeds replenishment items.
func (c *Controller) Supply(items []model.Item) error {
	return c.apply(Supply{Items: items})
}

// Exhaust reports that no more items will be supplied.
func (c *Controller) Exhaust() error {
	return c.apply(Exhaust{})
}

func (c *Controller) apply(e Event) error {
	next, effects, err := Transition(c.state, e)
	if err != nil {
		return err
	}
	c.state = next
	// Callbacks may re-enter (e.g. Supply from needItems); state is already committed.
	for _, eff := range effects {
		switch ef := eff.(type) {
		case ChoiceMade:
			if c.onChoice != nil {
				c.onChoice(ef.Choice)
			}
		case RequestItems:
			if c.needItems != nil {
				c.needItems(ef.Count)
			}
		case RoundFinished:
			if c.onFinish != nil {
				c.onFinish(ef.Choices)
			}
		}
	}
	return nil
}

// IsFinished reports whether the round reached its terminal phase.
func (c *Controller) IsFinished() bool { return c.state.Status == Finished }

// Status returns the current phase.
func (c *Controller) Status() Status { return c.state.Status }

// Policy returns the round's replacement policy.
func (c *Controller) Policy() Policy { return c.state.Policy }

// Awaiting reports whether an item request is outstanding.
func (c *Controller) Awaiting() bool { return c.state.Awaiting }

// CurrentSlots returns copies of the items in both slots; nil means empty.
func (c *Controller) CurrentSlots() [2]*model.Item {
	var out [2]*model.Item
	for i, it := range c.state.Slots {
		if it != nil {
			cp := *it
			out[i] = &cp
		}
	}
	return out
}

// Choices returns the ordered choices recorded so far.
func (c *Controller) Choices() []model.Choice { return slices.Clone(c.state.Choices) }

// BacklogLen returns the number of queued items.
func (c *Controller) BacklogLen() int { return len(c.state.Backlog) }

// Dequeued returns the number of items taken off the backlog so far.
func (c *Controller) Dequeued() int { return c.state.Dequeued }

// Snapshot returns a copy of the full state.
func (c *Controller) Snapshot() State { return c.state.clone() }
