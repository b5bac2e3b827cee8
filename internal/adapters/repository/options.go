package repository

import (
	"time"

	"github.com/okian/versus/pkg/logger"
)

// options are shared by every driver.
type options struct {
	log logger.Logger
	now func() time.Time
}

// Option applies a configuration option to a store driver.
type Option func(*options)

// WithLogger sets the driver's logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock overrides the time source used for player creation stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Component(component)
	}
	return o
}

