package session

import (
	"time"

	"github.com/okian/versus/internal/domain/round"
	"github.com/okian/versus/pkg/logger"
)

// Default manager settings.
const (
	DefaultBatch     = 8
	DefaultItemLimit = 50
	DefaultTTL       = 30 * time.Minute
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithLogger sets a custom logger for the manager.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithDefaultPolicy sets the policy used when a start request names none.
func WithDefaultPolicy(p round.Policy) Option {
	return func(m *Manager) {
		if p.Valid() {
			m.defaultPolicy = p
		}
	}
}

// WithBatch sets how many items are fetched per supply request.
func WithBatch(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batch = n
		}
	}
}

// WithItemLimit caps the number of items one session may draw from the pool.
func WithItemLimit(n int) Option {
	return func(m *Manager) {
		if n >= 2 {
			m.itemLimit = n
		}
	}
}

// WithTTL sets how long an idle session survives a Sweep.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}
