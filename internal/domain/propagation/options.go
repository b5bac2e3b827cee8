package propagation

import (
	"github.com/okian/versus/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMaxChoices caps the number of choices accepted in one round.
// Zero disables the cap.
func WithMaxChoices(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxChoices = n
		}
	}
}
