package worker

import (
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
)

// Option applies a configuration option to a Pool.
type Option func(*Pool)

// WithLogger sets a custom logger for the pool and its workers.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithOnFailure registers a hook called for every job the processor rejected.
func WithOnFailure(fn func(job model.RoundJob, err error)) Option {
	return func(p *Pool) {
		p.onFailure = fn
	}
}
