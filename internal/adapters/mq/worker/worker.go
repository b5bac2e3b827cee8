// Package worker applies asynchronously submitted rounds.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/internal/domain/propagation"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

// Processor applies one round.
type Processor interface {
	ProcessRound(ctx context.Context, playerID string, choices []model.Choice) (propagation.Result, error)
}

// Source is where workers read jobs from.
type Source interface {
	Jobs() <-chan model.RoundJob
}

// Pool runs a fixed number of workers over one source.
type Pool struct {
	size      int
	source    Source
	processor Processor
	onFailure func(model.RoundJob, error)
	logger    logger.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a pool of size workers. A size below one uses the CPU count.
func NewPool(size int, source Source, processor Processor, opts ...Option) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}
	p := &Pool{
		size:      size,
		source:    source,
		processor: processor,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Component("worker-pool")
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Start launches the workers. They run until the source is closed and
// drained, Stop is called, or ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	metrics.UpdateWorkerCount(p.size)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx, p.logger.Named("worker-"+strconv.Itoa(i)))
	}
}

func (p *Pool) run(ctx context.Context, log logger.Logger) {
	defer p.wg.Done()
	jobs := p.source.Jobs()
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := p.process(ctx, job); err != nil {
				log.Error(ctx, "round processing failed",
					logger.String("round", job.RoundID),
					logger.String("player", job.PlayerID),
					logger.Error(err),
				)
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, job model.RoundJob) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerLatency(float64(time.Since(start).Milliseconds()))
	}()

	if _, err := p.processor.ProcessRound(ctx, job.PlayerID, job.Choices); err != nil {
		metrics.RecordErrorByComponent("worker", "process_round")
		if p.onFailure != nil {
			p.onFailure(job, err)
		}
		return fmt.Errorf("round %s: %w", job.RoundID, err)
	}
	return nil
}

// Stop signals the workers to return after their current job. Jobs still
// queued are left unprocessed.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Wait blocks until every worker has returned or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		metrics.UpdateWorkerCount(0)
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "worker shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Shutdown closes the source when it can be closed, lets the workers drain it
// and waits for them.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.source.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	} else {
		p.Stop()
	}
	return p.Wait(ctx)
}
