// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	roundqueue "github.com/okian/versus/internal/adapters/mq/queue"
	workerpool "github.com/okian/versus/internal/adapters/mq/worker"
	"github.com/okian/versus/internal/adapters/repository"
	"github.com/okian/versus/internal/config"
	"github.com/okian/versus/internal/domain/dedupe"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/internal/domain/propagation"
	"github.com/okian/versus/internal/domain/round"
	"github.com/okian/versus/internal/domain/session"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

const maxSweepInterval = time.Minute

// ErrNotStarted is returned by calls made before Start.
var ErrNotStarted = errors.New("service not started")

// Service wires the store, engine, session manager and async pipeline.
type Service struct {
	mu sync.RWMutex

	store    repository.Store
	engine   *propagation.Engine
	sessions *session.Manager
	deduper  dedupe.Deduper
	queue    *roundqueue.InMemoryQueue
	pool     *workerpool.Pool
	reads    singleflight.Group

	driver      string
	databaseURL string
	badgerPath  string
	catalogFile string
	workerCount int
	queueSize   int
	dedupeSize  int
	maxChoices  int
	policy      round.Policy
	batch       int
	itemLimit   int
	sessionTTL  time.Duration

	started   bool
	stopSweep context.CancelFunc
	sweepDone chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStoreDriver selects the storage backend and its DSN.
func WithStoreDriver(driver, databaseURL string) Option {
	return func(s *Service) {
		if driver != "" {
			s.driver = driver
		}
		s.databaseURL = databaseURL
	}
}

// WithBadgerPath sets the badger directory; empty keeps badger in memory.
func WithBadgerPath(path string) Option {
	return func(s *Service) { s.badgerPath = path }
}

// WithCatalogFile seeds the item pool from a YAML catalog at start.
func WithCatalogFile(path string) Option {
	return func(s *Service) { s.catalogFile = path }
}

// WithStore uses an already opened store instead of opening one from the
// driver settings. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithWorkerCount sets the number of async round workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the async round queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many async round ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxChoices caps the number of choices in one round; 0 disables the cap.
func WithMaxChoices(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxChoices = n
		}
	}
}

// WithSessionDefaults configures server-side rounds.
func WithSessionDefaults(policy round.Policy, batch, itemLimit int, ttl time.Duration) Option {
	return func(s *Service) {
		s.policy = policy
		s.batch = batch
		s.itemLimit = itemLimit
		s.sessionTTL = ttl
	}
}

// OptionsFromConfig translates a loaded Config into service options.
func OptionsFromConfig(cfg *config.Config) []Option {
	return []Option{
		WithStoreDriver(cfg.StoreDriver, cfg.DatabaseURL),
		WithBadgerPath(cfg.BadgerPath),
		WithCatalogFile(cfg.CatalogFile),
		WithWorkerCount(cfg.WorkerCount),
		WithQueueSize(cfg.QueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithMaxChoices(cfg.MaxChoicesPerRound),
		WithSessionDefaults(cfg.Policy(), cfg.ReplenishBatch, cfg.RoundItemLimit, cfg.SessionTTL()),
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		driver:      repository.DriverMemory,
		workerCount: runtime.NumCPU(),
		queueSize:   10_000,
		dedupeSize:  dedupe.DefaultMaxSize,
		policy:      round.KeepPicked,
		batch:       session.DefaultBatch,
		itemLimit:   session.DefaultItemLimit,
		sessionTTL:  session.DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	return s
}

// Start opens the store and starts the engine, sessions and workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Component("service")
	}

	if s.store == nil {
		store, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		s.store = store
	}

	engine, err := propagation.New(s.store, s.store, s.store,
		propagation.WithMaxChoices(s.maxChoices),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	s.engine = engine

	s.sessions, err = session.NewManager(s.store, engine,
		session.WithDefaultPolicy(s.policy),
		session.WithBatch(s.batch),
		session.WithItemLimit(s.itemLimit),
		session.WithTTL(s.sessionTTL),
	)
	if err != nil {
		return fmt.Errorf("build session manager: %w", err)
	}

	s.queue = roundqueue.NewInMemoryQueue(roundqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, engine,
		workerpool.WithOnFailure(s.onRoundFailed),
	)
	s.pool.Start(context.WithoutCancel(ctx))

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopSweep = cancel
	s.sweepDone = make(chan struct{})
	go s.sweepSessions(sweepCtx)

	s.started = true
	s.logger.Info(ctx, "versus service started",
		logger.String("driver", s.store.Driver()),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.String("policy", s.policy.String()),
	)
	return nil
}

// openStore opens the configured backend and seeds the catalog when one is
// configured. Catalog ids are upserted, so restarts are safe.
func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	var catalog repository.Catalog
	if s.catalogFile != "" {
		c, err := repository.ReadCatalogFile(s.catalogFile)
		if err != nil {
			return nil, err
		}
		catalog = c
	}

	switch s.driver {
	case repository.DriverMemory:
		mem, err := s.memoryCatalog(catalog)
		if err != nil {
			return nil, err
		}
		return mem, nil

	case repository.DriverPostgres, repository.DriverSQLite:
		store, err := repository.OpenSQL(ctx, s.driver, s.databaseURL)
		if err != nil {
			return nil, err
		}
		if err := repository.CreateSchema(ctx, store.DB()); err != nil {
			_ = store.Close()
			return nil, err
		}
		if s.catalogFile != "" {
			if err := store.ImportCatalog(ctx, catalog); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		return store, nil

	case repository.DriverBadger:
		mem, err := s.memoryCatalog(catalog)
		if err != nil {
			return nil, err
		}
		kv, err := repository.OpenBadger(s.badgerPath)
		if err != nil {
			return nil, err
		}
		return repository.Compose(repository.DriverBadger, mem, mem, kv, kv.Close), nil

	default:
		return nil, fmt.Errorf("%w: %q", repository.ErrUnknownDriver, s.driver)
	}
}

func (s *Service) memoryCatalog(c repository.Catalog) (*repository.MemoryStore, error) {
	mem := repository.NewMemoryStore()
	if err := mem.ImportCatalog(c); err != nil {
		return nil, err
	}
	return mem, nil
}

func (s *Service) sweepSessions(ctx context.Context) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(min(s.sessionTTL, maxSweepInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.sessions.Sweep(now); n > 0 {
				s.logger.Debug(ctx, "idle sessions dropped", logger.Int("count", n))
			}
		}
	}
}

// onRoundFailed lets a round that failed on storage be submitted again.
func (s *Service) onRoundFailed(job model.RoundJob, err error) {
	if errors.Is(err, propagation.ErrPersistence) {
		s.deduper.Unrecord(context.Background(), job.RoundID)
	}
}

// Stop drains the async queue, stops the sweeper and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping versus service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.stopSweep()
	<-s.sweepDone
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "versus service stopped")
	return errors.Join(errs...)
}

func (s *Service) running() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// SeenAndRecord reports whether the round id was already submitted.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	return s.deduper.SeenAndRecord(ctx, id)
}

// Unrecord forgets a round id so it can be submitted again.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// Size returns the number of remembered round ids.
func (s *Service) Size() int64 { return s.deduper.Size() }

// ProcessRound applies a finished round synchronously.
func (s *Service) ProcessRound(ctx context.Context, playerID string, choices []model.Choice) (propagation.Result, error) {
	if err := s.running(); err != nil {
		return propagation.Result{}, err
	}
	return s.engine.ProcessRound(ctx, playerID, choices)
}

// Enqueue queues a finished round for the workers.
func (s *Service) Enqueue(ctx context.Context, job model.RoundJob) error {
	if err := s.running(); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue round %s: %w", job.RoundID, err)
	}
	return nil
}

// PlayerScores returns every score of a player. Concurrent reads of the same
// player share one store query.
func (s *Service) PlayerScores(ctx context.Context, playerID string) (map[string]float64, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	v, err, shared := s.reads.Do(playerID, func() (any, error) {
		return s.store.GetAllScores(ctx, playerID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrInvalidArgument) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", propagation.ErrPersistence, err)
	}
	if shared {
		s.logger.Debug(ctx, "score read shared", logger.String("player", playerID))
	}
	return v.(map[string]float64), nil
}

// StartSession opens a server-side round.
func (s *Service) StartSession(ctx context.Context, req session.StartRequest) (session.View, error) {
	if err := s.running(); err != nil {
		return session.View{}, err
	}
	return s.sessions.Start(ctx, req)
}

// PickSession records a pick in a server-side round.
func (s *Service) PickSession(ctx context.Context, id string, slot round.Slot) (session.View, error) {
	if err := s.running(); err != nil {
		return session.View{}, err
	}
	return s.sessions.Pick(ctx, id, slot)
}

// GetSession returns a server-side round.
func (s *Service) GetSession(id string) (session.View, error) {
	if err := s.running(); err != nil {
		return session.View{}, err
	}
	return s.sessions.Get(id)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"driver":      s.driver,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if s.started {
		stats["driver"] = s.store.Driver()
		stats["queueLength"] = s.queue.Len()
		stats["activeSessions"] = s.sessions.Active()
		stats["seenRounds"] = s.deduper.Size()
		metrics.UpdateSessionsActive(s.sessions.Active())
	}
	return stats
}
