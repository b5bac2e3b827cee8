// Package session hosts round controllers on the server so a remote caller can
// play a round one pick at a time.
//
// The manager answers each controller's request for more items by fetching
// from the item pool, excluding everything the session has already seen.
// When a round finishes its choices are submitted to the round processor and
// the session is forgotten.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/versus/internal/adapters/repository"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/internal/domain/propagation"
	"github.com/okian/versus/internal/domain/round"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

// Processor applies a finished round.
type Processor interface {
	ProcessRound(ctx context.Context, playerID string, choices []model.Choice) (propagation.Result, error)
}

// StartRequest opens a session.
type StartRequest struct {
	PlayerID string
	// Policy defaults to the manager's default policy when empty.
	Policy round.Policy
	Tags   []string
	// BatchSize overrides the manager's supply batch when positive.
	BatchSize int
}

// View is a snapshot of a session returned to callers.
type View struct {
	ID       string
	PlayerID string
	Policy   round.Policy
	Status   round.Status
	Slots    [2]*model.Item
	Choices  []model.Choice
	Supplied int
	// Result is set once the finished round was applied.
	Result *propagation.Result
}

// Manager owns the open sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	catalog   repository.ItemCatalog
	processor Processor

	defaultPolicy round.Policy
	batch         int
	itemLimit     int
	ttl           time.Duration
	now           func() time.Time
	newID         func() string
	log           logger.Logger
}

type session struct {
	mu         sync.Mutex
	id         string
	playerID   string
	tags       []string
	batch      int
	ctl        *round.Controller
	seen       []string
	pending    int // outstanding item request from the controller
	lastActive time.Time
	closed     bool
}

// NewManager builds a session manager.
func NewManager(catalog repository.ItemCatalog, processor Processor, opts ...Option) (*Manager, error) {
	if catalog == nil || processor == nil {
		return nil, fmt.Errorf("%w: catalog and processor are required", ErrInvalidArgument)
	}
	m := &Manager{
		sessions:      make(map[string]*session),
		catalog:       catalog,
		processor:     processor,
		defaultPolicy: round.KeepPicked,
		batch:         DefaultBatch,
		itemLimit:     DefaultItemLimit,
		ttl:           DefaultTTL,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Component("session")
	}
	return m, nil
}

// Start opens a session and deals the first two items.
func (m *Manager) Start(ctx context.Context, req StartRequest) (View, error) {
	if req.PlayerID == "" {
		return View{}, fmt.Errorf("%w: player id is required", ErrInvalidArgument)
	}
	policy := req.Policy
	if policy == "" {
		policy = m.defaultPolicy
	}
	if !policy.Valid() {
		return View{}, fmt.Errorf("%w: unknown replacement policy %q", round.ErrInvalidArgument, policy)
	}
	batch := m.batch
	if req.BatchSize > 0 {
		batch = req.BatchSize
	}

	s := &session{
		id:         m.newID(),
		playerID:   req.PlayerID,
		tags:       slices.Clone(req.Tags),
		batch:      batch,
		lastActive: m.now(),
	}
	ctl, err := round.NewController(
		round.WithReplenishBatch(batch),
		round.WithNeedItems(func(count int) { s.pending = count }),
	)
	if err != nil {
		return View{}, err
	}
	s.ctl = ctl

	initial, err := m.fetch(ctx, s, max(batch, 2))
	if err != nil {
		return View{}, err
	}
	if err := ctl.Start(policy, initial); err != nil {
		return View{}, err
	}
	if err := m.service(ctx, s); err != nil {
		return View{}, err
	}
	metrics.RecordSessionStarted()

	if ctl.IsFinished() {
		// Fewer than two items matched; there is nothing to play.
		metrics.RecordSessionFinished("empty")
		m.log.Info(ctx, "session finished without choices",
			logger.String("player", s.playerID),
			logger.Int("supplied", len(s.seen)),
		)
		return s.view(), nil
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	active := len(m.sessions)
	m.mu.Unlock()
	metrics.UpdateSessionsActive(active)

	m.log.Debug(ctx, "session started",
		logger.String("session", s.id),
		logger.String("player", s.playerID),
		logger.String("policy", policy.String()),
	)
	return s.view(), nil
}

// Pick records a pick. When it ends the round, the choices are applied and
// the returned view carries the result.
func (m *Manager) Pick(ctx context.Context, id string, slot round.Slot) (View, error) {
	s, err := m.lookup(id)
	if err != nil {
		return View{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.lastActive = m.now()
	if s.pending > 0 {
		// An earlier supply failed; answer it before taking the pick.
		if err := m.service(ctx, s); err != nil {
			return View{}, err
		}
		if s.ctl.IsFinished() {
			return m.finish(ctx, s)
		}
	}
	if err := s.ctl.Pick(slot, s.lastActive); err != nil {
		return View{}, err
	}
	metrics.RecordSessionPick(s.ctl.Policy().String())

	if err := m.service(ctx, s); err != nil {
		return View{}, err
	}
	if !s.ctl.IsFinished() {
		return s.view(), nil
	}
	return m.finish(ctx, s)
}

// Get returns the current view of an open session.
func (m *Manager) Get(id string) (View, error) {
	s, err := m.lookup(id)
	if err != nil {
		return View{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.view(), nil
}

// Sweep drops sessions idle for longer than the TTL and returns how many it
// dropped. Their choices are discarded.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	open := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	// Session locks are always taken before the manager lock.
	expired := 0
	for _, s := range open {
		s.mu.Lock()
		if s.closed || now.Sub(s.lastActive) <= m.ttl {
			s.mu.Unlock()
			continue
		}
		s.closed = true
		m.forget(s.id)
		s.mu.Unlock()

		expired++
		metrics.RecordSessionFinished("expired")
		m.log.Info(context.Background(), "session expired",
			logger.String("session", s.id),
			logger.String("player", s.playerID),
		)
	}
	return expired
}

// Active returns the number of open sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	active := len(m.sessions)
	m.mu.Unlock()
	metrics.UpdateSessionsActive(active)
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// service answers an outstanding item request: Supply when the pool has more,
// Exhaust when the session hit its item limit or the pool ran dry. A failed
// fetch leaves the request outstanding for the next call.
func (m *Manager) service(ctx context.Context, s *session) error {
	if s.pending == 0 {
		return nil
	}
	items, err := m.fetch(ctx, s, max(s.pending, s.batch))
	if err != nil {
		return err
	}
	s.pending = 0
	if len(items) == 0 {
		return s.ctl.Exhaust()
	}
	return s.ctl.Supply(items)
}

// fetch draws up to want unseen items, respecting the session's item limit.
func (m *Manager) fetch(ctx context.Context, s *session, want int) ([]model.Item, error) {
	budget := m.itemLimit - len(s.seen)
	if budget <= 0 {
		return nil, nil
	}
	items, err := m.catalog.FetchItems(ctx, repository.Filter{
		Count:      min(want, budget),
		ExcludeIDs: s.seen,
		Tags:       s.tags,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSupply, err)
	}
	for _, it := range items {
		s.seen = append(s.seen, it.ID)
	}
	metrics.RecordItemsSupplied(len(items))
	return items, nil
}

// finish submits the choices of a finished round and forgets the session.
// The submission outlives ctx so a caller hanging up on the last pick does
// not discard the round.
func (m *Manager) finish(ctx context.Context, s *session) (View, error) {
	s.closed = true
	m.forget(s.id)

	v := s.view()
	res, err := m.processor.ProcessRound(context.WithoutCancel(ctx), s.playerID, v.Choices)
	if err != nil {
		metrics.RecordSessionFinished("failed")
		m.log.Error(ctx, "session round submission failed",
			logger.String("session", s.id),
			logger.String("player", s.playerID),
			logger.Int("choices", len(v.Choices)),
			logger.Error(err),
		)
		return v, fmt.Errorf("submit round: %w", err)
	}
	metrics.RecordSessionFinished("submitted")
	v.Result = &res
	return v, nil
}

func (s *session) view() View {
	return View{
		ID:       s.id,
		PlayerID: s.playerID,
		Policy:   s.ctl.Policy(),
		Status:   s.ctl.Status(),
		Slots:    s.ctl.CurrentSlots(),
		Choices:  s.ctl.Choices(),
		Supplied: len(s.seen),
	}
}

// IsNotFound reports whether err means the session does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
