package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

// DriverMemory is the in-process driver name.
const DriverMemory = "memory"

// MemoryStore keeps items, edges and scores in memory. It implements Store
// and is the default driver for tests and single-node demos.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]model.Item
	edges   map[string][]model.Edge // by From, insertion order
	players map[string]time.Time
	scores  map[string]map[string]float64 // player -> item -> score

	log logger.Logger
	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions("memory-store", opts)
	return &MemoryStore{
		items:   make(map[string]model.Item),
		edges:   make(map[string][]model.Edge),
		players: make(map[string]time.Time),
		scores:  make(map[string]map[string]float64),
		log:     o.log,
		now:     o.now,
	}
}

// Driver implements Store.
func (s *MemoryStore) Driver() string { return DriverMemory }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// PutItem adds or replaces an item.
func (s *MemoryStore) PutItem(item model.Item) error {
	if item.ID == "" {
		return fmt.Errorf("%w: item id is required", ErrInvalidArgument)
	}
	s.mu.Lock()
	s.items[item.ID] = item
	s.mu.Unlock()
	return nil
}

// PutEdge adds or replaces the edge From -> To.
func (s *MemoryStore) PutEdge(e model.Edge) error {
	if e.From == "" || e.To == "" {
		return fmt.Errorf("%w: edge endpoints are required", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.edges[e.From]
	if i := slices.IndexFunc(out, func(x model.Edge) bool { return x.To == e.To }); i >= 0 {
		out[i] = e
		return nil
	}
	s.edges[e.From] = append(out, e)
	return nil
}

// ItemCount returns the number of catalog items.
func (s *MemoryStore) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// FetchItems implements ItemCatalog.
func (s *MemoryStore) FetchItems(_ context.Context, f Filter) (out []model.Item, err error) {
	defer observe(DriverMemory, "fetch_items", time.Now(), &err)
	if err := f.Validate(); err != nil {
		return nil, err
	}
	excluded := make(map[string]struct{}, len(f.ExcludeIDs))
	for _, id := range f.ExcludeIDs {
		excluded[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range slices.Sorted(maps.Keys(s.items)) {
		if len(out) == f.Count {
			break
		}
		if _, skip := excluded[id]; skip {
			continue
		}
		if it := s.items[id]; it.HasAllTags(f.Tags) {
			out = append(out, it)
		}
	}
	return out, nil
}

// MissingItems implements ItemCatalog.
func (s *MemoryStore) MissingItems(_ context.Context, ids []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []string
	for _, id := range distinct(ids) {
		if _, ok := s.items[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// OutgoingEdges implements GraphStore.
func (s *MemoryStore) OutgoingEdges(_ context.Context, itemIDs []string) ([]model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Edge
	for _, id := range distinct(itemIDs) {
		out = append(out, s.edges[id]...)
	}
	return out, nil
}

// GetScores implements ScoreReader.
func (s *MemoryStore) GetScores(_ context.Context, playerID string, itemIDs []string) (map[string]float64, error) {
	if err := validatePlayer(playerID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readScores(playerID, itemIDs, nil), nil
}

// GetAllScores implements ScoreReader.
func (s *MemoryStore) GetAllScores(_ context.Context, playerID string) (map[string]float64, error) {
	if err := validatePlayer(playerID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readAll(playerID, nil), nil
}

// EnsurePlayer implements ScoreTx.
func (s *MemoryStore) EnsurePlayer(ctx context.Context, playerID string) error {
	return s.WithinTx(ctx, playerID, func(tx ScoreTx) error { return tx.EnsurePlayer(ctx, playerID) })
}

// UpsertScores implements ScoreTx.
func (s *MemoryStore) UpsertScores(ctx context.Context, playerID string, scores map[string]float64) error {
	return s.WithinTx(ctx, playerID, func(tx ScoreTx) error { return tx.UpsertScores(ctx, playerID, scores) })
}

// WithinTx implements ScoreStore. Writes are staged and applied under the
// store lock only when fn succeeds.
func (s *MemoryStore) WithinTx(ctx context.Context, playerID string, fn func(ScoreTx) error) (err error) {
	defer observe(DriverMemory, "tx", time.Now(), &err)
	if err := validatePlayer(playerID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{
		store:   s,
		players: make(map[string]struct{}),
		staged:  make(map[string]map[string]float64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for p := range tx.players {
		if _, ok := s.players[p]; !ok {
			s.players[p] = now
		}
	}
	for p, staged := range tx.staged {
		if _, ok := s.players[p]; !ok {
			s.players[p] = now
		}
		rows := s.scores[p]
		if rows == nil {
			rows = make(map[string]float64, len(staged))
			s.scores[p] = rows
		}
		maps.Copy(rows, staged)
	}
}

// readScores returns the requested rows with staged overriding committed.
// Callers hold s.mu.
func (s *MemoryStore) readScores(playerID string, itemIDs []string, staged map[string]float64) map[string]float64 {
	rows := s.scores[playerID]
	out := make(map[string]float64, len(itemIDs))
	for _, id := range itemIDs {
		if v, ok := staged[id]; ok {
			out[id] = v
			continue
		}
		if v, ok := rows[id]; ok {
			out[id] = v
		}
	}
	return out
}

// readAll returns every row with staged overriding committed. Callers hold s.mu.
func (s *MemoryStore) readAll(playerID string, staged map[string]float64) map[string]float64 {
	out := maps.Clone(s.scores[playerID])
	if out == nil {
		out = make(map[string]float64, len(staged))
	}
	maps.Copy(out, staged)
	return out
}

// memoryTx stages writes until WithinTx commits them.
type memoryTx struct {
	store   *MemoryStore
	players map[string]struct{}
	staged  map[string]map[string]float64
}

func (tx *memoryTx) GetScores(_ context.Context, playerID string, itemIDs []string) (map[string]float64, error) {
	if err := validatePlayer(playerID); err != nil {
		return nil, err
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.readScores(playerID, itemIDs, tx.staged[playerID]), nil
}

func (tx *memoryTx) GetAllScores(_ context.Context, playerID string) (map[string]float64, error) {
	if err := validatePlayer(playerID); err != nil {
		return nil, err
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.readAll(playerID, tx.staged[playerID]), nil
}

func (tx *memoryTx) EnsurePlayer(_ context.Context, playerID string) error {
	if err := validatePlayer(playerID); err != nil {
		return err
	}
	tx.players[playerID] = struct{}{}
	return nil
}

func (tx *memoryTx) UpsertScores(_ context.Context, playerID string, scores map[string]float64) error {
	if err := validatePlayer(playerID); err != nil {
		return err
	}
	rows := tx.staged[playerID]
	if rows == nil {
		rows = make(map[string]float64, len(scores))
		tx.staged[playerID] = rows
	}
	for id, v := range scores {
		if id == "" {
			return fmt.Errorf("%w: item id is required", ErrInvalidArgument)
		}
		rows[id] = v
	}
	return nil
}

// HasPlayer reports whether the player record exists.
func (s *MemoryStore) HasPlayer(playerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.players[playerID]
	return ok
}

// observe records a store operation's latency and outcome.
func observe(driver, op string, start time.Time, err *error) {
	metrics.RecordStoreOperation(driver, op, *err, float64(time.Since(start).Milliseconds()))
}
