// Package repository defines the storage ports used by the preference engine
// and the drivers that implement them.
package repository

import (
	"context"
	"fmt"

	"github.com/okian/versus/internal/domain/model"
)

// Filter selects items from the pool.
type Filter struct {
	// Count is the maximum number of items to return. Must be positive.
	Count int
	// ExcludeIDs are never returned.
	ExcludeIDs []string
	// Tags must all be present on a returned item.
	Tags []string
}

// Validate checks the filter before a driver runs it.
func (f Filter) Validate() error {
	if f.Count <= 0 {
		return fmt.Errorf("%w: count must be positive, got %d", ErrInvalidArgument, f.Count)
	}
	return nil
}

// ItemCatalog is the item pool supplier.
type ItemCatalog interface {
	// FetchItems returns up to f.Count items ordered by id.
	FetchItems(ctx context.Context, f Filter) ([]model.Item, error)
	// MissingItems returns the distinct ids in ids that are not in the catalog,
	// in first-seen order.
	MissingItems(ctx context.Context, ids []string) ([]string, error)
}

// GraphStore exposes the directed relationship weights between items.
type GraphStore interface {
	// OutgoingEdges returns every edge whose From is one of itemIDs.
	OutgoingEdges(ctx context.Context, itemIDs []string) ([]model.Edge, error)
}

// ScoreReader reads a player's durable scores. Missing rows are simply absent
// from the returned map.
type ScoreReader interface {
	GetScores(ctx context.Context, playerID string, itemIDs []string) (map[string]float64, error)
	GetAllScores(ctx context.Context, playerID string) (map[string]float64, error)
}

// ScoreTx is the read/write view available inside a transaction.
type ScoreTx interface {
	ScoreReader
	// EnsurePlayer creates the player record if it does not exist yet.
	EnsurePlayer(ctx context.Context, playerID string) error
	// UpsertScores writes every (item, score) pair for the player.
	UpsertScores(ctx context.Context, playerID string, scores map[string]float64) error
}

// ScoreStore persists player scores. Calls made directly on the store are
// individually atomic; WithinTx groups several into one atomic unit.
type ScoreStore interface {
	ScoreTx
	// WithinTx runs fn in a transaction scoped to playerID. Writes made through
	// the ScoreTx become visible only if fn returns nil.
	WithinTx(ctx context.Context, playerID string, fn func(ScoreTx) error) error
}

// Store bundles the three ports behind one handle with a lifecycle.
type Store interface {
	ItemCatalog
	GraphStore
	ScoreStore
	// Driver names the backing implementation.
	Driver() string
	Close() error
}

// composite joins separately backed ports into one Store.
type composite struct {
	ItemCatalog
	GraphStore
	ScoreStore
	driver string
	close  func() error
}

// Compose builds a Store whose catalog and graph come from one backend and
// whose scores come from another. closeFn may be nil.
func Compose(driver string, catalog ItemCatalog, graph GraphStore, scores ScoreStore, closeFn func() error) Store {
	return &composite{ItemCatalog: catalog, GraphStore: graph, ScoreStore: scores, driver: driver, close: closeFn}
}

func (c *composite) Driver() string { return c.driver }

func (c *composite) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

func validatePlayer(playerID string) error {
	if playerID == "" {
		return fmt.Errorf("%w: player id is required", ErrInvalidArgument)
	}
	return nil
}

// distinct returns ids without duplicates or empty strings, preserving order.
func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
