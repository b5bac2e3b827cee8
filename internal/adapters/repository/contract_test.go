package repository

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/okian/versus/internal/domain/model"
)

// driverFixture is one Store implementation plus a way to seed its catalog.
type driverFixture struct {
	name  string
	store Store
	seed  func(t *testing.T, items []model.Item, edges []model.Edge)
}

func memoryFixture(t *testing.T) driverFixture {
	t.Helper()
	m := NewMemoryStore()
	return driverFixture{name: DriverMemory, store: m, seed: seedMemory(m)}
}

func seedMemory(m *MemoryStore) func(t *testing.T, items []model.Item, edges []model.Edge) {
	return func(t *testing.T, items []model.Item, edges []model.Edge) {
		t.Helper()
		for _, it := range items {
			if err := m.PutItem(it); err != nil {
				t.Fatalf("put item: %v", err)
			}
		}
		for _, e := range edges {
			if err := m.PutEdge(e); err != nil {
				t.Fatalf("put edge: %v", err)
			}
		}
	}
}

func sqliteFixture(t *testing.T) driverFixture {
	t.Helper()
	ctx := context.Background()
	s, err := OpenSQL(ctx, DriverSQLite, filepath.Join(t.TempDir(), "versus.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := CreateSchema(ctx, s.DB()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return driverFixture{
		name:  DriverSQLite,
		store: s,
		seed: func(t *testing.T, items []model.Item, edges []model.Edge) {
			t.Helper()
			for _, it := range items {
				if err := s.PutItem(ctx, it); err != nil {
					t.Fatalf("put item: %v", err)
				}
			}
			for _, e := range edges {
				if err := s.PutEdge(ctx, e); err != nil {
					t.Fatalf("put edge: %v", err)
				}
			}
		},
	}
}

func badgerFixture(t *testing.T) driverFixture {
	t.Helper()
	scores, err := OpenBadger("")
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	catalog := NewMemoryStore()
	return driverFixture{
		name:  DriverBadger,
		store: Compose(DriverBadger, catalog, catalog, scores, scores.Close),
		seed:  seedMemory(catalog),
	}
}

func allDrivers(t *testing.T) []driverFixture {
	t.Helper()
	fixtures := []driverFixture{memoryFixture(t), sqliteFixture(t), badgerFixture(t)}
	t.Cleanup(func() {
		for _, f := range fixtures {
			_ = f.store.Close()
		}
	})
	return fixtures
}

var contractItems = []model.Item{
	{ID: "c", Tags: []string{"pizza"}},
	{ID: "a", Tags: []string{"pizza", "vegetarian"}, Attributes: map[string]any{"name": "Margherita"}},
	{ID: "b", Tags: []string{"pasta", "vegetarian"}},
	{ID: "d"},
}

var contractEdges = []model.Edge{
	{From: "a", To: "c", Weight: 0.5},
	{From: "a", To: "ghost", Weight: 0.2},
	{From: "b", To: "a", Weight: 0.25},
}

func ids(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestStoreContract_ItemCatalog(t *testing.T) {
	ctx := context.Background()
	for _, f := range allDrivers(t) {
		t.Run(f.name, func(t *testing.T) {
			f.seed(t, contractItems, contractEdges)

			if _, err := f.store.FetchItems(ctx, Filter{Count: 0}); !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument for zero count, got %v", err)
			}

			all, err := f.store.FetchItems(ctx, Filter{Count: 10})
			if err != nil {
				t.Fatalf("fetch all: %v", err)
			}
			if got := ids(all); !slices.Equal(got, []string{"a", "b", "c", "d"}) {
				t.Errorf("expected items ordered by id, got %v", got)
			}
			if all[0].Attributes["name"] != "Margherita" {
				t.Errorf("expected attributes to round-trip, got %v", all[0].Attributes)
			}
			if !slices.Equal(all[0].Tags, []string{"pizza", "vegetarian"}) {
				t.Errorf("expected tags to round-trip, got %v", all[0].Tags)
			}

			limited, err := f.store.FetchItems(ctx, Filter{Count: 2, ExcludeIDs: []string{"a"}})
			if err != nil {
				t.Fatalf("fetch limited: %v", err)
			}
			if got := ids(limited); !slices.Equal(got, []string{"b", "c"}) {
				t.Errorf("expected [b c], got %v", got)
			}

			tagged, err := f.store.FetchItems(ctx, Filter{Count: 10, Tags: []string{"vegetarian", "pizza"}})
			if err != nil {
				t.Fatalf("fetch tagged: %v", err)
			}
			if got := ids(tagged); !slices.Equal(got, []string{"a"}) {
				t.Errorf("expected only items with every tag, got %v", got)
			}

			missing, err := f.store.MissingItems(ctx, []string{"x", "a", "x", "y", "b"})
			if err != nil {
				t.Fatalf("missing items: %v", err)
			}
			if !slices.Equal(missing, []string{"x", "y"}) {
				t.Errorf("expected [x y], got %v", missing)
			}
		})
	}
}

func TestStoreContract_GraphStore(t *testing.T) {
	ctx := context.Background()
	for _, f := range allDrivers(t) {
		t.Run(f.name, func(t *testing.T) {
			f.seed(t, contractItems, contractEdges)

			edges, err := f.store.OutgoingEdges(ctx, []string{"a", "a", "d"})
			if err != nil {
				t.Fatalf("outgoing edges: %v", err)
			}
			if len(edges) != 2 {
				t.Fatalf("expected 2 edges from a, got %v", edges)
			}
			for _, e := range edges {
				if e.From != "a" {
					t.Errorf("unexpected edge %v", e)
				}
			}

			none, err := f.store.OutgoingEdges(ctx, nil)
			if err != nil || len(none) != 0 {
				t.Errorf("expected no edges for empty input, got %v, %v", none, err)
			}
		})
	}
}

func TestStoreContract_Scores(t *testing.T) {
	ctx := context.Background()
	for _, f := range allDrivers(t) {
		t.Run(f.name, func(t *testing.T) {
			if _, err := f.store.GetAllScores(ctx, ""); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument for empty player, got %v", err)
			}

			empty, err := f.store.GetAllScores(ctx, "p1")
			if err != nil || len(empty) != 0 {
				t.Fatalf("expected no rows for a new player, got %v, %v", empty, err)
			}

			if err := f.store.UpsertScores(ctx, "p1", map[string]float64{"a": 1, "b": 0.5}); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			got, err := f.store.GetScores(ctx, "p1", []string{"a", "zzz"})
			if err != nil {
				t.Fatalf("get scores: %v", err)
			}
			if len(got) != 1 || got["a"] != 1 {
				t.Errorf("expected only a=1, got %v", got)
			}

			other, err := f.store.GetAllScores(ctx, "p2")
			if err != nil || len(other) != 0 {
				t.Errorf("expected players to be isolated, got %v, %v", other, err)
			}
		})
	}
}

func TestStoreContract_WithinTx(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for _, f := range allDrivers(t) {
		t.Run(f.name, func(t *testing.T) {
			if err := f.store.UpsertScores(ctx, "p1", map[string]float64{"a": 1}); err != nil {
				t.Fatalf("seed scores: %v", err)
			}

			err := f.store.WithinTx(ctx, "p1", func(tx ScoreTx) error {
				if err := tx.UpsertScores(ctx, "p1", map[string]float64{"a": 0.25, "b": 0.75}); err != nil {
					return err
				}
				inside, err := tx.GetAllScores(ctx, "p1")
				if err != nil {
					return err
				}
				if inside["a"] != 0.25 || inside["b"] != 0.75 {
					t.Errorf("expected tx to read its own writes, got %v", inside)
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("expected fn error to surface, got %v", err)
			}
			after, err := f.store.GetAllScores(ctx, "p1")
			if err != nil {
				t.Fatalf("get after rollback: %v", err)
			}
			if len(after) != 1 || after["a"] != 1 {
				t.Errorf("expected rollback to leave a=1 only, got %v", after)
			}

			err = f.store.WithinTx(ctx, "p1", func(tx ScoreTx) error {
				if err := tx.EnsurePlayer(ctx, "p1"); err != nil {
					return err
				}
				return tx.UpsertScores(ctx, "p1", map[string]float64{"a": 0.5, "c": 0})
			})
			if err != nil {
				t.Fatalf("commit tx: %v", err)
			}
			after, err = f.store.GetAllScores(ctx, "p1")
			if err != nil {
				t.Fatalf("get after commit: %v", err)
			}
			if len(after) != 2 || after["a"] != 0.5 || after["c"] != 0 {
				t.Errorf("expected committed rows a=0.5 c=0, got %v", after)
			}
		})
	}
}
