package repository

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/versus/internal/domain/model"
)

func TestMemoryStore_LoadCatalog(t *testing.T) {
	ctx := context.Background()
	doc := `
items:
  - id: margherita
    tags: [pizza, vegetarian]
    attributes:
      price: 9.5
  - id: marinara
    tags: [pizza]
edges:
  - {from: margherita, to: marinara, weight: 0.5}
  - {from: margherita, to: marinara, weight: 0.75}
`
	s := NewMemoryStore()
	if err := s.LoadCatalog(strings.NewReader(doc)); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if s.ItemCount() != 2 {
		t.Errorf("expected 2 items, got %d", s.ItemCount())
	}
	edges, err := s.OutgoingEdges(ctx, []string{"margherita"})
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	if len(edges) != 1 || edges[0].Weight != 0.75 {
		t.Errorf("expected the later edge to replace the earlier one, got %v", edges)
	}

	items, err := s.FetchItems(ctx, Filter{Count: 1, Tags: []string{"vegetarian"}})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 1 || items[0].Attributes["price"] != 9.5 {
		t.Errorf("expected margherita with its attributes, got %v", items)
	}
}

func TestMemoryStore_LoadCatalogRejectsUnknownFields(t *testing.T) {
	s := NewMemoryStore()
	err := s.LoadCatalog(strings.NewReader("items:\n  - id: a\n    colour: red\n"))
	if err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestMemoryStore_LoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("items:\n  - id: a\n  - id: b\n"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	s := NewMemoryStore()
	if err := s.LoadCatalogFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if s.ItemCount() != 2 {
		t.Errorf("expected 2 items, got %d", s.ItemCount())
	}
	if err := s.LoadCatalogFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestMemoryStore_Validation(t *testing.T) {
	s := NewMemoryStore()
	if err := s.PutItem(model.Item{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty item id, got %v", err)
	}
	if err := s.PutEdge(model.Edge{From: "a"}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for missing edge target, got %v", err)
	}
}

func TestMemoryStore_EnsurePlayer(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if s.HasPlayer("p1") {
		t.Fatal("player should not exist yet")
	}
	if err := s.EnsurePlayer(ctx, "p1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !s.HasPlayer("p1") {
		t.Error("expected player to exist")
	}

	failed := errors.New("abort")
	_ = s.WithinTx(ctx, "p2", func(tx ScoreTx) error {
		_ = tx.EnsurePlayer(ctx, "p2")
		return failed
	})
	if s.HasPlayer("p2") {
		t.Error("expected aborted tx not to create the player")
	}
}

func TestMemoryStore_WithinTxHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := NewMemoryStore().WithinTx(ctx, "p1", func(ScoreTx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("expected cancelled context to skip fn, got err=%v called=%v", err, called)
	}
}

func TestSQLStore_Rebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	if got := pg.rebind("SELECT ? , ? FROM t WHERE x IN (" + inList(2) + ")"); got != "SELECT $1 , $2 FROM t WHERE x IN ($3, $4)" {
		t.Errorf("unexpected postgres query: %s", got)
	}
	lite := &SQLStore{driver: DriverSQLite}
	if got := lite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite query should be unchanged, got %s", got)
	}
}

func TestSQLStore_UnknownDriver(t *testing.T) {
	if _, err := OpenSQL(context.Background(), "mysql", "dsn"); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("expected ErrUnknownDriver, got %v", err)
	}
	if _, err := OpenSQL(context.Background(), DriverPostgres, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty dsn, got %v", err)
	}
}

func TestSQLStore_SchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQL(ctx, DriverSQLite, filepath.Join(t.TempDir(), "schema.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	for i := 0; i < 2; i++ {
		if err := CreateSchema(ctx, s.DB()); err != nil {
			t.Fatalf("create schema pass %d: %v", i, err)
		}
	}
	if err := s.EnsurePlayer(ctx, "p1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := s.EnsurePlayer(ctx, "p1"); err != nil {
		t.Fatalf("ensure twice: %v", err)
	}
}

func TestSQLStore_ImportCatalog(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQL(ctx, DriverSQLite, filepath.Join(t.TempDir(), "import.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if err := CreateSchema(ctx, s.DB()); err != nil {
		t.Fatalf("schema: %v", err)
	}

	c, err := DecodeCatalog(strings.NewReader(`
items:
  - {id: a, tags: [x]}
  - {id: b}
edges:
  - {from: a, to: b, weight: 0.25}
`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Importing twice upserts rather than failing on the primary keys.
	for i := 0; i < 2; i++ {
		if err := s.ImportCatalog(ctx, c); err != nil {
			t.Fatalf("import pass %d: %v", i, err)
		}
	}

	items, err := s.FetchItems(ctx, Filter{Count: 10})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 2 || items[0].ID != "a" || len(items[0].Tags) != 1 {
		t.Errorf("unexpected items %v", items)
	}
	edges, err := s.OutgoingEdges(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	if len(edges) != 1 || edges[0].Weight != 0.25 {
		t.Errorf("unexpected edges %v", edges)
	}

	bad := Catalog{Items: []model.Item{{ID: "c"}, {ID: ""}}}
	if err := s.ImportCatalog(ctx, bad); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if missing, _ := s.MissingItems(ctx, []string{"c"}); len(missing) != 1 {
		t.Error("a failed import must not leave partial items behind")
	}
}

func TestBadgerScoreStore_KeyIsolation(t *testing.T) {
	ctx := context.Background()
	s, err := OpenBadger("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	// "a" + item "bx" must not be confused with player "ab" + item "x".
	if err := s.UpsertScores(ctx, "a", map[string]float64{"bx": 0.5}); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	if err := s.UpsertScores(ctx, "ab", map[string]float64{"x": 1}); err != nil {
		t.Fatalf("upsert ab: %v", err)
	}
	got, err := s.GetAllScores(ctx, "a")
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(got) != 1 || got["bx"] != 0.5 {
		t.Errorf("expected only bx for player a, got %v", got)
	}
}

func TestBadgerScoreStore_FloatEncoding(t *testing.T) {
	for _, v := range []float64{0, 1, 0.1, math.SmallestNonzeroFloat64, 1e300} {
		got, err := decodeFloat(encodeFloat(v))
		if err != nil || got != v {
			t.Errorf("expected %v, got %v (%v)", v, got, err)
		}
	}
	if _, err := decodeFloat([]byte{1, 2}); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord, got %v", err)
	}
}
