package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
)

// SQL driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLStore implements Store on database/sql for PostgreSQL and SQLite.
type SQLStore struct {
	db     *sql.DB
	driver string
	log    logger.Logger
	now    func() time.Time
}

var _ Store = (*SQLStore)(nil)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// OpenSQL opens and pings a database for driver ("postgres" or "sqlite").
func OpenSQL(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("%w: database url is required for %s", ErrInvalidArgument, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer at a time; avoids SQLITE_BUSY between pooled connections.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return NewSQLStore(db, driver, opts...)
}

// NewSQLStore wraps an open database. The caller keeps ownership of schema
// creation (see CreateSchema).
func NewSQLStore(db *sql.DB, driver string, opts ...Option) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	o := buildOptions("sql-store", opts)
	return &SQLStore{db: db, driver: driver, log: o.log, now: o.now}, nil
}

// DB exposes the underlying handle for migrations.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Driver implements Store.
func (s *SQLStore) Driver() string { return s.driver }

// Close implements Store.
func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders into the driver's syntax.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// inList returns "?, ?, ?" for n placeholders.
func inList(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// PutItem inserts or replaces an item with its tags.
func (s *SQLStore) PutItem(ctx context.Context, item model.Item) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.putItem(ctx, tx, item)
	})
}

func (s *SQLStore) putItem(ctx context.Context, q querier, item model.Item) error {
	if item.ID == "" {
		return fmt.Errorf("%w: item id is required", ErrInvalidArgument)
	}
	attrs := item.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("%w: attributes: %v", ErrInvalidArgument, err)
	}
	if _, err := q.ExecContext(ctx, s.rebind(
		`INSERT INTO items (id, attributes) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET attributes = excluded.attributes`), item.ID, string(raw)); err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	if _, err := q.ExecContext(ctx, s.rebind(`DELETE FROM item_tags WHERE item_id = ?`), item.ID); err != nil {
		return fmt.Errorf("clear item tags: %w", err)
	}
	for _, tag := range distinct(item.Tags) {
		if _, err := q.ExecContext(ctx, s.rebind(`INSERT INTO item_tags (item_id, tag) VALUES (?, ?)`), item.ID, tag); err != nil {
			return fmt.Errorf("insert item tag: %w", err)
		}
	}
	return nil
}

// PutEdge inserts or replaces the edge From -> To.
func (s *SQLStore) PutEdge(ctx context.Context, e model.Edge) error {
	return s.putEdge(ctx, s.db, e)
}

func (s *SQLStore) putEdge(ctx context.Context, q querier, e model.Edge) error {
	if e.From == "" || e.To == "" {
		return fmt.Errorf("%w: edge endpoints are required", ErrInvalidArgument)
	}
	_, err := q.ExecContext(ctx, s.rebind(
		`INSERT INTO edges (from_id, to_id, weight) VALUES (?, ?, ?)
		 ON CONFLICT (from_id, to_id) DO UPDATE SET weight = excluded.weight`), e.From, e.To, e.Weight)
	if err != nil {
		return fmt.Errorf("upsert edge: %w", err)
	}
	return nil
}

// FetchItems implements ItemCatalog.
func (s *SQLStore) FetchItems(ctx context.Context, f Filter) (items []model.Item, err error) {
	defer observe(s.driver, "fetch_items", time.Now(), &err)
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var (
		q    strings.Builder
		args []any
	)
	q.WriteString(`SELECT id, attributes FROM items WHERE 1 = 1`)
	if ex := distinct(f.ExcludeIDs); len(ex) > 0 {
		q.WriteString(` AND id NOT IN (` + inList(len(ex)) + `)`)
		args = append(args, stringArgs(ex)...)
	}
	if tags := distinct(f.Tags); len(tags) > 0 {
		q.WriteString(` AND (SELECT COUNT(*) FROM item_tags t WHERE t.item_id = items.id AND t.tag IN (` + inList(len(tags)) + `)) = ?`)
		args = append(args, stringArgs(tags)...)
		args = append(args, len(tags))
	}
	q.WriteString(` ORDER BY id LIMIT ?`)
	args = append(args, f.Count)

	rows, err := s.db.QueryContext(ctx, s.rebind(q.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			it  model.Item
			raw string
		)
		if err := rows.Scan(&it.ID, &raw); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if raw != "" && raw != "{}" {
			if err := json.Unmarshal([]byte(raw), &it.Attributes); err != nil {
				return nil, fmt.Errorf("%w: item %s attributes: %v", ErrCorruptRecord, it.ID, err)
			}
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	if err := s.attachTags(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *SQLStore) attachTags(ctx context.Context, items []model.Item) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, len(items))
	pos := make(map[string]int, len(items))
	for i, it := range items {
		ids[i] = it.ID
		pos[it.ID] = i
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT item_id, tag FROM item_tags WHERE item_id IN (`+inList(len(ids))+`) ORDER BY item_id, tag`),
		stringArgs(ids)...)
	if err != nil {
		return fmt.Errorf("query item tags: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return fmt.Errorf("scan item tag: %w", err)
		}
		i := pos[id]
		items[i].Tags = append(items[i].Tags, tag)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate item tags: %w", err)
	}
	return nil
}

// MissingItems implements ItemCatalog.
func (s *SQLStore) MissingItems(ctx context.Context, ids []string) (missing []string, err error) {
	defer observe(s.driver, "missing_items", time.Now(), &err)
	want := distinct(ids)
	if len(want) == 0 {
		return nil, nil
	}
	found, err := s.queryIDs(ctx, `SELECT id FROM items WHERE id IN (`+inList(len(want))+`)`, stringArgs(want)...)
	if err != nil {
		return nil, err
	}
	for _, id := range want {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *SQLStore) queryIDs(ctx context.Context, query string, args ...any) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return out, nil
}

// OutgoingEdges implements GraphStore.
func (s *SQLStore) OutgoingEdges(ctx context.Context, itemIDs []string) (edges []model.Edge, err error) {
	defer observe(s.driver, "outgoing_edges", time.Now(), &err)
	from := distinct(itemIDs)
	if len(from) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT from_id, to_id, weight FROM edges WHERE from_id IN (`+inList(len(from))+`) ORDER BY from_id, to_id`),
		stringArgs(from)...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var e model.Edge
		if err := rows.Scan(&e.From, &e.To, &e.Weight); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return edges, nil
}

// GetScores implements ScoreReader.
func (s *SQLStore) GetScores(ctx context.Context, playerID string, itemIDs []string) (map[string]float64, error) {
	return s.scores(s.db).GetScores(ctx, playerID, itemIDs)
}

// GetAllScores implements ScoreReader.
func (s *SQLStore) GetAllScores(ctx context.Context, playerID string) (map[string]float64, error) {
	return s.scores(s.db).GetAllScores(ctx, playerID)
}

// EnsurePlayer implements ScoreTx.
func (s *SQLStore) EnsurePlayer(ctx context.Context, playerID string) error {
	return s.scores(s.db).EnsurePlayer(ctx, playerID)
}

// UpsertScores implements ScoreTx.
func (s *SQLStore) UpsertScores(ctx context.Context, playerID string, scores map[string]float64) error {
	return s.WithinTx(ctx, playerID, func(tx ScoreTx) error { return tx.UpsertScores(ctx, playerID, scores) })
}

// WithinTx implements ScoreStore. On PostgreSQL the transaction also takes a
// transaction-scoped advisory lock on the player so that rounds for the same
// player are serialized across processes.
func (s *SQLStore) WithinTx(ctx context.Context, playerID string, fn func(ScoreTx) error) (err error) {
	defer observe(s.driver, "tx", time.Now(), &err)
	if err := validatePlayer(playerID); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if s.driver == DriverPostgres {
			key := int64(xxhash.Sum64String(playerID)) //nolint:gosec // bit pattern reuse is intended
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
				return fmt.Errorf("lock player: %w", err)
			}
		}
		return fn(s.scores(tx))
	})
}

func (s *SQLStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn(ctx, "rollback failed", logger.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLStore) scores(q querier) *sqlScores {
	return &sqlScores{store: s, q: q}
}

// sqlScores runs score queries against either the pool or an open tx.
type sqlScores struct {
	store *SQLStore
	q     querier
}

func (t *sqlScores) GetScores(ctx context.Context, playerID string, itemIDs []string) (map[string]float64, error) {
	if err := validatePlayer(playerID); err != nil {
		return nil, err
	}
	ids := distinct(itemIDs)
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}
	args := append([]any{playerID}, stringArgs(ids)...)
	return t.queryScores(ctx,
		`SELECT item_id, score FROM scores WHERE player_id = ? AND item_id IN (`+inList(len(ids))+`)`, args...)
}

func (t *sqlScores) GetAllScores(ctx context.Context, playerID string) (map[string]float64, error) {
	if err := validatePlayer(playerID); err != nil {
		return nil, err
	}
	return t.queryScores(ctx, `SELECT item_id, score FROM scores WHERE player_id = ?`, playerID)
}

func (t *sqlScores) queryScores(ctx context.Context, query string, args ...any) (map[string]float64, error) {
	rows, err := t.q.QueryContext(ctx, t.store.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]float64)
	for rows.Next() {
		var (
			id    string
			score float64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out[id] = score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}
	return out, nil
}

func (t *sqlScores) EnsurePlayer(ctx context.Context, playerID string) error {
	if err := validatePlayer(playerID); err != nil {
		return err
	}
	_, err := t.q.ExecContext(ctx, t.store.rebind(
		`INSERT INTO players (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`),
		playerID, t.store.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("ensure player: %w", err)
	}
	return nil
}

func (t *sqlScores) UpsertScores(ctx context.Context, playerID string, scores map[string]float64) error {
	if err := t.EnsurePlayer(ctx, playerID); err != nil {
		return err
	}
	stmt := t.store.rebind(`INSERT INTO scores (player_id, item_id, score) VALUES (?, ?, ?)
		ON CONFLICT (player_id, item_id) DO UPDATE SET score = excluded.score`)
	for _, id := range slices.Sorted(maps.Keys(scores)) {
		if id == "" {
			return fmt.Errorf("%w: item id is required", ErrInvalidArgument)
		}
		if _, err := t.q.ExecContext(ctx, stmt, playerID, id, scores[id]); err != nil {
			return fmt.Errorf("upsert score %s: %w", id, err)
		}
	}
	return nil
}
