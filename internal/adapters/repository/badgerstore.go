package repository

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/versus/pkg/logger"
)

// DriverBadger is the embedded key-value driver name.
const DriverBadger = "badger"

// maxConflictRetries bounds optimistic retries of a conflicting transaction.
const maxConflictRetries = 3

// Key layout:
//
//	'p' | uvarint(len(player)) | player          -> created_at unix millis (8 bytes)
//	's' | uvarint(len(player)) | player | item   -> float64 bits (8 bytes)
const (
	playerKeyTag = 'p'
	scoreKeyTag  = 's'
)

// BadgerScoreStore keeps player scores in an embedded badger database. It only
// implements ScoreStore; pair it with a catalog via Compose.
type BadgerScoreStore struct {
	db  *badger.DB
	log logger.Logger
	now func() time.Time
}

var _ ScoreStore = (*BadgerScoreStore)(nil)

// OpenBadger opens (or creates) a badger database at path. An empty path
// opens an in-memory database.
func OpenBadger(path string, opts ...Option) (*BadgerScoreStore, error) {
	o := buildOptions("badger-store", opts)
	bo := badger.DefaultOptions(path).WithLogger(badgerLogger{log: o.log})
	if path == "" {
		bo = bo.WithInMemory(true)
	}
	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerScoreStore{db: db, log: o.log, now: o.now}, nil
}

// Close releases the database.
func (s *BadgerScoreStore) Close() error { return s.db.Close() }

func playerPrefix(tag byte, playerID string) []byte {
	b := make([]byte, 0, 1+binary.MaxVarintLen64+len(playerID))
	b = append(b, tag)
	b = binary.AppendUvarint(b, uint64(len(playerID)))
	return append(b, playerID...)
}

func scoreKey(playerID, itemID string) []byte {
	return append(playerPrefix(scoreKeyTag, playerID), itemID...)
}

func encodeFloat(v float64) []byte {
	return binary.BigEndian.AppendUint64(nil, math.Float64bits(v))
}

func decodeFloat(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: score value has %d bytes", ErrCorruptRecord, len(b))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// GetScores implements ScoreReader.
func (s *BadgerScoreStore) GetScores(ctx context.Context, playerID string, itemIDs []string) (out map[string]float64, err error) {
	defer observe(DriverBadger, "get_scores", time.Now(), &err)
	err = s.db.View(func(txn *badger.Txn) error {
		out, err = (&badgerTx{txn: txn}).GetScores(ctx, playerID, itemIDs)
		return err
	})
	return out, err
}

// GetAllScores implements ScoreReader.
func (s *BadgerScoreStore) GetAllScores(ctx context.Context, playerID string) (out map[string]float64, err error) {
	defer observe(DriverBadger, "get_all_scores", time.Now(), &err)
	err = s.db.View(func(txn *badger.Txn) error {
		out, err = (&badgerTx{txn: txn}).GetAllScores(ctx, playerID)
		return err
	})
	return out, err
}

// EnsurePlayer implements ScoreTx.
func (s *BadgerScoreStore) EnsurePlayer(ctx context.Context, playerID string) error {
	return s.WithinTx(ctx, playerID, func(tx ScoreTx) error { return tx.EnsurePlayer(ctx, playerID) })
}

// UpsertScores implements ScoreTx.
func (s *BadgerScoreStore) UpsertScores(ctx context.Context, playerID string, scores map[string]float64) error {
	return s.WithinTx(ctx, playerID, func(tx ScoreTx) error { return tx.UpsertScores(ctx, playerID, scores) })
}

// WithinTx implements ScoreStore with a read-write badger transaction.
// Conflicting commits are retried a few times; fn must therefore be safe to
// run more than once.
func (s *BadgerScoreStore) WithinTx(ctx context.Context, playerID string, fn func(ScoreTx) error) (err error) {
	defer observe(DriverBadger, "tx", time.Now(), &err)
	if err := validatePlayer(playerID); err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.runTxn(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt == maxConflictRetries {
			return err
		}
		s.log.Debug(ctx, "badger transaction conflict, retrying",
			logger.String("player", playerID),
			logger.Int("attempt", attempt),
		)
	}
}

func (s *BadgerScoreStore) runTxn(fn func(ScoreTx) error) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := fn(&badgerTx{txn: txn, now: s.now}); err != nil {
		return err
	}
	return txn.Commit()
}

// badgerTx adapts a badger transaction to ScoreTx.
type badgerTx struct {
	txn *badger.Txn
	now func() time.Time
}

func (t *badgerTx) GetScores(_ context.Context, playerID string, itemIDs []string) (map[string]float64, error) {
	if err := validatePlayer(playerID); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(itemIDs))
	for _, id := range distinct(itemIDs) {
		item, err := t.txn.Get(scoreKey(playerID, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get score %s: %w", id, err)
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return nil, fmt.Errorf("read score %s: %w", id, err)
		}
		v, err := decodeFloat(raw)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

func (t *badgerTx) GetAllScores(_ context.Context, playerID string) (map[string]float64, error) {
	if err := validatePlayer(playerID); err != nil {
		return nil, err
	}
	prefix := playerPrefix(scoreKeyTag, playerID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	out := make(map[string]float64)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		id := string(item.KeyCopy(nil)[len(prefix):])
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return nil, fmt.Errorf("read score %s: %w", id, err)
		}
		v, err := decodeFloat(raw)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

func (t *badgerTx) EnsurePlayer(_ context.Context, playerID string) error {
	if err := validatePlayer(playerID); err != nil {
		return err
	}
	key := playerPrefix(playerKeyTag, playerID)
	_, err := t.txn.Get(key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("get player: %w", err)
	}
	stamp := binary.BigEndian.AppendUint64(nil, uint64(t.now().UnixMilli())) //nolint:gosec // positive epoch millis
	if err := t.txn.Set(key, stamp); err != nil {
		return fmt.Errorf("set player: %w", err)
	}
	return nil
}

func (t *badgerTx) UpsertScores(ctx context.Context, playerID string, scores map[string]float64) error {
	if err := t.EnsurePlayer(ctx, playerID); err != nil {
		return err
	}
	for id, v := range scores {
		if id == "" {
			return fmt.Errorf("%w: item id is required", ErrInvalidArgument)
		}
		if err := t.txn.Set(scoreKey(playerID, id), encodeFloat(v)); err != nil {
			return fmt.Errorf("set score %s: %w", id, err)
		}
	}
	return nil
}

// badgerLogger routes badger's internal logging into the service logger.
type badgerLogger struct {
	log logger.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(context.Background(), fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}
