package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Record keys are a single-byte prefix plus the pattern id, leaving
// room for future key spaces in the same database.
const prefixRecord = byte(0x01)

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// DataDir is the database directory. Ignored when InMemory is set.
	DataDir string

	// InMemory runs without a disk footprint. Used by tests; data is
	// lost on close.
	InMemory bool

	// SyncWrites fsyncs every write. Slower by 2-5x, maximum safety.
	SyncWrites bool

	// HighPerformance trades RAM for speed: larger memtables and
	// caches, relaxed compaction.
	HighPerformance bool

	// LowMemory trades speed for RAM: small memtables, aggressive
	// compaction. Suits the archive tier, which is written rarely and
	// read rarely.
	LowMemory bool

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *zap.Logger
}

// BadgerStore is the durable Store backing the standard and archive
// tiers.
type BadgerStore struct {
	db     *badger.DB
	count  atomic.Int64
	closed atomic.Bool
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens a database with balanced defaults.
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	return NewBadgerStoreWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerStoreWithOptions opens a database with explicit tuning.
func NewBadgerStoreWithOptions(opts BadgerOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(badgerLogger{opts.Logger.Sugar()})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	switch {
	case opts.HighPerformance:
		badgerOpts = badgerOpts.
			WithMemTableSize(128 << 20).
			WithValueLogFileSize(256 << 20).
			WithNumMemtables(5).
			WithNumLevelZeroTables(10).
			WithNumLevelZeroTablesStall(20).
			WithBlockCacheSize(256 << 20).
			WithIndexCacheSize(128 << 20).
			WithNumCompactors(4).
			WithCompactL0OnClose(false).
			WithDetectConflicts(false)
	case opts.LowMemory:
		badgerOpts = badgerOpts.
			WithMemTableSize(8 << 20).
			WithValueLogFileSize(32 << 20).
			WithNumMemtables(1).
			WithNumLevelZeroTables(1).
			WithNumLevelZeroTablesStall(2).
			WithValueThreshold(512).
			WithBlockCacheSize(8 << 20).
			WithIndexCacheSize(4 << 20)
	default:
		badgerOpts = badgerOpts.
			WithMemTableSize(64 << 20).
			WithValueLogFileSize(128 << 20).
			WithNumMemtables(3).
			WithNumLevelZeroTables(5).
			WithNumLevelZeroTablesStall(10).
			WithBlockCacheSize(64 << 20).
			WithIndexCacheSize(32 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &BadgerStore{db: db}
	if err := s.initCount(); err != nil {
		db.Close()
		return nil, fmt.Errorf("count records: %w", err)
	}
	return s, nil
}

// initCount scans existing keys once so Count stays O(1) afterwards.
func (s *BadgerStore) initCount() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixRecord}
		it := txn.NewIterator(opts)
		defer it.Close()

		var n int64
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		s.count.Store(n)
		return nil
	})
}

func recordKey(id string) []byte {
	key := make([]byte, 0, len(id)+1)
	key = append(key, prefixRecord)
	return append(key, id...)
}

// Put inserts or replaces a record.
func (s *BadgerStore) Put(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}

	key := recordKey(rec.ID)
	var created bool
	err = s.db.Update(func(txn *badger.Txn) error {
		_, getErr := txn.Get(key)
		created = getErr == badger.ErrKeyNotFound
		if getErr != nil && !created {
			return getErr
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("put record %s: %w", rec.ID, err)
	}
	if created {
		s.count.Add(1)
	}
	return nil
}

// Get returns the record for id.
func (s *BadgerStore) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidID
	}
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec = &Record{}
			return json.Unmarshal(val, rec)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

// Delete removes the record for id.
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return ErrInvalidID
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}

	key := recordKey(id)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	s.count.Add(-1)
	return nil
}

// Scan visits matching records in key order.
func (s *BadgerStore) Scan(ctx context.Context, f Filter, fn func(*Record) bool) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixRecord}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			if !f.Match(&rec) {
				continue
			}
			if !fn(&rec) {
				return nil
			}
		}
		return nil
	})
}

// Count returns the cached record count.
func (s *BadgerStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}
	return int(s.count.Load()), nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// badgerLogger adapts zap to badger's logger interface.
type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.log.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.log.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.log.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.log.Debugf(format, args...) }
