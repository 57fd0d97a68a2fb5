package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/nicktill/tinystatsd/pkg/statsd/metrics"
	"github.com/nicktill/tinystatsd/pkg/storage"
)

// keySize is [series hash (8)][timestamp (8)][sequence (8)].
const keySize = 24

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db  *badger.DB
	seq atomic.Uint64
}

var _ storage.Storage = (*Storage)(nil)

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = 48 MB default)
	MaxMemoryMB int64

	// Logger receives BadgerDB's internal logs. Nil silences them.
	Logger *zap.Logger
}

// zapLogger adapts zap to badger.Logger, which spells Warn as Warningf.
type zapLogger struct {
	*zap.SugaredLogger
}

func (l zapLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.Logger != nil {
		opts = opts.WithLogger(zapLogger{cfg.Logger.Named("badger").Sugar()})
	}

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// BadgerDB defaults to 64 MB memtables x 5; a dev sink needs far less.
	memTableSize := int64(16 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB << 20 / 3
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	s := &Storage{db: db}
	s.seq.Store(uint64(time.Now().UnixNano()))
	return s, nil
}

// Write stores lines in BadgerDB
func (s *Storage) Write(ctx context.Context, lines []metrics.Metric) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()

		for i, m := range lines {
			if i%100 == 0 && ctx.Err() != nil {
				done <- ctx.Err()
				return
			}

			value, err := json.Marshal(m)
			if err != nil {
				done <- fmt.Errorf("failed to encode line: %w", err)
				return
			}
			if err := wb.Set(s.makeKey(m), value); err != nil {
				done <- fmt.Errorf("failed to write line: %w", err)
				return
			}
		}
		done <- wb.Flush()
	}()

	select {
	case err := <-done:
		return translate(err)
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

// Query retrieves lines matching the request, oldest first
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]metrics.Metric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		results []metrics.Metric
		err     error
	}
	done := make(chan queryResult, 1)

	// seq breaks ties between lines written with the same timestamp.
	type storedLine struct {
		m   metrics.Metric
		seq uint64
	}

	go func() {
		var found []storedLine
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100

			it := txn.NewIterator(opts)
			defer it.Close()

			// Keys are grouped by series, so the whole range is scanned and
			// sorted by time afterwards.
			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}

				key := it.Item().Key()
				ts, ok := keyTime(key)
				if !ok || ts.Before(req.Start) || (!req.End.IsZero() && ts.After(req.End)) {
					continue
				}
				seq := keySeq(key)

				err := it.Item().Value(func(val []byte) error {
					var m metrics.Metric
					if err := json.Unmarshal(val, &m); err != nil {
						return fmt.Errorf("failed to decode line: %w", err)
					}
					if req.Matches(m) {
						found = append(found, storedLine{m: m, seq: seq})
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})

		sort.Slice(found, func(i, j int) bool {
			ti, tj := found[i].m.Timestamp, found[j].m.Timestamp
			if !ti.Equal(tj) {
				return ti.Before(tj)
			}
			return found[i].seq < found[j].seq
		})
		if req.Limit > 0 && len(found) > req.Limit {
			found = found[:req.Limit]
		}

		var results []metrics.Metric
		if len(found) > 0 {
			results = make([]metrics.Metric, len(found))
			for i, l := range found {
				results[i] = l.m
			}
		}
		done <- queryResult{results: results, err: err}
	}()

	select {
	case res := <-done:
		return res.results, translate(res.err)
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// Delete removes lines received before the given time
func (s *Storage) Delete(ctx context.Context, before time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		var keysToDelete [][]byte
		err := s.db.View(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.PrefetchValues = false

			it := txn.NewIterator(iterOpts)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}

				ts, ok := keyTime(it.Item().Key())
				if ok && ts.Before(before) {
					keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
				}
			}
			return nil
		})
		if err != nil {
			done <- err
			return
		}

		// A WriteBatch splits large deletes across transactions.
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()
		for _, key := range keysToDelete {
			if err := wb.Delete(key); err != nil {
				done <- err
				return
			}
		}
		done <- wb.Flush()
	}()

	select {
	case err := <-done:
		return translate(err)
	case <-ctx.Done():
		return fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// Having nothing to reclaim, or running in memory, is not an error.
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return translate(err)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type statsResult struct {
		stats *storage.Stats
		err   error
	}
	done := make(chan statsResult, 1)

	go func() {
		stats := &storage.Stats{ByType: make(map[metrics.MetricType]uint64)}
		series := make(map[uint64]struct{})

		err := s.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()

			var iterCount int
			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}

				key := it.Item().Key()
				if len(key) != keySize {
					continue
				}
				series[binary.BigEndian.Uint64(key[0:8])] = struct{}{}

				err := it.Item().Value(func(val []byte) error {
					var m metrics.Metric
					if err := json.Unmarshal(val, &m); err != nil {
						return err
					}
					stats.Observe(m)
					return nil
				})
				if err != nil {
					return fmt.Errorf("failed to decode line: %w", err)
				}
			}
			return nil
		})

		stats.TotalSeries = uint64(len(series))
		if err == nil {
			lsmSize, vlogSize := s.db.Size()
			stats.SizeBytes = uint64(lsmSize + vlogSize)
		}
		done <- statsResult{stats: stats, err: err}
	}()

	select {
	case res := <-done:
		return res.stats, translate(res.err)
	case <-ctx.Done():
		return nil, fmt.Errorf("stats operation cancelled: %w", ctx.Err())
	}
}

// makeKey creates a key sortable by series then time. The sequence suffix
// keeps lines with the same name and timestamp from overwriting each other.
func (s *Storage) makeKey(m metrics.Metric) []byte {
	key := make([]byte, keySize)
	binary.BigEndian.PutUint64(key[0:8], xxhash.Sum64String(m.SeriesKey()))
	binary.BigEndian.PutUint64(key[8:16], uint64(m.Timestamp.UnixNano()))
	binary.BigEndian.PutUint64(key[16:24], s.seq.Add(1))
	return key
}

// keyTime extracts the timestamp from a storage key
func keyTime(key []byte) (time.Time, bool) {
	if len(key) != keySize {
		return time.Time{}, false
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[8:16]))), true
}

// keySeq extracts the write sequence number from a storage key
func keySeq(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[16:24])
}

func translate(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%w: %v", storage.ErrClosed, err)
	}
	return err
}
