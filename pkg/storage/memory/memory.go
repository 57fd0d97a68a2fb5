package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/tinystatsd/pkg/statsd/metrics"
	"github.com/nicktill/tinystatsd/pkg/storage"
)

// Storage stores lines in memory. Data is lost on restart.
// When more than maxLines are stored the oldest are dropped.
type Storage struct {
	lines    []metrics.Metric
	maxLines int
	closed   bool
	mu       sync.RWMutex
}

var _ storage.Storage = (*Storage)(nil)

// New creates an in-memory storage backend. maxLines <= 0 means unbounded.
func New(maxLines int) *Storage {
	capacity := 1024
	if maxLines > 0 && maxLines < capacity {
		capacity = maxLines
	}
	return &Storage{
		lines:    make([]metrics.Metric, 0, capacity),
		maxLines: maxLines,
	}
}

// Write stores lines in memory
func (s *Storage) Write(ctx context.Context, lines []metrics.Metric) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	s.lines = append(s.lines, lines...)
	if s.maxLines > 0 && len(s.lines) > s.maxLines {
		drop := len(s.lines) - s.maxLines
		s.lines = append(s.lines[:0], s.lines[drop:]...)
	}
	return nil
}

// Query retrieves lines matching the request
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]metrics.Metric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	var results []metrics.Metric
	for _, m := range s.lines {
		if !req.Matches(m) {
			continue
		}
		results = append(results, m)
	}

	// Receivers stamp lines in arrival order, but writers can interleave.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})

	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// Delete removes lines received before the given time
func (s *Storage) Delete(ctx context.Context, before time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	filtered := make([]metrics.Metric, 0, len(s.lines))
	for _, m := range s.lines {
		if !m.Timestamp.Before(before) {
			filtered = append(filtered, m)
		}
	}
	s.lines = filtered
	return nil
}

// Close releases the stored lines. Later calls return storage.ErrClosed.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.lines = nil
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	stats := &storage.Stats{ByType: make(map[metrics.MetricType]uint64)}
	series := make(map[uint64]struct{})
	for _, m := range s.lines {
		stats.Observe(m)
		series[xxhash.Sum64String(m.SeriesKey())] = struct{}{}
	}
	stats.TotalSeries = uint64(len(series))

	// Rough size estimate (each line ~64 bytes)
	stats.SizeBytes = uint64(len(s.lines)) * 64

	return stats, nil
}
