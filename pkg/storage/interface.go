package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/tinystatsd/pkg/statsd/metrics"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage closed")

// Storage defines the interface for received-line storage backends.
// Implementations: memory (default), badger (persistent, --data-dir)
type Storage interface {
	// Write stores decoded lines
	Write(ctx context.Context, lines []metrics.Metric) error

	// Query retrieves lines matching the request, oldest first
	Query(ctx context.Context, req QueryRequest) ([]metrics.Metric, error)

	// Delete removes lines received before the given time
	Delete(ctx context.Context, before time.Time) error

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// QueryRequest specifies which lines to retrieve
type QueryRequest struct {
	// Time range, inclusive. A zero End means no upper bound.
	Start time.Time
	End   time.Time

	// Filter by metric name (optional)
	Names []string

	// Filter by wire type (optional)
	Types []metrics.MetricType

	// Limit number of results (0 = no limit)
	Limit int
}

// Matches reports whether m passes every filter in req.
func (req QueryRequest) Matches(m metrics.Metric) bool {
	if m.Timestamp.Before(req.Start) {
		return false
	}
	if !req.End.IsZero() && m.Timestamp.After(req.End) {
		return false
	}

	if len(req.Names) > 0 && !contains(req.Names, m.Name) {
		return false
	}
	if len(req.Types) > 0 && !contains(req.Types, m.Type) {
		return false
	}

	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Stats provides storage health and usage info
type Stats struct {
	TotalLines  uint64                        `json:"total_lines"`
	TotalSeries uint64                        `json:"total_series"`
	ByType      map[metrics.MetricType]uint64 `json:"by_type"`
	SizeBytes   uint64                        `json:"size_bytes"`
	Oldest      time.Time                     `json:"oldest"`
	Newest      time.Time                     `json:"newest"`
}

// Observe folds one stored line into s.
func (s *Stats) Observe(m metrics.Metric) {
	if s.ByType == nil {
		s.ByType = make(map[metrics.MetricType]uint64)
	}
	s.TotalLines++
	s.ByType[m.Type]++

	if s.Oldest.IsZero() || m.Timestamp.Before(s.Oldest) {
		s.Oldest = m.Timestamp
	}
	if s.Newest.IsZero() || m.Timestamp.After(s.Newest) {
		s.Newest = m.Timestamp
	}
}
