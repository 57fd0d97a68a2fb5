package receiver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/tinystatsd/pkg/statsd/metrics"
)

// DefaultMaxSeries bounds the number of distinct name/type pairs the sink
// keeps track of.
const DefaultMaxSeries = 100000

// ErrCardinalityLimit is returned when a new series would exceed the limit
var ErrCardinalityLimit = errors.New("cardinality limit exceeded")

const (
	// Forget series not seen in the last 24 hours
	seriesRetentionPeriod = 24 * time.Hour

	// Run cleanup at most once an hour
	cleanupInterval = 1 * time.Hour
)

// SeriesTracker counts unique series so that a client emitting random
// bucket names cannot grow the sink without bound.
// Series are keyed by the xxhash of name and type.
type SeriesTracker struct {
	mu sync.Mutex

	maxSeries   int
	seen        map[uint64]time.Time
	perType     map[metrics.MetricType]int
	lastCleanup time.Time
	now         func() time.Time
}

// NewSeriesTracker creates a tracker; maxSeries <= 0 means DefaultMaxSeries.
func NewSeriesTracker(maxSeries int) *SeriesTracker {
	if maxSeries <= 0 {
		maxSeries = DefaultMaxSeries
	}
	return &SeriesTracker{
		maxSeries:   maxSeries,
		seen:        make(map[uint64]time.Time),
		perType:     make(map[metrics.MetricType]int),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Admit records m as seen and reports ErrCardinalityLimit if it is a new
// series and the tracker is full. Known series are always admitted.
func (c *SeriesTracker) Admit(m metrics.Metric) error {
	_, err := c.admit(m)
	return err
}

// admit is Admit that also reports whether m opened a new series.
func (c *SeriesTracker) admit(m metrics.Metric) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.cleanupLocked(now)

	key := xxhash.Sum64String(m.SeriesKey())
	if _, ok := c.seen[key]; ok {
		c.seen[key] = now
		return false, nil
	}

	if len(c.seen) >= c.maxSeries {
		return false, fmt.Errorf("%w (max %d unique series): %q", ErrCardinalityLimit, c.maxSeries, m.Name)
	}

	c.seen[key] = now
	c.perType[m.Type]++
	return true, nil
}

// Forget releases the series of m. Ingest uses it to hand back slots
// taken by lines that never reached storage.
func (c *SeriesTracker) Forget(m metrics.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := xxhash.Sum64String(m.SeriesKey())
	if _, ok := c.seen[key]; !ok {
		return
	}
	delete(c.seen, key)
	if c.perType[m.Type] > 0 {
		c.perType[m.Type]--
	}
}

// cleanupLocked drops series not seen within seriesRetentionPeriod.
// MUST be called with lock held
func (c *SeriesTracker) cleanupLocked(now time.Time) {
	if now.Sub(c.lastCleanup) < cleanupInterval {
		return
	}
	c.lastCleanup = now

	cutoff := now.Add(-seriesRetentionPeriod)
	for key, lastSeen := range c.seen {
		if lastSeen.Before(cutoff) {
			delete(c.seen, key)
		}
	}

	// Per-type counts are informational; they are not decremented on
	// cleanup and are reset when the tracker empties.
	if len(c.seen) == 0 {
		c.perType = make(map[metrics.MetricType]int)
	}
}

// Stats returns current cardinality statistics
func (c *SeriesTracker) Stats() CardinalityStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	perType := make(map[metrics.MetricType]int, len(c.perType))
	for k, v := range c.perType {
		perType[k] = v
	}

	return CardinalityStats{
		TotalSeries:     len(c.seen),
		SeriesLimit:     c.maxSeries,
		UtilizationPct:  float64(len(c.seen)) / float64(c.maxSeries) * 100,
		NewSeriesByType: perType,
	}
}

// CardinalityStats provides cardinality usage information
type CardinalityStats struct {
	TotalSeries     int                        `json:"total_series"`
	SeriesLimit     int                        `json:"series_limit"`
	UtilizationPct  float64                    `json:"utilization_percent"`
	NewSeriesByType map[metrics.MetricType]int `json:"new_series_by_type"`
}
