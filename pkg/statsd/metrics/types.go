package metrics

import (
	"errors"
	"time"
)

// MetricType is the StatsD type suffix that follows the pipe on the wire.
type MetricType string

const (
	CounterType MetricType = "c"
	TimerType   MetricType = "ms"
	GaugeType   MetricType = "g"
)

var (
	ErrMalformedLine = errors.New("malformed statsd line")
	ErrUnknownType   = errors.New("unknown statsd metric type")
)

// Metric is a single decoded StatsD line.
// Timestamp is never part of the wire format; receivers stamp it on arrival.
type Metric struct {
	Name      string     `json:"name"`
	Type      MetricType `json:"type"`
	Value     float64    `json:"value"`
	Timestamp time.Time  `json:"timestamp"`
}

// Valid reports whether t is one of the supported wire types.
func (t MetricType) Valid() bool {
	switch t {
	case CounterType, TimerType, GaugeType:
		return true
	}
	return false
}

// SeriesKey identifies a metric series independent of its value.
func (m Metric) SeriesKey() string {
	return m.Name + "|" + string(m.Type)
}
