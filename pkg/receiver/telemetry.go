package receiver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/tinystatsd/pkg/statsd/metrics"
)

// Rejection reasons used as the "reason" label.
const (
	reasonMalformed   = "malformed"
	reasonUnknownType = "unknown_type"
	reasonInvalidName = "invalid_name"
	reasonCardinality = "cardinality"
	reasonStorage     = "storage"
)

// Telemetry is the sink's own Prometheus instrumentation, served on /metrics.
type Telemetry struct {
	registry *prometheus.Registry

	datagrams prometheus.Counter
	received  *prometheus.CounterVec
	rejected  *prometheus.CounterVec
}

// NewTelemetry registers the sink's collectors on a fresh registry.
// hub may be nil.
func NewTelemetry(hub *Hub) *Telemetry {
	t := &Telemetry{
		registry: prometheus.NewRegistry(),
		datagrams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statsd_sink",
			Name:      "payloads_total",
			Help:      "UDP datagrams and HTTP bodies received.",
		}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statsd_sink",
			Name:      "lines_received_total",
			Help:      "Lines accepted and stored, by StatsD type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statsd_sink",
			Name:      "lines_rejected_total",
			Help:      "Lines dropped, by reason.",
		}, []string{"reason"}),
	}

	t.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		t.datagrams,
		t.received,
		t.rejected,
	)

	if hub != nil {
		t.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "statsd_sink",
			Name:      "stream_clients",
			Help:      "Connected live-tail websocket clients.",
		}, func() float64 { return float64(hub.ClientCount()) }))
	}

	// Pre-create label values so they export as 0 before the first line.
	for _, typ := range []metrics.MetricType{metrics.CounterType, metrics.TimerType, metrics.GaugeType} {
		t.received.WithLabelValues(string(typ))
	}

	return t
}

// Handler serves the registry in the Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}
