// Package receiver is a development StatsD sink. It accepts lines over UDP
// (and HTTP), stores them, streams them to websocket clients and exposes
// them through a small JSON API.
package receiver

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinystatsd/pkg/config"
	"github.com/nicktill/tinystatsd/pkg/statsd/metrics"
	"github.com/nicktill/tinystatsd/pkg/storage"
)

// Config wires a Receiver's collaborators. Store is required.
type Config struct {
	Store     storage.Storage
	Hub       *Hub
	Telemetry *Telemetry
	Logger    *zap.Logger
	MaxSeries int
}

// Receiver decodes StatsD payloads and hands the lines to storage and the
// live-tail hub. It is shared by the UDP listener and the HTTP ingest
// endpoint.
type Receiver struct {
	store     storage.Storage
	hub       *Hub
	telemetry *Telemetry
	tracker   *SeriesTracker
	logger    *zap.Logger

	received atomic.Uint64
	rejected atomic.Uint64

	now func() time.Time
}

// IngestResult summarizes one payload.
type IngestResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// maxReportedErrors caps IngestResult.Errors
const maxReportedErrors = 10

// New creates a receiver
func New(cfg Config) *Receiver {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	telemetry := cfg.Telemetry
	if telemetry == nil {
		telemetry = NewTelemetry(cfg.Hub)
	}
	return &Receiver{
		store:     cfg.Store,
		hub:       cfg.Hub,
		telemetry: telemetry,
		tracker:   NewSeriesTracker(cfg.MaxSeries),
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest decodes a newline separated payload, stamps every line with the
// receive time and stores the valid ones. Bad lines are counted and
// skipped; they never fail the rest of the payload.
func (r *Receiver) Ingest(ctx context.Context, payload []byte) IngestResult {
	r.telemetry.datagrams.Inc()

	now := r.now()
	var res IngestResult
	accepted := make([]metrics.Metric, 0, bytes.Count(payload, []byte{'\n'})+1)
	var opened []metrics.Metric

	for _, raw := range bytes.Split(payload, []byte{'\n'}) {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}

		m, err := metrics.Parse(string(raw))
		if err == nil {
			err = ValidateLine(m)
		}
		if err == nil {
			var isNew bool
			isNew, err = r.tracker.admit(m)
			if isNew {
				opened = append(opened, m)
			}
		}
		if err != nil {
			r.reject(&res, reasonFor(err), err)
			continue
		}

		m.Timestamp = now
		accepted = append(accepted, m)
	}

	if len(accepted) == 0 {
		return res
	}

	writeCtx, cancel := context.WithTimeout(ctx, config.StorageWriteTimeout)
	defer cancel()
	if err := r.store.Write(writeCtx, accepted); err != nil {
		r.logger.Error("failed to store lines", zap.Int("lines", len(accepted)), zap.Error(err))
		for _, m := range opened {
			r.tracker.Forget(m)
		}
		for range accepted {
			r.reject(&res, reasonStorage, nil)
		}
		res.Errors = appendCapped(res.Errors, err.Error())
		return res
	}

	for _, m := range accepted {
		r.telemetry.received.WithLabelValues(string(m.Type)).Inc()
	}
	r.received.Add(uint64(len(accepted)))
	res.Accepted = len(accepted)

	if r.hub != nil && r.hub.HasClients() {
		r.hub.Broadcast(accepted)
	}

	return res
}

func (r *Receiver) reject(res *IngestResult, reason string, err error) {
	res.Rejected++
	r.rejected.Add(1)
	r.telemetry.rejected.WithLabelValues(reason).Inc()
	if err != nil {
		res.Errors = appendCapped(res.Errors, err.Error())
		r.logger.Debug("rejected line", zap.String("reason", reason), zap.Error(err))
	}
}

func appendCapped(errs []string, msg string) []string {
	if len(errs) >= maxReportedErrors {
		return errs
	}
	return append(errs, msg)
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, metrics.ErrUnknownType):
		return reasonUnknownType
	case errors.Is(err, ErrCardinalityLimit):
		return reasonCardinality
	case errors.Is(err, ErrNameEmpty), errors.Is(err, ErrNameTooLong), errors.Is(err, ErrNameInvalid):
		return reasonInvalidName
	default:
		return reasonMalformed
	}
}

// Received returns the number of lines stored since start.
func (r *Receiver) Received() uint64 { return r.received.Load() }

// Rejected returns the number of lines dropped since start.
func (r *Receiver) Rejected() uint64 { return r.rejected.Load() }

// Cardinality returns the series tracker's statistics.
func (r *Receiver) Cardinality() CardinalityStats { return r.tracker.Stats() }

// Telemetry returns the receiver's Prometheus instrumentation.
func (r *Receiver) Telemetry() *Telemetry { return r.telemetry }
