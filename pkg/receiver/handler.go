package receiver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinystatsd/pkg/config"
	"github.com/nicktill/tinystatsd/pkg/httpx"
	"github.com/nicktill/tinystatsd/pkg/statsd/metrics"
	"github.com/nicktill/tinystatsd/pkg/statsd/transport"
	"github.com/nicktill/tinystatsd/pkg/storage"
)

// Handler serves the sink's HTTP API
type Handler struct {
	recv  *Receiver
	store storage.Storage
	hub   *Hub
	start time.Time
}

// NewHandler creates the HTTP API for recv
func NewHandler(recv *Receiver) *Handler {
	return &Handler{
		recv:  recv,
		store: recv.store,
		hub:   recv.hub,
		start: time.Now(),
	}
}

// Router returns the API routes:
//
//	POST   /v1/lines   ingest newline separated StatsD lines
//	GET    /v1/lines   query stored lines (name, type, since, limit)
//	DELETE /v1/lines   delete stored lines (before, default now)
//	GET    /v1/stats   storage, cardinality and listener counters
//	GET    /v1/stream  websocket live tail
//	GET    /metrics    Prometheus metrics for the sink itself
//	GET    /health     liveness
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc(transport.IngestPath, h.HandleIngest).Methods(http.MethodPost)
	r.HandleFunc(transport.IngestPath, h.HandleQuery).Methods(http.MethodGet)
	r.HandleFunc(transport.IngestPath, h.HandleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/v1/stats", h.HandleStats).Methods(http.MethodGet)
	if h.hub != nil {
		r.Handle("/v1/stream", h.hub).Methods(http.MethodGet)
	}
	r.Handle("/metrics", h.recv.telemetry.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)

	return r
}

// HandleIngest accepts a text/plain body of StatsD lines
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if len(body) > MaxBodyBytes {
		httpx.RespondErrorString(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", MaxBodyBytes))
		return
	}
	if bytes.Count(body, []byte{'\n'}) >= MaxLinesPerRequest {
		httpx.RespondError(w, http.StatusBadRequest, ErrTooManyLines)
		return
	}

	res := h.recv.Ingest(r.Context(), body)
	if res.Accepted == 0 && res.Rejected > 0 {
		httpx.RespondJSON(w, http.StatusBadRequest, res)
		return
	}
	httpx.RespondJSON(w, http.StatusAccepted, res)
}

// QueryResponse is the body of GET /v1/lines
type QueryResponse struct {
	Lines []LineView `json:"lines"`
	Count int        `json:"count"`
}

// LineView is one stored line as returned by the API
type LineView struct {
	Line      string             `json:"line"`
	Name      string             `json:"name"`
	Type      metrics.MetricType `json:"type"`
	Value     float64            `json:"value"`
	Timestamp time.Time          `json:"timestamp"`
}

// HandleQuery returns stored lines, oldest first
// parseSeriesFilter fills req's name and type filters from repeated
// name= and type= parameters.
func parseSeriesFilter(q url.Values, req *storage.QueryRequest) error {
	if names := q["name"]; len(names) > 0 {
		req.Names = names
	}
	for _, typ := range q["type"] {
		mt := metrics.MetricType(typ)
		if !mt.Valid() {
			return fmt.Errorf("unknown type %q (want c, ms or g)", typ)
		}
		req.Types = append(req.Types, mt)
	}
	return nil
}

func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := storage.QueryRequest{
		Limit: config.QueryDefaultLimit,
	}

	if err := parseSeriesFilter(q, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if since := q.Get("since"); since != "" {
		start, err := parseSince(since, time.Now())
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		req.Start = start
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			httpx.RespondErrorString(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		req.Limit = min(n, config.QueryMaxLimit)
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	results, err := h.store.Query(ctx, req)
	if err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}

	resp := QueryResponse{Lines: make([]LineView, 0, len(results)), Count: len(results)}
	for _, m := range results {
		resp.Lines = append(resp.Lines, LineView{
			Line:      metrics.Format(m),
			Name:      m.Name,
			Type:      m.Type,
			Value:     m.Value,
			Timestamp: m.Timestamp,
		})
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// HandleDelete removes stored lines received before ?before= (default now)
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	before := time.Now()
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, "before must be RFC3339")
			return
		}
		before = t
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	if err := h.store.Delete(ctx, before); err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StatsResponse is the body of GET /v1/stats
type StatsResponse struct {
	Storage       *storage.Stats   `json:"storage"`
	Cardinality   CardinalityStats `json:"cardinality"`
	Received      uint64           `json:"received"`
	Rejected      uint64           `json:"rejected"`
	StreamClients int              `json:"stream_clients"`
	Uptime        string           `json:"uptime"`
}

// HandleStats returns storage and receiver statistics
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
	defer cancel()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		httpx.RespondError(w, statusFor(err), err)
		return
	}

	resp := StatsResponse{
		Storage:     stats,
		Cardinality: h.recv.Cardinality(),
		Received:    h.recv.Received(),
		Rejected:    h.recv.Rejected(),
		Uptime:      time.Since(h.start).Round(time.Second).String(),
	}
	if h.hub != nil {
		resp.StreamClients = h.hub.ClientCount()
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// HandleHealth reports liveness
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseSince accepts a Go duration ("15m", relative to now) or an RFC3339
// timestamp.
func parseSince(raw string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		if d < 0 {
			d = -d
		}
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("since must be a duration like 15m or an RFC3339 time, got %q", strings.TrimSpace(raw))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
