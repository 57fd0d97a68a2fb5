package main

import (
	"errors"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinystatsd/pkg/httpx"
	"github.com/nicktill/tinystatsd/pkg/statsd"
)

var errLookupFailed = errors.New("user lookup failed")

// app holds the example's handlers and the client they record to
type app struct {
	metrics statsd.StatsD
	sends   *statsd.SendStats
	sinkURL string
	logger  *zap.Logger
	start   time.Time

	activeRequests atomic.Int64
	httpClient     *http.Client

	// failRate is the share of /api/users requests that fail
	failRate float32
	sleep    func(time.Duration)
}

func newApp(metrics statsd.StatsD, sends *statsd.SendStats, sinkURL string, logger *zap.Logger) *app {
	return &app{
		metrics:    metrics,
		sends:      sends,
		sinkURL:    sinkURL,
		logger:     logger,
		start:      time.Now(),
		httpClient: &http.Client{Timeout: 2 * time.Second},
		failRate:   0.02,
		sleep:      time.Sleep,
	}
}

func (a *app) routes(mux *http.ServeMux) {
	// The middleware already records request counts and durations;
	// handlers add business metrics on top.
	mux.HandleFunc("/api/users", a.handleUsers)
	mux.HandleFunc("/api/orders", a.handleOrders)
	mux.HandleFunc("/api/products", a.handleProducts)
	mux.HandleFunc("/api/stats", a.handleStats)
	mux.HandleFunc("/health", a.handleHealth)
}

// track counts the request as in flight and publishes the gauge
func (a *app) track() func() {
	n := a.activeRequests.Add(1)
	a.metrics.Gauge("example.active_requests", int32(n))
	return func() {
		n := a.activeRequests.Add(-1)
		a.metrics.Gauge("example.active_requests", int32(n))
	}
}

func (a *app) handleUsers(w http.ResponseWriter, r *http.Request) {
	defer a.track()()

	err := a.metrics.Timer("example.db.users.lookup", func() error {
		a.sleep(time.Duration(50+rand.Intn(50)) * time.Millisecond)
		if rand.Float32() < a.failRate {
			return errLookupFailed
		}
		return nil
	})
	if err != nil {
		a.metrics.Increment("example.errors.users")
		a.logger.Warn("users request failed", zap.Error(err))
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, map[string]any{
		"users": []map[string]any{{"id": 1, "name": "Alice"}, {"id": 2, "name": "Bob"}},
	})
}

func (a *app) handleOrders(w http.ResponseWriter, r *http.Request) {
	defer a.track()()

	a.metrics.Timer("example.db.orders.lookup", func() error {
		a.sleep(time.Duration(80+rand.Intn(40)) * time.Millisecond)
		return nil
	})
	a.metrics.Increment("example.orders.viewed")

	httpx.RespondJSON(w, http.StatusOK, map[string]any{
		"orders": []map[string]any{{"id": 1, "total": 99.99}, {"id": 2, "total": 149.99}},
	})
}

func (a *app) handleProducts(w http.ResponseWriter, r *http.Request) {
	defer a.track()()

	a.sleep(time.Duration(30+rand.Intn(30)) * time.Millisecond)

	httpx.RespondJSON(w, http.StatusOK, map[string]any{
		"products": []map[string]any{{"id": 1, "name": "Widget"}, {"id": 2, "name": "Gadget"}},
	})
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"uptime": time.Since(a.start).Round(time.Second).String(),
	})
}
