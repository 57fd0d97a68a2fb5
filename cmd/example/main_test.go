package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinystatsd/pkg/config"
	"github.com/nicktill/tinystatsd/pkg/statsd"
	"github.com/nicktill/tinystatsd/pkg/statsd/statsdtest"
	"github.com/nicktill/tinystatsd/pkg/statsd/transport"
)

func newTestApp(sinkURL string) (*app, *statsdtest.MockStatsD) {
	mock := &statsdtest.MockStatsD{}
	a := newApp(mock, &statsd.SendStats{}, sinkURL, zap.NewNop())
	a.sleep = func(time.Duration) {}
	return a, mock
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if opts.statsdAddr != "127.0.0.1:8125" {
		t.Errorf("Expected default statsd address, got %q", opts.statsdAddr)
	}
	if opts.interval != config.DefaultInterval {
		t.Errorf("Expected default interval, got %v", opts.interval)
	}

	opts, err = parseFlags([]string{"--statsd", "metrics.local:9125", "--stdout", "--interval", "250ms"})
	if err != nil {
		t.Fatal(err)
	}
	if opts.statsdAddr != "metrics.local:9125" || !opts.stdout || opts.interval != 250*time.Millisecond {
		t.Errorf("Flags not applied: %+v", opts)
	}
}

func TestSocketFor(t *testing.T) {
	if _, ok := socketFor(options{}).(*transport.UDPSocket); !ok {
		t.Error("Expected UDP socket by default")
	}
	if _, ok := socketFor(options{stdout: true}).(*transport.WriterSocket); !ok {
		t.Error("Expected writer socket for --stdout")
	}
	if _, ok := socketFor(options{overHTTP: true}).(*transport.HTTPSocket); !ok {
		t.Error("Expected HTTP socket for --http-transport")
	}
}

func TestNewClient(t *testing.T) {
	opts := options{statsdAddr: "127.0.0.1:8125", interval: time.Second, stdout: true}
	client, err := newClient(opts, zap.NewNop(), &statsd.SendStats{})
	if err != nil {
		t.Fatalf("newClient failed: %v", err)
	}
	client.Dispose()

	for _, addr := range []string{"no-port", "host:abc", "host:0"} {
		opts.statsdAddr = addr
		if c, err := newClient(opts, zap.NewNop(), &statsd.SendStats{}); err == nil {
			c.Dispose()
			t.Errorf("Expected error for %q", addr)
		}
	}
}

func TestHandleUsers(t *testing.T) {
	a, mock := newTestApp("")

	w := httptest.NewRecorder()
	a.handleUsers(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if mock.TimerBucket != "example.db.users.lookup" {
		t.Errorf("Expected users lookup timer, got %q", mock.TimerBucket)
	}
	// In-flight gauge goes up then back down
	if len(mock.Gauges) != 2 || mock.Gauges[0].Value != 1 || mock.Gauges[1].Value != 0 {
		t.Errorf("Unexpected active request gauges: %+v", mock.Gauges)
	}
}

func TestHandleUsers_Failure(t *testing.T) {
	a, mock := newTestApp("")
	a.failRate = 1

	w := httptest.NewRecorder()
	a.handleUsers(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	if mock.IncrementCount("example.errors.users") != 1 {
		t.Errorf("Expected one error increment, got %v", mock.Increments)
	}
}

func TestHandleOrders(t *testing.T) {
	a, mock := newTestApp("")

	w := httptest.NewRecorder()
	a.handleOrders(w, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if mock.IncrementCount("example.orders.viewed") != 1 {
		t.Errorf("Expected orders.viewed increment, got %v", mock.Increments)
	}
}

func TestHandleStats(t *testing.T) {
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stats" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"received": 12, "rejected": 1, "stream_clients": 0}`))
	}))
	defer sink.Close()

	a, _ := newTestApp(sink.URL)

	w := httptest.NewRecorder()
	a.handleStats(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	var resp statsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Sink == nil || resp.Sink.Received != 12 || resp.Sink.Rejected != 1 {
		t.Errorf("Unexpected sink stats: %+v", resp)
	}
}

func TestHandleStats_SinkDown(t *testing.T) {
	a, _ := newTestApp("http://127.0.0.1:1")

	w := httptest.NewRecorder()
	a.handleStats(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	var resp statsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Sink != nil || resp.SinkError == "" {
		t.Errorf("Expected sink error, got %+v", resp)
	}
}

func TestRunJob(t *testing.T) {
	a, mock := newTestApp("")
	a.runJob()

	if !mock.TimerCalled || mock.TimerBucket != "example.jobs.cleanup" {
		t.Errorf("Expected cleanup timer, got %q", mock.TimerBucket)
	}
	if mock.IncrementCount("example.jobs.completed") != 1 {
		t.Errorf("Expected jobs.completed increment")
	}
	if !mock.GaugeCalled || mock.Gauges[0].Metric != "example.queue.depth" {
		t.Errorf("Expected queue depth gauge, got %+v", mock.Gauges)
	}
}

func TestPortSuffix(t *testing.T) {
	tests := map[string]string{
		":3000":        ":3000",
		"0.0.0.0:8080": ":8080",
		"weird":        "weird",
	}
	for in, want := range tests {
		if got := portSuffix(in); got != want {
			t.Errorf("portSuffix(%q) = %q, want %q", in, got, want)
		}
	}
}
