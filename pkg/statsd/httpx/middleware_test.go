package httpx

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// mockRecorder implements Recorder for testing
type mockRecorder struct {
	mu      sync.Mutex
	counts  map[string]int
	timings map[string][]time.Duration
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{
		counts:  make(map[string]int),
		timings: make(map[string][]time.Duration),
	}
}

func (m *mockRecorder) Increment(bucket string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[bucket]++
}

func (m *mockRecorder) Timing(bucket string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings[bucket] = append(m.timings[bucket], d)
}

func TestMiddleware_BasicRequest(t *testing.T) {
	rec := newMockRecorder()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrapped := Middleware(rec, "web")(handler)

	req := httptest.NewRequest("GET", "/api/users", nil)
	resp := httptest.NewRecorder()
	wrapped.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.Code)
	}
	if got := rec.counts["web.requests.get.200"]; got != 1 {
		t.Errorf("Expected 1 request counter, got %d. Counters: %v", got, rec.counts)
	}
	if got := len(rec.timings["web.request_duration.get.api.users"]); got != 1 {
		t.Errorf("Expected 1 timing, got %d. Timings: %v", got, rec.timings)
	}
}

func TestMiddleware_ErrorStatus(t *testing.T) {
	rec := newMockRecorder()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Error"))
	})

	wrapped := Middleware(rec, "web")(handler)

	req := httptest.NewRequest("POST", "/api/create", nil)
	resp := httptest.NewRecorder()
	wrapped.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", resp.Code)
	}
	if got := rec.counts["web.requests.post.500"]; got != 1 {
		t.Errorf("Expected 1 counter with status 500, got %d. Counters: %v", got, rec.counts)
	}
}

func TestMiddleware_MultipleRequests(t *testing.T) {
	rec := newMockRecorder()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := Middleware(rec, "web")(handler)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/health", nil)
		wrapped.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := rec.counts["web.requests.get.200"]; got != 3 {
		t.Errorf("Expected 3 increments, got %d", got)
	}
	if got := len(rec.timings["web.request_duration.get.health"]); got != 3 {
		t.Errorf("Expected 3 timings, got %d", got)
	}
}

func TestMiddleware_DefaultPrefix(t *testing.T) {
	rec := newMockRecorder()
	wrapped := Middleware(rec, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if got := rec.counts["http.requests.get.200"]; got != 1 {
		t.Errorf("Expected default prefix counter, got %v", rec.counts)
	}
	if got := len(rec.timings["http.request_duration.get.root"]); got != 1 {
		t.Errorf("Expected root timing, got %v", rec.timings)
	}
}

func TestMiddleware_TimingMeasuresHandler(t *testing.T) {
	rec := newMockRecorder()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(15 * time.Millisecond)
	})

	Middleware(rec, "web")(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/slow", nil))

	timings := rec.timings["web.request_duration.get.slow"]
	if len(timings) != 1 {
		t.Fatalf("Expected 1 timing, got %d", len(timings))
	}
	if timings[0] < 15*time.Millisecond {
		t.Errorf("Expected timing >= 15ms, got %v", timings[0])
	}
}

func TestResponseWriter_CapturesStatusCode(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.statusCode != http.StatusNotFound {
		t.Errorf("Expected status code 404, got %d", rw.statusCode)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected underlying recorder to have status 404, got %d", rec.Code)
	}
}

func TestResponseWriter_DefaultStatusOK(t *testing.T) {
	rec := newMockRecorder()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Don't call WriteHeader, just write body
		w.Write([]byte("OK"))
	})

	Middleware(rec, "web")(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))

	if got := rec.counts["web.requests.get.200"]; got != 1 {
		t.Errorf("Expected counter with default status 200, got %v", rec.counts)
	}
}

func TestBucketPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "root"},
		{"", "root"},
		{"/api/users", "api.users"},
		{"/api/users/123", "api.users.id"},
		{"/posts/456/comments", "posts.id.comments"},
		{"/a/1/2", "a.id.id"},
		{"/api/users/550e8400-e29b-41d4-a716-446655440000", "api.users.id"},
		{"/v2/items", "v2.items"},
		{"/weird:path|x/file.json", "weird_path_x.file_json"},
		{"//double//slash/", "double.slash"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := bucketPath(tt.path); got != tt.want {
				t.Errorf("bucketPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
