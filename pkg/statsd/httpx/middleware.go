package httpx

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Recorder is the part of a StatsD client the middleware needs.
// *statsd.Client satisfies it.
type Recorder interface {
	Increment(bucket string)
	Timing(bucket string, d time.Duration)
}

// Middleware returns HTTP middleware that records, per request:
//   - <prefix>.requests.<method>.<status> (counter)
//   - <prefix>.request_duration.<method>.<path> (timer)
//
// Usage:
//
//	client, _ := statsd.New(statsd.ClientConfig{...})
//	defer client.Dispose()
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/", handler)
//	handler := httpx.Middleware(client, "web")(mux)
//	http.ListenAndServe(":8080", handler)
func Middleware(rec Recorder, prefix string) func(http.Handler) http.Handler {
	if prefix == "" {
		prefix = "http"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap ResponseWriter to capture status code
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			method := sanitizeSegment(strings.ToLower(r.Method))

			rec.Increment(prefix + ".requests." + method + "." + strconv.Itoa(rw.statusCode))
			rec.Timing(prefix+".request_duration."+method+"."+bucketPath(r.URL.Path), duration)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

var (
	numericIDRe = regexp.MustCompile(`/\d+(/|$)`)
	uuidRe      = regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}(/|$)`)
	unsafeRe    = regexp.MustCompile(`[^a-zA-Z0-9_\-]+`)
)

// normalizePath replaces IDs so each route maps to one bucket.
// Examples:
//   - /api/users/123 → /api/users/id
//   - /posts/456/comments → /posts/id/comments
func normalizePath(path string) string {
	path = uuidRe.ReplaceAllString(path, "/id$1")
	// Run twice so adjacent IDs ("/1/2") are both replaced.
	path = numericIDRe.ReplaceAllString(path, "/id$1")
	path = numericIDRe.ReplaceAllString(path, "/id$1")
	return path
}

// bucketPath turns a URL path into dot separated bucket segments.
func bucketPath(path string) string {
	path = normalizePath(path)

	parts := strings.Split(strings.Trim(path, "/"), "/")
	segments := parts[:0]
	for _, p := range parts {
		if s := sanitizeSegment(p); s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return "root"
	}
	return strings.Join(segments, ".")
}

// sanitizeSegment strips characters that would break the line format
// (":", "|", ".", whitespace).
func sanitizeSegment(s string) string {
	return strings.Trim(unsafeRe.ReplaceAllString(s, "_"), "_")
}
