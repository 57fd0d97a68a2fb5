package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// IngestPath is the path on the sink that accepts lines over HTTP.
const IngestPath = "/v1/lines"

// HTTPSocket POSTs each line as text/plain to http://host:port/v1/lines.
// It is meant for networks where UDP to the sink is blocked.
type HTTPSocket struct {
	client *http.Client
	scheme string
}

// NewHTTP creates an HTTP socket with a bounded request timeout.
func NewHTTP(timeout time.Duration) *HTTPSocket {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSocket{
		client: &http.Client{
			Timeout: timeout,
		},
		scheme: "http",
	}
}

// Write implements Socket.
func (s *HTTPSocket) Write(host string, port int, data string) (bool, error) {
	endpoint := url.URL{
		Scheme: s.scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   IngestPath,
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, endpoint.String(), strings.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnableToCreateSocket, err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return false, fmt.Errorf("%w %s: %v", ErrFailedToResolveAddress, endpoint.Host, err)
		}
		return false, fmt.Errorf("%w to %s: %v", ErrFailedToSendData, endpoint.Host, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("%w to %s: status %d", ErrFailedToSendData, endpoint.Host, resp.StatusCode)
	}

	return true, nil
}
