package statsd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nicktill/tinystatsd/pkg/config"
	"github.com/nicktill/tinystatsd/pkg/statsd/batch"
	"github.com/nicktill/tinystatsd/pkg/statsd/metrics"
	"github.com/nicktill/tinystatsd/pkg/statsd/transport"
)

// DefaultInterval is the flush interval used when ClientConfig.Interval is zero.
const DefaultInterval = config.DefaultInterval

// ErrInvalidConfig is returned by New for a config that cannot be used.
var ErrInvalidConfig = errors.New("invalid statsd client config")

// StatsD is the recording surface of a client. *Client and
// statsdtest.MockStatsD both implement it.
type StatsD interface {
	Increment(bucket string)
	Timer(bucket string, work func() error) error
	Gauge(metric string, value int32)
	Dispose()
}

// ClientConfig holds configuration for the StatsD client
type ClientConfig struct {
	Host   string
	Port   int
	Socket transport.Socket

	// Interval is the flush period. Zero selects DefaultInterval (1s);
	// a negative value makes New fail with ErrInvalidConfig. There is no
	// way to disable periodic flushing.
	Interval time.Duration

	// OnSend, if set, is called once per line after each write attempt.
	OnSend SendFunc
}

// Client buffers StatsD lines and flushes them to Socket every Interval.
type Client struct {
	host     string
	port     int
	interval time.Duration
	socket   transport.Socket
	onSend   SendFunc
	batcher  *batch.Batcher
}

var _ StatsD = (*Client)(nil)

// New validates cfg, starts the flush loop and returns the client.
// The loop runs until Dispose is called.
func New(cfg ClientConfig) (*Client, error) {
	if cfg.Socket == nil {
		return nil, fmt.Errorf("%w: socket is required", ErrInvalidConfig)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, cfg.Port)
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("%w: interval must be positive, got %v", ErrInvalidConfig, cfg.Interval)
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.OnSend == nil {
		cfg.OnSend = DiscardSends
	}

	c := &Client{
		host:     cfg.Host,
		port:     cfg.Port,
		interval: cfg.Interval,
		socket:   cfg.Socket,
		onSend:   cfg.OnSend,
	}
	c.batcher = batch.New(c.sendLine, batch.Config{FlushEvery: cfg.Interval})
	c.batcher.Start(context.Background())

	return c, nil
}

// Increment records a single counter hit for bucket.
func (c *Client) Increment(bucket string) {
	c.batcher.Add(metrics.FormatCounter(bucket))
}

// Timer runs work and records how long it took in milliseconds.
// If work returns an error nothing is recorded and the error is returned
// unchanged. A panic in work propagates without recording.
func (c *Client) Timer(bucket string, work func() error) error {
	start := time.Now()
	if err := work(); err != nil {
		return err
	}
	c.Timing(bucket, time.Since(start))
	return nil
}

// Timing records a duration the caller measured.
func (c *Client) Timing(bucket string, d time.Duration) {
	c.batcher.Add(metrics.FormatTimer(bucket, d))
}

// Gauge records the current value of metric.
func (c *Client) Gauge(metric string, value int32) {
	c.batcher.Add(metrics.FormatGauge(metric, value))
}

// Flush sends everything buffered right now on the calling goroutine.
// It also works after Dispose.
func (c *Client) Flush() int {
	return c.batcher.Flush()
}

// Dispose stops the flush loop. Buffered lines are not sent; call Flush
// first if they matter. Dispose never blocks and may be called more than
// once or from inside an OnSend callback.
func (c *Client) Dispose() {
	c.batcher.Stop()
}

// Done is closed once the flush loop has exited after Dispose.
func (c *Client) Done() <-chan struct{} {
	return c.batcher.Done()
}

// Pending returns a copy of the lines waiting for the next flush.
func (c *Client) Pending() []string {
	return c.batcher.Pending()
}

// Host returns the destination host passed to the socket.
func (c *Client) Host() string { return c.host }

// Port returns the destination port passed to the socket.
func (c *Client) Port() int { return c.port }

// Interval returns the effective flush period, after DefaultInterval
// has been applied.
func (c *Client) Interval() time.Duration { return c.interval }

// sendLine writes one line and reports the outcome. Runs under the
// batcher's sender lock.
func (c *Client) sendLine(line string) {
	ok, err := c.socket.Write(c.host, c.port, line)
	if err != nil {
		ok = false
	}
	c.onSend(ok, err)
}
