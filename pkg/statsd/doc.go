/*
Package statsd is a small StatsD client for instrumenting Go applications.

# Quick Start

	package main

	import (
	    "log"
	    "time"

	    "github.com/nicktill/tinystatsd/pkg/statsd"
	    "github.com/nicktill/tinystatsd/pkg/statsd/transport"
	)

	func main() {
	    client, err := statsd.New(statsd.ClientConfig{
	        Host:     "127.0.0.1",
	        Port:     8125,
	        Socket:   transport.NewUDP(),
	        Interval: time.Second,
	    })
	    if err != nil {
	        log.Fatal(err)
	    }
	    defer client.Dispose()

	    client.Increment("app.started")
	}

# Metric Types

Counter, one line per call, never summed on the client:

	client.Increment("api.requests")          // api.requests:1|c

Timer, measured around a function in milliseconds:

	err := client.Timer("db.query", func() error {
	    return db.Ping()
	})                                          // db.query:4.217|ms

If the function returns an error, nothing is recorded and the error is
returned as-is. Use Timing when the duration is already known.

Gauge, a signed 32-bit value sent literally:

	client.Gauge("queue.depth", 127)          // queue.depth:127|g

# Buffering & Flushing

Recording never touches the network. Lines are appended to an in-memory
buffer and a background loop sends them every Interval (default 1s), one
Socket.Write per line, in the order they were recorded.

A flush cycle takes the whole buffer in one swap and sends it while
holding a separate sender lock, so producers are never blocked by a slow
socket and two cycles never interleave their lines.

Delivery is best-effort. There is no retry and nothing is re-buffered
after a failed write.

# Send Callbacks

OnSend is called once per line with the outcome of Socket.Write:

	client, err := statsd.New(statsd.ClientConfig{
	    Host:   "statsd.internal",
	    Port:   8125,
	    Socket: transport.NewUDP(),
	    OnSend: statsd.LogSends(logger),
	})

Failures carry one of transport.ErrUnableToCreateSocket,
transport.ErrFailedToResolveAddress or transport.ErrFailedToSendData;
match them with errors.Is. CountSends and ChainSends cover the other
common cases.

# Shutdown

Dispose stops the flush loop without sending what is still buffered and
without waiting. It is safe to call twice and safe to call from an OnSend
callback. For a final flush:

	client.Dispose()
	client.Flush()

# See Also

  - pkg/statsd/httpx for HTTP middleware
  - pkg/statsd/runtime for Go runtime and host gauges
  - pkg/statsd/statsdtest for test doubles
  - cmd/sink for a local development receiver
*/
package statsd
