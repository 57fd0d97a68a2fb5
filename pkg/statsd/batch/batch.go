package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// SendLineFunc delivers a single line. It is called with the sender lock
// held, once per line, in buffer order.
type SendLineFunc func(line string)

// Config holds configuration for the batcher
type Config struct {
	FlushEvery     time.Duration
	InitialBufSize int
}

// Batcher buffers lines and sends them periodically
type Batcher struct {
	config Config
	send   SendLineFunc
	buf    *Buffer

	// sendMu serializes the send phase of flush cycles so that lines from
	// two cycles are never interleaved.
	sendMu sync.Mutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

// New creates a new batcher
func New(send SendLineFunc, config Config) *Batcher {
	if config.InitialBufSize <= 0 {
		config.InitialBufSize = 64
	}
	return &Batcher{
		config: config,
		send:   send,
		buf:    NewBuffer(config.InitialBufSize),
		done:   make(chan struct{}),
	}
}

// Start marks the batcher running and launches the flush loop.
// Calling Start more than once has no effect.
func (b *Batcher) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.running.Store(true)

	go b.flushLoop()
}

// Add appends a line to the buffer. It never blocks on the network and
// keeps accepting lines after Stop.
func (b *Batcher) Add(line string) {
	b.buf.Append(line)
}

// Flush runs one flush cycle on the calling goroutine.
// It returns the number of lines sent.
func (b *Batcher) Flush() int {
	lines := b.buf.Drain()
	if len(lines) == 0 {
		return 0
	}

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	for _, line := range lines {
		b.send(line)
	}
	return len(lines)
}

// Stop stops scheduling flush cycles. It does not wait for an in-flight
// cycle and does not flush what is still buffered, so it is safe to call
// from inside a send callback. Stop is idempotent.
func (b *Batcher) Stop() {
	if !b.running.CompareAndSwap(true, false) {
		return
	}
	if b.cancel != nil {
		b.cancel()
	}
}

// Running reports whether flush cycles are still being scheduled.
func (b *Batcher) Running() bool {
	return b.running.Load()
}

// Done is closed once the flush loop has exited.
func (b *Batcher) Done() <-chan struct{} {
	return b.done
}

// Pending returns a copy of the lines not yet flushed.
func (b *Batcher) Pending() []string {
	return b.buf.Lines()
}

// Len returns the number of lines not yet flushed.
func (b *Batcher) Len() int {
	return b.buf.Len()
}

// flushLoop periodically flushes lines until stopped
func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			b.running.Store(false)
			return
		case <-ticker.C:
			// Stop may have landed between the tick and this point.
			if !b.running.Load() || b.ctx.Err() != nil {
				return
			}
			b.Flush()
		}
	}
}
