// Package statsdtest provides test doubles for code that records StatsD
// metrics.
package statsdtest

import (
	"sync"
	"time"

	"github.com/nicktill/tinystatsd/pkg/statsd/transport"
)

// Write is one recorded Socket.Write call.
type Write struct {
	Host string
	Port int
	Data string
}

// RecordingSocket is a transport.Socket that records every write and
// returns a configurable result.
type RecordingSocket struct {
	mu     sync.Mutex
	writes []Write
	err    error
	delay  time.Duration
	notify chan struct{}
}

var _ transport.Socket = (*RecordingSocket)(nil)

// NewRecordingSocket returns a socket whose writes all succeed.
func NewRecordingSocket() *RecordingSocket {
	return &RecordingSocket{notify: make(chan struct{}, 1)}
}

// FailWith makes subsequent writes return (false, err). A nil err
// restores success.
func (s *RecordingSocket) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SetDelay makes every write sleep for d before recording.
func (s *RecordingSocket) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Write implements transport.Socket.
func (s *RecordingSocket) Write(host string, port int, data string) (bool, error) {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	s.writes = append(s.writes, Write{Host: host, Port: port, Data: data})
	err := s.err
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}

	if err != nil {
		return false, err
	}
	return true, nil
}

// Writes returns a copy of the recorded writes.
func (s *RecordingSocket) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// Lines returns the data of every recorded write.
func (s *RecordingSocket) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.writes))
	for i, w := range s.writes {
		out[i] = w.Data
	}
	return out
}

// Count returns the number of recorded writes.
func (s *RecordingSocket) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// WaitFor blocks until at least n writes were recorded or timeout elapses.
// It reports whether n was reached.
func (s *RecordingSocket) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if s.Count() >= n {
			return true
		}
		select {
		case <-s.notify:
		case <-deadline.C:
			return s.Count() >= n
		}
	}
}
