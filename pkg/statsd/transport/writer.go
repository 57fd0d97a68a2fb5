package transport

import (
	"fmt"
	"io"
	"sync"
)

// WriterSocket writes every line, newline terminated, to an io.Writer.
// The host and port are ignored. Useful for printing to stdout while
// developing or for capturing output in tests.
type WriterSocket struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Socket that writes to w.
func NewWriter(w io.Writer) *WriterSocket {
	return &WriterSocket{w: w}
}

// Write implements Socket.
func (s *WriterSocket) Write(_ string, _ int, data string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')
	if _, err := s.w.Write(buf); err != nil {
		return false, fmt.Errorf("%w: %v", ErrFailedToSendData, err)
	}
	return true, nil
}
