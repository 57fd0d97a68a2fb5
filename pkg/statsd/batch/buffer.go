package batch

import "sync"

// Buffer is an ordered list of formatted lines guarded by its own lock.
// Appends and drains are O(1) with respect to each other; nothing that
// touches the network ever runs under the lock.
type Buffer struct {
	mu    sync.Mutex
	lines []string
}

// NewBuffer returns an empty buffer with room for capacity lines.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{lines: make([]string, 0, capacity)}
}

// Append adds line to the end of the buffer.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()
}

// Drain swaps in a fresh empty slice and returns everything that was
// buffered, in insertion order. It returns nil when the buffer is empty.
func (b *Buffer) Drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.lines) == 0 {
		return nil
	}
	drained := b.lines
	b.lines = make([]string, 0, cap(drained))
	return drained
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Lines returns a copy of the buffered lines.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}
