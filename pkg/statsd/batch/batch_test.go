package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockSender records every line handed to it
type mockSender struct {
	mu    sync.Mutex
	lines []string
	delay time.Duration
}

func (m *mockSender) send(line string) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, line)
}

func (m *mockSender) getLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]string, len(m.lines))
	copy(result, m.lines)
	return result
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines)
}

// Test 1: New() creates a stopped batcher with an empty buffer
func TestNew(t *testing.T) {
	sender := &mockSender{}
	batcher := New(sender.send, Config{FlushEvery: 5 * time.Second})

	if batcher == nil {
		t.Fatal("New() returned nil")
	}
	if batcher.config.FlushEvery != 5*time.Second {
		t.Errorf("Expected FlushEvery=5s, got %v", batcher.config.FlushEvery)
	}
	if batcher.Running() {
		t.Error("Batcher should not be running before Start()")
	}
	if batcher.Len() != 0 {
		t.Errorf("Expected empty buffer, got %d lines", batcher.Len())
	}
}

// Test 2: Start() and Stop() lifecycle
func TestStartStop(t *testing.T) {
	sender := &mockSender{}
	batcher := New(sender.send, Config{FlushEvery: 100 * time.Millisecond})

	batcher.Start(context.Background())
	if !batcher.Running() {
		t.Fatal("Batcher should be running after Start()")
	}

	batcher.Stop()
	if batcher.Running() {
		t.Fatal("Batcher should not be running after Stop()")
	}

	select {
	case <-batcher.Done():
	case <-time.After(time.Second):
		t.Fatal("flush loop did not exit after Stop()")
	}
}

// Test 3: Stop() is idempotent
func TestStopTwice(t *testing.T) {
	batcher := New((&mockSender{}).send, Config{FlushEvery: time.Hour})
	batcher.Start(context.Background())

	batcher.Stop()
	batcher.Stop()

	<-batcher.Done()
}

// Test 4: Periodic flush sends all lines in insertion order
func TestPeriodicFlush(t *testing.T) {
	sender := &mockSender{}
	batcher := New(sender.send, Config{FlushEvery: 100 * time.Millisecond})
	batcher.Start(context.Background())
	defer batcher.Stop()

	want := []string{"a:1|c", "b:2|g", "c:3|ms"}
	for _, line := range want {
		batcher.Add(line)
	}

	time.Sleep(250 * time.Millisecond)

	got := sender.getLines()
	if len(got) != len(want) {
		t.Fatalf("Expected %d lines sent, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
	if batcher.Len() != 0 {
		t.Errorf("Expected buffer drained, %d lines remain", batcher.Len())
	}
}

// Test 5: Each line is sent exactly once across many cycles
func TestNoDuplicatesAcrossCycles(t *testing.T) {
	sender := &mockSender{}
	batcher := New(sender.send, Config{FlushEvery: 20 * time.Millisecond})
	batcher.Start(context.Background())
	defer batcher.Stop()

	for i := 0; i < 50; i++ {
		batcher.Add(fmt.Sprintf("line%d:1|c", i))
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	seen := make(map[string]int)
	for _, line := range sender.getLines() {
		seen[line]++
	}
	if len(seen) != 50 {
		t.Errorf("Expected 50 distinct lines, got %d", len(seen))
	}
	for line, n := range seen {
		if n != 1 {
			t.Errorf("line %q sent %d times", line, n)
		}
	}
}

// Test 6: Manual Flush() sends pending lines immediately
func TestManualFlush(t *testing.T) {
	sender := &mockSender{}
	batcher := New(sender.send, Config{FlushEvery: time.Hour})

	for i := 0; i < 7; i++ {
		batcher.Add("manual:1|c")
	}

	if n := batcher.Flush(); n != 7 {
		t.Errorf("Flush() = %d, want 7", n)
	}
	if sender.count() != 7 {
		t.Errorf("Expected 7 lines sent, got %d", sender.count())
	}
	if batcher.Len() != 0 {
		t.Errorf("Expected buffer drained, %d lines remain", batcher.Len())
	}
}

// Test 7: Flush() on an empty buffer makes no sends
func TestFlushEmpty(t *testing.T) {
	calls := 0
	batcher := New(func(string) { calls++ }, Config{FlushEvery: time.Hour})

	if n := batcher.Flush(); n != 0 {
		t.Errorf("Flush() = %d, want 0", n)
	}
	if calls != 0 {
		t.Errorf("Expected 0 sends, got %d", calls)
	}
}

// Test 8: No scheduled flush happens after Stop(), but Add keeps working
func TestNoFlushAfterStop(t *testing.T) {
	sender := &mockSender{}
	interval := 30 * time.Millisecond
	batcher := New(sender.send, Config{FlushEvery: interval})
	batcher.Start(context.Background())

	batcher.Stop()
	<-batcher.Done()

	batcher.Add("late:1|c")
	batcher.Add("late:1|c")

	time.Sleep(4 * interval)

	if sender.count() != 0 {
		t.Errorf("Expected no sends after Stop(), got %d", sender.count())
	}
	if batcher.Len() != 2 {
		t.Errorf("Expected 2 buffered lines after Stop(), got %d", batcher.Len())
	}
}

// Test 9: Context cancellation stops the loop
func TestContextCancellation(t *testing.T) {
	sender := &mockSender{}
	batcher := New(sender.send, Config{FlushEvery: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	batcher.Start(ctx)
	cancel()

	select {
	case <-batcher.Done():
	case <-time.After(time.Second):
		t.Fatal("flush loop still running after context cancellation")
	}
	if batcher.Running() {
		t.Error("Batcher reports running after context cancellation")
	}
}

// Test 10: Stop() from inside the send path does not deadlock
func TestStopFromSend(t *testing.T) {
	var batcher *Batcher
	sent := make(chan struct{}, 1)
	batcher = New(func(line string) {
		batcher.Stop()
		select {
		case sent <- struct{}{}:
		default:
		}
	}, Config{FlushEvery: 20 * time.Millisecond})
	batcher.Start(context.Background())
	batcher.Add("a:1|c")

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("line was never sent")
	}

	select {
	case <-batcher.Done():
	case <-time.After(time.Second):
		t.Fatal("Stop() from the send path deadlocked")
	}
}

// Test 11: Sends from two cycles never interleave
func TestCyclesDoNotInterleave(t *testing.T) {
	sender := &mockSender{delay: 5 * time.Millisecond}
	batcher := New(sender.send, Config{FlushEvery: time.Hour})

	for i := 0; i < 5; i++ {
		batcher.Add("first:1|c")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		batcher.Flush()
	}()

	// Wait until the first cycle has drained and started sending.
	for batcher.Len() != 0 || sender.count() == 0 {
		time.Sleep(time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		batcher.Add("second:1|c")
	}
	batcher.Flush()
	wg.Wait()

	got := strings.Join(sender.getLines(), ",")
	want := strings.Repeat("first:1|c,", 5) + strings.TrimSuffix(strings.Repeat("second:1|c,", 5), ",")
	if got != want {
		t.Errorf("send order = %s\nwant %s", got, want)
	}
}

// Test 12: Concurrent producers lose nothing
func TestConcurrentAdd(t *testing.T) {
	sender := &mockSender{}
	batcher := New(sender.send, Config{FlushEvery: 10 * time.Millisecond})
	batcher.Start(context.Background())

	var wg sync.WaitGroup
	numGoroutines := 10
	linesPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < linesPerGoroutine; j++ {
				batcher.Add("concurrent:1|c")
			}
		}()
	}
	wg.Wait()

	time.Sleep(50 * time.Millisecond)
	batcher.Stop()
	<-batcher.Done()
	batcher.Flush()

	if total := sender.count(); total != numGoroutines*linesPerGoroutine {
		t.Errorf("Expected %d lines sent, got %d", numGoroutines*linesPerGoroutine, total)
	}
}

// Benchmark: Add() performance under load
func BenchmarkAdd(b *testing.B) {
	batcher := New(func(string) {}, Config{FlushEvery: time.Second})
	batcher.Start(context.Background())
	defer batcher.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		batcher.Add("bench:1|c")
	}
}

// Benchmark: Concurrent Add() performance
func BenchmarkConcurrentAdd(b *testing.B) {
	batcher := New(func(string) {}, Config{FlushEvery: time.Second})
	batcher.Start(context.Background())
	defer batcher.Stop()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			batcher.Add("bench:1|c")
		}
	})
}
