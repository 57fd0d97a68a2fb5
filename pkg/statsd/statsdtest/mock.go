package statsdtest

import "sync"

// GaugeCall is one recorded Gauge call.
type GaugeCall struct {
	Metric string
	Value  int32
}

// MockStatsD records calls without formatting or sending anything.
// Timer runs its work function so the code under test behaves normally.
type MockStatsD struct {
	mu sync.Mutex

	IncrementCalled bool
	IncrementBucket string
	Increments      []string

	TimerCalled bool
	TimerBucket string
	Timers      []string

	GaugeCalled bool
	Gauges      []GaugeCall

	DisposeCalled bool
}

// Increment records bucket.
func (m *MockStatsD) Increment(bucket string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.IncrementCalled = true
	m.IncrementBucket = bucket
	m.Increments = append(m.Increments, bucket)
}

// Timer records bucket and returns what work returns.
func (m *MockStatsD) Timer(bucket string, work func() error) error {
	m.mu.Lock()
	m.TimerCalled = true
	m.TimerBucket = bucket
	m.Timers = append(m.Timers, bucket)
	m.mu.Unlock()

	return work()
}

// Gauge records metric and value.
func (m *MockStatsD) Gauge(metric string, value int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GaugeCalled = true
	m.Gauges = append(m.Gauges, GaugeCall{Metric: metric, Value: value})
}

// Dispose records the call.
func (m *MockStatsD) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisposeCalled = true
}

// IncrementCount returns how many times bucket was incremented.
func (m *MockStatsD) IncrementCount(bucket string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, b := range m.Increments {
		if b == bucket {
			n++
		}
	}
	return n
}
