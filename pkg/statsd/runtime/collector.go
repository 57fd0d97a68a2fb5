// Package runtime periodically records Go runtime and host gauges
// through a StatsD client.
package runtime

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// DefaultInterval is used when NewCollector gets a zero interval.
const DefaultInterval = 15 * time.Second

// Gauger records a gauge value. *statsd.Client satisfies it.
type Gauger interface {
	Gauge(metric string, value int32)
}

// Collector records runtime gauges under a common prefix.
type Collector struct {
	gauger   Gauger
	prefix   string
	interval time.Duration

	// Host stats come from gopsutil; tests swap these out.
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	cpuPercent    func(ctx context.Context) ([]float64, error)
}

// NewCollector creates a new runtime metrics collector.
func NewCollector(g Gauger, prefix string, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{
		gauger:        g,
		prefix:        prefix,
		interval:      interval,
		virtualMemory: mem.VirtualMemoryWithContext,
		cpuPercent: func(ctx context.Context) ([]float64, error) {
			return cpu.PercentWithContext(ctx, 0, false)
		},
	}
}

// Start collects once immediately and then every interval until ctx is
// done. It blocks; run it in its own goroutine.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect records one round of gauges.
func (c *Collector) Collect(ctx context.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.gauge("go.goroutines", float64(runtime.NumGoroutine()))
	c.gauge("go.heap_kb", float64(m.HeapAlloc)/1024)
	c.gauge("go.stack_kb", float64(m.StackInuse)/1024)
	c.gauge("go.sys_kb", float64(m.Sys)/1024)
	c.gauge("go.gc_count", float64(m.NumGC))

	if vm, err := c.virtualMemory(ctx); err == nil && vm != nil {
		c.gauge("host.mem_used_percent", vm.UsedPercent)
		c.gauge("host.mem_free_mb", float64(vm.Free)/(1024*1024))
	}

	if pct, err := c.cpuPercent(ctx); err == nil && len(pct) > 0 {
		c.gauge("host.cpu_percent", pct[0])
	}
}

func (c *Collector) gauge(name string, v float64) {
	metric := name
	if c.prefix != "" {
		metric = c.prefix + "." + name
	}
	c.gauger.Gauge(metric, clampInt32(v))
}

// clampInt32 rounds v and saturates it to the int32 range.
func clampInt32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(math.Round(v))
}
