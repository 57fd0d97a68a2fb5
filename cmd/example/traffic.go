package main

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

var simulatedEndpoints = []string{"/api/users", "/api/orders", "/api/products"}

// simulateTraffic calls the app's own endpoints so there is always
// something to look at in the sink
func (a *app) simulateTraffic(ctx context.Context, baseURL string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ep := simulatedEndpoints[n%len(simulatedEndpoints)]
			n++

			go func(url string) {
				resp, err := a.httpClient.Get(url)
				if err != nil {
					a.logger.Debug("simulated request failed", zap.String("url", url), zap.Error(err))
					return
				}
				resp.Body.Close()
			}(baseURL + ep)
		}
	}
}

// backgroundJobs records a timer and a queue depth gauge on every tick
func (a *app) backgroundJobs(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runJob()
		}
	}
}

func (a *app) runJob() {
	a.metrics.Timer("example.jobs.cleanup", func() error {
		a.sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
		return nil
	})
	a.metrics.Increment("example.jobs.completed")
	a.metrics.Gauge("example.queue.depth", int32(rand.Intn(20)))
}
