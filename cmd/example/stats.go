package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinystatsd/pkg/httpx"
)

// sinkStats is the subset of the sink's GET /v1/stats body we show
type sinkStats struct {
	Received      uint64 `json:"received"`
	Rejected      uint64 `json:"rejected"`
	StreamClients int    `json:"stream_clients"`
}

// statsResponse is the body of GET /api/stats
type statsResponse struct {
	LinesSent   int64      `json:"lines_sent"`
	LinesFailed int64      `json:"lines_failed"`
	Active      int64      `json:"active"`
	Uptime      string     `json:"uptime"`
	Sink        *sinkStats `json:"sink,omitempty"`
	SinkError   string     `json:"sink_error,omitempty"`
}

// handleStats reports the client's delivery counters and, when the sink is
// reachable, what the sink has received
func (a *app) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Active: a.activeRequests.Load(),
		Uptime: time.Since(a.start).Round(time.Second).String(),
	}
	if a.sends != nil {
		resp.LinesSent = a.sends.Sent()
		resp.LinesFailed = a.sends.Failed()
	}

	sink, err := a.fetchSinkStats(r.Context())
	if err != nil {
		a.logger.Debug("sink stats unavailable", zap.Error(err))
		resp.SinkError = err.Error()
	} else {
		resp.Sink = sink
	}

	httpx.RespondJSON(w, http.StatusOK, resp)
}

func (a *app) fetchSinkStats(ctx context.Context) (*sinkStats, error) {
	if a.sinkURL == "" {
		return nil, fmt.Errorf("no sink configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.sinkURL+"/v1/stats", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sink returned %s", resp.Status)
	}

	var stats sinkStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decode sink stats: %w", err)
	}
	return &stats, nil
}
