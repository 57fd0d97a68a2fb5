package receiver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nicktill/tinystatsd/pkg/config"
	"github.com/nicktill/tinystatsd/pkg/httpx"
	"github.com/nicktill/tinystatsd/pkg/statsd/metrics"
	"github.com/nicktill/tinystatsd/pkg/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Allow same-origin requests, or requests with no Origin header
		// (non-browser clients like websocat or tests)
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Hub fans received lines out to live-tail websocket clients. Each
// client may narrow its stream with name= and type= query parameters.
type Hub struct {
	clients map[*streamClient]struct{}

	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan []metrics.Metric

	logger *zap.Logger
	mu     sync.RWMutex
}

type streamClient struct {
	conn   *websocket.Conn
	filter storage.QueryRequest
}

// selectLines returns the lines that pass the client's filter.
func (c *streamClient) selectLines(lines []metrics.Metric) []metrics.Metric {
	if len(c.filter.Names) == 0 && len(c.filter.Types) == 0 {
		return lines
	}
	var out []metrics.Metric
	for _, m := range lines {
		if c.filter.Matches(m) {
			out = append(out, m)
		}
	}
	return out
}

// NewHub creates a new websocket hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*streamClient]struct{}),
		register:   make(chan *streamClient, config.WSChannelBuffer),
		unregister: make(chan *streamClient, config.WSChannelBuffer),
		broadcast:  make(chan []metrics.Metric, config.WSBroadcastBuffer),
		logger:     logger,
	}
}

// Run starts the hub's main loop. It returns when ctx is done, after
// closing every client connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.conn.Close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("stream client connected",
				zap.Strings("names", c.filter.Names),
				zap.Int("clients", count),
			)
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("stream client disconnected", zap.Int("clients", count))
		case lines := <-h.broadcast:
			failed := h.fanOut(lines)

			// Unregister failed connections without holding the lock
			for _, c := range failed {
				h.unregister <- c
			}
		}
	}
}

// fanOut writes lines to every client whose filter passes at least one
// of them and returns the clients whose write failed.
func (h *Hub) fanOut(lines []metrics.Metric) []*streamClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var (
		failed []*streamClient
		all    []byte
	)
	for c := range h.clients {
		selected := c.selectLines(lines)
		if len(selected) == 0 {
			continue
		}

		var message []byte
		if len(selected) == len(lines) && all != nil {
			message = all
		} else {
			var err error
			message, err = json.Marshal(selected)
			if err != nil {
				h.logger.Warn("failed to encode stream message", zap.Error(err))
				continue
			}
			if len(selected) == len(lines) {
				all = message
			}
		}

		c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Debug("stream write failed", zap.Error(err))
			failed = append(failed, c)
		}
	}
	return failed
}

// Broadcast queues lines for every connected client. When the
// broadcast queue is full the batch is dropped.
func (h *Hub) Broadcast(lines []metrics.Metric) {
	if len(lines) == 0 {
		return
	}
	batch := make([]metrics.Metric, len(lines))
	copy(batch, lines)

	select {
	case h.broadcast <- batch:
	default:
		h.logger.Warn("stream broadcast queue full, dropping lines", zap.Int("lines", len(batch)))
	}
}

// ClientCount returns the number of connected websocket clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasClients returns true if there are any connected websocket clients
func (h *Hub) HasClients() bool {
	return h.ClientCount() > 0
}

// ServeHTTP upgrades the request to a websocket and streams matching
// lines to it until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	client := &streamClient{}
	if err := parseSeriesFilter(r.URL.Query(), &client.filter); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client.conn = conn

	h.register <- client

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Ping sender keeps idle connections alive through proxies
	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(config.WSWriteDeadline)); err != nil {
					return
				}
			}
		}
	}()

	defer func() {
		cancel()
		h.unregister <- client
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	// Read loop only services control frames and detects close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("stream client error", zap.Error(err))
			}
			return
		}
	}
}
