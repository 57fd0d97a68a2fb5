package config

import "time"

// Client defaults
const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 8125
	DefaultInterval    = 1 * time.Second
	DefaultDialTimeout = 2 * time.Second
)

// Sink defaults
const (
	DefaultListenAddr  = ":8125"
	DefaultHTTPAddr    = ":8126"
	MaxDatagramSize    = 65535
	DefaultMaxMemoryMB = 48
	DefaultMaxLines    = 50000
)

// Sink API timeouts and limits
const (
	StorageWriteTimeout = 2 * time.Second
	QueryTimeout        = 10 * time.Second
	StatsTimeout        = 5 * time.Second
	QueryDefaultLimit   = 1000
	QueryMaxLimit       = 10000
	ShutdownTimeout     = 10 * time.Second
	BadgerGCInterval    = 10 * time.Minute
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 64
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
