package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultDataDir      = "./data/impact"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48

	// StorageCacheDuration bounds how stale a reported data directory size may be
	StorageCacheDuration = 10 * time.Second
)

// Background tasks
const (
	BadgerGCInterval       = 10 * time.Minute
	BadgerGCDiscardRatio   = 0.5
	StatsBroadcastInterval = 5 * time.Second
	ShutdownTimeout        = 10 * time.Second
)

// Ingest and query timeouts and limits
const (
	IngestTimeout        = 60 * time.Second
	QueryTimeout         = 10 * time.Second
	StatsTimeout         = 5 * time.Second
	ReplayTimeout        = 5 * time.Minute
	ReadingsDefaultLimit = 1000
	ReadingsMaxLimit     = 10000
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
