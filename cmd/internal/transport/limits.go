package transport

import "time"

const (
	// Max bytes per websocket frame read (hard limit). History pages are the largest frames.
	maxFrameBytes = 4 << 20 // 4 MiB

	defaultSendQueueSize = 256
	minSendQueueSize     = 32
	defaultUpdatesBuffer = 64

	defaultWriteTimeout     = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	closeGrace              = 1 * time.Second

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	defaultReconnectMin = 500 * time.Millisecond
	defaultReconnectMax = 30 * time.Second

	// Retry pacing for transient RPC errors.
	defaultRetryRate    = 5 // attempts per second, shared by all calls
	defaultRetryBurst   = 5
	defaultMaxAttempts  = 4
	defaultMaxFloodWait = 30 * time.Second
)
