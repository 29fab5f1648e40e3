package constants

import (
	"time"
)

// Submission limits
const (
	// DefaultMaxFiles - maximum number of files in one submission (10)
	// Exceeding it rejects the whole selection, not just the overflow.
	DefaultMaxFiles = 10

	// DefaultMaxFileSizeBytes - maximum size of a single document (40 MB)
	DefaultMaxFileSizeBytes = 40 * 1024 * 1024

	// SniffHeaderBytes - bytes read from the head of a file for content type detection (3 KB)
	SniffHeaderBytes = 3072
)

// DefaultAllowedExtensions lists the document types the extraction service accepts.
var DefaultAllowedExtensions = []string{".pdf", ".png", ".jpg", ".jpeg", ".tif", ".tiff"}

// Tracking
const (
	// PollInterval - interval for the manual polling fallback (1 second)
	PollInterval = 1 * time.Second

	// CompletionDelay - delay between detecting completion and auto-closing (2 seconds)
	// The displayed percent is pinned to 100 for this long before the callback fires.
	CompletionDelay = 2 * time.Second

	// DefaultUploadWeight - share of the combined percent given to the upload phase (0.5)
	DefaultUploadWeight = 0.5

	// MaxTrackingDuration - zero means a session is tracked until it terminates or is closed
	MaxTrackingDuration = time.Duration(0)

	// PollRetryMax - retries per poll request inside the HTTP client
	// Kept low so a single tick cannot stall behind the retry loop.
	PollRetryMax = 1
)

// Upload streaming
const (
	// UploadCopyBufferSize - buffer used to stream each file into the multipart body (256 KB)
	UploadCopyBufferSize = 256 * 1024
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (256)
	EventBusDefaultBuffer = 256

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (4096)
	EventBusMaxBuffer = 4096

	// SubscriptionBuffer - buffer for a single push subscription stream
	SubscriptionBuffer = 64
)

// Push channel
const (
	// ChannelReconnectInitial - first delay before reconnecting a dropped push channel
	ChannelReconnectInitial = 500 * time.Millisecond

	// ChannelReconnectMax - upper bound between reconnect attempts
	ChannelReconnectMax = 30 * time.Second

	// ChannelWriteTimeout - deadline for writing a subscribe/unsubscribe frame
	ChannelWriteTimeout = 5 * time.Second

	// ChannelPingInterval - keepalive ping period for the websocket channel
	ChannelPingInterval = 25 * time.Second

	// RedisChannelPrefix - pub/sub channel prefix, one channel per job or batch id
	RedisChannelPrefix = "progress:"
)

// UI Updates
const (
	// RenderInterval - interval of the renderer tick loop that eases the bar toward its target (100ms)
	RenderInterval = 100 * time.Millisecond

	// EaseFactor - fraction of the remaining distance covered per render tick
	EaseFactor = 0.35
)

// HTTP client
const (
	// HTTPDialTimeout - TCP connection timeout
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - TCP keepalive period
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPIdleConnTimeout - how long idle connections stay in the pool
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - TLS handshake timeout
	HTTPTLSHandshakeTimeout = 15 * time.Second

	// HTTPExpectContinueTimeout - wait for 100-continue
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPClientTimeout - overall timeout for API requests (not the upload)
	HTTPClientTimeout = 5 * time.Minute
)

// Dev extraction service
const (
	// DevServerStepInterval - simulated per-file processing time
	DevServerStepInterval = 400 * time.Millisecond

	// DevServerDefaultQuota - documents accepted per dev server lifetime before "upgrade plan" rejections
	DevServerDefaultQuota = 500
)

// Request rate limits (token bucket, per client)
const (
	// SubmitRatePerSec - uploads are rare; the bucket mainly stops double-submits
	SubmitRatePerSec = 0.2

	// SubmitBurst - submissions allowed back to back before throttling
	SubmitBurst = 2

	// PollRatePerSec - job + batch poll every second plus headroom for manual refresh
	PollRatePerSec = 5.0

	// PollBurst - refresh clicks absorbed before throttling
	PollBurst = 10
)
