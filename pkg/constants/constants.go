// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single frame write to a client
	WebSocketWriteTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Real-time signaling constants
const (
	// CallRingTimeout is how long an unanswered invite rings before it auto-ends
	CallRingTimeout = 45 * time.Second

	// TypingExpiry is the auto-expiry for a typing indicator with no stop event
	TypingExpiry = 2 * time.Second

	// OfflineGraceDelay absorbs rapid reconnects before an offline broadcast
	OfflineGraceDelay = 3 * time.Second

	// PresenceTTL is the lifetime of the Redis presence mirror key per user
	PresenceTTL = 5 * time.Minute

	// ClientSendBuffer is the per-connection outbound event queue size
	ClientSendBuffer = 256
)

// Persistence constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute

	// HistoryPageLimit is the default page size for conversation history
	HistoryPageLimit = 50

	// MembershipCacheTTL bounds staleness of cached group membership and block lookups
	MembershipCacheTTL = 30 * time.Second
)

// Storage and attachment constants
const (
	// AttachmentURLExpiry is the validity period for presigned attachment URLs
	AttachmentURLExpiry = 15 * time.Minute

	// MaxAttachmentSize caps a single uploaded attachment (bytes)
	MaxAttachmentSize = 10 << 20
)
