// Package constants provides shared constants used across the codebase.
package constants

// Handler constants
const (
	// DefaultHistoryLimit is the default number of history entries returned per key
	DefaultHistoryLimit = 10

	// MaxNameLength is the maximum accepted display name length
	MaxNameLength = 128

	// HeartbeatInterval is the SSE keep-alive period in seconds
	HeartbeatInterval = 15
)
