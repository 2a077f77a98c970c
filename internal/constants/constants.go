// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Identity matching constants
const (
	// DefaultMatchThreshold is the maximum weighted Euclidean distance at which
	// a fingerprint is attached to an existing identity.
	// Lower values = stricter matching
	DefaultMatchThreshold = 0.5

	// DefaultConfirmFrames is the number of ticks a candidate must survive
	// before it is promoted to a new identity.
	DefaultConfirmFrames = 5

	// DefaultMaxMissedTicks is the number of consecutive unmatched ticks an
	// active identity tolerates before it becomes lost.
	DefaultMaxMissedTicks = 50

	// DefaultMaxFingerprints bounds the fingerprints stored per identity (K_max).
	DefaultMaxFingerprints = 50

	// DefaultDuplicateEps is the distance under which a new fingerprint is
	// considered a duplicate of one already stored.
	DefaultDuplicateEps = 0.2

	// DefaultReliableDiscount multiplies the distance of identities with
	// at least ReliableMinFingerprints stored fingerprints.
	DefaultReliableDiscount = 0.95

	// DefaultSparsePenalty multiplies the distance of identities with a
	// single stored fingerprint.
	DefaultSparsePenalty = 1.05

	// ReliableMinFingerprints is the fingerprint count at which the reliable
	// discount applies.
	ReliableMinFingerprints = 3
)

// HNSW prefilter constants
const (
	// HNSWMaxNeighbors is the M parameter of the identity graph.
	HNSWMaxNeighbors = 16

	// DefaultANNCandidates is how many nearest means are re-ranked exactly.
	DefaultANNCandidates = 8
)

// Plugin execution constants
const (
	// DefaultSyncBudget is the time budget of a synchronous plugin run.
	DefaultSyncBudget = 200 * time.Millisecond

	// DefaultAsyncTimeout bounds one background plugin request.
	DefaultAsyncTimeout = 10 * time.Second

	// DefaultAsyncWorkers bounds concurrently running background requests.
	DefaultAsyncWorkers = 8

	// DefaultResultHistory is how many completed results are kept per key.
	DefaultResultHistory = 10

	// DefaultResultMaxAge is the age after which results are pruned.
	DefaultResultMaxAge = 30 * time.Second

	// DefaultPruneInterval is how often results are pruned.
	DefaultPruneInterval = 5 * time.Second

	// DefaultFlushInterval is how often changed identities are persisted.
	DefaultFlushInterval = 30 * time.Second
)

// Image constants
const (
	// ResizeMax is the maximum frame dimension passed to the detector.
	ResizeMax = 640

	// ThumbnailQuality is the JPEG quality of stored face thumbnails.
	ThumbnailQuality = 85

	// DescriptionImageSize is the maximum dimension of images sent to vision LLMs.
	DescriptionImageSize = 512
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)
