// Package consts contains all tunable constants in one place
package consts

import "time"

// =============================================================================
// Remote store - naming scheme
// =============================================================================

const (
	// RemoteScheme prefixes every fully-qualified object key
	RemoteScheme = "gs://"

	// BlockFileExt is the extension shared by local files and remote objects
	BlockFileExt = ".json"

	// DefaultBucket holds the public block dumps
	DefaultBucket = "mina_network_block_data"

	// DefaultNetwork is the network prefix of every block file
	DefaultNetwork = "mainnet"
)

// =============================================================================
// Planner - Height ranges
// =============================================================================

const (
	// NetworkFloor is the lowest height ever queried; 0 and 1 are reserved by the
	// source network's genesis convention
	NetworkFloor = 2

	// LoopHeightBuffer is how many heights below the local max the loop re-queries
	LoopHeightBuffer = 5

	// NewOnlyHeightBuffer is the same buffer for the one-shot new-only mode
	NewOnlyHeightBuffer = 10

	// CatchUpLookahead is how far above the local max the catch-up phase probes
	CatchUpLookahead = 100

	// CatalogTrailingMargin is how far below the local max a full remote listing
	// is still fetched, to pick up late fork variants
	CatalogTrailingMargin = 10

	// ContiguousStart and ContiguousCount are the contiguous-mode defaults
	ContiguousStart = 2
	ContiguousCount = 1000
)

// =============================================================================
// Sync Driver - Timing
// =============================================================================

const (
	// PollInterval is the delay between polling cycles
	PollInterval = 10 * time.Second

	// PollHeightSpacing converts a poll interval into a lookahead:
	// interval/spacing + 1 heights per polling cycle
	PollHeightSpacing = 3 * time.Second

	// BlockSpacing is the assumed block production interval used to estimate
	// how many heights appeared since the newest local file was written
	BlockSpacing = 3 * time.Minute

	// CycleMaxRetries bounds backoff retries of a failing cycle in loop mode
	CycleMaxRetries = 5

	// CycleRetryInitial is the first backoff delay after a failed cycle
	CycleRetryInitial = 5 * time.Second

	// CycleRetryMax caps a single backoff delay
	CycleRetryMax = 2 * time.Minute
)

// =============================================================================
// Server - Status API and metrics
// =============================================================================

const (
	// ServerListenAddr is the HTTP/WebSocket status server address
	ServerListenAddr = ":9090"

	// MetricsListenAddr is the Prometheus metrics server address
	MetricsListenAddr = ":9091"

	// ServerSubscriberBuffer is how many events a slow WebSocket client may lag
	// before it is dropped
	ServerSubscriberBuffer = 64
)
