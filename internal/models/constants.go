package models

import "time"

// Sync operation statuses as stored in the sync_operations table.
const (
	OpStatusPending    = "pending"
	OpStatusProcessing = "processing"
	OpStatusRetry      = "retry"
	OpStatusAbandoned  = "abandoned"
)

// Operation types.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Entity types routed through the queue.
const (
	EntityListItem  = "listItem"
	EntityFocusCard = "focusCard"
	EntityWinEntry  = "winEntry"
)

const (
	// DefaultMaxAttempts is the retry ceiling before an operation is abandoned.
	DefaultMaxAttempts = 5

	// DefaultPollInterval is how often the processor re-checks the queue
	// while connected.
	DefaultPollInterval = 30 * time.Second

	// DefaultProbeInterval is how often the connectivity monitor re-probes.
	DefaultProbeInterval = 5 * time.Second

	// DefaultBatchSize is the number of operations fetched per drain pass.
	DefaultBatchSize = 20

	// DefaultRequestTimeout bounds a single HTTP call.
	DefaultRequestTimeout = 30 * time.Second

	// ClassifyTimeout is the shorter budget for the classification endpoint.
	ClassifyTimeout = 5 * time.Second

	// NotificationFeedCap limits the user-facing notification feed.
	NotificationFeedCap = 50
)
