package models

import "time"

// SyncOperation is one durable record of a pending mutation. The payload is
// an immutable snapshot taken at enqueue time; later edits to the same
// entity append new operations rather than mutating this one.
type SyncOperation struct {
	ID            string     `json:"id"`
	EntityType    string     `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	OperationType string     `json:"operation_type"`
	Payload       []byte     `json:"payload"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	LastError     *string    `json:"last_error,omitempty"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}

// ConnStatus classifies the device's network reachability.
type ConnStatus string

const (
	ConnConnected    ConnStatus = "connected"
	ConnDisconnected ConnStatus = "disconnected"
	ConnUnknown      ConnStatus = "unknown"
)

// NetworkKind describes what kind of path a connected state rides on.
type NetworkKind string

const (
	NetworkWired    NetworkKind = "wired"
	NetworkWifi     NetworkKind = "wifi"
	NetworkCellular NetworkKind = "cellular"
	NetworkNone     NetworkKind = "none"
)

// ConnectivityState is the monitor's derived snapshot. It is never
// persisted. Unknown must be treated as disconnected by consumers.
type ConnectivityState struct {
	Status      ConnStatus  `json:"status"`
	Kind        NetworkKind `json:"kind"`
	Expensive   bool        `json:"expensive"`
	Constrained bool        `json:"constrained"`
}

// Online reports whether network calls should be attempted at all.
func (s ConnectivityState) Online() bool {
	return s.Status == ConnConnected
}

// Notification is a user-facing sync event, most importantly the
// non-silent "operation abandoned" alert.
type Notification struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	OperationID string    `json:"operation_id,omitempty"`
	EntityType  string    `json:"entity_type,omitempty"`
	EntityID    string    `json:"entity_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notification kinds.
const (
	NotifyOperationAbandoned = "operation_abandoned"
	NotifySyncDegraded       = "sync_degraded"
)
