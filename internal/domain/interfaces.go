package domain

import (
	"context"
	"time"

	"daymark/internal/models"
)

// SyncQueue is the durable store of pending mutations. It is the single
// source of truth for deferred work; all mutating access goes through the
// owning processor.
type SyncQueue interface {
	Enqueue(ctx context.Context, op *models.SyncOperation) error
	Pending(ctx context.Context, limit int) ([]models.SyncOperation, error)
	// MarkProcessing claims an operation. It returns false when the
	// operation was not in a claimable state, which makes the claim
	// exclusive even with a second processor pointed at the same store.
	MarkProcessing(ctx context.Context, id string) (bool, error)
	// RecordFailure increments attempt_count and schedules the next
	// eligible attempt.
	RecordFailure(ctx context.Context, id string, cause string, nextAttemptAt time.Time) error
	// Abandon marks an operation terminal. Abandoned rows stay visible
	// until ReapAbandoned so the failure can be surfaced first.
	Abandon(ctx context.Context, id string, cause string) error
	Remove(ctx context.Context, id string) error
	Abandoned(ctx context.Context) ([]models.SyncOperation, error)
	ReapAbandoned(ctx context.Context) (int, error)
	// ReleaseStuck returns rows left in processing by a crashed run to
	// pending. Replay is at-least-once.
	ReleaseStuck(ctx context.Context) (int, error)
	Depth(ctx context.Context) (int, error)
}

// ConnectivityMonitor exposes the current network state and change
// notifications.
type ConnectivityMonitor interface {
	State() models.ConnectivityState
	// Subscribe returns a channel of state changes and a cancel func.
	Subscribe() (<-chan models.ConnectivityState, func())
}

// EventPublisher is the in-process event bus surface used by sync code.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// NotificationStore holds the user-facing sync notification feed, most
// importantly abandonment alerts, which must never be silent.
type NotificationStore interface {
	Push(ctx context.Context, n *models.Notification) error
	Recent(ctx context.Context, limit int) ([]models.Notification, error)
	Clear(ctx context.Context) error
}
