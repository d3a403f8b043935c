package repository

import (
	"context"
	"sync"

	"daymark/internal/models"
)

// MemoryNotificationStore is the in-process fallback feed. Contents do not
// survive a restart, which is acceptable for a degraded mode.
type MemoryNotificationStore struct {
	mu            sync.Mutex
	notifications []models.Notification
	cap           int
}

func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{cap: models.NotificationFeedCap}
}

func (r *MemoryNotificationStore) Push(ctx context.Context, n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Newest first, same order redis serves.
	r.notifications = append([]models.Notification{*n}, r.notifications...)
	if len(r.notifications) > r.cap {
		r.notifications = r.notifications[:r.cap]
	}
	return nil
}

func (r *MemoryNotificationStore) Recent(ctx context.Context, limit int) ([]models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > len(r.notifications) {
		limit = len(r.notifications)
	}
	out := make([]models.Notification, limit)
	copy(out, r.notifications[:limit])
	return out, nil
}

func (r *MemoryNotificationStore) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = nil
	return nil
}
