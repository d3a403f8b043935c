package repository

import (
	"context"
	"sync/atomic"
	"time"

	"daymark/internal/domain"
	"daymark/internal/models"

	"github.com/rs/zerolog"
)

// FailoverNotificationStore serves from redis while it is healthy and falls
// back to the in-memory store when it is not. Abandonment notifications must
// reach the user even with redis down.
type FailoverNotificationStore struct {
	primary  domain.NotificationStore
	fallback domain.NotificationStore
	logger   *zerolog.Logger
	isDown   atomic.Bool
	// unix nanos of the last failed primary attempt; Push and Recent run on
	// different goroutines.
	lastCheck atomic.Int64
}

func NewFailoverNotificationStore(primary, fallback domain.NotificationStore, logger *zerolog.Logger) *FailoverNotificationStore {
	return &FailoverNotificationStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverNotificationStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary notification store failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverNotificationStore) Push(ctx context.Context, n *models.Notification) error {
	if !r.isDown.Load() {
		err := r.primary.Push(ctx, n)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Push(ctx, n)
}

func (r *FailoverNotificationStore) Recent(ctx context.Context, limit int) ([]models.Notification, error) {
	if !r.isDown.Load() {
		notifications, err := r.primary.Recent(ctx, limit)
		if err == nil {
			return notifications, nil
		}
		r.markDown(err)
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(time.Unix(0, r.lastCheck.Load())) > time.Minute {
		notifications, err := r.primary.Recent(ctx, limit)
		if err == nil {
			r.isDown.Store(false)
			return notifications, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.Recent(ctx, limit)
}

func (r *FailoverNotificationStore) Clear(ctx context.Context) error {
	if !r.isDown.Load() {
		err := r.primary.Clear(ctx)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.Clear(ctx)
}
