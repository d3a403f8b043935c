package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"daymark/internal/config"
	"daymark/internal/models"

	"github.com/redis/go-redis/v9"
)

const notificationsKey = "daymark:sync:notifications"

// RedisNotificationStore keeps the sync notification feed in a capped redis
// list, newest first.
type RedisNotificationStore struct {
	client *redis.Client
	cap    int64
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisNotificationStore(client *redis.Client) *RedisNotificationStore {
	return &RedisNotificationStore{
		client: client,
		cap:    models.NotificationFeedCap,
	}
}

func (r *RedisNotificationStore) Push(ctx context.Context, n *models.Notification) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, notificationsKey, data)
	pipe.LTrim(ctx, notificationsKey, 0, r.cap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push notification to redis: %w", err)
	}
	return nil
}

func (r *RedisNotificationStore) Recent(ctx context.Context, limit int) ([]models.Notification, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if limit <= 0 || int64(limit) > r.cap {
		limit = int(r.cap)
	}

	raw, err := r.client.LRange(ctx, notificationsKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notifications from redis: %w", err)
	}

	out := make([]models.Notification, 0, len(raw))
	for _, item := range raw {
		var n models.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *RedisNotificationStore) Clear(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, notificationsKey).Err(); err != nil {
		return fmt.Errorf("failed to clear notifications: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
