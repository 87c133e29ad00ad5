package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatcore/internal/models"
)

// PresenceStore 保存用户的实时在线状态。
// Redis keys expire after the heartbeat TTL, so a silent client decays to
// offline without any explicit disconnect handling.
type PresenceStore interface {
	SetStatus(ctx context.Context, userID string, status models.UserStatus) error
	Heartbeat(ctx context.Context, userID string) error
	GetStatus(ctx context.Context, userID string) (models.UserStatus, error)
}

// redisPresenceStore 是 PresenceStore 的 Redis 实现。
type redisPresenceStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPresenceStore 创建一个新的 redisPresenceStore 实例。
func NewRedisPresenceStore(client *redis.Client, ttl time.Duration) PresenceStore {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &redisPresenceStore{client: client, ttl: ttl}
}

const presenceKeyPrefix = "presence:user:"

// SetStatus 写入状态并重置过期时间。
func (r *redisPresenceStore) SetStatus(ctx context.Context, userID string, status models.UserStatus) error {
	key := presenceKeyPrefix + userID
	if err := r.client.Set(ctx, key, string(status), r.ttl).Err(); err != nil {
		return fmt.Errorf("写入 Redis 在线状态失败 for user %s: %w", userID, err)
	}
	return nil
}

// Heartbeat 刷新现有状态的过期时间；没有状态时视为 online。
func (r *redisPresenceStore) Heartbeat(ctx context.Context, userID string) error {
	key := presenceKeyPrefix + userID
	ok, err := r.client.Expire(ctx, key, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("刷新 Redis 在线状态失败 for user %s: %w", userID, err)
	}
	if !ok {
		return r.SetStatus(ctx, userID, models.StatusOnline)
	}
	return nil
}

// GetStatus 读取状态；key 不存在（过期或从未写入）时返回 offline。
func (r *redisPresenceStore) GetStatus(ctx context.Context, userID string) (models.UserStatus, error) {
	key := presenceKeyPrefix + userID
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return models.StatusOffline, nil
	}
	if err != nil {
		return models.StatusOffline, fmt.Errorf("读取 Redis 在线状态失败 for user %s: %w", userID, err)
	}
	switch models.UserStatus(val) {
	case models.StatusOnline, models.StatusAway, models.StatusOffline:
		return models.UserStatus(val), nil
	default:
		return models.StatusOffline, nil
	}
}
