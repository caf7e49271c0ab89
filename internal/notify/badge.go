package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const badgeTTL = 5 * time.Minute

// BadgeCache caches per-user unread notification counts in Redis. The store
// stays authoritative: entries are invalidated on fan-out and on mark-read,
// and repopulated lazily on the next count read.
type BadgeCache struct {
	client *redis.Client
	prefix string
}

func NewBadgeCache(redisURL string) (*BadgeCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &BadgeCache{client: client, prefix: "badge:"}, nil
}

// NewBadgeCacheWithClient wraps an existing Redis client.
func NewBadgeCacheWithClient(client *redis.Client) *BadgeCache {
	return &BadgeCache{client: client, prefix: "badge:"}
}

func (b *BadgeCache) key(userID string) string {
	return b.prefix + userID
}

// Get returns the cached unread count and whether the cache held a value.
func (b *BadgeCache) Get(ctx context.Context, userID string) (int, bool, error) {
	value, err := b.client.Get(ctx, b.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get badge: %w", err)
	}
	count, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("decode badge: %w", err)
	}
	return count, true, nil
}

func (b *BadgeCache) Set(ctx context.Context, userID string, count int) error {
	if err := b.client.Set(ctx, b.key(userID), strconv.Itoa(count), badgeTTL).Err(); err != nil {
		return fmt.Errorf("set badge: %w", err)
	}
	return nil
}

func (b *BadgeCache) Invalidate(ctx context.Context, userID string) error {
	if err := b.client.Del(ctx, b.key(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate badge: %w", err)
	}
	return nil
}

func (b *BadgeCache) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *BadgeCache) Close() error {
	return b.client.Close()
}
