// Package delivery deduplicates webhook deliveries. The source systems
// redeliver webhooks at their own discretion, so each (matter, trigger)
// pair is claimed once per window before any state is mutated.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key builds the idempotency key for one webhook delivery.
func Key(matterID int64, trigger string) string {
	return fmt.Sprintf("%d:%s", matterID, trigger)
}

// RedisStore claims delivery keys via SETNX with a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
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

	return &RedisStore{client: client, prefix: "delivery:"}, nil
}

// BeginDelivery claims a delivery key. Returns false when the key was
// already claimed inside the TTL window, meaning this delivery is a
// duplicate.
func (s *RedisStore) BeginDelivery(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	claimed, err := s.client.SetNX(ctx, s.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim delivery key: %w", err)
	}
	return claimed, nil
}

// EndDelivery releases a claimed key after a failed pipeline run, so the
// source system's retry is processed instead of being skipped as a
// duplicate.
func (s *RedisStore) EndDelivery(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("release delivery key: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
