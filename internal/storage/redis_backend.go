package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps the snapshot in a single Redis string key.
type RedisBackend struct {
	client *redis.Client
	key    string
	owned  bool
}

// NewRedisBackend dials the server described by a redis:// URL.
func NewRedisBackend(ctx context.Context, redisURL, key string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("storage: ping redis: %w", err)
	}
	b := NewRedisBackendFromClient(client, key)
	b.owned = true
	return b, nil
}

// NewRedisBackendFromClient wraps an existing client; Close leaves it open.
func NewRedisBackendFromClient(client *redis.Client, key string) *RedisBackend {
	if key == "" {
		key = DefaultKVKey
	}
	return &RedisBackend{client: client, key: key}
}

func (b *RedisBackend) Load(ctx context.Context) ([]byte, error) {
	doc, err := b.client.Get(ctx, b.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: redis get: %w", err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("storage: redis key %s holds an empty value", b.key)
	}
	return doc, nil
}

func (b *RedisBackend) Save(ctx context.Context, doc []byte) error {
	if len(doc) == 0 {
		return errors.New("storage: refusing to save empty snapshot")
	}
	if err := b.client.Set(ctx, b.key, doc, 0).Err(); err != nil {
		return fmt.Errorf("storage: redis set: %w", err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close()
}
