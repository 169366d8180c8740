package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of the go-redis client the store needs
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisStore keeps review entries in Redis as JSON with a native TTL
type RedisStore struct {
	client redisClient
	prefix string
}

// NewRedisStore connects to addr and verifies the connection
func NewRedisStore(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return newRedisStore(client, prefix), nil
}

func newRedisStore(client redisClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "piiscan:review:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Get reads and decodes an entry
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read review entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to decode review entry: %w", err)
	}
	return entry, true, nil
}

// Set encodes an entry and stores it with ttl
func (s *RedisStore) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	now := time.Now()
	entry.CreatedAt = now
	entry.ExpiresAt = time.Time{}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	} else {
		ttl = 0
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode review entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write review entry: %w", err)
	}
	return nil
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
