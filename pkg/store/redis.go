package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is where the manifest is stored when no key is configured.
const DefaultRedisKey = "aibdp:manifest"

// RedisSource reads the manifest from a single Redis string key, for fleets
// that publish one manifest to many enforcement points.
type RedisSource struct {
	client redis.UniversalClient
	key    string
	owned  bool
}

// NewRedisSource connects to the Redis server at url
// (redis://[user:pass@]host:port/db, or rediss:// for TLS).
func NewRedisSource(url, key string) (*RedisSource, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:     []string{opts.Addr},
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	})
	src := NewRedisSourceFromClient(client, key)
	src.owned = true
	return src, nil
}

// NewRedisSourceFromClient wraps an existing client. Close leaves the client
// open.
func NewRedisSourceFromClient(client redis.UniversalClient, key string) *RedisSource {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSource{client: client, key: key}
}

// Key returns the Redis key holding the manifest.
func (s *RedisSource) Key() string {
	return s.key
}

// Name implements Source.
func (s *RedisSource) Name() string {
	return "redis"
}

// Fetch implements Source.
func (s *RedisSource) Fetch(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis key %s: %w", s.key, ErrManifestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return data, nil
}

// Publish stores raw as the current manifest.
func (s *RedisSource) Publish(ctx context.Context, raw []byte) error {
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Close releases the client when the source created it.
func (s *RedisSource) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
