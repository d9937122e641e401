// Package redis implements the article store backend on Redis hashes.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Backend stores each article as a hash with a key-level expiry.
type Backend struct {
	client goredis.UniversalClient
}

// New wraps an existing client.
func New(client goredis.UniversalClient) *Backend {
	return &Backend{client: client}
}

// Dial parses a redis:// or rediss:// URL. A non-empty token overrides the
// URL password, matching hosted providers that hand out a REST-style token.
func Dial(rawURL, token string) (*Backend, error) {
	opts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	if token != "" {
		opts.Password = token
	}
	return New(goredis.NewClient(opts)), nil
}

// GetFields returns every field of the hash, or an empty map when absent.
func (b *Backend) GetFields(ctx context.Context, key string) (map[string]string, error) {
	fields, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	return fields, nil
}

// PutFields replaces the hash and sets its expiry in one MULTI/EXEC unit, so
// no reader observes fields without their siblings or without an expiry.
func (b *Backend) PutFields(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	_, err := b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("multi hset expire: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (b *Backend) Close() error {
	return b.client.Close()
}
