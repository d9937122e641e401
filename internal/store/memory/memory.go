// Package memory provides an in-process article store backend for tests and
// single-instance deployments.
package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	fields    map[string]string
	expiresAt time.Time
}

// Backend keeps field maps in a map guarded by a mutex. Expired entries are
// dropped lazily on read.
type Backend struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithNow sets the time source.
func WithNow(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New creates an empty Backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// GetFields returns a copy of the live fields under key.
func (b *Backend) GetFields(_ context.Context, key string) (map[string]string, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !b.now().Before(e.expiresAt) {
		b.mu.Lock()
		if cur, ok := b.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(b.entries, key)
		}
		b.mu.Unlock()
		return nil, nil
	}
	return copyFields(e.fields), nil
}

// PutFields replaces the entry under key in one locked assignment.
func (b *Backend) PutFields(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	e := entry{fields: copyFields(fields), expiresAt: b.now().Add(ttl)}
	b.mu.Lock()
	b.entries[key] = e
	b.mu.Unlock()
	return nil
}

// Ping always succeeds.
func (b *Backend) Ping(context.Context) error {
	return nil
}

// Close drops all entries.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.entries = make(map[string]entry)
	b.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, including expired ones not yet read.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
