package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/article-gateway/internal/article"
)

var (
	// ErrUnavailable wraps every transport or backend failure. Callers must not
	// treat it as a miss.
	ErrUnavailable = errors.New("article store unavailable")
	// ErrNotConfigured is returned when the selected backend has no endpoint.
	ErrNotConfigured = errors.New("article store not configured")
	// ErrInvalidTTL rejects writes that would create a non-expiring entry.
	ErrInvalidTTL = errors.New("ttl must be positive")
	// ErrEmptyRecord rejects writes with no fields.
	ErrEmptyRecord = errors.New("record has no fields")
)

// DefaultKeyPrefix namespaces article entries in shared backends.
const DefaultKeyPrefix = "article:"

// Status is the health view of the store.
type Status string

// Store health states.
const (
	StatusNotConfigured Status = "not_configured"
	StatusConnected     Status = "connected"
	StatusError         Status = "error"
)

// Backend is a key-value transport for field maps. GetFields returns an empty
// map (or nil) for absent keys. PutFields must make the fields and the expiry
// visible together or not at all.
type Backend interface {
	GetFields(ctx context.Context, key string) (map[string]string, error)
	PutFields(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// ArticleStore implements article.Store over a Backend.
type ArticleStore struct {
	backend Backend
	prefix  string
}

// Option configures an ArticleStore.
type Option func(*ArticleStore)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *ArticleStore) {
		s.prefix = prefix
	}
}

// New wraps backend. A nil backend behaves as NotConfigured.
func New(backend Backend, opts ...Option) *ArticleStore {
	if backend == nil {
		backend = NotConfigured{}
	}
	s := &ArticleStore{backend: backend, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ article.Store = (*ArticleStore)(nil)

// Get returns the record for key. Never-written, expired and empty entries
// all report false.
func (s *ArticleStore) Get(ctx context.Context, key string) (article.Record, bool, error) {
	fields, err := s.backend.GetFields(ctx, s.prefix+key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: get: %w", ErrUnavailable, err)
	}
	rec := article.Record(fields).Clone()
	if rec.IsEmpty() {
		return nil, false, nil
	}
	return rec, true, nil
}

// Put writes fields under key with the given lifetime. Blank values are
// dropped before the write, so a later Get returns fields minus its blank
// entries. A record that is blank throughout is rejected with ErrEmptyRecord.
func (s *ArticleStore) Put(ctx context.Context, key string, fields article.Record, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	rec := fields.Clone()
	if rec.IsEmpty() {
		return ErrEmptyRecord
	}
	if err := s.backend.PutFields(ctx, s.prefix+key, rec, ttl); err != nil {
		return fmt.Errorf("%w: put: %w", ErrUnavailable, err)
	}
	return nil
}

// Status probes the backend for health reporting.
func (s *ArticleStore) Status(ctx context.Context) Status {
	err := s.backend.Ping(ctx)
	switch {
	case err == nil:
		return StatusConnected
	case errors.Is(err, ErrNotConfigured):
		return StatusNotConfigured
	default:
		return StatusError
	}
}

// Close releases the backend.
func (s *ArticleStore) Close() error {
	return s.backend.Close()
}

// NotConfigured is the backend used when no store endpoint is configured.
// Every operation fails with ErrNotConfigured.
type NotConfigured struct{}

// GetFields implements Backend.
func (NotConfigured) GetFields(context.Context, string) (map[string]string, error) {
	return nil, ErrNotConfigured
}

// PutFields implements Backend.
func (NotConfigured) PutFields(context.Context, string, map[string]string, time.Duration) error {
	return ErrNotConfigured
}

// Ping implements Backend.
func (NotConfigured) Ping(context.Context) error {
	return ErrNotConfigured
}

// Close implements Backend.
func (NotConfigured) Close() error {
	return nil
}
