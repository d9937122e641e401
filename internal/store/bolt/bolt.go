// Package bolt implements the article store backend on an embedded bbolt file.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var bucketArticles = []byte("articles")

// entry is the stored form: fields plus their absolute expiry.
type entry struct {
	Fields    map[string]string `json:"fields"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Backend implements store.Backend using bbolt.
type Backend struct {
	db     *bbolt.DB
	logger *zap.Logger
	now    func() time.Time
	noSync bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// WithNoSync disables fsync per transaction. Use only in tests.
func WithNoSync(noSync bool) Option {
	return func(b *Backend) {
		b.noSync = noSync
	}
}

// Open opens (or creates) the database at path.
func Open(path string, opts ...Option) (*Backend, error) {
	b := &Backend{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketArticles)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	b.db = db

	b.logger.Debug("opened article db", zap.String("path", path), zap.Bool("no_sync", b.noSync))
	return b, nil
}

// GetFields returns the live fields under key. Expired entries read as absent
// and are left for the reaper.
func (b *Backend) GetFields(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var fields map[string]string
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketArticles).Get([]byte(key))
		if raw == nil {
			return nil
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("decoding entry: %w", err)
		}
		if !b.now().Before(e.ExpiresAt) {
			return nil
		}
		fields = e.Fields
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// PutFields writes fields and expiry in a single transaction.
func (b *Backend) PutFields(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(entry{Fields: fields, ExpiresAt: b.now().Add(ttl).UTC()})
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketArticles).Put([]byte(key), data)
	})
}

// Ping verifies the database is open.
func (b *Backend) Ping(context.Context) error {
	if b.db == nil {
		return errors.New("database closed")
	}
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketArticles) == nil {
			return errors.New("articles bucket missing")
		}
		return nil
	})
}

// Reap deletes expired entries and returns how many were removed.
func (b *Backend) Reap(ctx context.Context) (int, error) {
	now := b.now()
	removed := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketArticles)
		var expired [][]byte
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				b.logger.Warn("dropping undecodable entry", zap.ByteString("key", k), zap.Error(err))
				expired = append(expired, append([]byte(nil), k...))
				continue
			}
			if !now.Before(e.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reaping expired entries: %w", err)
	}
	return removed, nil
}

// Close closes the database and releases resources.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
