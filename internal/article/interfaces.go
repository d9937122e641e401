package article

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves raw page bytes for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor converts raw page bytes into article fields. The boolean is false
// when no article could be derived.
type Extractor interface {
	Extract(body []byte, pageURL string) (Record, bool)
}

// HeadlessDetector decides whether a probe response warrants a headless fetch.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Store is the typed article cache. Get reports absence with a false flag and
// reserves errors for store failures.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, fields Record, ttl time.Duration) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RetrievalLog persists one row per miss-path cycle.
type RetrievalLog interface {
	StoreRetrieval(ctx context.Context, record RetrievalRecord) error
	Close()
}

// Hasher computes hex digests. Implementations never fail.
type Hasher interface {
	Hash(data []byte) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
