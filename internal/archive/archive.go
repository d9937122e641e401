// Package archive writes raw fetched pages to a blob store, zstd-compressed
// and addressed by cache key and retrieval time.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/JakeFAU/article-gateway/internal/article"
)

// ContentType is set on every archived object.
const ContentType = "application/zstd"

// DefaultPrefix roots archived objects when no prefix is configured.
const DefaultPrefix = "pages"

// Entry describes one archived page.
type Entry struct {
	URI         string
	Path        string
	ContentHash string
	RawBytes    int
	StoredBytes int
}

// Archiver compresses pages and writes them to a BlobStore.
type Archiver struct {
	blobs   article.BlobStore
	hasher  article.Hasher
	clock   article.Clock
	prefix  string
	encoder *zstd.Encoder
}

// New builds an Archiver. The hasher digests the uncompressed page.
func New(blobs article.BlobStore, hasher article.Hasher, clock article.Clock, prefix string) (*Archiver, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Archiver{blobs: blobs, hasher: hasher, clock: clock, prefix: prefix, encoder: encoder}, nil
}

// ObjectPath returns prefix/<key[:2]>/<key>/<unix-millis>.html.zst.
func (a *Archiver) ObjectPath(key string, at time.Time) string {
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return path.Join(a.prefix, shard, key, fmt.Sprintf("%d.html.zst", at.UTC().UnixMilli()))
}

// Archive compresses body and writes it under key.
func (a *Archiver) Archive(ctx context.Context, key string, body []byte) (Entry, error) {
	if key == "" {
		return Entry{}, fmt.Errorf("cache key is required")
	}
	compressed := a.encoder.EncodeAll(body, make([]byte, 0, len(body)/2))
	objectPath := a.ObjectPath(key, a.clock.Now())
	uri, err := a.blobs.PutObject(ctx, objectPath, ContentType, bytes.NewReader(compressed))
	if err != nil {
		return Entry{}, fmt.Errorf("put archive object: %w", err)
	}
	return Entry{
		URI:         uri,
		Path:        objectPath,
		ContentHash: a.hasher.Hash(body),
		RawBytes:    len(body),
		StoredBytes: len(compressed),
	}, nil
}

// Close releases encoder resources.
func (a *Archiver) Close() error {
	return a.encoder.Close()
}

// Decompress reverses the archive encoding.
func Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	return out, nil
}
