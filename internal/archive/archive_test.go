package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-gateway/internal/clock"
	"github.com/JakeFAU/article-gateway/internal/hash/sha256"
	"github.com/JakeFAU/article-gateway/internal/storage/memory"
)

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestArchiveRoundTrip(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	archiver, err := New(blobs, sha256.New(), clock.NewManual(at), "/raw/")
	require.NoError(t, err)
	defer func() { _ = archiver.Close() }()

	body := []byte(strings.Repeat("<p>hello archive</p>", 200))
	entry, err := archiver.Archive(context.Background(), "abcdef", body)
	require.NoError(t, err)

	wantPath := "raw/ab/abcdef/1714564800000.html.zst"
	require.Equal(t, wantPath, entry.Path)
	require.Equal(t, "memory://"+wantPath, entry.URI)
	require.Equal(t, sha256.New().Hash(body), entry.ContentHash)
	require.Equal(t, len(body), entry.RawBytes)
	require.Less(t, entry.StoredBytes, entry.RawBytes)

	stored, contentType, ok := blobs.Object(wantPath)
	require.True(t, ok)
	require.Equal(t, ContentType, contentType)

	plain, err := Decompress(stored)
	require.NoError(t, err)
	require.Equal(t, body, plain)
}

func TestArchiveDefaultsAndErrors(t *testing.T) {
	t.Parallel()

	archiver, err := New(failingBlobs{}, sha256.New(), clock.New(), "")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(archiver.ObjectPath("k", time.Unix(0, 0)), DefaultPrefix+"/k/k/"))

	_, err = archiver.Archive(context.Background(), "", []byte("x"))
	require.ErrorContains(t, err, "cache key is required")

	_, err = archiver.Archive(context.Background(), "key", []byte("x"))
	require.ErrorContains(t, err, "bucket gone")

	_, err = New(nil, sha256.New(), clock.New(), "")
	require.Error(t, err)

	_, err = Decompress([]byte("not zstd"))
	require.Error(t, err)
}
