package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/JakeFAU/article-gateway/internal/article"
	"github.com/JakeFAU/article-gateway/internal/clock"
	"github.com/JakeFAU/article-gateway/internal/store"
)

func openTestBackend(t *testing.T, clk *clock.Manual) *Backend {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "articles.db"), WithNow(clk.Now), WithNoSync(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	b := openTestBackend(t, clk)
	ctx := context.Background()

	fields := map[string]string{"title": "T", "content": "C", "author": "A"}
	require.NoError(t, b.PutFields(ctx, "k", fields, time.Hour))

	got, err := b.GetFields(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, fields, got)
}

func TestExpiredEntryReadsAbsent(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	b := openTestBackend(t, clk)
	ctx := context.Background()

	require.NoError(t, b.PutFields(ctx, "k", map[string]string{"title": "T"}, time.Hour))
	clk.Advance(time.Hour)

	got, err := b.GetFields(ctx, "k")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReapRemovesOnlyExpired(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	b := openTestBackend(t, clk)
	ctx := context.Background()

	require.NoError(t, b.PutFields(ctx, "short", map[string]string{"title": "S"}, time.Minute))
	require.NoError(t, b.PutFields(ctx, "long", map[string]string{"title": "L"}, time.Hour))
	require.NoError(t, b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketArticles).Put([]byte("junk"), []byte("{not json"))
	}))

	clk.Advance(2 * time.Minute)
	removed, err := b.Reap(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	got, err := b.GetFields(ctx, "long")
	require.NoError(t, err)
	require.Equal(t, "L", got["title"])
}

func TestReopenKeepsEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "articles.db")
	b, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, b.PutFields(context.Background(), "k", map[string]string{"title": "T"}, time.Hour))
	require.NoError(t, b.Close())

	b, err = Open(path)
	require.NoError(t, err)
	defer b.Close() //nolint:errcheck // test cleanup
	got, err := b.GetFields(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "T", got["title"])
}

func TestArticleStoreOverBolt(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	s := store.New(openTestBackend(t, clk))
	ctx := context.Background()

	rec := article.Record{"title": "Hello", "published": "2024-04-30T10:00:00Z"}
	require.NoError(t, s.Put(ctx, "abc", rec, 10*24*time.Hour))

	got, ok, err := s.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec, got)
	require.Equal(t, store.StatusConnected, s.Status(ctx))

	clk.Advance(10 * 24 * time.Hour)
	_, ok, err = s.Get(ctx, "abc")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReaperSchedule(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	b := openTestBackend(t, clk)

	_, err := NewReaper(b, "not a schedule")
	require.ErrorContains(t, err, "invalid reap schedule")

	r, err := NewReaper(b, "@every 1h", WithReapTimeout(5*time.Second))
	require.NoError(t, err)
	r.Start()
	r.Start()
	r.Stop()
	r.Stop()

	require.NoError(t, b.PutFields(context.Background(), "k", map[string]string{"title": "T"}, time.Second))
	clk.Advance(time.Minute)
	r.runOnce()
	removed, err := b.Reap(context.Background())
	require.NoError(t, err)
	require.Zero(t, removed)
}
