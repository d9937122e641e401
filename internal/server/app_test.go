package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-gateway/internal/config"
)

const articlePage = `<!doctype html>
<html><head>
<title>Fallback title</title>
<meta property="og:title" content="Gateway Launch">
<meta name="author" content="Jane Writer">
</head><body>
<article>
<p>The gateway fetches a page once and serves every later request from the cache until the entry expires.</p>
<p>Concurrent misses for the same page share a single fetch, and write failures still return the article.</p>
</article>
</body></html>`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		App: config.AppConfig{
			Environment: "test",
			ServiceName: "article-gateway",
			Version:     "test",
			LogLevel:    "error",
		},
		Server: config.ServerConfig{
			Port:                   0,
			RequestTimeoutSeconds:  10,
			ShutdownTimeoutSeconds: 5,
			MaxBodyBytes:           1 << 16,
		},
		Auth:    config.AuthConfig{SecretKeys: []string{"s3cret"}},
		Cache:   config.CacheConfig{TTLDays: "10", KeyAlgorithm: "sha256", CoalesceInflight: true},
		Store:   config.StoreConfig{Backend: "memory", KeyPrefix: "article:"},
		Fetcher: config.FetcherConfig{TimeoutSeconds: 5},
		Extract: config.ExtractConfig{ContentFormat: "html"},
		Archive: config.ArchiveConfig{Backend: "local", Prefix: "pages", LocalDir: t.TempDir()},
	}
}

func post(t *testing.T, h http.Handler, body string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	out["_code"] = rec.Code
	return out
}

func TestBuildServesMissThenHit(t *testing.T) {
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articlePage))
	}))
	defer origin.Close()

	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = app.Close(context.Background()) }()

	body := `{"url":"` + origin.URL + `/post","key":"s3cret"}`
	first := post(t, app.Handler(), body)
	require.Equal(t, http.StatusOK, first["_code"])
	require.EqualValues(t, 0, first["status"])
	require.Equal(t, false, first["cached"])
	fields := first["article"].(map[string]any)
	require.Equal(t, "Gateway Launch", fields["title"])
	require.Equal(t, "Jane Writer", fields["author"])

	second := post(t, app.Handler(), body)
	require.Equal(t, true, second["cached"])
	require.Equal(t, first["article"], second["article"])
	require.EqualValues(t, 1, hits.Load())

	archived, err := filepath.Glob(filepath.Join(cfg.Archive.LocalDir, "pages", "*", "*", "*.html.zst"))
	require.NoError(t, err)
	require.Len(t, archived, 1)

	missing := post(t, app.Handler(), `{"url":"`+origin.URL+`/post","key":"nope"}`)
	require.Equal(t, http.StatusUnauthorized, missing["_code"])
}

func TestBuildUpstreamErrorIsNotCached(t *testing.T) {
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	defer origin.Close()

	app, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer func() { _ = app.Close(context.Background()) }()

	body := `{"url":"` + origin.URL + `/gone","key":"s3cret"}`
	for range 2 {
		out := post(t, app.Handler(), body)
		require.Equal(t, http.StatusInternalServerError, out["_code"])
		require.Equal(t, "Failed to fetch URL: upstream returned status 404", out["error"])
	}
	require.EqualValues(t, 2, hits.Load())
}

func TestBuildRedisWithoutURLIsNotConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Backend: "redis"}
	cfg.Archive = config.ArchiveConfig{Backend: "none"}
	cfg.App.Environment = "production"

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = app.Close(context.Background()) }()

	out := post(t, app.Handler(), `{"url":"https://example.com/a","key":"s3cret"}`)
	require.Equal(t, http.StatusInternalServerError, out["_code"])
	require.Equal(t, "Service temporarily unavailable", out["error"])

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Contains(t, rec.Body.String(), `"store":"not_configured"`)
}

func TestBuildBoltStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{
		Backend: "bolt",
		Bolt:    config.BoltStoreConfig{Path: filepath.Join(t.TempDir(), "articles.db"), ReapSchedule: "@every 1h"},
	}

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, app.Orchestrator())
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildRejectsUnknownAlgorithm(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.KeyAlgorithm = "md5"

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "unknown key algorithm")
}

func TestRunStopsOnCancel(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
