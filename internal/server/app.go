// Package server builds the gateway from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-gateway/internal/api"
	"github.com/JakeFAU/article-gateway/internal/archive"
	"github.com/JakeFAU/article-gateway/internal/article"
	"github.com/JakeFAU/article-gateway/internal/cachekey"
	"github.com/JakeFAU/article-gateway/internal/clock"
	"github.com/JakeFAU/article-gateway/internal/config"
	"github.com/JakeFAU/article-gateway/internal/extractor"
	collyfetcher "github.com/JakeFAU/article-gateway/internal/fetcher/colly"
	"github.com/JakeFAU/article-gateway/internal/fetcher/escalating"
	headlessfetcher "github.com/JakeFAU/article-gateway/internal/fetcher/headless"
	"github.com/JakeFAU/article-gateway/internal/headless/detector"
	"github.com/JakeFAU/article-gateway/internal/id/uuid"
	"github.com/JakeFAU/article-gateway/internal/logging"
	memorypublisher "github.com/JakeFAU/article-gateway/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/article-gateway/internal/publisher/pubsub"
	"github.com/JakeFAU/article-gateway/internal/retrieval"
	gcsstorage "github.com/JakeFAU/article-gateway/internal/storage/gcs"
	localstorage "github.com/JakeFAU/article-gateway/internal/storage/local"
	memorystorage "github.com/JakeFAU/article-gateway/internal/storage/memory"
	pgstore "github.com/JakeFAU/article-gateway/internal/storage/postgres"
	"github.com/JakeFAU/article-gateway/internal/store"
	boltstore "github.com/JakeFAU/article-gateway/internal/store/bolt"
	memorystore "github.com/JakeFAU/article-gateway/internal/store/memory"
	redisstore "github.com/JakeFAU/article-gateway/internal/store/redis"
	"github.com/JakeFAU/article-gateway/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  article.Clock

	store        *store.ArticleStore
	reaper       *boltstore.Reaper
	headless     *headlessfetcher.Fetcher
	archiver     *archive.Archiver
	storage      *storage.Client
	retrievals   *pgstore.RetrievalStore
	pubsub       *gcppublisher.Publisher
	telemetry    *telemetry.Providers
	orchestrator *retrieval.Orchestrator
	apiServer    *api.Server
}

// Build creates the application's dependencies. Anything opened before a
// failure is closed again.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.App.Development,
		Level:       cfg.App.LogLevel,
		Service:     cfg.App.ServiceName,
		Version:     cfg.App.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger, clock: clock.New()}
	if err := app.build(ctx); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	type sanitizedConfig struct {
		Port         int    `json:"port"`
		Environment  string `json:"environment"`
		StoreBackend string `json:"store_backend"`
		Archive      string `json:"archive"`
		Headless     bool   `json:"headless"`
		SecretKeys   int    `json:"secret_keys"`
	}
	a.logger.Info("building application dependencies", zap.Any("config", sanitizedConfig{
		Port:         a.cfg.Server.Port,
		Environment:  a.cfg.App.Environment,
		StoreBackend: a.cfg.Store.Backend,
		Archive:      a.cfg.Archive.Backend,
		Headless:     a.cfg.Headless.Enabled,
		SecretKeys:   len(a.cfg.Auth.SecretKeys),
	}))
	if len(a.cfg.Auth.SecretKeys) == 0 {
		a.logger.Warn("no secret keys configured; every retrieval request will be rejected")
	}

	var err error
	a.telemetry, err = telemetry.Init(ctx, telemetry.Options{
		ServiceName: a.cfg.App.ServiceName,
		Version:     a.cfg.App.Version,
		ProjectID:   a.cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return fmt.Errorf("telemetry init failed: %w", err)
	}

	if err := a.setupStore(); err != nil {
		return err
	}
	hasher, err := cachekey.HasherFor(a.cfg.Cache.KeyAlgorithm)
	if err != nil {
		return fmt.Errorf("key deriver init failed: %w", err)
	}
	fetcher := a.setupFetcher()
	format, err := extractor.ParseFormat(a.cfg.Extract.ContentFormat)
	if err != nil {
		return fmt.Errorf("extractor init failed: %w", err)
	}
	extract := extractor.New(extractor.Config{Format: format}, a.logger.Named("extractor"))

	opts := []retrieval.Option{
		retrieval.WithLogger(a.logger.Named("retrieval")),
		retrieval.WithClock(a.clock),
		retrieval.WithIDGenerator(uuid.New()),
	}
	archiveOpt, err := a.setupArchive(ctx, hasher)
	if err != nil {
		return err
	}
	if archiveOpt != nil {
		opts = append(opts, archiveOpt)
	}
	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	if a.retrievals != nil {
		opts = append(opts, retrieval.WithRetrievalLog(a.retrievals))
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	opts = append(opts, retrieval.WithPublisher(publisher))

	a.orchestrator, err = retrieval.New(
		cachekey.New(hasher),
		a.store,
		fetcher,
		extract,
		retrieval.Config{TTL: a.cfg.TTL(), Coalesce: a.cfg.Cache.CoalesceInflight},
		opts...,
	)
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}
	a.logger.Info("cache policy",
		zap.Int("ttl_days", a.cfg.TTLDays()),
		zap.String("key_algorithm", a.cfg.Cache.KeyAlgorithm),
		zap.Bool("coalesce_inflight", a.cfg.Cache.CoalesceInflight),
	)

	a.apiServer = api.NewServer(a.orchestrator, a.store, a.clock, api.Options{
		Production:   a.cfg.Production(),
		SecretKeys:   a.cfg.Auth.SecretKeys,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
	}, a.logger.Named("api"))
	return nil
}

func (a *App) setupStore() error {
	logger := a.logger.Named("store")
	var backend store.Backend
	switch a.cfg.Store.Backend {
	case "memory":
		logger.Info("using in-memory article store")
		backend = memorystore.New()
	case "bolt":
		b, err := boltstore.Open(a.cfg.Store.Bolt.Path, boltstore.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("bolt store init failed: %w", err)
		}
		backend = b
		a.reaper, err = boltstore.NewReaper(b, a.cfg.Store.Bolt.ReapSchedule, boltstore.WithReaperLogger(logger))
		if err != nil {
			_ = b.Close()
			return fmt.Errorf("bolt reaper init failed: %w", err)
		}
		a.reaper.Start()
		logger.Info("using bolt article store",
			zap.String("path", a.cfg.Store.Bolt.Path),
			zap.String("reap_schedule", a.cfg.Store.Bolt.ReapSchedule),
		)
	default:
		if a.cfg.Store.URL == "" {
			logger.Warn("no store url configured; article store is not configured")
			break
		}
		b, err := redisstore.Dial(a.cfg.Store.URL, a.cfg.Store.Token)
		if err != nil {
			return fmt.Errorf("redis store init failed: %w", err)
		}
		backend = b
		logger.Info("using redis article store")
	}
	a.store = store.New(backend, store.WithKeyPrefix(a.cfg.Store.KeyPrefix))
	return nil
}

func (a *App) setupFetcher() article.Fetcher {
	logger := a.logger.Named("fetcher")
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Fetcher.UserAgent,
		RespectRobots: a.cfg.Fetcher.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
	})
	logger.Info("using colly probe fetcher",
		zap.Duration("timeout", a.cfg.FetchTimeout()),
		zap.Bool("respect_robots", a.cfg.Fetcher.RespectRobots),
	)

	var headless article.Fetcher
	if a.cfg.Headless.Enabled {
		h, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Fetcher.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed; continuing with probe only", zap.Error(err))
		} else {
			a.headless = h
			headless = h
			logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		}
	}
	return escalating.New(probe, headless, detector.NewHeuristic(0), logger)
}

func (a *App) setupArchive(ctx context.Context, hasher article.Hasher) (retrieval.Option, error) {
	logger := a.logger.Named("archive")
	var blobs article.BlobStore
	switch a.cfg.Archive.Backend {
	case "memory":
		blobs = memorystorage.NewBlobStore()
	case "local":
		local, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		blobs = local
	case "gcs":
		gcs, client, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.storage = client
		blobs = gcs
	default:
		logger.Info("page archive disabled")
		return nil, nil
	}
	var err error
	a.archiver, err = archive.New(blobs, hasher, a.clock, a.cfg.Archive.Prefix)
	if err != nil {
		return nil, fmt.Errorf("archiver init failed: %w", err)
	}
	logger.Info("page archive enabled",
		zap.String("backend", a.cfg.Archive.Backend),
		zap.String("prefix", a.cfg.Archive.Prefix),
	)
	return retrieval.WithArchiver(a.archiver), nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Info("no database dsn configured; retrieval log disabled")
		return nil
	}
	var err error
	a.retrievals, err = pgstore.NewRetrievalStore(ctx, pgstore.RetrievalStoreConfig{
		DSN:            a.cfg.Database.DSN,
		Table:          a.cfg.Database.Table,
		MaxConns:       a.cfg.Database.MaxConns,
		MinConns:       a.cfg.Database.MinConns,
		ConnectTimeout: time.Duration(a.cfg.Database.ConnectTimeout) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("retrieval store init failed: %w", err)
	}
	a.logger.Info("retrieval log initialized", zap.String("table", a.cfg.Database.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (article.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	a.pubsub, err = gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsub, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Orchestrator exposes the retrieval core for one-shot commands.
func (a *App) Orchestrator() *retrieval.Orchestrator {
	return a.orchestrator
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled or a termination signal arrives, then
// shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      a.cfg.RequestTimeout(),
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	if err, ok := <-serveErr; ok && err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return closeErr
}

// Close releases every resource Build opened. It is safe to call on a
// partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.reaper != nil {
		a.reaper.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close article store: %w", err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.archiver != nil {
		if err := a.archiver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archiver: %w", err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.retrievals != nil {
		a.retrievals.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, err := range errs {
		a.logger.Warn("shutdown error", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
