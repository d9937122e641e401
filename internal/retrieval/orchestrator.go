package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/article-gateway/internal/archive"
	"github.com/JakeFAU/article-gateway/internal/article"
	"github.com/JakeFAU/article-gateway/internal/cachekey"
	"github.com/JakeFAU/article-gateway/internal/clock"
	"github.com/JakeFAU/article-gateway/internal/id/uuid"
	"github.com/JakeFAU/article-gateway/internal/metrics"
	"github.com/JakeFAU/article-gateway/internal/telemetry"
)

// EventExtracted is the event name published after a successful miss.
const EventExtracted = "article.extracted"

// Side-effect sink labels.
const (
	sinkArchive      = "archive"
	sinkRetrievalLog = "retrieval_log"
	sinkPublisher    = "publisher"
	sinkID           = "id"
)

// KeyDeriver maps a URL to its cache key.
type KeyDeriver interface {
	Derive(rawURL string) cachekey.Key
}

// Archiver stores the raw page for a key.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) (archive.Entry, error)
}

// Config holds the immutable cache policy.
type Config struct {
	TTL time.Duration
	// Coalesce shares one fetch among concurrent misses for the same key.
	Coalesce bool
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(c article.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithArchiver archives every successfully fetched page.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithRetrievalLog records one row per miss-path cycle.
func WithRetrievalLog(log article.RetrievalLog) Option {
	return func(o *Orchestrator) { o.retrievals = log }
}

// WithPublisher publishes an event after each successful extraction.
func WithPublisher(p article.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithIDGenerator sets the generator used for retrieval and event IDs.
func WithIDGenerator(ids article.IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = ids }
}

// Orchestrator runs retrievals. It is safe for concurrent use.
type Orchestrator struct {
	deriver   KeyDeriver
	store     article.Store
	fetcher   article.Fetcher
	extractor article.Extractor
	cfg       Config

	logger     *zap.Logger
	clock      article.Clock
	archiver   Archiver
	retrievals article.RetrievalLog
	publisher  article.Publisher
	ids        article.IDGenerator
	tracer     trace.Tracer

	group singleflight.Group
}

// New builds an Orchestrator. The TTL must be positive.
func New(
	deriver KeyDeriver,
	store article.Store,
	fetcher article.Fetcher,
	extractor article.Extractor,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	switch {
	case deriver == nil:
		return nil, fmt.Errorf("key deriver is required")
	case store == nil:
		return nil, fmt.Errorf("article store is required")
	case fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case cfg.TTL <= 0:
		return nil, fmt.Errorf("ttl must be positive, got %s", cfg.TTL)
	}
	o := &Orchestrator{
		deriver:   deriver,
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		cfg:       cfg,
		logger:    zap.NewNop(),
		clock:     clock.New(),
		ids:       uuid.New(),
		tracer:    telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Retrieve returns the article for rawURL, from cache when present. Errors are
// *article.Error values. A failed cache write does not fail the call.
func (o *Orchestrator) Retrieve(ctx context.Context, rawURL string) (article.Result, error) {
	key := o.deriver.Derive(rawURL).String()
	ctx, span := o.tracer.Start(ctx, "retrieval.Retrieve", trace.WithAttributes(
		attribute.String("article.url", rawURL),
		attribute.String("article.cache_key", key),
	))
	defer span.End()

	logger := o.logger.With(zap.String("url", rawURL), zap.String("key", key))

	fields, ok, err := o.store.Get(ctx, key)
	if err != nil {
		metrics.ObserveCacheLookup(metrics.LookupError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "store read failed")
		logger.Error("article store read failed", zap.Error(err))
		return article.Result{Key: key}, article.StoreFailed(err)
	}
	if ok && !fields.IsEmpty() {
		metrics.ObserveCacheLookup(metrics.LookupHit)
		span.SetAttributes(attribute.Bool("article.cached", true))
		logger.Debug("cache hit")
		return article.Result{Key: key, Article: fields, Cached: true}, nil
	}
	metrics.ObserveCacheLookup(metrics.LookupMiss)
	span.SetAttributes(attribute.Bool("article.cached", false))

	var result article.Result
	if o.cfg.Coalesce {
		v, err, shared := o.group.Do(key, func() (any, error) {
			return o.fill(ctx, key, rawURL)
		})
		if shared {
			metrics.ObserveInflightShared()
		}
		result, _ = v.(article.Result)
		if shared {
			result.Article = result.Article.Clone()
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, article.PublicMessage(err, true))
			return article.Result{Key: key}, err
		}
		return result, nil
	}

	result, err = o.fill(ctx, key, rawURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, article.PublicMessage(err, true))
	}
	return result, err
}

// cycle collects what a miss produced for the retrieval log.
type cycle struct {
	key          string
	url          string
	started      time.Time
	statusCode   int
	usedHeadless bool
	archived     archive.Entry
}

// fill runs one fetch-extract-store cycle. It is detached from the caller's
// cancellation; fetch timeouts bound it instead.
func (o *Orchestrator) fill(parent context.Context, key, rawURL string) (article.Result, error) {
	ctx := context.WithoutCancel(parent)
	logger := o.logger.With(zap.String("url", rawURL), zap.String("key", key))
	c := cycle{key: key, url: rawURL, started: o.clock.Now()}

	resp, err := o.fetch(ctx, rawURL)
	c.statusCode = resp.StatusCode
	c.usedHeadless = resp.UsedHeadless
	if err != nil {
		logger.Warn("fetch failed", zap.Error(err))
		o.finish(ctx, c, article.OutcomeFetchFailed, err)
		return article.Result{Key: key}, article.FetchFailed(err)
	}
	if !acceptedStatus(resp.StatusCode) {
		fetchErr := article.FetchStatus(resp.StatusCode)
		logger.Info("upstream rejected request", zap.Int("status", resp.StatusCode))
		o.finish(ctx, c, article.OutcomeFetchFailed, fetchErr)
		return article.Result{Key: key}, fetchErr
	}

	c.archived = o.archive(ctx, logger, key, resp.Body)

	fields, ok := o.extract(ctx, resp.Body, rawURL)
	if !ok {
		extractErr := article.ExtractionFailed()
		logger.Info("no article content found", zap.Int("bytes", len(resp.Body)))
		o.finish(ctx, c, article.OutcomeExtractFailed, extractErr)
		return article.Result{Key: key}, extractErr
	}

	outcome := article.OutcomeStored
	if err := o.put(ctx, key, fields); err != nil {
		outcome = article.OutcomeUncached
		logger.Warn("article store write failed; serving uncached", zap.Error(err))
	}
	o.finish(ctx, c, outcome, nil)
	o.publish(ctx, logger, c, fields, outcome == article.OutcomeStored)

	return article.Result{Key: key, Article: fields, Cached: false}, nil
}

func (o *Orchestrator) fetch(ctx context.Context, rawURL string) (article.FetchResponse, error) {
	ctx, span := o.tracer.Start(ctx, "retrieval.fetch")
	defer span.End()
	resp, err := o.fetcher.Fetch(ctx, article.FetchRequest{URL: rawURL})
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Bool("fetch.headless", resp.UsedHeadless),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
	}
	return resp, err
}

func (o *Orchestrator) extract(ctx context.Context, body []byte, rawURL string) (article.Record, bool) {
	_, span := o.tracer.Start(ctx, "retrieval.extract")
	defer span.End()
	fields, ok := o.extractor.Extract(body, rawURL)
	if !ok || fields.IsEmpty() {
		span.SetStatus(codes.Error, "no article")
		return nil, false
	}
	span.SetAttributes(attribute.Int("article.fields", len(fields)))
	return fields, true
}

func (o *Orchestrator) put(ctx context.Context, key string, fields article.Record) error {
	ctx, span := o.tracer.Start(ctx, "retrieval.store")
	defer span.End()
	err := o.store.Put(ctx, key, fields, o.cfg.TTL)
	metrics.ObserveCacheWrite(err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store write failed")
	}
	return err
}

func (o *Orchestrator) archive(ctx context.Context, logger *zap.Logger, key string, body []byte) archive.Entry {
	if o.archiver == nil {
		return archive.Entry{}
	}
	entry, err := o.archiver.Archive(ctx, key, body)
	if err != nil {
		metrics.ObserveSideEffectError(sinkArchive)
		logger.Warn("archive page failed", zap.Error(err))
		return archive.Entry{}
	}
	return entry
}

func (o *Orchestrator) finish(ctx context.Context, c cycle, outcome article.Outcome, cause error) {
	metrics.ObserveRetrieval(string(outcome))
	if o.retrievals == nil {
		return
	}
	id, err := o.newID()
	if err != nil {
		o.logger.Warn("generate retrieval id failed", zap.Error(err))
		return
	}
	record := article.RetrievalRecord{
		ID:           id,
		CacheKey:     c.key,
		URL:          c.url,
		Outcome:      outcome,
		StatusCode:   c.statusCode,
		UsedHeadless: c.usedHeadless,
		ContentHash:  c.archived.ContentHash,
		ArchiveURI:   c.archived.URI,
		DurationMs:   o.clock.Now().Sub(c.started).Milliseconds(),
		RetrievedAt:  c.started,
	}
	if cause != nil {
		record.ErrorText = cause.Error()
	}
	if err := o.retrievals.StoreRetrieval(ctx, record); err != nil {
		metrics.ObserveSideEffectError(sinkRetrievalLog)
		o.logger.Warn("record retrieval failed", zap.String("key", c.key), zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, c cycle, fields article.Record, cached bool) {
	if o.publisher == nil {
		return
	}
	id, err := o.newID()
	if err != nil {
		logger.Warn("generate event id failed", zap.Error(err))
		return
	}
	event := article.ExtractedEvent{
		ID:         id,
		Event:      EventExtracted,
		URL:        c.url,
		CacheKey:   c.key,
		Title:      fields[article.FieldTitle],
		Cached:     cached,
		ArchiveURI: c.archived.URI,
		Timestamp:  o.clock.Now(),
	}
	if _, err := o.publisher.Publish(ctx, EventExtracted, event); err != nil {
		metrics.ObserveSideEffectError(sinkPublisher)
		logger.Warn("publish extracted event failed", zap.Error(err))
	}
}

func (o *Orchestrator) newID() (string, error) {
	if o.ids == nil {
		return "", fmt.Errorf("id generator is not configured")
	}
	id, err := o.ids.NewID()
	if err != nil {
		metrics.ObserveSideEffectError(sinkID)
		return "", fmt.Errorf("new id: %w", err)
	}
	return id, nil
}

func acceptedStatus(code int) bool {
	return code == http.StatusOK || code == http.StatusCreated
}
