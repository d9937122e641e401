package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-gateway/internal/article"
	"github.com/JakeFAU/article-gateway/internal/id/uuid"
	"github.com/JakeFAU/article-gateway/internal/metrics"
	"github.com/JakeFAU/article-gateway/internal/store"
)

const (
	healthCheckTimeout = 2 * time.Second
	msgNotFound        = "Not found"
)

// Retriever serves articles for URLs.
type Retriever interface {
	Retrieve(ctx context.Context, rawURL string) (article.Result, error)
}

// StoreHealth reports article store reachability.
type StoreHealth interface {
	Status(ctx context.Context) store.Status
}

// Options configures the HTTP surface. Request deadlines belong to the
// http.Server and the fetchers; the handlers add none of their own.
type Options struct {
	// Production hides store and transport causes from error messages.
	Production   bool
	SecretKeys   []string
	MaxBodyBytes int64
}

// Server wires HTTP handlers to the retrieval orchestrator.
type Server struct {
	router     chi.Router
	retriever  Retriever
	health     StoreHealth
	gate       *Gate
	clock      article.Clock
	logger     *zap.Logger
	started    time.Time
	production bool
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	retriever Retriever,
	health StoreHealth,
	clock article.Clock,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		retriever:  retriever,
		health:     health,
		gate:       NewGate(opts.SecretKeys, opts.MaxBodyBytes),
		clock:      clock,
		logger:     logger,
		started:    clock.Now(),
		production: opts.Production,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger, s))
	r.Use(metrics.Middleware)
	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.methodNotAllowed)

	r.Get("/health", s.healthReport)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/", s.retrieve)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request) {
	start := s.clock.Now()
	req, err := s.gate.Admit(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.retriever.Retrieve(r.Context(), req.URL)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	now := s.clock.Now()
	writeJSON(w, http.StatusOK, NewSuccess(res, now.Sub(start), now))
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := article.KindOf(err)
	fields := []zap.Field{
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}
	switch kind {
	case article.KindValidation, article.KindAuth, article.KindMethod:
		s.logger.Debug("request rejected", fields...)
	default:
		s.logger.Warn("retrieval failed", fields...)
	}
	writeFailure(w, err, s.production, s.clock.Now())
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		w.Header().Set("Allow", http.MethodPost)
	}
	s.fail(w, r, article.MethodNotAllowed())
}

func (s *Server) notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorEnvelope{
		Status:    StatusError,
		Error:     msgNotFound,
		Timestamp: FormatTimestamp(s.clock.Now()),
	})
}

type healthResponse struct {
	Status    string       `json:"status"`
	Store     store.Status `json:"store"`
	Uptime    int64        `json:"uptime"`
	Timestamp string       `json:"timestamp"`
}

func (s *Server) storeStatus(ctx context.Context) store.Status {
	if s.health == nil {
		return store.StatusNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return s.health.Status(ctx)
}

func (s *Server) healthReport(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Store:     s.storeStatus(r.Context()),
		Uptime:    int64(now.Sub(s.started).Seconds()),
		Timestamp: FormatTimestamp(now),
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.storeStatus(r.Context()) != store.StatusConnected {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.RequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger, s *Server) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						zap.String("request_id", requestIDFrom(r.Context())),
						zap.Any("panic", rec),
						zap.Stack("stack"),
					)
					writeFailure(w, fmt.Errorf("panic: %v", rec), s.production, s.clock.Now())
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}
