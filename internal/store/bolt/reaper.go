package bolt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-gateway/internal/metrics"
)

// Reaper periodically removes expired entries on a cron schedule.
type Reaper struct {
	backend *Backend
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	running bool
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReaperLogger sets the reaper logger.
func WithReaperLogger(logger *zap.Logger) ReaperOption {
	return func(r *Reaper) {
		r.logger = logger
	}
}

// WithReapTimeout bounds a single reap pass.
func WithReapTimeout(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		r.timeout = d
	}
}

// NewReaper schedules backend.Reap. schedule accepts standard cron specs and
// descriptors such as "@every 5m".
func NewReaper(backend *Backend, schedule string, opts ...ReaperOption) (*Reaper, error) {
	r := &Reaper{
		backend: backend,
		cron:    cron.New(),
		logger:  zap.NewNop(),
		timeout: time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	if _, err := r.cron.AddFunc(schedule, r.runOnce); err != nil {
		return nil, fmt.Errorf("invalid reap schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins running the schedule in the background.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.cron.Start()
	r.logger.Info("store reaper started")
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()
	<-r.cron.Stop().Done()
	r.logger.Info("store reaper stopped")
}

func (r *Reaper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	removed, err := r.backend.Reap(ctx)
	if err != nil {
		r.logger.Warn("reap failed", zap.Error(err))
		return
	}
	metrics.ObserveStoreReaped(removed)
	if removed > 0 {
		r.logger.Debug("reaped expired entries", zap.Int("removed", removed))
	}
}
