// Package escalating composes a cheap probe fetcher with a headless fallback
// for pages guarded by bot challenges or rendered client side.
package escalating

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-gateway/internal/article"
	"github.com/JakeFAU/article-gateway/internal/metrics"
)

// Fetcher tries the probe first and promotes to headless at most once.
type Fetcher struct {
	probe    article.Fetcher
	headless article.Fetcher
	detector article.HeadlessDetector
	logger   *zap.Logger
}

// New builds a Fetcher. A nil headless fetcher disables promotion.
func New(probe, headless article.Fetcher, detector article.HeadlessDetector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		probe:    probe,
		headless: headless,
		detector: detector,
		logger:   logger,
	}
}

// Fetch returns the probe response unless the detector asks for a headless
// render. A failed headless attempt falls back to whatever the probe got, so
// the caller sees the original status rather than a browser error.
func (f *Fetcher) Fetch(ctx context.Context, request article.FetchRequest) (article.FetchResponse, error) {
	probeResp, probeErr := f.probe.Fetch(ctx, request)
	if f.headless == nil {
		return probeResp, probeErr
	}
	if probeErr == nil && (f.detector == nil || !f.detector.ShouldPromote(probeResp)) {
		return probeResp, nil
	}

	metrics.ObserveHeadlessPromotion()
	f.logger.Debug("promoting to headless",
		zap.String("url", request.URL),
		zap.Int("probe_status", probeResp.StatusCode),
		zap.Error(probeErr),
	)

	rendered, err := f.headless.Fetch(ctx, request)
	if err != nil {
		f.logger.Warn("headless fetch failed", zap.String("url", request.URL), zap.Error(err))
		return probeResp, probeErr
	}
	return rendered, nil
}
