// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/article-gateway/internal/article"
	"github.com/JakeFAU/article-gateway/internal/metrics"
)

// Name labels headless fetches in metrics.
const Name = "headless"

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready so challenge
	// interstitials can redirect to the real page.
	Settle time.Duration
}

// Fetcher implements article.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. The browser is
// started lazily on the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 1500 * time.Millisecond
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 900),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context and shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates with a headless browser and returns the fully rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request article.FetchRequest) (article.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return article.FetchResponse{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout())
	defer cancel()

	nav := &navigation{}
	chromedp.ListenTarget(taskCtx, nav.observe)

	start := time.Now()
	html, location, err := f.runHeadless(taskCtx, request)
	if err != nil {
		metrics.ObserveFetch(request.URL, Name, 0, 0, time.Since(start))
		return article.FetchResponse{}, err
	}
	elapsed := time.Since(start)

	page := nav.rendered(request.URL, location)
	if hops := nav.hopCount(); hops > 1 {
		metrics.ObserveHeadlessHops(hops)
	}
	metrics.ObserveFetch(request.URL, Name, page.status, len(html), elapsed)

	return article.FetchResponse{
		URL:          page.url,
		StatusCode:   page.status,
		Headers:      page.headers,
		Body:         []byte(html),
		Duration:     elapsed,
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) runHeadless(ctx context.Context, request article.FetchRequest) (string, string, error) {
	var (
		html     string
		location string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, location, nil
}

func (f *Fetcher) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).
				WithAcceptLanguage("en-US,en;q=0.9").Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

// documentHop is one top-level document response seen while navigating.
type documentHop struct {
	status  int
	url     string
	headers http.Header
}

// navigation collects document responses in arrival order. Challenge pages
// and redirects each add a hop before the article itself is served.
type navigation struct {
	mu   sync.Mutex
	hops []documentHop
}

func (n *navigation) observe(ev any) {
	event, ok := ev.(*network.EventResponseReceived)
	if !ok || event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	hop := documentHop{
		status:  int(event.Response.Status),
		url:     event.Response.URL,
		headers: fromNetworkHeaders(event.Response.Headers),
	}
	n.mu.Lock()
	n.hops = append(n.hops, hop)
	n.mu.Unlock()
}

// rendered describes the document on screen once navigation settled. location
// is the browser's final URL. The latest hop for that URL wins; a location
// with no matching hop was reached in-page (history API, script swap after a
// challenge) and is reported as 200 since its DOM is what was captured.
func (n *navigation) rendered(requestURL, location string) documentHop {
	n.mu.Lock()
	defer n.mu.Unlock()

	if location == "" && len(n.hops) > 0 {
		location = n.hops[len(n.hops)-1].url
	}
	if location == "" {
		location = requestURL
	}
	for i := len(n.hops) - 1; i >= 0; i-- {
		hop := n.hops[i]
		if hop.url != location {
			continue
		}
		if hop.status == 0 {
			hop.status = http.StatusOK
		}
		hop.headers = hop.headers.Clone()
		return hop
	}
	return documentHop{status: http.StatusOK, url: location, headers: http.Header{}}
}

// hopCount reports how many documents were loaded before settling.
func (n *navigation) hopCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.hops)
}

func fromNetworkHeaders(src network.Headers) http.Header {
	headers := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
