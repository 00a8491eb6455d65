// Package headless implements the rendered fetch tier with chromedp and
// headless Chrome.
package headless

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/if001/search-scrape/internal/scrape"
	"github.com/if001/search-scrape/internal/urlutil"
)

// Config controls the rendered fetcher.
type Config struct {
	MaxParallel        int
	UserAgent          string
	NavigationTimeout  time.Duration
	ContentWaitTimeout time.Duration
	// RequireHTML makes a non-HTML document content-type a hard failure.
	RequireHTML bool
}

// blockedResources are subresource classes aborted before download; they
// never contribute to the extracted text.
var blockedResources = map[network.ResourceType]bool{
	network.ResourceTypeImage: true,
	network.ResourceTypeMedia: true,
	network.ResourceTypeFont:  true,
}

// Fetcher renders pages in headless Chrome and returns the resulting DOM.
type Fetcher struct {
	cfg         Config
	validator   scrape.URLValidator
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a rendered fetcher backed by a shared Chrome exec
// allocator.
func NewChromedp(cfg Config, validator scrape.URLValidator) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.ContentWaitTimeout <= 0 {
		cfg.ContentWaitTimeout = 5 * time.Second
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
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		validator:   validator,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders the URL and returns the fully rendered DOM plus the
// document response status and content-type captured off the wire.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (scrape.PageFetchResult, error) {
	target := urlutil.Normalize(rawURL)
	if f.validator != nil {
		if err := f.validator.Validate(ctx, target); err != nil {
			return scrape.PageFetchResult{}, err
		}
	}

	if err := f.acquire(ctx); err != nil {
		return scrape.PageFetchResult{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	f.listen(taskCtx, meta)

	html, finalURL, err := f.render(taskCtx, target)
	if err != nil {
		return scrape.PageFetchResult{}, err
	}

	status, contentType, responseURL := meta.snapshotWithFallbacks(target, finalURL)
	if f.cfg.RequireHTML && contentType != "" && !strings.Contains(strings.ToLower(contentType), "text/html") {
		return scrape.PageFetchResult{}, fmt.Errorf("rendered non-html content-type: %s", contentType)
	}

	return scrape.PageFetchResult{
		RequestedURL: target,
		FinalURL:     responseURL,
		StatusCode:   status,
		ContentType:  contentType,
		HTML:         html,
	}, nil
}

// listen wires the CDP event handlers: subresource blocking via the fetch
// domain and document response capture via the network domain.
func (f *Fetcher) listen(taskCtx context.Context, meta *responseMeta) {
	chromedp.ListenTarget(taskCtx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				c := chromedp.FromContext(taskCtx)
				execCtx := cdp.WithExecutor(taskCtx, c.Target)
				if blockedResources[e.ResourceType] {
					_ = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
					return
				}
				_ = fetch.ContinueRequest(e.RequestID).Do(execCtx)
			}()
		case *network.EventResponseReceived:
			meta.capture(e)
		}
	})
}

func (f *Fetcher) render(taskCtx context.Context, target string) (string, string, error) {
	actions := []chromedp.Action{
		network.Enable(),
		fetch.Enable(),
		f.userAgentAction(),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp navigate: %w", err)
	}

	// Opportunistic wait for a content container; sites without one are
	// still readable, so a timeout here is tolerated.
	waitCtx, waitCancel := context.WithTimeout(taskCtx, f.cfg.ContentWaitTimeout)
	_ = chromedp.Run(waitCtx, chromedp.WaitReady("main, article", chromedp.ByQuery))
	waitCancel()

	var (
		html     string
		finalURL string
	)
	if err := chromedp.Run(taskCtx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", "", fmt.Errorf("chromedp read dom: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if f.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
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
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
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

// responseMeta collects the main document's response status, content-type
// and URL from network events.
type responseMeta struct {
	mu          sync.RWMutex
	status      int
	contentType string
	url         string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	contentType := event.Response.MimeType
	for key, value := range event.Response.Headers {
		if strings.EqualFold(key, "content-type") {
			contentType = fmt.Sprint(value)
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.contentType = contentType
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string, string) {
	m.mu.RLock()
	status, contentType, url := m.status, m.contentType, m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = 200
	}
	return status, contentType, url
}
