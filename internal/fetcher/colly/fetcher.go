// Package collyfetcher implements the lightweight HTTP fetch tier using the
// Colly collector.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/if001/search-scrape/internal/scrape"
	"github.com/if001/search-scrape/internal/urlutil"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
}

// browserHeaders mimic a real browser so ordinary sites serve the same HTML
// they would to a person.
var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "ja,en-US;q=0.9,en;q=0.8",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
}

// Fetcher issues a single GET per URL with bounded redirects. Non-2xx
// responses are returned as results; only transport failures are errors.
type Fetcher struct {
	cfg           Config
	validator     scrape.URLValidator
	baseCollector *colly.Collector
}

// New builds a Fetcher. A nil validator disables safety checks and is meant
// for tests only.
func New(cfg Config, validator scrape.URLValidator) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		validator:     validator,
		baseCollector: c,
	}
}

// Fetch normalizes and safety-validates the URL, then retrieves it.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (scrape.PageFetchResult, error) {
	target := urlutil.Normalize(rawURL)
	if f.validator != nil {
		if err := f.validator.Validate(ctx, target); err != nil {
			return scrape.PageFetchResult{}, err
		}
	}

	collector := f.buildCollector()

	var (
		result   scrape.PageFetchResult
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		result = scrape.PageFetchResult{
			RequestedURL: target,
			FinalURL:     r.Request.URL.String(),
			StatusCode:   r.StatusCode,
			ContentType:  contentType,
			HTML:         string(r.Body),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		fetchErr = err
	})

	if err := f.runCollector(ctx, collector, target); err != nil {
		return scrape.PageFetchResult{}, err
	}
	if fetchErr != nil {
		return scrape.PageFetchResult{}, fmt.Errorf("fetch %s: %w", target, fetchErr)
	}
	if result.StatusCode == 0 {
		return scrape.PageFetchResult{}, fmt.Errorf("fetch %s produced no response", target)
	}
	return result, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) >= f.cfg.MaxRedirects {
			return fmt.Errorf("stopped after %d redirects", f.cfg.MaxRedirects)
		}
		return nil
	})
	collector.OnRequest(func(r *colly.Request) {
		for key, value := range browserHeaders {
			r.Headers.Set(key, value)
		}
	})
	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
