// Package fetcher composes the two fetch tiers behind one interface.
package fetcher

import (
	"context"

	"github.com/if001/search-scrape/internal/scrape"
)

// Hybrid pairs the lightweight HTTP fetcher with a rendered fetcher so the
// pipeline can escalate explicitly.
type Hybrid struct {
	http    scrape.PageFetcher
	browser scrape.PageFetcher
}

// NewHybrid builds a Hybrid. Pass a headless.Noop browser fetcher when
// rendering is disabled.
func NewHybrid(httpFetcher, browserFetcher scrape.PageFetcher) *Hybrid {
	return &Hybrid{http: httpFetcher, browser: browserFetcher}
}

// FetchHTTP performs the lightweight fetch.
func (h *Hybrid) FetchHTTP(ctx context.Context, url string) (scrape.PageFetchResult, error) {
	return h.http.Fetch(ctx, url)
}

// FetchBrowser performs the rendered fetch.
func (h *Hybrid) FetchBrowser(ctx context.Context, url string) (scrape.PageFetchResult, error) {
	return h.browser.Fetch(ctx, url)
}
