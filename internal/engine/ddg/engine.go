// Package ddg scrapes the DuckDuckGo HTML endpoint for search results. The
// markup and parameters are DDG-specific and change over time, so everything
// provider-shaped is isolated here behind scrape.SearchEngine.
package ddg

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/if001/search-scrape/internal/scrape"
	"github.com/if001/search-scrape/internal/urlutil"
)

const (
	defaultBaseURL = "https://html.duckduckgo.com/html/"
	defaultRegion  = "jp-jp"
	// Normalization and dedupe thin the raw list, so over-fetch.
	overFetchFactor = 3
)

// Engine implements scrape.SearchEngine against the DDG HTML SERP.
type Engine struct {
	client    *http.Client
	baseURL   string
	userAgent string
}

// Option adjusts Engine construction.
type Option func(*Engine)

// WithBaseURL points the engine at a different endpoint, mainly for tests.
func WithBaseURL(base string) Option {
	return func(e *Engine) { e.baseURL = base }
}

// New builds an Engine over the given HTTP client.
func New(client *http.Client, opts ...Option) *Engine {
	e := &Engine{
		client:    client,
		baseURL:   defaultBaseURL,
		userAgent: "Mozilla/5.0",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search queries DDG and returns ranked, deduplicated results. Language is
// kept as an option but not forwarded; DDG has no reliable parameter for it.
func (e *Engine) Search(ctx context.Context, query scrape.SearchQuery) ([]scrape.SearchResult, error) {
	doc, err := e.fetchSERP(ctx, query)
	if err != nil {
		return nil, err
	}

	raw := parseResults(doc, query.Limit*overFetchFactor)
	return rerank(raw, query.Limit), nil
}

func (e *Engine) fetchSERP(ctx context.Context, query scrape.SearchQuery) (*goquery.Document, error) {
	params := url.Values{}
	params.Set("q", query.Term)
	region := query.Options.Region
	if region == "" {
		region = defaultRegion
	}
	params.Set("kl", region)
	if tr := query.Options.TimeRange; tr != "" && tr != scrape.TimeRangeAny {
		params.Set("df", string(tr))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}
	return doc, nil
}

func parseResults(doc *goquery.Document, max int) []scrape.SearchResult {
	var raw []scrape.SearchResult
	doc.Find("a.result__a").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		title := trimText(s.Text())
		if href == "" || title == "" {
			return true
		}
		snippet := ""
		if body := s.Closest("div.result__body"); body.Length() > 0 {
			snippet = trimText(body.Find(".result__snippet").First().Text())
		}
		raw = append(raw, scrape.SearchResult{
			Rank:    len(raw) + 1,
			Title:   title,
			URL:     href,
			Snippet: snippet,
		})
		return len(raw) < max
	})
	return raw
}

// rerank normalizes and deduplicates URLs, keeping first-seen metadata and
// reassigning dense ranks.
func rerank(raw []scrape.SearchResult, limit int) []scrape.SearchResult {
	normalized := make([]string, 0, len(raw))
	firstSeen := make(map[string]scrape.SearchResult, len(raw))
	for _, r := range raw {
		nu := urlutil.Normalize(r.URL)
		if !hasHTTPPrefix(nu) {
			continue
		}
		normalized = append(normalized, nu)
		if _, ok := firstSeen[nu]; !ok {
			firstSeen[nu] = r
		}
	}
	unique := urlutil.Dedupe(normalized)
	if limit > 0 && len(unique) > limit {
		unique = unique[:limit]
	}

	out := make([]scrape.SearchResult, 0, len(unique))
	for i, nu := range unique {
		base := firstSeen[nu]
		title := base.Title
		if title == "" {
			title = nu
		}
		out = append(out, scrape.SearchResult{
			Rank:    i + 1,
			Title:   title,
			URL:     nu,
			Snippet: base.Snippet,
		})
	}
	return out
}

func hasHTTPPrefix(u string) bool {
	return len(u) >= 4 && u[:4] == "http"
}

func trimText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
