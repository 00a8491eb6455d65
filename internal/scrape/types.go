// Package scrape defines the core types and interfaces shared across the
// search-scrape pipeline subsystems.
package scrape

import "context"

// TimeRange restricts search results to a recency window. The zero value
// means no restriction.
type TimeRange string

// Supported time range filters. The non-any values match the single-letter
// codes most SERP backends accept.
const (
	TimeRangeAny   TimeRange = "any"
	TimeRangeDay   TimeRange = "d"
	TimeRangeWeek  TimeRange = "w"
	TimeRangeMonth TimeRange = "m"
	TimeRangeYear  TimeRange = "y"
)

// SearchOptions carries engine-dependent quality filters.
type SearchOptions struct {
	// Language is a hint only; engines interpret it differently.
	Language string
	// Region selects the engine's regional index (e.g. "jp-jp").
	Region string
	// TimeRange limits result recency when the engine supports it.
	TimeRange TimeRange
}

// SearchQuery is a single search request: free text plus a desired result
// count and optional filters.
type SearchQuery struct {
	Term    string
	Limit   int
	Options SearchOptions
}

// SearchResult is one ranked entry from a search engine. Rank is positive
// and stable within a query.
type SearchResult struct {
	Rank    int
	Title   string
	URL     string
	Snippet string
}

// PageFetchResult is the outcome of fetching one page, regardless of status
// code. Non-2xx responses are valid results; only transport failures surface
// as errors from a PageFetcher.
type PageFetchResult struct {
	RequestedURL string
	FinalURL     string
	StatusCode   int
	ContentType  string
	HTML         string
}

// Document is a fetched, cleaned and converted page, keyed by its final
// post-redirect URL.
type Document struct {
	URL      string
	Title    string
	Markdown string
}

// SearchEngine returns ranked results for a query.
type SearchEngine interface {
	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)
}

// PageFetcher retrieves a single URL.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (PageFetchResult, error)
}

// HybridFetcher exposes the two fetch tiers explicitly so the pipeline can
// choose when to pay for a browser render.
type HybridFetcher interface {
	FetchHTTP(ctx context.Context, url string) (PageFetchResult, error)
	FetchBrowser(ctx context.Context, url string) (PageFetchResult, error)
}

// URLValidator rejects fetch targets that must never be contacted.
type URLValidator interface {
	Validate(ctx context.Context, url string) error
}

// HTMLCleaner extracts the readable part of a page. An empty fragment means
// nothing extractable.
type HTMLCleaner interface {
	Clean(html string) (title string, fragment string)
}

// MarkdownConverter turns a cleaned HTML fragment into markdown text.
type MarkdownConverter interface {
	Convert(fragment string) (string, error)
}

// DocumentPostProcessor is an optional hook applied once to the full batch
// before it is returned to the caller.
type DocumentPostProcessor interface {
	Process(ctx context.Context, docs []Document) ([]Document, error)
}
