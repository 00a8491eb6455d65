package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/if001/search-scrape/internal/botwall"
	"github.com/if001/search-scrape/internal/escalate"
	"github.com/if001/search-scrape/internal/limiter"
	"github.com/if001/search-scrape/internal/metrics"
	"github.com/if001/search-scrape/internal/negcache"
	"github.com/if001/search-scrape/internal/scrape"
)

type fakeEngine struct {
	results []scrape.SearchResult
	err     error
}

func (f *fakeEngine) Search(context.Context, scrape.SearchQuery) ([]scrape.SearchResult, error) {
	return f.results, f.err
}

type fakeFetcher struct {
	mu           sync.Mutex
	httpPages    map[string]scrape.PageFetchResult
	httpErrs     map[string]error
	browserPage  scrape.PageFetchResult
	browserErr   error
	httpCalls    []string
	browserCalls []string
}

func (f *fakeFetcher) FetchHTTP(_ context.Context, url string) (scrape.PageFetchResult, error) {
	f.mu.Lock()
	f.httpCalls = append(f.httpCalls, url)
	f.mu.Unlock()
	if err := f.httpErrs[url]; err != nil {
		return scrape.PageFetchResult{}, err
	}
	return f.httpPages[url], nil
}

func (f *fakeFetcher) FetchBrowser(_ context.Context, url string) (scrape.PageFetchResult, error) {
	f.mu.Lock()
	f.browserCalls = append(f.browserCalls, url)
	f.mu.Unlock()
	if f.browserErr != nil {
		return scrape.PageFetchResult{}, f.browserErr
	}
	return f.browserPage, nil
}

type putCall struct {
	url    string
	status int
	reason string
}

type memStore struct {
	mu      sync.Mutex
	entries map[string]*negcache.Entry
	puts    []putCall
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]*negcache.Entry{}}
}

func (s *memStore) Get(_ context.Context, url string) (*negcache.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[url], nil
}

func (s *memStore) Put(_ context.Context, url string, statusCode int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, putCall{url: url, status: statusCode, reason: reason})
	return nil
}

// passCleaner hands the page body straight through as the fragment.
type passCleaner struct{}

func (passCleaner) Clean(html string) (string, string) {
	if html == "" {
		return "", ""
	}
	return "Title", html
}

// passConverter returns the fragment unchanged.
type passConverter struct{}

func (passConverter) Convert(fragment string) (string, error) {
	return fragment, nil
}

func okPage(url, html string) scrape.PageFetchResult {
	return scrape.PageFetchResult{
		RequestedURL: url,
		FinalURL:     url,
		StatusCode:   200,
		ContentType:  "text/html; charset=utf-8",
		HTML:         html,
	}
}

// longHTML is comfortably above every threshold used in these tests and
// carries no challenge signature or app-shell marker.
var longHTML = strings.Repeat("<p>plain readable paragraph text</p>\n", 40)

type runnerOpts struct {
	minMarkdownChars int
	escalateBytes    int
	store            *memStore
}

func newTestRunner(t *testing.T, fetcher *fakeFetcher, eng *fakeEngine, opts runnerOpts) (*Runner, *memStore) {
	t.Helper()
	metrics.Init()

	if opts.minMarkdownChars == 0 {
		opts.minMarkdownChars = 10
	}
	if opts.escalateBytes == 0 {
		opts.escalateBytes = 1
	}
	if opts.store == nil {
		opts.store = newMemStore()
	}

	lim, err := limiter.New(limiter.Config{Global: 8, PerHost: 2})
	require.NoError(t, err)

	r, err := New(
		Config{MinMarkdownChars: opts.minMarkdownChars},
		Deps{
			Engine:    eng,
			Fetcher:   fetcher,
			Limiter:   lim,
			Cache:     opts.store,
			Detector:  botwall.New(botwall.Config{Treat403AsSuspect: true}),
			Heuristic: escalate.NewHeuristic(opts.escalateBytes),
			Cleaner:   passCleaner{},
			Converter: passConverter{},
		},
	)
	require.NoError(t, err)
	return r, opts.store
}

func TestRun_DedupesNormalizedURLs(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/x"
	eng := &fakeEngine{results: []scrape.SearchResult{
		{Rank: 1, Title: "a", URL: "https://example.com/x?utm_source=1"},
		{Rank: 2, Title: "b", URL: "https://Example.com/x"},
	}}
	fetcher := &fakeFetcher{httpPages: map[string]scrape.PageFetchResult{
		target: okPage(target, longHTML),
	}}
	r, _ := newTestRunner(t, fetcher, eng, runnerOpts{})

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, target, docs[0].URL)
	require.Len(t, fetcher.httpCalls, 1)
}

func TestRun_FiltersNonHTTPURLs(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{results: []scrape.SearchResult{
		{Rank: 1, Title: "junk", URL: "javascript:void(0)"},
	}}
	fetcher := &fakeFetcher{httpPages: map[string]scrape.PageFetchResult{}}
	r, _ := newTestRunner(t, fetcher, eng, runnerOpts{})

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Empty(t, fetcher.httpCalls)
}

func TestRun_Weak403YieldsCacheEntryAndNoDocs(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/blocked"
	eng := &fakeEngine{results: []scrape.SearchResult{{Rank: 1, URL: target, Title: "t"}}}
	fetcher := &fakeFetcher{httpPages: map[string]scrape.PageFetchResult{
		target: {RequestedURL: target, FinalURL: target, StatusCode: 403, ContentType: "text/html", HTML: "<html>forbidden</html>"},
	}}
	r, store := newTestRunner(t, fetcher, eng, runnerOpts{})

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Len(t, store.puts, 1)
	require.Equal(t, 403, store.puts[0].status)
	require.Equal(t, "bot:"+botwall.ReasonBlockedWeak, store.puts[0].reason)
}

func TestRun_Non200Cached(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/gone"
	eng := &fakeEngine{results: []scrape.SearchResult{{Rank: 1, URL: target}}}
	fetcher := &fakeFetcher{httpPages: map[string]scrape.PageFetchResult{
		target: {RequestedURL: target, FinalURL: target, StatusCode: 500, ContentType: "text/html", HTML: "boom"},
	}}
	r, store := newTestRunner(t, fetcher, eng, runnerOpts{})

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Len(t, store.puts, 1)
	require.Equal(t, 500, store.puts[0].status)
	require.Equal(t, "non_200:500", store.puts[0].reason)
}

func TestRun_NonHTMLCached(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/data.json"
	eng := &fakeEngine{results: []scrape.SearchResult{{Rank: 1, URL: target}}}
	fetcher := &fakeFetcher{httpPages: map[string]scrape.PageFetchResult{
		target: {RequestedURL: target, FinalURL: target, StatusCode: 200, ContentType: "application/json", HTML: `{"a":1}`},
	}}
	r, store := newTestRunner(t, fetcher, eng, runnerOpts{})

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Len(t, store.puts, 1)
	require.Equal(t, "non_html:application/json", store.puts[0].reason)
}

func TestRun_Challenge200CachedUnder403(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/challenge"
	body := longHTML + "<p>Please verify you are human to continue.</p>"
	eng := &fakeEngine{results: []scrape.SearchResult{{Rank: 1, URL: target}}}
	fetcher := &fakeFetcher{httpPages: map[string]scrape.PageFetchResult{
		target: okPage(target, body),
	}}
	r, store := newTestRunner(t, fetcher, eng, runnerOpts{})

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Len(t, store.puts, 1)
	require.Equal(t, 403, store.puts[0].status)
	require.Equal(t, "bot:"+botwall.ReasonChallengePage, store.puts[0].reason)
}

func TestRun_TransportFailureCachedWithPseudoStatus(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/down"
	eng := &fakeEngine{results: []scrape.SearchResult{{Rank: 1, URL: target}}}
	fetcher := &fakeFetcher{
		httpPages: map[string]scrape.PageFetchResult{},
		httpErrs:  map[string]error{target: errors.New("connection refused")},
	}
	r, store := newTestRunner(t, fetcher, eng, runnerOpts{})

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Len(t, store.puts, 1)
	require.Equal(t, 0, store.puts[0].status)
	require.Equal(t, "exception:transport", store.puts[0].reason)
}

func TestRun_ShortMarkdownDroppedWithoutCaching(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/thin"
	eng := &fakeEngine{results: []scrape.SearchResult{{Rank: 1, URL: target}}}
	fetcher := &fakeFetcher{httpPages: map[string]scrape.PageFetchResult{
		target: okPage(target, longHTML),
	}}
	r, store := newTestRunner(t, fetcher, eng, runnerOpts{
		minMarkdownChars: len(longHTML) + 1,
	})

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Empty(t, store.puts)
}

func TestRun_MinMarkdownCountsCharactersNotBytes(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/ja"
	// 200 characters but 600 bytes in UTF-8; must fail a 400-character floor.
	body := strings.Repeat("あ", 200)
	eng := &fakeEngine{results: []scrape.SearchResult{{Rank: 1, URL: target}}}
	fetcher := &fakeFetcher{httpPages: map[string]scrape.PageFetchResult{
		target: okPage(target, body),
	}}
	r, store := newTestRunner(t, fetcher, eng, runnerOpts{minMarkdownChars: 400})

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Empty(t, store.puts)

	// The same page passes once it actually reaches 400 characters.
	fetcher.httpPages[target] = okPage(target, strings.Repeat("あ", 400))
	docs, err = r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestRun_NegativeCacheHitSkipsFetch(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/cached"
	store := newMemStore()
	store.entries[target] = &negcache.Entry{URL: target, StatusCode: 500, Reason: "non_200:500"}

	eng := &fakeEngine{results: []scrape.SearchResult{{Rank: 1, URL: target}}}
	fetcher := &fakeFetcher{httpPages: map[string]scrape.PageFetchResult{}}
	r, _ := newTestRunner(t, fetcher, eng, runnerOpts{store: store})

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Empty(t, fetcher.httpCalls)
}

func TestRun_SearchFailurePropagates(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{err: errors.New("engine down")}
	r, _ := newTestRunner(t, &fakeFetcher{}, eng, runnerOpts{})

	_, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.Error(t, err)
}

func TestEscalation_RenderedResultReplacesThinPage(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/spa"
	renderedBody := longHTML + "<p>rendered only content</p>"
	eng := &fakeEngine{results: []scrape.SearchResult{{Rank: 1, URL: target}}}
	fetcher := &fakeFetcher{
		httpPages:   map[string]scrape.PageFetchResult{target: okPage(target, "<html><body>thin</body></html>")},
		browserPage: okPage(target, renderedBody),
	}
	r, store := newTestRunner(t, fetcher, eng, runnerOpts{escalateBytes: 1000})

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Contains(t, docs[0].Markdown, "rendered only content")
	require.Len(t, fetcher.browserCalls, 1)
	require.Empty(t, store.puts)
}

func TestEscalation_RenderedErrorKeepsInitialPage(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/flaky"
	initial := "<html><body><p>small but real content</p></body></html>"
	eng := &fakeEngine{results: []scrape.SearchResult{{Rank: 1, URL: target}}}
	fetcher := &fakeFetcher{
		httpPages:  map[string]scrape.PageFetchResult{target: okPage(target, initial)},
		browserErr: errors.New("render crashed"),
	}
	r, store := newTestRunner(t, fetcher, eng, runnerOpts{escalateBytes: 1000})

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Contains(t, docs[0].Markdown, "small but real content")
	require.Empty(t, store.puts)
}

func TestEscalation_RenderedPolicyRejectionIsTerminal(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/vanishes"
	eng := &fakeEngine{results: []scrape.SearchResult{{Rank: 1, URL: target}}}
	fetcher := &fakeFetcher{
		httpPages: map[string]scrape.PageFetchResult{target: okPage(target, "<html><body>thin</body></html>")},
		browserPage: scrape.PageFetchResult{
			RequestedURL: target, FinalURL: target, StatusCode: 404, ContentType: "text/html", HTML: "gone",
		},
	}
	r, store := newTestRunner(t, fetcher, eng, runnerOpts{escalateBytes: 1000})

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Len(t, store.puts, 1)
	require.Equal(t, "browser_non_200:404", store.puts[0].reason)
}

func TestEscalation_RenderedEmptyContentTypeTolerated(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/no-ct"
	rendered := okPage(target, longHTML)
	rendered.ContentType = ""
	eng := &fakeEngine{results: []scrape.SearchResult{{Rank: 1, URL: target}}}
	fetcher := &fakeFetcher{
		httpPages:   map[string]scrape.PageFetchResult{target: okPage(target, "<html><body>thin</body></html>")},
		browserPage: rendered,
	}
	r, _ := newTestRunner(t, fetcher, eng, runnerOpts{escalateBytes: 1000})

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

type upperPost struct{}

func (upperPost) Process(_ context.Context, docs []scrape.Document) ([]scrape.Document, error) {
	for i := range docs {
		docs[i].Title = strings.ToUpper(docs[i].Title)
	}
	return docs, nil
}

func TestRun_PostProcessorAppliedToBatch(t *testing.T) {
	t.Parallel()

	const target = "https://example.com/post"
	eng := &fakeEngine{results: []scrape.SearchResult{{Rank: 1, URL: target}}}
	fetcher := &fakeFetcher{httpPages: map[string]scrape.PageFetchResult{
		target: okPage(target, longHTML),
	}}
	r, _ := newTestRunner(t, fetcher, eng, runnerOpts{})
	r.deps.Post = upperPost{}

	docs, err := r.Run(context.Background(), scrape.SearchQuery{Term: "q", Limit: 5})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "TITLE", docs[0].Title)
}
