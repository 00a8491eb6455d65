// Package pipeline composes the per-URL fetch decision chain and fans it out
// across the candidates of a search query.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/if001/search-scrape/internal/botwall"
	"github.com/if001/search-scrape/internal/escalate"
	"github.com/if001/search-scrape/internal/limiter"
	"github.com/if001/search-scrape/internal/metrics"
	"github.com/if001/search-scrape/internal/negcache"
	"github.com/if001/search-scrape/internal/scrape"
	"github.com/if001/search-scrape/internal/urlutil"
)

// DefaultMinMarkdownChars is the conversion-length floor below which a page
// is dropped as too thin to be useful.
const DefaultMinMarkdownChars = 400

// outcome tags every per-URL run with why it ended. The pipeline branches on
// this tag, never on error identity.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeCacheHit
	outcomeTransportFailure
	outcomePolicyRejection
	outcomeQualityRejection
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeCacheHit:
		return "cache_hit"
	case outcomeTransportFailure:
		return "transport_failure"
	case outcomePolicyRejection:
		return "policy_rejection"
	case outcomeQualityRejection:
		return "quality_rejection"
	default:
		return "unknown"
	}
}

// Config tunes the orchestrator itself; collaborator tuning lives with each
// collaborator.
type Config struct {
	// MinMarkdownChars drops converted documents shorter than this. A
	// non-positive value gets the default.
	MinMarkdownChars int
}

// Deps are the collaborators the Runner composes. All fields except Post are
// required.
type Deps struct {
	Engine    scrape.SearchEngine
	Fetcher   scrape.HybridFetcher
	Limiter   *limiter.DomainLimiter
	Cache     negcache.Store
	Detector  *botwall.Detector
	Heuristic *escalate.Heuristic
	Cleaner   scrape.HTMLCleaner
	Converter scrape.MarkdownConverter
	Post      scrape.DocumentPostProcessor
	Logger    *zap.Logger
}

// Runner drives searches end to end: query the engine, fetch every candidate
// under the concurrency and safety regime, and return the surviving
// documents. Per-URL failures never abort the batch.
type Runner struct {
	cfg  Config
	deps Deps
}

// New builds a Runner.
func New(cfg Config, deps Deps) (*Runner, error) {
	switch {
	case deps.Engine == nil:
		return nil, fmt.Errorf("pipeline: engine is required")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("pipeline: fetcher is required")
	case deps.Limiter == nil:
		return nil, fmt.Errorf("pipeline: limiter is required")
	case deps.Cache == nil:
		return nil, fmt.Errorf("pipeline: cache is required")
	case deps.Detector == nil:
		return nil, fmt.Errorf("pipeline: detector is required")
	case deps.Heuristic == nil:
		return nil, fmt.Errorf("pipeline: heuristic is required")
	case deps.Cleaner == nil:
		return nil, fmt.Errorf("pipeline: cleaner is required")
	case deps.Converter == nil:
		return nil, fmt.Errorf("pipeline: converter is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.MinMarkdownChars <= 0 {
		cfg.MinMarkdownChars = DefaultMinMarkdownChars
	}
	return &Runner{cfg: cfg, deps: deps}, nil
}

// Run executes one query. Only a failure of the search engine itself is an
// error; any subset of candidate URLs may silently drop out, so the result
// can legitimately be shorter than requested, including empty.
func (r *Runner) Run(ctx context.Context, query scrape.SearchQuery) ([]scrape.Document, error) {
	results, err := r.deps.Engine.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	urls := make([]string, 0, len(results))
	for _, res := range results {
		u := urlutil.Normalize(res.URL)
		if !strings.HasPrefix(u, "http") {
			continue
		}
		urls = append(urls, u)
	}
	urls = urlutil.Dedupe(urls)

	// Unbounded fan-out; the domain limiter is the actual throttle.
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		docs []scrape.Document
	)
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			doc, oc := r.fetchOne(ctx, u)
			metrics.ObservePage(oc.String())
			if oc != outcomeSuccess {
				return
			}
			mu.Lock()
			docs = append(docs, doc)
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	if r.deps.Post != nil {
		docs, err = r.deps.Post.Process(ctx, docs)
		if err != nil {
			return nil, fmt.Errorf("post-process: %w", err)
		}
	}
	metrics.ObserveDocumentsReturned(len(docs))
	return docs, nil
}

// fetchOne runs the full per-URL pipeline: cache check, slot-bounded fetch,
// then extraction and conversion. Quality rejections after the fetch phase
// are deliberately not cached; the site was not at fault, so the URL stays
// retryable on a future run.
func (r *Runner) fetchOne(ctx context.Context, url string) (scrape.Document, outcome) {
	if entry := r.cachedVerdict(ctx, url); entry != nil {
		metrics.ObserveNegativeCacheHit()
		r.deps.Logger.Warn("negative cache hit",
			zap.String("url", url),
			zap.String("reason", entry.Reason))
		return scrape.Document{}, outcomeCacheHit
	}

	page, oc := r.fetchPage(ctx, url)
	if oc != outcomeSuccess {
		return scrape.Document{}, oc
	}

	title, fragment := r.deps.Cleaner.Clean(page.HTML)
	if fragment == "" {
		r.deps.Logger.Warn("nothing extractable", zap.String("url", url))
		return scrape.Document{}, outcomeQualityRejection
	}

	markdown, err := r.deps.Converter.Convert(fragment)
	if err != nil {
		r.deps.Logger.Warn("markdown conversion failed",
			zap.String("url", url), zap.Error(err))
		return scrape.Document{}, outcomeQualityRejection
	}
	// Character count, not bytes: CJK pages would otherwise pass at a third
	// of the configured floor.
	if chars := utf8.RuneCountInString(markdown); chars < r.cfg.MinMarkdownChars {
		r.deps.Logger.Warn("converted text too short",
			zap.String("url", url),
			zap.Int("chars", chars),
			zap.Int("min_chars", r.cfg.MinMarkdownChars))
		return scrape.Document{}, outcomeQualityRejection
	}

	finalURL := page.FinalURL
	if finalURL == "" {
		finalURL = url
	}
	if title == "" {
		title = finalURL
	}
	return scrape.Document{URL: finalURL, Title: title, Markdown: markdown}, outcomeSuccess
}

// fetchPage is the slot-bounded phase: lightweight fetch, policy
// classification, and the optional rendered escalation. The concurrency slot
// is held for exactly this scope and released on every exit path.
func (r *Runner) fetchPage(ctx context.Context, url string) (scrape.PageFetchResult, outcome) {
	if err := r.deps.Limiter.Acquire(ctx, url); err != nil {
		// Acquisition only fails on context cancellation; no verdict to cache.
		r.deps.Logger.Warn("slot acquisition aborted",
			zap.String("url", url), zap.Error(err))
		return scrape.PageFetchResult{}, outcomeTransportFailure
	}
	defer r.deps.Limiter.Release(url)

	start := time.Now()
	page, err := r.deps.Fetcher.FetchHTTP(ctx, url)
	metrics.ObserveFetchDuration("http", time.Since(start))
	if err != nil {
		r.recordVerdict(ctx, url, 0, "exception:"+errorKind(err))
		r.deps.Logger.Error("fetch failed",
			zap.String("url", url), zap.Error(err))
		return scrape.PageFetchResult{}, outcomeTransportFailure
	}

	if status, reason := r.classify(page, false); reason != "" {
		r.recordVerdict(ctx, url, status, reason)
		r.deps.Logger.Warn("page rejected",
			zap.String("url", url),
			zap.Int("status", page.StatusCode),
			zap.String("reason", reason))
		return scrape.PageFetchResult{}, outcomePolicyRejection
	}

	if r.deps.Heuristic.ShouldEscalate(page) {
		r.deps.Logger.Info("escalating to rendered fetch",
			zap.String("url", url),
			zap.Int("html_bytes", len(page.HTML)))
		start = time.Now()
		rendered, err := r.deps.Fetcher.FetchBrowser(ctx, url)
		metrics.ObserveFetchDuration("browser", time.Since(start))
		if err != nil {
			// A failed render is tolerated; the lightweight page stands.
			metrics.ObserveEscalation("kept_initial")
			r.deps.Logger.Error("rendered fetch failed, keeping initial page",
				zap.String("url", url), zap.Error(err))
			return page, outcomeSuccess
		}
		if status, reason := r.classify(rendered, true); reason != "" {
			r.recordVerdict(ctx, url, status, reason)
			metrics.ObserveEscalation("rejected")
			r.deps.Logger.Warn("rendered page rejected",
				zap.String("url", url),
				zap.Int("status", rendered.StatusCode),
				zap.String("reason", reason))
			return scrape.PageFetchResult{}, outcomePolicyRejection
		}
		metrics.ObserveEscalation("replaced")
		page = rendered
	}
	return page, outcomeSuccess
}

// classify maps a fetch result onto the negative-cache verdict it warrants;
// an empty reason means the page passes. Checks run in order: status (block
// and rate-limit statuses get their detector tags, other non-200s the generic
// one), content-type, body signature. A challenge page served with a success code
// is cached under pseudo-status 403. The rendered path tolerates a missing
// content-type because CDP does not report one for every navigation.
func (r *Runner) classify(page scrape.PageFetchResult, rendered bool) (int, string) {
	prefix := ""
	if rendered {
		prefix = "browser_"
	}

	if page.StatusCode != 200 {
		// Block and rate-limit statuses carry their own tags; everything
		// else falls through to the generic one.
		if reason := r.deps.Detector.Detect(page); reason != "" {
			return page.StatusCode, "bot:" + reason
		}
		return page.StatusCode, fmt.Sprintf("%snon_200:%d", prefix, page.StatusCode)
	}

	ct := strings.ToLower(page.ContentType)
	if !strings.Contains(ct, "text/html") && !(rendered && ct == "") {
		return page.StatusCode, prefix + "non_html:" + ct
	}

	if reason := r.deps.Detector.Detect(page); reason != "" {
		status := page.StatusCode
		if status == 200 {
			status = 403
		}
		return status, "bot:" + reason
	}
	return 0, ""
}

// cachedVerdict is a lenient read: a cache backend error downgrades to "no
// verdict" so a broken cache degrades to refetching, never to dropping URLs.
func (r *Runner) cachedVerdict(ctx context.Context, url string) *negcache.Entry {
	entry, err := r.deps.Cache.Get(ctx, url)
	if err != nil {
		r.deps.Logger.Warn("negative cache read failed",
			zap.String("url", url), zap.Error(err))
		return nil
	}
	return entry
}

func (r *Runner) recordVerdict(ctx context.Context, url string, status int, reason string) {
	if err := r.deps.Cache.Put(ctx, url, status, reason); err != nil {
		r.deps.Logger.Warn("negative cache write failed",
			zap.String("url", url), zap.Error(err))
	}
}

// errorKind buckets transport failures for the cache reason tag.
func errorKind(err error) string {
	var safetyErr *urlutil.SafetyError
	if errors.As(err, &safetyErr) {
		return "safety"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "transport"
}
