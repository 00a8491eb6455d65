// Package botwall classifies HTTP responses that look like anti-automation
// blocks, challenges, or rate limits.
package botwall

import (
	"regexp"
	"strings"

	"github.com/if001/search-scrape/internal/scrape"
)

// Verdict reason tags recorded in the negative cache.
const (
	ReasonRateLimited   = "rate_limited_429"
	ReasonAuthRequired  = "auth_required"
	ReasonBlockedBot    = "blocked_or_bot_403_signature"
	ReasonBlockedWeak   = "blocked_403"
	ReasonChallengePage = "challenge_page_200"
)

// signaturePatterns are body phrases that mark a challenge or block page.
// This is a heuristic, not a proof; the occasional false positive is the
// cost of not hammering blocking sites.
var signaturePatterns = []string{
	`checking your browser`,
	`just a moment`,
	`attention required`,
	`cloudflare`,
	`cdn-cgi/challenge`,
	`enable javascript and cookies`,
	`verify you are human`,
	`captcha`,
	`unusual traffic`,
	`access denied`,
	`bot detection`,
	`request blocked`,
}

var signatureRx = regexp.MustCompile(`(?i)` + strings.Join(signaturePatterns, "|"))

// Config tunes detection behavior.
type Config struct {
	// Treat403AsSuspect makes every 403 a verdict even without a body
	// signature; the no-signature case gets the low-confidence tag.
	Treat403AsSuspect bool
}

// Detector applies status-code and body-signature rules to fetch results.
type Detector struct {
	cfg Config
}

// New builds a Detector.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Detect returns a reason tag when the response looks blocked, challenged,
// or rate limited, and "" otherwise. Rules run in order; the first match
// wins.
func (d *Detector) Detect(page scrape.PageFetchResult) string {
	switch page.StatusCode {
	case 429:
		return ReasonRateLimited
	case 401, 407:
		return ReasonAuthRequired
	case 403:
		if !d.cfg.Treat403AsSuspect {
			return ""
		}
		if signatureRx.MatchString(page.HTML) {
			return ReasonBlockedBot
		}
		return ReasonBlockedWeak
	case 200:
		// Some sites serve challenge interstitials with a success code.
		if signatureRx.MatchString(page.HTML) {
			return ReasonChallengePage
		}
	}
	return ""
}
