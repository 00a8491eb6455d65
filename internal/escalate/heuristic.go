// Package escalate decides when a lightweight fetch should be retried with
// the browser renderer.
package escalate

import (
	"strings"

	"github.com/if001/search-scrape/internal/scrape"
)

// DefaultMinHTMLBytes is the body size under which a page is considered
// thin and likely JS-rendered.
const DefaultMinHTMLBytes = 2000

// spaMarkers are root-element fingerprints of client-rendered apps whose
// server HTML is an empty shell regardless of size.
var spaMarkers = []string{
	`id="__next"`,
	`id="root"`,
	`id="app"`,
	`data-reactroot`,
}

// Heuristic promotes thin or shell pages to a rendered fetch.
type Heuristic struct {
	minHTMLBytes int
}

// NewHeuristic builds a Heuristic; a non-positive threshold gets the
// default.
func NewHeuristic(minHTMLBytes int) *Heuristic {
	if minHTMLBytes <= 0 {
		minHTMLBytes = DefaultMinHTMLBytes
	}
	return &Heuristic{minHTMLBytes: minHTMLBytes}
}

// ShouldEscalate reports whether the page warrants a browser render. Only
// pages that already passed the status/content-type/bot filters reach this
// decision.
func (h *Heuristic) ShouldEscalate(page scrape.PageFetchResult) bool {
	if len(page.HTML) < h.minHTMLBytes {
		return true
	}
	for _, marker := range spaMarkers {
		if strings.Contains(page.HTML, marker) {
			return true
		}
	}
	return false
}
