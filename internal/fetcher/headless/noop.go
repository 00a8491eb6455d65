package headless

import (
	"context"
	"errors"

	"github.com/if001/search-scrape/internal/scrape"
)

// ErrNotConfigured marks the rendered tier as unavailable. It fails only
// the escalation attempt; the lightweight result remains usable.
var ErrNotConfigured = errors.New("rendered fetcher is not configured")

// Noop is the rendered fetcher used when headless Chrome is disabled.
type Noop struct{}

// NewNoop returns a Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails with ErrNotConfigured.
func (*Noop) Fetch(context.Context, string) (scrape.PageFetchResult, error) {
	return scrape.PageFetchResult{}, ErrNotConfigured
}
