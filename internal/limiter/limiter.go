// Package limiter bounds in-flight fetches globally and per target host.
package limiter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config sizes the limiter. PerHost should normally be <= Global; violating
// that only wastes global slots, it cannot deadlock. PerHostQPS > 0 adds a
// politeness rate on top of the concurrency bound.
type Config struct {
	Global     int64
	PerHost    int64
	PerHostQPS float64
}

// DomainLimiter hands out fetch slots. Acquire takes a global slot first,
// then a slot for the URL's host; Release returns them in reverse order.
// Hosts are keyed by lowercased hostname only, no eTLD+1 rollup, so distinct
// subdomains get independent budgets.
type DomainLimiter struct {
	cfg    Config
	global *semaphore.Weighted

	mu    sync.Mutex
	hosts map[string]*hostSlot
}

type hostSlot struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// New builds a DomainLimiter.
func New(cfg Config) (*DomainLimiter, error) {
	if cfg.Global <= 0 {
		return nil, fmt.Errorf("global concurrency must be > 0")
	}
	if cfg.PerHost <= 0 {
		return nil, fmt.Errorf("per-host concurrency must be > 0")
	}
	return &DomainLimiter{
		cfg:    cfg,
		global: semaphore.NewWeighted(cfg.Global),
		hosts:  make(map[string]*hostSlot),
	}, nil
}

// Acquire blocks until a global slot and a host slot are both held. A URL
// with no extractable host consumes only the global slot; host-less URLs are
// expected to have been filtered upstream.
func (l *DomainLimiter) Acquire(ctx context.Context, rawURL string) error {
	if err := l.global.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire global slot: %w", err)
	}
	host := HostKey(rawURL)
	if host == "" {
		return nil
	}

	slot := l.hostSlot(host)
	if err := slot.sem.Acquire(ctx, 1); err != nil {
		l.global.Release(1)
		return fmt.Errorf("acquire host slot for %s: %w", host, err)
	}
	if slot.limiter != nil {
		if err := slot.limiter.Wait(ctx); err != nil {
			slot.sem.Release(1)
			l.global.Release(1)
			return fmt.Errorf("host rate wait for %s: %w", host, err)
		}
	}
	return nil
}

// Release returns the slots taken by Acquire, host first then global.
func (l *DomainLimiter) Release(rawURL string) {
	if host := HostKey(rawURL); host != "" {
		l.mu.Lock()
		slot := l.hosts[host]
		l.mu.Unlock()
		if slot != nil {
			slot.sem.Release(1)
		}
	}
	l.global.Release(1)
}

// hostSlot lazily creates the per-host state. Slots are never removed; the
// map is bounded by distinct hosts seen during the process lifetime.
func (l *DomainLimiter) hostSlot(host string) *hostSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.hosts[host]
	if !ok {
		slot = &hostSlot{sem: semaphore.NewWeighted(l.cfg.PerHost)}
		if l.cfg.PerHostQPS > 0 {
			slot.limiter = rate.NewLimiter(rate.Limit(l.cfg.PerHostQPS), 1)
		}
		l.hosts[host] = slot
	}
	return slot
}

// HostKey extracts the lowercased hostname used for per-host accounting.
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
