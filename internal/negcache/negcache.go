// Package negcache records "do not refetch this URL" verdicts for a bounded
// time window so unreachable or blocking sites are not hammered on every
// query.
package negcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry is the verdict stored per URL. StatusCode may be a pseudo-code
// (0 for transport failures, 403 for challenge pages served with 200).
type Entry struct {
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Store is a durable negative-result cache keyed by normalized URL.
//
// Get returns nil with no error for "no verdict": absent, expired, or
// unreadable records all look the same to the caller, and stale state is
// removed as a side effect rather than reported. Put overwrites any previous
// record; last writer wins.
type Store interface {
	Get(ctx context.Context, url string) (*Entry, error)
	Put(ctx context.Context, url string, statusCode int, reason string) error
}

// Key derives the storage key for a URL: hex SHA-256 of the normalized form.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
