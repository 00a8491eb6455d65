// Package urlutil canonicalizes fetch targets and rejects unsafe ones.
package urlutil

import (
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query keys stripped during normalization, matched
// case-insensitively.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"igshid":       {},
	"mc_cid":       {},
	"mc_eid":       {},
	"ref":          {},
	"ref_src":      {},
	"spm":          {},
	"yclid":        {},
}

// Normalize canonicalizes a URL: scheme and host lowercased, default ports
// stripped, fragment dropped, tracking query parameters removed, remaining
// parameters sorted by key then value. Inputs without a scheme or host come
// back trimmed but otherwise untouched; callers filter for an http prefix
// before use.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()

	defaultPort := (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
	netloc := host
	if port != "" && !defaultPort {
		netloc = host + ":" + port
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	out := scheme + "://" + netloc + path
	if q := normalizeQuery(u.RawQuery); q != "" {
		out += "?" + q
	}
	return out
}

func normalizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}

	type kv struct{ k, v string }
	pairs := make([]kv, 0, len(values))
	for k, vs := range values {
		if _, tracked := trackingParams[strings.ToLower(k)]; tracked {
			continue
		}
		for _, v := range vs {
			pairs = append(pairs, kv{k, v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.v))
	}
	return b.String()
}

// Dedupe removes duplicate URLs preserving first-occurrence order.
func Dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
