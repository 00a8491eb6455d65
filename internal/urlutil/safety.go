package urlutil

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// SafetyPolicy declares which fetch targets are acceptable. The zero value
// blocks everything; use DefaultSafetyPolicy for sane defaults.
type SafetyPolicy struct {
	AllowedSchemes []string
	MaxRedirects   int
	BlockPrivate   bool
	BlockLinkLocal bool
	BlockLoopback  bool
	BlockMulticast bool
	BlockReserved  bool
}

// DefaultSafetyPolicy allows plain web traffic and blocks every internal
// address class.
func DefaultSafetyPolicy() SafetyPolicy {
	return SafetyPolicy{
		AllowedSchemes: []string{"http", "https"},
		MaxRedirects:   5,
		BlockPrivate:   true,
		BlockLinkLocal: true,
		BlockLoopback:  true,
		BlockMulticast: true,
		BlockReserved:  true,
	}
}

// SafetyError marks a URL as permanently unfetchable for this run.
type SafetyError struct {
	URL    string
	Reason string
}

func (e *SafetyError) Error() string {
	return fmt.Sprintf("unsafe url %q: %s", e.URL, e.Reason)
}

// Resolver is the subset of net.Resolver the validator needs. Tests inject
// fakes here to avoid real DNS.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Validator enforces a SafetyPolicy against candidate URLs.
type Validator struct {
	policy   SafetyPolicy
	resolver Resolver
}

// NewValidator builds a Validator. A nil resolver falls back to the default
// net.Resolver.
func NewValidator(policy SafetyPolicy, resolver Resolver) *Validator {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Validator{policy: policy, resolver: resolver}
}

// Policy returns the policy the validator enforces.
func (v *Validator) Policy() SafetyPolicy {
	return v.policy
}

// Validate rejects URLs that must not be fetched: disallowed schemes, missing
// hosts, localhost aliases, IP-literal targets, and hostnames resolving to
// any blocked address class. Cheap string checks run before DNS resolution.
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &SafetyError{URL: rawURL, Reason: "unparseable"}
	}

	scheme := strings.ToLower(u.Scheme)
	if !schemeAllowed(scheme, v.policy.AllowedSchemes) {
		return &SafetyError{URL: rawURL, Reason: fmt.Sprintf("scheme not allowed: %s", scheme)}
	}

	host := u.Hostname()
	if host == "" {
		return &SafetyError{URL: rawURL, Reason: "missing host"}
	}
	if IsLocalhost(host) {
		return &SafetyError{URL: rawURL, Reason: "localhost is blocked"}
	}
	if IsIPLiteral(host) {
		return &SafetyError{URL: rawURL, Reason: "IP literal is blocked"}
	}

	addrs, err := v.resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return &SafetyError{URL: rawURL, Reason: "DNS resolution failed"}
	}
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			return &SafetyError{URL: rawURL, Reason: "unusable resolved address"}
		}
		ip = ip.Unmap()
		if reason := blockedAddrReason(ip, v.policy); reason != "" {
			return &SafetyError{URL: rawURL, Reason: fmt.Sprintf("resolved IP %s is %s", ip, reason)}
		}
	}
	return nil
}

// IsIPLiteral reports whether the host is a textual IPv4 or IPv6 address.
func IsIPLiteral(host string) bool {
	h := strings.Trim(host, "[]")
	_, err := netip.ParseAddr(h)
	return err == nil
}

// IsLocalhost reports whether the host names the local machine.
func IsLocalhost(host string) bool {
	h := strings.ToLower(strings.Trim(host, "[]"))
	return h == "localhost" || h == "localhost.localdomain" || strings.HasSuffix(h, ".localhost")
}

func schemeAllowed(scheme string, allowed []string) bool {
	for _, s := range allowed {
		if scheme == s {
			return true
		}
	}
	return false
}

// reservedPrefixes covers address blocks reserved by the IETF that the
// stdlib classifiers do not flag.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("100::/64"),
	netip.MustParsePrefix("2001:db8::/32"),
}

func blockedAddrReason(ip netip.Addr, policy SafetyPolicy) string {
	switch {
	case ip.IsUnspecified():
		// Unspecified addresses are always dangerous, independent of flags.
		return "unspecified"
	case policy.BlockLoopback && ip.IsLoopback():
		return "loopback"
	case policy.BlockPrivate && ip.IsPrivate():
		return "private"
	case policy.BlockLinkLocal && (ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()):
		return "link-local"
	case policy.BlockMulticast && ip.IsMulticast():
		return "multicast"
	case policy.BlockReserved && isReserved(ip):
		return "reserved"
	default:
		return ""
	}
}

func isReserved(ip netip.Addr) bool {
	for _, p := range reservedPrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
