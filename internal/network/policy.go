package network

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var (
	ErrNetworkDisabled  = errors.New("network access is disabled: no allowed domains configured")
	ErrInvalidURL       = errors.New("invalid URL")
	ErrSchemeNotAllowed = errors.New("URL scheme not allowed")
	ErrMethodNotAllowed = errors.New("HTTP method not allowed")
	ErrPrivateAddress   = errors.New("requests to private IP ranges are not allowed")
	ErrDomainNotAllowed = errors.New("domain not allowed")
	ErrFetchLimit       = errors.New("fetch limit exceeded")
	ErrCircuitOpen      = errors.New("circuit breaker open")
)

// DecisionKind classifies the outcome of a policy evaluation.
type DecisionKind string

const (
	KindAllowed        DecisionKind = "allowed"
	KindDisabled       DecisionKind = "disabled"
	KindInvalidURL     DecisionKind = "invalid_url"
	KindScheme         DecisionKind = "scheme"
	KindMethod         DecisionKind = "method"
	KindPrivateAddress DecisionKind = "private_address"
	KindDomain         DecisionKind = "domain"
	KindLimit          DecisionKind = "limit"
	KindBreaker        DecisionKind = "breaker"
)

// PolicyError is a denial. It unwraps to one of the sentinel errors above.
type PolicyError struct {
	Kind   DecisionKind
	Err    error
	Detail string
}

func (e *PolicyError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *PolicyError) Unwrap() error { return e.Err }

func deny(kind DecisionKind, err error, format string, args ...any) *PolicyError {
	return &PolicyError{Kind: kind, Err: err, Detail: fmt.Sprintf(format, args...)}
}

// Decision is the ephemeral record of one outbound attempt.
type Decision struct {
	URL    string
	Host   string
	Method string
	Kind   DecisionKind
	Err    *PolicyError
}

// Allowed reports whether the attempt may proceed
func (d Decision) Allowed() bool { return d.Err == nil }

func (d Decision) denied(err *PolicyError) Decision {
	d.Kind = err.Kind
	d.Err = err
	return d
}

// Policy holds the normalized allowlist for one invocation.
type Policy struct {
	domains []string
}

// NewPolicy normalizes allowlist entries. Entries may carry a scheme, a
// wildcard prefix or a trailing dot; unusable entries are dropped.
func NewPolicy(allowedDomains []string) Policy {
	domains := make([]string, 0, len(allowedDomains))
	for _, entry := range allowedDomains {
		if d, ok := normalizeEntry(entry); ok {
			domains = append(domains, d)
		}
	}
	return Policy{domains: domains}
}

// Domains returns the normalized allowlist
func (p Policy) Domains() []string {
	return append([]string(nil), p.domains...)
}

// Enabled reports whether any outbound request can ever be allowed
func (p Policy) Enabled() bool { return len(p.domains) > 0 }

// Evaluate applies every static check to one attempt. Address resolution is
// checked later by the dialer.
func (p Policy) Evaluate(method, rawURL string) (*url.URL, Decision) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	d := Decision{URL: rawURL, Method: method, Kind: KindAllowed}

	if !p.Enabled() {
		return nil, d.denied(&PolicyError{Kind: KindDisabled, Err: ErrNetworkDisabled})
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, d.denied(deny(KindInvalidURL, ErrInvalidURL, "%v", err))
	}
	if u.Scheme == "" {
		return nil, d.denied(deny(KindInvalidURL, ErrInvalidURL, "%q is not an absolute URL", rawURL))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, d.denied(deny(KindScheme, ErrSchemeNotAllowed, "%q (only http and https)", u.Scheme))
	}
	if u.Hostname() == "" {
		return nil, d.denied(deny(KindInvalidURL, ErrInvalidURL, "missing host in %q", rawURL))
	}
	if method != http.MethodGet {
		return nil, d.denied(deny(KindMethod, ErrMethodNotAllowed, "%s (only GET)", method))
	}

	host, err := normalizeHost(u.Hostname())
	if err != nil {
		return nil, d.denied(deny(KindInvalidURL, ErrInvalidURL, "host %q: %v", u.Hostname(), err))
	}
	d.Host = host

	if isBlockedHost(host) {
		return nil, d.denied(deny(KindPrivateAddress, ErrPrivateAddress, "%s", host))
	}
	if !p.matches(host) {
		return nil, d.denied(deny(KindDomain, ErrDomainNotAllowed, "'%s' is not in the allowlist", host))
	}

	return u, d
}

func (p Policy) matches(host string) bool {
	for _, d := range p.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func normalizeEntry(entry string) (string, bool) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "://") {
		u, err := url.Parse(entry)
		if err != nil {
			return "", false
		}
		entry = u.Hostname()
	}
	entry = strings.TrimLeft(strings.TrimPrefix(entry, "*."), ".")
	host, err := normalizeHost(entry)
	if err != nil {
		return "", false
	}
	return host, true
}

func normalizeHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return "", errors.New("empty host")
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return host, nil
	}
	return idna.Lookup.ToASCII(host)
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// IsBlockedAddr reports whether ip belongs to the fixed deny list.
func IsBlockedAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	if !ip.IsValid() || ip.IsUnspecified() || ip.IsLoopback() || ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() || ip.IsMulticast() {
		return true
	}
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

func isBlockedHost(host string) bool {
	if ip, err := netip.ParseAddr(host); err == nil {
		return IsBlockedAddr(ip)
	}
	return host == "localhost" || strings.HasSuffix(host, ".localhost") ||
		host == "localhost.localdomain" || host == "ip6-localhost"
}
