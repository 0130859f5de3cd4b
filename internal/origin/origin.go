// Package origin implements the browser Origin policy applied to the
// WebSocket and ICE endpoints.
package origin

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates an Origin header value and returns it as
// scheme://host[:port] with default ports dropped, plus the host[:port] part.
// The opaque origin "null" is returned unchanged with an empty host.
func Normalize(raw string) (origin, host string, ok bool) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.Opaque != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeHost(u.Hostname(), u.Port(), scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// normalizeHost lowercases hostname, brackets IPv6 literals and drops the
// scheme's default port.
func normalizeHost(hostname, port, scheme string) (string, bool) {
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}
	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		} else {
			port = strconv.FormatUint(n, 10)
		}
	}
	if port == "" {
		if strings.Contains(hostname, ":") {
			return "[" + hostname + "]", true
		}
		return hostname, true
	}
	return net.JoinHostPort(hostname, port), true
}

// Policy is an origin allowlist. The zero Policy allows same-host requests
// only.
type Policy struct {
	any     bool
	allowed map[string]struct{}
}

// NewPolicy builds a policy from allowlist entries, each "*" or a full
// origin. Entries that do not normalize are returned as invalid.
func NewPolicy(entries []string) (Policy, []string) {
	var (
		p       Policy
		invalid []string
	)
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if e == "*" {
			p.any = true
			continue
		}
		o, _, ok := Normalize(e)
		if !ok {
			invalid = append(invalid, e)
			continue
		}
		if p.allowed == nil {
			p.allowed = make(map[string]struct{})
		}
		p.allowed[o] = struct{}{}
	}
	return p, invalid
}

// AllowsAny reports whether the policy contains the "*" wildcard.
func (p Policy) AllowsAny() bool { return p.any }

// Allow checks an Origin header against the policy for a request addressed
// to requestHost. It returns the normalized origin on success.
//
// Without an allowlist the origin's host[:port] must match requestHost. The
// scheme is not compared, since TLS is often terminated by a proxy in front
// of the relay.
func (p Policy) Allow(originHeader, requestHost string) (string, bool) {
	o, host, ok := Normalize(originHeader)
	if !ok {
		return "", false
	}
	if p.any {
		return o, true
	}
	if p.allowed != nil {
		_, ok := p.allowed[o]
		return o, ok
	}
	if host == "" {
		return "", false
	}

	scheme := o[:strings.Index(o, "://")]
	u, err := url.Parse(scheme + "://" + strings.TrimSpace(requestHost))
	if err != nil || u.Host == "" {
		return "", false
	}
	want, ok := normalizeHost(u.Hostname(), u.Port(), scheme)
	return o, ok && want == host
}
