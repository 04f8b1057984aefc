// Package origin implements the browser Origin checks applied to the
// signaling socket and the HTTP API.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Wildcard in an allow list admits every origin.
const Wildcard = "*"

// Normalize validates a browser Origin header and returns its canonical form
// (lower-case scheme://host[:port], default port elided) along with the
// host[:port] part used for same-host comparisons.
//
// The opaque origin "null" is accepted and returned unchanged with an empty
// host.
func Normalize(header string) (normalized string, host string, ok bool) {
	trimmed := strings.TrimSpace(header)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Policy decides which origins may open a signaling socket or call the HTTP
// API. The zero value is the same-host policy.
type Policy struct {
	allowed []string
}

// NewPolicy builds a policy from an allow list of normalized origins and/or
// Wildcard. An empty list means same-host only.
func NewPolicy(allowed []string) Policy {
	return Policy{allowed: append([]string(nil), allowed...)}
}

// AllowsAny reports whether the allow list contains Wildcard.
func (p Policy) AllowsAny() bool {
	for _, a := range p.allowed {
		if a == Wildcard {
			return true
		}
	}
	return false
}

// Check evaluates a raw Origin header against the policy for a request
// addressed to requestHost. Requests without an Origin header come from
// non-browser clients and are allowed; normalized is then empty.
func (p Policy) Check(header, requestHost string) (normalized string, ok bool) {
	if strings.TrimSpace(header) == "" {
		return "", true
	}
	normalized, originHost, ok := Normalize(header)
	if !ok {
		return "", false
	}

	if len(p.allowed) > 0 {
		for _, a := range p.allowed {
			if a == Wildcard || a == normalized {
				return normalized, true
			}
		}
		return normalized, false
	}

	// Same host:port. Scheme is not compared: a TLS-terminating proxy makes
	// https origins arrive as plain http requests.
	var scheme string
	switch {
	case strings.HasPrefix(normalized, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalized, "https://"):
		scheme = "https"
	default:
		return normalized, false
	}
	reqHost, ok := canonicalHost(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	if !ok {
		return normalized, false
	}
	return normalized, originHost == reqHost
}

// canonicalHost lower-cases an authority, brackets IPv6 literals and drops
// the scheme's default port.
func canonicalHost(authority, scheme string) (string, bool) {
	rawHostname, rawPort, ok := splitHostPort(authority)
	if !ok {
		return "", false
	}
	hostname := strings.ToLower(rawHostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 hostnames come back without
// brackets; the port is not validated.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}

	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = authority[1:end]
		rest := authority[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", true
	case 1:
		hostname, port, _ = strings.Cut(authority, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		// Unbracketed IPv6 is not a valid authority.
		return "", "", false
	}
}
