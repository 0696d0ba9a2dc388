// Package origin implements the browser Origin policy shared by the
// signaling WebSocket upgrade and the HTTP API's CORS headers.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Wildcard allows every origin when present in an allow list.
const Wildcard = "*"

// Normalize validates an origin (from a header or configuration) and returns
// its canonical form scheme://host[:port] together with the host[:port] part.
// Scheme and host are lowercased and default ports are dropped.
//
// The opaque origin "null" is accepted and returned unchanged with an empty
// host.
func Normalize(raw string) (normalized, host string, ok bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "null" {
		return "null", "", true
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
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

// Policy decides which browser origins may call the relay.
//
// With an empty allow list only same-host requests pass: the Origin's
// host[:port] must equal the request Host. Schemes are not compared, so a
// TLS-terminating proxy in front of the relay does not break the check.
type Policy struct {
	allowed []string
}

// NewPolicy builds a policy from normalized origins or Wildcard.
func NewPolicy(allowed []string) Policy {
	return Policy{allowed: append([]string(nil), allowed...)}
}

// Check evaluates an Origin header against requestHost. An empty header
// (non-browser client) is always allowed and yields an empty normalized
// origin.
func (p Policy) Check(originHeader, requestHost string) (normalized string, ok bool) {
	if strings.TrimSpace(originHeader) == "" {
		return "", true
	}
	normalized, host, ok := Normalize(originHeader)
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

	if host == "" {
		return normalized, false
	}
	scheme, _, _ := strings.Cut(normalized, "://")
	reqHost, ok := canonicalHost(strings.TrimSpace(requestHost), scheme)
	return normalized, ok && reqHost == host
}

func canonicalHost(raw, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(raw)
	if !ok {
		return "", false
	}
	hostname = strings.ToLower(hostname)

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

// splitHostPort splits host[:port]. IPv6 literals must be bracketed and are
// returned without brackets.
func splitHostPort(raw string) (hostname, port string, ok bool) {
	if raw == "" {
		return "", "", false
	}
	if strings.HasPrefix(raw, "[") {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return "", "", false
		}
		h, rest := raw[1:end], raw[end+1:]
		if rest == "" {
			return h, "", h != ""
		}
		p, found := strings.CutPrefix(rest, ":")
		if !found || p == "" {
			return "", "", false
		}
		return h, p, h != ""
	}

	switch strings.Count(raw, ":") {
	case 0:
		return raw, "", true
	case 1:
		hostname, port, _ = strings.Cut(raw, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		return "", "", false
	}
}
