// Package proxyutil holds small helpers shared by the registry and
// GitHub/HF proxies: hop-header stripping and externally-visible base URL
// derivation.
package proxyutil

import (
	"net/http"
	"strings"
)

// hopHeaders are meaningful only on a single connection and must never be
// forwarded by an intermediary (RFC 7230 §6.1, plus the de facto Keep-Alive).
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Host",
}

// StripHopHeaders deletes the standard hop-by-hop headers from h, plus any
// header named in an incoming Connection header.
func StripHopHeaders(h http.Header) {
	if conn := h.Get("Connection"); conn != "" {
		for _, tok := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(tok))
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// CopyHeaderExcept copies all values from src into dst, skipping any header
// named in except (case-insensitive).
func CopyHeaderExcept(dst, src http.Header, except map[string]bool) {
	for k, vv := range src {
		if except[strings.ToLower(k)] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// ClientBase derives the externally visible scheme+host this request came
// in on: X-Forwarded-Host takes precedence over Host (first comma-separated
// value of either), and X-Forwarded-Proto defaults to "https" when absent
// (this proxy is expected to run behind a TLS-terminating front door).
func ClientBase(r *http.Request) string {
	host := firstCSV(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = firstCSV(r.Host)
	}
	scheme := firstCSV(r.Header.Get("X-Forwarded-Proto"))
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + host
}

func firstCSV(s string) string {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
