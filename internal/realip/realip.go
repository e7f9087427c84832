// SPDX-License-Identifier: Apache-2.0

// Package realip resolves the client address of a request that may have
// passed through proxies or a CDN.
package realip

import (
	"net"
	"net/http"
	"strings"
)

// Headers checked in order. The first one carrying a value wins.
var headers = []string{
	"X-Forwarded-For",
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"Forwarded",
}

// FromRequest returns the client IP, falling back to the host of RemoteAddr.
// Only the first X-Forwarded-For hop is trusted; when it is empty the later
// hops are ignored and the next header is consulted.
func FromRequest(r *http.Request) string {
	for _, name := range headers {
		value := strings.TrimSpace(r.Header.Get(name))
		if value == "" {
			continue
		}

		var ip string
		switch name {
		case "X-Forwarded-For":
			ip, _, _ = strings.Cut(value, ",")
			ip = strings.TrimSpace(ip)
		case "Forwarded":
			ip = forwardedFor(value)
		default:
			ip = value
		}

		if ip != "" {
			return ip
		}
	}

	return remoteHost(r.RemoteAddr)
}

// forwardedFor extracts the for= parameter of the first RFC 7239 element,
// e.g. `for=192.0.2.60;proto=http;by=203.0.113.43`.
func forwardedFor(value string) string {
	first, _, _ := strings.Cut(value, ",")
	for _, pair := range strings.Split(first, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "for") {
			continue
		}
		val = strings.Trim(strings.TrimSpace(val), `"`)
		if strings.HasPrefix(val, "[") {
			// [2001:db8::1]:4711
			if end := strings.Index(val, "]"); end > 0 {
				return val[1:end]
			}
		}
		if host, _, err := net.SplitHostPort(val); err == nil {
			return host
		}
		return val
	}
	return ""
}

func remoteHost(addr string) string {
	if addr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
