// Package clientip resolves the originating address of an HTTP request.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// FromRequest returns the client IP. Proxy headers (X-Forwarded-For, then
// X-Real-IP) are honoured only when trustProxy is set; otherwise the
// connection's remote address is used.
func FromRequest(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	return hostOnly(r.RemoteAddr)
}

// hostOnly strips the port from "IP:port" or "[IPv6]:port".
func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
