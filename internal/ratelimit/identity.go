package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClientIdentity derives the identity rate windows are keyed by: the first
// address in X-Forwarded-For when present, otherwise the direct peer
// address.
func ClientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
