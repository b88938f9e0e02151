package helper

import (
	"net"
	"net/http"
	"strings"
)

// RemoteIP returns the client address of a request without the port.
// X-Forwarded-For is deliberately not consulted: the gateway is the edge.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
