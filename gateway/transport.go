package gateway

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewTransport builds the HTTP transport shared by every forwarded request.
// One pool serves all upstreams; per-service timeouts are applied per request,
// not here.
func NewTransport() *http.Transport {
	transport := &http.Transport{
		// Connection pool settings
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 50,
		MaxConnsPerHost:     0, // Unlimited outbound connections
		IdleConnTimeout:     90 * time.Second,

		// TLS configuration
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			// Enable session resumption for faster TLS handshakes
			ClientSessionCache: tls.NewLRUClientSessionCache(100),
		},

		// Dialer settings
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		ExpectContinueTimeout: 1 * time.Second,

		ForceAttemptHTTP2: true,
	}

	// Fall back to HTTP/1.1 if HTTP/2 cannot be configured
	_ = http2.ConfigureTransport(transport)

	return transport
}

// CleanupIdleConnections periodically closes idle upstream connections until
// the context is cancelled.
func CleanupIdleConnections(ctx context.Context, transport *http.Transport) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			transport.CloseIdleConnections()
			return
		case <-ticker.C:
			transport.CloseIdleConnections()
		}
	}
}
