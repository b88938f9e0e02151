package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stephnangue/vanguard/helper"
	"github.com/stephnangue/vanguard/logger"
	"github.com/stephnangue/vanguard/token"
)

// DefaultMaxBodySize bounds buffered request bodies
const DefaultMaxBodySize = 32 << 20 // 32 MiB

// Identity and tracing headers injected on every forwarded request
const (
	HeaderUserID           = "x-user-id"
	HeaderUserEmail        = "x-user-email"
	HeaderUserRoles        = "x-user-roles"
	HeaderRequestID        = "x-request-id"
	HeaderGatewayForwarded = "x-gateway-forwarded"
)

// Headers to remove before forwarding
var headersToRemove = []string{
	// The gateway token must not reach backends
	"Authorization",
	// Hop-by-hop headers
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
	// Identity headers a client might try to spoof
	HeaderUserID,
	HeaderUserEmail,
	HeaderUserRoles,
	HeaderGatewayForwarded,
}

// UpstreamError reports a forwarding failure the gateway could not recover
// from. Timeout distinguishes an unresponsive backend from an unreachable one.
type UpstreamError struct {
	Service  string
	Attempts int
	Timeout  bool
	Err      error
}

func (e *UpstreamError) Error() string {
	kind := "unreachable"
	if e.Timeout {
		kind = "timed out"
	}
	return fmt.Sprintf("upstream %s %s after %d attempt(s): %v", e.Service, kind, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Forwarder relays authorized requests to registered backends over a shared
// transport, injecting the verified identity as headers.
type Forwarder struct {
	client      *http.Client
	logger      logger.Logger
	maxBodySize int64
}

// NewForwarder builds a Forwarder on top of the given transport. The client
// carries no global timeout; each attempt gets the registration's own.
func NewForwarder(transport http.RoundTripper, log logger.Logger) *Forwarder {
	return &Forwarder{
		client: &http.Client{
			Transport: transport,
			// Redirects are relayed to the client, not chased
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:      log.WithSubsystem("forwarder"),
		maxBodySize: DefaultMaxBodySize,
	}
}

// Forward relays the request to the registration's upstream and writes the
// backend's response through. Connection-level failures on idempotent methods
// are retried up to the registration's retry count; application responses,
// including 4xx and 5xx, are relayed verbatim and never retried.
//
// The returned error is always an *UpstreamError; when it is non-nil nothing
// has been written to the client yet.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, reg *ServiceRegistration, identity *token.Identity) error {
	start := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, f.maxBodySize))
	if err != nil {
		return &UpstreamError{Service: reg.Name, Attempts: 0, Err: fmt.Errorf("failed to read request body: %w", err)}
	}

	targetURL := buildTargetURL(reg, r.URL.Path, r.URL.RawQuery)
	requestID := requestIDFor(r)

	attempts := 1
	if reg.RetryCount > 0 && isIdempotent(r.Method) {
		attempts += reg.RetryCount
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := f.attempt(r, reg, targetURL, requestID, identity, body)
		if err == nil {
			f.logForward(r, reg, requestID, identity, resp.StatusCode, attempt, time.Since(start))
			relayResponse(w, resp)
			return nil
		}
		lastErr = err

		f.logger.Warn("forwarding attempt failed",
			logger.String("service", reg.Name),
			logger.String("request_id", requestID),
			logger.Int("attempt", attempt),
			logger.Err(err),
		)
	}

	return &UpstreamError{
		Service:  reg.Name,
		Attempts: attempts,
		Timeout:  isTimeout(lastErr),
		Err:      lastErr,
	}
}

// attempt performs one forwarding attempt under the registration's timeout
func (f *Forwarder) attempt(r *http.Request, reg *ServiceRegistration, targetURL, requestID string, identity *token.Identity, body []byte) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(r.Context(), reg.Timeout)

	out, err := http.NewRequestWithContext(ctx, r.Method, targetURL, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}

	out.Header = r.Header.Clone()
	prepareHeaders(out, r, requestID, identity)

	resp, err := f.client.Do(out)
	if err != nil {
		cancel()
		return nil, err
	}

	// The response body is still streaming; tie the timeout to its closure
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (f *Forwarder) logForward(r *http.Request, reg *ServiceRegistration, requestID string, identity *token.Identity, status, attempt int, elapsed time.Duration) {
	fields := []logger.TypedField{
		logger.String("service", reg.Name),
		logger.String("method", r.Method),
		logger.String("path", r.URL.Path),
		logger.String("request_id", requestID),
		logger.Int("status", status),
		logger.Int("attempt", attempt),
		logger.Duration("elapsed", elapsed),
	}
	if identity != nil {
		fields = append(fields, logger.String("user_id", identity.ID))
	}
	f.logger.Info("forwarded request", fields...)
}

// buildTargetURL rewrites the matched prefix and preserves the query string
func buildTargetURL(reg *ServiceRegistration, path, rawQuery string) string {
	rest := strings.TrimPrefix(path, reg.PathPrefix)
	if rest == "" {
		rest = "/"
	}

	target := reg.UpstreamURL + reg.RewritePrefix + rest
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// prepareHeaders strips credentials and hop-by-hop headers, then injects the
// verified identity and tracing headers.
func prepareHeaders(out *http.Request, in *http.Request, requestID string, identity *token.Identity) {
	// Read Connection header before removing it to handle listed headers
	conn := out.Header.Get("Connection")

	for _, h := range headersToRemove {
		out.Header.Del(h)
	}
	if conn != "" {
		for _, h := range strings.Split(conn, ",") {
			if h = strings.TrimSpace(h); h != "" {
				out.Header.Del(h)
			}
		}
	}

	if identity != nil {
		out.Header.Set(HeaderUserID, identity.ID)
		out.Header.Set(HeaderUserEmail, identity.Email)
		roles, err := json.Marshal(identity.Roles)
		if err == nil {
			out.Header.Set(HeaderUserRoles, string(roles))
		}
	}

	out.Header.Set(HeaderRequestID, requestID)
	out.Header.Set(HeaderGatewayForwarded, "true")

	if ip := helper.RemoteIP(in); ip != "" {
		prior := in.Header.Get("X-Forwarded-For")
		if prior != "" {
			ip = prior + ", " + ip
		}
		out.Header.Set("X-Forwarded-For", ip)
	}
	out.Header.Set("X-Forwarded-Host", in.Host)
	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	out.Header.Set("X-Forwarded-Proto", proto)
}

// relayResponse copies the backend response to the client verbatim, minus
// hop-by-hop headers.
func relayResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if isHopByHop(key) {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func isHopByHop(header string) bool {
	switch http.CanonicalHeaderKey(header) {
	case "Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
		"Te", "Trailers", "Transfer-Encoding", "Upgrade":
		return true
	}
	return false
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func requestIDFor(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return helper.GenerateRequestID()
}

// cancelOnClose defers a context cancel until the response body is closed
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
