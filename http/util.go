package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/stephnangue/vanguard/gateway"
	"github.com/stephnangue/vanguard/policy"
	"github.com/stephnangue/vanguard/ratelimit"
	"github.com/stephnangue/vanguard/storage"
)

// Stable machine-readable error codes carried in the error envelope
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeTokenExpired    = "TOKEN_EXPIRED"
	CodeForbidden       = "INSUFFICIENT_PERMISSIONS"
	CodeRateLimited     = "RATE_LIMITED"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeValidation      = "VALIDATION_FAILED"
	CodeUpstreamDown    = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamTimeout = "UPSTREAM_TIMEOUT"
	CodeInternal        = "INTERNAL"
)

// ErrorResponse is the envelope every gateway-originated error uses.
// Backend error bodies pass through untouched; this shape marks the error
// as coming from the gateway itself.
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`

	RequiredRoles []string `json:"required_roles,omitempty"`
	CurrentRoles  []string `json:"current_roles,omitempty"`
	RetryAfter    int      `json:"retry_after,omitempty"`
}

// respondError writes a gateway error envelope
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondEnvelope(w, status, &ErrorResponse{
		Success:   false,
		Error:     code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// respondRateLimited writes a 429 with a Retry-After header and hint
func respondRateLimited(w http.ResponseWriter, decision ratelimit.Decision) {
	retryAfter := decision.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	respondEnvelope(w, http.StatusTooManyRequests, &ErrorResponse{
		Success:    false,
		Error:      CodeRateLimited,
		Message:    "too many requests, retry later",
		Timestamp:  time.Now().UTC(),
		RetryAfter: retryAfter,
	})
}

// respondPolicyError maps an authorization rejection to its status and code.
// Expired tokens get their own code so clients know a refresh may help.
// Ownership violations surface as not-found, so outsiders cannot probe
// which resource ids exist.
func respondPolicyError(w http.ResponseWriter, err error) {
	var unauthenticated *policy.UnauthenticatedError
	if errors.As(err, &unauthenticated) {
		code := CodeUnauthenticated
		if unauthenticated.Expired {
			code = CodeTokenExpired
		}
		respondError(w, http.StatusUnauthorized, code, unauthenticated.Reason)
		return
	}

	var forbidden *policy.ForbiddenError
	if errors.As(err, &forbidden) {
		if forbidden.Ownership {
			respondError(w, http.StatusNotFound, CodeNotFound, "resource not found")
			return
		}
		respondEnvelope(w, http.StatusForbidden, &ErrorResponse{
			Success:       false,
			Error:         CodeForbidden,
			Message:       forbidden.Error(),
			Timestamp:     time.Now().UTC(),
			RequiredRoles: forbidden.RequiredRoles,
			CurrentRoles:  forbidden.CurrentRoles,
		})
		return
	}

	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNotAuthorized) {
		respondError(w, http.StatusNotFound, CodeNotFound, "resource not found")
		return
	}

	respondError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}

// respondUpstreamError maps a forwarding failure to 502 or 504
func respondUpstreamError(w http.ResponseWriter, err *gateway.UpstreamError) {
	if err.Timeout {
		respondError(w, http.StatusGatewayTimeout, CodeUpstreamTimeout, "upstream did not respond in time")
		return
	}
	respondError(w, http.StatusBadGateway, CodeUpstreamDown, "upstream is unavailable")
}

// respondOk writes a successful JSON response
func respondOk(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondEnvelope(w http.ResponseWriter, status int, resp *ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// decodeJSONBody parses a bounded JSON request body into dst
func decodeJSONBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
