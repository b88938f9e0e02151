package policy

import (
	"context"
	"errors"
	"net/http"

	"github.com/stephnangue/vanguard/logger"
	"github.com/stephnangue/vanguard/token"
)

// AuthMode states how much authentication a route demands
type AuthMode string

const (
	// AuthNone skips identity resolution entirely
	AuthNone AuthMode = "none"

	// AuthOptional resolves an identity when a valid token is present and
	// degrades to anonymous otherwise, including for expired tokens.
	AuthOptional AuthMode = "optional"

	// AuthRequired rejects requests without a verifiable token
	AuthRequired AuthMode = "required"
)

// ParseAuthMode maps a config string to an AuthMode, defaulting to optional
func ParseAuthMode(mode string) AuthMode {
	switch mode {
	case string(AuthNone):
		return AuthNone
	case string(AuthRequired):
		return AuthRequired
	default:
		return AuthOptional
	}
}

// OwnerResolver resolves the owner id of the resource a request targets.
// It runs only after authentication, and its result feeds the ownership
// comparison, so it must read current data, not a cache.
type OwnerResolver func(ctx context.Context, r *http.Request) (string, error)

// RoutePolicy is the static per-route rule evaluated on every request.
// Policies are built at startup and read-only at request time.
type RoutePolicy struct {
	Auth          AuthMode
	RequiredRoles []string
	OwnerResolver OwnerResolver
}

// Engine evaluates requests against route policies. It depends only on the
// token service for identity resolution.
type Engine struct {
	tokens *token.Service
	logger logger.Logger
}

// NewEngine builds an authorization Engine
func NewEngine(tokens *token.Service, log logger.Logger) *Engine {
	return &Engine{
		tokens: tokens,
		logger: log.WithSubsystem("authz"),
	}
}

// Evaluate runs the ordered checks for one request:
// anonymous short-circuit, token verification, role check with the implicit
// administrator bypass, then ownership. It returns the resolved identity
// (nil for anonymous) or a typed rejection. Rejections are terminal for the
// request; nothing here retries.
func (e *Engine) Evaluate(ctx context.Context, r *http.Request, pol *RoutePolicy) (*token.Identity, error) {
	identity, err := e.authenticate(r, pol)
	if err != nil {
		return nil, err
	}

	if err := e.checkRoles(identity, pol); err != nil {
		return nil, err
	}

	if err := e.checkOwnership(ctx, r, identity, pol); err != nil {
		return nil, err
	}

	return identity, nil
}

func (e *Engine) authenticate(r *http.Request, pol *RoutePolicy) (*token.Identity, error) {
	if pol.Auth == AuthNone {
		return nil, nil
	}

	raw := token.ExtractBearer(r.Header.Get("Authorization"))
	if raw == "" {
		if pol.Auth == AuthRequired {
			return nil, &UnauthenticatedError{Reason: "missing bearer token"}
		}
		return nil, nil
	}

	identity, err := e.tokens.Verify(raw)
	if err != nil {
		if pol.Auth != AuthRequired {
			// Token presence is optional here, so a stale or broken token
			// downgrades the request to anonymous instead of failing it
			e.logger.Debug("ignoring unverifiable token on optional-auth route",
				logger.Err(err),
			)
			return nil, nil
		}

		if errors.Is(err, token.ErrExpired) {
			return nil, &UnauthenticatedError{Expired: true, Reason: "token is expired"}
		}
		return nil, &UnauthenticatedError{Reason: "token is invalid"}
	}

	return identity, nil
}

func (e *Engine) checkRoles(identity *token.Identity, pol *RoutePolicy) error {
	if len(pol.RequiredRoles) == 0 {
		return nil
	}

	if identity == nil {
		return &UnauthenticatedError{Reason: "authentication required for this route"}
	}

	if identity.IsAdmin() {
		return nil
	}
	for _, role := range pol.RequiredRoles {
		if identity.HasRole(role) {
			return nil
		}
	}

	return &ForbiddenError{
		RequiredRoles: pol.RequiredRoles,
		CurrentRoles:  identity.Roles,
	}
}

func (e *Engine) checkOwnership(ctx context.Context, r *http.Request, identity *token.Identity, pol *RoutePolicy) error {
	if pol.OwnerResolver == nil {
		return nil
	}

	if identity == nil {
		return &UnauthenticatedError{Reason: "authentication required for this route"}
	}
	if identity.IsAdmin() {
		return nil
	}

	owner, err := pol.OwnerResolver(ctx, r)
	if err != nil {
		return err
	}

	if owner != identity.ID {
		return &ForbiddenError{Ownership: true}
	}
	return nil
}
