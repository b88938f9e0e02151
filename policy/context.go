package policy

import (
	"context"

	"github.com/stephnangue/vanguard/token"
)

type contextKey int

const identityKey contextKey = iota

// WithIdentity attaches a verified identity to the request context
func WithIdentity(ctx context.Context, identity *token.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFrom returns the identity resolved for this request, or nil when
// the request is anonymous.
func IdentityFrom(ctx context.Context) *token.Identity {
	identity, _ := ctx.Value(identityKey).(*token.Identity)
	return identity
}
