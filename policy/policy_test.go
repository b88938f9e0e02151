package policy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stephnangue/vanguard/logger"
	"github.com/stephnangue/vanguard/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T, clock func() time.Time) (*Engine, *token.Service) {
	t.Helper()

	tokens, err := token.NewService(token.Config{
		Secret: "policy-test-secret",
		Clock:  clock,
	})
	require.NoError(t, err)

	return NewEngine(tokens, logger.NewZerologLogger(logger.TestConfig())), tokens
}

func bearerRequest(tok string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/comments/c1", nil)
	if tok != "" {
		r.Header.Set("Authorization", "Bearer "+tok)
	}
	return r
}

func TestEvaluate_AnonymousShortCircuit(t *testing.T) {
	engine, _ := testEngine(t, nil)

	identity, err := engine.Evaluate(context.Background(), bearerRequest(""), &RoutePolicy{Auth: AuthOptional})
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestEvaluate_RequiredAuth(t *testing.T) {
	engine, tokens := testEngine(t, nil)
	pol := &RoutePolicy{Auth: AuthRequired}

	_, err := engine.Evaluate(context.Background(), bearerRequest(""), pol)
	var unauthenticated *UnauthenticatedError
	require.ErrorAs(t, err, &unauthenticated)
	assert.False(t, unauthenticated.Expired)

	tok, err := tokens.Issue(&token.Identity{ID: "user-1", Email: "a@example.com"}, token.KindAccess, 0)
	require.NoError(t, err)

	identity, err := engine.Evaluate(context.Background(), bearerRequest(tok), pol)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.ID)
}

func TestEvaluate_ExpiredToken(t *testing.T) {
	now := time.Now()
	clock := &now
	engine, tokens := testEngine(t, func() time.Time { return *clock })

	tok, err := tokens.Issue(&token.Identity{ID: "user-1"}, token.KindAccess, 0)
	require.NoError(t, err)

	later := now.Add(2 * time.Hour)
	clock = &later

	// Required auth reports expiry distinctly from a bad signature
	_, err = engine.Evaluate(context.Background(), bearerRequest(tok), &RoutePolicy{Auth: AuthRequired})
	var unauthenticated *UnauthenticatedError
	require.ErrorAs(t, err, &unauthenticated)
	assert.True(t, unauthenticated.Expired)

	// Optional auth treats the same token as anonymous
	identity, err := engine.Evaluate(context.Background(), bearerRequest(tok), &RoutePolicy{Auth: AuthOptional})
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestEvaluate_InvalidToken(t *testing.T) {
	engine, _ := testEngine(t, nil)

	_, err := engine.Evaluate(context.Background(), bearerRequest("not.a.token"), &RoutePolicy{Auth: AuthRequired})
	var unauthenticated *UnauthenticatedError
	require.ErrorAs(t, err, &unauthenticated)
	assert.False(t, unauthenticated.Expired)
}

func TestEvaluate_RoleCheck(t *testing.T) {
	engine, tokens := testEngine(t, nil)
	pol := &RoutePolicy{Auth: AuthRequired, RequiredRoles: []string{"editor", "moderator"}}

	issue := func(roles ...string) string {
		tok, err := tokens.Issue(&token.Identity{ID: "user-1", Roles: roles}, token.KindAccess, 0)
		require.NoError(t, err)
		return tok
	}

	// Any one of the required roles passes
	_, err := engine.Evaluate(context.Background(), bearerRequest(issue("moderator")), pol)
	require.NoError(t, err)

	// Administrators pass without holding the listed roles
	_, err = engine.Evaluate(context.Background(), bearerRequest(issue(token.AdminRole)), pol)
	require.NoError(t, err)

	// Everyone else is refused, with both role sets in the rejection
	_, err = engine.Evaluate(context.Background(), bearerRequest(issue("user")), pol)
	var forbidden *ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, []string{"editor", "moderator"}, forbidden.RequiredRoles)
	assert.Equal(t, []string{"user"}, forbidden.CurrentRoles)
	assert.False(t, forbidden.Ownership)
}

func TestEvaluate_RolesRequireIdentity(t *testing.T) {
	engine, _ := testEngine(t, nil)
	pol := &RoutePolicy{Auth: AuthOptional, RequiredRoles: []string{"editor"}}

	_, err := engine.Evaluate(context.Background(), bearerRequest(""), pol)
	var unauthenticated *UnauthenticatedError
	assert.ErrorAs(t, err, &unauthenticated)
}

func TestEvaluate_Ownership(t *testing.T) {
	engine, tokens := testEngine(t, nil)

	pol := &RoutePolicy{
		Auth: AuthRequired,
		OwnerResolver: func(ctx context.Context, r *http.Request) (string, error) {
			return "user-1", nil
		},
	}

	issue := func(id string, roles ...string) string {
		tok, err := tokens.Issue(&token.Identity{ID: id, Roles: roles}, token.KindAccess, 0)
		require.NoError(t, err)
		return tok
	}

	_, err := engine.Evaluate(context.Background(), bearerRequest(issue("user-1")), pol)
	require.NoError(t, err)

	_, err = engine.Evaluate(context.Background(), bearerRequest(issue("user-root", token.AdminRole)), pol)
	require.NoError(t, err)

	_, err = engine.Evaluate(context.Background(), bearerRequest(issue("user-2")), pol)
	var forbidden *ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.True(t, forbidden.Ownership)
}

func TestEvaluate_OwnerResolverErrorPropagates(t *testing.T) {
	engine, tokens := testEngine(t, nil)
	sentinel := fmt.Errorf("record not found")

	pol := &RoutePolicy{
		Auth: AuthRequired,
		OwnerResolver: func(ctx context.Context, r *http.Request) (string, error) {
			return "", sentinel
		},
	}

	tok, err := tokens.Issue(&token.Identity{ID: "user-1"}, token.KindAccess, 0)
	require.NoError(t, err)

	_, err = engine.Evaluate(context.Background(), bearerRequest(tok), pol)
	assert.True(t, errors.Is(err, sentinel))
}

func TestEvaluate_AuthNoneSkipsResolution(t *testing.T) {
	engine, _ := testEngine(t, nil)

	// Even a garbage token is ignored on a no-auth route
	identity, err := engine.Evaluate(context.Background(), bearerRequest("garbage"), &RoutePolicy{Auth: AuthNone})
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestIdentityContext(t *testing.T) {
	assert.Nil(t, IdentityFrom(context.Background()))

	identity := &token.Identity{ID: "user-1"}
	ctx := WithIdentity(context.Background(), identity)
	assert.Same(t, identity, IdentityFrom(ctx))
}

func TestParseAuthMode(t *testing.T) {
	assert.Equal(t, AuthNone, ParseAuthMode("none"))
	assert.Equal(t, AuthRequired, ParseAuthMode("required"))
	assert.Equal(t, AuthOptional, ParseAuthMode("optional"))
	assert.Equal(t, AuthOptional, ParseAuthMode(""))
}
