package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stephnangue/vanguard/storage"
	"github.com/stephnangue/vanguard/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const strongPassword = "Tr1ck-Horse-Battery!"

func (e *testEnv) doJSON(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	r := httptest.NewRequest(method, path, bytes.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func (e *testEnv) register(t *testing.T, email, password string) *storage.User {
	t.Helper()

	w := e.doJSON(t, http.MethodPost, "/v1/auth/register", &registerRequest{
		Email: email, Password: password,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var user storage.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	return &user
}

func decodeSession(t *testing.T, w *httptest.ResponseRecorder) *sessionResponse {
	t.Helper()
	var session sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	return &session
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t, 100)

	user := env.register(t, "Alice@Example.com", strongPassword)
	assert.NotEmpty(t, user.ID)
	// Email is normalized and the digest never leaves the server
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, []string{DefaultRole}, user.Roles)
	assert.Empty(t, user.PasswordHash)

	// Same email again is a conflict
	w := env.doJSON(t, http.MethodPost, "/v1/auth/register", &registerRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeConflict, decodeError(t, w).Error)
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t, 100)

	w := env.doJSON(t, http.MethodPost, "/v1/auth/register", &registerRequest{
		Email: "not-an-email", Password: strongPassword,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.doJSON(t, http.MethodPost, "/v1/auth/register", &registerRequest{
		Email: "bob@example.com", Password: "password123",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, CodeValidation, resp.Error)
	assert.Contains(t, resp.Message, "too weak")
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, 100)
	env.register(t, "alice@example.com", strongPassword)

	w := env.doJSON(t, http.MethodPost, "/v1/auth/login", &loginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.Equal(t, http.StatusOK, w.Code)

	session := decodeSession(t, w)
	require.NotNil(t, session.Tokens)
	assert.Equal(t, "Bearer", session.Tokens.TokenType)

	// The minted access token works against the gateway itself
	identity, err := env.tokens.Verify(session.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, identity.ID)
	assert.Equal(t, []string{DefaultRole}, identity.Roles)
}

func TestLogin_UniformFailureMessage(t *testing.T) {
	env := newTestEnv(t, 100)
	env.register(t, "alice@example.com", strongPassword)

	wrongPassword := env.doJSON(t, http.MethodPost, "/v1/auth/login", &loginRequest{
		Email: "alice@example.com", Password: "Wrong-Password-1!",
	})
	unknownEmail := env.doJSON(t, http.MethodPost, "/v1/auth/login", &loginRequest{
		Email: "nobody@example.com", Password: strongPassword,
	})

	// The response must not reveal whether the account exists
	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	require.Equal(t, http.StatusUnauthorized, unknownEmail.Code)
	assert.Equal(t, decodeError(t, wrongPassword).Message, decodeError(t, unknownEmail).Message)
}

func TestLogin_RateLimitedPerClient(t *testing.T) {
	env := newTestEnv(t, 3)

	for i := 0; i < 3; i++ {
		w := env.doJSON(t, http.MethodPost, "/v1/auth/login", &loginRequest{
			Email: fmt.Sprintf("guess-%d@example.com", i), Password: "Wrong-Password-1!",
		})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w := env.doJSON(t, http.MethodPost, "/v1/auth/login", &loginRequest{
		Email: "guess-4@example.com", Password: "Wrong-Password-1!",
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, CodeRateLimited, decodeError(t, w).Error)
}

func TestLogin_UpgradesWeakDigest(t *testing.T) {
	env := newTestEnv(t, 100)

	// Seed an account hashed under a weaker cost than the service uses
	stored := &storage.User{Email: "old@example.com", Roles: []string{DefaultRole}}
	legacy, err := bcrypt.GenerateFromPassword([]byte(strongPassword), bcrypt.MinCost)
	require.NoError(t, err)
	stored.PasswordHash = string(legacy)
	require.NoError(t, env.props.Users.Create(t.Context(), stored))

	w := env.doJSON(t, http.MethodPost, "/v1/auth/login", &loginRequest{
		Email: "old@example.com", Password: strongPassword,
	})
	require.Equal(t, http.StatusOK, w.Code)

	upgraded, err := env.props.Users.FindByID(t.Context(), stored.ID)
	require.NoError(t, err)
	assert.NotEqual(t, string(legacy), upgraded.PasswordHash)
	assert.False(t, env.props.Credentials.NeedsRehash(upgraded.PasswordHash))
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t, 100)
	user := env.register(t, "alice@example.com", strongPassword)

	login := env.doJSON(t, http.MethodPost, "/v1/auth/login", &loginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	require.Equal(t, http.StatusOK, login.Code)
	session := decodeSession(t, login)

	// An access token is not accepted where a refresh token is expected
	w := env.doJSON(t, http.MethodPost, "/v1/auth/refresh", &refreshRequest{
		RefreshToken: session.Tokens.AccessToken,
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.doJSON(t, http.MethodPost, "/v1/auth/refresh", &refreshRequest{
		RefreshToken: session.Tokens.RefreshToken,
	})
	require.Equal(t, http.StatusOK, w.Code)

	refreshed := decodeSession(t, w)
	identity, err := env.tokens.Verify(refreshed.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.ID)
}

func TestRefresh_OutlivesAccessToken(t *testing.T) {
	env := newTestEnv(t, 100)
	env.register(t, "alice@example.com", strongPassword)

	login := env.doJSON(t, http.MethodPost, "/v1/auth/login", &loginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	session := decodeSession(t, login)

	// Past the access TTL but inside the refresh TTL
	env.advance(2 * time.Hour)

	_, err := env.tokens.Verify(session.Tokens.AccessToken)
	require.ErrorIs(t, err, token.ErrExpired)

	w := env.doJSON(t, http.MethodPost, "/v1/auth/refresh", &refreshRequest{
		RefreshToken: session.Tokens.RefreshToken,
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWhoAmI(t *testing.T) {
	env := newTestEnv(t, 100)
	env.register(t, "alice@example.com", strongPassword)

	login := env.doJSON(t, http.MethodPost, "/v1/auth/login", &loginRequest{
		Email: "alice@example.com", Password: strongPassword,
	})
	session := decodeSession(t, login)

	w := env.do(http.MethodGet, "/v1/auth/me", session.Tokens.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)

	var identity token.Identity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &identity))
	assert.Equal(t, "alice@example.com", identity.Email)

	w = env.do(http.MethodGet, "/v1/auth/me", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, CodeUnauthenticated, decodeError(t, w).Error)
}
