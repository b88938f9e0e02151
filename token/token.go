package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-secure-stdlib/strutil"
)

// AdminRole is the implicit administrator role. Holders bypass role and
// ownership checks everywhere in the gateway.
const AdminRole = "admin"

// WildcardPermission grants every permission
const WildcardPermission = "*"

// Kind selects the token flavor and its default TTL
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

const (
	DefaultAccessTTL  = 1 * time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	// ErrExpired marks a token whose signature is fine but whose validity
	// window has passed. Callers surface this as "log in again".
	ErrExpired = errors.New("token is expired")

	// ErrInvalid marks a malformed token or one with a bad signature,
	// issuer or audience. Callers must not describe it as expired.
	ErrInvalid = errors.New("token is invalid")
)

// Identity is the verified caller context attached to a request.
// It is immutable for the lifetime of a single request.
type Identity struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// HasRole reports whether the identity holds the given role
func (i *Identity) HasRole(role string) bool {
	return strutil.StrListContains(i.Roles, role)
}

// IsAdmin reports whether the identity holds the implicit administrator role
func (i *Identity) IsAdmin() bool {
	return i.HasRole(AdminRole)
}

// HasPermission reports whether the identity holds the given permission,
// honoring the wildcard.
func (i *Identity) HasPermission(perm string) bool {
	return strutil.StrListContains(i.Permissions, WildcardPermission) ||
		strutil.StrListContains(i.Permissions, perm)
}

// Claims is the JWT payload carried by both token kinds
type Claims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"uid"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TokenKind   string   `json:"kind"`
}

// Pair bundles the access and refresh tokens minted for one identity
type Pair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Config configures a token Service
type Config struct {
	// Secret is the HMAC signing secret. Required.
	Secret string

	Issuer   string
	Audience string

	// AccessTTL and RefreshTTL default to 1h and 7d
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Clock overrides time.Now, for tests
	Clock func() time.Time
}

// Service issues and verifies signed session tokens. It performs no network
// or disk I/O; everything is CPU-bound HMAC work.
type Service struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewService builds a token Service from the given config
func NewService(cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token service requires a signing secret")
	}

	s := &Service{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Clock,
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTTL
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = DefaultRefreshTTL
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s, nil
}

// Issue mints a signed token of the given kind for the identity. A zero ttl
// selects the kind's default. Issue never fails for a well-formed identity.
func (s *Service) Issue(identity *Identity, kind Kind, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		switch kind {
		case KindRefresh:
			ttl = s.refreshTTL
		default:
			ttl = s.accessTTL
		}
	}

	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   identity.ID,
		},
		UserID:      identity.ID,
		Email:       identity.Email,
		Roles:       identity.Roles,
		Permissions: identity.Permissions,
		TokenKind:   string(kind),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, nil
}

// IssuePair mints an access and refresh token pair for the identity
func (s *Service) IssuePair(identity *Identity) (*Pair, error) {
	access, err := s.Issue(identity, KindAccess, 0)
	if err != nil {
		return nil, err
	}
	refresh, err := s.Issue(identity, KindRefresh, 0)
	if err != nil {
		return nil, err
	}

	return &Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresAt:    s.now().Add(s.accessTTL),
	}, nil
}

// Verify checks signature, issuer, audience and expiry, and returns the
// embedded identity. Failures wrap ErrExpired or ErrInvalid so that callers
// can tell a stale session from a tampered token.
func (s *Service) Verify(tokenString string) (*Identity, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	return identityFromClaims(claims), nil
}

// VerifyRefresh is Verify plus a check that the token is a refresh token
func (s *Service) VerifyRefresh(tokenString string) (*Identity, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenKind != string(KindRefresh) {
		return nil, fmt.Errorf("%w: not a refresh token", ErrInvalid)
	}
	return identityFromClaims(claims), nil
}

func (s *Service) parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalid
	}

	return claims, nil
}

// DecodeUnsafe returns the claims of a token without verifying its signature.
// It must never be used to authorize a request; it exists for diagnostics.
func (s *Service) DecodeUnsafe(tokenString string) *Claims {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil
	}
	return claims
}

// ExtractBearer pulls the token out of an Authorization header value.
// An absent or malformed header yields the empty string, not an error:
// anonymous routes see that state on every request.
func ExtractBearer(headerValue string) string {
	if headerValue == "" {
		return ""
	}
	scheme, tok, found := strings.Cut(headerValue, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	tok = strings.TrimSpace(tok)
	if tok == "" || strings.ContainsAny(tok, " \t") {
		return ""
	}
	return tok
}

func identityFromClaims(claims *Claims) *Identity {
	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	return &Identity{
		ID:          id,
		Email:       claims.Email,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}
}
