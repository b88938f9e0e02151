package credential

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost factor used when none is configured.
// bcrypt's own default (10) is considered too low for new deployments.
const DefaultCost = 12

// maxSecretBytes is bcrypt's hard input limit
const maxSecretBytes = 72

var (
	// ErrInvalidSecret marks input that cannot be hashed at all: empty or
	// not valid text. This is a caller bug, not a wrong password.
	ErrInvalidSecret = errors.New("secret is empty or not textual")

	// ErrSecretTooLong marks input beyond bcrypt's 72 byte limit
	ErrSecretTooLong = errors.New("secret exceeds 72 bytes")
)

// Service hashes and verifies user secrets. It is independent of transport
// and holds no mutable state.
type Service struct {
	cost   int
	policy Policy
}

// NewService builds a credential Service with the given bcrypt cost.
// A cost of 0 selects DefaultCost.
func NewService(cost int) *Service {
	if cost <= 0 {
		cost = DefaultCost
	}
	return &Service{
		cost:   cost,
		policy: DefaultPolicy(),
	}
}

// Cost returns the configured bcrypt cost factor
func (s *Service) Cost() int {
	return s.cost
}

// Hash applies a one-way salted transformation to the secret. It fails only
// for input that is empty, not textual, or beyond bcrypt's length limit.
func (s *Service) Hash(secret string) (string, error) {
	if err := validateSecret(secret); err != nil {
		return "", err
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether the secret matches the digest. It returns false,
// never an error, for malformed digests: a verification failure must be
// indistinguishable from a wrong password to the caller's error handling.
func (s *Service) Verify(secret, digest string) bool {
	if secret == "" || digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}

// NeedsRehash reports whether a stored digest was produced with a cost
// factor below the service's current one and should be upgraded on the next
// successful verification. Malformed digests report true.
func (s *Service) NeedsRehash(digest string) bool {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return true
	}
	return cost < s.cost
}

func validateSecret(secret string) error {
	if secret == "" || !utf8.ValidString(secret) {
		return ErrInvalidSecret
	}
	if len(secret) > maxSecretBytes {
		return ErrSecretTooLong
	}
	return nil
}
