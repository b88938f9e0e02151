package credential

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Low cost keeps the bcrypt work factor out of the test runtime
const testCost = 4

func TestHashVerify_RoundTrip(t *testing.T) {
	svc := NewService(testCost)

	for _, secret := range []string{
		"s",
		"correct horse battery staple",
		"pässwörd-with-ümlauts",
		strings.Repeat("x", 72),
	} {
		digest, err := svc.Hash(secret)
		require.NoError(t, err, "secret %q", secret)
		assert.True(t, svc.Verify(secret, digest), "secret %q", secret)
		assert.False(t, svc.Verify(secret+"?", digest), "secret %q", secret)
	}
}

func TestHash_RejectsInvalidInput(t *testing.T) {
	svc := NewService(testCost)

	_, err := svc.Hash("")
	assert.True(t, errors.Is(err, ErrInvalidSecret))

	_, err = svc.Hash(string([]byte{0xff, 0xfe}))
	assert.True(t, errors.Is(err, ErrInvalidSecret))

	_, err = svc.Hash(strings.Repeat("x", 73))
	assert.True(t, errors.Is(err, ErrSecretTooLong))
}

func TestVerify_MalformedDigestIsFalseNotPanic(t *testing.T) {
	svc := NewService(testCost)

	assert.False(t, svc.Verify("secret", ""))
	assert.False(t, svc.Verify("secret", "not-a-bcrypt-digest"))
	assert.False(t, svc.Verify("secret", "$2a$banana"))
	assert.False(t, svc.Verify("", "$2a$10$whatever"))
}

func TestNeedsRehash(t *testing.T) {
	low := NewService(4)
	high := NewService(6)

	digest, err := low.Hash("some secret value")
	require.NoError(t, err)

	assert.False(t, low.NeedsRehash(digest))
	assert.True(t, high.NeedsRehash(digest))
	assert.True(t, low.NeedsRehash("garbage"))
}

func TestDefaultCost(t *testing.T) {
	svc := NewService(0)
	assert.Equal(t, DefaultCost, svc.Cost())
}

func TestStrength(t *testing.T) {
	svc := NewService(testCost)

	tests := []struct {
		name    string
		secret  string
		passing bool
	}{
		{"strong", "Tr1cky-Ph7ase!", true},
		{"too short", "Ab1!", false},
		{"single class", "aaaaaaaaaaaaaa", false},
		{"common pattern", "MyPassword123!", false},
		{"denied despite length", "qwerty-Qwerty-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.Strength(tt.secret)
			assert.Equal(t, tt.passing, got.PassingPolicy)
			if !tt.passing {
				assert.NotEmpty(t, got.Reasons)
			} else {
				assert.Empty(t, got.Reasons)
				assert.GreaterOrEqual(t, got.Score, 3)
			}
		})
	}
}
