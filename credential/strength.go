package credential

import (
	"fmt"
	"strings"
	"unicode"
)

// Policy describes the registration-time requirements for a new secret.
// It is evaluated by Strength, never at login time.
type Policy struct {
	MinLength        int
	RequiredClasses  int // of lower/upper/digit/symbol
	DeniedSubstrings []string
}

// DefaultPolicy returns the built-in registration policy
func DefaultPolicy() Policy {
	return Policy{
		MinLength:       10,
		RequiredClasses: 3,
		DeniedSubstrings: []string{
			"password", "passwort", "qwerty", "azerty",
			"123456", "abcdef", "letmein", "iloveyou",
			"admin", "welcome",
		},
	}
}

// Strength is the result of evaluating a candidate secret against the policy
type Strength struct {
	Score         int      `json:"score"` // 0..4
	PassingPolicy bool     `json:"passing_policy"`
	Reasons       []string `json:"reasons,omitempty"`
}

// Strength scores a candidate secret and reports why it fails the policy,
// if it does. Reasons are safe to echo back to the registering user.
func (s *Service) Strength(secret string) Strength {
	p := s.policy
	var reasons []string

	if len(secret) < p.MinLength {
		reasons = append(reasons, fmt.Sprintf("must be at least %d characters", p.MinLength))
	}

	classes := countClasses(secret)
	if classes < p.RequiredClasses {
		reasons = append(reasons, fmt.Sprintf(
			"must mix at least %d of: lowercase, uppercase, digits, symbols", p.RequiredClasses))
	}

	lowered := strings.ToLower(secret)
	for _, denied := range p.DeniedSubstrings {
		if strings.Contains(lowered, denied) {
			reasons = append(reasons, fmt.Sprintf("must not contain the common pattern %q", denied))
			break
		}
	}

	score := classes
	if len(secret) < p.MinLength {
		score = min(score, 1)
	}
	if len(reasons) > 0 && score > 2 {
		score = 2
	}
	if score > 4 {
		score = 4
	}

	return Strength{
		Score:         score,
		PassingPolicy: len(reasons) == 0,
		Reasons:       reasons,
	}
}

func countClasses(secret string) int {
	var lower, upper, digit, symbol bool
	for _, r := range secret {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}

	n := 0
	for _, present := range []bool{lower, upper, digit, symbol} {
		if present {
			n++
		}
	}
	return n
}
