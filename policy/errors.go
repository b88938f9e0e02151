package policy

import (
	"fmt"
	"strings"
)

// UnauthenticatedError rejects a request that failed to prove who it is.
// Expired distinguishes a once-valid token from one that never was, so the
// caller knows whether a refresh would help.
type UnauthenticatedError struct {
	Expired bool
	Reason  string
}

func (e *UnauthenticatedError) Error() string {
	if e.Reason == "" {
		return "request is not authenticated"
	}
	return fmt.Sprintf("request is not authenticated: %s", e.Reason)
}

// ForbiddenError rejects an authenticated request that lacks standing:
// either a missing role or an ownership violation.
type ForbiddenError struct {
	Ownership     bool
	RequiredRoles []string
	CurrentRoles  []string
}

func (e *ForbiddenError) Error() string {
	if e.Ownership {
		return "caller does not own the targeted resource"
	}
	return fmt.Sprintf("caller roles [%s] do not satisfy required roles [%s]",
		strings.Join(e.CurrentRoles, ", "), strings.Join(e.RequiredRoles, ", "))
}
