package gateway

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"github.com/stephnangue/vanguard/policy"
)

const (
	// DefaultTimeout bounds one forwarding attempt when the registration
	// does not set its own.
	DefaultTimeout = 30 * time.Second

	// DefaultHealthPath is probed by the health sweep when the registration
	// does not name its own liveness endpoint.
	DefaultHealthPath = "/health"
)

// ServiceRegistration describes one backend service behind the gateway.
// Registrations are created at startup from configuration and never mutated
// while serving traffic, so request handling reads them without locks.
type ServiceRegistration struct {
	// Name identifies the service in logs, health reports and discovery
	Name string `json:"name"`

	// Accessor is a generated opaque id for external references
	Accessor string `json:"accessor"`

	// UpstreamURL is the base URL requests are forwarded to
	UpstreamURL string `json:"upstream_url"`

	// PathPrefix is the inbound prefix this service claims. The registry
	// picks the longest matching prefix across all registrations.
	PathPrefix string `json:"path_prefix"`

	// RewritePrefix replaces PathPrefix on the outbound path. Empty means
	// the prefix is stripped.
	RewritePrefix string `json:"rewrite_prefix"`

	// Auth and RequiredRoles form the route policy evaluated before
	// any request is forwarded
	Auth          policy.AuthMode `json:"auth"`
	RequiredRoles []string        `json:"required_roles,omitempty"`

	// Timeout bounds a single forwarding attempt, so a registration with
	// retries can exceed it in wall-clock time.
	Timeout time.Duration `json:"timeout"`

	// RetryCount is the number of extra attempts after a connection-level
	// failure. Retries apply to idempotent methods only.
	RetryCount int `json:"retry_count"`

	// HealthPath is the liveness endpoint probed by the health sweep
	HealthPath string `json:"health_path"`

	RegisteredAt time.Time `json:"registered_at"`
}

// normalize validates the registration and fills defaults. It is called once
// at registration time.
func (s *ServiceRegistration) normalize() error {
	if s.Name == "" {
		return fmt.Errorf("service registration requires a name")
	}

	parsed, err := url.Parse(s.UpstreamURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("service %q has an invalid upstream url %q", s.Name, s.UpstreamURL)
	}
	s.UpstreamURL = strings.TrimRight(s.UpstreamURL, "/")

	if !strings.HasPrefix(s.PathPrefix, "/") {
		return fmt.Errorf("service %q path prefix %q must start with /", s.Name, s.PathPrefix)
	}
	if s.PathPrefix != "/" {
		s.PathPrefix = strings.TrimRight(s.PathPrefix, "/")
	}

	if s.Auth == "" {
		s.Auth = policy.AuthOptional
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.RetryCount < 0 {
		s.RetryCount = 0
	}
	if s.HealthPath == "" {
		s.HealthPath = DefaultHealthPath
	}

	if s.Accessor == "" {
		accessor, err := uuid.GenerateUUID()
		if err != nil {
			return fmt.Errorf("failed to generate accessor for service %q: %w", s.Name, err)
		}
		s.Accessor = "service_" + accessor
	}

	return nil
}

// Policy returns the route policy derived from this registration
func (s *ServiceRegistration) Policy() *policy.RoutePolicy {
	return &policy.RoutePolicy{
		Auth:          s.Auth,
		RequiredRoles: s.RequiredRoles,
	}
}
