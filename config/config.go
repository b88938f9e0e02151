package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-secure-stdlib/parseutil"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// EnvTokenSecret overrides the configured signing secret when set, so the
// secret can be kept out of config files entirely.
const EnvTokenSecret = "VANGUARD_TOKEN_SECRET"

// Config is the configuration for the vanguard server.
type Config struct {
	LogLevel           string `hcl:"log_level,optional"`
	LogFormat          string `hcl:"log_format,optional"`
	LogFile            string `hcl:"log_file,optional"`
	LogRotateMegabytes int    `hcl:"log_rotate_megabytes,optional"`
	LogRotateMaxFiles  int    `hcl:"log_rotate_max_files,optional"`

	Listeners []ListenerBlock `hcl:"listener,block"`
	Token     *TokenBlock     `hcl:"token,block"`
	RateLimit *RateLimitBlock `hcl:"rate_limit,block"`
	Storage   *StorageBlock   `hcl:"storage,block"`
	Services  []ServiceBlock  `hcl:"service,block"`
}

type ListenerBlock struct {
	Name        string `hcl:"name,label"`
	Address     string `hcl:"address"`
	TLSCertFile string `hcl:"tls_cert_file,optional"`
	TLSKeyFile  string `hcl:"tls_key_file,optional"`
	TLSEnabled  bool   `hcl:"tls_enabled,optional"`
}

// TokenBlock configures token issuance and verification
type TokenBlock struct {
	Secret     string `hcl:"secret,optional"`
	Issuer     string `hcl:"issuer,optional"`
	Audience   string `hcl:"audience,optional"`
	AccessTTL  string `hcl:"access_ttl,optional"`
	RefreshTTL string `hcl:"refresh_ttl,optional"`
}

// RateLimitBlock configures the sliding-window limiter on auth endpoints
type RateLimitBlock struct {
	Window      string `hcl:"window,optional"`
	MaxAttempts int    `hcl:"max_attempts,optional"`
}

type StorageBlock struct {
	Type string `hcl:"type,label"` // "inmem"

	Path string `hcl:"path,optional"`
}

// ServiceBlock declares one backend service behind the gateway
type ServiceBlock struct {
	Name string `hcl:"name,label"`

	UpstreamURL   string   `hcl:"upstream_url"`
	PathPrefix    string   `hcl:"path_prefix"`
	RewritePrefix string   `hcl:"rewrite_prefix,optional"`
	Auth          string   `hcl:"auth,optional"`
	RequiredRoles []string `hcl:"required_roles,optional"`
	Timeout       string   `hcl:"timeout,optional"`
	RetryCount    int      `hcl:"retry_count,optional"`
	HealthPath    string   `hcl:"health_path,optional"`
}

// LoadConfig parses an HCL config file and applies environment overrides
func LoadConfig(configFile string) (*Config, error) {
	var config Config

	err := hclsimple.DecodeFile(configFile, nil, &config)
	if err != nil {
		return nil, err
	}

	if secret := os.Getenv(EnvTokenSecret); secret != "" {
		if config.Token == nil {
			config.Token = &TokenBlock{}
		}
		config.Token.Secret = secret
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// validate collects every configuration problem at once, so a bad config
// file is fixed in one pass rather than one restart per mistake.
func (c *Config) validate() error {
	var result *multierror.Error

	if c.Token == nil || c.Token.Secret == "" {
		result = multierror.Append(result, fmt.Errorf(
			"a token signing secret is required, via the token block or %s", EnvTokenSecret))
	}

	names := make(map[string]bool)
	prefixes := make(map[string]bool)
	for _, svc := range c.Services {
		if names[svc.Name] {
			result = multierror.Append(result, fmt.Errorf("duplicate service name %q", svc.Name))
		}
		if prefixes[svc.PathPrefix] {
			result = multierror.Append(result, fmt.Errorf("duplicate service path prefix %q", svc.PathPrefix))
		}
		names[svc.Name] = true
		prefixes[svc.PathPrefix] = true
	}

	return result.ErrorOrNil()
}

// GetListenerByName returns a listener by its name (label)
func (c *Config) GetListenerByName(name string) (*ListenerBlock, error) {
	for _, listener := range c.Listeners {
		if listener.Name == name {
			return &listener, nil
		}
	}
	return nil, fmt.Errorf("listener '%s' not found", name)
}

// GetApiListener is a convenience method to get the api listener
func (c *Config) GetApiListener() (*ListenerBlock, error) {
	return c.GetListenerByName("api")
}

// ParseDuration parses a duration value, falling back to a default when the
// value is empty. Bare integers are read as seconds, "30s"/"5m" forms as
// usual.
func ParseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := parseutil.ParseDurationSecond(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", value)
	}
	return d, nil
}
