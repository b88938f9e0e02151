package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "vanguard.hcl")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log_level  = "debug"
log_format = "json"

listener "api" {
  address = "127.0.0.1:8080"
}

token {
  secret      = "test-signing-secret"
  issuer      = "vanguard"
  audience    = "internal"
  access_ttl  = "30m"
  refresh_ttl = "168h"
}

rate_limit {
  window       = "1m"
  max_attempts = 10
}

storage "inmem" {}

service "users" {
  upstream_url   = "http://users.internal:8080"
  path_prefix    = "/api/users"
  auth           = "required"
  required_roles = ["user"]
  timeout        = "10s"
  retry_count    = 2
}

service "public-content" {
  upstream_url = "http://content.internal:8080"
  path_prefix  = "/api/content"
  auth         = "none"
}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)

	listener, err := cfg.GetApiListener()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", listener.Address)

	require.NotNil(t, cfg.Token)
	assert.Equal(t, "test-signing-secret", cfg.Token.Secret)
	assert.Equal(t, "vanguard", cfg.Token.Issuer)

	require.NotNil(t, cfg.RateLimit)
	assert.Equal(t, 10, cfg.RateLimit.MaxAttempts)

	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "inmem", cfg.Storage.Type)

	require.Len(t, cfg.Services, 2)
	assert.Equal(t, "users", cfg.Services[0].Name)
	assert.Equal(t, []string{"user"}, cfg.Services[0].RequiredRoles)
	assert.Equal(t, 2, cfg.Services[0].RetryCount)
	assert.Equal(t, "none", cfg.Services[1].Auth)
}

func TestLoadConfig_SecretFromEnvironment(t *testing.T) {
	path := writeConfig(t, `
listener "api" {
  address = "127.0.0.1:8080"
}
`)

	// Without the env var and without a token block the config is rejected
	_, err := LoadConfig(path)
	require.Error(t, err)

	t.Setenv(EnvTokenSecret, "secret-from-env")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.Token.Secret)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
token {
  secret = "from-file"
}
`)

	t.Setenv(EnvTokenSecret, "from-env")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Token.Secret)
}

func TestLoadConfig_DuplicateServices(t *testing.T) {
	path := writeConfig(t, `
token {
  secret = "s"
}

service "users" {
  upstream_url = "http://a:1"
  path_prefix  = "/api/users"
}

service "users" {
  upstream_url = "http://b:2"
  path_prefix  = "/api/other"
}
`)

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "duplicate service name")
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = ParseDuration("90s", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	// Bare integers are seconds
	d, err = ParseDuration("90", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseDuration("banana", 5*time.Second)
	assert.Error(t, err)

	_, err = ParseDuration("-10s", 5*time.Second)
	assert.Error(t, err)
}
