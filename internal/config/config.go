// Package config provides configuration loading and validation.
package config

import (
	"strings"

	"github.com/podgraph/podgraph-go/internal/identity"
	"github.com/podgraph/podgraph-go/internal/policy"
)

// Config holds the server configuration.
type Config struct {
	// Mode is the operating mode the preset defaults came from.
	Mode Mode

	// ListenAddr is the address to listen on. Example: ":9300"
	ListenAddr string `env:"PODGRAPH_LISTEN_ADDR"`

	Log       LogConfig
	Store     StoreConfig
	Cache     CacheConfig
	Auth      AuthConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig

	// Quotas is the per-role pending-invite quota table.
	Quotas policy.Quotas
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is one of: debug, info, warn, error
	Level string `env:"PODGRAPH_LOG_LEVEL"`

	// Format is one of: json, text
	Format string `env:"PODGRAPH_LOG_FORMAT"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Driver selects the store backend. Example: "sqlite", "memory"
	Driver string `env:"PODGRAPH_STORE_DRIVER"`

	// DataDir is where file-backed drivers keep their data.
	DataDir string `env:"PODGRAPH_DATA_DIR"`
}

// CacheConfig holds the rate-limit counter backend settings.
type CacheConfig struct {
	// Driver selects the counter backend. Example: "memory"
	Driver string `env:"PODGRAPH_CACHE_DRIVER"`

	// Drivers carries per-driver config blocks, decoded by the driver.
	Drivers map[string]map[string]any
}

// AuthConfig holds identity resolution settings.
type AuthConfig struct {
	// Resolver is one of: jwt, static
	Resolver string `env:"PODGRAPH_AUTH_RESOLVER"`

	// JWTSecret is the HS256 signing secret for session tokens.
	JWTSecret string `env:"PODGRAPH_JWT_SECRET"`

	// StaticKeys are dev-mode API keys resolved against bcrypt hashes.
	StaticKeys []identity.StaticKey
}

// CORSConfig holds the allowlist for the public invite landing endpoint.
type CORSConfig struct {
	// AllowedOrigins are origins allowed to read public endpoints cross-site.
	// "*" allows any origin.
	AllowedOrigins []string `env:"PODGRAPH_CORS_ORIGINS" envSeparator:","`
}

// RateLimitProfile defines one per-IP request budget.
type RateLimitProfile struct {
	RequestsPerWindow int64 `toml:"requests_per_window" mapstructure:"requests_per_window"`
	WindowSeconds     int   `toml:"window_seconds" mapstructure:"window_seconds"`
}

// ApplyDefaults sets reasonable defaults for unconfigured fields.
func (p *RateLimitProfile) ApplyDefaults() {
	if p.RequestsPerWindow == 0 {
		p.RequestsPerWindow = 60
	}
	if p.WindowSeconds == 0 {
		p.WindowSeconds = 60
	}
}

// RateLimitConfig maps path prefixes to rate limit profiles.
type RateLimitConfig struct {
	Enabled  bool
	Profiles map[string]RateLimitProfile
}

// AllowsOrigin reports whether the origin passes the CORS allowlist.
func (c CORSConfig) AllowsOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Redacted returns a copy safe for logging: secrets are masked.
func (c *Config) Redacted() Config {
	cp := *c
	if cp.Auth.JWTSecret != "" {
		cp.Auth.JWTSecret = "[redacted]"
	}
	keys := make([]identity.StaticKey, len(cp.Auth.StaticKeys))
	for i, k := range cp.Auth.StaticKeys {
		k.KeyHash = "[redacted]"
		keys[i] = k
	}
	cp.Auth.StaticKeys = keys
	return cp
}
