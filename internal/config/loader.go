package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/podgraph/podgraph-go/internal/identity"
	"github.com/podgraph/podgraph-go/internal/platform/cfgmap"
	"github.com/podgraph/podgraph-go/internal/policy"
)

// Mode represents the server operating mode.
type Mode string

const (
	ModeStrict Mode = "strict"
	ModeDev    Mode = "dev"
)

// ParseMode parses a mode string, returning an error for invalid values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return ModeStrict, nil
	case "dev":
		return ModeDev, nil
	default:
		return "", fmt.Errorf("invalid mode %q: must be one of strict, dev", s)
	}
}

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but the file is missing or invalid, loading fails.
	ConfigPath string

	// ModeFlag is the --mode flag value (overrides config file mode).
	ModeFlag string

	// FlagOverrides are CLI flag values that override everything else.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
type FlagOverrides struct {
	ListenAddr  *string
	StoreDriver *string
	DataDir     *string
	LogLevel    *string
}

// fileConfig mirrors Config with presence-detecting pointer fields.
type fileConfig struct {
	Mode string `toml:"mode"`

	ListenAddr string `toml:"listen_addr"`

	Log       *logFileConfig       `toml:"log"`
	Store     *storeFileConfig     `toml:"store"`
	Cache     *cacheFileConfig     `toml:"cache"`
	Auth      *authFileConfig      `toml:"auth"`
	CORS      *corsFileConfig      `toml:"cors"`
	RateLimit *rateLimitFileConfig `toml:"ratelimit"`
	Quotas    map[string]any       `toml:"quotas"`
}

type logFileConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type storeFileConfig struct {
	Driver  string `toml:"driver"`
	DataDir string `toml:"data_dir"`
}

type cacheFileConfig struct {
	Driver  string                    `toml:"driver"`
	Drivers map[string]map[string]any `toml:"drivers"`
}

type authFileConfig struct {
	Resolver   string               `toml:"resolver"`
	JWTSecret  string               `toml:"jwt_secret"`
	StaticKeys []identity.StaticKey `toml:"static_keys"`
}

type corsFileConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

type rateLimitFileConfig struct {
	Enabled  *bool                     `toml:"enabled"`
	Profiles map[string]map[string]any `toml:"profiles"`
}

// presetForMode returns the defaults for the given mode. Strict is the
// production shape; dev swaps in the memory store and the static resolver.
func presetForMode(mode Mode) *Config {
	cfg := &Config{
		Mode:       mode,
		ListenAddr: ":9300",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DataDir: "./data",
		},
		Cache: CacheConfig{
			Driver: "memory",
		},
		Auth: AuthConfig{
			Resolver: "jwt",
		},
		CORS: CORSConfig{
			AllowedOrigins: nil,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Profiles: map[string]RateLimitProfile{
				"/invites":       {RequestsPerWindow: 30, WindowSeconds: 60},
				"/trust-invites": {RequestsPerWindow: 10, WindowSeconds: 60},
			},
		},
		Quotas: policy.DefaultQuotas(),
	}

	if mode == ModeDev {
		cfg.Log.Level = "debug"
		cfg.Log.Format = "text"
		cfg.Store.Driver = "memory"
		cfg.Auth.Resolver = "static"
		cfg.CORS.AllowedOrigins = []string{"*"}
		cfg.RateLimit.Enabled = false
	}

	return cfg
}

// Load loads configuration with the following precedence:
//  1. Determine effective mode: --mode flag > mode in config file > strict
//  2. Start from mode preset defaults
//  3. Overlay TOML config file values
//  4. Overlay environment variables
//  5. Overlay CLI flags
//  6. Validate
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid
// TOML, Load returns an error. Unknown TOML keys produce a warning but do
// not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var fc fileConfig

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", keys)
		}
	}

	modeStr := string(ModeStrict)
	if fc.Mode != "" {
		modeStr = fc.Mode
	}
	if opts.ModeFlag != "" {
		modeStr = opts.ModeFlag
	}
	mode, err := ParseMode(modeStr)
	if err != nil {
		return nil, err
	}

	cfg := presetForMode(mode)

	if err := overlayFileConfig(cfg, &fc); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	overlayFlags(cfg, opts.FlagOverrides)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func overlayFileConfig(cfg *Config, fc *fileConfig) error {
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.Log != nil {
		if fc.Log.Level != "" {
			cfg.Log.Level = fc.Log.Level
		}
		if fc.Log.Format != "" {
			cfg.Log.Format = fc.Log.Format
		}
	}
	if fc.Store != nil {
		if fc.Store.Driver != "" {
			cfg.Store.Driver = fc.Store.Driver
		}
		if fc.Store.DataDir != "" {
			cfg.Store.DataDir = fc.Store.DataDir
		}
	}
	if fc.Cache != nil {
		if fc.Cache.Driver != "" {
			cfg.Cache.Driver = fc.Cache.Driver
		}
		if fc.Cache.Drivers != nil {
			cfg.Cache.Drivers = fc.Cache.Drivers
		}
	}
	if fc.Auth != nil {
		if fc.Auth.Resolver != "" {
			cfg.Auth.Resolver = fc.Auth.Resolver
		}
		if fc.Auth.JWTSecret != "" {
			cfg.Auth.JWTSecret = fc.Auth.JWTSecret
		}
		if len(fc.Auth.StaticKeys) > 0 {
			cfg.Auth.StaticKeys = fc.Auth.StaticKeys
		}
	}
	if fc.CORS != nil && fc.CORS.AllowedOrigins != nil {
		cfg.CORS.AllowedOrigins = fc.CORS.AllowedOrigins
	}
	if fc.RateLimit != nil {
		if fc.RateLimit.Enabled != nil {
			cfg.RateLimit.Enabled = *fc.RateLimit.Enabled
		}
		for path, raw := range fc.RateLimit.Profiles {
			var profile RateLimitProfile
			if err := cfgmap.Decode(raw, &profile); err != nil {
				return fmt.Errorf("invalid ratelimit profile %q: %w", path, err)
			}
			profile.ApplyDefaults()
			if cfg.RateLimit.Profiles == nil {
				cfg.RateLimit.Profiles = map[string]RateLimitProfile{}
			}
			cfg.RateLimit.Profiles[path] = profile
		}
	}
	if fc.Quotas != nil {
		quotas, err := policy.QuotasFromMap(fc.Quotas)
		if err != nil {
			return fmt.Errorf("invalid quotas: %w", err)
		}
		cfg.Quotas = quotas
	}
	return nil
}

func overlayFlags(cfg *Config, flags FlagOverrides) {
	if flags.ListenAddr != nil && *flags.ListenAddr != "" {
		cfg.ListenAddr = *flags.ListenAddr
	}
	if flags.StoreDriver != nil && *flags.StoreDriver != "" {
		cfg.Store.Driver = *flags.StoreDriver
	}
	if flags.DataDir != nil && *flags.DataDir != "" {
		cfg.Store.DataDir = *flags.DataDir
	}
	if flags.LogLevel != nil && *flags.LogLevel != "" {
		cfg.Log.Level = *flags.LogLevel
	}
}

func validate(cfg *Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q: must be json or text", cfg.Log.Format)
	}
	switch cfg.Auth.Resolver {
	case "jwt":
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth resolver %q requires auth.jwt_secret", cfg.Auth.Resolver)
		}
	case "static":
		if cfg.Mode == ModeStrict {
			return fmt.Errorf("auth resolver \"static\" is not allowed in strict mode")
		}
	default:
		return fmt.Errorf("invalid auth resolver %q: must be jwt or static", cfg.Auth.Resolver)
	}
	return nil
}
