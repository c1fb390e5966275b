package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsDevMode(t *testing.T) {
	cfg, err := Load(LoaderOptions{ModeFlag: "dev"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("mode = %q, want dev", cfg.Mode)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Auth.Resolver != "static" {
		t.Errorf("auth resolver = %q, want static", cfg.Auth.Resolver)
	}
	if cfg.RateLimit.Enabled {
		t.Error("rate limiting enabled in dev mode")
	}
}

func TestLoadStrictRequiresJWTSecret(t *testing.T) {
	_, err := Load(LoaderOptions{})
	if err == nil {
		t.Fatal("expected error for strict mode without jwt secret")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := writeConfig(t, `
mode = "strict"
listen_addr = ":8080"

[log]
level = "warn"

[auth]
resolver = "jwt"
jwt_secret = "test-secret"

[store]
driver = "sqlite"
data_dir = "/var/lib/podgraph"

[quotas]
default_limit = 2
[quotas.limits]
member = 4

[ratelimit.profiles."/invites"]
requests_per_window = 5
window_seconds = 30
`)

	cfg, err := Load(LoaderOptions{ConfigPath: path})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q, want warn", cfg.Log.Level)
	}
	if cfg.Store.DataDir != "/var/lib/podgraph" {
		t.Errorf("data_dir = %q", cfg.Store.DataDir)
	}

	// File quotas merge over the built-in table.
	if got := cfg.Quotas.LimitFor("member"); got != 4 {
		t.Errorf("member quota = %d, want 4", got)
	}
	if got := cfg.Quotas.LimitFor("admin"); got != -1 {
		t.Errorf("admin quota = %d, want unlimited", got)
	}

	profile, ok := cfg.RateLimit.Profiles["/invites"]
	if !ok {
		t.Fatal("missing /invites ratelimit profile")
	}
	if profile.RequestsPerWindow != 5 || profile.WindowSeconds != 30 {
		t.Errorf("profile = %+v, want 5/30", profile)
	}
	// Unmentioned profiles keep their preset.
	if _, ok := cfg.RateLimit.Profiles["/trust-invites"]; !ok {
		t.Error("preset /trust-invites profile dropped by overlay")
	}
}

func TestLoadFlagOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `
mode = "dev"
listen_addr = ":8080"
`)

	addr := ":9999"
	driver := "sqlite"
	cfg, err := Load(LoaderOptions{
		ConfigPath: path,
		FlagOverrides: FlagOverrides{
			ListenAddr:  &addr,
			StoreDriver: &driver,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("listen_addr = %q, want flag value :9999", cfg.ListenAddr)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("store driver = %q, want flag value sqlite", cfg.Store.Driver)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PODGRAPH_LISTEN_ADDR", ":7777")
	t.Setenv("PODGRAPH_LOG_LEVEL", "error")

	cfg, err := Load(LoaderOptions{ModeFlag: "dev"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":7777" {
		t.Errorf("listen_addr = %q, want env value :7777", cfg.ListenAddr)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("log level = %q, want env value error", cfg.Log.Level)
	}
}

func TestLoadModeFlagWinsOverFile(t *testing.T) {
	path := writeConfig(t, `mode = "strict"
[auth]
jwt_secret = "s"
`)

	cfg, err := Load(LoaderOptions{ConfigPath: path, ModeFlag: "dev"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("mode = %q, want dev (flag wins)", cfg.Mode)
	}
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	if _, err := Load(LoaderOptions{ModeFlag: "yolo"}); err == nil {
		t.Error("expected error for invalid mode")
	}
}

func TestLoadRejectsStaticResolverInStrict(t *testing.T) {
	path := writeConfig(t, `
mode = "strict"
[auth]
resolver = "static"
`)
	if _, err := Load(LoaderOptions{ConfigPath: path}); err == nil {
		t.Error("expected error for static resolver in strict mode")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(LoaderOptions{ConfigPath: "/nonexistent/config.toml"}); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestRedacted(t *testing.T) {
	cfg, err := Load(LoaderOptions{ModeFlag: "dev"})
	if err != nil {
		t.Fatal(err)
	}
	cfg.Auth.JWTSecret = "super-secret"

	red := cfg.Redacted()
	if red.Auth.JWTSecret != "[redacted]" {
		t.Errorf("redacted secret = %q", red.Auth.JWTSecret)
	}
	if cfg.Auth.JWTSecret != "super-secret" {
		t.Error("Redacted mutated the original")
	}
}
