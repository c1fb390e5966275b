// Package main is the entrypoint for the podgraph-go server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/podgraph/podgraph-go/internal/config"
	"github.com/podgraph/podgraph-go/internal/identity"
	"github.com/podgraph/podgraph-go/internal/lifecycle"
	"github.com/podgraph/podgraph-go/internal/platform/cache"
	"github.com/podgraph/podgraph-go/internal/platform/logutil"
	"github.com/podgraph/podgraph-go/internal/server"
	"github.com/podgraph/podgraph-go/internal/store"

	// Register cache and store drivers
	_ "github.com/podgraph/podgraph-go/internal/platform/cache/memory"
	_ "github.com/podgraph/podgraph-go/internal/store/loader"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	modeFlag := flag.String("mode", "", "Operating mode: strict or dev (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: sqlite or memory (overrides config)")
	dataDir := flag.String("data-dir", "", "Data directory for file-backed stores (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:  listenAddr,
			StoreDriver: storeDriver,
			DataDir:     dataDir,
			LogLevel:    logLevel,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("effective configuration", "config", cfg.Redacted())

	// Open the store
	driver, err := store.New(&store.DriverConfig{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.Store.DataDir,
	})
	if err != nil {
		logger.Error("failed to create store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	if err := driver.Init(context.Background()); err != nil {
		logger.Error("failed to initialize store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer driver.Close()

	invStore, ok := driver.(store.InviteStore)
	if !ok {
		logger.Error("store driver does not implement invite storage", "driver", cfg.Store.Driver)
		os.Exit(1)
	}
	podStore, ok := driver.(store.PodStore)
	if !ok {
		logger.Error("store driver does not implement pod storage", "driver", cfg.Store.Driver)
		os.Exit(1)
	}
	dirStore, ok := driver.(store.IdentityStore)
	if !ok {
		logger.Error("store driver does not implement identity storage", "driver", cfg.Store.Driver)
		os.Exit(1)
	}

	// Identity resolver
	var resolver identity.Resolver
	switch cfg.Auth.Resolver {
	case "jwt":
		resolver = identity.NewJWTResolver([]byte(cfg.Auth.JWTSecret), dirStore)
	case "static":
		resolver, err = identity.NewStaticResolver(context.Background(), cfg.Auth.StaticKeys, dirStore)
		if err != nil {
			logger.Error("failed to create static resolver", "error", err)
			os.Exit(1)
		}
		logger.Warn("using static key resolver; not for production use", "keys", len(cfg.Auth.StaticKeys))
	}

	// Rate limit counter backend
	var counter cache.Counter
	if cfg.RateLimit.Enabled {
		counter, err = cache.New(cfg.Cache.Driver, cfg.Cache.Drivers[cfg.Cache.Driver])
		if err != nil {
			logger.Error("failed to create rate limit backend", "error", err)
			os.Exit(1)
		}
		defer counter.Close()
	}

	svc := lifecycle.New(invStore, podStore, dirStore, cfg.Quotas,
		logutil.Component(logger, "lifecycle"))

	srv, err := server.New(cfg, logutil.Component(logger, "http"), &server.Deps{
		Lifecycle: svc,
		Resolver:  resolver,
		Counter:   counter,
	})
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	logger.Info("server started, press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
