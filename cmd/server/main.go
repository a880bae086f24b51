package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/JonMunkholm/importer/internal/config"
	"github.com/JonMunkholm/importer/internal/core"
	_ "github.com/JonMunkholm/importer/internal/core/entities" // Register all entity types
	"github.com/JonMunkholm/importer/internal/lock/redislock"
	"github.com/JonMunkholm/importer/internal/logging"
	"github.com/JonMunkholm/importer/internal/store/postgres"
	"github.com/JonMunkholm/importer/internal/store/sqlite"
	"github.com/JonMunkholm/importer/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logCloser := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"lock_backend", cfg.Lock.Backend,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore.Close()

	locks, closeLocks, err := openLocker(ctx, cfg)
	if err != nil {
		slog.Error("failed to set up entity locks", "backend", cfg.Lock.Backend, "error", err)
		os.Exit(1)
	}
	defer closeLocks.Close()

	service := core.NewService(store, locks, core.Options{
		Parser: core.ParserConfig{
			MaxBytes:      cfg.Import.MaxFileSize,
			MaxRows:       cfg.Import.MaxRows,
			Timeout:       cfg.Import.ParseTimeout,
			LegacyCharset: cfg.Import.LegacyCharset,
		},
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWaitTime:   cfg.Import.MaxWaitTime,
		SessionTTL:    cfg.Import.SessionTTL,
		Binder:        core.DirectoryBinder{Root: cfg.Schedule.SourceDir, MaxBytes: cfg.Import.MaxFileSize},
	})

	entities := service.Entities()
	slog.Info("entity types registered", "count", len(entities))
	for _, e := range entities {
		slog.Debug("entity type", "key", e.Key, "group", e.Group, "fields", len(e.Fields))
	}

	server := web.NewServer(service, cfg)

	// Cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	if cfg.Schedule.Enabled {
		go service.StartScheduleRunner(jobCtx, cfg.Schedule.CheckInterval)
	}
	go service.StartSessionJanitor(jobCtx, sessionSweepInterval(cfg))

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.WaitForImports(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		return
	}
	// Keep the store open until in-flight requests have drained.
	<-shutdownDone
	slog.Info("server stopped")
}

// openStore opens the configured record store. The returned closer
// releases its connections.
func openStore(ctx context.Context, cfg *config.Config) (core.Store, io.Closer, error) {
	switch cfg.Store.Driver {
	case "postgres":
		s, err := postgres.Open(ctx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxConns:        int32(cfg.Database.MaxConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, err
		}
		if u, err := url.Parse(cfg.Database.URL); err == nil {
			slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
		}
		return s, closerFunc(func() error { s.Close(); return nil }), nil

	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("opened sqlite store", "path", cfg.Store.SQLitePath)
		return s, s, nil

	case "memory":
		slog.Warn("using in-memory store, records are lost on restart")
		return core.NewMemoryStore(), closerFunc(func() error { return nil }), nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// openLocker returns nil for the in-process locker.
func openLocker(ctx context.Context, cfg *config.Config) (core.EntityLocker, io.Closer, error) {
	if cfg.Lock.Backend != "redis" {
		return nil, closerFunc(func() error { return nil }), nil
	}
	l, err := redislock.Dial(ctx, cfg.Lock.RedisAddr, cfg.Lock.RedisPassword, cfg.Lock.RedisDB, cfg.Lock.TTL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("using redis entity locks", "addr", cfg.Lock.RedisAddr)
	return l, l, nil
}

// sessionSweepInterval checks for expired sessions a few times per TTL.
func sessionSweepInterval(cfg *config.Config) time.Duration {
	interval := cfg.Import.SessionTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
