// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/blockbase/internal/api"
	"github.com/starford/blockbase/internal/factory"
	"github.com/starford/blockbase/internal/mcpserver"
	"github.com/starford/blockbase/internal/service"
	"github.com/starford/blockbase/internal/sse"
	"github.com/starford/blockbase/internal/storage"
	"github.com/starford/blockbase/internal/watcher"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger builds the structured JSON logger and makes it the default.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// openVault prepares storage and loads the knowledge base.
func openVault(ctx context.Context, cfg *Config, logger *slog.Logger) (*service.Service, *storage.FS, error) {
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}
	f := factory.New(store,
		factory.WithLogger(logger),
		factory.WithFilter(cfg.Vault.Filter()))
	svc := service.New(store, f, service.WithLogger(logger))
	if err := svc.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("load vault: %w", err)
	}
	return svc, store, nil
}

// Run starts the HTTP API and the vault watcher until ctx is cancelled or
// a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.Any("extensions", cfg.Vault.Extensions),
		slog.String("log_level", cfg.App.LogLevel.String()))

	svc, store, err := openVault(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// SSE broker.
	broker := sse.NewBroker(2*time.Second, sse.WithHeartbeat(15*time.Second))
	defer broker.Close()

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	g.Go(func() error {
		if err := watcher.Watch(gCtx, svc, store.Root(), logger, broker.PublishChange); err != nil {
			logger.Error("watcher failed", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Event streams only end when the broker closes.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stops the watcher when the signal branch was taken.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio. Logs go to stderr so they never
// mix with the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, os.Stderr)

	svc, store, err := openVault(ctx, app.config, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := watcher.Watch(ctx, svc, store.Root(), logger, nil); err != nil {
			logger.Error("watcher failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("MCP server starting", slog.String("vault_path", app.config.Vault.Path))
	return mcpserver.New(svc, app.version).ServeStdio()
}

// LinkReport is the JSON document written by Report.
type LinkReport struct {
	Path      string               `json:"path,omitempty"`
	Links     []service.BlockRef   `json:"links,omitempty"`
	Backlinks []service.BlockRef   `json:"backlinks,omitempty"`
	Broken    []service.BrokenLink `json:"broken"`
}

// Report loads the vault once and writes a link report. With an empty
// path it lists every broken link; otherwise it describes the block at
// path.
func Report(ctx context.Context, path string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, os.Stderr)

	svc, _, err := openVault(ctx, app.config, logger)
	if err != nil {
		return err
	}

	report := LinkReport{Path: path}
	if path == "" {
		report.Broken = svc.Broken(ctx)
	} else {
		detail, err := svc.Block(ctx, path)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		report.Links = detail.Links
		report.Backlinks = detail.Backlinks
		report.Broken = detail.Broken
	}

	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
