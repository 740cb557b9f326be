// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
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

	"github.com/starford/relink/internal/api"
	"github.com/starford/relink/internal/eventservice"
	"github.com/starford/relink/internal/index"
	"github.com/starford/relink/internal/mcpserver"
	"github.com/starford/relink/internal/models"
	"github.com/starford/relink/internal/sse"
)

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(app.logOutput, cfg.App.LogLevel)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("archive_path", cfg.Archive.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Every index change, from the API or the archive watcher, reaches the
	// stream.
	rt.service.OnChange(func(c eventservice.Change) {
		ids := make([]string, 0, len(c.Events))
		for _, ev := range c.Events {
			ids = append(ids, ev.ID)
		}
		broker.PublishChange(sse.Change{Kind: c.Kind, Path: c.Path, IDs: ids, Coordinates: c.Coordinates})
	})

	apiRouter := api.NewRouter(rt.service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
		if _, err := rt.db.CountEvents(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Warm the configured site and prune expired cache entries.
	g.Go(func() error {
		rt.warmSite(gCtx)
		return nil
	})
	g.Go(func() error {
		rt.pruneLoop(gCtx)
		return nil
	})

	if cfg.Archive.Watch {
		g.Go(func() error {
			return index.Watch(gCtx, rt.db, rt.archive, logger,
				func(kind, path string, events []models.Event) {
					rt.service.Changed(gCtx, kind, path, events)
				})
		})
	}

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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the errgroup context so that background loops stop
// once the server is down.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdin/stdout. Logs go to the configured
// output, which must not be stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := newLogger(app.logOutput, app.config.App.LogLevel)

	rt, err := newRuntime(app.config, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	go rt.warmSite(ctx)

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.service, app.version).ServeStdio()
}

// Render resolves every reference in the text read from in and writes the
// result to out.
func Render(ctx context.Context, in io.Reader, out io.Writer, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := newLogger(app.logOutput, app.config.App.LogLevel)

	text, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	rt, err := newRuntime(app.config, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	_, err = io.WriteString(out, rt.pipeline.ResolveAndRender(ctx, string(text)))
	return err
}
