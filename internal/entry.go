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
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/inkbuild/internal/api"
	"github.com/starford/inkbuild/internal/build"
	"github.com/starford/inkbuild/internal/mcpserver"
	"github.com/starford/inkbuild/internal/models"
	"github.com/starford/inkbuild/internal/watcher"
)

// Version is reported by the MCP server.
var Version = "dev"

// ErrBuildFailed is returned by Compile when the document has errors.
var ErrBuildFailed = errors.New("build failed")

// Run starts the workspace daemon: initial build, file watcher and HTTP server.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.newLogger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("workspace_root", cfg.Workspace.Root),
		slog.String("resolution", string(cfg.Workspace.Mode())),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt, err := newStack(app, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.acquire(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	commands := make(chan build.Command, 64)

	// File watcher feeding the engine. It is watching before the initial
	// build starts so edits made during the build are not lost; their
	// commands queue until the engine loop runs.
	ready := make(chan struct{})
	g.Go(func() error {
		err := watcher.Watch(gCtx, watcher.Config{
			Root:     rt.store.Root(),
			Debounce: cfg.Build.Debounce,
			Classify: rt.scanner.Classify,
			Skip:     rt.scanner.Skipped,
			OnReady:  func() { close(ready) },
			Logger:   logger,
		}, commands)
		if err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		return nil
	})
	select {
	case <-ready:
	case <-gCtx.Done():
		return g.Wait()
	}

	if err := rt.seed(gCtx); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("initial build: %w", err)
	}

	apiRouter := api.NewRouter(rt.service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, rt.broker)

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
		_, _ = fmt.Fprintf(w, `{"status":"ok","documents":%d}`, rt.engine.Graph().Len())
	})
	r.Handle("/metrics", rt.metrics.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	// Engine command loop.
	g.Go(func() error {
		return rt.engine.Run(gCtx, commands)
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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stops the engine loop and the watcher.
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP builds the workspace once and serves the MCP tools on stdio.
// Logs go to stderr so they never mix with the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.newLogger()

	rt, err := newStack(app, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.acquire(); err != nil {
		return err
	}
	if err := rt.seed(ctx); err != nil {
		return fmt.Errorf("initial build: %w", err)
	}

	logger.Info("MCP server starting", slog.String("workspace_root", rt.store.Root()))
	return mcpserver.New(rt.service, Version).ServeStdio()
}

// Compile registers the workspace, compiles the script at path once and
// prints its diagnostics. It returns ErrBuildFailed when any error was
// reported.
func Compile(ctx context.Context, path string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.newLogger()

	rt, err := newStack(app, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	id, err := rt.service.DocumentID(path)
	if err != nil {
		return err
	}
	docs, err := rt.scan(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := rt.engine.Register(doc.ID, doc.Kind); err != nil {
			return err
		}
	}

	res, err := rt.engine.Compile(ctx, id)
	if err != nil {
		return err
	}
	printResult(app.out, rt, res)
	if !res.Succeeded() {
		return fmt.Errorf("%s: %w", rt.service.Relative(id), ErrBuildFailed)
	}
	return nil
}

func printResult(w io.Writer, rt *stack, res build.Result) {
	docs := make([]models.DocumentID, 0, len(res.Diagnostics))
	for id := range res.Diagnostics {
		docs = append(docs, id)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i] < docs[j] })

	for _, id := range docs {
		for _, d := range res.Diagnostics[id] {
			fmt.Fprintf(w, "%s:%d:%d: %s: %s\n",
				rt.service.Relative(id), d.Range.Start.Line+1, d.Range.Start.Character+1, d.Severity, d.Message)
		}
	}
	fmt.Fprintf(w, "%s: %s (%d diagnostics)\n", rt.service.Relative(res.ID), res.State, res.DiagnosticCount())
	if res.Emitted != "" {
		fmt.Fprintf(w, "emitted %s\n", rt.service.Relative(res.Emitted))
	}
}
