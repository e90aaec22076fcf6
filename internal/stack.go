package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gofrs/flock"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/starford/inkbuild/internal/build"
	"github.com/starford/inkbuild/internal/buildservice"
	"github.com/starford/inkbuild/internal/compiler"
	"github.com/starford/inkbuild/internal/depgraph"
	"github.com/starford/inkbuild/internal/externals"
	"github.com/starford/inkbuild/internal/index"
	"github.com/starford/inkbuild/internal/metrics"
	"github.com/starford/inkbuild/internal/models"
	"github.com/starford/inkbuild/internal/pipeline"
	"github.com/starford/inkbuild/internal/scan"
	"github.com/starford/inkbuild/internal/sse"
	"github.com/starford/inkbuild/internal/storage"
)

// stack is the wired build stack shared by every command.
type stack struct {
	cfg     *Config
	logger  *slog.Logger
	store   *storage.FS
	scanner *scan.Scanner
	db      *index.DB
	engine  *build.Engine
	service *buildservice.Service
	metrics *metrics.Metrics
	broker  *sse.Broker
	lock    *flock.Flock
}

// ErrLocked is returned when another process already serves the index.
var ErrLocked = errors.New("index is locked by another process")

func newApplication(opts []Option) (*application, error) {
	app := &application{logOut: os.Stdout, out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOut, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// newStack opens the index and wires the engine. The caller closes it.
func newStack(app *application, logger *slog.Logger) (*stack, error) {
	cfg := app.config

	root, err := homedir.Expand(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("expand workspace root: %w", err)
	}
	dbPath, err := homedir.Expand(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("expand sqlite path: %w", err)
	}

	store, err := storage.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	sc, err := scan.New(store.Root(), cfg.Workspace.Scripts, cfg.Workspace.Bindings, cfg.Workspace.Ignore)
	if err != nil {
		return nil, fmt.Errorf("init scanner: %w", err)
	}
	db, err := index.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	comp := app.compiler
	if comp == nil {
		ink, err := compiler.NewInklecate(cfg.Build.Compiler, store.Root(), logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		comp = ink
	}

	rt := &stack{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		scanner: sc,
		db:      db,
		broker:  sse.NewBroker(cfg.Build.EventThrottle),
		lock:    flock.New(dbPath + ".lock"),
	}

	bindings := externals.NewIndex()
	emit := &pipeline.EmitStage{Enabled: cfg.Build.Emit, OutDir: cfg.Build.OutDir, Writer: store}
	p := pipeline.New(pipeline.DefaultStages(store, cfg.Workspace.Mode(), store.Root(), bindings, comp, emit)...)

	graph := depgraph.New()
	rt.metrics = metrics.New(graph.Len)
	recorder := buildservice.NewRecorder(db, store, logger)

	rt.engine = build.NewEngine(graph, store, p, db,
		build.WithLogger(logger),
		build.WithCacheCapacity(cfg.Build.CacheCapacity),
		build.WithBindings(bindings),
		build.WithClassifier(sc.Classify),
		build.WithObserver(recorder.Observe),
		build.WithObserver(rt.metrics.Observe),
		build.WithObserver(rt.broker.Observe),
	)
	rt.service = buildservice.NewService(store.Root(), rt.engine, store, db)
	return rt, nil
}

// scan lists the workspace and brings the symbol index up to date.
// Unreadable entries are logged; the documents that could be read are
// still returned.
func (rt *stack) scan(ctx context.Context) ([]models.Document, error) {
	docs, err := rt.scanner.Scan(ctx)
	if err != nil {
		if docs == nil {
			return nil, err
		}
		rt.logger.Warn("scan: incomplete", slog.String("error", err.Error()))
	}
	if err := index.Sync(ctx, rt.db, rt.store, docs, rt.logger); err != nil {
		rt.logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}
	return docs, nil
}

// seed publishes a fresh diagnostic state for the whole workspace.
func (rt *stack) seed(ctx context.Context) error {
	docs, err := rt.scan(ctx)
	if err != nil {
		return err
	}
	if err := rt.engine.Reset(ctx); err != nil {
		return err
	}
	_, err = rt.engine.Seed(ctx, docs)
	return err
}

// acquire takes the index lock for long-running commands so two daemons
// never publish into the same database.
func (rt *stack) acquire() error {
	ok, err := rt.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", rt.lock.Path(), err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", rt.lock.Path(), ErrLocked)
	}
	return nil
}

func (rt *stack) Close() error {
	rt.broker.Close()
	if rt.lock.Locked() {
		_ = rt.lock.Unlock()
	}
	return rt.db.Close()
}
