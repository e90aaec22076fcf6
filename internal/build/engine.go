// Package build drives incremental compilation: it owns the dependency
// graph updates, diagnostic publication and the artifact cache.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/starford/inkbuild/internal/apperr"
	"github.com/starford/inkbuild/internal/depgraph"
	"github.com/starford/inkbuild/internal/diagnostics"
	"github.com/starford/inkbuild/internal/externals"
	"github.com/starford/inkbuild/internal/models"
	"github.com/starford/inkbuild/internal/pipeline"
	"github.com/starford/inkbuild/internal/storage"
)

type set map[models.DocumentID]struct{}

// Engine compiles documents and keeps the graph, the diagnostics sink and
// the artifact cache in step. All public methods are serialized.
type Engine struct {
	mu sync.Mutex

	graph    *depgraph.Graph
	store    storage.Store
	pipeline *pipeline.Pipeline
	sink     diagnostics.Sink
	bindings *externals.Index
	cache    *ArtifactCache
	logger   *slog.Logger

	cacheCapacity int
	classify      func(models.DocumentID) (models.DocumentKind, bool)
	observers     []Observer

	// published holds, per root, the documents whose diagnostics the last
	// compile of that root set.
	published map[models.DocumentID][]models.DocumentID
	// pending maps a missing include target to the roots waiting for it.
	pending map[models.DocumentID]set
	// unbound maps an external function name to the roots declaring it
	// without a binding.
	unbound map[string]set
	last    map[models.DocumentID]Result
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCacheCapacity bounds the artifact cache.
func WithCacheCapacity(n int) Option {
	return func(e *Engine) { e.cacheCapacity = n }
}

// WithBindings shares the binding index with the external stage.
func WithBindings(idx *externals.Index) Option {
	return func(e *Engine) { e.bindings = idx }
}

// WithClassifier lets NodeChanged register documents the engine has not
// seen yet.
func WithClassifier(fn func(models.DocumentID) (models.DocumentKind, bool)) Option {
	return func(e *Engine) { e.classify = fn }
}

// WithObserver registers fn to receive engine events. Observers run
// synchronously while the engine is locked and must not call back into it.
func WithObserver(fn Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, fn) }
}

// NewEngine creates an engine over the given collaborators.
func NewEngine(graph *depgraph.Graph, store storage.Store, p *pipeline.Pipeline, sink diagnostics.Sink, opts ...Option) *Engine {
	e := &Engine{
		graph:     graph,
		store:     store,
		pipeline:  p,
		sink:      sink,
		published: make(map[models.DocumentID][]models.DocumentID),
		pending:   make(map[models.DocumentID]set),
		unbound:   make(map[string]set),
		last:      make(map[models.DocumentID]Result),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.bindings == nil {
		e.bindings = externals.NewIndex()
	}
	e.cache = NewArtifactCache(e.cacheCapacity, func(id models.DocumentID) {
		e.emit(Event{Type: EventCacheEvicted, ID: id})
	})
	return e
}

// Graph returns the dependency graph.
func (e *Engine) Graph() *depgraph.Graph { return e.graph }

// Cache returns the artifact cache.
func (e *Engine) Cache() *ArtifactCache { return e.cache }

// LastResult returns the most recent compile result of a root document.
func (e *Engine) LastResult(id models.DocumentID) (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.last[id]
	return r, ok
}

// Register creates the graph node for id. Binding documents are indexed
// immediately.
func (e *Engine) Register(id models.DocumentID, kind models.DocumentKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.registerLocked(id, kind)
	return err
}

func (e *Engine) registerLocked(id models.DocumentID, kind models.DocumentKind) ([]string, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("build: register %s: unknown kind %q", id, kind)
	}
	if e.graph.Ensure(id, kind) {
		e.emit(Event{Type: EventRegistered, ID: id, Kind: kind})
	}
	if kind != models.KindBinding {
		return nil, nil
	}
	text, err := e.store.Text(id)
	if err != nil {
		return nil, fmt.Errorf("build: register %s: %w", id, err)
	}
	return e.bindings.Update(id, text), nil
}

// Compile runs the pipeline for a registered root document.
func (e *Engine) Compile(ctx context.Context, id models.DocumentID) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compileLocked(ctx, id)
}

func (e *Engine) compileLocked(ctx context.Context, id models.DocumentID) (Result, error) {
	if err := e.checkScript(id); err != nil {
		return Result{}, fmt.Errorf("build: compile %s: %w", id, err)
	}
	start := time.Now()

	text, version, err := e.store.Read(id)
	if err != nil {
		return Result{}, fmt.Errorf("build: compile %s: %w", id, err)
	}
	if err := e.graph.SetVersion(id, version); err != nil {
		return Result{}, fmt.Errorf("build: compile %s: %w", id, err)
	}

	pc := pipeline.NewContext(id, text, version, e.logger)
	e.pipeline.Run(ctx, pc)

	e.applyEdges(pc)
	e.trackWaiting(pc)
	diags := e.flush(ctx, pc)

	includes := make([]models.DocumentID, 0)
	for _, doc := range pc.Includes() {
		includes = append(includes, doc.ID)
	}
	res := Result{
		ID:          id,
		Version:     version,
		RunID:       pc.RunID,
		State:       pc.Outcome().State(),
		Diagnostics: diags,
		Includes:    includes,
		Emitted:     pc.Emitted,
		Duration:    time.Since(start),
	}
	if art, ok := pc.Outcome().Artifact(); ok {
		res.Artifact = art
		e.cache.Put(id, version, art, pc.Bindings())
	} else {
		e.cache.Remove(id)
	}
	e.last[id] = res

	pc.Logger.Info("build: compiled",
		slog.String("state", res.State.String()),
		slog.Int("includes", len(includes)),
		slog.Int("diagnostics", res.DiagnosticCount()),
		slog.Duration("took", res.Duration))
	e.emit(Event{Type: EventCompiled, ID: id, Kind: models.KindScript, Result: &res})
	return res, nil
}

// checkScript reports whether id is a registered script. Only scripts are
// compiled; bindings are read for their declared functions.
func (e *Engine) checkScript(id models.DocumentID) error {
	node, ok := e.graph.Node(id)
	if !ok {
		return apperr.ErrNotRegistered
	}
	if node.Kind != models.KindScript {
		return fmt.Errorf("%w: %s is a %s, not a script", apperr.ErrInvalidInput, id, node.Kind)
	}
	return nil
}

// applyEdges rebuilds the forward edges of every document the run walked.
func (e *Engine) applyEdges(pc *pipeline.Context) {
	for _, edge := range pc.Edges() {
		kind := models.KindScript
		if slices.Contains(pc.Bindings(), edge.To) {
			kind = models.KindBinding
		}
		if !e.graph.Has(edge.To) {
			e.graph.Ensure(edge.To, kind)
			e.emit(Event{Type: EventRegistered, ID: edge.To, Kind: kind})
		}
	}

	walked := []models.DocumentID{pc.ID}
	for _, doc := range pc.Walked() {
		if doc.ID != pc.ID {
			walked = append(walked, doc.ID)
		}
	}
	for _, id := range walked {
		if err := e.graph.ReplaceEdges(id, pc.EdgesFrom(id)); err != nil {
			pc.Logger.Error("build: replace edges",
				slog.String("node", id.String()),
				slog.String("error", err.Error()))
		}
	}
}

// trackWaiting records the includes and externals this root is waiting for
// so that their appearance triggers a recompile.
func (e *Engine) trackWaiting(pc *pipeline.Context) {
	for target, roots := range e.pending {
		delete(roots, pc.ID)
		if len(roots) == 0 {
			delete(e.pending, target)
		}
	}
	for fn, roots := range e.unbound {
		delete(roots, pc.ID)
		if len(roots) == 0 {
			delete(e.unbound, fn)
		}
	}
	for _, m := range pc.Missing() {
		if e.pending[m.To] == nil {
			e.pending[m.To] = make(set)
		}
		e.pending[m.To][pc.ID] = struct{}{}
	}
	for _, fn := range pc.Unbound() {
		if e.unbound[fn] == nil {
			e.unbound[fn] = make(set)
		}
		e.unbound[fn][pc.ID] = struct{}{}
	}
}

// flush publishes the full diagnostic set of the root and every document
// the run touched, then clears documents the previous compile of this root
// published but this one did not.
func (e *Engine) flush(ctx context.Context, pc *pipeline.Context) map[models.DocumentID][]models.Diagnostic {
	all := pc.AllDiagnostics()
	current := []models.DocumentID{pc.ID}
	for _, doc := range pc.Includes() {
		current = append(current, doc.ID)
	}
	for id := range all {
		if !slices.Contains(current, id) {
			current = append(current, id)
		}
	}
	slices.Sort(current[1:])

	out := make(map[models.DocumentID][]models.Diagnostic, len(current))
	for _, id := range current {
		diags := all[id]
		if diags == nil {
			diags = []models.Diagnostic{}
		}
		out[id] = diags
		if err := e.sink.Set(ctx, id, diags); err != nil {
			pc.Logger.Error("build: publish diagnostics",
				slog.String("target", id.String()),
				slog.String("error", err.Error()))
		}
	}

	previous := e.published[pc.ID]
	e.published[pc.ID] = current
	for _, id := range previous {
		if slices.Contains(current, id) || e.publishedElsewhere(pc.ID, id) {
			continue
		}
		if err := e.sink.Clear(ctx, id); err != nil {
			pc.Logger.Error("build: clear diagnostics",
				slog.String("target", id.String()),
				slog.String("error", err.Error()))
		}
	}
	return out
}

func (e *Engine) publishedElsewhere(root, id models.DocumentID) bool {
	for other, docs := range e.published {
		if other != root && slices.Contains(docs, id) {
			return true
		}
	}
	return false
}

// RecompileDependents compiles every script that transitively depends on
// id, id itself included, once each.
func (e *Engine) RecompileDependents(ctx context.Context, id models.DocumentID) (*Batch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.graph.Has(id) {
		return nil, fmt.Errorf("build: recompile dependents of %s: %w", id, apperr.ErrNotRegistered)
	}
	return e.recompileLocked(ctx, e.graph.TransitiveDependents(id)), nil
}

func (e *Engine) recompileLocked(ctx context.Context, ids []models.DocumentID) *Batch {
	batch := newBatch()
	seen := make(set)
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		node, ok := e.graph.Node(id)
		if !ok || node.Kind != models.KindScript {
			continue
		}
		res, err := e.compileLocked(ctx, id)
		if err != nil {
			e.logger.Warn("build: compile failed",
				slog.String("document", id.String()),
				slog.String("error", err.Error()))
			res = Result{ID: id, State: pipeline.Failed, Err: err}
		}
		batch.add(res)
	}
	return batch
}

// Artifact returns the compiled artifact of id, reusing the cached one
// when it was built from the document's current version.
func (e *Engine) Artifact(ctx context.Context, id models.DocumentID) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkScript(id); err != nil {
		return Result{}, fmt.Errorf("build: artifact %s: %w", id, err)
	}
	version, err := e.store.Version(id)
	if err != nil {
		return Result{}, fmt.Errorf("build: artifact %s: %w", id, err)
	}
	if err := e.graph.SetVersion(id, version); err != nil {
		return Result{}, fmt.Errorf("build: artifact %s: %w", id, err)
	}

	if art, ok := e.cache.Get(id, version); ok {
		e.emit(Event{Type: EventCacheHit, ID: id})
		res := e.last[id]
		res.ID, res.Version, res.Artifact, res.Cached = id, version, art, true
		res.State = pipeline.Succeeded
		return res, nil
	}
	e.emit(Event{Type: EventCacheMiss, ID: id})
	e.cache.Invalidate(id, e.dependents)

	res, err := e.compileLocked(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if !res.Succeeded() {
		return res, fmt.Errorf("build: artifact %s: %w", id, ErrCompileFailed)
	}
	return res, nil
}

// ErrCompileFailed is returned by Artifact when the document compiled with
// errors.
var ErrCompileFailed = errors.New("compilation failed")

func (e *Engine) dependents(id models.DocumentID) []models.DocumentID {
	deps, err := e.graph.Dependents(id)
	if err != nil {
		return nil
	}
	return deps
}

// Seed registers scanned documents and compiles every script.
func (e *Engine) Seed(ctx context.Context, docs []models.Document) (*Batch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var scripts []models.DocumentID
	for _, doc := range docs {
		if _, err := e.registerLocked(doc.ID, doc.Kind); err != nil {
			return nil, err
		}
		if doc.Kind == models.KindScript {
			scripts = append(scripts, doc.ID)
		}
	}
	slices.Sort(scripts)
	batch := e.recompileLocked(ctx, scripts)
	e.logger.Info("build: seeded",
		slog.Int("documents", len(docs)),
		slog.Int("compiled", batch.Len()),
		slog.Int("failed", len(batch.Failed())))
	return batch, nil
}

// Reset clears every published diagnostic and cached artifact.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Clear()
	clear(e.published)
	clear(e.last)
	if err := e.sink.ClearAll(ctx); err != nil {
		return fmt.Errorf("build: reset: %w", err)
	}
	return nil
}

func (e *Engine) emit(ev Event) {
	for _, fn := range e.observers {
		fn(ev)
	}
}
