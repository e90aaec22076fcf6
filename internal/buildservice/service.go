// Package buildservice exposes the build engine and the build index to the
// HTTP and MCP surfaces.
package buildservice

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/inkbuild/internal/apperr"
	"github.com/starford/inkbuild/internal/build"
	"github.com/starford/inkbuild/internal/depgraph"
	"github.com/starford/inkbuild/internal/index"
	"github.com/starford/inkbuild/internal/models"
	"github.com/starford/inkbuild/internal/outline"
	"github.com/starford/inkbuild/internal/storage"
)

// DocumentItem is a lightweight item in a document listing.
type DocumentItem struct {
	Path    models.DocumentID   `json:"path"`
	Kind    models.DocumentKind `json:"kind"`
	Version int64               `json:"version"`
	State   string              `json:"state,omitempty"`
}

// BuildView is the serialisable form of one compile result.
type BuildView struct {
	Document    models.DocumentID                         `json:"document"`
	Version     int64                                     `json:"version"`
	RunID       string                                    `json:"run_id,omitempty"`
	State       string                                    `json:"state"`
	Cached      bool                                      `json:"cached"`
	Includes    []models.DocumentID                       `json:"includes"`
	Emitted     models.DocumentID                         `json:"emitted,omitempty"`
	Diagnostics map[models.DocumentID][]models.Diagnostic `json:"diagnostics"`
	Duration    string                                    `json:"duration"`
	Error       string                                    `json:"error,omitempty"`
}

// DiagnosticsView is the published diagnostic set of one document.
type DiagnosticsView struct {
	Document    models.DocumentID   `json:"document"`
	Published   bool                `json:"published"`
	Diagnostics []models.Diagnostic `json:"diagnostics"`
}

// DependentsView lists who depends on a document.
type DependentsView struct {
	Document     models.DocumentID   `json:"document"`
	Dependencies []models.DocumentID `json:"dependencies"`
	Direct       []models.DocumentID `json:"direct"`
	Transitive   []models.DocumentID `json:"transitive"`
}

// Service coordinates the engine, the document store and the index.
type Service struct {
	root   string
	engine *build.Engine
	store  storage.Store
	db     *index.DB
}

// NewService creates a new build service for the workspace at root.
func NewService(root string, engine *build.Engine, store storage.Store, db *index.DB) *Service {
	return &Service{root: filepath.Clean(root), engine: engine, store: store, db: db}
}

// Root returns the workspace root.
func (s *Service) Root() string { return s.root }

// DocumentID resolves a path given by a client. Relative paths are taken
// from the workspace root; nothing outside the root is accepted.
func (s *Service) DocumentID(path string) (models.DocumentID, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", apperr.ErrInvalidInput)
	}
	p := filepath.FromSlash(path)
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)
	if p != s.root && !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes workspace: %s", apperr.ErrInvalidInput, path)
	}
	return models.DocumentID(p), nil
}

// Relative returns id relative to the workspace root, with forward slashes.
func (s *Service) Relative(id models.DocumentID) string {
	rel, err := filepath.Rel(s.root, id.Path())
	if err != nil {
		return id.String()
	}
	return filepath.ToSlash(rel)
}

// Documents lists every registered document with the state of its last
// compile.
func (s *Service) Documents(_ context.Context) []DocumentItem {
	g := s.engine.Graph()
	ids := g.IDs()
	items := make([]DocumentItem, 0, len(ids))
	for _, id := range ids {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		item := DocumentItem{Path: id, Kind: n.Kind, Version: n.Version}
		if r, ok := s.engine.LastResult(id); ok {
			item.State = r.State.String()
		}
		items = append(items, item)
	}
	return items
}

// Graph returns every node and edge of the dependency graph.
func (s *Service) Graph(_ context.Context) ([]depgraph.Node, []depgraph.Edge) {
	g := s.engine.Graph()
	ids := g.IDs()
	nodes := make([]depgraph.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := g.Node(id); ok {
			nodes = append(nodes, n)
		}
	}
	return nodes, nonNilSlice(g.Edges())
}

// Outline parses the current text of id.
func (s *Service) Outline(_ context.Context, id models.DocumentID) (*outline.Outline, error) {
	text, err := s.store.Text(id)
	if err != nil {
		return nil, err
	}
	o, err := outline.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	return o, nil
}

// Diagnostics returns the published diagnostics of id. Unknown documents
// with nothing published are not found.
func (s *Service) Diagnostics(ctx context.Context, id models.DocumentID) (*DiagnosticsView, error) {
	diags, published, err := s.db.Diagnostics(ctx, id)
	if err != nil {
		return nil, err
	}
	if !published && !s.engine.Graph().Has(id) {
		return nil, apperr.ErrNotFound
	}
	return &DiagnosticsView{Document: id, Published: published, Diagnostics: nonNilSlice(diags)}, nil
}

// Summary returns per-document diagnostic counts.
func (s *Service) Summary(ctx context.Context) ([]index.DiagnosticSummary, error) {
	out, err := s.db.Summary(ctx)
	return nonNilSlice(out), err
}

// Dependents reports the direct and transitive dependents of id.
func (s *Service) Dependents(_ context.Context, id models.DocumentID) (*DependentsView, error) {
	g := s.engine.Graph()
	if !g.Has(id) {
		return nil, apperr.ErrNotFound
	}
	deps, err := g.Dependencies(id)
	if err != nil {
		return nil, err
	}
	direct, err := g.Dependents(id)
	if err != nil {
		return nil, err
	}
	var transitive []models.DocumentID
	for _, d := range g.TransitiveDependents(id) {
		if d != id {
			transitive = append(transitive, d)
		}
	}
	return &DependentsView{
		Document:     id,
		Dependencies: nonNilSlice(deps),
		Direct:       nonNilSlice(direct),
		Transitive:   nonNilSlice(transitive),
	}, nil
}

// Compile treats id as changed and returns every result of the
// recompilation round. Unregistered documents are classified first.
func (s *Service) Compile(ctx context.Context, id models.DocumentID) ([]BuildView, error) {
	batch, err := s.engine.Handle(ctx, build.NodeChanged{ID: id})
	if err != nil {
		if errors.Is(err, apperr.ErrNotRegistered) {
			return nil, fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
		}
		return nil, err
	}
	views := make([]BuildView, 0, batch.Len())
	for _, r := range batch.All() {
		views = append(views, NewBuildView(r))
	}
	return views, nil
}

// Artifact returns the compiled artifact of id, compiling it when the
// cached one is stale.
func (s *Service) Artifact(ctx context.Context, id models.DocumentID) (build.Result, error) {
	res, err := s.engine.Artifact(ctx, id)
	if errors.Is(err, apperr.ErrNotRegistered) {
		return res, fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	}
	return res, err
}

// Build returns the last recorded build of id.
func (s *Service) Build(ctx context.Context, id models.DocumentID) (*index.BuildRow, error) {
	return s.db.GetBuild(ctx, id)
}

// Builds lists recorded builds, optionally restricted to one state.
func (s *Service) Builds(ctx context.Context, state string) ([]index.BuildRow, error) {
	rows, err := s.db.ListBuilds(ctx, state)
	return nonNilSlice(rows), err
}

// SearchSymbols delegates symbol search to the index.
func (s *Service) SearchSymbols(ctx context.Context, query string, limit int) ([]index.SymbolRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.SearchSymbols(ctx, query, limit)
	return nonNilSlice(rows), err
}

// NewBuildView converts an engine result.
func NewBuildView(r build.Result) BuildView {
	v := BuildView{
		Document:    r.ID,
		Version:     r.Version,
		RunID:       r.RunID,
		State:       r.State.String(),
		Cached:      r.Cached,
		Includes:    nonNilSlice(r.Includes),
		Emitted:     r.Emitted,
		Diagnostics: r.Diagnostics,
		Duration:    r.Duration.Round(time.Microsecond).String(),
	}
	if v.Diagnostics == nil {
		v.Diagnostics = map[models.DocumentID][]models.Diagnostic{}
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
