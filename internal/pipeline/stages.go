package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/starford/inkbuild/internal/apperr"
	"github.com/starford/inkbuild/internal/compiler"
	"github.com/starford/inkbuild/internal/externals"
	"github.com/starford/inkbuild/internal/models"
	"github.com/starford/inkbuild/internal/outline"
	"github.com/starford/inkbuild/internal/resolver"
	"github.com/starford/inkbuild/internal/storage"
)

// Diagnostic sources.
const (
	SourceInclude  = "include"
	SourceExternal = "external"
	SourceCompiler = "compiler"
	SourceEmit     = "emit"
	SourceOutline  = "outline"
)

// OutlineStage parses the root document.
type OutlineStage struct{}

func (OutlineStage) Name() string { return "outline" }

func (OutlineStage) Run(_ context.Context, pc *Context) error {
	o, err := outline.Parse(pc.Text)
	if err != nil {
		return err
	}
	pc.Outline = o
	return nil
}

// IncludeStage resolves and loads every INCLUDE reachable from the root,
// recording one dependency edge per include. Each document is loaded at
// most once per run, so include cycles terminate.
type IncludeStage struct {
	Store storage.Store
	Mode  resolver.Mode
	Root  string
}

func (*IncludeStage) Name() string { return "include" }

func (s *IncludeStage) Run(ctx context.Context, pc *Context) error {
	if pc.Outline == nil {
		return errors.New("root outline is not available")
	}
	visited := map[models.DocumentID]struct{}{pc.ID: {}}
	s.walk(ctx, pc, pc.ID, pc.Outline, visited)
	return ctx.Err()
}

func (s *IncludeStage) walk(ctx context.Context, pc *Context, from models.DocumentID, o *outline.Outline, visited map[models.DocumentID]struct{}) {
	for _, inc := range o.Includes() {
		if ctx.Err() != nil {
			return
		}
		target, err := resolver.Resolve(s.Mode, resolver.Request{
			Origin:    pc.ID,
			Including: from,
			Written:   inc.Detail,
			Root:      s.Root,
		})
		if err != nil {
			pc.AddDiagnostic(from, models.Diagnostic{
				Range:    inc.Range,
				Message:  fmt.Sprintf("cannot resolve include %q: %v", inc.Detail, err),
				Severity: models.SeverityError,
				Source:   SourceInclude,
			})
			continue
		}
		if target == from {
			pc.AddDiagnostic(from, models.Diagnostic{
				Range:    inc.Range,
				Message:  fmt.Sprintf("document includes itself via %q", inc.Detail),
				Severity: models.SeverityWarning,
				Source:   SourceInclude,
			})
			continue
		}
		if _, seen := visited[target]; seen {
			pc.AddEdge(from, target)
			pc.AddResolution(from, inc.Detail, target)
			continue
		}

		text, version, err := s.Store.Read(target)
		if err != nil {
			pc.AddDiagnostic(from, models.Diagnostic{
				Range:    inc.Range,
				Message:  fmt.Sprintf("cannot load include %q: %v", inc.Detail, err),
				Severity: models.SeverityError,
				Source:   SourceInclude,
			})
			if errors.Is(err, apperr.ErrNotFound) {
				pc.AddMissing(from, target)
			}
			continue
		}

		visited[target] = struct{}{}
		pc.AddEdge(from, target)
		pc.AddResolution(from, inc.Detail, target)
		doc := &Document{ID: target, Text: text, Version: version}
		pc.AddInclude(doc)

		child, err := outline.Parse(text)
		if err != nil {
			pc.AddDiagnostic(target, models.Diagnostic{
				Message:  err.Error(),
				Severity: models.SeverityError,
				Source:   SourceOutline,
			})
			continue
		}
		doc.Outline = child
		s.walk(ctx, pc, target, child, visited)
	}
}

// ExternalStage links every EXTERNAL declaration in the walked documents
// to the binding documents that provide it.
type ExternalStage struct {
	Bindings *externals.Index
}

func (*ExternalStage) Name() string { return "external" }

func (s *ExternalStage) Run(_ context.Context, pc *Context) error {
	if s.Bindings == nil {
		return nil
	}
	for _, doc := range pc.Walked() {
		for _, ext := range doc.Outline.Externals() {
			providers := s.Bindings.Lookup(ext.Name)
			if len(providers) == 0 {
				pc.AddDiagnostic(doc.ID, models.Diagnostic{
					Range:    ext.Range,
					Message:  fmt.Sprintf("no binding found for external function %q", ext.Name),
					Severity: models.SeverityWarning,
					Source:   SourceExternal,
				})
				pc.AddUnbound(ext.Name)
				continue
			}
			for _, id := range providers {
				pc.AddEdge(doc.ID, id)
				pc.AddBinding(id)
			}
		}
	}
	return nil
}

// CompileStage hands the root and its loaded includes to the compiler.
type CompileStage struct {
	Compiler compiler.Compiler
}

func (*CompileStage) Name() string { return "compile" }

func (s *CompileStage) Run(ctx context.Context, pc *Context) error {
	includes := make([]compiler.Source, 0, len(pc.order))
	for _, doc := range pc.Includes() {
		includes = append(includes, compiler.Source{ID: doc.ID, Text: doc.Text, Includes: pc.Resolutions(doc.ID)})
	}
	root := compiler.Source{ID: pc.ID, Text: pc.Text, Includes: pc.Resolutions(pc.ID)}
	art, errs, err := s.Compiler.Compile(ctx, root, includes)
	if err != nil {
		return err
	}

	failed := false
	for _, e := range errs {
		doc := e.Document
		if doc == "" {
			doc = pc.ID
		}
		if e.Severity == models.SeverityError {
			failed = true
		}
		pc.AddDiagnostic(doc, models.Diagnostic{
			Range:    e.Range,
			Message:  e.Message,
			Severity: e.Severity,
			Source:   SourceCompiler,
		})
	}
	if art == nil || failed {
		pc.Fail()
		return nil
	}
	pc.Succeed(art)
	return nil
}

// EmitStage writes a successful artifact next to the root document. A
// write failure is reported as a warning and does not fail the run.
type EmitStage struct {
	Enabled bool
	OutDir  string
	Writer  storage.Writer
}

func (*EmitStage) Name() string { return "emit" }

func (s *EmitStage) Run(_ context.Context, pc *Context) error {
	if !s.Enabled || s.Writer == nil {
		return nil
	}
	art, ok := pc.Outcome().Artifact()
	if !ok {
		return nil
	}
	out := OutputPath(pc.ID, s.OutDir)
	if err := s.Writer.Write(out, art.Data); err != nil {
		pc.AddDiagnostic(pc.ID, models.Diagnostic{
			Message:  fmt.Sprintf("cannot write artifact: %v", err),
			Severity: models.SeverityWarning,
			Source:   SourceEmit,
		})
		return nil
	}
	pc.Emitted = out
	return nil
}

// OutputPath returns where the artifact of id is written: a file with the
// same base name and a .json extension in outDir. A relative outDir is
// taken relative to the document's directory; empty means "out".
func OutputPath(id models.DocumentID, outDir string) models.DocumentID {
	if outDir == "" {
		outDir = "out"
	}
	base := filepath.Base(id.Path())
	name := strings.TrimSuffix(base, filepath.Ext(base)) + ".json"
	if filepath.IsAbs(outDir) {
		return models.DocumentID(filepath.Join(outDir, name))
	}
	return models.DocumentID(filepath.Join(id.Dir(), outDir, name))
}

// DefaultStages returns the standard stage order.
func DefaultStages(store storage.Store, mode resolver.Mode, root string, bindings *externals.Index, c compiler.Compiler, emit *EmitStage) []Stage {
	stages := []Stage{
		OutlineStage{},
		&IncludeStage{Store: store, Mode: mode, Root: root},
		&ExternalStage{Bindings: bindings},
		&CompileStage{Compiler: c},
	}
	if emit != nil {
		stages = append(stages, emit)
	}
	return stages
}
