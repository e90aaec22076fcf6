// Package testutil provides shared test helpers for setting up workspaces,
// databases and a fully wired build stack.
package testutil

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/inkbuild/internal/build"
	"github.com/starford/inkbuild/internal/buildservice"
	"github.com/starford/inkbuild/internal/compiler"
	"github.com/starford/inkbuild/internal/depgraph"
	"github.com/starford/inkbuild/internal/externals"
	"github.com/starford/inkbuild/internal/index"
	"github.com/starford/inkbuild/internal/models"
	"github.com/starford/inkbuild/internal/pipeline"
	"github.com/starford/inkbuild/internal/resolver"
	"github.com/starford/inkbuild/internal/scan"
	"github.com/starford/inkbuild/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "inkbuild-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestWorkspace creates a temporary workspace holding files (relative path
// to content) and a storage.FS over it.
func TestWorkspace(t *testing.T, files map[string]string) (string, *storage.FS) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		WriteFile(t, root, rel, content)
	}
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return store.Root(), store
}

// WriteFile writes content below root and returns the document id.
func WriteFile(t *testing.T, root, rel, content string) models.DocumentID {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return models.DocumentID(filepath.Clean(p))
}

// FakeCompiler succeeds unless a line of the root or an include contains
// BROKEN, in which case it reports one error per such line.
func FakeCompiler() compiler.Compiler {
	return compiler.Func(func(_ context.Context, root compiler.Source, includes []compiler.Source) (*compiler.Artifact, []compiler.Error, error) {
		errs := brokenLines("", root.Text)
		for _, inc := range includes {
			errs = append(errs, brokenLines(inc.ID, inc.Text)...)
		}
		if len(errs) > 0 {
			return nil, errs, nil
		}
		return &compiler.Artifact{Format: "json", Data: []byte(`{"inkVersion":21}`)}, nil, nil
	})
}

func brokenLines(doc models.DocumentID, text string) []compiler.Error {
	var errs []compiler.Error
	for i, line := range strings.Split(text, "\n") {
		if strings.Contains(line, "BROKEN") {
			errs = append(errs, compiler.Error{
				Document: doc,
				Range:    models.LineRange(i, 0, len(line)),
				Message:  "unexpected token",
				Severity: models.SeverityError,
			})
		}
	}
	return errs
}

// Stack is a seeded engine over a temporary workspace, publishing into a
// temporary index.
type Stack struct {
	Root    string
	Store   *storage.FS
	DB      *index.DB
	Scanner *scan.Scanner
	Engine  *build.Engine
	Service *buildservice.Service
}

// NewStack writes files, wires the engine with FakeCompiler and seeds it.
func NewStack(t *testing.T, files map[string]string, opts ...build.Option) *Stack {
	t.Helper()
	root, store := TestWorkspace(t, files)
	db := TestDB(t)

	sc, err := scan.New(root, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	bindings := externals.NewIndex()
	p := pipeline.New(pipeline.DefaultStages(store, resolver.ModeRelative, root, bindings, FakeCompiler(), nil)...)
	rec := buildservice.NewRecorder(db, store, slog.Default())

	opts = append([]build.Option{
		build.WithBindings(bindings),
		build.WithClassifier(sc.Classify),
		build.WithObserver(rec.Observe),
	}, opts...)
	engine := build.NewEngine(depgraph.New(), store, p, db, opts...)

	docs, err := sc.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Seed(context.Background(), docs); err != nil {
		t.Fatal(err)
	}

	return &Stack{
		Root:    root,
		Store:   store,
		DB:      db,
		Scanner: sc,
		Engine:  engine,
		Service: buildservice.NewService(root, engine, store, db),
	}
}

// ID returns the document id of a workspace-relative path.
func (s *Stack) ID(rel string) models.DocumentID {
	return models.DocumentID(filepath.Join(s.Root, filepath.FromSlash(rel)))
}
