// Package scan enumerates and classifies the documents of a workspace.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/starford/inkbuild/internal/models"
)

// Default patterns, relative to the workspace root.
var (
	DefaultScripts  = []string{"**/*.ink"}
	DefaultBindings = []string{"**/*.js"}
	DefaultIgnore   = []string{"**/out/**", "**/node_modules/**"}
)

// Scanner classifies workspace paths by glob patterns.
type Scanner struct {
	root     string
	scripts  []string
	bindings []string
	ignore   []string
	// gitignore holds the root .gitignore rules; nil when there is none.
	gitignore *gitignore.GitIgnore
}

// New validates every pattern and returns a scanner rooted at root. All
// invalid patterns are reported together. Paths matched by the root
// .gitignore are skipped as well.
func New(root string, scripts, bindings, ignore []string) (*Scanner, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("scan: resolve root: %w", err)
	}
	if len(scripts) == 0 {
		scripts = DefaultScripts
	}
	if len(bindings) == 0 {
		bindings = DefaultBindings
	}
	if ignore == nil {
		ignore = DefaultIgnore
	}

	var errs *multierror.Error
	for _, group := range [][]string{scripts, bindings, ignore} {
		for _, p := range group {
			if !doublestar.ValidatePattern(p) {
				errs = multierror.Append(errs, fmt.Errorf("scan: invalid pattern %q", p))
			}
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	root = filepath.Clean(abs)
	return &Scanner{
		root:      root,
		scripts:   scripts,
		bindings:  bindings,
		ignore:    ignore,
		gitignore: loadGitignore(root),
	}, nil
}

func loadGitignore(root string) *gitignore.GitIgnore {
	gi, err := gitignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}

// Root returns the workspace root.
func (s *Scanner) Root() string { return s.root }

// Classify reports the kind of the document at id. ok is false for paths
// outside the root, hidden or ignored paths and unmatched files.
func (s *Scanner) Classify(id models.DocumentID) (kind models.DocumentKind, ok bool) {
	rel, ok := s.relative(id.Path())
	if !ok || s.skipped(rel) {
		return "", false
	}
	switch {
	case matchAny(s.scripts, rel):
		return models.KindScript, true
	case matchAny(s.bindings, rel):
		return models.KindBinding, true
	default:
		return "", false
	}
}

// Skipped reports whether a directory is excluded from scanning and
// watching.
func (s *Scanner) Skipped(dir string) bool {
	rel, ok := s.relative(dir)
	if !ok {
		return true
	}
	if rel == "." {
		return false
	}
	return s.skipped(rel) || s.ignored(rel+"/x")
}

// Scan walks the workspace and returns every classified document sorted by
// identifier. Unreadable entries are collected and returned with the
// documents that could be scanned.
func (s *Scanner) Scan(ctx context.Context) ([]models.Document, error) {
	var docs []models.Document
	var errs *multierror.Error

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("scan: %s: %w", path, err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != s.root && s.Skipped(path) {
				return filepath.SkipDir
			}
			return nil
		}
		id := models.DocumentID(filepath.Clean(path))
		if kind, ok := s.Classify(id); ok {
			docs = append(docs, models.Document{ID: id, Kind: kind})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan: walk %s: %w", s.root, err)
	}

	slices.SortFunc(docs, func(a, b models.Document) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return docs, errs.ErrorOrNil()
}

func (s *Scanner) relative(path string) (string, bool) {
	rel, err := filepath.Rel(s.root, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (s *Scanner) skipped(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return s.ignored(rel)
}

func (s *Scanner) ignored(rel string) bool {
	if matchAny(s.ignore, rel) {
		return true
	}
	return s.gitignore != nil && s.gitignore.MatchesPath(rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
