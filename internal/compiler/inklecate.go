package compiler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/google/shlex"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/starford/inkbuild/internal/models"
	"github.com/starford/inkbuild/internal/outline"
)

var inklecateLineRe = regexp.MustCompile(`^(ERROR|WARNING|TODO|RUNTIME ERROR|RUNTIME WARNING):\s*(?:'([^']*)'\s+)?line\s+(\d+):\s*(.*)$`)

// Inklecate runs the inklecate binary. Sources are materialised in a
// scratch directory using their paths relative to Root. inklecate resolves
// every INCLUDE against the root file's directory, so include paths in the
// scratch copies are rewritten to point at the documents the build
// resolved them to.
type Inklecate struct {
	Binary string
	// Args come before inklecate's own flags, e.g. the assembly path when
	// Binary is a .NET host.
	Args   []string
	Root   string
	Logger *slog.Logger
}

// NewInklecate splits a shell-style command line such as
// "dotnet ~/tools/inklecate.dll" into binary and arguments. A leading ~ in
// any word is expanded. An empty command means "inklecate" on PATH.
func NewInklecate(command, root string, logger *slog.Logger) (*Inklecate, error) {
	words, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("compiler: parse command %q: %w", command, err)
	}
	for i, w := range words {
		if words[i], err = homedir.Expand(w); err != nil {
			return nil, fmt.Errorf("compiler: expand %q: %w", w, err)
		}
	}
	c := &Inklecate{Root: root, Logger: logger}
	if len(words) > 0 {
		c.Binary, c.Args = words[0], words[1:]
	}
	return c, nil
}

// Compile implements Compiler.
func (c *Inklecate) Compile(ctx context.Context, root Source, includes []Source) (*Artifact, []Error, error) {
	scratch, err := os.MkdirTemp("", "inkbuild-compile-*")
	if err != nil {
		return nil, nil, fmt.Errorf("compiler: create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	sources := append([]Source{root}, includes...)
	rels := make(map[models.DocumentID]string, len(sources))
	for _, src := range sources {
		rel, err := c.relative(src.ID)
		if err != nil {
			return nil, nil, err
		}
		rels[src.ID] = rel
	}
	rootRel := rels[root.ID]
	rootDir := filepath.Dir(rootRel)

	files := make(map[string]models.DocumentID, 3*len(sources))
	for _, src := range sources {
		rel := rels[src.ID]
		dst := filepath.Join(scratch, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, nil, fmt.Errorf("compiler: mkdir: %w", err)
		}
		text := rewriteIncludes(src.Text, src.Includes, rels, rootDir)
		if err := os.WriteFile(dst, []byte(text), 0o644); err != nil {
			return nil, nil, fmt.Errorf("compiler: write source: %w", err)
		}
		files[filepath.ToSlash(rel)] = src.ID
		files[filepath.Base(rel)] = src.ID
		if fromRoot, err := filepath.Rel(rootDir, rel); err == nil {
			files[filepath.ToSlash(fromRoot)] = src.ID
		}
	}

	out := filepath.Join(scratch, "story.json")
	args := append(slices.Clone(c.Args), "-o", out, rootRel)
	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Dir = scratch
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	errs := ParseOutput(stdout.String()+stderr.String(), files, root.ID)

	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return nil, nil, fmt.Errorf("compiler: run %s: %w", c.binary(), runErr)
	}
	if runErr != nil && !models.HasErrors(toDiagnostics(errs)) {
		errs = append(errs, Error{
			Document: root.ID,
			Message:  strings.TrimSpace(fmt.Sprintf("inklecate failed: %v %s", runErr, stderr.String())),
			Severity: models.SeverityError,
		})
	}
	if models.HasErrors(toDiagnostics(errs)) {
		return nil, errs, nil
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, nil, fmt.Errorf("compiler: read output: %w", err)
	}
	if c.Logger != nil {
		c.Logger.Debug("compiler: inklecate finished",
			slog.String("root", root.ID.String()),
			slog.Int("bytes", len(data)))
	}
	return &Artifact{Format: "ink-json", Data: bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))}, errs, nil
}

// rewriteIncludes replaces each include path of text found in includes with
// the path of its target relative to rootDir. Lines keep their positions
// so reported line numbers still match the workspace file.
func rewriteIncludes(text string, includes map[string]models.DocumentID, rels map[models.DocumentID]string, rootDir string) string {
	if len(includes) == 0 {
		return text
	}
	o, err := outline.Parse(text)
	if err != nil {
		return text
	}
	lines := strings.Split(text, "\n")
	for _, inc := range o.Includes() {
		rel, ok := rels[includes[inc.Detail]]
		if !ok {
			continue
		}
		target, err := filepath.Rel(rootDir, rel)
		if err != nil {
			continue
		}
		n := inc.Range.Start.Line
		if n >= len(lines) {
			continue
		}
		line := lines[n]
		kw := strings.Index(line, "INCLUDE")
		if kw < 0 {
			continue
		}
		at := strings.Index(line[kw+len("INCLUDE"):], inc.Detail)
		if at < 0 {
			continue
		}
		at += kw + len("INCLUDE")
		lines[n] = line[:at] + filepath.ToSlash(target) + line[at+len(inc.Detail):]
	}
	return strings.Join(lines, "\n")
}

func (c *Inklecate) binary() string {
	if c.Binary == "" {
		return "inklecate"
	}
	return c.Binary
}

func (c *Inklecate) relative(id models.DocumentID) (string, error) {
	if c.Root == "" {
		return filepath.Base(id.Path()), nil
	}
	rel, err := filepath.Rel(c.Root, id.Path())
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("compiler: %s is outside workspace %s", id, c.Root)
	}
	return rel, nil
}

// ParseOutput extracts errors from inklecate's console output. files maps
// the file names inklecate prints back to documents; unknown names are
// attributed to fallback.
func ParseOutput(output string, files map[string]models.DocumentID, fallback models.DocumentID) []Error {
	var out []Error
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		m := inklecateLineRe.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		line, _ := strconv.Atoi(m[3])
		if line > 0 {
			line--
		}
		doc := fallback
		if id, ok := files[filepath.ToSlash(m[2])]; ok {
			doc = id
		}
		out = append(out, Error{
			Document: doc,
			Range:    models.LineRange(line, 0, 0),
			Message:  m[4],
			Severity: severity(m[1]),
		})
	}
	return out
}

func severity(label string) models.Severity {
	switch {
	case strings.HasSuffix(label, "ERROR"):
		return models.SeverityError
	case strings.HasSuffix(label, "WARNING"):
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

func toDiagnostics(errs []Error) []models.Diagnostic {
	out := make([]models.Diagnostic, len(errs))
	for i, e := range errs {
		out[i] = models.Diagnostic{Range: e.Range, Message: e.Message, Severity: e.Severity}
	}
	return out
}
