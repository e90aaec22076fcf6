// Package resolver turns the path written in an INCLUDE directive into a
// canonical document identifier.
package resolver

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/starford/inkbuild/internal/models"
)

var (
	// ErrUnresolvable is returned when a written path cannot name a document.
	ErrUnresolvable = errors.New("resolver: path is unresolvable")
	// ErrNoWorkspaceRoot is returned by root-relative resolution without a root.
	ErrNoWorkspaceRoot = errors.New("resolver: workspace root is not known")
)

// Mode selects how include paths are interpreted.
type Mode string

const (
	// ModeRelative resolves every path against the including document and
	// rejects paths that start with a separator.
	ModeRelative Mode = "relative"
	// ModeRootRelative resolves separator-prefixed paths against the
	// workspace root and everything else like ModeRelative.
	ModeRootRelative Mode = "root"
)

// ParseMode parses a configuration value. Empty means ModeRelative.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeRelative:
		return ModeRelative, nil
	case ModeRootRelative:
		return ModeRootRelative, nil
	default:
		return "", fmt.Errorf("resolver: unknown mode %q", s)
	}
}

// Request describes one include to resolve.
type Request struct {
	// Origin is the root document being compiled.
	Origin models.DocumentID
	// Including is the document containing the directive; empty means Origin.
	Including models.DocumentID
	// Written is the path as it appears after INCLUDE.
	Written string
	// Root is the workspace root, used by ModeRootRelative.
	Root string
}

// Resolve resolves req according to mode.
func Resolve(mode Mode, req Request) (models.DocumentID, error) {
	switch mode {
	case ModeRootRelative:
		return resolveRootRelative(req)
	case ModeRelative, "":
		return resolveRelative(req)
	default:
		return "", fmt.Errorf("resolver: unknown mode %q", mode)
	}
}

func resolveRelative(req Request) (models.DocumentID, error) {
	written := strings.TrimSpace(req.Written)
	if written == "" || isRooted(written) {
		return "", fmt.Errorf("%w: %q", ErrUnresolvable, req.Written)
	}
	base := req.Including
	if base == "" {
		base = req.Origin
	}
	if base == "" {
		return "", fmt.Errorf("%w: %q has no including document", ErrUnresolvable, req.Written)
	}
	return join(base.Dir(), written), nil
}

func resolveRootRelative(req Request) (models.DocumentID, error) {
	written := strings.TrimSpace(req.Written)
	if !isRooted(written) {
		return resolveRelative(req)
	}
	if req.Root == "" {
		return "", ErrNoWorkspaceRoot
	}
	return join(req.Root, strings.TrimLeft(written, `/\`)), nil
}

func isRooted(p string) bool {
	return strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`)
}

func join(dir, written string) models.DocumentID {
	return models.DocumentID(filepath.Clean(filepath.Join(dir, filepath.FromSlash(written))))
}
