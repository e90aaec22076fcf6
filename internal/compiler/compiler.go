// Package compiler defines the script compiler the build delegates to and
// an adapter for the inklecate command-line compiler.
package compiler

import (
	"context"

	"github.com/starford/inkbuild/internal/models"
)

// Source is one document handed to the compiler. Includes maps each
// include path as written in Text to the document it resolved to.
type Source struct {
	ID       models.DocumentID
	Text     string
	Includes map[string]models.DocumentID
}

// Artifact is the compiled story. Its content is opaque to the build.
type Artifact struct {
	Format string `json:"format"`
	Data   []byte `json:"-"`
}

// Error is one problem reported by the compiler. An empty Document means
// the root document.
type Error struct {
	Document models.DocumentID
	Range    models.Range
	Message  string
	Severity models.Severity
}

// Compiler compiles a root script together with the texts of everything it
// includes. It returns either an artifact or the errors that prevented one;
// warnings may accompany an artifact. A non-nil error means the compiler
// itself could not run.
type Compiler interface {
	Compile(ctx context.Context, root Source, includes []Source) (*Artifact, []Error, error)
}

// Func adapts an ordinary function to the Compiler interface.
type Func func(ctx context.Context, root Source, includes []Source) (*Artifact, []Error, error)

// Compile calls f.
func (f Func) Compile(ctx context.Context, root Source, includes []Source) (*Artifact, []Error, error) {
	return f(ctx, root, includes)
}
