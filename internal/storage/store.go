// Package storage provides the document store the build reads sources
// from and writes emitted artifacts to.
package storage

import "github.com/starford/inkbuild/internal/models"

// Store reads documents. Every method fails with an error wrapping
// apperr.ErrNotFound when the document does not exist.
type Store interface {
	// Read returns the content together with the version it belongs to,
	// taken from a single read.
	Read(id models.DocumentID) (string, int64, error)
	// Text returns the current content of the document.
	Text(id models.DocumentID) (string, error)
	// Version returns a number that increases whenever the content changes.
	Version(id models.DocumentID) (int64, error)
}

// Writer persists derived files such as emitted artifacts.
type Writer interface {
	Write(id models.DocumentID, content []byte) error
}
