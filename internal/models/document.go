// Package models defines the domain types shared across inkbuild.
package models

import (
	"fmt"
	"path/filepath"
)

// DocumentID is the canonical handle of a workspace document: a cleaned
// absolute file path. Two IDs are equal iff they denote the same file.
type DocumentID string

// NewDocumentID canonicalises path into a DocumentID.
func NewDocumentID(path string) (DocumentID, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("models: resolve document path %s: %w", path, err)
	}
	return DocumentID(filepath.Clean(abs)), nil
}

// Path returns the file system path of the document.
func (id DocumentID) Path() string { return string(id) }

// Dir returns the directory containing the document.
func (id DocumentID) Dir() string { return filepath.Dir(string(id)) }

func (id DocumentID) String() string { return string(id) }

// DocumentKind distinguishes compilable scripts from external-function
// binding files.
type DocumentKind string

const (
	KindScript  DocumentKind = "script"
	KindBinding DocumentKind = "binding"
)

// Valid reports whether k is a known kind.
func (k DocumentKind) Valid() bool {
	return k == KindScript || k == KindBinding
}

// Document pairs an identifier with its kind, as found by a workspace scan.
type Document struct {
	ID   DocumentID   `json:"id"`
	Kind DocumentKind `json:"kind"`
}
