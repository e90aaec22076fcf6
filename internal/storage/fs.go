package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/starford/inkbuild/internal/apperr"
	"github.com/starford/inkbuild/internal/checksum"
	"github.com/starford/inkbuild/internal/models"
)

type revision struct {
	sum     string
	version int64
}

// FS implements Store and Writer on the local file system. Versions are
// derived from content: each read whose checksum differs from the last one
// seen for that document bumps its version.
type FS struct {
	root string // absolute workspace directory

	mu        sync.Mutex
	revisions map[models.DocumentID]revision
}

// NewFS creates a new FS store rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs, revisions: make(map[models.DocumentID]revision)}, nil
}

// Root returns the absolute workspace directory.
func (f *FS) Root() string { return f.root }

// safePath rejects any document outside the workspace root.
func (f *FS) safePath(id models.DocumentID) (string, error) {
	p := filepath.Clean(id.Path())
	if !filepath.IsAbs(p) {
		p = filepath.Join(f.root, p)
	}
	if !strings.HasPrefix(p, f.root+string(os.PathSeparator)) && p != f.root {
		return "", fmt.Errorf("storage: path escapes workspace root: %s", id)
	}
	return p, nil
}

func (f *FS) read(id models.DocumentID) ([]byte, int64, error) {
	p, err := f.safePath(id)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			f.forget(id)
			return nil, 0, fmt.Errorf("storage: read %s: %w", id, apperr.ErrNotFound)
		}
		return nil, 0, fmt.Errorf("storage: read %s: %w", id, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	rev := f.revisions[id]
	if checksum.Changed(rev.sum, data) {
		rev = revision{sum: checksum.Sum(data), version: rev.version + 1}
		f.revisions[id] = rev
	}
	return data, rev.version, nil
}

func (f *FS) forget(id models.DocumentID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Keep the version counter so a recreated file never reuses a version.
	if rev, ok := f.revisions[id]; ok {
		f.revisions[id] = revision{version: rev.version}
	}
}

// Read returns the content of a workspace file and its version.
func (f *FS) Read(id models.DocumentID) (string, int64, error) {
	data, v, err := f.read(id)
	if err != nil {
		return "", 0, err
	}
	return string(data), v, nil
}

// Text returns the content of a workspace file.
func (f *FS) Text(id models.DocumentID) (string, error) {
	data, _, err := f.read(id)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Version returns the content-derived version of a workspace file.
func (f *FS) Version(id models.DocumentID) (int64, error) {
	_, v, err := f.read(id)
	return v, err
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(id models.DocumentID, content []byte) error {
	abs, err := f.safePath(id)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".inkbuild-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}
