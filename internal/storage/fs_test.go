package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/inkbuild/internal/apperr"
	"github.com/starford/inkbuild/internal/models"
)

func tempWorkspace(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func docID(s *FS, rel string) models.DocumentID {
	return models.DocumentID(filepath.Join(s.Root(), rel))
}

func TestWriteAndText(t *testing.T) {
	s := tempWorkspace(t)
	id := docID(s, "main.ink")
	if err := s.Write(id, []byte("== start\nHello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Text(id)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "== start\nHello\n" {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempWorkspace(t)
	id := docID(s, "out/deep/main.json")
	if err := s.Write(id, []byte("{}")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Text(id)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if got != "{}" {
		t.Errorf("content = %q", got)
	}
}

func TestReadPairsTextWithVersion(t *testing.T) {
	s := tempWorkspace(t)
	id := docID(s, "a.ink")
	_ = s.Write(id, []byte("one"))

	text, v1, err := s.Read(id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if text != "one" {
		t.Errorf("text = %q", text)
	}

	// Content changes on disk without going through Write.
	if err := os.WriteFile(id.Path(), []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}
	text, v2, err := s.Read(id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if text != "two" || v2 <= v1 {
		t.Errorf("Read = (%q, %d), want (\"two\", > %d)", text, v2, v1)
	}
	if v, _ := s.Version(id); v != v2 {
		t.Errorf("Version = %d after Read returned %d", v, v2)
	}

	if _, _, err := s.Read(docID(s, "gone.ink")); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestVersionFollowsContent(t *testing.T) {
	s := tempWorkspace(t)
	id := docID(s, "a.ink")
	_ = s.Write(id, []byte("one"))

	v1, err := s.Version(id)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	v1again, _ := s.Version(id)
	if v1 != v1again {
		t.Errorf("unchanged content changed version: %d -> %d", v1, v1again)
	}

	_ = s.Write(id, []byte("two"))
	v2, _ := s.Version(id)
	if v2 <= v1 {
		t.Errorf("version did not increase: %d -> %d", v1, v2)
	}

	// Recreating after delete never reuses an old version.
	_ = os.Remove(id.Path())
	if _, err := s.Version(id); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = s.Write(id, []byte("two"))
	v3, _ := s.Version(id)
	if v3 <= v2 {
		t.Errorf("recreated file reused version: %d -> %d", v2, v3)
	}
}

func TestMissingIsNotFound(t *testing.T) {
	s := tempWorkspace(t)
	_, err := s.Text(docID(s, "missing.ink"))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempWorkspace(t)

	cases := []models.DocumentID{
		docID(s, "../../etc/passwd"),
		docID(s, "../outside.ink"),
		"/etc/shadow",
	}
	for _, id := range cases {
		if _, err := s.Text(id); err == nil {
			t.Errorf("expected error for path %q", id)
		}
		if err := s.Write(id, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", id)
		}
	}
}

func TestAtomicWriteNoLeftovers(t *testing.T) {
	s := tempWorkspace(t)
	id := docID(s, "atomic.json")
	_ = s.Write(id, []byte("original content"))
	if err := s.Write(id, []byte("updated content")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Text(id)
	if got != "updated content" {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, ".inkbuild-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/inkbuild-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "inkbuild-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	id := models.DocumentID("/ws/a.ink")
	if v := m.Put(id, "x"); v != 1 {
		t.Errorf("first version = %d, want 1", v)
	}
	if v := m.Put(id, "y"); v != 2 {
		t.Errorf("second version = %d, want 2", v)
	}
	text, _ := m.Text(id)
	if text != "y" {
		t.Errorf("text = %q", text)
	}
	m.Remove(id)
	if _, err := m.Version(id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}
	if v := m.Put(id, "z"); v != 3 {
		t.Errorf("version after recreate = %d, want 3", v)
	}
}
