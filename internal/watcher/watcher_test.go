package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/inkbuild/internal/build"
	"github.com/starford/inkbuild/internal/models"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

type recorder struct {
	mu   sync.Mutex
	cmds []build.Command
}

func (r *recorder) collect(ctx context.Context, ch <-chan build.Command) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-ch:
			r.mu.Lock()
			r.cmds = append(r.cmds, cmd)
			r.mu.Unlock()
		}
	}
}

func (r *recorder) count(match func(build.Command) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.cmds {
		if match(c) {
			n++
		}
	}
	return n
}

func startWatcher(t *testing.T, debounce time.Duration) (string, *recorder) {
	t.Helper()
	root := t.TempDir()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch := make(chan build.Command, 16)
	rec := &recorder{}
	go rec.collect(ctx, ch)
	go Watch(ctx, Config{
		Root:     root,
		Debounce: debounce,
		Logger:   logger,
		Classify: func(id models.DocumentID) (models.DocumentKind, bool) {
			switch filepath.Ext(id.Path()) {
			case ".ink":
				return models.KindScript, true
			case ".js":
				return models.KindBinding, true
			}
			return "", false
		},
		Skip: func(dir string) bool { return filepath.Base(dir) == "out" },
	}, ch)

	time.Sleep(100 * time.Millisecond)
	return root, rec
}

func TestWatcher_NewFileReported(t *testing.T) {
	root, rec := startWatcher(t, 50*time.Millisecond)
	path := filepath.Join(root, "new.ink")

	_ = os.WriteFile(path, []byte("== start =="), 0o644)

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return rec.count(func(c build.Command) bool {
			created, ok := c.(build.NodeCreated)
			return ok && created.ID == models.DocumentID(path) && created.Kind == models.KindScript
		}) == 1
	}, "new file not reported as created")
}

func TestWatcher_BurstIsDebounced(t *testing.T) {
	root, rec := startWatcher(t, 200*time.Millisecond)
	path := filepath.Join(root, "busy.ink")
	_ = os.WriteFile(path, []byte("v0"), 0o644)
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return rec.count(func(c build.Command) bool { return c.Document() == models.DocumentID(path) }) == 1
	}, "initial create not reported")

	for i := range 5 {
		_ = os.WriteFile(path, []byte(strings.Repeat("x", i+1)), 0o644)
		time.Sleep(10 * time.Millisecond)
	}

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return rec.count(func(c build.Command) bool {
			_, ok := c.(build.NodeChanged)
			return ok && c.Document() == models.DocumentID(path)
		}) == 1
	}, "burst of writes not reported")

	time.Sleep(400 * time.Millisecond)
	if n := rec.count(func(c build.Command) bool {
		_, ok := c.(build.NodeChanged)
		return ok
	}); n != 1 {
		t.Errorf("expected exactly one change command, got %d", n)
	}
}

func TestWatcher_DeleteReported(t *testing.T) {
	root, rec := startWatcher(t, 50*time.Millisecond)
	path := filepath.Join(root, "doomed.js")
	_ = os.WriteFile(path, []byte(""), 0o644)
	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return rec.count(func(c build.Command) bool { return c.Document() == models.DocumentID(path) }) == 1
	}, "create not reported")

	_ = os.Remove(path)

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return rec.count(func(c build.Command) bool {
			_, ok := c.(build.NodeDeleted)
			return ok && c.Document() == models.DocumentID(path)
		}) == 1
	}, "delete not reported")
}

func TestWatcher_IgnoresOtherFilesAndSkippedDirs(t *testing.T) {
	root, rec := startWatcher(t, 50*time.Millisecond)

	_ = os.WriteFile(filepath.Join(root, "notes.md"), []byte("# hi"), 0o644)
	_ = os.MkdirAll(filepath.Join(root, "out"), 0o755)
	_ = os.WriteFile(filepath.Join(root, "out", "skip.ink"), []byte(""), 0o644)
	marker := filepath.Join(root, "marker.ink")
	_ = os.WriteFile(marker, []byte(""), 0o644)

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return rec.count(func(c build.Command) bool { return c.Document() == models.DocumentID(marker) }) == 1
	}, "marker not reported")
	time.Sleep(150 * time.Millisecond)

	if n := rec.count(func(build.Command) bool { return true }); n != 1 {
		t.Errorf("expected only the marker command, got %d", n)
	}
}

func TestWatcher_NewDirectoryScanned(t *testing.T) {
	root, rec := startWatcher(t, 50*time.Millisecond)

	sub := filepath.Join(root, "chapters")
	_ = os.MkdirAll(sub, 0o755)
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(sub, "one.ink")
	_ = os.WriteFile(path, []byte("== one =="), 0o644)

	eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		return rec.count(func(c build.Command) bool { return c.Document() == models.DocumentID(path) }) >= 1
	}, "file in new directory not reported")
}

func TestOnReadyPrecedesReporting(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "story"), 0o755); err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch := make(chan build.Command, 16)
	rec := &recorder{}
	go rec.collect(ctx, ch)

	ready := make(chan struct{})
	go Watch(ctx, Config{
		Root:     root,
		Debounce: 20 * time.Millisecond,
		Logger:   logger,
		Classify: func(models.DocumentID) (models.DocumentKind, bool) { return models.KindScript, true },
		OnReady:  func() { close(ready) },
	}, ch)

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never became ready")
	}

	// No settling delay: anything written after OnReady must be seen.
	id := models.DocumentID(filepath.Join(root, "story", "main.ink"))
	if err := os.WriteFile(id.Path(), []byte("-> END\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return rec.count(func(c build.Command) bool { return c.Document() == id }) > 0
	}, "write after OnReady was not reported")
}
