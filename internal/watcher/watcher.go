// Package watcher turns file-system events into build engine commands.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/starford/inkbuild/internal/build"
	"github.com/starford/inkbuild/internal/models"
)

// DefaultDebounce is the quiet period used when Config.Debounce is zero.
const DefaultDebounce = 150 * time.Millisecond

// Config configures Watch.
type Config struct {
	// Root is the workspace directory to watch recursively.
	Root string
	// Debounce is how long a document must stay quiet before its change
	// is reported.
	Debounce time.Duration
	// Classify decides which files are documents and of which kind.
	Classify func(models.DocumentID) (models.DocumentKind, bool)
	// Skip excludes directories from watching.
	Skip func(dir string) bool
	// OnReady, when set, is called once every directory is watched. Changes
	// made after it returns are reported.
	OnReady func()
	Logger  *slog.Logger
}

type pending struct {
	timer *time.Timer
	cmd   build.Command
}

type watcher struct {
	cfg    Config
	ctx    context.Context
	out    chan<- build.Command
	logger *slog.Logger

	pending *xsync.MapOf[models.DocumentID, *pending]
}

// Watch starts an fsnotify watcher on cfg.Root and sends commands to out
// until ctx is cancelled. Creations and changes are debounced per document,
// so a burst of writes to one file yields one command and never delays
// other files. Deletions are sent immediately and cancel any pending change.
//
// New directories created at runtime are automatically added to the watch
// list and the documents already inside them are reported as created.
func Watch(ctx context.Context, cfg Config, out chan<- build.Command) error {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	w := &watcher{
		cfg:     cfg,
		ctx:     ctx,
		out:     out,
		logger:  cfg.Logger,
		pending: xsync.NewMapOf[models.DocumentID, *pending](),
	}
	defer w.stopTimers()

	if err := w.addDirsRecursive(fw, cfg.Root); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("root", cfg.Root), slog.Duration("debounce", cfg.Debounce))
	if cfg.OnReady != nil {
		cfg.OnReady()
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(fw, ev)

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	// --- New directories: watch them and report their documents ---
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.skip(path) {
				return
			}
			if err := w.addDirsRecursive(fw, path); err != nil {
				w.logger.Warn("watcher: add new dir failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
			} else {
				w.logger.Debug("watcher: watching new dir", slog.String("path", path))
			}
			w.scanNewDir(path)
			return
		}
	}

	id := models.DocumentID(path)
	kind, ok := w.cfg.Classify(id)
	if !ok {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		w.schedule(build.NodeCreated{ID: id, Kind: kind})
	case ev.Op&fsnotify.Write != 0:
		w.schedule(build.NodeChanged{ID: id})
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// fsnotify fires Rename on the old path only; the new path
		// arrives as a separate Create.
		w.cancel(id)
		w.send(build.NodeDeleted{ID: id})
	}
}

// schedule (re)starts the debounce timer of the command's document. A
// pending creation is not downgraded to a change.
func (w *watcher) schedule(cmd build.Command) {
	id := cmd.Document()
	w.pending.Compute(id, func(old *pending, loaded bool) (*pending, bool) {
		if loaded {
			old.timer.Stop()
			if _, created := old.cmd.(build.NodeCreated); created {
				cmd = old.cmd
			}
		}
		p := &pending{cmd: cmd}
		p.timer = time.AfterFunc(w.cfg.Debounce, func() { w.fire(id, p) })
		return p, false
	})
}

func (w *watcher) fire(id models.DocumentID, p *pending) {
	current := false
	w.pending.Compute(id, func(cur *pending, loaded bool) (*pending, bool) {
		current = loaded && cur == p
		return cur, !loaded || current
	})
	if current {
		w.send(p.cmd)
	}
}

func (w *watcher) cancel(id models.DocumentID) {
	if p, ok := w.pending.LoadAndDelete(id); ok {
		p.timer.Stop()
	}
}

func (w *watcher) send(cmd build.Command) {
	select {
	case w.out <- cmd:
		w.logger.Debug("watcher: command",
			slog.String("document", cmd.Document().String()),
			slog.String("command", commandName(cmd)))
	case <-w.ctx.Done():
	}
}

func (w *watcher) stopTimers() {
	w.pending.Range(func(_ models.DocumentID, p *pending) bool {
		p.timer.Stop()
		return true
	})
	w.pending.Clear()
}

func (w *watcher) skip(dir string) bool {
	return w.cfg.Skip != nil && w.cfg.Skip(dir)
}

// scanNewDir reports the documents found in a newly created directory.
func (w *watcher) scanNewDir(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && w.skip(path) {
				return filepath.SkipDir
			}
			return nil
		}
		id := models.DocumentID(filepath.Clean(path))
		if kind, ok := w.cfg.Classify(id); ok {
			w.schedule(build.NodeCreated{ID: id, Kind: kind})
		}
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func (w *watcher) addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.skip(path) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

func commandName(cmd build.Command) string {
	switch cmd.(type) {
	case build.NodeCreated:
		return "created"
	case build.NodeChanged:
		return "changed"
	case build.NodeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}
