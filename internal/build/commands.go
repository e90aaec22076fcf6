package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/inkbuild/internal/apperr"
	"github.com/starford/inkbuild/internal/models"
)

// Command is an external event translated for the engine.
type Command interface {
	command()
	Document() models.DocumentID
}

// NodeCreated reports a new document.
type NodeCreated struct {
	ID   models.DocumentID
	Kind models.DocumentKind
}

// NodeChanged reports new content for a document.
type NodeChanged struct {
	ID models.DocumentID
}

// NodeDeleted reports that a document is gone.
type NodeDeleted struct {
	ID models.DocumentID
}

func (NodeCreated) command() {}
func (NodeChanged) command() {}
func (NodeDeleted) command() {}

func (c NodeCreated) Document() models.DocumentID { return c.ID }
func (c NodeChanged) Document() models.DocumentID { return c.ID }
func (c NodeDeleted) Document() models.DocumentID { return c.ID }

// Handle processes one command and returns the documents it recompiled.
func (e *Engine) Handle(ctx context.Context, cmd Command) (*Batch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch c := cmd.(type) {
	case NodeCreated:
		return e.created(ctx, c.ID, c.Kind)
	case NodeChanged:
		return e.changed(ctx, c.ID)
	case NodeDeleted:
		return e.deleted(ctx, c.ID), nil
	default:
		return nil, fmt.Errorf("build: unknown command %T", cmd)
	}
}

// Run handles commands one at a time until ctx is done or cmds is closed.
// Failures are logged and do not stop the loop.
func (e *Engine) Run(ctx context.Context, cmds <-chan Command) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			batch, err := e.Handle(ctx, cmd)
			if err != nil {
				e.logger.Warn("build: command failed",
					slog.String("command", fmt.Sprintf("%T", cmd)),
					slog.String("document", cmd.Document().String()),
					slog.String("error", err.Error()))
				continue
			}
			e.logger.Debug("build: command handled",
				slog.String("command", fmt.Sprintf("%T", cmd)),
				slog.String("document", cmd.Document().String()),
				slog.Int("compiled", batch.Len()))
		}
	}
}

func (e *Engine) created(ctx context.Context, id models.DocumentID, kind models.DocumentKind) (*Batch, error) {
	fns, err := e.registerLocked(id, kind)
	if err != nil {
		return nil, err
	}
	targets := e.graph.TransitiveDependents(id)
	targets = append(targets, e.takePending(id)...)
	targets = append(targets, e.takeUnbound(fns)...)
	return e.recompileLocked(ctx, targets), nil
}

func (e *Engine) changed(ctx context.Context, id models.DocumentID) (*Batch, error) {
	node, ok := e.graph.Node(id)
	if !ok {
		if e.classify == nil {
			return nil, fmt.Errorf("build: change %s: %w", id, apperr.ErrNotRegistered)
		}
		kind, known := e.classify(id)
		if !known {
			return nil, fmt.Errorf("build: change %s: %w", id, apperr.ErrNotRegistered)
		}
		return e.created(ctx, id, kind)
	}

	var fns []string
	if node.Kind == models.KindBinding {
		text, err := e.store.Text(id)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return e.deleted(ctx, id), nil
			}
			return nil, fmt.Errorf("build: change %s: %w", id, err)
		}
		fns = e.bindings.Update(id, text)
	}

	e.cache.Invalidate(id, e.dependents)
	targets := e.graph.TransitiveDependents(id)
	targets = append(targets, e.takeUnbound(fns)...)
	return e.recompileLocked(ctx, targets), nil
}

func (e *Engine) deleted(ctx context.Context, id models.DocumentID) *Batch {
	node, ok := e.graph.Node(id)
	if !ok {
		return newBatch()
	}
	affected := slices.DeleteFunc(e.graph.TransitiveDependents(id), func(d models.DocumentID) bool {
		return d == id
	})

	e.cache.Invalidate(id, e.dependents)
	e.bindings.Remove(id)
	e.graph.Delete(id)
	delete(e.last, id)
	for _, roots := range e.pending {
		delete(roots, id)
	}
	for _, roots := range e.unbound {
		delete(roots, id)
	}

	for _, doc := range append(e.published[id], id) {
		if doc != id && e.publishedElsewhere(id, doc) {
			continue
		}
		if err := e.sink.Clear(ctx, doc); err != nil {
			e.logger.Error("build: clear diagnostics",
				slog.String("target", doc.String()),
				slog.String("error", err.Error()))
		}
	}
	delete(e.published, id)
	e.emit(Event{Type: EventDeleted, ID: id, Kind: node.Kind})

	return e.recompileLocked(ctx, affected)
}

func (e *Engine) takePending(id models.DocumentID) []models.DocumentID {
	roots := e.pending[id]
	delete(e.pending, id)
	return sortedSet(roots)
}

func (e *Engine) takeUnbound(fns []string) []models.DocumentID {
	var out []models.DocumentID
	for _, fn := range fns {
		out = append(out, sortedSet(e.unbound[fn])...)
		delete(e.unbound, fn)
	}
	return out
}

func sortedSet(s set) []models.DocumentID {
	out := make([]models.DocumentID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
