package diagnostics

import (
	"context"
	"slices"
	"sync"

	"github.com/starford/inkbuild/internal/models"
)

// Op is one call recorded by Memory.
type Op struct {
	Kind  string // "set", "clear" or "clear_all"
	ID    models.DocumentID
	Count int
}

// Memory is an in-process Sink. It keeps the published set per document
// and the sequence of calls it received.
type Memory struct {
	mu   sync.RWMutex
	docs map[models.DocumentID][]models.Diagnostic
	ops  []Op
}

// NewMemory creates an empty sink.
func NewMemory() *Memory {
	return &Memory{docs: make(map[models.DocumentID][]models.Diagnostic)}
}

func (m *Memory) Set(_ context.Context, id models.DocumentID, diags []models.Diagnostic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = slices.Clone(diags)
	if m.docs[id] == nil {
		m.docs[id] = []models.Diagnostic{}
	}
	m.ops = append(m.ops, Op{Kind: "set", ID: id, Count: len(diags)})
	return nil
}

func (m *Memory) Clear(_ context.Context, id models.DocumentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	m.ops = append(m.ops, Op{Kind: "clear", ID: id})
	return nil
}

func (m *Memory) ClearAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.docs)
	m.ops = append(m.ops, Op{Kind: "clear_all"})
	return nil
}

// Get returns the published diagnostics of id. ok is false when nothing
// is published, which differs from an empty published set.
func (m *Memory) Get(id models.DocumentID) (diags []models.Diagnostic, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	diags, ok = m.docs[id]
	return slices.Clone(diags), ok
}

// Documents returns every document with a published set, sorted.
func (m *Memory) Documents() []models.DocumentID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DocumentID, 0, len(m.docs))
	for id := range m.docs {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Ops returns the calls received so far.
func (m *Memory) Ops() []Op {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.ops)
}

// Reset forgets the recorded calls.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = nil
}
