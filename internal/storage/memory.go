package storage

import (
	"fmt"
	"sync"

	"github.com/starford/inkbuild/internal/apperr"
	"github.com/starford/inkbuild/internal/models"
)

type memDoc struct {
	text    string
	version int64
}

// Memory is an in-process Store and Writer, used for editor buffers and
// tests. Every Put bumps the document's version.
type Memory struct {
	mu       sync.RWMutex
	docs     map[models.DocumentID]memDoc
	versions map[models.DocumentID]int64
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[models.DocumentID]memDoc),
		versions: make(map[models.DocumentID]int64),
	}
}

// Put stores text as the next version of id and returns that version.
func (m *Memory) Put(id models.DocumentID, text string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[id]++
	m.docs[id] = memDoc{text: text, version: m.versions[id]}
	return m.versions[id]
}

// Remove deletes id. Its version counter is kept.
func (m *Memory) Remove(id models.DocumentID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
}

func (m *Memory) get(id models.DocumentID) (memDoc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return memDoc{}, fmt.Errorf("storage: %s: %w", id, apperr.ErrNotFound)
	}
	return doc, nil
}

// Read implements Store.
func (m *Memory) Read(id models.DocumentID) (string, int64, error) {
	doc, err := m.get(id)
	return doc.text, doc.version, err
}

// Text implements Store.
func (m *Memory) Text(id models.DocumentID) (string, error) {
	doc, err := m.get(id)
	return doc.text, err
}

// Version implements Store.
func (m *Memory) Version(id models.DocumentID) (int64, error) {
	doc, err := m.get(id)
	return doc.version, err
}

// Write implements Writer.
func (m *Memory) Write(id models.DocumentID, content []byte) error {
	m.Put(id, string(content))
	return nil
}
