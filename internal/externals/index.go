// Package externals tracks which binding documents implement which
// EXTERNAL functions.
package externals

import (
	"regexp"
	"slices"
	"sync"

	"github.com/starford/inkbuild/internal/models"
)

var bindRe = regexp.MustCompile(`BindExternalFunction(?:General)?\s*\(\s*["'` + "`" + `]([A-Za-z_]\w*)["'` + "`" + `]`)

// Functions returns the function names bound in a binding document.
func Functions(text string) []string {
	var out []string
	for _, m := range bindRe.FindAllStringSubmatch(text, -1) {
		if !slices.Contains(out, m[1]) {
			out = append(out, m[1])
		}
	}
	return out
}

// Index maps function names to the documents binding them.
type Index struct {
	mu     sync.RWMutex
	byName map[string]map[models.DocumentID]struct{}
	byDoc  map[models.DocumentID][]string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		byName: make(map[string]map[models.DocumentID]struct{}),
		byDoc:  make(map[models.DocumentID][]string),
	}
}

// Update replaces everything known about id with the bindings in text.
func (x *Index) Update(id models.DocumentID, text string) []string {
	fns := Functions(text)

	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(id)
	for _, fn := range fns {
		if x.byName[fn] == nil {
			x.byName[fn] = make(map[models.DocumentID]struct{})
		}
		x.byName[fn][id] = struct{}{}
	}
	x.byDoc[id] = fns
	return fns
}

// Remove forgets id.
func (x *Index) Remove(id models.DocumentID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(id)
}

func (x *Index) removeLocked(id models.DocumentID) {
	for _, fn := range x.byDoc[id] {
		delete(x.byName[fn], id)
		if len(x.byName[fn]) == 0 {
			delete(x.byName, fn)
		}
	}
	delete(x.byDoc, id)
}

// Lookup returns the documents binding fn, sorted.
func (x *Index) Lookup(fn string) []models.DocumentID {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]models.DocumentID, 0, len(x.byName[fn]))
	for id := range x.byName[fn] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
