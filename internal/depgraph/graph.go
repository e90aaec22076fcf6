// Package depgraph maintains the "depends on" graph between workspace
// documents with forward and reverse edges kept mutually consistent.
package depgraph

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/starford/inkbuild/internal/models"
)

type set map[models.DocumentID]struct{}

func (s set) sorted() []models.DocumentID {
	out := make([]models.DocumentID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

type node struct {
	id         models.DocumentID
	kind       models.DocumentKind
	version    int64
	deps       set
	dependents set
}

// Node is a read-only snapshot of one graph vertex.
type Node struct {
	ID           models.DocumentID   `json:"id"`
	Kind         models.DocumentKind `json:"kind"`
	Version      int64               `json:"version"`
	Dependencies []models.DocumentID `json:"dependencies"`
	Dependents   []models.DocumentID `json:"dependents"`
}

// Edge is a directed "From depends on To" relation.
type Edge struct {
	From models.DocumentID `json:"from"`
	To   models.DocumentID `json:"to"`
}

// Graph is safe for concurrent use; every mutation holds the write lock so
// both sides of an edge change together.
type Graph struct {
	mu    sync.RWMutex
	nodes map[models.DocumentID]*node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[models.DocumentID]*node)}
}

// Ensure creates the node if it does not exist and reports whether it did.
// The kind of an existing node is updated.
func (g *Graph) Ensure(id models.DocumentID, kind models.DocumentKind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n, ok := g.nodes[id]; ok {
		n.kind = kind
		return false
	}
	g.nodes[id] = &node{id: id, kind: kind, deps: make(set), dependents: make(set)}
	return true
}

// Has reports whether id is a node.
func (g *Graph) Has(id models.DocumentID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Node returns a snapshot of the node.
func (g *Graph) Node(id models.DocumentID) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return Node{
		ID:           n.id,
		Kind:         n.kind,
		Version:      n.version,
		Dependencies: n.deps.sorted(),
		Dependents:   n.dependents.sorted(),
	}, true
}

// Delete removes the node and every edge touching it.
func (g *Graph) Delete(id models.DocumentID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return false
	}
	for dep := range n.deps {
		delete(g.nodes[dep].dependents, id)
	}
	for dependent := range n.dependents {
		delete(g.nodes[dependent].deps, id)
	}
	delete(g.nodes, id)
	return true
}

// SetVersion records the last seen version of the document.
func (g *Graph) SetVersion(id models.DocumentID, version int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("depgraph: node not found: %s", id)
	}
	n.version = version
	return nil
}

// AddEdge records that from depends on to.
func (g *Graph) AddEdge(from, to models.DocumentID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEdgeLocked(from, to)
}

func (g *Graph) addEdgeLocked(from, to models.DocumentID) error {
	if from == to {
		return fmt.Errorf("depgraph: self-referential edge not allowed: %s", from)
	}
	fromNode, ok := g.nodes[from]
	if !ok {
		return fmt.Errorf("depgraph: source node not found: %s", from)
	}
	toNode, ok := g.nodes[to]
	if !ok {
		return fmt.Errorf("depgraph: destination node not found: %s", to)
	}
	fromNode.deps[to] = struct{}{}
	toNode.dependents[from] = struct{}{}
	return nil
}

// RemoveEdge deletes the from -> to edge if present.
func (g *Graph) RemoveEdge(from, to models.DocumentID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	fromNode, ok := g.nodes[from]
	if !ok {
		return fmt.Errorf("depgraph: source node not found: %s", from)
	}
	delete(fromNode.deps, to)
	if toNode, ok := g.nodes[to]; ok {
		delete(toNode.dependents, from)
	}
	return nil
}

// ResetEdges removes every forward edge of id.
func (g *Graph) ResetEdges(id models.DocumentID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("depgraph: node not found: %s", id)
	}
	g.resetLocked(n)
	return nil
}

func (g *Graph) resetLocked(n *node) {
	for dep := range n.deps {
		delete(g.nodes[dep].dependents, n.id)
	}
	n.deps = make(set)
}

// ReplaceEdges resets the forward edges of id and rebuilds them from
// targets as one step. Every target must already be a node; on error the
// graph is left unchanged.
func (g *Graph) ReplaceEdges(id models.DocumentID, targets []models.DocumentID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("depgraph: node not found: %s", id)
	}
	for _, to := range targets {
		if to == id {
			return fmt.Errorf("depgraph: self-referential edge not allowed: %s", id)
		}
		if _, ok := g.nodes[to]; !ok {
			return fmt.Errorf("depgraph: destination node not found: %s", to)
		}
	}
	g.resetLocked(n)
	for _, to := range targets {
		if err := g.addEdgeLocked(id, to); err != nil {
			return err
		}
	}
	return nil
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id models.DocumentID) ([]models.DocumentID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("depgraph: node not found: %s", id)
	}
	return n.deps.sorted(), nil
}

// Dependents returns the documents that directly depend on id.
func (g *Graph) Dependents(id models.DocumentID) ([]models.DocumentID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("depgraph: node not found: %s", id)
	}
	return n.dependents.sorted(), nil
}

// TransitiveDependents walks reverse edges breadth-first from the given
// nodes and returns every node reached, the starting nodes included. Each
// node is visited once, so cycles terminate. Unknown ids are skipped.
func (g *Graph) TransitiveDependents(ids ...models.DocumentID) []models.DocumentID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(set)
	var queue []*node
	for _, id := range ids {
		if n, ok := g.nodes[id]; ok {
			if _, seen := visited[id]; !seen {
				visited[id] = struct{}{}
				queue = append(queue, n)
			}
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for dependent := range n.dependents {
			if _, seen := visited[dependent]; seen {
				continue
			}
			visited[dependent] = struct{}{}
			queue = append(queue, g.nodes[dependent])
		}
	}
	return visited.sorted()
}

// IDs returns every node id, optionally restricted to the given kinds.
func (g *Graph) IDs(kinds ...models.DocumentKind) []models.DocumentID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(set, len(g.nodes))
	for id, n := range g.nodes {
		if len(kinds) == 0 || slices.Contains(kinds, n.kind) {
			out[id] = struct{}{}
		}
	}
	return out.sorted()
}

// Edges returns every edge sorted by (From, To).
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Edge
	for id, n := range g.nodes {
		for dep := range n.deps {
			out = append(out, Edge{From: id, To: dep})
		}
	}
	slices.SortFunc(out, func(a, b Edge) int {
		return cmp.Or(cmp.Compare(a.From, b.From), cmp.Compare(a.To, b.To))
	})
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Verify checks that forward and reverse edges mirror each other.
func (g *Graph) Verify() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, n := range g.nodes {
		for dep := range n.deps {
			target, ok := g.nodes[dep]
			if !ok {
				return fmt.Errorf("depgraph: %s depends on missing node %s", id, dep)
			}
			if _, ok := target.dependents[id]; !ok {
				return fmt.Errorf("depgraph: %s -> %s has no reverse edge", id, dep)
			}
		}
		for dependent := range n.dependents {
			source, ok := g.nodes[dependent]
			if !ok {
				return fmt.Errorf("depgraph: %s has missing dependent %s", id, dependent)
			}
			if _, ok := source.deps[id]; !ok {
				return fmt.Errorf("depgraph: reverse edge %s <- %s has no forward edge", id, dependent)
			}
		}
	}
	return nil
}
