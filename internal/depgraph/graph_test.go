package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/inkbuild/internal/models"
)

const (
	a models.DocumentID = "/ws/a.ink"
	b models.DocumentID = "/ws/b.ink"
	c models.DocumentID = "/ws/c.ink"
	d models.DocumentID = "/ws/d.ink"
)

func newGraph(t *testing.T, ids ...models.DocumentID) *Graph {
	t.Helper()
	g := New()
	for _, id := range ids {
		g.Ensure(id, models.KindScript)
	}
	return g
}

func TestEnsure(t *testing.T) {
	g := New()
	assert.True(t, g.Ensure(a, models.KindScript))
	assert.False(t, g.Ensure(a, models.KindBinding), "second ensure is a no-op create")
	n, ok := g.Node(a)
	require.True(t, ok)
	assert.Equal(t, models.KindBinding, n.Kind)
	assert.Equal(t, 1, g.Len())
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := newGraph(t, a, b)
		require.NoError(t, g.AddEdge(a, b))

		na, _ := g.Node(a)
		nb, _ := g.Node(b)
		assert.Equal(t, []models.DocumentID{b}, na.Dependencies)
		assert.Equal(t, []models.DocumentID{a}, nb.Dependents)
		assert.NoError(t, g.Verify())
	})

	t.Run("error cases", func(t *testing.T) {
		g := newGraph(t, a)
		assert.ErrorContains(t, g.AddEdge("/ws/missing.ink", a), "source node not found")
		assert.ErrorContains(t, g.AddEdge(a, "/ws/missing.ink"), "destination node not found")
		assert.ErrorContains(t, g.AddEdge(a, a), "self-referential edge")
	})
}

func TestRemoveAndResetEdges(t *testing.T) {
	g := newGraph(t, a, b, c)
	require.NoError(t, g.AddEdge(a, b))
	require.NoError(t, g.AddEdge(a, c))

	require.NoError(t, g.RemoveEdge(a, b))
	deps, _ := g.Dependencies(a)
	assert.Equal(t, []models.DocumentID{c}, deps)
	dependents, _ := g.Dependents(b)
	assert.Empty(t, dependents)

	require.NoError(t, g.ResetEdges(a))
	deps, _ = g.Dependencies(a)
	assert.Empty(t, deps)
	dependents, _ = g.Dependents(c)
	assert.Empty(t, dependents)
	assert.NoError(t, g.Verify())
}

func TestReplaceEdges(t *testing.T) {
	t.Run("drops stale edges", func(t *testing.T) {
		g := newGraph(t, a, b, c)
		require.NoError(t, g.ReplaceEdges(a, []models.DocumentID{b}))
		require.NoError(t, g.ReplaceEdges(a, []models.DocumentID{c}))

		deps, _ := g.Dependencies(a)
		assert.Equal(t, []models.DocumentID{c}, deps)
		dependents, _ := g.Dependents(b)
		assert.Empty(t, dependents, "b must lose its reverse edge to a")
		assert.NoError(t, g.Verify())
	})

	t.Run("repeated replace does not grow", func(t *testing.T) {
		g := newGraph(t, a, b)
		for i := 0; i < 3; i++ {
			require.NoError(t, g.ReplaceEdges(a, []models.DocumentID{b, b}))
			require.NoError(t, g.ReplaceEdges(b, []models.DocumentID{a}))
		}
		assert.Len(t, g.Edges(), 2)
		assert.NoError(t, g.Verify())
	})

	t.Run("unknown target leaves graph unchanged", func(t *testing.T) {
		g := newGraph(t, a, b)
		require.NoError(t, g.AddEdge(a, b))
		err := g.ReplaceEdges(a, []models.DocumentID{"/ws/nope.ink"})
		assert.ErrorContains(t, err, "destination node not found")
		deps, _ := g.Dependencies(a)
		assert.Equal(t, []models.DocumentID{b}, deps)
	})
}

func TestDelete(t *testing.T) {
	g := newGraph(t, a, b, c)
	require.NoError(t, g.AddEdge(a, b))
	require.NoError(t, g.AddEdge(b, c))

	assert.True(t, g.Delete(b))
	assert.False(t, g.Delete(b))
	assert.False(t, g.Has(b))

	deps, _ := g.Dependencies(a)
	assert.Empty(t, deps)
	dependents, _ := g.Dependents(c)
	assert.Empty(t, dependents)
	assert.NoError(t, g.Verify())
}

func TestTransitiveDependents(t *testing.T) {
	t.Run("no dependents yields the start node", func(t *testing.T) {
		g := newGraph(t, a)
		assert.Equal(t, []models.DocumentID{a}, g.TransitiveDependents(a))
	})

	t.Run("diamond visits each node once", func(t *testing.T) {
		// a and b both include c; d includes a and b.
		g := newGraph(t, a, b, c, d)
		require.NoError(t, g.AddEdge(a, c))
		require.NoError(t, g.AddEdge(b, c))
		require.NoError(t, g.AddEdge(d, a))
		require.NoError(t, g.AddEdge(d, b))

		assert.Equal(t, []models.DocumentID{a, b, c, d}, g.TransitiveDependents(c))
		assert.Equal(t, []models.DocumentID{a, d}, g.TransitiveDependents(a))
	})

	t.Run("cycle terminates", func(t *testing.T) {
		g := newGraph(t, a, b, c)
		require.NoError(t, g.AddEdge(a, b))
		require.NoError(t, g.AddEdge(b, a))
		require.NoError(t, g.AddEdge(c, a))

		assert.Equal(t, []models.DocumentID{a, b, c}, g.TransitiveDependents(b))
	})

	t.Run("unknown start ignored", func(t *testing.T) {
		g := newGraph(t, a)
		assert.Empty(t, g.TransitiveDependents("/ws/ghost.ink"))
	})
}

func TestIDsAndEdges(t *testing.T) {
	g := newGraph(t, b, a)
	g.Ensure(c, models.KindBinding)
	require.NoError(t, g.AddEdge(b, c))
	require.NoError(t, g.AddEdge(a, b))

	assert.Equal(t, []models.DocumentID{a, b, c}, g.IDs())
	assert.Equal(t, []models.DocumentID{c}, g.IDs(models.KindBinding))
	assert.Equal(t, []Edge{{From: a, To: b}, {From: b, To: c}}, g.Edges())
}

func TestSetVersion(t *testing.T) {
	g := newGraph(t, a)
	require.NoError(t, g.SetVersion(a, 7))
	n, _ := g.Node(a)
	assert.Equal(t, int64(7), n.Version)
	assert.Error(t, g.SetVersion(b, 1))
}
