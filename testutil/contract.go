package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphbus/graph"
)

// RunGraphContract runs the backend contract against fresh stores from newOpener.
// Each subtest gets its own store.
func RunGraphContract(t *testing.T, newOpener func(t *testing.T) graph.Opener) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, o graph.Opener)
	}{
		{"VertexRoundTrip", contractVertexRoundTrip},
		{"NotFound", contractNotFound},
		{"EdgeEndpoints", contractEdgeEndpoints},
		{"Adjacency", contractAdjacency},
		{"Filtering", contractFiltering},
		{"RemoveCascades", contractRemoveCascades},
		{"Durability", contractDurability},
		{"Rollback", contractRollback},
		{"KeyIndices", contractKeyIndices},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newOpener(t))
		})
	}
}

// openHandle opens a handle that is shut down when the test ends.
func openHandle(t *testing.T, o graph.Opener) graph.Graph {
	t.Helper()
	g, err := o.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Shutdown(context.Background()) })
	return g
}

// finish makes g's work durable and closes it.
func finish(t *testing.T, g graph.Graph) {
	t.Helper()
	ctx := context.Background()
	if tx, ok := graph.AsTransactional(g); ok {
		require.NoError(t, tx.Commit(ctx))
	}
	require.NoError(t, g.Shutdown(ctx))
}

func sameID(t *testing.T, want, got any) {
	t.Helper()
	assert.Equal(t, graph.IDKey(want), graph.IDKey(got))
}

func contractVertexRoundTrip(t *testing.T, o graph.Opener) {
	ctx := context.Background()
	g := openHandle(t, o)

	props := map[string]any{
		"name":   "marko",
		"age":    int64(29),
		"weight": 71.5,
		"active": true,
		"tags":   []any{"a", int64(1)},
		"home":   map[string]any{"city": "Ghent"},
	}
	v, err := g.AddVertex(ctx, nil, props)
	require.NoError(t, err)
	require.NotNil(t, v.ID)

	got, err := g.Vertex(ctx, v.ID)
	require.NoError(t, err)
	sameID(t, v.ID, got.ID)
	assert.Equal(t, props, got.Properties)

	// numeric ids decoded from JSON resolve to the same element
	if id, ok := graph.IntID(v.ID); ok {
		got, err = g.Vertex(ctx, float64(id))
		require.NoError(t, err)
		sameID(t, v.ID, got.ID)
	}

	empty, err := g.AddVertex(ctx, nil, nil)
	require.NoError(t, err)
	got, err = g.Vertex(ctx, empty.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Properties)

	_, err = g.AddVertex(ctx, nil, map[string]any{"k": nil})
	assert.ErrorIs(t, err, graph.ErrInvalidProperty)
}

func contractNotFound(t *testing.T, o graph.Opener) {
	ctx := context.Background()
	g := openHandle(t, o)

	_, err := g.Vertex(ctx, "missing")
	assert.ErrorIs(t, err, graph.ErrNotFound)
	_, err = g.Edge(ctx, "missing")
	assert.ErrorIs(t, err, graph.ErrNotFound)
	assert.ErrorIs(t, g.RemoveVertex(ctx, "missing"), graph.ErrNotFound)
	assert.ErrorIs(t, g.RemoveEdge(ctx, "missing"), graph.ErrNotFound)
	_, err = g.VertexEdges(ctx, "missing", graph.DirectionBoth)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func contractEdgeEndpoints(t *testing.T, o graph.Opener) {
	ctx := context.Background()
	g := openHandle(t, o)

	a, err := g.AddVertex(ctx, nil, nil)
	require.NoError(t, err)

	_, err = g.AddEdge(ctx, nil, a.ID, "missing", "knows", nil)
	assert.ErrorIs(t, err, graph.ErrNotFound)
	_, err = g.AddEdge(ctx, nil, "missing", a.ID, "knows", nil)
	assert.ErrorIs(t, err, graph.ErrNotFound)

	edges, err := g.Edges(ctx, "", nil)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func contractAdjacency(t *testing.T, o graph.Opener) {
	ctx := context.Background()
	g := openHandle(t, o)

	a, err := g.AddVertex(ctx, nil, map[string]any{"name": "a"})
	require.NoError(t, err)
	b, err := g.AddVertex(ctx, nil, map[string]any{"name": "b"})
	require.NoError(t, err)
	c, err := g.AddVertex(ctx, nil, map[string]any{"name": "c"})
	require.NoError(t, err)

	ab, err := g.AddEdge(ctx, nil, a.ID, b.ID, "knows", map[string]any{"weight": 0.5})
	require.NoError(t, err)
	ac, err := g.AddEdge(ctx, nil, a.ID, c.ID, "created", nil)
	require.NoError(t, err)
	ca, err := g.AddEdge(ctx, nil, c.ID, a.ID, "knows", nil)
	require.NoError(t, err)

	got, err := g.Edge(ctx, ab.ID)
	require.NoError(t, err)
	assert.Equal(t, "knows", got.Label)
	sameID(t, a.ID, got.OutV)
	sameID(t, b.ID, got.InV)
	assert.Equal(t, 0.5, got.Properties["weight"])

	ids := func(es []*graph.Edge) []string {
		out := make([]string, len(es))
		for i, e := range es {
			out[i] = graph.IDKey(e.ID)
		}
		return out
	}

	out, err := g.VertexEdges(ctx, a.ID, graph.DirectionOut)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{graph.IDKey(ab.ID), graph.IDKey(ac.ID)}, ids(out))

	in, err := g.VertexEdges(ctx, a.ID, graph.DirectionIn)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{graph.IDKey(ca.ID)}, ids(in))

	both, err := g.VertexEdges(ctx, a.ID, graph.DirectionBoth, "knows")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{graph.IDKey(ab.ID), graph.IDKey(ca.ID)}, ids(both))
}

func contractFiltering(t *testing.T, o graph.Opener) {
	ctx := context.Background()
	g := openHandle(t, o)

	for _, name := range []string{"marko", "vadas", "marko"} {
		_, err := g.AddVertex(ctx, nil, map[string]any{"name": name, "age": int64(len(name))})
		require.NoError(t, err)
	}

	all, err := g.Vertices(ctx, "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	markos, err := g.Vertices(ctx, "name", "marko")
	require.NoError(t, err)
	assert.Len(t, markos, 2)

	// numeric values compare across representations
	byAge, err := g.Vertices(ctx, "age", float64(5))
	require.NoError(t, err)
	assert.Len(t, byAge, 3)

	none, err := g.Vertices(ctx, "name", "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = g.AddEdge(ctx, nil, all[0].ID, all[1].ID, "knows", map[string]any{"since": int64(2010)})
	require.NoError(t, err)
	edges, err := g.Edges(ctx, "since", int64(2010))
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func contractRemoveCascades(t *testing.T, o graph.Opener) {
	ctx := context.Background()
	g := openHandle(t, o)

	a, err := g.AddVertex(ctx, nil, nil)
	require.NoError(t, err)
	b, err := g.AddVertex(ctx, nil, nil)
	require.NoError(t, err)
	e, err := g.AddEdge(ctx, nil, a.ID, b.ID, "knows", nil)
	require.NoError(t, err)
	_, err = g.AddEdge(ctx, nil, b.ID, a.ID, "knows", nil)
	require.NoError(t, err)

	require.NoError(t, g.RemoveEdge(ctx, e.ID))
	_, err = g.Edge(ctx, e.ID)
	assert.ErrorIs(t, err, graph.ErrNotFound)

	require.NoError(t, g.RemoveVertex(ctx, a.ID))
	_, err = g.Vertex(ctx, a.ID)
	assert.ErrorIs(t, err, graph.ErrNotFound)

	edges, err := g.Edges(ctx, "", nil)
	require.NoError(t, err)
	assert.Empty(t, edges, "incident edges are removed with the vertex")

	left, err := g.VertexEdges(ctx, b.ID, graph.DirectionBoth)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func contractDurability(t *testing.T, o graph.Opener) {
	ctx := context.Background()

	g := openHandle(t, o)
	v, err := g.AddVertex(ctx, nil, map[string]any{"project": "demo"})
	require.NoError(t, err)
	finish(t, g)

	g2 := openHandle(t, o)
	got, err := g2.Vertex(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Properties["project"])
}

func contractRollback(t *testing.T, o graph.Opener) {
	ctx := context.Background()

	g := openHandle(t, o)
	tx, ok := graph.AsTransactional(g)
	if !ok {
		t.Skip("backend is not transactional")
	}
	kept, err := g.AddVertex(ctx, nil, map[string]any{"n": int64(1)})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	dropped, err := g.AddVertex(ctx, nil, map[string]any{"n": int64(2)})
	require.NoError(t, err)
	require.NoError(t, g.RemoveVertex(ctx, kept.ID))
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, g.Shutdown(ctx))

	g2 := openHandle(t, o)
	_, err = g2.Vertex(ctx, kept.ID)
	assert.NoError(t, err)
	_, err = g2.Vertex(ctx, dropped.ID)
	assert.ErrorIs(t, err, graph.ErrNotFound)
	require.NoError(t, g2.Shutdown(ctx))

	// shutdown without commit discards too
	g3 := openHandle(t, o)
	lost, err := g3.AddVertex(ctx, nil, nil)
	require.NoError(t, err)
	require.NoError(t, g3.Shutdown(ctx))

	g4 := openHandle(t, o)
	_, err = g4.Vertex(ctx, lost.ID)
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func contractKeyIndices(t *testing.T, o graph.Opener) {
	ctx := context.Background()

	g := openHandle(t, o)
	idx, ok := graph.AsKeyIndexable(g)
	if !ok {
		t.Skip("backend has no key indices")
	}

	_, err := g.AddVertex(ctx, nil, map[string]any{"name": "marko"})
	require.NoError(t, err)
	require.NoError(t, idx.CreateKeyIndex(ctx, "name", graph.ElementVertex, nil))
	require.NoError(t, idx.CreateKeyIndex(ctx, "name", graph.ElementVertex, nil), "creating twice is a no-op")
	require.NoError(t, idx.CreateKeyIndex(ctx, "age", graph.ElementVertex, nil))
	_, err = g.AddVertex(ctx, nil, map[string]any{"name": "marko", "age": int64(3)})
	require.NoError(t, err)

	keys, err := idx.IndexedKeys(ctx, graph.ElementVertex)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"age", "name"}, keys)

	edgeKeys, err := idx.IndexedKeys(ctx, graph.ElementEdge)
	require.NoError(t, err)
	assert.Empty(t, edgeKeys)

	found, err := g.Vertices(ctx, "name", "marko")
	require.NoError(t, err)
	assert.Len(t, found, 2, "index covers elements added before and after creation")

	require.NoError(t, idx.DropKeyIndex(ctx, "age", graph.ElementVertex))
	require.NoError(t, idx.DropKeyIndex(ctx, "age", graph.ElementVertex), "dropping twice is a no-op")
	keys, err = idx.IndexedKeys(ctx, graph.ElementVertex)
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, keys)

	byAge, err := g.Vertices(ctx, "age", int64(3))
	require.NoError(t, err)
	assert.Len(t, byAge, 1, "lookups still work without the index")
}
