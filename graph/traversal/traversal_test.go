package traversal_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphbus/graph"
	"github.com/c360/graphbus/graph/memgraph"
	"github.com/c360/graphbus/graph/traversal"
)

// classic builds the six-vertex TinkerPop sample graph
func classic(t *testing.T) graph.Graph {
	t.Helper()
	ctx := context.Background()
	g, err := memgraph.New(memgraph.DefaultConfig()).Open(ctx)
	require.NoError(t, err)

	people := []struct {
		id   int64
		name string
		age  int64
	}{
		{1, "marko", 29}, {2, "vadas", 27}, {4, "josh", 32}, {6, "peter", 35},
	}
	for _, p := range people {
		_, err := g.AddVertex(ctx, p.id, map[string]any{"name": p.name, "age": p.age})
		require.NoError(t, err)
	}
	for _, sw := range []struct {
		id   int64
		name string
	}{{3, "lop"}, {5, "ripple"}} {
		_, err := g.AddVertex(ctx, sw.id, map[string]any{"name": sw.name, "lang": "java"})
		require.NoError(t, err)
	}

	edges := []struct {
		id, out, in int64
		label       string
		weight      float64
	}{
		{7, 1, 2, "knows", 0.5},
		{8, 1, 4, "knows", 1.0},
		{9, 1, 3, "created", 0.4},
		{10, 4, 5, "created", 1.0},
		{11, 4, 3, "created", 0.4},
		{12, 6, 3, "created", 0.2},
	}
	for _, e := range edges {
		_, err := g.AddEdge(ctx, e.id, e.out, e.in, e.label, map[string]any{"weight": e.weight})
		require.NoError(t, err)
	}
	return g
}

func run(t *testing.T, g graph.Graph, query string, start any) []any {
	t.Helper()
	ctx := context.Background()
	prog, err := traversal.Compile(query)
	require.NoError(t, err)

	var el graph.Element
	switch id := start.(type) {
	case int64:
		el, err = g.Vertex(ctx, id)
	case edgeID:
		el, err = g.Edge(ctx, int64(id))
	}
	require.NoError(t, err)

	results, err := prog.Bind(el).Run(ctx, g)
	require.NoError(t, err)
	return results
}

type edgeID int64

func ids(results []any) []any {
	out := make([]any, 0, len(results))
	for _, r := range results {
		if el, ok := r.(graph.Element); ok {
			out = append(out, el.ElementID())
		}
	}
	return out
}

func TestTraversals(t *testing.T) {
	g := classic(t)

	tests := []struct {
		name  string
		query string
		start any
		want  []any
		idsOf bool
	}{
		{"out", "out", int64(1), []any{int64(2), int64(4), int64(3)}, true},
		{"out with label", "out('knows')", int64(1), []any{int64(2), int64(4)}, true},
		{"leading identity", "_().out('created')", int64(4), []any{int64(5), int64(3)}, true},
		{"in", "in", int64(3), []any{int64(1), int64(4), int64(6)}, true},
		{"property shorthand", "out('knows').name", int64(1), []any{"vadas", "josh"}, false},
		{"values step", "out(\"knows\").values('age')", int64(1), []any{int64(27), int64(32)}, false},
		{"has equality", "out.has('name', 'josh')", int64(1), []any{int64(4)}, true},
		{"has comparison", "out('knows').has('age', T.gt, 30)", int64(1), []any{int64(4)}, true},
		{"has key only", "out.has('lang')", int64(1), []any{int64(3)}, true},
		{"hasNot", "out.hasNot('lang')", int64(1), []any{int64(2), int64(4)}, true},
		{"interval", "out('knows').interval('age', 20, 30)", int64(1), []any{int64(2)}, true},
		{"two hops dedup", "out.out.dedup", int64(1), []any{int64(5), int64(3)}, true},
		{"count", "out.count()", int64(1), []any{int64(3)}, false},
		{"limit", "out.limit(2)", int64(1), []any{int64(2), int64(4)}, true},
		{"range inclusive", "out.range(1, 2)", int64(1), []any{int64(4), int64(3)}, true},
		{"edges and labels", "outE.label", int64(1), []any{"knows", "knows", "created"}, false},
		{"edge start", "inV.name", edgeID(7), []any{"vadas"}, false},
		{"bothV", "bothV.id", edgeID(7), []any{int64(1), int64(2)}, false},
		{"edge weight filter", "outE('created').has('weight', T.lte, 0.4).inV.name", int64(4), []any{"lop"}, false},
		{"both", "both('knows').id", int64(4), []any{int64(1)}, false},
		{"missing property", "out('created').age", int64(1), []any{nil}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := run(t, g, tt.query, tt.start)
			if tt.idsOf {
				assert.Equal(t, tt.want, ids(results))
				assert.Len(t, results, len(tt.want))
			} else {
				assert.Equal(t, tt.want, results)
			}
		})
	}
}

func TestPathAndGather(t *testing.T) {
	g := classic(t)

	paths := run(t, g, "out('knows').path", int64(1))
	require.Len(t, paths, 2)
	first, ok := paths[0].([]any)
	require.True(t, ok)
	require.Len(t, first, 2)
	assert.Equal(t, int64(1), first[0].(graph.Element).ElementID())
	assert.Equal(t, int64(2), first[1].(graph.Element).ElementID())

	gathered := run(t, g, "out.gather", int64(1))
	require.Len(t, gathered, 1)
	assert.Len(t, gathered[0], 3)

	scattered := run(t, g, "out.gather.scatter.name", int64(1))
	assert.Equal(t, []any{"vadas", "josh", "lop"}, scattered)

	maps := run(t, g, "out('knows').map", int64(1))
	require.Len(t, maps, 2)
	assert.Equal(t, map[string]any{"name": "vadas", "age": int64(27)}, maps[0])
}

func TestCompileErrors(t *testing.T) {
	bad := []string{
		"",
		"out(",
		"out('knows'",
		"frobnicate()",
		"has()",
		"has('a', 'b', 'c')",
		"has('a', T.between, 1)",
		"limit('x')",
		"range(2)",
		"out..in",
		"out.in)",
		"out('unterminated)",
		"outV(1)",
	}
	for _, q := range bad {
		t.Run(q, func(t *testing.T) {
			_, err := traversal.Compile(q)
			assert.ErrorIs(t, err, traversal.ErrSyntax)
		})
	}
}

func TestCompile_StepNames(t *testing.T) {
	prog, err := traversal.Compile("_().out('knows').has('age', T.gte, -1.5).name")
	require.NoError(t, err)
	assert.Equal(t, []string{"_", "out", "has", "values(name)"}, prog.StepNames())
	assert.Equal(t, "_().out('knows').has('age', T.gte, -1.5).name", prog.String())
}

func TestStepMismatch(t *testing.T) {
	g := classic(t)
	ctx := context.Background()

	prog, err := traversal.Compile("outV")
	require.NoError(t, err)
	v, err := g.Vertex(ctx, int64(1))
	require.NoError(t, err)

	_, err = prog.Bind(v).Run(ctx, g)
	assert.ErrorIs(t, err, traversal.ErrStepMismatch)
}

func TestExecution_SingleUse(t *testing.T) {
	g := classic(t)
	ctx := context.Background()

	prog, err := traversal.Compile("out")
	require.NoError(t, err)
	v, err := g.Vertex(ctx, int64(1))
	require.NoError(t, err)

	exec := prog.Bind(v)
	_, err = exec.Run(ctx, g)
	require.NoError(t, err)
	_, err = exec.Run(ctx, g)
	assert.ErrorIs(t, err, traversal.ErrAlreadyRun)
}

func TestProgram_ConcurrentBindings(t *testing.T) {
	g := classic(t)
	ctx := context.Background()

	prog, err := traversal.Compile("out.name")
	require.NoError(t, err)

	starts := map[int64][]any{
		1: {"vadas", "josh", "lop"},
		4: {"ripple", "lop"},
		6: {"lop"},
	}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		for id, want := range starts {
			wg.Add(1)
			go func(id int64, want []any) {
				defer wg.Done()
				v, err := g.Vertex(ctx, id)
				if !assert.NoError(t, err) {
					return
				}
				got, err := prog.Bind(v).Run(ctx, g)
				assert.NoError(t, err)
				assert.Equal(t, want, got)
			}(id, want)
		}
	}
	wg.Wait()
}
