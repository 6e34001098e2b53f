package graphson

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph"
	"github.com/c360/graphbus/graph/memgraph"
)

func decodeJSON(t *testing.T, raw string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var out map[string]any
	require.NoError(t, dec.Decode(&out))
	return out
}

func newGraph(t *testing.T, mutate func(*memgraph.Config)) graph.Graph {
	t.Helper()
	cfg := memgraph.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	g, err := memgraph.New(cfg).Open(context.Background())
	require.NoError(t, err)
	return g
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("extended")
	require.NoError(t, err)
	assert.Equal(t, ModeExtended, m)

	_, err = ParseMode("verbose")
	assert.Error(t, err)

	assert.Equal(t, ModeNormal, New("").Mode())
}

func TestSerializeElement_Modes(t *testing.T) {
	v := &graph.Vertex{ID: int64(1), Properties: map[string]any{"name": "marko", "age": int64(29)}}
	e := &graph.Edge{ID: int64(7), Label: "knows", OutV: int64(1), InV: int64(2),
		Properties: map[string]any{"weight": 0.5}}

	tests := []struct {
		name string
		mode Mode
		el   graph.Element
		want map[string]any
	}{
		{
			"compact vertex", ModeCompact, v,
			map[string]any{"_id": int64(1), "name": "marko", "age": int64(29)},
		},
		{
			"normal vertex", ModeNormal, v,
			map[string]any{"_id": int64(1), "_type": "vertex", "name": "marko", "age": int64(29)},
		},
		{
			"extended vertex", ModeExtended, v,
			map[string]any{
				"_id":   int64(1),
				"_type": "vertex",
				"name":  map[string]any{"type": "string", "value": "marko"},
				"age":   map[string]any{"type": "integer", "value": int64(29)},
			},
		},
		{
			"normal edge", ModeNormal, e,
			map[string]any{"_id": int64(7), "_type": "edge", "_label": "knows",
				"_outV": int64(1), "_inV": int64(2), "weight": 0.5},
		},
		{
			"compact edge", ModeCompact, e,
			map[string]any{"_id": int64(7), "_label": "knows",
				"_outV": int64(1), "_inV": int64(2), "weight": 0.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(tt.mode).SerializeElement(tt.el)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSerializeElement_ExtendedNested(t *testing.T) {
	v := &graph.Vertex{ID: "x", Properties: map[string]any{
		"tags": []any{"a", int64(1) << 40},
		"meta": map[string]any{"ok": true, "ratio": 1.5},
	}}

	got, err := New(ModeExtended).SerializeElement(v)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"type": "list", "value": []any{
		map[string]any{"type": "string", "value": "a"},
		map[string]any{"type": "long", "value": int64(1) << 40},
	}}, got["tags"])
	assert.Equal(t, map[string]any{"type": "map", "value": map[string]any{
		"ok":    map[string]any{"type": "boolean", "value": true},
		"ratio": map[string]any{"type": "double", "value": 1.5},
	}}, got["meta"])
}

func TestSerializeElement_UnrepresentableValue(t *testing.T) {
	v := &graph.Vertex{ID: int64(1), Properties: map[string]any{"bad": math.NaN()}}
	_, err := New(ModeNormal).SerializeElement(v)
	assert.ErrorIs(t, err, errors.ErrMalformedInput)
}

func TestSerializeElements_FlattensAndSkips(t *testing.T) {
	a := &graph.Vertex{ID: int64(1)}
	b := &graph.Vertex{ID: int64(2)}
	c := &graph.Edge{ID: int64(3), Label: "l", OutV: int64(1), InV: int64(2)}

	got, err := New(ModeCompact).SerializeElements([]any{a, "skip me", []any{b, []any{c}}, int64(4)})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].(map[string]any)["_id"])
	assert.Equal(t, int64(2), got[1].(map[string]any)["_id"])
	assert.Equal(t, "l", got[2].(map[string]any)["_label"])
}

func TestSerializeResults(t *testing.T) {
	codec := New(ModeCompact)
	v := &graph.Vertex{ID: int64(1), Properties: map[string]any{"name": "marko"}}

	got, err := codec.SerializeResults([]any{v, "josh", int64(3), nil, []any{v, 1.5}, map[string]any{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"_id": int64(1), "name": "marko"},
		"josh",
		int64(3),
		nil,
		[]any{map[string]any{"_id": int64(1), "name": "marko"}, 1.5},
		map[string]any{"k": "v"},
	}, got)

	_, err = codec.SerializeResults([]any{struct{}{}})
	require.Error(t, err)
	assert.True(t, errors.HasClass(err, errors.ErrorFatal))
}

func TestVertexRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, mode := range []Mode{ModeCompact, ModeNormal, ModeExtended} {
		t.Run(string(mode), func(t *testing.T) {
			codec := New(mode)
			g := newGraph(t, func(c *memgraph.Config) { c.Features.IgnoresSuppliedIDs = true })

			props := map[string]any{
				"name":  "marko",
				"age":   int64(29),
				"score": 1.25,
				"admin": false,
				"tags":  []any{"a", "b"},
			}
			encoded, err := codec.SerializeElement(&graph.Vertex{ID: "client-id", Properties: props})
			require.NoError(t, err)

			// Go through real JSON bytes like the wire does.
			raw, err := json.Marshal(encoded)
			require.NoError(t, err)
			obj := decodeJSON(t, string(raw))

			v, err := codec.DeserializeVertex(ctx, g, obj)
			require.NoError(t, err)
			assert.NotEqual(t, "client-id", v.ID)

			again, err := codec.SerializeElement(v)
			require.NoError(t, err)
			delete(again, KeyID)
			delete(encoded, KeyID)
			assert.Equal(t, encoded, again)
		})
	}
}

func TestDeserializeVertex_Malformed(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		mode Mode
		doc  string
	}{
		{"null property", ModeNormal, `{"name": null}`},
		{"wrong type tag", ModeNormal, `{"_type": "edge", "name": "x"}`},
		{"extended raw value", ModeExtended, `{"name": "x"}`},
		{"extended bad integer", ModeExtended, `{"age": {"type": "integer", "value": 1.5}}`},
		{"extended unknown type", ModeExtended, `{"age": {"type": "date", "value": "2020"}}`},
		{"extended missing value", ModeExtended, `{"age": {"type": "integer"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGraph(t, nil)
			_, err := New(tt.mode).DeserializeVertex(ctx, g, decodeJSON(t, tt.doc))
			assert.ErrorIs(t, err, errors.ErrMalformedInput)

			vs, err := g.Vertices(ctx, "", nil)
			require.NoError(t, err)
			assert.Empty(t, vs)
		})
	}
}

func TestDeserializeEdge(t *testing.T) {
	ctx := context.Background()
	g := newGraph(t, nil)
	codec := New(ModeNormal)

	a, err := g.AddVertex(ctx, int64(1), nil)
	require.NoError(t, err)
	b, err := g.AddVertex(ctx, int64(2), nil)
	require.NoError(t, err)

	e, err := codec.DeserializeEdge(ctx, g, a, b, decodeJSON(t,
		`{"_id": 10, "_label": "knows", "_outV": 1, "_inV": 2, "since": 2010}`))
	require.NoError(t, err)
	assert.Equal(t, int64(10), e.ID)
	assert.Equal(t, "knows", e.Label)
	assert.Equal(t, int64(2010), e.Properties["since"])
	assert.NotContains(t, e.Properties, "_outV")

	_, err = codec.DeserializeEdge(ctx, g, a, b, decodeJSON(t, `{"_outV": 1, "_inV": 2}`))
	assert.ErrorIs(t, err, errors.ErrMalformedInput)

	_, err = codec.DeserializeEdge(ctx, g, a, nil, decodeJSON(t, `{"_label": "x"}`))
	assert.ErrorIs(t, err, errors.ErrMalformedInput)
}

const sampleGraph = `{
  "mode": "NORMAL",
  "vertices": [
    {"_id": 1, "_type": "vertex", "name": "marko"},
    {"_id": 2, "_type": "vertex", "name": "vadas"}
  ],
  "edges": [
    {"_id": 7, "_type": "edge", "_label": "knows", "_outV": 1, "_inV": 2, "weight": 0.5}
  ]
}`

func TestDeserializeGraph_KeepsSuppliedIDs(t *testing.T) {
	ctx := context.Background()
	g := newGraph(t, nil)

	require.NoError(t, New(ModeCompact).DeserializeGraph(ctx, g, decodeJSON(t, sampleGraph)))

	e, err := g.Edge(ctx, int64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.OutV)
	assert.Equal(t, int64(2), e.InV)
	assert.Equal(t, 0.5, e.Properties["weight"])
}

func TestDeserializeGraph_RemapsGeneratedIDs(t *testing.T) {
	ctx := context.Background()
	g := newGraph(t, func(c *memgraph.Config) { c.Features.IgnoresSuppliedIDs = true })

	doc := decodeJSON(t, `{
	  "vertices": [{"_id": "a", "name": "marko"}, {"_id": "b", "name": "vadas"}],
	  "edges": [{"_label": "knows", "_outV": "a", "_inV": "b"}]
	}`)
	require.NoError(t, New(ModeNormal).DeserializeGraph(ctx, g, doc))

	snapshot, err := New(ModeNormal).SerializeGraph(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, "NORMAL", snapshot["mode"])

	vertices := snapshot["vertices"].([]any)
	edges := snapshot["edges"].([]any)
	require.Len(t, vertices, 2)
	require.Len(t, edges, 1)

	marko := vertices[0].(map[string]any)
	vadas := vertices[1].(map[string]any)
	edge := edges[0].(map[string]any)
	assert.Equal(t, marko["_id"], edge["_outV"])
	assert.Equal(t, vadas["_id"], edge["_inV"])
}

func TestDeserializeGraph_ExtendedDocument(t *testing.T) {
	ctx := context.Background()
	g := newGraph(t, nil)

	doc := decodeJSON(t, `{
	  "mode": "EXTENDED",
	  "vertices": [{"_id": 1, "age": {"type": "integer", "value": 29}}],
	  "edges": []
	}`)
	require.NoError(t, New(ModeCompact).DeserializeGraph(ctx, g, doc))

	v, err := g.Vertex(ctx, int64(1))
	require.NoError(t, err)
	assert.Equal(t, int64(29), v.Properties["age"])
}

func TestDeserializeGraph_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"vertices not array", `{"vertices": {"_id": 1}}`},
		{"edge without label", `{"vertices": [{"_id": 1}], "edges": [{"_outV": 1, "_inV": 1}]}`},
		{"edge with empty label", `{"vertices": [{"_id": 1}], "edges": [{"_outV": 1, "_inV": 1, "_label": ""}]}`},
		{"unknown endpoint", `{"vertices": [{"_id": 1}], "edges": [{"_outV": 1, "_inV": 9, "_label": "x"}]}`},
		{"bad mode", `{"mode": "LOUD", "vertices": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGraph(t, nil)
			err := New(ModeNormal).DeserializeGraph(context.Background(), g, decodeJSON(t, tt.doc))
			assert.ErrorIs(t, err, errors.ErrMalformedInput)
		})
	}
}

func TestValidateGraphDocument_ListsFields(t *testing.T) {
	err := ValidateGraphDocument(map[string]any{
		"edges": []any{map[string]any{"_outV": 1}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "_inV")
	assert.Contains(t, err.Error(), "_label")

	assert.ErrorIs(t, ValidateGraphDocument(nil), errors.ErrMalformedInput)
}
