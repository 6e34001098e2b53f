package graph

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDKey(t *testing.T) {
	tests := []struct {
		name string
		id   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "abc", "abc"},
		{"int64", int64(42), "42"},
		{"int", 42, "42"},
		{"integral float", float64(42), "42"},
		{"fractional float", 1.5, "1.5"},
		{"json integer", json.Number("42"), "42"},
		{"json fraction", json.Number("1.25"), "1.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IDKey(tt.id))
		})
	}
}

func TestIntID(t *testing.T) {
	id, ok := IntID(json.Number("7"))
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	id, ok = IntID("12")
	assert.True(t, ok)
	assert.Equal(t, int64(12), id)

	_, ok = IntID("v-12")
	assert.False(t, ok)

	_, ok = IntID(2.5)
	assert.False(t, ok)
}

func TestNormalizeValue(t *testing.T) {
	in := map[string]any{
		"n":    json.Number("3"),
		"f":    json.Number("3.5"),
		"list": []any{json.Number("1"), "x", []any{json.Number("2")}},
		"s":    "str",
		"b":    true,
	}

	out := NormalizeValue(in).(map[string]any)

	assert.Equal(t, int64(3), out["n"])
	assert.Equal(t, 3.5, out["f"])
	assert.Equal(t, []any{int64(1), "x", []any{int64(2)}}, out["list"])
	assert.Equal(t, "str", out["s"])
	assert.Equal(t, true, out["b"])
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, ValuesEqual(int64(1), float64(1)))
	assert.True(t, ValuesEqual(json.Number("5"), int64(5)))
	assert.True(t, ValuesEqual("demo", "demo"))
	assert.True(t, ValuesEqual([]any{int64(1), "a"}, []any{json.Number("1"), "a"}))
	assert.False(t, ValuesEqual("1", int64(1)))
	assert.False(t, ValuesEqual(true, "true"))
}

func TestValuesEqual_LargeIntegers(t *testing.T) {
	assert.False(t, ValuesEqual(int64(9007199254740992), int64(9007199254740993)))
	assert.False(t, ValuesEqual(json.Number("9007199254740993"), int64(9007199254740992)))
	assert.True(t, ValuesEqual(json.Number("9007199254740993"), int64(9007199254740993)))
	assert.True(t, ValuesEqual(uint64(math.MaxUint64), json.Number("18446744073709551615")))
	assert.False(t, ValuesEqual(uint64(math.MaxUint64), int64(-1)))
	assert.True(t, ValuesEqual(int64(9007199254740992), float64(9007199254740992)))
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name   string
		a, b   any
		want   int
		wantOK bool
	}{
		{"ints", int64(1), int64(2), -1, true},
		{"mixed numeric", 2.5, int64(2), 1, true},
		{"strings", "b", "a", 1, true},
		{"bools", false, true, -1, true},
		{"equal", "x", "x", 0, true},
		{"incomparable", "1", int64(1), 0, false},
		{"lists", []any{}, []any{}, 0, false},
		{"beyond float precision", int64(9007199254740992), int64(9007199254740993), -1, true},
		{"negative vs unsigned", int64(math.MinInt64), uint64(math.MaxUint64), -1, true},
		{"negatives", int64(-3), int64(-7), 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CompareValues(tt.a, tt.b)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCloneProperties_IsDeep(t *testing.T) {
	orig := map[string]any{"tags": []any{"a"}, "meta": map[string]any{"k": "v"}}
	clone := CloneProperties(orig)

	clone["tags"].([]any)[0] = "changed"
	clone["meta"].(map[string]any)["k"] = "changed"

	assert.Equal(t, "a", orig["tags"].([]any)[0])
	assert.Equal(t, "v", orig["meta"].(map[string]any)["k"])
}

type featureGraph struct {
	Graph
	features Features
}

func (g featureGraph) Features() Features { return g.features }

type txFeatureGraph struct {
	featureGraph
}

func (txFeatureGraph) Commit(context.Context) error   { return nil }
func (txFeatureGraph) Rollback(context.Context) error { return nil }

func TestAsTransactional(t *testing.T) {
	_, ok := AsTransactional(featureGraph{features: Features{SupportsTransactions: true}})
	assert.False(t, ok, "flag without interface is not transactional")

	_, ok = AsTransactional(txFeatureGraph{featureGraph{features: Features{}}})
	assert.False(t, ok, "interface without flag is not transactional")

	tx, ok := AsTransactional(txFeatureGraph{featureGraph{features: Features{SupportsTransactions: true}}})
	require.True(t, ok)
	assert.NoError(t, tx.Commit(context.Background()))
}

func TestParseElementClass(t *testing.T) {
	class, err := ParseElementClass("Vertex")
	require.NoError(t, err)
	assert.Equal(t, ElementVertex, class)
	assert.Equal(t, "Vertex", class.Class())

	class, err = ParseElementClass("Edge")
	require.NoError(t, err)
	assert.Equal(t, ElementEdge, class)

	_, err = ParseElementClass("vertex")
	assert.Error(t, err)
}

func TestEdgeOtherEnd(t *testing.T) {
	e := &Edge{ID: int64(9), Label: "knows", OutV: int64(1), InV: int64(2)}
	assert.Equal(t, int64(2), e.OtherEnd(json.Number("1")))
	assert.Equal(t, int64(1), e.OtherEnd(int64(2)))
	assert.Equal(t, "e[9][1-knows->2]", e.String())
}
