package testutil

// ClassicGraph returns the classic six-vertex property graph as a bulk graph
// document. Each call returns a fresh copy.
func ClassicGraph() map[string]any {
	return map[string]any{
		"mode": "NORMAL",
		"vertices": []any{
			map[string]any{"_id": 1, "name": "marko", "age": 29},
			map[string]any{"_id": 2, "name": "vadas", "age": 27},
			map[string]any{"_id": 3, "name": "lop", "lang": "java"},
			map[string]any{"_id": 4, "name": "josh", "age": 32},
			map[string]any{"_id": 5, "name": "ripple", "lang": "java"},
			map[string]any{"_id": 6, "name": "peter", "age": 35},
		},
		"edges": []any{
			map[string]any{"_id": 7, "_label": "knows", "_outV": 1, "_inV": 2, "weight": 0.5},
			map[string]any{"_id": 8, "_label": "knows", "_outV": 1, "_inV": 4, "weight": 1.0},
			map[string]any{"_id": 9, "_label": "created", "_outV": 1, "_inV": 3, "weight": 0.4},
			map[string]any{"_id": 10, "_label": "created", "_outV": 4, "_inV": 5, "weight": 1.0},
			map[string]any{"_id": 11, "_label": "created", "_outV": 4, "_inV": 3, "weight": 0.4},
			map[string]any{"_id": 12, "_label": "created", "_outV": 6, "_inV": 3, "weight": 0.2},
		},
	}
}

// TestCommands are well-formed commands that succeed against an empty graph.
var TestCommands = []string{
	`{"action":"getVertices"}`,
	`{"action":"getEdges"}`,
	`{"action":"flushQueryCache"}`,
	`{"action":"addVertex","vertices":[{"name":"test"}]}`,
}
