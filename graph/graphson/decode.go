package graphson

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph"
)

func malformed(format string, args ...any) error {
	return errors.Newf(errors.ErrorInvalid, errors.ErrMalformedInput, format, args...)
}

// DeserializeVertex creates the vertex described by obj in g.
// The "_id" field is passed to the backend as an id hint.
func (c *Codec) DeserializeVertex(ctx context.Context, g graph.Graph, obj map[string]any) (*graph.Vertex, error) {
	return decodeVertex(ctx, g, obj, c.mode)
}

// DeserializeEdge creates the edge described by obj between out and in.
func (c *Codec) DeserializeEdge(ctx context.Context, g graph.Graph, out, in *graph.Vertex, obj map[string]any) (*graph.Edge, error) {
	if out == nil || in == nil {
		return nil, malformed("edge endpoints must both exist")
	}
	return decodeEdge(ctx, g, out.ID, in.ID, obj, c.mode)
}

func decodeVertex(ctx context.Context, g graph.Graph, obj map[string]any, mode Mode) (*graph.Vertex, error) {
	if obj == nil {
		return nil, malformed("vertex must be a JSON object")
	}
	if t, ok := obj[KeyType]; ok && t != string(graph.ElementVertex) {
		return nil, malformed("element with _type %v is not a vertex", t)
	}
	props, err := decodeProperties(obj, mode)
	if err != nil {
		return nil, err
	}
	return g.AddVertex(ctx, graph.NormalizeValue(obj[KeyID]), props)
}

func decodeEdge(ctx context.Context, g graph.Graph, outID, inID any, obj map[string]any, mode Mode) (*graph.Edge, error) {
	if obj == nil {
		return nil, malformed("edge must be a JSON object")
	}
	if t, ok := obj[KeyType]; ok && t != string(graph.ElementEdge) {
		return nil, malformed("element with _type %v is not an edge", t)
	}
	label, ok := obj[KeyLabel].(string)
	if !ok || label == "" {
		return nil, malformed("edge requires a string _label")
	}
	props, err := decodeProperties(obj, mode)
	if err != nil {
		return nil, err
	}
	return g.AddEdge(ctx, graph.NormalizeValue(obj[KeyID]), outID, inID, label, props)
}

func decodeProperties(obj map[string]any, mode Mode) (map[string]any, error) {
	props := make(map[string]any, len(obj))
	for key, raw := range obj {
		if isReserved(key) {
			continue
		}
		if raw == nil {
			return nil, malformed("property %s has a null value", key)
		}
		v, err := decodeValue(raw, mode)
		if err != nil {
			return nil, malformed("property %s: %v", key, err)
		}
		props[key] = v
	}
	return props, nil
}

func decodeValue(raw any, mode Mode) (any, error) {
	if mode != ModeExtended {
		return graph.NormalizeValue(raw), nil
	}
	return decodeTyped(raw)
}

func decodeTyped(raw any) (any, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected {\"type\", \"value\"} object, got %T", raw)
	}
	typ, _ := obj["type"].(string)
	val, present := obj["value"]
	if !present {
		return nil, fmt.Errorf("typed value without value")
	}
	val = graph.NormalizeValue(val)

	switch typ {
	case "string":
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("string value is %T", val)
		}
		return s, nil
	case "boolean":
		b, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("boolean value is %T", val)
		}
		return b, nil
	case "integer", "long", "short", "byte":
		switch n := val.(type) {
		case int64:
			return n, nil
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		}
		return nil, fmt.Errorf("%s value is not integral", typ)
	case "float", "double":
		switch n := val.(type) {
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		}
		return nil, fmt.Errorf("%s value is %T", typ, val)
	case "list":
		items, ok := val.([]any)
		if !ok {
			return nil, fmt.Errorf("list value is %T", val)
		}
		out := make([]any, len(items))
		for i, item := range items {
			decoded, err := decodeTyped(item)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	case "map":
		entries, ok := val.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("map value is %T", val)
		}
		out := make(map[string]any, len(entries))
		for k, item := range entries {
			decoded, err := decodeTyped(item)
			if err != nil {
				return nil, err
			}
			out[k] = decoded
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %q", typ)
	}
}

// DeserializeGraph loads every vertex and edge of doc into g. The document
// carries its own mode (NORMAL when absent). Edges refer to vertices by their
// document ids, which are remapped when the backend assigns its own.
func (c *Codec) DeserializeGraph(ctx context.Context, g graph.Graph, doc map[string]any) error {
	if err := ValidateGraphDocument(doc); err != nil {
		return err
	}

	mode := ModeNormal
	if raw, ok := doc["mode"].(string); ok {
		m, err := ParseMode(raw)
		if err != nil {
			return malformed("%v", err)
		}
		mode = m
	}

	vertices, _ := doc["vertices"].([]any)
	edges, _ := doc["edges"].([]any)

	ids := make(map[string]any, len(vertices))
	for i, raw := range vertices {
		obj, _ := raw.(map[string]any)
		v, err := decodeVertex(ctx, g, obj, mode)
		if err != nil {
			return fmt.Errorf("vertex %d: %w", i, err)
		}
		if docID, ok := obj[KeyID]; ok {
			ids[graph.IDKey(docID)] = v.ID
		}
	}

	resolve := func(ref any) (any, error) {
		if id, ok := ids[graph.IDKey(ref)]; ok {
			return id, nil
		}
		v, err := g.Vertex(ctx, ref)
		if stderrors.Is(err, graph.ErrNotFound) {
			return nil, malformed("edge references unknown vertex %v", ref)
		}
		if err != nil {
			return nil, err
		}
		return v.ID, nil
	}

	for i, raw := range edges {
		obj, _ := raw.(map[string]any)
		outID, err := resolve(obj[KeyOutV])
		if err != nil {
			return fmt.Errorf("edge %d: %w", i, err)
		}
		inID, err := resolve(obj[KeyInV])
		if err != nil {
			return fmt.Errorf("edge %d: %w", i, err)
		}
		if _, err := decodeEdge(ctx, g, outID, inID, obj, mode); err != nil {
			return fmt.Errorf("edge %d: %w", i, err)
		}
	}
	return nil
}
