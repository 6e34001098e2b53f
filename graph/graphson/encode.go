package graphson

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph"
)

// Codec encodes and decodes elements in one fixed Mode. It holds no other
// state and is safe for concurrent use.
type Codec struct {
	mode Mode
}

// New returns a codec for mode. An empty mode means NORMAL.
func New(mode Mode) *Codec {
	if mode == "" {
		mode = ModeNormal
	}
	return &Codec{mode: mode}
}

// Mode returns the codec's mode
func (c *Codec) Mode() Mode {
	return c.mode
}

// Items converts a typed element slice for SerializeElements.
func Items[E graph.Element](els []E) []any {
	out := make([]any, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out
}

// SerializeElement renders one vertex or edge.
func (c *Codec) SerializeElement(el graph.Element) (map[string]any, error) {
	return encodeElement(el, c.mode)
}

func encodeElement(el graph.Element, mode Mode) (map[string]any, error) {
	out := make(map[string]any)
	for _, key := range el.PropertyKeys() {
		if isReserved(key) {
			continue
		}
		v, _ := el.Property(key)
		encoded, err := encodeValue(v, mode)
		if err != nil {
			return nil, errors.Newf(errors.ErrorInvalid, errors.ErrMalformedInput,
				"Cannot convert %v to JSON: property %s: %v", el, key, err)
		}
		out[key] = encoded
	}

	out[KeyID] = el.ElementID()
	if mode != ModeCompact {
		out[KeyType] = string(el.ElementType())
	}
	if e, ok := el.(*graph.Edge); ok {
		out[KeyLabel] = e.Label
		out[KeyOutV] = e.OutV
		out[KeyInV] = e.InV
	}
	return out, nil
}

// SerializeElements renders every element in items, flattening nested
// sequences and skipping anything that is not an element.
func (c *Codec) SerializeElements(items []any) ([]any, error) {
	out := make([]any, 0, len(items))
	return c.flattenElements(items, out)
}

func (c *Codec) flattenElements(items []any, out []any) ([]any, error) {
	for _, item := range items {
		switch v := item.(type) {
		case graph.Element:
			encoded, err := c.SerializeElement(v)
			if err != nil {
				return nil, err
			}
			out = append(out, encoded)
		case []any:
			var err error
			if out, err = c.flattenElements(v, out); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// SerializeResults renders traversal results. Elements are rendered
// structurally, nested sequences stay nested, and JSON-representable values
// pass through. Any other value is a fatal defect.
func (c *Codec) SerializeResults(items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		encoded, err := c.serializeResult(item)
		if err != nil {
			return nil, err
		}
		out[i] = encoded
	}
	return out, nil
}

func (c *Codec) serializeResult(item any) (any, error) {
	switch v := item.(type) {
	case graph.Element:
		return c.SerializeElement(v)
	case []any:
		return c.SerializeResults(v)
	}
	if err := checkRepresentable(item); err != nil {
		return nil, errors.WrapFatal(err, "graphson", "SerializeResults", "encode result")
	}
	return item, nil
}

// SerializeGraph renders the whole graph as {"mode", "vertices", "edges"}.
func (c *Codec) SerializeGraph(ctx context.Context, g graph.Graph) (map[string]any, error) {
	vertices, err := g.Vertices(ctx, "", nil)
	if err != nil {
		return nil, errors.Wrap(err, "graphson", "SerializeGraph", "read vertices")
	}
	edges, err := g.Edges(ctx, "", nil)
	if err != nil {
		return nil, errors.Wrap(err, "graphson", "SerializeGraph", "read edges")
	}

	vs, err := c.SerializeElements(Items(vertices))
	if err != nil {
		return nil, err
	}
	es, err := c.SerializeElements(Items(edges))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"mode":     string(c.mode),
		"vertices": vs,
		"edges":    es,
	}, nil
}

func encodeValue(v any, mode Mode) (any, error) {
	if err := checkRepresentable(v); err != nil {
		return nil, err
	}
	if mode != ModeExtended {
		return v, nil
	}
	return typedValue(v)
}

func typedValue(v any) (any, error) {
	wrap := func(typ string, val any) map[string]any {
		return map[string]any{"type": typ, "value": val}
	}

	switch val := graph.NormalizeValue(v).(type) {
	case string:
		return wrap("string", val), nil
	case bool:
		return wrap("boolean", val), nil
	case int64:
		if val >= math.MinInt32 && val <= math.MaxInt32 {
			return wrap("integer", val), nil
		}
		return wrap("long", val), nil
	case uint64:
		return wrap("long", val), nil
	case float64:
		return wrap("double", val), nil
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			typed, err := typedValue(item)
			if err != nil {
				return nil, err
			}
			items[i] = typed
		}
		return wrap("list", items), nil
	case map[string]any:
		entries := make(map[string]any, len(val))
		for k, item := range val {
			typed, err := typedValue(item)
			if err != nil {
				return nil, err
			}
			entries[k] = typed
		}
		return wrap("map", entries), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// checkRepresentable reports whether v maps directly onto JSON.
func checkRepresentable(v any) error {
	switch val := v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	case float32:
		return checkFloat(float64(val))
	case float64:
		return checkFloat(val)
	case []any:
		for _, item := range val {
			if err := checkRepresentable(item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for _, item := range val {
			if err := checkRepresentable(item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("value of type %T is not representable as JSON", v)
	}
}

func checkFloat(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("value %v is not representable as JSON", f)
	}
	return nil
}
