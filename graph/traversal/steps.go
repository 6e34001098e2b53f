package traversal

import (
	"context"
	"fmt"

	"github.com/c360/graphbus/graph"
)

type step interface {
	name() string
	apply(ctx context.Context, g graph.Graph, in []traverser) ([]traverser, error)
}

func buildStep(name string, args []any, hasParens bool) (step, error) {
	switch name {
	case "_":
		return identityStep{}, noArgs(name, args)
	case "out", "in", "both":
		labels, err := stringArgs(name, args)
		return vertexStep{dir: direction(name), labels: labels}, err
	case "outE", "inE", "bothE":
		labels, err := stringArgs(name, args)
		return edgeStep{dir: direction(name[:len(name)-1]), labels: labels}, err
	case "outV", "inV", "bothV":
		return endpointStep{dir: direction(name[:len(name)-1])}, noArgs(name, args)
	case "has", "hasNot":
		return buildHas(name == "hasNot", args)
	case "interval":
		if len(args) != 3 {
			return nil, fmt.Errorf("interval() takes key, low, high")
		}
		key, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("interval() key must be a string")
		}
		return intervalStep{key: key, lo: args[1], hi: args[2]}, nil
	case "dedup":
		return dedupStep{}, noArgs(name, args)
	case "limit":
		if len(args) != 1 {
			return nil, fmt.Errorf("limit() takes one integer")
		}
		n, ok := args[0].(int64)
		if !ok || n < 0 {
			return nil, fmt.Errorf("limit() takes a non-negative integer")
		}
		return rangeStep{label: "limit", lo: 0, hi: n - 1}, nil
	case "range":
		if len(args) != 2 {
			return nil, fmt.Errorf("range() takes low and high")
		}
		lo, okLo := args[0].(int64)
		hi, okHi := args[1].(int64)
		if !okLo || !okHi || lo < 0 {
			return nil, fmt.Errorf("range() bounds must be non-negative integers")
		}
		return rangeStep{label: "range", lo: lo, hi: hi}, nil
	case "values", "property":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s() takes one key", name)
		}
		key, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("%s() key must be a string", name)
		}
		return propertyStep{key: key}, nil
	case "id":
		return idStep{}, noArgs(name, args)
	case "label":
		return labelStep{}, noArgs(name, args)
	case "map":
		return mapStep{}, noArgs(name, args)
	case "path":
		return pathStep{}, noArgs(name, args)
	case "count":
		return countStep{}, noArgs(name, args)
	case "gather":
		return gatherStep{}, noArgs(name, args)
	case "scatter":
		return scatterStep{}, noArgs(name, args)
	}

	if hasParens {
		return nil, fmt.Errorf("unknown step %s()", name)
	}
	return propertyStep{key: name}, nil
}

func noArgs(name string, args []any) error {
	if len(args) > 0 {
		return fmt.Errorf("%s() takes no arguments", name)
	}
	return nil
}

func stringArgs(name string, args []any) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		s, ok := a.(string)
		if !ok {
			return nil, fmt.Errorf("%s() labels must be strings", name)
		}
		out = append(out, s)
	}
	return out, nil
}

func direction(name string) graph.Direction {
	switch name {
	case "out":
		return graph.DirectionOut
	case "in":
		return graph.DirectionIn
	default:
		return graph.DirectionBoth
	}
}

func buildHas(negate bool, args []any) (step, error) {
	label := "has"
	if negate {
		label = "hasNot"
	}
	if len(args) == 0 || len(args) > 3 {
		return nil, fmt.Errorf("%s() takes a key and an optional comparison", label)
	}
	key, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("%s() key must be a string", label)
	}

	st := hasStep{label: label, key: key, negate: negate}
	switch len(args) {
	case 2:
		st.op, st.value, st.withValue = opEq, args[1], true
	case 3:
		op, isOp := args[1].(compareOp)
		if !isOp {
			return nil, fmt.Errorf("%s() middle argument must be T.<op>", label)
		}
		st.op, st.value, st.withValue = op, args[2], true
	}
	return st, nil
}

func asVertex(obj any) (*graph.Vertex, error) {
	v, ok := obj.(*graph.Vertex)
	if !ok {
		return nil, fmt.Errorf("%w: expected vertex, got %s", ErrStepMismatch, describe(obj))
	}
	return v, nil
}

func asEdge(obj any) (*graph.Edge, error) {
	e, ok := obj.(*graph.Edge)
	if !ok {
		return nil, fmt.Errorf("%w: expected edge, got %s", ErrStepMismatch, describe(obj))
	}
	return e, nil
}

func asElement(obj any) (graph.Element, error) {
	el, ok := obj.(graph.Element)
	if !ok {
		return nil, fmt.Errorf("%w: expected element, got %s", ErrStepMismatch, describe(obj))
	}
	return el, nil
}

func describe(obj any) string {
	switch obj.(type) {
	case *graph.Vertex:
		return "vertex"
	case *graph.Edge:
		return "edge"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", obj)
	}
}

// elementValue resolves key on el; "id" and "label" address the element itself.
func elementValue(el graph.Element, key string) (any, bool) {
	if v, ok := el.Property(key); ok {
		return v, true
	}
	switch key {
	case "id":
		return el.ElementID(), true
	case "label":
		if e, ok := el.(*graph.Edge); ok {
			return e.Label, true
		}
	}
	return nil, false
}

type identityStep struct{}

func (identityStep) name() string { return "_" }

func (identityStep) apply(_ context.Context, _ graph.Graph, in []traverser) ([]traverser, error) {
	return in, nil
}

// vertexStep walks to adjacent vertices
type vertexStep struct {
	dir    graph.Direction
	labels []string
}

func (s vertexStep) name() string { return s.dir.String() }

func (s vertexStep) apply(ctx context.Context, g graph.Graph, in []traverser) ([]traverser, error) {
	var out []traverser
	for _, t := range in {
		v, err := asVertex(t.obj)
		if err != nil {
			return nil, err
		}
		edges, err := g.VertexEdges(ctx, v.ID, s.dir, s.labels...)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			var otherID any
			switch s.dir {
			case graph.DirectionOut:
				otherID = e.InV
			case graph.DirectionIn:
				otherID = e.OutV
			default:
				otherID = e.OtherEnd(v.ID)
			}
			other, err := g.Vertex(ctx, otherID)
			if err != nil {
				return nil, err
			}
			out = append(out, t.extend(other))
		}
	}
	return out, nil
}

// edgeStep walks to incident edges
type edgeStep struct {
	dir    graph.Direction
	labels []string
}

func (s edgeStep) name() string { return s.dir.String() + "E" }

func (s edgeStep) apply(ctx context.Context, g graph.Graph, in []traverser) ([]traverser, error) {
	var out []traverser
	for _, t := range in {
		v, err := asVertex(t.obj)
		if err != nil {
			return nil, err
		}
		edges, err := g.VertexEdges(ctx, v.ID, s.dir, s.labels...)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			out = append(out, t.extend(e))
		}
	}
	return out, nil
}

// endpointStep walks from edges to their vertices
type endpointStep struct {
	dir graph.Direction
}

func (s endpointStep) name() string { return s.dir.String() + "V" }

func (s endpointStep) apply(ctx context.Context, g graph.Graph, in []traverser) ([]traverser, error) {
	var out []traverser
	for _, t := range in {
		e, err := asEdge(t.obj)
		if err != nil {
			return nil, err
		}
		var ids []any
		switch s.dir {
		case graph.DirectionOut:
			ids = []any{e.OutV}
		case graph.DirectionIn:
			ids = []any{e.InV}
		default:
			ids = []any{e.OutV, e.InV}
		}
		for _, id := range ids {
			v, err := g.Vertex(ctx, id)
			if err != nil {
				return nil, err
			}
			out = append(out, t.extend(v))
		}
	}
	return out, nil
}

type hasStep struct {
	label     string
	key       string
	op        compareOp
	value     any
	withValue bool
	negate    bool
}

func (s hasStep) name() string { return s.label }

func (s hasStep) apply(_ context.Context, _ graph.Graph, in []traverser) ([]traverser, error) {
	var out []traverser
	for _, t := range in {
		el, err := asElement(t.obj)
		if err != nil {
			return nil, err
		}
		if s.matches(el) != s.negate {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s hasStep) matches(el graph.Element) bool {
	actual, ok := elementValue(el, s.key)
	if !ok {
		return false
	}
	if !s.withValue {
		return true
	}
	switch s.op {
	case opEq:
		return graph.ValuesEqual(actual, s.value)
	case opNeq:
		return !graph.ValuesEqual(actual, s.value)
	}
	cmp, ok := graph.CompareValues(actual, s.value)
	if !ok {
		return false
	}
	switch s.op {
	case opGt:
		return cmp > 0
	case opGte:
		return cmp >= 0
	case opLt:
		return cmp < 0
	case opLte:
		return cmp <= 0
	}
	return false
}

// intervalStep keeps elements whose key lies in [lo, hi)
type intervalStep struct {
	key    string
	lo, hi any
}

func (intervalStep) name() string { return "interval" }

func (s intervalStep) apply(_ context.Context, _ graph.Graph, in []traverser) ([]traverser, error) {
	var out []traverser
	for _, t := range in {
		el, err := asElement(t.obj)
		if err != nil {
			return nil, err
		}
		actual, ok := el.Property(s.key)
		if !ok {
			continue
		}
		lo, okLo := graph.CompareValues(actual, s.lo)
		hi, okHi := graph.CompareValues(actual, s.hi)
		if okLo && okHi && lo >= 0 && hi < 0 {
			out = append(out, t)
		}
	}
	return out, nil
}

type dedupStep struct{}

func (dedupStep) name() string { return "dedup" }

func (dedupStep) apply(_ context.Context, _ graph.Graph, in []traverser) ([]traverser, error) {
	seen := make(map[string]struct{}, len(in))
	var out []traverser
	for _, t := range in {
		key := identity(t.obj)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

func identity(obj any) string {
	switch v := obj.(type) {
	case *graph.Vertex:
		return "v:" + graph.IDKey(v.ID)
	case *graph.Edge:
		return "e:" + graph.IDKey(v.ID)
	default:
		return fmt.Sprintf("%T:%v", graph.NormalizeValue(obj), graph.NormalizeValue(obj))
	}
}

// rangeStep keeps positions lo..hi inclusive; hi < 0 keeps nothing for limit(0)
type rangeStep struct {
	label  string
	lo, hi int64
}

func (s rangeStep) name() string { return s.label }

func (s rangeStep) apply(_ context.Context, _ graph.Graph, in []traverser) ([]traverser, error) {
	var out []traverser
	for i, t := range in {
		pos := int64(i)
		if pos >= s.lo && pos <= s.hi {
			out = append(out, t)
		}
	}
	return out, nil
}

type propertyStep struct {
	key string
}

func (s propertyStep) name() string { return "values(" + s.key + ")" }

func (s propertyStep) apply(_ context.Context, _ graph.Graph, in []traverser) ([]traverser, error) {
	out := make([]traverser, 0, len(in))
	for _, t := range in {
		el, err := asElement(t.obj)
		if err != nil {
			return nil, err
		}
		v, _ := elementValue(el, s.key)
		out = append(out, t.extend(v))
	}
	return out, nil
}

type idStep struct{}

func (idStep) name() string { return "id" }

func (idStep) apply(_ context.Context, _ graph.Graph, in []traverser) ([]traverser, error) {
	out := make([]traverser, 0, len(in))
	for _, t := range in {
		el, err := asElement(t.obj)
		if err != nil {
			return nil, err
		}
		out = append(out, t.extend(el.ElementID()))
	}
	return out, nil
}

type labelStep struct{}

func (labelStep) name() string { return "label" }

func (labelStep) apply(_ context.Context, _ graph.Graph, in []traverser) ([]traverser, error) {
	out := make([]traverser, 0, len(in))
	for _, t := range in {
		e, err := asEdge(t.obj)
		if err != nil {
			return nil, err
		}
		out = append(out, t.extend(e.Label))
	}
	return out, nil
}

type mapStep struct{}

func (mapStep) name() string { return "map" }

func (mapStep) apply(_ context.Context, _ graph.Graph, in []traverser) ([]traverser, error) {
	out := make([]traverser, 0, len(in))
	for _, t := range in {
		el, err := asElement(t.obj)
		if err != nil {
			return nil, err
		}
		props := make(map[string]any)
		for _, k := range el.PropertyKeys() {
			v, _ := el.Property(k)
			props[k] = v
		}
		out = append(out, t.extend(graph.CloneProperties(props)))
	}
	return out, nil
}

type pathStep struct{}

func (pathStep) name() string { return "path" }

func (pathStep) apply(_ context.Context, _ graph.Graph, in []traverser) ([]traverser, error) {
	out := make([]traverser, 0, len(in))
	for _, t := range in {
		path := make([]any, len(t.path))
		copy(path, t.path)
		out = append(out, traverser{obj: path, path: t.path})
	}
	return out, nil
}

type countStep struct{}

func (countStep) name() string { return "count" }

func (countStep) apply(_ context.Context, _ graph.Graph, in []traverser) ([]traverser, error) {
	n := int64(len(in))
	return []traverser{{obj: n, path: []any{n}}}, nil
}

type gatherStep struct{}

func (gatherStep) name() string { return "gather" }

func (gatherStep) apply(_ context.Context, _ graph.Graph, in []traverser) ([]traverser, error) {
	all := make([]any, len(in))
	for i, t := range in {
		all[i] = t.obj
	}
	return []traverser{{obj: all, path: []any{all}}}, nil
}

type scatterStep struct{}

func (scatterStep) name() string { return "scatter" }

func (scatterStep) apply(_ context.Context, _ graph.Graph, in []traverser) ([]traverser, error) {
	var out []traverser
	for _, t := range in {
		items, ok := t.obj.([]any)
		if !ok {
			out = append(out, t)
			continue
		}
		for _, item := range items {
			out = append(out, t.extend(item))
		}
	}
	return out, nil
}
