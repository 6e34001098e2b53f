package graph

import (
	"fmt"
	"sort"
)

// ElementType distinguishes vertices from edges
type ElementType string

const (
	ElementVertex ElementType = "vertex"
	ElementEdge   ElementType = "edge"
)

// ParseElementClass maps the wire tags "Vertex" and "Edge" onto an ElementType.
func ParseElementClass(class string) (ElementType, error) {
	switch class {
	case "Vertex":
		return ElementVertex, nil
	case "Edge":
		return ElementEdge, nil
	default:
		return "", fmt.Errorf("unsupported element class %q", class)
	}
}

// Class returns the wire tag for t ("Vertex" or "Edge").
func (t ElementType) Class() string {
	if t == ElementEdge {
		return "Edge"
	}
	return "Vertex"
}

// Direction selects which incident edges of a vertex to follow
type Direction int

const (
	DirectionOut Direction = iota
	DirectionIn
	DirectionBoth
)

func (d Direction) String() string {
	switch d {
	case DirectionOut:
		return "out"
	case DirectionIn:
		return "in"
	default:
		return "both"
	}
}

// Element is either a *Vertex or an *Edge.
type Element interface {
	ElementID() any
	ElementType() ElementType
	Property(key string) (any, bool)
	PropertyKeys() []string
}

// Vertex is a node with an identifier and a property bag
type Vertex struct {
	ID         any
	Properties map[string]any
}

// Edge is a labelled relationship from OutV to InV
type Edge struct {
	ID         any
	Label      string
	OutV       any
	InV        any
	Properties map[string]any
}

func (v *Vertex) ElementID() any           { return v.ID }
func (v *Vertex) ElementType() ElementType { return ElementVertex }

func (v *Vertex) Property(key string) (any, bool) {
	val, ok := v.Properties[key]
	return val, ok
}

func (v *Vertex) PropertyKeys() []string { return sortedKeys(v.Properties) }

func (v *Vertex) String() string { return fmt.Sprintf("v[%v]", v.ID) }

func (e *Edge) ElementID() any           { return e.ID }
func (e *Edge) ElementType() ElementType { return ElementEdge }

func (e *Edge) Property(key string) (any, bool) {
	val, ok := e.Properties[key]
	return val, ok
}

func (e *Edge) PropertyKeys() []string { return sortedKeys(e.Properties) }

func (e *Edge) String() string {
	return fmt.Sprintf("e[%v][%v-%s->%v]", e.ID, e.OutV, e.Label, e.InV)
}

// OtherEnd returns the endpoint of e that is not vertexID.
// For self loops it returns vertexID.
func (e *Edge) OtherEnd(vertexID any) any {
	if IDKey(e.OutV) == IDKey(vertexID) {
		return e.InV
	}
	return e.OutV
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
