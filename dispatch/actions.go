package dispatch

import "context"

type handlerFunc func(ctx context.Context, c *call) (Reply, error)

type action struct {
	name     string
	handler  handlerFunc
	mutating bool
}

// actions maps every accepted action name, aliases included, to its handler.
// Aliases resolve to the canonical entry so replies and metrics use one name.
var actions map[string]action

func init() {
	canonical := []action{
		{name: "addGraph", handler: addGraph, mutating: true},
		{name: "addVertex", handler: addVertex, mutating: true},
		{name: "addEdge", handler: addEdge, mutating: true},
		{name: "getVertex", handler: getVertex},
		{name: "getVertices", handler: getVertices},
		{name: "getEdge", handler: getEdge},
		{name: "getEdges", handler: getEdges},
		{name: "removeVertex", handler: removeVertex, mutating: true},
		{name: "removeEdge", handler: removeEdge, mutating: true},
		{name: "createKeyIndex", handler: createKeyIndex, mutating: true},
		{name: "dropKeyIndex", handler: dropKeyIndex, mutating: true},
		{name: "getIndexedKeys", handler: getIndexedKeys},
		{name: "query", handler: query},
		{name: "flushQueryCache", handler: flushQueryCache},
	}

	aliases := map[string]string{
		"addNode":            "addVertex",
		"addRelationship":    "addEdge",
		"getNode":            "getVertex",
		"getNodes":           "getVertices",
		"getRelationship":    "getEdge",
		"getRelationships":   "getEdges",
		"removeNode":         "removeVertex",
		"removeRelationship": "removeEdge",
	}

	actions = make(map[string]action, len(canonical)+len(aliases))
	for _, a := range canonical {
		actions[a.name] = a
	}
	for alias, target := range aliases {
		actions[alias] = actions[target]
	}
}

func lookup(name string) (action, bool) {
	a, ok := actions[name]
	return a, ok
}

// Actions lists every accepted action name, aliases included.
func Actions() []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	return names
}

// Canonical returns the canonical action for name, resolving aliases.
func Canonical(name string) (string, bool) {
	a, ok := actions[name]
	return a.name, ok
}
