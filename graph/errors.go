// Package graph defines the property-graph model graphbus dispatches against:
// elements, the backend Graph interface and its optional capabilities.
package graph

import "errors"

// Sentinel errors returned by Graph implementations.
// The dispatcher maps them onto reply messages; backends wrap them with context.

// Element errors
var (
	// ErrNotFound indicates the requested vertex or edge does not exist
	ErrNotFound = errors.New("element not found")

	// ErrInvalidProperty indicates a property key or value the backend cannot store
	ErrInvalidProperty = errors.New("invalid property")

	// ErrInvalidID indicates an identifier the backend cannot interpret
	ErrInvalidID = errors.New("invalid element id")
)

// Backend errors
var (
	// ErrUnsupported indicates the backend does not implement an optional capability
	ErrUnsupported = errors.New("operation not supported by backend")

	// ErrClosed indicates the graph handle has already been shut down
	ErrClosed = errors.New("graph is shut down")
)
