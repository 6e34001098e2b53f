// Package traversal compiles Gremlin-style step chains into reusable programs
// and runs them against a graph.Graph.
//
// A compiled Program is immutable. Executions are created per use with Bind,
// so one Program may be shared by any number of concurrent requests.
package traversal

import (
	"context"
	"errors"
	"fmt"

	"github.com/c360/graphbus/graph"
)

var (
	// ErrSyntax is wrapped by every compile failure
	ErrSyntax = errors.New("traversal syntax error")

	// ErrStepMismatch indicates a step received an object it cannot process,
	// for example outV() applied to a vertex
	ErrStepMismatch = errors.New("traversal step mismatch")

	// ErrAlreadyRun is returned when an Execution is run a second time
	ErrAlreadyRun = errors.New("execution already run")
)

// Program is a compiled traversal
type Program struct {
	source string
	steps  []step
}

// String returns the query text the program was compiled from.
func (p *Program) String() string { return p.source }

// StepNames lists the compiled steps in order.
func (p *Program) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.name()
	}
	return names
}

// Bind returns a single-use execution of p starting at start.
func (p *Program) Bind(start graph.Element) *Execution {
	return &Execution{program: p, start: start}
}

// Execution is one binding of a Program to a starting element.
// It is not safe for concurrent use.
type Execution struct {
	program *Program
	start   graph.Element
	ran     bool
}

// Run executes the traversal to completion and returns every emitted object.
// Results are elements, property values, or nested []any sequences.
func (e *Execution) Run(ctx context.Context, g graph.Graph) ([]any, error) {
	if e.ran {
		return nil, ErrAlreadyRun
	}
	e.ran = true
	if e.start == nil {
		return nil, fmt.Errorf("%w: no starting element", ErrStepMismatch)
	}

	current := []traverser{{obj: e.start, path: []any{e.start}}}
	for _, s := range e.program.steps {
		next, err := s.apply(ctx, g, current)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", s.name(), err)
		}
		current = next
	}

	results := make([]any, len(current))
	for i, t := range current {
		results[i] = t.obj
	}
	return results, nil
}

// Compiler turns query text into a Program
type Compiler interface {
	Compile(query string) (*Program, error)
}

// CompilerFunc adapts a function to Compiler
type CompilerFunc func(query string) (*Program, error)

// Compile calls f(query)
func (f CompilerFunc) Compile(query string) (*Program, error) {
	return f(query)
}

// DefaultCompiler compiles with Compile
var DefaultCompiler Compiler = CompilerFunc(Compile)

type traverser struct {
	obj  any
	path []any
}

func (t traverser) extend(obj any) traverser {
	path := make([]any, len(t.path), len(t.path)+1)
	copy(path, t.path)
	return traverser{obj: obj, path: append(path, obj)}
}
