// Package testutil provides shared fixtures for graphbus tests.
//
// # Graph contract
//
// RunGraphContract exercises a graph.Opener against the behaviour every backend
// must share: element round trips, not-found errors, adjacency, filtering,
// removal cascades and, where the backend advertises them, transactions and
// key indices. Backend packages call it from their own tests:
//
//	func TestContract(t *testing.T) {
//		testutil.RunGraphContract(t, func(t *testing.T) graph.Opener {
//			return memgraph.New(memgraph.DefaultConfig())
//		})
//	}
//
// # Test data
//
// ClassicGraph is the six-vertex "classic" property graph used in traversal
// tests, as a bulk graph document ready for addGraph.
//
// # Messaging
//
// Bus stands in for a NATS connection in transport tests that do not need a
// server. It honours queue groups and request inboxes and remembers what was
// published on each subject.
package testutil
