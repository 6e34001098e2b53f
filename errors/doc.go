// Package errors provides standardized error handling for graphbus.
//
// # Classification
//
// Every error handled by a graphbus component falls into one of three classes:
//
//   - Transient: timeouts, lost connections, unavailable backends (retry may help)
//   - Invalid: malformed commands, failed validation, bad configuration (do not retry)
//   - Fatal: broken invariants inside graphbus itself (stop and alert)
//
// # Reply taxonomy
//
// Request handling adds a second axis. A failed command is answered with an error reply
// whose message is the error text, and the sentinel it wraps decides the metric label:
//
//	ErrValidation            missing or malformed request fields
//	ErrBackendUnavailable    the graph backend could not be opened
//	ErrElementNotFound       a vertex or edge lookup missed
//	ErrMalformedInput        a GraphSON document could not be decoded
//	ErrQueryCompile          a traversal failed to compile
//	ErrUnsupportedOperation  the backend lacks a capability (key indices)
//	ErrUnsupportedAction     the action tag is not routed
//
// Build one with New, which keeps the message verbatim:
//
//	return errors.New(errors.ErrorInvalid, errors.ErrValidation,
//	    "Action 'addEdge': Key _label is a required field")
//
// Errors classified ErrorFatal are never turned into replies. The dispatcher rolls back
// and returns them to the transport, which logs them as defects. HasClass checks the
// explicit classification only and is what the dispatcher uses for that decision;
// IsFatal additionally matches message patterns and is meant for retry decisions.
//
// # Wrapping
//
// Wrapping follows the format
//
//	"component.method: action failed: %w"
//
// through Wrap, WrapTransient, WrapInvalid and WrapFatal. All results work with the
// standard errors.Is and errors.As.
package errors
