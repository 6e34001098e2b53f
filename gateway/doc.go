// Package gateway bridges external transports to the command dispatcher.
//
// Every transport speaks the same protocol: one JSON command in, one JSON reply
// out. The reply is whatever the Handler produced, including error replies.
// Commands refused before dispatch (rate limited, queue full, oversized) get an
// error reply built by Reject. Fatal handler errors produce no reply body; each
// transport surfaces them in its own way.
//
// Implementations:
//
//   - gateway/nats: queue subscription on the service address, worker pool,
//     rate limiting and mutation event publishing
//   - gateway/http: POST endpoint with request ids and a body size limit
//   - gateway/websocket: one command per text frame, one reply per frame
package gateway
