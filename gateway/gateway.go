package gateway

import (
	"context"
	"time"

	"github.com/c360/graphbus/dispatch"
)

// Handler turns one encoded command into one encoded reply. A non-nil error is
// fatal and means no reply was produced. *dispatch.Dispatcher implements it.
type Handler interface {
	Handle(ctx context.Context, raw []byte) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, raw []byte) ([]byte, error)

// Handle calls f(ctx, raw).
func (f HandlerFunc) Handle(ctx context.Context, raw []byte) ([]byte, error) {
	return f(ctx, raw)
}

var _ Handler = (*dispatch.Dispatcher)(nil)

// Gateway is a transport that feeds external commands to a Handler.
type Gateway interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Request outcomes, used as the metric label.
const (
	OutcomeReplied  = "replied"
	OutcomeRejected = "rejected"
	OutcomeFatal    = "fatal"
)

// Rejection messages for commands refused before dispatch.
const (
	RateLimitedMessage = "Rate limit exceeded"
	OverloadedMessage  = "Service overloaded"
	TooLargeMessage    = "Command too large"
)

// Reject encodes an error reply for a command that never reached the handler.
func Reject(message string) []byte {
	data, err := dispatch.Error(message).Encode()
	if err != nil {
		return []byte(`{"status":"error"}`)
	}
	return data
}
