package dispatch

import (
	"encoding/json"
)

// Reply statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Reply is the JSON object sent back for a command.
type Reply map[string]any

// OK builds a success reply carrying fields.
func OK(fields Reply) Reply {
	r := make(Reply, len(fields)+1)
	for k, v := range fields {
		r[k] = v
	}
	r["status"] = StatusOK
	return r
}

// Error builds an error reply.
func Error(message string) Reply {
	return Reply{"status": StatusError, "message": message}
}

// Status returns the reply status.
func (r Reply) Status() string {
	s, _ := r["status"].(string)
	return s
}

// Message returns the error message of an error reply.
func (r Reply) Message() string {
	s, _ := r["message"].(string)
	return s
}

// Encode marshals the reply.
func (r Reply) Encode() ([]byte, error) {
	return json.Marshal(map[string]any(r))
}
