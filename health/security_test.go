package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"sqlite path", "open /var/lib/graphbus/graph.db: permission denied", "open [PATH]: permission denied"},
		{"nats url", "dial nats://nats.internal:4222 refused", "dial [URL] refused"},
		{"otlp endpoint", "export to https://collector.local/v1/traces timed out", "export to [URL] timed out"},
		{"bare ip", "no route to 10.0.0.7", "no route to [IP]"},
		{"listen port", "listen tcp :8182 in use", "listen tcp [PORT] in use"},
		{"nats token", "authorization violation token=s3cr3t", "authorization violation [REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeErrorMessage(tt.input))
		})
	}
}
