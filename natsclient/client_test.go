package natsclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphbus/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestNewClient_RejectsBadOption(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(0))
	require.Error(t, err)
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithMaxBackoff(10*time.Second))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	for i := 0; i < 50; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 10*time.Second, client.Backoff())
}

func TestConnect_CircuitOpenFailsFast(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		client.recordFailure()
	}

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestConnect_CancelledContext(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1", WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, int32(1), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestOperations_NotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, client.Publish(ctx, "a", nil), ErrNotConnected)
	assert.ErrorIs(t, client.QueueSubscribe(ctx, "a", "q", func(context.Context, Msg) {}), ErrNotConnected)
	_, err = client.Request(ctx, "a", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "b"})
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = client.GetKeyValueBucket(ctx, "b")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))
	assert.ErrorIs(t, client.Connect(context.Background()), ErrClientClosed)
}

func TestWaitForConnection_Timeout(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = client.WaitForConnection(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConnectionOptions(t *testing.T) {
	base, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	full, err := NewClient("nats://localhost:4222",
		WithCredentials("user", "pass"),
		WithToken("token"),
		WithTLS("cert.pem", "key.pem", "ca.pem"),
		WithName("graphbus"),
	)
	require.NoError(t, err)

	// credentials, token, client cert, root CA and name
	assert.Len(t, full.ConnectionOptions(), len(base.ConnectionOptions())+5)
}

func TestMetrics_TrackStatus(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	client, err := NewClient("nats://localhost:4222", WithMetrics(registry))
	require.NoError(t, err)
	core := registry.CoreMetrics()

	client.setStatus(StatusConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSConnected))

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(core.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSCircuitBreaker))

	client.handleReconnect(nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSReconnects))
	assert.Equal(t, 0.0, testutil.ToFloat64(core.NATSCircuitBreaker))
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	logger.Infof("hello %s", "world")
	logger.Debugf("hidden %d", 1)
	logger.Errorf("failed: %v", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "component=natsclient")
	assert.Contains(t, out, "failed: boom")
	assert.NotContains(t, out, "hidden")
}

func TestKVErrorHelpers(t *testing.T) {
	tests := []struct {
		err      error
		notFound bool
		conflict bool
	}{
		{nil, false, false},
		{ErrKVKeyNotFound, true, false},
		{jetstream.ErrKeyNotFound, true, false},
		{jetstream.ErrKeyDeleted, true, false},
		{fmt.Errorf("wrapped: %w", ErrKVKeyNotFound), true, false},
		{ErrKVKeyExists, false, true},
		{ErrKVRevisionMismatch, false, true},
		{jetstream.ErrKeyExists, false, true},
		{errors.New("nats: wrong last sequence: 4"), false, true},
		{errors.New("something else"), false, false},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, IsKVNotFoundError(tt.err))
			assert.Equal(t, tt.conflict, IsKVConflictError(tt.err))
		})
	}
}

func TestDefaultKVOptions(t *testing.T) {
	opts := DefaultKVOptions()
	assert.Equal(t, 7, opts.MaxRetries)
	assert.Equal(t, 1024*1024, opts.MaxValueSize)
	assert.Positive(t, opts.RetryDelay)
	assert.GreaterOrEqual(t, opts.MaxRetryDelay, opts.RetryDelay)
}
