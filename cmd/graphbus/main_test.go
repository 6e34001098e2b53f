package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/graphbus/config"
	"github.com/c360/graphbus/graph/memgraph"
	"github.com/c360/graphbus/graph/sqlgraph"
	"github.com/c360/graphbus/metric"
	"github.com/c360/graphbus/testutil"
)

func TestParseFlags(t *testing.T) {
	t.Setenv("GRAPHBUS_LOG_LEVEL", "warn")
	t.Setenv("GRAPHBUS_LOG_FORMAT", "text")

	cfg, err := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.ConfigPath)

	cfg, err = parseFlags(flag.NewFlagSet("test", flag.ContinueOnError),
		[]string{"-debug", "-c", "graphbus.yaml", "-validate"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "graphbus.yaml", cfg.ConfigPath)
	assert.True(t, cfg.Validate)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(&bytes.Buffer{})
	_, err = parseFlags(fs, []string{"-bogus"})
	assert.Error(t, err)
}

func TestValidateFlags(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "graphbus.json")
	require.NoError(t, os.WriteFile(existing, []byte(`{}`), 0o600))

	tests := []struct {
		name    string
		cfg     CLIConfig
		wantErr bool
	}{
		{"defaults", CLIConfig{LogLevel: "info", LogFormat: "json"}, false},
		{"existing config", CLIConfig{ConfigPath: existing, LogLevel: "info", LogFormat: "json"}, false},
		{"missing config", CLIConfig{ConfigPath: "/nope/graphbus.json", LogLevel: "info", LogFormat: "json"}, true},
		{"bad level", CLIConfig{LogLevel: "trace", LogFormat: "json"}, true},
		{"bad format", CLIConfig{LogLevel: "info", LogFormat: "xml"}, true},
		{"version skips checks", CLIConfig{ShowVersion: true, LogLevel: "trace"}, false},
		{"init skips checks", CLIConfig{InitConfig: "out.json", LogFormat: "xml"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "info", "text")
	logger.Debug("hidden")
	logger.Info("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "service=graphbus")

	buf.Reset()
	setupLogger(&buf, "debug", "json").Debug("detail")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "detail", entry["msg"])
	assert.Contains(t, entry, slog.SourceKey)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.DriverMemory, cfg.Backend.Driver)

	path := filepath.Join(t.TempDir(), "graphbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  driver: sqlite\n  path: graph.db\n"), 0o600))
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DriverSQLite, cfg.Backend.Driver)

	require.NoError(t, os.WriteFile(path, []byte("backend:\n  driver: oracle\n"), 0o600))
	_, err = loadConfig(path)
	assert.Error(t, err)
}

func TestRun_InitConfigThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphbus.json")

	require.NoError(t, run([]string{"-init-config", path}))
	require.FileExists(t, path)
	assert.NoError(t, run([]string{"-config", path, "-validate", "-log-format", "text"}))
	assert.NoError(t, run([]string{"-version"}))
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	t.Run("memory", func(t *testing.T) {
		opener, closeFn, err := openBackend(ctx, config.Default().Backend, nil, logger)
		require.NoError(t, err)
		assert.IsType(t, &memgraph.Store{}, opener)
		assert.NoError(t, closeFn())
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.Default().Backend
		cfg.Driver = config.DriverSQLite
		cfg.Path = filepath.Join(t.TempDir(), "graph.db")

		opener, closeFn, err := openBackend(ctx, cfg, nil, logger)
		require.NoError(t, err)
		assert.IsType(t, &sqlgraph.Store{}, opener)
		g, err := opener.Open(ctx)
		require.NoError(t, err)
		require.NoError(t, g.Shutdown(ctx))
		assert.NoError(t, closeFn())
	})

	t.Run("kv without nats", func(t *testing.T) {
		cfg := config.Default().Backend
		cfg.Driver = config.DriverNATSKV
		_, closeFn, err := openBackend(ctx, cfg, nil, logger)
		assert.Error(t, err)
		assert.NotNil(t, closeFn)
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := config.Default().Backend
		cfg.Driver = "oracle"
		_, _, err := openBackend(ctx, cfg, nil, logger)
		assert.Error(t, err)
	})
}

func TestBuildGateways(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Enabled = true
	cfg.WebSocket.Enabled = true
	registry := metric.NewMetricsRegistry()
	tracer, _, err := setupTracing(context.Background(), cfg.Tracing)
	require.NoError(t, err)

	d, closeQueries, err := newDispatcher(cfg, memgraph.New(cfg.Backend.Memory()), nil, tracer, registry, slog.Default())
	require.NoError(t, err)
	defer func() { _ = closeQueries() }()

	gateways, err := buildGateways(cfg, d, testutil.NewBus(), registry, slog.Default())
	require.NoError(t, err)
	names := make([]string, 0, len(gateways))
	for _, gw := range gateways {
		names = append(names, gw.Name())
	}
	assert.Equal(t, []string{"nats", "http", "websocket"}, names)

	// the HTTP gateway answers through the wired dispatcher
	h, ok := gateways[1].(http.Handler)
	require.True(t, ok)
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"action":"addVertex","vertices":[{"_id":"v1"}]}`)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, cfg.HTTP.Path, body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","_id":"v1"}`, rec.Body.String())

	cfg.NATS.Enabled = false
	cfg.WebSocket.Enabled = false
	gateways, err = buildGateways(cfg, d, nil, registry, slog.Default())
	require.NoError(t, err)
	require.Len(t, gateways, 1)
	assert.Equal(t, "http", gateways[0].Name())
}

func TestSetupTracing_Disabled(t *testing.T) {
	tracer, flush, err := setupTracing(context.Background(), config.TracingConfig{})
	require.NoError(t, err)
	_, span := tracer.Start(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid())
	assert.NoError(t, flush(context.Background()))
}
