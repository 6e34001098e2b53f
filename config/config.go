package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/graph/graphson"
	"github.com/c360/graphbus/graph/kvgraph"
	"github.com/c360/graphbus/graph/memgraph"
	"github.com/c360/graphbus/graph/sqlgraph"
	"github.com/c360/graphbus/pkg/tlsutil"
	"github.com/c360/graphbus/querycache"
)

// Backend drivers
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverNATSKV = "nats-kv"
)

// Config represents the complete service configuration
type Config struct {
	Service    ServiceConfig     `json:"service" yaml:"service" toml:"service"`
	Backend    BackendConfig     `json:"backend" yaml:"backend" toml:"backend"`
	QueryCache querycache.Config `json:"query_cache" yaml:"query_cache" toml:"query_cache"`
	NATS       NATSConfig        `json:"nats" yaml:"nats" toml:"nats"`
	HTTP       HTTPConfig        `json:"http" yaml:"http" toml:"http"`
	WebSocket  WebSocketConfig   `json:"websocket" yaml:"websocket" toml:"websocket"`
	Metrics    MetricsConfig     `json:"metrics" yaml:"metrics" toml:"metrics"`
	Tracing    TracingConfig     `json:"tracing" yaml:"tracing" toml:"tracing"`
}

// ServiceConfig identifies the service on the bus
type ServiceConfig struct {
	// Address is the NATS subject commands arrive on
	Address         string        `json:"address" yaml:"address" toml:"address"`
	GraphSONMode    string        `json:"graphson_mode" yaml:"graphson_mode" toml:"graphson_mode"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// Mode returns the parsed GraphSON mode. Call after Validate.
func (s ServiceConfig) Mode() graphson.Mode {
	m, err := graphson.ParseMode(s.GraphSONMode)
	if err != nil {
		return graphson.ModeNormal
	}
	return m
}

// BackendConfig selects and configures the graph backend
type BackendConfig struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"`

	// sqlite
	Path        string        `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
	BusyTimeout time.Duration `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty" toml:"busy_timeout,omitempty"`

	// nats-kv
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty" toml:"bucket,omitempty"`

	// Features are advertised by the memory driver. The sqlite driver honors
	// ignores_supplied_ids only; the others are fixed by the backend.
	Features featuresConfig `json:"features" yaml:"features" toml:"features"`
}

type featuresConfig struct {
	SupportsTransactions bool `json:"supports_transactions" yaml:"supports_transactions" toml:"supports_transactions"`
	IgnoresSuppliedIDs   bool `json:"ignores_supplied_ids" yaml:"ignores_supplied_ids" toml:"ignores_supplied_ids"`
	SupportsKeyIndices   bool `json:"supports_key_indices" yaml:"supports_key_indices" toml:"supports_key_indices"`
}

// Memory returns the memgraph configuration.
func (b BackendConfig) Memory() memgraph.Config {
	cfg := memgraph.DefaultConfig()
	cfg.Features.SupportsTransactions = b.Features.SupportsTransactions
	cfg.Features.IgnoresSuppliedIDs = b.Features.IgnoresSuppliedIDs
	cfg.Features.SupportsKeyIndices = b.Features.SupportsKeyIndices
	return cfg
}

// SQLite returns the sqlgraph configuration.
func (b BackendConfig) SQLite() sqlgraph.Config {
	return sqlgraph.Config{
		Path:              b.Path,
		BusyTimeout:       b.BusyTimeout,
		IgnoreSuppliedIDs: b.Features.IgnoresSuppliedIDs,
	}
}

// KV returns the kvgraph configuration.
func (b BackendConfig) KV() kvgraph.Config {
	return kvgraph.Config{Bucket: b.Bucket}
}

// NATSConfig configures the NATS connection and the NATS gateway
type NATSConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled" toml:"enabled"`
	URLs           []string      `json:"urls" yaml:"urls" toml:"urls"`
	Name           string        `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Username       string        `json:"username,omitempty" yaml:"username,omitempty" toml:"username,omitempty"`
	Password       string        `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"`
	Token          string        `json:"token,omitempty" yaml:"token,omitempty" toml:"token,omitempty"`
	TLS            TLSConfig     `json:"tls" yaml:"tls" toml:"tls"`
	MaxReconnects  int           `json:"max_reconnects" yaml:"max_reconnects" toml:"max_reconnects"`
	ReconnectWait  time.Duration `json:"reconnect_wait" yaml:"reconnect_wait" toml:"reconnect_wait"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" toml:"connect_timeout"`
	PingInterval   time.Duration `json:"ping_interval" yaml:"ping_interval" toml:"ping_interval"`
	DrainTimeout   time.Duration `json:"drain_timeout" yaml:"drain_timeout" toml:"drain_timeout"`

	// Gateway
	QueueGroup    string  `json:"queue_group" yaml:"queue_group" toml:"queue_group"`
	EventsSubject string  `json:"events_subject,omitempty" yaml:"events_subject,omitempty" toml:"events_subject,omitempty"`
	Workers       int     `json:"workers" yaml:"workers" toml:"workers"`
	QueueSize     int     `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
	RateLimit     float64 `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"` // commands per second, 0 disables
	RateBurst     int     `json:"rate_burst" yaml:"rate_burst" toml:"rate_burst"`
}

// TLSConfig holds client certificate files. Empty fields are ignored.
type TLSConfig struct {
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty" toml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty" toml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty" toml:"ca_file,omitempty"`
}

// HTTPConfig configures the HTTP gateway
type HTTPConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr           string        `json:"addr" yaml:"addr" toml:"addr"`
	Path           string        `json:"path" yaml:"path" toml:"path"`
	MaxRequestSize int64         `json:"max_request_size" yaml:"max_request_size" toml:"max_request_size"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`

	TLS tlsutil.ServerConfig `json:"tls" yaml:"tls" toml:"tls"`
}

// WebSocketConfig configures the WebSocket gateway
type WebSocketConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr           string `json:"addr" yaml:"addr" toml:"addr"`
	Path           string `json:"path" yaml:"path" toml:"path"`
	MaxMessageSize int64  `json:"max_message_size" yaml:"max_message_size" toml:"max_message_size"`

	TLS tlsutil.ServerConfig `json:"tls" yaml:"tls" toml:"tls"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Port    int    `json:"port" yaml:"port" toml:"port"`
	Path    string `json:"path" yaml:"path" toml:"path"`
}

// TracingConfig configures OTLP span export
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Insecure    bool    `json:"insecure" yaml:"insecure" toml:"insecure"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio" toml:"sample_ratio"`
}

// Default returns the built-in configuration: an in-memory backend served on
// graphbus.persistor over NATS.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Address:         "graphbus.persistor",
			GraphSONMode:    string(graphson.ModeNormal),
			ShutdownTimeout: 10 * time.Second,
		},
		Backend: BackendConfig{
			Driver:      DriverMemory,
			Path:        sqlgraph.DefaultConfig().Path,
			BusyTimeout: sqlgraph.DefaultConfig().BusyTimeout,
			Bucket:      kvgraph.DefaultConfig().Bucket,
			Features: featuresConfig{
				SupportsTransactions: true,
				SupportsKeyIndices:   true,
			},
		},
		QueryCache: querycache.DefaultConfig(),
		NATS: NATSConfig{
			Enabled:        true,
			URLs:           []string{"nats://localhost:4222"},
			Name:           "graphbus",
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
			ConnectTimeout: 5 * time.Second,
			PingInterval:   30 * time.Second,
			DrainTimeout:   30 * time.Second,
			QueueGroup:     "graphbus",
			Workers:        8,
			QueueSize:      256,
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			Path:           "/graph",
			MaxRequestSize: 1 << 20,
			ReadTimeout:    30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Addr:           ":8081",
			Path:           "/ws",
			MaxMessageSize: 1 << 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4317",
			Insecure:    true,
			SampleRatio: 1,
		},
	}
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	clone := *c
	clone.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	clone.HTTP.TLS = cloneTLS(c.HTTP.TLS)
	clone.WebSocket.TLS = cloneTLS(c.WebSocket.TLS)
	return &clone
}

func cloneTLS(t tlsutil.ServerConfig) tlsutil.ServerConfig {
	if t.ClientCAFiles != nil {
		t.ClientCAFiles = append([]string(nil), t.ClientCAFiles...)
	}
	if t.AllowedClientCNs != nil {
		t.AllowedClientCNs = append([]string(nil), t.AllowedClientCNs...)
	}
	return t
}

// NeedsNATS reports whether any enabled part of the service talks to NATS.
func (c *Config) NeedsNATS() bool {
	return c.NATS.Enabled || c.Backend.Driver == DriverNATSKV
}

// Validate checks the config
func (c *Config) Validate() error {
	if !isValidSubject(c.Service.Address) {
		return invalid("service.address %q is not a valid NATS subject", c.Service.Address)
	}
	if _, err := graphson.ParseMode(c.Service.GraphSONMode); err != nil {
		return invalid("service.graphson_mode: %v", err)
	}
	if c.Service.ShutdownTimeout < 0 {
		return invalid("service.shutdown_timeout must not be negative")
	}

	switch c.Backend.Driver {
	case DriverMemory:
	case DriverSQLite:
		if err := c.Backend.SQLite().Validate(); err != nil {
			return fmt.Errorf("backend: %w", err)
		}
	case DriverNATSKV:
		if err := c.Backend.KV().Validate(); err != nil {
			return fmt.Errorf("backend: %w", err)
		}
	default:
		return invalid("backend.driver %q is not one of %s, %s, %s",
			c.Backend.Driver, DriverMemory, DriverSQLite, DriverNATSKV)
	}

	if err := c.QueryCache.Validate(); err != nil {
		return fmt.Errorf("query_cache: %w", err)
	}

	if c.NeedsNATS() {
		if len(c.NATS.URLs) == 0 {
			return invalid("nats.urls is required")
		}
		for _, u := range c.NATS.URLs {
			if strings.TrimSpace(u) == "" {
				return invalid("nats.urls contains an empty entry")
			}
		}
	}
	if c.NATS.Enabled {
		if c.NATS.Workers < 1 {
			return invalid("nats.workers must be at least 1, got %d", c.NATS.Workers)
		}
		if c.NATS.QueueSize < 1 {
			return invalid("nats.queue_size must be at least 1, got %d", c.NATS.QueueSize)
		}
		if c.NATS.RateLimit < 0 {
			return invalid("nats.rate_limit must not be negative")
		}
		if c.NATS.EventsSubject != "" && !isValidSubject(c.NATS.EventsSubject) {
			return invalid("nats.events_subject %q is not a valid NATS subject", c.NATS.EventsSubject)
		}
	}

	if !c.NATS.Enabled && !c.HTTP.Enabled && !c.WebSocket.Enabled {
		return invalid("at least one of nats, http or websocket must be enabled")
	}
	if c.HTTP.Enabled {
		if c.HTTP.Addr == "" || !strings.HasPrefix(c.HTTP.Path, "/") {
			return invalid("http requires addr and a path starting with /")
		}
		if c.HTTP.MaxRequestSize <= 0 {
			return invalid("http.max_request_size must be positive")
		}
		if err := c.HTTP.TLS.Validate(); err != nil {
			return err
		}
	}
	if c.WebSocket.Enabled {
		if c.WebSocket.Addr == "" || !strings.HasPrefix(c.WebSocket.Path, "/") {
			return invalid("websocket requires addr and a path starting with /")
		}
		if c.WebSocket.MaxMessageSize <= 0 {
			return invalid("websocket.max_message_size must be positive")
		}
		if err := c.WebSocket.TLS.Validate(); err != nil {
			return err
		}
	}
	if c.HTTP.Enabled && c.WebSocket.Enabled && c.HTTP.Addr == c.WebSocket.Addr {
		return invalid("http and websocket cannot share addr %s", c.HTTP.Addr)
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return invalid("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return invalid("tracing.endpoint is required")
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			return invalid("tracing.sample_ratio must be within [0, 1], got %g", c.Tracing.SampleRatio)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "check")
}

// isValidSubject accepts literal subjects: dot separated, non-empty tokens,
// no whitespace and no wildcards.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" || strings.ContainsAny(token, " \t\r\n*>") {
			return false
		}
	}
	return true
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: "GRAPHBUS",
	}
}

// AddLayer adds a configuration file layer. The format follows the extension:
// .json, .yaml/.yml or .toml.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer in order and then the environment.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		if cfg, err = mergeFromMap(cfg, raw); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "merge "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads one layer into a generic map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		err = json.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedInput, err)
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeFromMap overrides only the fields present in the map
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// durationKeys hold time.Duration values and accept strings like "5s" or "1d".
var durationKeys = map[string]bool{
	"shutdown_timeout": true,
	"busy_timeout":     true,
	"reconnect_wait":   true,
	"connect_timeout":  true,
	"ping_interval":    true,
	"drain_timeout":    true,
	"read_timeout":     true,
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	for k, v := range data {
		switch val := v.(type) {
		case map[string]any:
			if err := parseDurations(val); err != nil {
				return err
			}
		case string:
			if !durationKeys[k] {
				continue
			}
			d, err := parseDurationWithDays(val)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, k, err)
			}
			data[k] = d.Nanoseconds()
		}
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

type envOverride struct {
	name  string
	apply func(cfg *Config, val string) error
}

var envOverrides = []envOverride{
	{"SERVICE_ADDRESS", func(c *Config, v string) error { c.Service.Address = v; return nil }},
	{"GRAPHSON_MODE", func(c *Config, v string) error { c.Service.GraphSONMode = v; return nil }},
	{"BACKEND_DRIVER", func(c *Config, v string) error { c.Backend.Driver = v; return nil }},
	{"BACKEND_PATH", func(c *Config, v string) error { c.Backend.Path = v; return nil }},
	{"BACKEND_BUCKET", func(c *Config, v string) error { c.Backend.Bucket = v; return nil }},
	{"QUERY_CACHE_ENABLED", func(c *Config, v string) error { return parseBool(v, &c.QueryCache.Enabled) }},
	{"QUERY_CACHE_MAX_ENTRIES", func(c *Config, v string) error { return parseInt(v, &c.QueryCache.MaxEntries) }},
	{"NATS_ENABLED", func(c *Config, v string) error { return parseBool(v, &c.NATS.Enabled) }},
	{"NATS_URLS", func(c *Config, v string) error { c.NATS.URLs = splitList(v); return nil }},
	{"NATS_USERNAME", func(c *Config, v string) error { c.NATS.Username = v; return nil }},
	{"NATS_PASSWORD", func(c *Config, v string) error { c.NATS.Password = v; return nil }},
	{"NATS_TOKEN", func(c *Config, v string) error { c.NATS.Token = v; return nil }},
	{"NATS_EVENTS_SUBJECT", func(c *Config, v string) error { c.NATS.EventsSubject = v; return nil }},
	{"NATS_WORKERS", func(c *Config, v string) error { return parseInt(v, &c.NATS.Workers) }},
	{"HTTP_ENABLED", func(c *Config, v string) error { return parseBool(v, &c.HTTP.Enabled) }},
	{"HTTP_ADDR", func(c *Config, v string) error { c.HTTP.Addr = v; return nil }},
	{"WEBSOCKET_ENABLED", func(c *Config, v string) error { return parseBool(v, &c.WebSocket.Enabled) }},
	{"WEBSOCKET_ADDR", func(c *Config, v string) error { c.WebSocket.Addr = v; return nil }},
	{"METRICS_ENABLED", func(c *Config, v string) error { return parseBool(v, &c.Metrics.Enabled) }},
	{"METRICS_PORT", func(c *Config, v string) error { return parseInt(v, &c.Metrics.Port) }},
	{"TRACING_ENABLED", func(c *Config, v string) error { return parseBool(v, &c.Tracing.Enabled) }},
	{"TRACING_ENDPOINT", func(c *Config, v string) error { c.Tracing.Endpoint = v; return nil }},
}

// applyEnvOverrides applies <prefix>_<NAME> environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	for _, o := range envOverrides {
		key := l.envPrefix + "_" + o.name
		val := os.Getenv(key)
		if val == "" {
			continue
		}
		if err := validateEnvVar(key, val); err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", key)
		}
		if err := o.apply(cfg, val); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, key, err),
				"Loader", "applyEnvOverrides", key)
		}
	}
	return nil
}

func parseBool(s string, dst *bool) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func parseInt(s string, dst *int) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SaveToFile writes the configuration as indented JSON
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	for _, s := range []*string{&masked.NATS.Password, &masked.NATS.Token} {
		if *s != "" {
			*s = "***"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
