// Package config loads the graphbus service configuration.
//
// A Loader starts from Default, merges every file layer in order and then applies
// environment overrides. Layers may be JSON, YAML or TOML, chosen by extension,
// and only the keys present in a layer replace earlier values:
//
//	loader := config.NewLoader()
//	loader.AddLayer("graphbus.yaml")
//	loader.AddLayer("production.json")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
//
// Duration fields accept Go duration strings plus a day suffix ("250ms", "14d").
//
// # Environment Variable Overrides
//
// Variables named GRAPHBUS_<SECTION>_<FIELD> win over every file:
//
//	export GRAPHBUS_SERVICE_ADDRESS="graph.prod"
//	export GRAPHBUS_BACKEND_DRIVER="sqlite"
//	export GRAPHBUS_NATS_URLS="nats://server1:4222,nats://server2:4222"
//
// # Security
//
// Files are size limited (10MB), must be regular files with a known extension
// and may not escape the working directory through relative paths. JSON layers
// are rejected beyond 100 levels of nesting before they are decoded.
package config
