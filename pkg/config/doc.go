// Package config resolves the stockweb runtime configuration.
//
// Values are layered, later sources winning:
//
//  1. Defaults
//  2. An optional YAML file
//  3. STOCKWEB_* environment variables
//  4. Command line flags (Overrides)
//
// The result is validated once with struct tags and is not reloaded at
// runtime.
//
// # Usage Example
//
//	cfg, err := config.Load("stockweb.yaml")
//	if err != nil {
//	    return err
//	}
//	cfg.Apply(config.Overrides{HTTPAddr: &addr})
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//
// # Environment
//
//	STOCKWEB_API_URL             backend base URL
//	STOCKWEB_OTEL_COLLECTOR_URL  OTLP traces endpoint
//	STOCKWEB_OTEL_EXPORTER       otlp-http, otlp-grpc, stdout or none
//	STOCKWEB_SERVICE_NAME        service.name resource attribute
//	STOCKWEB_HTTP_ADDR           listen address of the web server
//	STOCKWEB_DB_PATH             SQLite path, :memory: for a throwaway store
//	STOCKWEB_DEBUG               enables the debug flush endpoint
//	STOCKWEB_LOG_LEVEL           trace, debug, info, warn, error or fatal
package config
