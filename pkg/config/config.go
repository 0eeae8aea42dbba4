package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stocktracker/stockweb/pkg/telemetry"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "STOCKWEB_"

// Config is the resolved stockweb configuration.
type Config struct {
	// APIURL is the base URL of the stock backend.
	APIURL string `yaml:"api_url" env:"API_URL" validate:"required,url"`

	// HTTPAddr is the listen address of the web server.
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR" validate:"required"`

	// DBPath is the SQLite database holding watch lists.
	DBPath string `yaml:"db_path" env:"DB_PATH" validate:"required"`

	// Debug enables the trace flush endpoint.
	Debug bool `yaml:"debug" env:"DEBUG"`

	// FlushAfterAction flushes spans in the background after each page action.
	FlushAfterAction bool `yaml:"flush_after_action" env:"FLUSH_AFTER_ACTION"`

	// EventLog forwards page action events to {APIURL}/log-event.
	EventLog bool `yaml:"event_log" env:"EVENT_LOG"`

	// TemplateDir overrides the embedded templates and is watched for changes.
	TemplateDir string `yaml:"template_dir" env:"TEMPLATE_DIR" validate:"omitempty,dir"`

	ServiceName    string `yaml:"service_name" env:"SERVICE_NAME" validate:"required"`
	ServiceVersion string `yaml:"service_version" env:"SERVICE_VERSION" validate:"required"`
	Environment    string `yaml:"environment" env:"ENVIRONMENT" validate:"oneof=development staging production"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`

	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
	OTel    OTelConfig    `yaml:"otel" envPrefix:"OTEL_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=console json"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// OTelConfig configures span export.
type OTelConfig struct {
	CollectorURL string  `yaml:"collector_url" env:"COLLECTOR_URL" validate:"omitempty,url"`
	Exporter     string  `yaml:"exporter" env:"EXPORTER" validate:"oneof=otlp-http otlp-grpc stdout none"`
	SamplingRate float64 `yaml:"sampling_rate" env:"SAMPLING_RATE" validate:"gte=0,lte=1"`
	Insecure     bool    `yaml:"insecure" env:"INSECURE"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR" validate:"required_if=Enabled true"`
}

// Overrides carries command line flags. Nil fields leave the value alone.
type Overrides struct {
	APIURL       *string
	HTTPAddr     *string
	DBPath       *string
	CollectorURL *string
	Exporter     *string
	ServiceName  *string
	Debug        *bool
	LogLevel     *string
	TemplateDir  *string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		APIURL:          "http://localhost:8080",
		HTTPAddr:        ":3000",
		DBPath:          "stockweb.db",
		EventLog:        true,
		ServiceName:     "stock-frontend",
		ServiceVersion:  "dev",
		Environment:     "development",
		ShutdownTimeout: 5 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		OTel: OTelConfig{
			CollectorURL: telemetry.DefaultCollectorURL,
			Exporter:     telemetry.ExporterOTLPHTTP,
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":2222",
		},
	}
}

// Load resolves defaults, the YAML file at path (skipped when empty) and
// the environment. It does not validate; call Validate after Apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Apply copies every set override into c.
func (c *Config) Apply(o Overrides) {
	setString(&c.APIURL, o.APIURL)
	setString(&c.HTTPAddr, o.HTTPAddr)
	setString(&c.DBPath, o.DBPath)
	setString(&c.OTel.CollectorURL, o.CollectorURL)
	setString(&c.OTel.Exporter, o.Exporter)
	setString(&c.ServiceName, o.ServiceName)
	setString(&c.Log.Level, o.LogLevel)
	setString(&c.TemplateDir, o.TemplateDir)
	if o.Debug != nil {
		c.Debug = *o.Debug
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the rules spanning several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.OTel.Exporter == telemetry.ExporterOTLPHTTP || c.OTel.Exporter == telemetry.ExporterOTLPGRPC {
		if c.OTel.CollectorURL == "" {
			return fmt.Errorf("invalid configuration: otel.collector_url is required for exporter %s", c.OTel.Exporter)
		}
	}
	if c.OTel.Exporter == telemetry.ExporterOTLPHTTP {
		if _, err := telemetry.CollectorEndpoint(c.OTel.CollectorURL); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	return nil
}

// Telemetry builds the telemetry configuration.
func (c *Config) Telemetry() *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if c.Environment == "production" {
		tc = telemetry.ProductionConfig()
	}

	tc.ServiceName = c.ServiceName
	tc.ServiceVersion = c.ServiceVersion
	tc.Environment = c.Environment

	tc.Logging.Level = c.Log.Level
	tc.Logging.Format = c.Log.Format
	tc.Logging.Output = c.Log.Output
	tc.Logging.EnableCaller = c.Debug

	tc.Tracing.Exporter = c.OTel.Exporter
	tc.Tracing.CollectorURL = c.OTel.CollectorURL
	tc.Tracing.SamplingRate = c.OTel.SamplingRate
	tc.Tracing.Insecure = c.OTel.Insecure
	tc.Tracing.Enabled = c.OTel.Exporter != telemetry.ExporterNone

	tc.Metrics.Enabled = c.Metrics.Enabled
	tc.Metrics.ListenAddress = c.Metrics.Addr

	return tc
}
