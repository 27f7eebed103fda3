// Package config loads the navigator service configuration: defaults, then an optional
// YAML file, then NAVCORE_* environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/breatheroute/navcore/internal/database"
	"github.com/breatheroute/navcore/internal/detector"
	"github.com/breatheroute/navcore/internal/progress"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// DevSigningKey is the signing key used when none is configured. It must not be used in production.
const DevSigningKey = "local-dev-signing-key-change-in-production"

// Config is the root configuration of the navigator service.
type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	Server       ServerConfig       `yaml:"server"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	Navigation   NavigationConfig   `yaml:"navigation"`
	Engine       EngineConfig       `yaml:"engine"`
	Detector     detector.Options   `yaml:"detector"`
	Progress     progress.Options   `yaml:"progress"`
	Session      SessionConfig      `yaml:"session"`
	Directions   DirectionsConfig   `yaml:"directions"`
	Refresh      RefreshConfig      `yaml:"refresh"`
	Reroute      RerouteConfig      `yaml:"reroute"`
	Analytics    AnalyticsConfig    `yaml:"analytics"`
	Ingest       IngestConfig       `yaml:"ingest"`
	FeatureFlags FeatureFlagsConfig `yaml:"feature_flags"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Environment string `yaml:"environment" validate:"required"`
	LogLevel    string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	// RequestsPerMinute is the per-device rate limit on ingestion endpoints.
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"gt=0"`

	// RequireTLS rejects requests that did not arrive over TLS.
	RequireTLS bool `yaml:"require_tls"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"required_if=Enabled true"`
	// SampleRatio is the share of root traces recorded.
	SampleRatio    float64       `yaml:"sample_ratio" validate:"gte=0,lte=1"`
	MetricInterval time.Duration `yaml:"metric_interval" validate:"gt=0"`
}

// DatabaseConfig configures the optional PostgreSQL connection.
type DatabaseConfig struct {
	Enabled         bool `yaml:"enabled"`
	database.Config `yaml:",inline"`
}

// AuthConfig configures device token verification.
type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	SigningKey string        `yaml:"signing_key" validate:"required_if=Enabled true,omitempty,min=16"`
	Issuer     string        `yaml:"issuer" validate:"required"`
	Audience   string        `yaml:"audience" validate:"required"`
	TokenTTL   time.Duration `yaml:"token_ttl" validate:"gt=0"`
}

// NavigationConfig tunes the pipeline worker.
type NavigationConfig struct {
	TickInterval       time.Duration `yaml:"tick_interval" validate:"gt=0"`
	QueueSize          int           `yaml:"queue_size" validate:"gt=0"`
	LocationQueueSize  int           `yaml:"location_queue_size" validate:"gt=0"`
	OffRouteEnabled    bool          `yaml:"off_route_enabled"`
	FasterRouteEnabled bool          `yaml:"faster_route_enabled"`
}

// EngineConfig tunes the geometric positioning engine.
type EngineConfig struct {
	OffRouteDistance float64       `yaml:"off_route_distance_m" validate:"gt=0"`
	ArrivalDistance  float64       `yaml:"arrival_distance_m" validate:"gt=0"`
	StaleAfter       time.Duration `yaml:"stale_after" validate:"gt=0"`
}

// SessionConfig tunes session telemetry.
type SessionConfig struct {
	ConfirmationWindow time.Duration `yaml:"confirmation_window" validate:"gt=0"`
	LocationBufferSize int           `yaml:"location_buffer_size" validate:"gt=0"`
	MinRerouteDistance float64       `yaml:"min_reroute_distance_m" validate:"gte=0"`
}

// DirectionsConfig configures the directions service client.
type DirectionsConfig struct {
	BaseURL     string        `yaml:"base_url" validate:"required,url"`
	AccessToken string        `yaml:"access_token"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
}

// RefreshConfig configures the route refresh controller.
type RefreshConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
}

// RerouteConfig configures automatic rerouting.
type RerouteConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MinInterval time.Duration `yaml:"min_interval" validate:"gt=0"`
	MinSavings  time.Duration `yaml:"min_savings" validate:"gte=0"`
}

// Analytics sink kinds.
const (
	SinkLog      = "log"
	SinkPubSub   = "pubsub"
	SinkNATS     = "nats"
	SinkPostgres = "postgres"
)

// AnalyticsConfig selects and configures the session event sink.
type AnalyticsConfig struct {
	Sink          string        `yaml:"sink" validate:"oneof=log pubsub nats postgres"`
	QueueSize     int           `yaml:"queue_size" validate:"gt=0"`
	SendTimeout   time.Duration `yaml:"send_timeout" validate:"gt=0"`
	PubSubProject string        `yaml:"pubsub_project" validate:"required_if=Sink pubsub"`
	PubSubTopic   string        `yaml:"pubsub_topic" validate:"required_if=Sink pubsub"`
	NATSURL       string        `yaml:"nats_url" validate:"required_if=Sink nats"`
	NATSStream    string        `yaml:"nats_stream"`
	// LogEvents also writes every event to the log when a remote sink is selected.
	LogEvents bool `yaml:"log_events"`
}

// IngestConfig configures the Pub/Sub location subscriber.
type IngestConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Project        string `yaml:"project" validate:"required_if=Enabled true"`
	Subscription   string `yaml:"subscription" validate:"required_if=Enabled true"`
	MaxOutstanding int    `yaml:"max_outstanding" validate:"gt=0"`
}

// Feature flag sources.
const (
	FlagsMemory   = "memory"
	FlagsPostgres = "postgres"
)

// FeatureFlagsConfig configures the feature flag service.
type FeatureFlagsConfig struct {
	Source   string        `yaml:"source" validate:"oneof=memory postgres"`
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Name:        "navcore",
			Environment: "development",
			LogLevel:    "info",
		},
		Server: ServerConfig{
			Port:              8080,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			RequestsPerMinute: 600,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:   "localhost:4317",
			SampleRatio:    1,
			MetricInterval: 15 * time.Second,
		},
		Database:  DatabaseConfig{Config: database.DefaultConfig()},
		Auth: AuthConfig{
			SigningKey: DevSigningKey,
			Issuer:     "navcore",
			Audience:   "navcore-devices",
			TokenTTL:   12 * time.Hour,
		},
		Navigation: NavigationConfig{
			TickInterval:       time.Second,
			QueueSize:          64,
			LocationQueueSize:  16,
			OffRouteEnabled:    true,
			FasterRouteEnabled: true,
		},
		Engine: EngineConfig{
			OffRouteDistance: 50,
			ArrivalDistance:  10,
			StaleAfter:       5 * time.Second,
		},
		Detector: detector.Options{}.WithDefaults(),
		Progress: progress.Options{}.WithDefaults(),
		Session: SessionConfig{
			ConfirmationWindow: 20 * time.Second,
			LocationBufferSize: 20,
			MinRerouteDistance: 50,
		},
		Directions: DirectionsConfig{
			BaseURL: "https://api.mapbox.com",
			Timeout: 10 * time.Second,
		},
		Refresh: RefreshConfig{
			Enabled:  true,
			Interval: 5 * time.Minute,
			Timeout:  30 * time.Second,
		},
		Reroute: RerouteConfig{
			Enabled:     true,
			MinInterval: 5 * time.Second,
			MinSavings:  time.Minute,
		},
		Analytics: AnalyticsConfig{
			Sink:        SinkLog,
			QueueSize:   256,
			SendTimeout: 10 * time.Second,
		},
		Ingest: IngestConfig{MaxOutstanding: 100},
		FeatureFlags: FeatureFlagsConfig{
			Source:   FlagsMemory,
			CacheTTL: time.Minute,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped when path
// is empty) and the process environment.
func Load(path string) (Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and the rules that span sections.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Analytics.Sink == SinkPostgres && !c.Database.Enabled {
		return fmt.Errorf("%w: analytics sink postgres requires database.enabled", ErrInvalid)
	}
	if c.FeatureFlags.Source == FlagsPostgres && !c.Database.Enabled {
		return fmt.Errorf("%w: feature_flags source postgres requires database.enabled", ErrInvalid)
	}
	return nil
}

// envOverride maps one NAVCORE_* variable onto the configuration.
type envOverride struct {
	key   string
	apply func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"NAVCORE_ENV", setString(func(c *Config) *string { return &c.Service.Environment })},
	{"NAVCORE_LOG_LEVEL", setString(func(c *Config) *string { return &c.Service.LogLevel })},
	{"NAVCORE_PORT", setInt(func(c *Config) *int { return &c.Server.Port })},
	{"NAVCORE_REQUIRE_TLS", setBool(func(c *Config) *bool { return &c.Server.RequireTLS })},
	{"NAVCORE_OTEL_ENABLED", setBool(func(c *Config) *bool { return &c.Telemetry.Enabled })},
	{"NAVCORE_OTEL_ENDPOINT", setString(func(c *Config) *string { return &c.Telemetry.OTLPEndpoint })},
	{"NAVCORE_OTEL_SAMPLE_RATIO", setFloat(func(c *Config) *float64 { return &c.Telemetry.SampleRatio })},
	{"NAVCORE_DB_ENABLED", setBool(func(c *Config) *bool { return &c.Database.Enabled })},
	{"NAVCORE_DB_HOST", setString(func(c *Config) *string { return &c.Database.Host })},
	{"NAVCORE_DB_PORT", setInt(func(c *Config) *int { return &c.Database.Port })},
	{"NAVCORE_DB_USER", setString(func(c *Config) *string { return &c.Database.User })},
	{"NAVCORE_DB_PASSWORD", setString(func(c *Config) *string { return &c.Database.Password })},
	{"NAVCORE_DB_NAME", setString(func(c *Config) *string { return &c.Database.Database })},
	{"NAVCORE_DB_SSL_MODE", setString(func(c *Config) *string { return &c.Database.SSLMode })},
	{"NAVCORE_AUTH_ENABLED", setBool(func(c *Config) *bool { return &c.Auth.Enabled })},
	{"NAVCORE_JWT_SIGNING_KEY", setString(func(c *Config) *string { return &c.Auth.SigningKey })},
	{"NAVCORE_DIRECTIONS_URL", setString(func(c *Config) *string { return &c.Directions.BaseURL })},
	{"NAVCORE_DIRECTIONS_TOKEN", setString(func(c *Config) *string { return &c.Directions.AccessToken })},
	{"NAVCORE_REFRESH_ENABLED", setBool(func(c *Config) *bool { return &c.Refresh.Enabled })},
	{"NAVCORE_REFRESH_INTERVAL", setDuration(func(c *Config) *time.Duration { return &c.Refresh.Interval })},
	{"NAVCORE_REROUTE_ENABLED", setBool(func(c *Config) *bool { return &c.Reroute.Enabled })},
	{"NAVCORE_ANALYTICS_SINK", setString(func(c *Config) *string { return &c.Analytics.Sink })},
	{"NAVCORE_PUBSUB_PROJECT", setString(func(c *Config) *string { return &c.Analytics.PubSubProject })},
	{"NAVCORE_PUBSUB_TOPIC", setString(func(c *Config) *string { return &c.Analytics.PubSubTopic })},
	{"NAVCORE_NATS_URL", setString(func(c *Config) *string { return &c.Analytics.NATSURL })},
	{"NAVCORE_ANALYTICS_LOG_EVENTS", setBool(func(c *Config) *bool { return &c.Analytics.LogEvents })},
	{"NAVCORE_INGEST_ENABLED", setBool(func(c *Config) *bool { return &c.Ingest.Enabled })},
	{"NAVCORE_INGEST_PROJECT", setString(func(c *Config) *string { return &c.Ingest.Project })},
	{"NAVCORE_INGEST_SUBSCRIPTION", setString(func(c *Config) *string { return &c.Ingest.Subscription })},
	{"NAVCORE_FEATURE_FLAGS_SOURCE", setString(func(c *Config) *string { return &c.FeatureFlags.Source })},
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		v, ok := lookup(o.key)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, o.key, err)
		}
	}
	return nil
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setFloat(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func setDuration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}
