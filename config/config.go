package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/semian/observe"
	"github.com/jonwraymond/semian/resilience"
	"github.com/jonwraymond/semian/secret"
	"github.com/jonwraymond/semian/shm"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SEMIAN"

// DefaultEnvironment is selected when neither the file nor SEMIAN_ENV
// names one.
const DefaultEnvironment = "default"

// Config is the complete semian configuration.
type Config struct {
	// Environment selects the section of Environments that applies.
	Environment string `yaml:"environment"`

	// DefaultKey names the entry used for identifiers without their own.
	DefaultKey string `yaml:"default_key"`

	// Environments maps environment name to identifier to options.
	Environments map[string]map[string]ResourceConfig `yaml:"environments" validate:"dive,dive"`

	Store     StoreConfig           `yaml:"store"`
	Admin     AdminConfig           `yaml:"admin"`
	Logging   observe.LoggingConfig `yaml:"logging"`
	Telemetry TelemetryConfig       `yaml:"telemetry"`
}

// ResourceConfig holds the options for one identifier. Zero fields inherit
// resilience.DefaultOptions.
type ResourceConfig struct {
	Tickets          uint32   `yaml:"tickets"`
	ErrorThreshold   uint32   `yaml:"error_threshold"`
	SuccessThreshold uint32   `yaml:"success_threshold"`
	ErrorTimeout     Duration `yaml:"error_timeout" validate:"gte=0"`

	// Disabled turns protection off for the identifier, overriding the
	// default key.
	Disabled bool `yaml:"disabled"`
}

// Options merges r over resilience.DefaultOptions.
func (r ResourceConfig) Options() resilience.Options {
	o := resilience.DefaultOptions()
	if r.Tickets > 0 {
		o.Tickets = r.Tickets
	}
	if r.ErrorThreshold > 0 {
		o.ErrorThreshold = r.ErrorThreshold
	}
	if r.SuccessThreshold > 0 {
		o.SuccessThreshold = r.SuccessThreshold
	}
	if r.ErrorTimeout > 0 {
		o.ErrorTimeout = r.ErrorTimeout.Std()
	}
	return o
}

// StoreConfig selects where shared state lives.
type StoreConfig struct {
	// Backend is "file" (cross-process) or "memory" (process-local).
	Backend string `yaml:"backend" validate:"oneof=file memory"`

	// Dir holds region files for the file backend.
	// Default: shm.DefaultDir()
	Dir string `yaml:"dir"`
}

// Open opens the configured store.
func (s StoreConfig) Open() (shm.Store, error) {
	switch s.Backend {
	case "memory":
		return shm.NewMemoryStore(), nil
	case "file", "":
		dir := s.Dir
		if dir == "" {
			dir = shm.DefaultDir()
		}
		return shm.NewFileStore(dir)
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, s.Backend)
	}
}

// AdminConfig configures the operator HTTP API.
type AdminConfig struct {
	// Listen is the host:port the admin server binds.
	Listen string `yaml:"listen" validate:"listen_addr"`

	JWT     JWTConfig      `yaml:"jwt"`
	APIKeys []APIKeyConfig `yaml:"api_keys" validate:"dive"`

	// AnonymousRole, when set, is granted to requests without credentials.
	AnonymousRole string `yaml:"anonymous_role" validate:"omitempty,oneof=viewer operator"`
}

// JWTConfig configures bearer-token authentication. An empty Secret
// disables it.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// APIKeyConfig declares one admin API key.
type APIKeyConfig struct {
	ID        string    `yaml:"id" validate:"required"`
	Principal string    `yaml:"principal" validate:"required"`
	Key       string    `yaml:"key" validate:"required"`
	Roles     []string  `yaml:"roles" validate:"dive,oneof=viewer operator"`
	ExpiresAt time.Time `yaml:"expires_at"`
}

// TelemetryConfig configures tracing and metrics export.
type TelemetryConfig struct {
	ServiceName string                `yaml:"service_name"`
	Tracing     observe.TracingConfig `yaml:"tracing"`
	Metrics     observe.MetricsConfig `yaml:"metrics"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Environment: DefaultEnvironment,
		Store: StoreConfig{
			Backend: "file",
		},
		Admin: AdminConfig{
			Listen: "127.0.0.1:9464",
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   "info",
			Format:  "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "semian",
		},
	}
}

// envOverrides are read from SEMIAN_* variables.
type envOverrides struct {
	Env         string `envconfig:"ENV"`
	StateDir    string `envconfig:"STATE_DIR"`
	Store       string `envconfig:"STORE"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	AdminListen string `envconfig:"ADMIN_LISTEN"`
}

// Parse decodes YAML over Default. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

// Load reads path (or only defaults when path is empty), applies SEMIAN_*
// overrides, resolves admin secrets and validates the result. Relative
// secretref:file references resolve against the file's directory.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := Default()
	baseDir := ""
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		baseDir = filepath.Dir(path)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	resolver := secret.NewDefaultResolver(baseDir)
	defer resolver.Close()
	if err := cfg.ResolveSecrets(ctx, resolver); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays SEMIAN_* environment variables.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	if env.Env != "" {
		c.Environment = env.Env
	}
	if env.StateDir != "" {
		c.Store.Dir = env.StateDir
	}
	if env.Store != "" {
		c.Store.Backend = env.Store
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.AdminListen != "" {
		c.Admin.Listen = env.AdminListen
	}
	return nil
}

// ResolveSecrets replaces admin credentials with their resolved values.
func (c *Config) ResolveSecrets(ctx context.Context, r *secret.Resolver) error {
	if c.Admin.JWT.Secret != "" {
		v, err := r.ResolveValue(ctx, c.Admin.JWT.Secret)
		if err != nil {
			return fmt.Errorf("config: admin.jwt.secret: %w", err)
		}
		c.Admin.JWT.Secret = v
	}
	for i := range c.Admin.APIKeys {
		k := &c.Admin.APIKeys[i]
		v, err := r.ResolveValue(ctx, k.Key)
		if err != nil {
			return fmt.Errorf("config: admin.api_keys[%s]: %w", k.ID, err)
		}
		k.Key = v
	}
	return nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("listen_addr", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			if v == "" {
				return true
			}
			_, _, err := net.SplitHostPort(v)
			return err == nil
		})
	})
	return validate
}

// Validate checks field constraints, the selected environment and every
// merged resource option.
func (c *Config) Validate() error {
	if err := configValidator().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	obs := c.ObserveConfig("")
	if err := obs.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	resources, err := c.Resources()
	if err != nil {
		return err
	}
	for _, id := range sortedKeys(resources) {
		if err := resources[id].Options().Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, id, err)
		}
	}
	return nil
}

// Resources returns the identifier table of the selected environment.
// A file without environments yields an empty table.
func (c *Config) Resources() (map[string]ResourceConfig, error) {
	if len(c.Environments) == 0 {
		return map[string]ResourceConfig{}, nil
	}
	resources, ok := c.Environments[c.Environment]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownEnvironment, c.Environment, sortedKeys(c.Environments))
	}
	return resources, nil
}

// Resolver builds a resilience.Resolver over the selected environment.
func (c *Config) Resolver() (resilience.Resolver, error) {
	resources, err := c.Resources()
	if err != nil {
		return nil, err
	}
	return newTableResolver(resources, c.DefaultKey), nil
}

// ObserveConfig assembles the observe.Config for the telemetry and logging
// sections.
func (c *Config) ObserveConfig(version string) observe.Config {
	return observe.Config{
		ServiceName: c.Telemetry.ServiceName,
		Version:     version,
		Tracing:     c.Telemetry.Tracing,
		Metrics:     c.Telemetry.Metrics,
		Logging:     c.Logging,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
