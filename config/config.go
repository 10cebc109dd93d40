// Package config provides layered configuration for the treasury service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that accepts human-readable strings
// ("30s", "5m") in YAML and environment variables.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, perr := time.ParseDuration(raw)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(ns)
	return nil
}

// UnmarshalText supports environment variable overrides.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds the full treasury service configuration.
type Config struct {
	Funding FundingConfig `yaml:"funding"`
	NATS    NATSConfig    `yaml:"nats"`
	Gateway GatewayConfig `yaml:"gateway"`
	Policy  PolicyConfig  `yaml:"policy"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// FundingConfig bounds disbursement amounts and reconciliation timing.
type FundingConfig struct {
	MinAmount     decimal.Decimal `yaml:"min_amount" env:"TREASURY_FUNDING_MIN"`
	MaxAmount     decimal.Decimal `yaml:"max_amount" env:"TREASURY_FUNDING_MAX"`
	Timeout       Duration        `yaml:"timeout" env:"TREASURY_FUNDING_TIMEOUT"`
	SweepInterval Duration        `yaml:"sweep_interval" env:"TREASURY_SWEEP_INTERVAL"`
}

// NATSConfig configures the messaging layer.
type NATSConfig struct {
	URL    string `yaml:"url" env:"TREASURY_NATS_URL"`
	Stream string `yaml:"stream" env:"TREASURY_NATS_STREAM"`
}

// GatewayConfig configures the ledger gateway client.
type GatewayConfig struct {
	URL            string   `yaml:"url" env:"TREASURY_GATEWAY_URL"`
	RequestTimeout Duration `yaml:"request_timeout" env:"TREASURY_GATEWAY_TIMEOUT"`
}

// PolicyConfig locates the disbursement policy tables.
type PolicyConfig struct {
	TablePath string `yaml:"table_path" env:"TREASURY_POLICY_TABLES"`
	Watch     bool   `yaml:"watch" env:"TREASURY_POLICY_WATCH"`
}

// HTTPConfig configures the admin HTTP surface.
type HTTPConfig struct {
	Port int `yaml:"port" env:"TREASURY_HTTP_PORT"`
}

// DefaultConfig returns the built-in configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Funding: FundingConfig{
			MinAmount:     decimal.RequireFromString("0.01"),
			MaxAmount:     decimal.RequireFromString("2.0"),
			Timeout:       Duration(5 * time.Minute),
			SweepInterval: Duration(2 * time.Second),
		},
		NATS: NATSConfig{
			URL:    "nats://localhost:4222",
			Stream: "FUND",
		},
		Gateway: GatewayConfig{
			URL:            "http://localhost:9620",
			RequestTimeout: Duration(10 * time.Second),
		},
		Policy: PolicyConfig{
			TablePath: "",
			Watch:     false,
		},
		HTTP: HTTPConfig{
			Port: 8080,
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Funding.MinAmount.IsNegative() || c.Funding.MinAmount.IsZero() {
		return fmt.Errorf("funding.min_amount must be positive, got %s", c.Funding.MinAmount)
	}
	if c.Funding.MaxAmount.LessThan(c.Funding.MinAmount) {
		return fmt.Errorf("funding.max_amount %s is below funding.min_amount %s",
			c.Funding.MaxAmount, c.Funding.MinAmount)
	}
	if c.Funding.Timeout <= 0 {
		return fmt.Errorf("funding.timeout must be positive, got %s", c.Funding.Timeout)
	}
	if c.Funding.SweepInterval <= 0 {
		return fmt.Errorf("funding.sweep_interval must be positive, got %s", c.Funding.SweepInterval)
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.NATS.Stream == "" {
		return fmt.Errorf("nats.stream is required")
	}
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if c.Gateway.RequestTimeout <= 0 {
		return fmt.Errorf("gateway.request_timeout must be positive, got %s", c.Gateway.RequestTimeout)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be in 1-65535, got %d", c.HTTP.Port)
	}
	return nil
}

// LoadFromFile reads a YAML config file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveToFile writes the configuration as YAML, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Merge overlays non-zero values from other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if !other.Funding.MinAmount.IsZero() {
		c.Funding.MinAmount = other.Funding.MinAmount
	}
	if !other.Funding.MaxAmount.IsZero() {
		c.Funding.MaxAmount = other.Funding.MaxAmount
	}
	if other.Funding.Timeout != 0 {
		c.Funding.Timeout = other.Funding.Timeout
	}
	if other.Funding.SweepInterval != 0 {
		c.Funding.SweepInterval = other.Funding.SweepInterval
	}
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Stream != "" {
		c.NATS.Stream = other.NATS.Stream
	}
	if other.Gateway.URL != "" {
		c.Gateway.URL = other.Gateway.URL
	}
	if other.Gateway.RequestTimeout != 0 {
		c.Gateway.RequestTimeout = other.Gateway.RequestTimeout
	}
	if other.Policy.TablePath != "" {
		c.Policy.TablePath = other.Policy.TablePath
	}
	if other.Policy.Watch {
		c.Policy.Watch = true
	}
	if other.HTTP.Port != 0 {
		c.HTTP.Port = other.HTTP.Port
	}
}
