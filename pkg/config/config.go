// Package config loads and validates the acsmail configuration with the
// precedence ENV > file > defaults.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Auth mode values accepted by AuthConfig.Mode.
const (
	AuthModeSharedKey        = "shared_key"
	AuthModeServicePrincipal = "service_principal"
)

// Config is the root configuration for the client and its CLI.
type Config struct {
	Service ServiceConfig `mapstructure:"service" yaml:"service"`
	Email   EmailConfig   `mapstructure:"email" yaml:"email"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// ServiceConfig identifies the embedding application.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// EmailConfig configures the email client connection.
type EmailConfig struct {
	// ConnectionString carries the endpoint and access key in one value.
	// When set it wins over Endpoint and AccessKey.
	ConnectionString string `mapstructure:"connection_string" yaml:"connection_string"`
	Endpoint         string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey        string `mapstructure:"access_key" yaml:"access_key"`

	APIVersion        string        `mapstructure:"api_version" yaml:"api_version"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	RequestBurst      int           `mapstructure:"request_burst" yaml:"request_burst"`

	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`
	Poll PollConfig `mapstructure:"poll" yaml:"poll"`
}

// AuthConfig selects and configures the credential.
type AuthConfig struct {
	// Mode is "shared_key" or "service_principal".
	Mode          string `mapstructure:"mode" yaml:"mode"`
	TenantID      string `mapstructure:"tenant_id" yaml:"tenant_id"`
	ClientID      string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret  string `mapstructure:"client_secret" yaml:"client_secret"`
	AuthorityHost string `mapstructure:"authority_host" yaml:"authority_host"`
	Scope         string `mapstructure:"scope" yaml:"scope"`
}

// PollConfig controls status polling of tracked send operations.
type PollConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// DefaultConfig returns the built-in defaults. Connection settings have no
// default; they must come from the environment or a config file.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "acsmail",
			Environment: "development",
		},
		Email: EmailConfig{
			APIVersion:       "2023-03-31",
			OperationTimeout: 30 * time.Second,
			Auth: AuthConfig{
				Mode: AuthModeSharedKey,
			},
			Poll: PollConfig{
				InitialInterval: 2 * time.Second,
				MaxInterval:     30 * time.Second,
				Timeout:         5 * time.Minute,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:    false,
			SampleRate: 1.0,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Email.Auth.Mode {
	case AuthModeSharedKey:
		if c.Email.ConnectionString == "" {
			if c.Email.Endpoint == "" {
				return fmt.Errorf("email.endpoint is required when no connection string is set")
			}
			if c.Email.AccessKey == "" {
				return fmt.Errorf("email.access_key is required when no connection string is set")
			}
		}
	case AuthModeServicePrincipal:
		if c.Email.Endpoint == "" {
			return fmt.Errorf("email.endpoint is required for service principal auth")
		}
		if c.Email.Auth.TenantID == "" {
			return fmt.Errorf("email.auth.tenant_id is required for service principal auth")
		}
		if c.Email.Auth.ClientID == "" {
			return fmt.Errorf("email.auth.client_id is required for service principal auth")
		}
		if c.Email.Auth.ClientSecret == "" {
			return fmt.Errorf("email.auth.client_secret is required for service principal auth")
		}
	default:
		return fmt.Errorf("email.auth.mode must be %q or %q", AuthModeSharedKey, AuthModeServicePrincipal)
	}

	if c.Email.OperationTimeout < 0 {
		return fmt.Errorf("email.operation_timeout must not be negative")
	}
	if c.Email.RequestsPerSecond < 0 {
		return fmt.Errorf("email.requests_per_second must not be negative")
	}
	if c.Email.RequestBurst < 0 {
		return fmt.Errorf("email.request_burst must not be negative")
	}
	if c.Email.Poll.InitialInterval < 0 || c.Email.Poll.MaxInterval < 0 || c.Email.Poll.Timeout < 0 {
		return fmt.Errorf("email.poll intervals must not be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text")
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
		}
	}

	return nil
}

// Redacted returns a copy with credential material masked for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Email.ConnectionString = maskSecret(c.Email.ConnectionString)
	out.Email.AccessKey = maskSecret(c.Email.AccessKey)
	out.Email.Auth.ClientSecret = maskSecret(c.Email.Auth.ClientSecret)
	return &out
}

func maskSecret(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "********"
}
