package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration.
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management.
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

// NewViperLoader creates a new ViperLoader.
// configFile: path to a configuration file (optional, can be empty).
// envPrefix: prefix for environment variables (e.g. "ACSMAIL").
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithFlags registers a command flag set whose changed flags override the
// loaded configuration.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// Load loads configuration with precedence: flags > ENV > file > defaults.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	l.setDefaults(v, defaults)

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	// Environment variables override file config through explicit bindings.
	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	l.applyFlagOverrides(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the loaded configuration.
func (l *ViperLoader) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	return cfg.Validate()
}

// bindEnvVars explicitly binds environment variables for nested structs.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	// Service
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// Email connection
	v.BindEnv("email.connection_string", l.prefixedEnv("EMAIL_CONNECTION_STRING"), l.prefixedEnv("CONNECTION_STRING"))
	v.BindEnv("email.endpoint", l.prefixedEnv("EMAIL_ENDPOINT"))
	v.BindEnv("email.access_key", l.prefixedEnv("EMAIL_ACCESS_KEY"))
	v.BindEnv("email.api_version", l.prefixedEnv("EMAIL_API_VERSION"))
	v.BindEnv("email.operation_timeout", l.prefixedEnv("EMAIL_OPERATION_TIMEOUT"))
	v.BindEnv("email.requests_per_second", l.prefixedEnv("EMAIL_REQUESTS_PER_SECOND"))
	v.BindEnv("email.request_burst", l.prefixedEnv("EMAIL_REQUEST_BURST"))

	// Auth
	v.BindEnv("email.auth.mode", l.prefixedEnv("AUTH_MODE"))
	v.BindEnv("email.auth.tenant_id", l.prefixedEnv("AUTH_TENANT_ID"))
	v.BindEnv("email.auth.client_id", l.prefixedEnv("AUTH_CLIENT_ID"))
	v.BindEnv("email.auth.client_secret", l.prefixedEnv("AUTH_CLIENT_SECRET"))
	v.BindEnv("email.auth.authority_host", l.prefixedEnv("AUTH_AUTHORITY_HOST"))
	v.BindEnv("email.auth.scope", l.prefixedEnv("AUTH_SCOPE"))

	// Poll
	v.BindEnv("email.poll.initial_interval", l.prefixedEnv("POLL_INITIAL_INTERVAL"))
	v.BindEnv("email.poll.max_interval", l.prefixedEnv("POLL_MAX_INTERVAL"))
	v.BindEnv("email.poll.timeout", l.prefixedEnv("POLL_TIMEOUT"))

	// Log
	v.BindEnv("log.level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("log.format", l.prefixedEnv("LOG_FORMAT"))

	// Tracing
	v.BindEnv("tracing.enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("tracing.endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
	v.BindEnv("tracing.sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
}

// flagKeys maps command flag names to the configuration keys they override.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
}

// applyFlagOverrides sets configuration keys from flags the user changed on
// the command line. Unchanged flags never shadow file or environment values.
func (l *ViperLoader) applyFlagOverrides(v *viper.Viper) {
	if l.flags == nil {
		return
	}
	for name, key := range flagKeys {
		flag := l.flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		v.Set(key, flag.Value.String())
	}
}

// setDefaults registers defaults so Unmarshal sees a complete tree even
// when neither the file nor the environment provides a value.
func (l *ViperLoader) setDefaults(v *viper.Viper, defaults *Config) {
	v.SetDefault("service.name", defaults.Service.Name)
	v.SetDefault("service.environment", defaults.Service.Environment)

	v.SetDefault("email.connection_string", defaults.Email.ConnectionString)
	v.SetDefault("email.endpoint", defaults.Email.Endpoint)
	v.SetDefault("email.access_key", defaults.Email.AccessKey)
	v.SetDefault("email.api_version", defaults.Email.APIVersion)
	v.SetDefault("email.operation_timeout", defaults.Email.OperationTimeout)
	v.SetDefault("email.requests_per_second", defaults.Email.RequestsPerSecond)
	v.SetDefault("email.request_burst", defaults.Email.RequestBurst)

	v.SetDefault("email.auth.mode", defaults.Email.Auth.Mode)
	v.SetDefault("email.auth.tenant_id", defaults.Email.Auth.TenantID)
	v.SetDefault("email.auth.client_id", defaults.Email.Auth.ClientID)
	v.SetDefault("email.auth.client_secret", defaults.Email.Auth.ClientSecret)
	v.SetDefault("email.auth.authority_host", defaults.Email.Auth.AuthorityHost)
	v.SetDefault("email.auth.scope", defaults.Email.Auth.Scope)

	v.SetDefault("email.poll.initial_interval", defaults.Email.Poll.InitialInterval)
	v.SetDefault("email.poll.max_interval", defaults.Email.Poll.MaxInterval)
	v.SetDefault("email.poll.timeout", defaults.Email.Poll.Timeout)

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)

	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	v.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "ACSMAIL"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}
