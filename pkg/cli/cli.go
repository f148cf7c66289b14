// Package cli implements the acsmail command line tool: sending email
// through a Communication Services resource and inspecting the resulting
// send operations from a terminal.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/acsmail/pkg/auth"
	"github.com/nimburion/acsmail/pkg/client"
	"github.com/nimburion/acsmail/pkg/config"
	"github.com/nimburion/acsmail/pkg/observability/logger"
	"github.com/nimburion/acsmail/pkg/observability/tracing"
	"github.com/nimburion/acsmail/pkg/version"
)

const (
	serviceName = "acsmail"
	envPrefix   = "ACSMAIL"
)

// NewRootCommand builds the acsmail command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Send email through a Communication Services resource",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath string
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", "", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().String("log-format", "", "override the configured log format")

	loadConfig := func(flags *pflag.FlagSet) (*config.Config, logger.Logger, error) {
		loader := config.NewViperLoader(cfgPath, envPrefix).WithFlags(flags)
		cfg, err := loader.Load()
		if err != nil {
			return nil, nil, err
		}
		log, err := logger.NewZapLogger(logger.Config{
			Level:  logger.LogLevel(cfg.Log.Level),
			Format: logger.LogFormat(cfg.Log.Format),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create logger: %w", err)
		}
		return cfg, log, nil
	}

	rootCmd.AddCommand(newVersionCommand())
	rootCmd.AddCommand(newSendCommand(loadConfig))
	rootCmd.AddCommand(newStatusCommand(loadConfig))
	rootCmd.AddCommand(newConfigCommand(&cfgPath))

	return rootCmd
}

// Execute runs the command and exits with an appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type configLoaderFunc func(flags *pflag.FlagSet) (*config.Config, logger.Logger, error)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(serviceName)
			fmt.Printf("Service:    %s\n", info.Service)
			fmt.Printf("Version:    %s\n", info.Version)
			fmt.Printf("Commit:     %s\n", info.Commit)
			fmt.Printf("Build Time: %s\n", info.BuildTime)
		},
	}
}

func newConfigCommand(cfgPath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.NewViperLoader(*cfgPath, envPrefix).Load(); err != nil {
				return err
			}
			fmt.Println("configuration is valid")
			return nil
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewViperLoader(*cfgPath, envPrefix).Load()
			if err != nil {
				return err
			}
			if !showSecrets {
				cfg = cfg.Redacted()
			}
			rendered, err := yaml.Marshal(settingsMap(cfg))
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Print(string(rendered))
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configCmd.AddCommand(showCmd)

	return configCmd
}

// settingsMap renders the configuration for display, with durations in
// their flag spelling rather than nanosecond integers.
func settingsMap(cfg *config.Config) map[string]any {
	return map[string]any{
		"service": map[string]any{
			"name":        cfg.Service.Name,
			"environment": cfg.Service.Environment,
		},
		"email": map[string]any{
			"connection_string":   cfg.Email.ConnectionString,
			"endpoint":            cfg.Email.Endpoint,
			"access_key":          cfg.Email.AccessKey,
			"api_version":         cfg.Email.APIVersion,
			"operation_timeout":   cfg.Email.OperationTimeout.String(),
			"requests_per_second": cfg.Email.RequestsPerSecond,
			"request_burst":       cfg.Email.RequestBurst,
			"auth": map[string]any{
				"mode":           cfg.Email.Auth.Mode,
				"tenant_id":      cfg.Email.Auth.TenantID,
				"client_id":      cfg.Email.Auth.ClientID,
				"client_secret":  cfg.Email.Auth.ClientSecret,
				"authority_host": cfg.Email.Auth.AuthorityHost,
				"scope":          cfg.Email.Auth.Scope,
			},
			"poll": map[string]any{
				"initial_interval": cfg.Email.Poll.InitialInterval.String(),
				"max_interval":     cfg.Email.Poll.MaxInterval.String(),
				"timeout":          cfg.Email.Poll.Timeout.String(),
			},
		},
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
		},
		"tracing": map[string]any{
			"enabled":     cfg.Tracing.Enabled,
			"endpoint":    cfg.Tracing.Endpoint,
			"sample_rate": cfg.Tracing.SampleRate,
		},
	}
}

// buildCredential constructs the credential selected by the configuration.
func buildCredential(cfg *config.Config) (string, auth.Credential, error) {
	switch cfg.Email.Auth.Mode {
	case config.AuthModeSharedKey:
		if cfg.Email.ConnectionString != "" {
			return auth.ParseConnectionString(cfg.Email.ConnectionString)
		}
		credential, err := auth.NewSharedKeyCredential(cfg.Email.AccessKey)
		if err != nil {
			return "", nil, err
		}
		return cfg.Email.Endpoint, credential, nil
	case config.AuthModeServicePrincipal:
		credential, err := auth.NewServicePrincipalCredential(auth.ServicePrincipalConfig{
			TenantID:      cfg.Email.Auth.TenantID,
			ClientID:      cfg.Email.Auth.ClientID,
			ClientSecret:  cfg.Email.Auth.ClientSecret,
			AuthorityHost: cfg.Email.Auth.AuthorityHost,
			Scope:         cfg.Email.Auth.Scope,
		})
		if err != nil {
			return "", nil, err
		}
		return cfg.Email.Endpoint, credential, nil
	default:
		return "", nil, fmt.Errorf("unsupported auth mode %q", cfg.Email.Auth.Mode)
	}
}

// buildClient constructs the email client from the loaded configuration.
func buildClient(cfg *config.Config, log logger.Logger) (*client.Client, error) {
	endpoint, credential, err := buildCredential(cfg)
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{
		Endpoint:          endpoint,
		Credential:        credential,
		APIVersion:        cfg.Email.APIVersion,
		OperationTimeout:  cfg.Email.OperationTimeout,
		RequestsPerSecond: cfg.Email.RequestsPerSecond,
		RequestBurst:      cfg.Email.RequestBurst,
		Poll: client.PollConfig{
			InitialInterval: cfg.Email.Poll.InitialInterval,
			MaxInterval:     cfg.Email.Poll.MaxInterval,
			Timeout:         cfg.Email.Poll.Timeout,
		},
	}, log)
}

// setupTracing initializes the tracer provider when tracing is enabled. The
// returned function flushes and shuts the provider down.
func setupTracing(ctx context.Context, cfg *config.Config, log logger.Logger) (func(), error) {
	provider, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version.Current(serviceName).Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize tracing: %w", err)
	}
	return func() {
		if err := provider.Shutdown(ctx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}, nil
}

func renderReport(id string, status string, detail string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "operation: %s\n", id)
	fmt.Fprintf(&b, "status:    %s\n", status)
	if detail != "" {
		fmt.Fprintf(&b, "error:     %s\n", detail)
	}
	return b.String()
}
