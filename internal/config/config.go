// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (parley.yaml in the working directory or /etc/parley)
//  3. Default values
//
// Main configuration categories:
//   - Model: provider, model name, temperature, max output tokens, embedder
//   - Server: HTTP listen address
//   - Session: idle timeout for lazy eviction
//   - Knowledge: PostgreSQL connection for the pgvector store
//   - Prompts: catalog directory
//   - Evals: retrieval evaluation gating and dataset path
//   - Observability: OTLP trace export
//
// Error handling uses sentinel errors for errors.Is() checks, wrapped with
// fmt.Errorf("...: %w") for context.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidProvider indicates the model provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max output tokens value is negative.
	ErrInvalidMaxTokens = errors.New("invalid max output tokens")

	// ErrInvalidListenAddr indicates the HTTP listen address is empty.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidSessionTimeout indicates the session idle timeout is not positive.
	ErrInvalidSessionTimeout = errors.New("invalid session idle timeout")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrMissingEvalsDataFile indicates evaluation mode is on without a dataset path.
	ErrMissingEvalsDataFile = errors.New("missing evals data file path")
)

// Model provider identifiers used in Config.Provider.
const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
)

// DefaultEmbedderModel is the default embedder for the knowledge store.
const DefaultEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
type Config struct {
	// Model configuration
	Provider        string  `mapstructure:"provider"`
	ModelName       string  `mapstructure:"model_name"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
	EmbedderModel   string  `mapstructure:"embedder_model"`

	// Server configuration
	ListenAddr string `mapstructure:"listen_addr"`

	// Session configuration
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`

	// Knowledge store configuration
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Prompt catalog configuration
	PromptsDir string `mapstructure:"prompts_dir"`

	// Retrieval evaluation configuration
	IsEvaluation      bool   `mapstructure:"is_evaluation"`
	EvalsDataFilePath string `mapstructure:"evals_data_file_path"`

	// Observability configuration
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ObservabilityConfig configures OTLP trace export.
type ObservabilityConfig struct {
	// Enabled toggles trace export entirely.
	Enabled bool `mapstructure:"enabled"`

	// Endpoint is the OTLP/HTTP collector address (host:port).
	Endpoint string `mapstructure:"endpoint"`

	// ServiceName identifies this deployment in traces.
	ServiceName string `mapstructure:"service_name"`

	// Environment tags exported spans (dev, staging, prod).
	Environment string `mapstructure:"environment"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("parley")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/parley")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults plus env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"config_name", "parley.yaml")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Model defaults
	v.SetDefault("provider", ProviderGoogleAI)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("temperature", 0.5)
	v.SetDefault("max_output_tokens", 0)
	v.SetDefault("embedder_model", DefaultEmbedderModel)

	// Server defaults
	v.SetDefault("listen_addr", ":8080")

	// Session defaults
	v.SetDefault("session_idle_timeout", 30*time.Minute)

	// PostgreSQL defaults for local development
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "parley")
	v.SetDefault("postgres_password", "parley_dev_password")
	v.SetDefault("postgres_db_name", "parley")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Prompt catalog defaults
	v.SetDefault("prompts_dir", "prompts")

	// Evaluation defaults
	v.SetDefault("is_evaluation", false)
	v.SetDefault("evals_data_file_path", "")

	// Observability defaults
	v.SetDefault("observability.enabled", false)
	v.SetDefault("observability.endpoint", "localhost:4318")
	v.SetDefault("observability.service_name", "parley")
	v.SetDefault("observability.environment", "dev")
}

// bindEnvVariables binds environment overrides explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via viper.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a failure here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "PARLEY_PROVIDER")
	mustBind("model_name", "PARLEY_MODEL_NAME")
	mustBind("listen_addr", "PARLEY_LISTEN_ADDR")
	mustBind("prompts_dir", "PARLEY_PROMPTS_DIR")
	mustBind("postgres_password", "PARLEY_POSTGRES_PASSWORD")
	mustBind("is_evaluation", "IS_EVALUATION")
	mustBind("evals_data_file_path", "EVALS_DATA_FILE_PATH")
	mustBind("observability.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// DatabaseURL assembles the postgres:// connection URL used by both the
// connection pool and the migration runner.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDBName,
	}
	query := url.Values{}
	if c.PostgresSSLMode != "" {
		query.Set("sslmode", c.PostgresSSLMode)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// QualifiedEmbedderModel returns the provider-qualified embedder name.
func (c *Config) QualifiedEmbedderModel() string {
	if strings.Contains(c.EmbedderModel, "/") {
		return c.EmbedderModel
	}
	return c.Provider + "/" + c.EmbedderModel
}
