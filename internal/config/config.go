// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.ember/config.yaml or ./config.yaml)
//  3. Default values
//
// Sensitive fields (API keys, passwords) are masked in MarshalJSON and never
// logged. Validation lives in validation.go and uses sentinel errors so
// callers can branch with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

// Default model identifiers.
const (
	// DefaultModelName is the chat model referenced by prompts/ember.prompt.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultEmbedderModel outputs 3072 dimensions by default but supports
	// truncation to 768; the pgvector schema uses 768 (rag.VectorDimension).
	DefaultEmbedderModel = "gemini-embedding-001"
)

// Conversation history bounds.
const (
	DefaultHistoryWindow = 20
	MaxHistoryWindow     = 500
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// HTTP server
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// AI model configuration. The chat model itself is configured in the
	// Dotprompt file under PromptDir; ModelName is kept for reference and
	// exposed to operators via `ember version`.
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	PromptDir     string `mapstructure:"prompt_dir" json:"prompt_dir"`

	// Agent behavior
	MaxTurns      int `mapstructure:"max_turns" json:"max_turns"`
	RAGTopK       int `mapstructure:"rag_top_k" json:"rag_top_k"`
	HistoryWindow int `mapstructure:"history_window" json:"history_window"`

	// Document chunking
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Documentation ingestion
	DocsURLs []string `mapstructure:"docs_urls" json:"docs_urls"`

	// Transactional email API
	EmailAPIKey  string `mapstructure:"email_api_key" json:"email_api_key"` // SENSITIVE: masked in MarshalJSON
	EmailBaseURL string `mapstructure:"email_base_url" json:"email_base_url"`
	EmailFrom    string `mapstructure:"email_from" json:"email_from"`

	// PostgreSQL
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Tracing (disabled when endpoint is empty)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	Environment  string `mapstructure:"environment" json:"environment"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".ember")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults + env suffice.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, overrides the individual Postgres fields.
	if err := cfg.applyDatabaseURL(os.Getenv("DATABASE_URL")); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8080)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("prompt_dir", "prompts")

	v.SetDefault("max_turns", 5)
	v.SetDefault("rag_top_k", 5)
	v.SetDefault("history_window", DefaultHistoryWindow)

	v.SetDefault("chunk_size", 10000)
	v.SetDefault("chunk_overlap", 250)

	v.SetDefault("docs_urls", []string{
		"https://resend.com/docs/introduction",
		"https://resend.com/docs/dashboard/emails/introduction",
		"https://resend.com/docs/dashboard/domains/introduction",
		"https://resend.com/docs/dashboard/api-keys/introduction",
		"https://resend.com/docs/knowledge-base/bounces-suppressions",
	})

	v.SetDefault("email_base_url", "https://api.resend.com")
	v.SetDefault("email_from", "onboarding@resend.dev")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "ember")
	v.SetDefault("postgres_password", "ember_dev_password")
	v.SetDefault("postgres_db_name", "ember")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("environment", "dev")
	v.SetDefault("service_name", "ember")
}

// bindEnvVariables binds environment variables explicitly.
// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper; its
// presence is checked in Validate().
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key string, envVars ...string) {
		args := append([]string{key}, envVars...)
		if err := v.BindEnv(args...); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q: %v", key, err))
		}
	}

	mustBind("host", "EMBER_HOST")
	mustBind("port", "EMBER_PORT")
	mustBind("log_level", "EMBER_LOG_LEVEL")
	mustBind("log_json", "EMBER_LOG_JSON")
	mustBind("model_name", "EMBER_MODEL_NAME")
	mustBind("embedder_model", "EMBER_EMBEDDER_MODEL")
	mustBind("prompt_dir", "EMBER_PROMPT_DIR")
	mustBind("otlp_endpoint", "EMBER_OTLP_ENDPOINT")
	mustBind("environment", "EMBER_ENVIRONMENT")

	// The email API key accepts both names; RESEND_API_KEY matches the
	// upstream provider convention.
	mustBind("email_api_key", "EMBER_EMAIL_API_KEY", "RESEND_API_KEY")
	mustBind("email_base_url", "EMBER_EMAIL_BASE_URL")
	mustBind("email_from", "EMBER_EMAIL_FROM")

	mustBind("postgres_host", "EMBER_POSTGRES_HOST")
	mustBind("postgres_port", "EMBER_POSTGRES_PORT")
	mustBind("postgres_user", "EMBER_POSTGRES_USER")
	mustBind("postgres_password", "EMBER_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "EMBER_POSTGRES_DB_NAME")
	mustBind("postgres_ssl_mode", "EMBER_POSTGRES_SSL_MODE")
}

// applyDatabaseURL overrides the Postgres fields from a postgres:// URL.
// An empty raw URL is a no-op.
func (c *Config) applyDatabaseURL(raw string) error {
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", p, err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := u.Path; len(db) > 1 {
		c.PostgresDBName = db[1:]
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection URL for pgx and migrations.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// Addr returns the host:port address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 characters or
// fewer are fully masked; longer ones keep the first and last 2 characters
// for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit masking of sensitive
// fields. When adding new secrets to Config, mask them here.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // drop methods to avoid recursion
	masked := alias(*c)
	masked.EmailAPIKey = maskSecret(c.EmailAPIKey)
	masked.PostgresPassword = maskSecret(c.PostgresPassword)
	return json.Marshal(masked)
}
