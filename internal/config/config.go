// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.parley/config.yaml or ./config.yaml)
//  3. Default values
//
// Security: sensitive values (passwords, secrets) are masked in
// MarshalJSON/String and never logged in the clear.
//
// Error handling uses sentinel errors so callers can check with
// errors.Is(); wrap with fmt.Errorf("%w: details", ErrXxx).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the Gemini API key is not set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModel indicates a model name is not in the allow-list.
	ErrInvalidModel = errors.New("invalid model name")

	// ErrEmptyModelList indicates the model allow-list is empty.
	ErrEmptyModelList = errors.New("empty model allow-list")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates max output tokens is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max output tokens")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrMissingAuthSecret indicates the auth token secret is not set.
	ErrMissingAuthSecret = errors.New("missing auth secret")

	// ErrWeakAuthSecret indicates the auth token secret is too short.
	ErrWeakAuthSecret = errors.New("auth secret must be at least 32 bytes")

	// ErrInvalidSweep indicates the ephemeral sweep settings are unusable.
	ErrInvalidSweep = errors.New("invalid ephemeral sweep settings")

	// ErrInvalidToolEndpoint indicates the tool provider endpoint is malformed.
	ErrInvalidToolEndpoint = errors.New("invalid tool provider endpoint")
)

// Default generation and lifecycle values.
const (
	DefaultModel          = "gemini-2.5-flash"
	DefaultTemperature    = 0.7
	DefaultTopP           = 0.95
	DefaultTopK           = 40
	DefaultMaxTokens      = 2048
	DefaultHistoryLimit   = 50
	DefaultRetryAttempts  = 3
	DefaultRetryBase      = time.Second
	DefaultRetryCap       = 30 * time.Second
	DefaultEphemeralTTL   = time.Hour
	DefaultSweepInterval  = 30 * time.Minute
	DefaultToolTimeout    = 30 * time.Second
	DefaultListenAddr     = "localhost:8080"
	DefaultAuthTokenTTL   = 30 * 24 * time.Hour
	DefaultOTLPEndpoint   = "localhost:4318"
	DefaultServiceName    = "parley"
	DefaultEnvironment    = "dev"
	DefaultRateBurst      = 60
	MaxAllowedOutputToken = 65536
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding secret fields, update MarshalJSON.
type Config struct {
	// HTTP server
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Generation. Models is the allow-list; DefaultModel is used when a
	// request does not select one. Sampling parameters are fixed per
	// deployment.
	Models          []string `mapstructure:"models" json:"models"`
	Model           string   `mapstructure:"model" json:"model"`
	Temperature     float32  `mapstructure:"temperature" json:"temperature"`
	TopP            float32  `mapstructure:"top_p" json:"top_p"`
	TopK            int      `mapstructure:"top_k" json:"top_k"`
	MaxOutputTokens int      `mapstructure:"max_output_tokens" json:"max_output_tokens"`

	// Upstream retry policy (non-streaming completions only).
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts" json:"retry_max_attempts"`
	RetryBase        time.Duration `mapstructure:"retry_base" json:"retry_base"`
	RetryCap         time.Duration `mapstructure:"retry_cap" json:"retry_cap"`

	// History window fed to the model (messages, most recent first).
	HistoryLimit int32 `mapstructure:"history_limit" json:"history_limit"`

	// Ephemeral chat lifecycle.
	EphemeralTTL  time.Duration `mapstructure:"ephemeral_ttl" json:"ephemeral_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`

	// Tool provider (MCP). Endpoint is a streamable-HTTP URL; Command is
	// a local stdio server binary. Exactly one may be set; both empty
	// disables tool augmentation.
	ToolEndpoint     string        `mapstructure:"tool_endpoint" json:"tool_endpoint"`
	ToolCommand      string        `mapstructure:"tool_command" json:"tool_command"`
	ToolArgs         []string      `mapstructure:"tool_args" json:"tool_args"`
	ToolTimeout      time.Duration `mapstructure:"tool_timeout" json:"tool_timeout"`
	RequireToolToken bool          `mapstructure:"require_tool_token" json:"require_tool_token"`

	// Storage.
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Auth token verification (issuance lives elsewhere).
	AuthSecret   string        `mapstructure:"auth_secret" json:"auth_secret"` // SENSITIVE: masked in MarshalJSON
	AuthTokenTTL time.Duration `mapstructure:"auth_token_ttl" json:"auth_token_ttl"`

	// Tracing.
	TracingEnabled bool   `mapstructure:"tracing_enabled" json:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	Environment    string `mapstructure:"environment" json:"environment"`
	ServiceName    string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".parley")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", DefaultRateBurst)

	v.SetDefault("models", []string{
		"gemini-2.5-flash",
		"gemini-2.5-pro",
		"gemini-2.0-flash",
	})
	v.SetDefault("model", DefaultModel)
	v.SetDefault("temperature", DefaultTemperature)
	v.SetDefault("top_p", DefaultTopP)
	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("max_output_tokens", DefaultMaxTokens)

	v.SetDefault("retry_max_attempts", DefaultRetryAttempts)
	v.SetDefault("retry_base", DefaultRetryBase)
	v.SetDefault("retry_cap", DefaultRetryCap)

	v.SetDefault("history_limit", DefaultHistoryLimit)

	v.SetDefault("ephemeral_ttl", DefaultEphemeralTTL)
	v.SetDefault("sweep_interval", DefaultSweepInterval)

	v.SetDefault("tool_timeout", DefaultToolTimeout)
	v.SetDefault("require_tool_token", true)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "parley")
	v.SetDefault("postgres_password", "parley_dev_password")
	v.SetDefault("postgres_db_name", "parley")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("auth_token_ttl", DefaultAuthTokenTTL)

	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otlp_endpoint", DefaultOTLPEndpoint)
	v.SetDefault("environment", DefaultEnvironment)
	v.SetDefault("service_name", DefaultServiceName)
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by the genai client, not via viper;
// Validate() only checks its presence.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("listen_addr", "PARLEY_LISTEN_ADDR")
	mustBind("cors_origins", "PARLEY_CORS_ORIGINS")
	mustBind("trust_proxy", "PARLEY_TRUST_PROXY")
	mustBind("model", "PARLEY_MODEL")
	mustBind("auth_secret", "PARLEY_AUTH_SECRET")
	mustBind("tool_endpoint", "PARLEY_TOOL_ENDPOINT")
	mustBind("tool_command", "PARLEY_TOOL_COMMAND")
	mustBind("tracing_enabled", "PARLEY_TRACING")
	mustBind("otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// parseDatabaseURL applies DATABASE_URL on top of the discrete
// postgres_* settings when set (highest priority).
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		if _, err := fmt.Sscanf(p, "%d", &c.PostgresPort); err != nil {
			return fmt.Errorf("parsing port: %w", err)
		}
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := filepath.Base(u.Path); db != "" && db != "/" && db != "." {
		c.PostgresDBName = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// DatabaseURL returns the postgres connection URL assembled from the
// discrete settings.
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

// ToolsEnabled reports whether a tool provider is configured.
func (c *Config) ToolsEnabled() bool {
	return c.ToolEndpoint != "" || c.ToolCommand != ""
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against the
// real secret.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8
// bytes or fewer are fully masked; longer ones keep the first and last
// two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.AuthSecret = maskSecret(a.AuthSecret)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
