package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	FrontDoor     FrontDoorConfig
	ControlTower  ControlTowerConfig
	Providers     ProvidersConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
}

// FrontDoorConfig holds the front door's own settings
type FrontDoorConfig struct {
	APIKey          string // Empty disables API key authentication
	CacheTTL        time.Duration
	DefaultProvider string
	LogLevel        string
}

// ControlTowerConfig holds the manifest authority connection settings
type ControlTowerConfig struct {
	BaseURL       string
	SuperuserKey  string
	Timeout       time.Duration
	MaxRetries    int
	RetryMinDelay time.Duration
	RetryMaxDelay time.Duration
}

// ProvidersConfig holds LLM provider configurations
type ProvidersConfig struct {
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
}

// OpenAIConfig holds OpenAI provider configuration
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// AnthropicConfig holds Anthropic provider configuration
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Version string
	Timeout time.Duration
}

// DatabaseConfig holds the optional audit database configuration.
// An empty ConnectionString disables the inference audit trail.
type DatabaseConfig struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Load reads the configuration from the environment without validating it
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            getEnvFirst([]string{"FD_HOST", "SERVER_HOST"}, "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 120*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		FrontDoor: FrontDoorConfig{
			APIKey:          getEnv("FD_API_KEY", ""),
			CacheTTL:        getEnvAsSeconds("FD_CACHE_TTL", 300*time.Second),
			DefaultProvider: getEnv("FD_DEFAULT_PROVIDER", "openai"),
			LogLevel:        getEnvFirst([]string{"FD_LOG_LEVEL", "LOG_LEVEL"}, "info"),
		},
		ControlTower: ControlTowerConfig{
			BaseURL:       getEnv("CONTROL_TOWER_BASE_URL", "http://localhost:5000"),
			SuperuserKey:  getEnv("CONTROL_TOWER_SUPERUSER_KEY", ""),
			Timeout:       getEnvAsDuration("CONTROL_TOWER_TIMEOUT", 30*time.Second),
			MaxRetries:    getEnvAsInt("CONTROL_TOWER_MAX_RETRIES", 3),
			RetryMinDelay: getEnvAsDuration("CONTROL_TOWER_RETRY_MIN_DELAY", 4*time.Second),
			RetryMaxDelay: getEnvAsDuration("CONTROL_TOWER_RETRY_MAX_DELAY", 10*time.Second),
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{
				APIKey:  getEnv("OPENAI_API_KEY", ""),
				BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Timeout: getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
			},
			Anthropic: AnthropicConfig{
				APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				Version: getEnv("ANTHROPIC_VERSION", "2023-06-01"),
				Timeout: getEnvAsDuration("ANTHROPIC_TIMEOUT", 60*time.Second),
			},
		},
		Database: DatabaseConfig{
			ConnectionString: getEnv("DATABASE_URL", ""),
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Observability: ObservabilityConfig{
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.ControlTower.SuperuserKey == "" {
		return fmt.Errorf("CONTROL_TOWER_SUPERUSER_KEY is required")
	}
	if c.ControlTower.BaseURL == "" {
		return fmt.Errorf("CONTROL_TOWER_BASE_URL is required")
	}
	if c.ControlTower.MaxRetries < 1 {
		return fmt.Errorf("control tower max retries must be at least 1, got %d", c.ControlTower.MaxRetries)
	}
	if c.ControlTower.RetryMinDelay > c.ControlTower.RetryMaxDelay {
		return fmt.Errorf("retry min delay %s exceeds max delay %s",
			c.ControlTower.RetryMinDelay, c.ControlTower.RetryMaxDelay)
	}

	if c.Providers.OpenAI.APIKey == "" && c.Providers.Anthropic.APIKey == "" {
		return fmt.Errorf("at least one LLM provider must be configured: set OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}

	if c.FrontDoor.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", c.FrontDoor.CacheTTL)
	}
	if c.FrontDoor.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// AuthEnabled reports whether requests must carry the API key
func (c *Config) AuthEnabled() bool {
	return c.FrontDoor.APIKey != ""
}

// AuditEnabled reports whether inference calls are written to the audit database
func (c *Config) AuditEnabled() bool {
	return c.Database.ConnectionString != ""
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString == "" {
		return "disabled"
	}
	u, err := url.Parse(c.ConnectionString)
	if err != nil || u.Host == "" {
		return "host=<from DATABASE_URL>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
}

// Helper functions

// getPort returns the server port from FD_PORT or PORT (default: 8000)
func getPort() int {
	for _, key := range []string{"FD_PORT", "PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvFirst returns the first non-empty variable among keys
func getEnvFirst(keys []string, defaultValue string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSeconds accepts either a bare number of seconds or a Go duration
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return getEnvAsDuration(key, defaultValue)
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
