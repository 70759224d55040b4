package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
)

// Config holds all configuration for the broker app server.
type Config struct {
	Host      string
	Port      int    `validate:"min=1,max=65535"`
	Version   string
	LogLevel  string `validate:"oneof=trace debug info warn error"`
	Store     StoreConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Google    GoogleConfig
	Gemini    GeminiConfig
	Chat      ChatConfig
}

type StoreConfig struct {
	// Driver selects the Store backend: "sqlite" or "memory".
	Driver string `validate:"oneof=sqlite memory"`
	// Path is the SQLite database file.
	Path string `validate:"required_if=Driver sqlite"`
	// DataDir is where the memory store writes its snapshot. Empty disables persistence.
	DataDir string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	JWTSecret string        `validate:"required"`
	JWTIssuer string        `validate:"required"`
	JWTTTL    time.Duration `validate:"gt=0"`
	// Client credentials accepted by POST /auth/token.
	ServiceClientID     string `validate:"required"`
	ServiceClientSecret string `validate:"required"`
}

type GoogleConfig struct {
	ClientID        string
	ClientSecret    string
	TokenURL        string `validate:"url"`
	CalendarBaseURL string `validate:"url"`
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string        `validate:"url"`
	Model   string        `validate:"required"`
	Timeout time.Duration `validate:"gt=0"`
}

type ChatConfig struct {
	MCPServerURL    string        `validate:"url"`
	ToolTimeout     time.Duration `validate:"gt=0"`
	SummaryLanguage string        `validate:"required"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Host:     envStr("APP_HOST", "0.0.0.0"),
		Port:     envInt("APP_PORT", 8000),
		Version:  envStr("APP_VERSION", "0.1.0"),
		LogLevel: envStr("LOG_LEVEL", "info"),
		Store: StoreConfig{
			Driver:  envStr("STORE_DRIVER", "sqlite"),
			Path:    envStr("DATABASE_PATH", defaultDataPath("broker.db")),
			DataDir: envStr("DATA_DIR", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "broker-app-server"),
		},
		Auth: AuthConfig{
			JWTSecret:           envStr("JWT_SECRET", "change-me"),
			JWTIssuer:           envStr("JWT_ISSUER", "app-server"),
			JWTTTL:              time.Duration(envInt("JWT_TTL_SECONDS", 900)) * time.Second,
			ServiceClientID:     envStr("SERVICE_CLIENT_ID", "dummy-client"),
			ServiceClientSecret: envStr("SERVICE_CLIENT_SECRET", "dummy-secret"),
		},
		Google: GoogleConfig{
			ClientID:        envStr("GOOGLE_CLIENT_ID", ""),
			ClientSecret:    envStr("GOOGLE_CLIENT_SECRET", ""),
			TokenURL:        envStr("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			CalendarBaseURL: envStr("GOOGLE_CALENDAR_BASE_URL", "https://www.googleapis.com/calendar/v3"),
		},
		Gemini: GeminiConfig{
			APIKey:  envStr("GEMINI_API_KEY", ""),
			BaseURL: envStr("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			Model:   envStr("GEMINI_MODEL", "models/gemini-3-flash-preview"),
			Timeout: envDuration("MODEL_TIMEOUT", 15*time.Second),
		},
		Chat: ChatConfig{
			MCPServerURL:    envStr("MCP_SERVER_URL", "http://127.0.0.1:9001/mcp"),
			ToolTimeout:     envDuration("TOOL_TIMEOUT", 15*time.Second),
			SummaryLanguage: envStr("SUMMARY_LANGUAGE", "Japanese"),
		},
	}
}

// Validate checks struct constraints on the loaded configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func defaultDataPath(name string) string {
	return filepath.Join(xdg.DataHome, "broker", name)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("15s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
