// Package config loads Parley configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LLM provider identifiers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config holds all configuration values.
type Config struct {
	// HTTP server
	ServerPort string

	// Redis (ephemeral conversation store)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MongoDB (durable archive)
	MongoURI string
	MongoDB  string

	// Session tokens
	JWTSecret string
	JWTIssuer string

	// Session lifecycle. SessionWindow is both the conversation key's sliding
	// TTL and the token expiry; the two are intentionally a single value.
	SessionWindow    time.Duration
	SweepInterval    time.Duration
	ArchiveThreshold time.Duration

	// Completion provider
	LLMProvider     string
	LLMModel        string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaHost      string

	// Organization directory
	OrgFile string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		ServerPort: getEnv("PARLEY_SERVER_PORT", "8080"),

		RedisAddr:     getEnv("PARLEY_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("PARLEY_REDIS_PASSWORD", ""),
		RedisDB:       0,

		MongoURI: getEnv("PARLEY_MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  getEnv("PARLEY_MONGO_DB", "parley"),

		JWTSecret: getEnv("PARLEY_JWT_SECRET", ""),
		JWTIssuer: getEnv("PARLEY_JWT_ISSUER", "parley"),

		SessionWindow:    getDuration("PARLEY_SESSION_WINDOW", time.Hour),
		SweepInterval:    getDuration("PARLEY_SWEEP_INTERVAL", 30*time.Second),
		ArchiveThreshold: getDuration("PARLEY_ARCHIVE_THRESHOLD", 2*time.Minute),

		LLMProvider:     getEnv("PARLEY_LLM_PROVIDER", ProviderOpenAI),
		LLMModel:        getEnv("PARLEY_LLM_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),

		OrgFile: getEnv("PARLEY_ORG_FILE", "orgs.yaml"),

		LogFile:  getEnv("PARLEY_LOG_FILE", ""),
		LogLevel: parseLogLevel(getEnv("PARLEY_LOG_LEVEL", "INFO")),
	}
}

// Validate checks that required values are present and the lifecycle windows
// are coherent.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("PARLEY_JWT_SECRET is required")
	}
	if c.SessionWindow <= 0 {
		return fmt.Errorf("session window must be positive, got %s", c.SessionWindow)
	}
	if c.ArchiveThreshold >= c.SessionWindow {
		return fmt.Errorf("archive threshold %s must be below the session window %s",
			c.ArchiveThreshold, c.SessionWindow)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
