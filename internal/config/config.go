// Package config provides configuration for the assistant server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// LLM settings
	LLMBaseURL        string
	LLMAPIKey         string
	Model             string
	NamingModel       string
	LLMTimeout        time.Duration
	LLMMaxRetries     int
	MaxTurnIterations int

	// Tool settings
	ToolTimeout time.Duration

	// Google Calendar OAuth client
	GoogleClientID     string
	GoogleClientSecret string

	// WebSocket settings
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:           getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:        getEnv("DATABASE_URL", "file:tempora.db?cache=shared&mode=rwc"),
		LLMBaseURL:         getEnv("LLM_BASE_URL", "https://api.openai.com"),
		LLMAPIKey:          getEnv("LLM_API_KEY", ""),
		Model:              getEnv("LLM_MODEL", "gpt-4o"),
		NamingModel:        getEnv("LLM_NAMING_MODEL", "gpt-4o-mini"),
		LLMTimeout:         time.Duration(getEnvInt("LLM_TIMEOUT_MS", 60000)) * time.Millisecond,
		LLMMaxRetries:      getEnvInt("LLM_MAX_RETRIES", 2),
		MaxTurnIterations:  getEnvInt("MAX_TURN_ITERATIONS", 25),
		ToolTimeout:        time.Duration(getEnvInt("TOOL_TIMEOUT_MS", 30000)) * time.Millisecond,
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		ReadTimeout:        time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		WriteTimeout:       time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		PingInterval:       time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		MaxMessageSize:     int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
