// Package config reads configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Supported AI providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection (the STIX graph store)
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Control plane and artifacts
	DatabasePath string
	DataDir      string

	// AI extraction
	AIProvider      string
	AIModel         string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Job processing
	Workers      int
	JobDelay     time.Duration
	StaleJobAge  time.Duration

	// Logging
	LogFile  string
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "stixify"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "stixify"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		DatabasePath: getEnv("STIXIFY_DATABASE", "stixify.db"),
		DataDir:      getEnv("STIXIFY_DATA_DIR", "data"),

		AIProvider:      getEnv("STIXIFY_AI_PROVIDER", ProviderOllama),
		AIModel:         getEnv("STIXIFY_AI_MODEL", "llama3.1"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		Workers:     getEnvInt("STIXIFY_WORKERS", 4),
		JobDelay:    getEnvDuration("STIXIFY_JOB_DELAY", time.Second),
		StaleJobAge: getEnvDuration("STIXIFY_STALE_JOB_AGE", time.Hour),

		LogFile:  getEnv("STIXIFY_LOG_FILE", "/tmp/stixify.log"),
		LogLevel: getEnv("STIXIFY_LOG_LEVEL", "INFO"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d >= 0 {
			return d
		}
	}
	return defaultVal
}
