package config

import (
	"os"
	"strconv"
	"strings"
)

// Vendor call styles. The variant is fixed at startup, never re-detected.
const (
	StyleResponses = "responses"
	StyleChat      = "chat"
)

// Config holds every environment-sourced setting of the gateway.
type Config struct {
	Port     string
	APIKey   string
	Model    string
	APIStyle string
	Debug    bool
}

// Load reads configuration from the environment. A missing credential is not
// fatal: the service still boots and reports hasKey=false on /health.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		APIKey:   firstEnv("OPENAI_API_KEY", "OPENAI_KEY", "API_KEY"),
		Model:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		APIStyle: normalizeStyle(os.Getenv("OPENAI_API_STYLE")),
		Debug:    boolEnv("DEBUG"),
	}
}

// HasKey reports whether an API credential is configured.
func (c *Config) HasKey() bool {
	return c.APIKey != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func boolEnv(key string) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && value
}

func normalizeStyle(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case StyleChat:
		return StyleChat
	default:
		return StyleResponses
	}
}
