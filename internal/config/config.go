// Package config provides configuration for the gateway.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the gateway configuration. All values can be set via
// environment variables with the OPENCLAW_ prefix.
type Config struct {
	// Server settings
	Host     string
	Port     int
	LogLevel string

	// Auth — generated on first run if not set
	AuthToken string

	// LLM provider
	LLMProvider string // auto | openai | anthropic | ollama
	LLMBaseURL  string // e.g. http://localhost:11434/v1 for ollama
	LLMAPIKey   string
	LLMModel    string // auto-detected if empty

	// TTS provider
	TTSProvider string // auto | openai | disabled
	TTSBaseURL  string
	TTSAPIKey   string
	TTSVoice    string

	// ASR provider
	ASRProvider string // auto | openai | whisper | disabled
	ASRBaseURL  string
	ASRAPIKey   string

	// Storage
	DBPath    string
	UploadDir string

	// WebSocket settings
	HeartbeatInterval time.Duration
	MaxMessageSize    int64

	// Token persistence
	EnvFile string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Host:              getEnv("OPENCLAW_HOST", "0.0.0.0"),
		Port:              getEnvInt("OPENCLAW_PORT", 8770),
		LogLevel:          getEnv("OPENCLAW_LOG_LEVEL", "info"),
		AuthToken:         getEnv("OPENCLAW_AUTH_TOKEN", ""),
		LLMProvider:       getEnv("OPENCLAW_LLM_PROVIDER", "auto"),
		LLMBaseURL:        getEnv("OPENCLAW_LLM_BASE_URL", ""),
		LLMAPIKey:         getEnv("OPENCLAW_LLM_API_KEY", ""),
		LLMModel:          getEnv("OPENCLAW_LLM_MODEL", ""),
		TTSProvider:       getEnv("OPENCLAW_TTS_PROVIDER", "auto"),
		TTSBaseURL:        getEnv("OPENCLAW_TTS_BASE_URL", ""),
		TTSAPIKey:         getEnv("OPENCLAW_TTS_API_KEY", ""),
		TTSVoice:          getEnv("OPENCLAW_TTS_VOICE", "alloy"),
		ASRProvider:       getEnv("OPENCLAW_ASR_PROVIDER", "auto"),
		ASRBaseURL:        getEnv("OPENCLAW_ASR_BASE_URL", ""),
		ASRAPIKey:         getEnv("OPENCLAW_ASR_API_KEY", ""),
		DBPath:            getEnv("OPENCLAW_DB_PATH", "data/openclaw.db"),
		UploadDir:         getEnv("OPENCLAW_UPLOAD_DIR", "data/uploads"),
		HeartbeatInterval: time.Duration(getEnvInt("OPENCLAW_HEARTBEAT_INTERVAL_MS", 30000)) * time.Millisecond,
		MaxMessageSize:    int64(getEnvInt("OPENCLAW_MAX_MESSAGE_SIZE", 65536)),
		EnvFile:           getEnv("OPENCLAW_ENV_FILE", ".env"),
	}
}

// EnsureToken generates and persists an auth token if none is configured.
func (c *Config) EnsureToken() (string, error) {
	if c.AuthToken != "" {
		return c.AuthToken, nil
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := "ocgw_" + hex.EncodeToString(buf)

	var lines []string
	if data, err := os.ReadFile(c.EnvFile); err == nil {
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			if strings.HasPrefix(line, "OPENCLAW_AUTH_TOKEN=") {
				continue
			}
			lines = append(lines, line)
		}
	}
	lines = append(lines, "OPENCLAW_AUTH_TOKEN="+token)

	if err := os.WriteFile(c.EnvFile, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist token: %w", err)
	}

	c.AuthToken = token
	return token, nil
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
