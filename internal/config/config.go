// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	AllowedOrigins []string
	DBPath         string
	LogLevel       string

	LLM             LLMConfig
	TTS             TTSConfig
	Session         SessionConfig
	ConversationLog ConversationLogConfig
}

// LLMConfig points at an OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32
}

// Enabled reports whether an API key was provided.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

// TTSConfig configures ElevenLabs speech synthesis.
type TTSConfig struct {
	APIKey   string
	VoiceID  string
	BaseURL  string
	AudioDir string
	Timeout  time.Duration
}

// SessionConfig controls live session persistence and cleanup.
type SessionConfig struct {
	PersistTimeout  time.Duration
	IdleTimeout     time.Duration
	ReapInterval    time.Duration
	AbandonedTTL    time.Duration
	// CleanupSchedule is a 5-field cron expression for abandoned conversation cleanup.
	CleanupSchedule string
}

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS"),
		DBPath:         getEnv("DB_PATH", "./data/fieldagent.db"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.cerebras.ai/v1"),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Model:       getEnv("LLM_MODEL", "llama3.1-8b"),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 30*time.Second),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 150),
			Temperature: getEnvFloat32("LLM_TEMPERATURE", 0.7),
		},
		TTS: TTSConfig{
			APIKey:   getEnv("TTS_API_KEY", ""),
			VoiceID:  getEnv("TTS_VOICE_ID", "TC0Zp7WVFzhA8zpTlRqV"),
			BaseURL:  getEnv("TTS_BASE_URL", "https://api.elevenlabs.io/v1"),
			AudioDir: getEnv("TTS_AUDIO_DIR", "./data/audio"),
			Timeout:  getEnvDuration("TTS_TIMEOUT", 30*time.Second),
		},
		Session: SessionConfig{
			PersistTimeout:  getEnvDuration("PERSIST_TIMEOUT", 5*time.Second),
			IdleTimeout:     getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
			ReapInterval:    getEnvDuration("SESSION_REAP_INTERVAL", time.Minute),
			AbandonedTTL:    getEnvDuration("ABANDONED_CONVERSATION_TTL", 24*time.Hour),
			CleanupSchedule: getEnv("ABANDONED_CLEANUP_SCHEDULE", "0 * * * *"),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.LLM.Enabled() && c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty when LLM_API_KEY is set")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.TTS.AudioDir == "" {
		return fmt.Errorf("TTS_AUDIO_DIR cannot be empty")
	}
	if c.Session.PersistTimeout <= 0 {
		return fmt.Errorf("PERSIST_TIMEOUT must be > 0")
	}
	if c.Session.ReapInterval <= 0 {
		return fmt.Errorf("SESSION_REAP_INTERVAL must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// Origins returns the browser origins allowed to call the API, including
// FrontendURL when set.
func (c *Config) Origins() []string {
	origins := append([]string(nil), c.AllowedOrigins...)
	if c.FrontendURL != "" {
		origins = append(origins, c.FrontendURL)
	}
	return origins
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat32(key string, fallback float32) float32 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}

// getEnvDuration accepts Go duration strings ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
