package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL         string
	RedisURL            string
	DefaultHost         string
	DefaultPort         string
	PublicHost          string // Public-facing host advertised to clients
	WebSocketPort       string
	EnableEncryption    bool // Gates TLS on accept and message-payload encryption
	EncryptionMasterKey string
	TLSCertPath         string
	TLSKeyPath          string
	SessionTTL          time.Duration
	ReaperInterval      time.Duration
	MaxMessageLength    int
	AllowedOrigins      []string // CORS for the WebSocket endpoint
	Environment         string
}

func Load() *Config {
	ttl := getEnvInt("SESSION_TTL_SECONDS", 86400)
	reap := getEnvInt("SESSION_REAPER_INTERVAL_SECONDS", 3600)

	origins := parseOrigins(getEnv("ALLOWED_ORIGINS", ""))
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return &Config{
		DatabaseURL:         getEnv("DATABASE_URL", "sqlite:data/ferrochat.db"),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DefaultHost:         getEnv("DEFAULT_HOST", "127.0.0.1"),
		DefaultPort:         getEnv("DEFAULT_PORT", "5000"),
		PublicHost:          getEnv("PUBLIC_HOST", ""),
		WebSocketPort:       getEnv("WEBSOCKET_PORT", "5001"),
		EnableEncryption:    getEnvBool("ENABLE_ENCRYPTION", false),
		EncryptionMasterKey: getEnv("ENCRYPTION_MASTER_KEY", ""),
		TLSCertPath:         getEnv("TLS_CERT_PATH", ""),
		TLSKeyPath:          getEnv("TLS_KEY_PATH", ""),
		SessionTTL:          time.Duration(ttl) * time.Second,
		ReaperInterval:      time.Duration(reap) * time.Second,
		MaxMessageLength:    getEnvInt("MAX_MESSAGE_LENGTH", 1000),
		AllowedOrigins:      origins,
		Environment:         strings.ToLower(strings.TrimSpace(getEnv("ENV", "development"))),
	}
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
