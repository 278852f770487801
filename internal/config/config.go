package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	TokenSecret   string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MigrationsDir string
	CORSOrigin    string
	AppBaseURL    string
	// AI Configuration
	OpenAIKey     string
	OpenAIBaseURL string
	ChatModel     string
	// Search Configuration
	MeiliURL       string
	MeiliMasterKey string
	// Attachment storage (MinIO / S3-compatible)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	// Redis Configuration
	RedisURL string
	// Login rate limiting
	LoginAttemptLimit int
	LoginLockout      time.Duration
}

func Load() Config {
	return Config{
		Addr:          getenv("API_ADDR", ":8790"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		TokenSecret:   getenv("PRODUCTOS_TOKEN_SECRET", "productos-dev-secret"),
		AccessTTL:     time.Duration(getenvInt("PRODUCTOS_ACCESS_TTL_SECONDS", 900)) * time.Second,
		RefreshTTL:    time.Duration(getenvInt("PRODUCTOS_REFRESH_TTL_SECONDS", 2592000)) * time.Second,
		MigrationsDir: getenv("PRODUCTOS_MIGRATIONS_DIR", "./db/migrations"),
		CORSOrigin:    getenv("PRODUCTOS_CORS_ORIGIN", "*"),
		AppBaseURL:    getenv("PRODUCTOS_APP_URL", "http://localhost:5173"),
		// AI - empty key disables the chat assistant
		OpenAIKey:     getenv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getenv("OPENAI_BASE_URL", ""),
		ChatModel:     getenv("PRODUCTOS_CHAT_MODEL", "gpt-4-turbo-preview"),
		// Search - empty URL falls back to Postgres full-text search
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		// MinIO - empty endpoint disables attachment uploads
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "productos-attachments"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
		// SMTP - empty by default, verification email disabled if not configured
		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Product OS"),
		// Redis - counters, audit log and chat sessions live here when set
		RedisURL:          getenv("REDIS_URL", ""),
		LoginAttemptLimit: getenvInt("PRODUCTOS_LOGIN_ATTEMPT_LIMIT", 3),
		LoginLockout:      time.Duration(getenvInt("PRODUCTOS_LOGIN_LOCKOUT_SECONDS", 60)) * time.Second,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
