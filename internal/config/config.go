package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Auth (single admin user)
	AdminUsername string
	AdminPassword string // bcrypt hash, or plaintext bootstrap value
	JWTSecret     string

	// Secret encryption: 32-byte hex for AES-256-GCM
	EncryptionKey string

	// System-wide default email channel, usable by send-message actions
	// that have no credential attached.
	DefaultEmailEnabled bool
	DefaultSMTPHost     string
	DefaultSMTPPort     int
	DefaultSMTPUsername string
	DefaultSMTPPassword string
	DefaultFromAddress  string

	// Execution
	HTTPTimeoutSeconds int
	WorkDir            string
}

func Load() *Config {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	smtpPort, _ := strconv.Atoi(getEnv("DEFAULT_SMTP_PORT", "587"))
	httpTimeout, _ := strconv.Atoi(getEnv("HTTP_TIMEOUT_SECONDS", "30"))

	return &Config{
		Port:                getEnv("PORT", "8098"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "postgres"),
		DBPassword:          getEnv("DB_PASSWORD", ""),
		DBName:              getEnv("DB_NAME", "cronflow_db"),
		DBSSLMode:           getEnv("DB_SSLMODE", "disable"),
		AdminUsername:       getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:       getEnv("ADMIN_PASSWORD", ""),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		EncryptionKey:       getEnv("ENCRYPTION_KEY", ""),
		DefaultEmailEnabled: getEnv("DEFAULT_EMAIL_ENABLED", "false") == "true",
		DefaultSMTPHost:     getEnv("DEFAULT_SMTP_HOST", ""),
		DefaultSMTPPort:     smtpPort,
		DefaultSMTPUsername: getEnv("DEFAULT_SMTP_USERNAME", ""),
		DefaultSMTPPassword: getEnv("DEFAULT_SMTP_PASSWORD", ""),
		DefaultFromAddress:  getEnv("DEFAULT_FROM_ADDRESS", ""),
		HTTPTimeoutSeconds:  httpTimeout,
		WorkDir:             getEnv("WORK_DIR", os.TempDir()),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
