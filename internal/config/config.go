package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Auth         AuthConfig
	CORS         CORSConfig
	Email        EmailConfig
	Notification NotificationConfig
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name    string
	Version string
	Debug   bool
	Port    string
	Host    string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// AuthConfig holds operator token configuration
type AuthConfig struct {
	SecretKey          string
	TokenExpiryMinutes int
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// Email providers understood by notification.NewTransport.
const (
	EmailProviderSMTP = "smtp"
	EmailProviderLog  = "log"
)

// EmailConfig holds the outbound email transport configuration.
// An empty Provider means no transport is configured.
type EmailConfig struct {
	Provider      string
	SMTPHost      string
	SMTPPort      int
	Username      string
	Password      string
	Timeout       time.Duration
	RatePerSecond float64
}

// NotificationConfig holds queue and message settings
type NotificationConfig struct {
	AdminEmail    string
	FromEmail     string
	FromName      string
	CompanyName   string
	BaseURL       string
	DrainInterval time.Duration
	SweepInterval time.Duration
	BatchSize     int
}

// DefaultSecretKey is the development placeholder the API refuses to start with.
const DefaultSecretKey = "your-secret-key-change-in-production"

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "Terra Intake API"),
			Version: getEnv("APP_VERSION", "1.0.0"),
			Debug:   getEnvAsBool("DEBUG", false),
			Port:    getEnv("PORT", "8000"),
			Host:    getEnv("HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", "sqlite:///./terra_intake.db"),
		},
		Auth: AuthConfig{
			SecretKey:          getEnv("SECRET_KEY", DefaultSecretKey),
			TokenExpiryMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("ALLOWED_HOSTS", []string{"*"}),
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS", "HEAD"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
			MaxAge:         86400,
		},
		Email: EmailConfig{
			Provider:      strings.ToLower(getEnv("EMAIL_PROVIDER", "")),
			SMTPHost:      getEnv("SMTP_HOST", ""),
			SMTPPort:      getEnvAsInt("SMTP_PORT", 587),
			Username:      getEnv("SMTP_USERNAME", ""),
			Password:      getEnv("SMTP_PASSWORD", ""),
			Timeout:       getEnvAsDuration("SMTP_TIMEOUT", 15*time.Second),
			RatePerSecond: getEnvAsFloat("EMAIL_RATE_PER_SECOND", 2),
		},
		Notification: NotificationConfig{
			AdminEmail:    getEnv("ADMIN_EMAIL", "admin@terraindustries.com"),
			FromEmail:     getEnv("EMAIL_FROM", "noreply@terraindustries.com"),
			FromName:      getEnv("EMAIL_FROM_NAME", "Terra Industries"),
			CompanyName:   getEnv("COMPANY_NAME", "Terra Industries"),
			BaseURL:       strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:8000"), "/"),
			DrainInterval: getEnvAsDuration("QUEUE_DRAIN_INTERVAL", time.Minute),
			SweepInterval: getEnvAsDuration("QUEUE_SWEEP_INTERVAL", 30*time.Minute),
			BatchSize:     getEnvAsInt("QUEUE_BATCH_SIZE", 10),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.App.Port == "" {
		return fmt.Errorf("PORT must be set")
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.Auth.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY must be set")
	}
	if cfg.Auth.TokenExpiryMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be greater than 0")
	}
	switch cfg.Email.Provider {
	case "", EmailProviderSMTP, EmailProviderLog:
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be one of %q, %q or empty", EmailProviderSMTP, EmailProviderLog)
	}
	if cfg.Notification.DrainInterval <= 0 {
		return fmt.Errorf("QUEUE_DRAIN_INTERVAL must be greater than 0")
	}
	if cfg.Notification.SweepInterval <= 0 {
		return fmt.Errorf("QUEUE_SWEEP_INTERVAL must be greater than 0")
	}
	if cfg.Notification.BatchSize < 1 || cfg.Notification.BatchSize > 100 {
		return fmt.Errorf("QUEUE_BATCH_SIZE must be between 1 and 100")
	}
	if cfg.Notification.AdminEmail == "" {
		return fmt.Errorf("ADMIN_EMAIL must be set")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// IsPostgres checks if the database URL is for PostgreSQL
func (c *DatabaseConfig) IsPostgres() bool {
	return strings.HasPrefix(c.URL, "postgres://") || strings.HasPrefix(c.URL, "postgresql://") ||
		strings.Contains(c.URL, "host=")
}

// GetPostgresDSN converts a postgres:// URL to the key=value DSN format.
// URLs already in DSN format are returned unchanged.
func (c *DatabaseConfig) GetPostgresDSN() string {
	if !strings.HasPrefix(c.URL, "postgres://") && !strings.HasPrefix(c.URL, "postgresql://") {
		return c.URL
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return c.URL
	}

	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	dbname := strings.TrimPrefix(u.Path, "/")
	if dbname == "" {
		dbname = "postgres"
	}
	sslmode := u.Query().Get("sslmode")
	if sslmode == "" {
		sslmode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s", host, port, u.User.Username(), dbname, sslmode)
	if password, ok := u.User.Password(); ok && password != "" {
		dsn += " password=" + password
	}
	return dsn
}

// GetSQLitePath extracts SQLite database path from URL
func (c *DatabaseConfig) GetSQLitePath() string {
	return strings.TrimPrefix(c.URL, "sqlite:///")
}
