package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Session    SessionConfig
	Automation AutomationConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/evergreen?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// SessionConfig holds live-session clock and fan-out settings.
type SessionConfig struct {
	SweepIntervalSec  int    // auto-start watcher sweep period
	SyncIntervalMS    int    // sync broadcast tick period
	PersistEveryTicks int    // persist last known offset every N sync ticks
	EndedRedirectPath string // client navigation target carried on the ended event
}

// AutomationConfig holds timeline scheduler settings.
type AutomationConfig struct {
	ReconcileIntervalSec int // live-session reconciliation period
	CleanupIntervalMin   int // fired-flag reset sweep period
	KeywordReplyDelayMS  int // delay before a keyword auto-reply is sent
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/evergreen?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "evergreen"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Session: SessionConfig{
			SweepIntervalSec:  getEnvInt("SESSION_SWEEP_INTERVAL_SEC", 30),
			SyncIntervalMS:    getEnvInt("SESSION_SYNC_INTERVAL_MS", 1000),
			PersistEveryTicks: getEnvInt("SESSION_PERSIST_EVERY_TICKS", 5),
			EndedRedirectPath: getEnv("SESSION_ENDED_REDIRECT_PATH", "/webinar-ended"),
		},
		Automation: AutomationConfig{
			ReconcileIntervalSec: getEnvInt("AUTOMATION_RECONCILE_INTERVAL_SEC", 5),
			CleanupIntervalMin:   getEnvInt("AUTOMATION_CLEANUP_INTERVAL_MIN", 60),
			KeywordReplyDelayMS:  getEnvInt("AUTOMATION_KEYWORD_REPLY_DELAY_MS", 1000),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
