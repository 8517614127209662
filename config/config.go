// Package config loads process configuration: infrastructure settings from
// the environment (optionally seeded from a .env file) and strategy
// thresholds from a YAML or JSON file.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	GatewayAddr   string
	DataDir       string
	LogLevel      string

	// Notification
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string

	// Fetching
	Workers     int
	HTTPRPS     float64
	TaskTimeout time.Duration

	// Market calendar
	Holidays []time.Time
}

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			log.Printf("[config] could not read %s: %v", f, err)
		}
	}
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/screener.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),
		DataDir:       getEnv("DATA_DIR", "data"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		TelegramToken:  getEnv("TELEGRAM_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),

		Workers:     getEnvInt("WORKERS", 8),
		HTTPRPS:     getEnvFloat("HTTP_RPS", 4),
		TaskTimeout: time.Duration(getEnvInt("TASK_TIMEOUT_SEC", 60)) * time.Second,

		Holidays: parseDates(getEnv("TW_HOLIDAYS", "")),
	}
}

// parseDates parses a comma-separated list of YYYY-MM-DD dates.
func parseDates(s string) []time.Time {
	var out []time.Time
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := time.Parse("2006-01-02", p)
		if err != nil {
			log.Printf("[config] skipping invalid holiday: %q", p)
			continue
		}
		out = append(out, d)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
