// Package config centralises configuration parsing for the health metrics service.
package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sosodev/duration"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config captures runtime configuration values for the service binaries.
type Config struct {
	HTTPAddress        string
	MetricsAddress     string
	PostgresURL        string
	StorageBackend     string
	MaxBodyBytes       int64
	KafkaBrokers       []string
	SchemaRegistryURL  string
	OutboxEnabled      bool
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	ConsumerGroupID    string
	ConsumerTopics     []string
	DLQPollInterval    time.Duration // Interval between DLQ polling iterations.
	DLQMaxRetries      int           // Maximum number of DLQ retry attempts before quarantine.
	DLQBaseDelay       time.Duration // Base delay used for exponential backoff.
	DLQBatchSize       int
}

// Load merges an optional .env file into the environment and reads Config from it.
// Variables already set in the process environment win over the file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("config: ignoring unreadable .env: %v", err)
	}
	return FromEnv()
}

// FromEnv reads Config from the process environment, applying defaults for local dev.
func FromEnv() Config {
	cfg := Config{
		HTTPAddress:        getEnv("HTTP_ADDRESS", ":8080"),
		MetricsAddress:     getEnv("METRICS_ADDRESS", ":9090"),
		PostgresURL:        getEnv("POSTGRES_URL", "postgres://localhost:5432/health?sslmode=disable"),
		StorageBackend:     strings.ToLower(getEnv("STORAGE_BACKEND", StoragePostgres)),
		MaxBodyBytes:       int64(getIntEnv("MAX_BODY_BYTES", 10<<20)),
		SchemaRegistryURL:  getEnv("SCHEMA_REGISTRY_URL", "http://schema-registry:8081"),
		OutboxEnabled:      getBoolEnv("OUTBOX_ENABLED", true),
		OutboxPollInterval: getDurationEnv("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    getIntEnv("OUTBOX_BATCH_SIZE", 25),
		ConsumerGroupID:    getEnv("CONSUMER_GROUP_ID", "health-metrics-audit"),
		DLQPollInterval:    getDurationEnv("DLQ_POLL_INTERVAL", 30*time.Second),
		DLQMaxRetries:      getIntEnv("DLQ_MAX_RETRIES", 5),
		DLQBaseDelay:       getDurationEnv("DLQ_BASE_DELAY", time.Minute),
		DLQBatchSize:       getIntEnv("DLQ_BATCH_SIZE", 50),
	}

	cfg.KafkaBrokers = splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092"))
	cfg.ConsumerTopics = splitAndTrim(getEnv("CONSUMER_TOPICS", "health_metrics_ingested"))
	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getDurationEnv accepts Go durations ("2s") and ISO 8601 durations ("PT2S").
func getDurationEnv(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if parsed, err := duration.Parse(value); err == nil {
		return parsed.ToTimeDuration()
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
