package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"rule_server/pkg/apperr"
)

func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Databases
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Stored OAuth tokens are encrypted with this key
	EncryptionKey string

	// Rule oracle
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	LLMModel           string
	LLMMaxTokens       int
	LLMTemperature     float64
	LLMTimeoutSec      int
	OracleMaxBodyChars int

	// Google OAuth (Gmail)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Worker
	WorkerID          string
	WorkerConcurrency int
	JobTimeoutSec     int
	JobMaxRetries     int

	// Stream consumer
	ConsumerBatchSize int
	ConsumerBlockMS   int
	// ClaimIdleSec is how long a job may stay unacked before another
	// consumer takes it over.
	ClaimIdleSec     int
	StreamMaxDeliver int

	// Rule runs
	ProcessedTTLHours int
	BulkPageSize      int

	// RateLimitPerMinute caps rule API requests per user; 0 disables it.
	RateLimitPerMinute int

	AllowedOrigins []string
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "rules"),
		RedisURL:    getEnv("REDIS_URL", ""),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
		LLMModel:           getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:       getEnvInt("LLM_MAX_TOKENS", 512),
		LLMTemperature:     getEnvFloat("LLM_TEMPERATURE", 0),
		LLMTimeoutSec:      getEnvInt("LLM_TIMEOUT_SEC", 30),
		OracleMaxBodyChars: getEnvInt("ORACLE_MAX_BODY_CHARS", 2000),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		WorkerID:          getEnv("WORKER_ID", generateWorkerID()),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 8),
		JobTimeoutSec:     getEnvInt("JOB_TIMEOUT_SEC", 120),
		JobMaxRetries:     getEnvInt("JOB_MAX_RETRIES", 3),

		ConsumerBatchSize: getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlockMS:   getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ClaimIdleSec:      getEnvInt("CLAIM_IDLE_SEC", 600),
		StreamMaxDeliver:  getEnvInt("STREAM_MAX_DELIVERIES", 5),

		ProcessedTTLHours: getEnvInt("PROCESSED_TTL_HOURS", 24*30),
		BulkPageSize:      getEnvInt("BULK_PAGE_SIZE", 25),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}, nil
}

// Validate reports the first setting the service cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return apperr.ConfigError("DATABASE_URL is required")
	case c.LLMTimeoutSec <= 0:
		return apperr.ConfigError("LLM_TIMEOUT_SEC must be positive")
	case c.JobTimeoutSec <= 0:
		return apperr.ConfigError("JOB_TIMEOUT_SEC must be positive")
	case c.ConsumerBlockMS <= 0:
		return apperr.ConfigError("CONSUMER_BLOCK_MS must be positive")
	case c.WorkerConcurrency <= 0:
		return apperr.ConfigError("WORKER_CONCURRENCY must be positive")
	case c.JobMaxRetries < 0:
		return apperr.ConfigError("JOB_MAX_RETRIES must not be negative")
	case c.ClaimIdle() <= c.JobTimeout()*time.Duration(c.JobMaxRetries+1):
		return apperr.ConfigError("CLAIM_IDLE_SEC must exceed JOB_TIMEOUT_SEC times attempts")
	case c.StreamMaxDeliver < 0:
		return apperr.ConfigError("STREAM_MAX_DELIVERIES must not be negative")
	case c.BulkPageSize <= 0 || c.BulkPageSize > 500:
		return apperr.ConfigError("BULK_PAGE_SIZE must be between 1 and 500")
	case c.RateLimitPerMinute < 0:
		return apperr.ConfigError("RATE_LIMIT_PER_MINUTE must not be negative")
	case c.IsProduction() && c.EncryptionKey == "":
		return apperr.ConfigError("ENCRYPTION_KEY is required in production")
	}
	return nil
}

func (c *Config) ClaimIdle() time.Duration {
	return time.Duration(c.ClaimIdleSec) * time.Second
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}

func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

func (c *Config) ConsumerBlock() time.Duration {
	return time.Duration(c.ConsumerBlockMS) * time.Millisecond
}

func (c *Config) ProcessedTTL() time.Duration {
	return time.Duration(c.ProcessedTTLHours) * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
