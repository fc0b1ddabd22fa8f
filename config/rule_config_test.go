package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rule_server/pkg/apperr"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/rules")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMModel)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout())
	assert.Equal(t, 5*time.Second, cfg.ConsumerBlock())
	assert.Equal(t, 30*24*time.Hour, cfg.ProcessedTTL())
	assert.Equal(t, 25, cfg.BulkPageSize)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.Equal(t, 10*time.Minute, cfg.ClaimIdle())
	assert.Equal(t, 5, cfg.StreamMaxDeliver)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/rules")
	t.Setenv("LLM_TIMEOUT_SEC", "5")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("BULK_PAGE_SIZE", "50")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.LLMTimeout())
	assert.InDelta(t, 0.2, cfg.LLMTemperature, 1e-9)
	assert.Equal(t, 50, cfg.BulkPageSize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
}

func TestValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/rules")
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing database", func(c *Config) { c.DatabaseURL = "" }},
		{"zero llm timeout", func(c *Config) { c.LLMTimeoutSec = 0 }},
		{"negative job timeout", func(c *Config) { c.JobTimeoutSec = -1 }},
		{"zero block", func(c *Config) { c.ConsumerBlockMS = 0 }},
		{"claim idle below job budget", func(c *Config) { c.ClaimIdleSec = 300 }},
		{"negative max deliveries", func(c *Config) { c.StreamMaxDeliver = -1 }},
		{"page size too large", func(c *Config) { c.BulkPageSize = 1000 }},
		{"negative rate limit", func(c *Config) { c.RateLimitPerMinute = -1 }},
		{"production without key", func(c *Config) { c.Environment = "production" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, apperr.CodeConfigError, apperr.AsAppError(err).Code)
		})
	}
}
