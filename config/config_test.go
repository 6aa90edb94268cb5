package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "DATABASE_DRIVER", "EMBEDDING_PROVIDER", "EMBEDDING_DIMENSIONS", "DOMAINS", "LOG_LEVEL", "INDEX_CHECK_INTERVAL")

	cfg := Load()
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "openai", cfg.EmbeddingProvider)
	assert.Equal(t, 1024, cfg.EmbeddingDimensions)
	assert.Equal(t, []string{"example.com"}, cfg.Domains)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, time.Hour, cfg.IndexCheckInterval)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("EMBEDDING_DIMENSIONS", "384")
	t.Setenv("EMBEDDING_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("DOMAINS", "docs.example.com, www.docs.example.com ,")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("INDEX_CHECK_INTERVAL", "0")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	unsetEnv(t, "EMBEDDING_API_KEY")

	cfg := Load()
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 384, cfg.EmbeddingDimensions)
	assert.Equal(t, 2.5, cfg.EmbeddingRequestsPerSecond)
	assert.Equal(t, []string{"docs.example.com", "www.docs.example.com"}, cfg.Domains)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Zero(t, cfg.IndexCheckInterval)
	assert.Equal(t, "sk-test", cfg.EmbeddingAPIKey)
}

func TestMalformedNumbersFallBack(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "many")
	t.Setenv("EMBEDDING_MAX_CONCURRENCY", "")

	cfg := Load()
	assert.Equal(t, 1024, cfg.EmbeddingDimensions)
	assert.Equal(t, 4, cfg.EmbeddingMaxConcurrency)
}
