package config

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment  string
	Domains      []string
	CertCacheDir string
	HTTPPort     string

	DatabaseDriver string
	DatabaseURL    string

	EmbeddingProvider          string
	EmbeddingBaseURL           string
	EmbeddingModel             string
	EmbeddingAPIKey            string
	EmbeddingDimensions        int
	EmbeddingMaxConcurrency    int
	EmbeddingRequestsPerSecond float64

	LogDir             string
	LogLevel           slog.Level
	IndexCheckInterval time.Duration
}

var isTest bool

func init() {
	isTest = os.Getenv("GO_ENVIRONMENT") == "test"
	if !isTest {
		err := godotenv.Load()
		if err != nil {
			log.Println("Warning: Error loading .env file:", err)
		}
	}
}

func Load() Config {
	return Config{
		Environment:  getEnv("ENVIRONMENT", "development"),
		Domains:      getEnvAsList("DOMAINS", []string{"example.com"}),
		CertCacheDir: getEnv("CERT_CACHE_DIR", "../docstore_certs"),
		HTTPPort:     getEnv("HTTP_PORT", "8086"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		EmbeddingProvider:          getEnv("EMBEDDING_PROVIDER", "openai"),
		EmbeddingBaseURL:           getEnv("EMBEDDING_BASE_URL", ""),
		EmbeddingModel:             getEnv("EMBEDDING_MODEL", "BAAI/bge-large-en-v1.5"),
		EmbeddingAPIKey:            getEnv("EMBEDDING_API_KEY", getEnv("OPENAI_API_KEY", "")),
		EmbeddingDimensions:        getEnvAsInt("EMBEDDING_DIMENSIONS", 1024),
		EmbeddingMaxConcurrency:    getEnvAsInt("EMBEDDING_MAX_CONCURRENCY", 4),
		EmbeddingRequestsPerSecond: getEnvAsFloat("EMBEDDING_REQUESTS_PER_SECOND", 10),

		LogDir:             getEnv("LOG_DIR", "logs"),
		LogLevel:           getEnvAsLevel("LOG_LEVEL", slog.LevelInfo),
		IndexCheckInterval: time.Duration(getEnvAsInt("INDEX_CHECK_INTERVAL", 3600)) * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	var out []string
	for _, v := range strings.Split(strValue, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvAsLevel(key string, fallback slog.Level) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv(key, ""))); err == nil {
		return level
	}
	return fallback
}
