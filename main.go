package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/serisow/docstore/config"
	"github.com/serisow/docstore/logging"
	"github.com/serisow/docstore/plugin_registry"
	"github.com/serisow/docstore/services/rag_service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func initLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	fileHandler, err := logging.NewDailyFileHandler(cfg.LogDir, "docstore", os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	if err != nil {
		return nil, nil, err
	}
	return slog.New(fileHandler), fileHandler.Close, nil
}

func registerEmbedders(registry *plugin_registry.PluginRegistry, cfg config.Config, logger *slog.Logger) {
	registry.RegisterEmbedder("openai", func(dimensions int) (rag_service.Embedder, error) {
		if cfg.EmbeddingAPIKey == "" && cfg.EmbeddingBaseURL == "" {
			return nil, fmt.Errorf("EMBEDDING_API_KEY or EMBEDDING_BASE_URL must be set")
		}
		return rag_service.NewOpenAIEmbedder(rag_service.OpenAIEmbedderConfig{
			APIKey:            cfg.EmbeddingAPIKey,
			BaseURL:           cfg.EmbeddingBaseURL,
			Model:             cfg.EmbeddingModel,
			Dimensions:        dimensions,
			RequestsPerSecond: cfg.EmbeddingRequestsPerSecond,
		}, logger), nil
	})

	// Deterministic and offline; meant for development and tests.
	registry.RegisterEmbedder("hash", func(dimensions int) (rag_service.Embedder, error) {
		return rag_service.NewHashEmbedder(dimensions), nil
	})
}
