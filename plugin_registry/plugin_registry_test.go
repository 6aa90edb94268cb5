package plugin_registry_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/serisow/docstore/plugin_registry"
	"github.com/serisow/docstore/services/rag_service"
)

type MockEmbedder struct {
	dims int
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, m.dims)
	}
	return out, nil
}

func (m *MockEmbedder) Dimensions() int { return m.dims }
func (m *MockEmbedder) Name() string    { return "mock" }

func TestRegisterAndGetEmbedder(t *testing.T) {
	registry := plugin_registry.NewPluginRegistry()

	registry.RegisterEmbedder("mock", func(dimensions int) (rag_service.Embedder, error) {
		return &MockEmbedder{dims: dimensions}, nil
	})

	embedder, err := registry.NewEmbedder("mock", 8)
	if err != nil {
		t.Fatalf("Expected to build embedder, got error: %v", err)
	}

	if embedder.Dimensions() != 8 {
		t.Errorf("Expected 8 dimensions, got %d", embedder.Dimensions())
	}
}

func TestGetUnregisteredEmbedder(t *testing.T) {
	registry := plugin_registry.NewPluginRegistry()

	_, err := registry.NewEmbedder("unknown_provider", 8)
	if err == nil {
		t.Fatal("Expected error when building unregistered embedder, got nil")
	}

	expectedErrorMsg := "unknown embedding provider: unknown_provider"
	if err.Error() != expectedErrorMsg {
		t.Errorf("Expected error '%s', got '%s'", expectedErrorMsg, err.Error())
	}
}

func TestEmbedderDimensionMismatch(t *testing.T) {
	registry := plugin_registry.NewPluginRegistry()

	registry.RegisterEmbedder("fixed", func(int) (rag_service.Embedder, error) {
		return &MockEmbedder{dims: 384}, nil
	})

	_, err := registry.NewEmbedder("fixed", 1024)
	if err == nil {
		t.Fatal("Expected dimension mismatch error, got nil")
	}
	if !strings.Contains(err.Error(), "384") {
		t.Errorf("Expected error to mention produced dimensions, got '%s'", err.Error())
	}
}

func TestEmbedderFactoryError(t *testing.T) {
	registry := plugin_registry.NewPluginRegistry()
	factoryErr := errors.New("missing api key")

	registry.RegisterEmbedder("broken", func(int) (rag_service.Embedder, error) {
		return nil, factoryErr
	})

	_, err := registry.NewEmbedder("broken", 8)
	if !errors.Is(err, factoryErr) {
		t.Errorf("Expected factory error to be wrapped, got %v", err)
	}
}

func TestEmbedderNames(t *testing.T) {
	registry := plugin_registry.NewPluginRegistry()
	for _, name := range []string{"openai", "hash"} {
		registry.RegisterEmbedder(name, func(d int) (rag_service.Embedder, error) {
			return rag_service.NewHashEmbedder(d), nil
		})
	}

	names := registry.EmbedderNames()
	if !reflect.DeepEqual(names, []string{"hash", "openai"}) {
		t.Errorf("Expected sorted provider names, got %v", names)
	}
}
