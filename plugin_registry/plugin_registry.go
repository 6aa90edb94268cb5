package plugin_registry

import (
	"fmt"
	"sort"

	"github.com/serisow/docstore/services/rag_service"
)

// EmbedderFactory builds an embedder for the configured dimensionality.
type EmbedderFactory func(dimensions int) (rag_service.Embedder, error)

type PluginRegistry struct {
	embedders map[string]EmbedderFactory
}

func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{
		embedders: make(map[string]EmbedderFactory),
	}
}

// RegisterEmbedder registers an embedding provider
func (pr *PluginRegistry) RegisterEmbedder(name string, factory EmbedderFactory) {
	pr.embedders[name] = factory
}

// NewEmbedder builds the named embedder and checks it produces vectors of the
// requested dimensionality.
func (pr *PluginRegistry) NewEmbedder(name string, dimensions int) (rag_service.Embedder, error) {
	factory, ok := pr.embedders[name]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s", name)
	}
	embedder, err := factory(dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s embedder: %w", name, err)
	}
	if embedder.Dimensions() != dimensions {
		return nil, fmt.Errorf("%s embedder produces %d dimensions, store expects %d", name, embedder.Dimensions(), dimensions)
	}
	return embedder, nil
}

// EmbedderNames lists the registered providers in sorted order.
func (pr *PluginRegistry) EmbedderNames() []string {
	names := make([]string, 0, len(pr.embedders))
	for name := range pr.embedders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
