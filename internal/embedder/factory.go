package embedder

import (
	"fmt"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider  string // hash (default) or openai
	Dimension int
	Model     string
	APIKey    string
	BaseURL   string
	CacheSize int // Wraps the provider in a CachedEmbedder when positive
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var emb Embedder

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderHash:
		emb = NewHashProvider(cfg.Dimension)
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
		if err != nil {
			return nil, err
		}
		emb = p
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		return WithCache(emb, NewCache(cfg.CacheSize)), nil
	}
	return emb, nil
}
