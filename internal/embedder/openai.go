package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dshills/docsearch-mcp/internal/retry"
)

// Remote provider limits
const (
	DefaultOpenAIModel = "text-embedding-3-small"
	MaxBatchSize       = 100
)

// OpenAIProvider implements Embedder using any OpenAI-compatible embeddings API
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
	retry     retry.Config
}

// OpenAIConfig holds the remote provider settings
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // Optional: OpenAI-compatible endpoint
	Model     string
	Dimension int
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key not set", ErrNoProviderEnabled)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		retry:     retry.DefaultConfig(),
	}, nil
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := o.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}

	return resp.Embeddings[0], nil
}

func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	model := req.Model
	if model == "" {
		model = o.model
	}

	embeddings, err := retry.Do(ctx, o.retry, func() ([]*Embedding, error) {
		return o.callAPI(ctx, req.Texts, model)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOpenAI,
		Model:      model,
	}, nil
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		Dimensions:     o.dimension,
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, retry.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}

	embeddings := make([]*Embedding, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, retry.Permanent(fmt.Errorf("embedding index %d out of range", item.Index))
		}
		if len(item.Embedding) != o.dimension {
			return nil, retry.Permanent(fmt.Errorf("embedding has %d dimensions, want %d", len(item.Embedding), o.dimension))
		}
		embeddings[item.Index] = &Embedding{
			Vector:    item.Embedding,
			Dimension: len(item.Embedding),
			Provider:  ProviderOpenAI,
			Model:     model,
		}
	}

	return embeddings, nil
}

// classifyAPIError marks client-side failures (4xx other than 429) as permanent
func classifyAPIError(err error) error {
	status := 0

	var reqErr *openai.RequestError
	var apiErr *openai.APIError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return retry.Permanent(fmt.Errorf("embedding API error %d: %w", status, err))
	}
	return err
}

func (o *OpenAIProvider) Dimension() int   { return o.dimension }
func (o *OpenAIProvider) Provider() string { return ProviderOpenAI }
func (o *OpenAIProvider) Model() string    { return o.model }
func (o *OpenAIProvider) Close() error     { return nil }
