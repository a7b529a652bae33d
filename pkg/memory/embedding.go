package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrEmbeddingUnavailable is returned by Add when no embedding provider can
// serve the request. Chunks cannot be indexed without their embedding.
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// EmbeddingProvider generates vector embeddings from text. Its absence
// degrades search to lexical-only operation without error.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	IsAvailable() bool
}

// OpenAIProvider implements EmbeddingProvider on the OpenAI embeddings API.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	dimension int
	available bool
}

// NewOpenAIProvider creates an embedding provider for the given model.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	dimension := 1536
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if model == string(openai.EmbeddingModelTextEmbedding3Large) {
		dimension = 3072
	}

	return &OpenAIProvider{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		dimension: dimension,
		available: apiKey != "",
	}
}

// Dimension returns the fixed embedding dimension for the configured model.
func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

// IsAvailable reports whether the provider can serve embedding requests.
func (p *OpenAIProvider) IsAvailable() bool {
	return p.available
}

// Embed generates one embedding vector for text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if !p.available {
		return nil, ErrEmbeddingUnavailable
	}

	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}

	raw := resp.Data[0].Embedding
	embedding := make([]float32, len(raw))
	for i, v := range raw {
		embedding[i] = float32(v)
	}
	if len(embedding) != p.dimension {
		return nil, fmt.Errorf("openai embeddings: got dimension %d, want %d", len(embedding), p.dimension)
	}
	return embedding, nil
}
