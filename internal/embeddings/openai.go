package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is the embedding model requested from an
// OpenAI-compatible endpoint by default.
const DefaultOpenAIModel = string(openai.SmallEmbedding3)

// OpenAIEmbedder implements Embedder against any OpenAI-compatible
// /embeddings endpoint. Like OllamaEmbedder it needs no load step.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	normalize bool
}

// NewOpenAIEmbedder creates an OpenAIEmbedder. An empty baseURL selects the
// OpenAI API, an empty model DefaultOpenAIModel. When normalize is set,
// vectors are L2-normalised before they are returned.
func NewOpenAIEmbedder(baseURL, apiKey, model string, normalize bool) *OpenAIEmbedder {
	if model == "" {
		model = DefaultOpenAIModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		normalize: normalize,
	}
}

// DefaultModelName returns DefaultOpenAIModel.
func (e *OpenAIEmbedder) DefaultModelName() string {
	return DefaultOpenAIModel
}

// ModelID returns the model requested from the endpoint.
func (e *OpenAIEmbedder) ModelID() string {
	return e.model
}

// Embed sends all texts in one request and returns one vector per text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: endpoint returned %d embeddings for %d texts", ErrShapeMismatch, len(resp.Data), len(texts))
	}

	// Data carries its own index; servers are not required to keep order.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || out[d.Index] != nil {
			return nil, fmt.Errorf("%w: unexpected embedding index %d", ErrShapeMismatch, d.Index)
		}
		vec := d.Embedding
		if e.normalize {
			Normalize(vec)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// BatchEmbed sends at most batchSize texts per request.
func (e *OpenAIEmbedder) BatchEmbed(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	return e.BatchEmbedWithProgress(ctx, texts, batchSize, nil)
}

// BatchEmbedWithProgress is BatchEmbed with a per-chunk progress callback.
func (e *OpenAIEmbedder) BatchEmbedWithProgress(ctx context.Context, texts []string, batchSize int, progress ProgressFunc) ([][]float32, error) {
	return EmbedInBatches(ctx, e.Embed, texts, batchSize, progress)
}
