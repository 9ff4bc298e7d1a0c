package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultOllamaModel is the embedding model requested from Ollama by default.
	DefaultOllamaModel = "all-minilm"
	// DefaultOllamaURL is the default Ollama API endpoint.
	DefaultOllamaURL = "http://localhost:11434"
)

// OllamaEmbedder implements Embedder using the Ollama API. It needs no
// load step: the server owns the model.
type OllamaEmbedder struct {
	client  *http.Client
	baseURL string
	model   string
	mu      sync.Mutex
}

// ollamaEmbedRequest is the request body for Ollama embeddings API.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the response from Ollama embeddings API.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates an OllamaEmbedder. Empty arguments select
// DefaultOllamaURL and DefaultOllamaModel.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaEmbedder{
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: baseURL,
		model:   model,
	}
}

// DefaultModelName returns DefaultOllamaModel.
func (e *OllamaEmbedder) DefaultModelName() string {
	return DefaultOllamaModel
}

// ModelID returns the model requested from the server.
func (e *OllamaEmbedder) ModelID() string {
	return e.model
}

// Embed generates one embedding per text.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := e.doEmbed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: ollama returned %d embeddings for %d texts", ErrShapeMismatch, len(vecs), len(texts))
	}
	return vecs, nil
}

// BatchEmbed bounds request size by sending at most batchSize texts per call.
func (e *OllamaEmbedder) BatchEmbed(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	return EmbedInBatches(ctx, e.Embed, texts, batchSize, nil)
}

// BatchEmbedWithProgress is BatchEmbed with a per-chunk progress callback.
func (e *OllamaEmbedder) BatchEmbedWithProgress(ctx context.Context, texts []string, batchSize int, progress ProgressFunc) ([][]float32, error) {
	return EmbedInBatches(ctx, e.Embed, texts, batchSize, progress)
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, input []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	body, err := json.Marshal(ollamaEmbedRequest{
		Model: e.model,
		Input: input,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result.Embeddings, nil
}

// IsAvailable checks if Ollama is running and serves the embedding model.
func (e *OllamaEmbedder) IsAvailable(ctx context.Context) bool {
	_, err := e.Embed(ctx, []string{"test"})
	return err == nil
}
