// Package embeddings turns text into fixed-length vectors using pretrained
// sentence-embedding models.
package embeddings

import (
	"context"
	"fmt"
)

// DefaultBatchSize is the chunk size BatchEmbed uses when given zero.
const DefaultBatchSize = 32

// Embedder generates vector embeddings from text.
type Embedder interface {
	// DefaultModelName returns the canonical model identifier of the provider.
	DefaultModelName() string

	// Embed returns one vector per input text, in input order.
	// It fails with ErrNotLoaded if the provider is not ready.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// BatchEmbed embeds texts in chunks of at most batchSize items.
	BatchEmbed(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

// EmbedFunc is the per-chunk call used by EmbedInBatches.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// ProgressFunc is called after each chunk with the number of texts embedded so far.
type ProgressFunc func(done, total int)

// EmbedText embeds a single string.
func EmbedText(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for 1 text", ErrShapeMismatch, len(vecs))
	}
	return vecs[0], nil
}

// EmbedInBatches splits texts into contiguous chunks of at most batchSize,
// calls embed once per chunk and concatenates the results in input order.
// Providers without native batching implement BatchEmbed with it.
func EmbedInBatches(ctx context.Context, embed EmbedFunc, texts []string, batchSize int, progress ProgressFunc) ([][]float32, error) {
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, batchSize)
	}

	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+batchSize, len(texts))
		chunk := texts[start:end]

		vecs, err := embed(ctx, chunk)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(chunk) {
			return nil, fmt.Errorf("%w: chunk [%d:%d] returned %d vectors", ErrShapeMismatch, start, end, len(vecs))
		}
		result = append(result, vecs...)

		if progress != nil {
			progress(end, len(texts))
		}
	}
	return result, nil
}
