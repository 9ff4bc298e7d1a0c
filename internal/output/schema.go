package output

import (
	"math"

	"github.com/hargabyte/sentvec/internal/embeddings"
)

// EmbeddingOutput is the result of embedding a list of texts.
type EmbeddingOutput struct {
	// Model is the identifier the vectors were produced with.
	Model string `yaml:"model" json:"model"`

	// Dimensions is the length of every vector.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// Count is the number of vectors, equal to the number of inputs.
	Count int `yaml:"count" json:"count"`

	// Normalized is true when vectors are unit length.
	Normalized bool `yaml:"normalized" json:"normalized"`

	Embeddings []Embedding `yaml:"embeddings" json:"embeddings"`
}

// Embedding is one input text and its vector.
type Embedding struct {
	Index int    `yaml:"index" json:"index"`
	ID    string `yaml:"id" json:"id"`

	// Text is omitted when the caller asks for vectors only.
	Text   string    `yaml:"text,omitempty" json:"text,omitempty"`
	Vector []float64 `yaml:"vector,flow" json:"vector"`
}

// ModelInfoOutput describes the configured model (sentvec info).
type ModelInfoOutput struct {
	Provider     string `yaml:"provider" json:"provider"`
	Model        string `yaml:"model" json:"model"`
	DefaultModel string `yaml:"default_model" json:"default_model"`
	State        string `yaml:"state" json:"state"`
	Dimensions   int    `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`
	ModelDir     string `yaml:"model_dir,omitempty" json:"model_dir,omitempty"`
	CacheDir     string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
	Normalized   bool   `yaml:"normalized" json:"normalized"`
	// Reachable is set by 'sentvec info --load' for the ollama provider.
	Reachable *bool `yaml:"reachable,omitempty" json:"reachable,omitempty"`
}

// SaveOutput reports where a model was persisted (sentvec save).
type SaveOutput struct {
	Model string `yaml:"model" json:"model"`
	Path  string `yaml:"path" json:"path"`
	Files int    `yaml:"files" json:"files"`
}

// RoundVector converts v to float64 rounded to precision decimal places.
func RoundVector(v []float32, precision int) []float64 {
	scale := math.Pow(10, float64(precision))
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Round(float64(x)*scale) / scale
	}
	return out
}

// NewEmbeddingOutput pairs texts with their vectors. texts and vecs must be
// the same length.
func NewEmbeddingOutput(model string, texts []string, vecs [][]float32, precision int, withText, normalized bool) *EmbeddingOutput {
	out := &EmbeddingOutput{
		Model:      model,
		Count:      len(vecs),
		Normalized: normalized,
		Embeddings: make([]Embedding, len(vecs)),
	}
	if len(vecs) > 0 {
		out.Dimensions = len(vecs[0])
	}
	for i, v := range vecs {
		e := Embedding{
			Index:  i,
			ID:     embeddings.ContentHash(texts[i]),
			Vector: RoundVector(v, precision),
		}
		if withText {
			e.Text = texts[i]
		}
		out.Embeddings[i] = e
	}
	return out
}
