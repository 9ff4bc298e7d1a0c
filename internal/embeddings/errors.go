package embeddings

import "errors"

var (
	// ErrNotLoaded is returned when Embed or Save is called before Load.
	ErrNotLoaded = errors.New("model not loaded: call Load before embedding or saving")

	// ErrClosed is returned for any operation on a closed embedder.
	ErrClosed = errors.New("embedder is closed")

	// ErrNoSavePath is returned by Save when neither a path nor a save
	// directory is configured.
	ErrNoSavePath = errors.New("no save path given and no save directory configured")

	// ErrInvalidBatchSize is returned for negative batch sizes.
	ErrInvalidBatchSize = errors.New("batch size must be positive")

	// ErrShapeMismatch is returned when a provider returns a different number
	// of vectors than texts, or vectors of the wrong dimension.
	ErrShapeMismatch = errors.New("embedding shape mismatch")
)

// ErrUnsupportedModule is returned by Load when the model declares a
// sentence-transformers module sentvec cannot run, such as CLS pooling.
var ErrUnsupportedModule = errors.New("unsupported sentence-transformers module")
