package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultModel is the multilingual sentence-transformers model used when no
// identifier is configured.
const DefaultModel = "sentence-transformers/distiluse-base-multilingual-cased-v1"

// State is the lifecycle state of a SentenceEmbedder.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// warmupText is embedded once at load time to learn the output dimension.
const warmupText = "dimension check"

// SentenceEmbedder implements Embedder on top of a pretrained
// sentence-embedding model run locally through hugot.
//
// The model is resolved and opened by Load; Embed and Save fail with
// ErrNotLoaded until then. All methods are safe for concurrent use, inference
// calls are serialised.
type SentenceEmbedder struct {
	modelID   string
	cacheDir  string
	saveDir   string
	onnxFile  string
	hubToken  string
	normalize bool
	logger    *slog.Logger

	// Replaced in tests.
	resolve resolveFunc
	open    runtimeOpener

	mu       sync.Mutex
	state    State
	rt       runtime
	head     *head
	modelDir string
	dims     int
}

// Option configures a SentenceEmbedder.
type Option func(*SentenceEmbedder)

// WithCacheDir sets where hub models are downloaded to.
func WithCacheDir(dir string) Option {
	return func(e *SentenceEmbedder) { e.cacheDir = dir }
}

// WithSaveDir sets the directory Save uses when called with an empty path.
func WithSaveDir(dir string) Option {
	return func(e *SentenceEmbedder) { e.saveDir = dir }
}

// WithOnnxFile selects the ONNX file inside a hub repository,
// e.g. "onnx/model.onnx".
func WithOnnxFile(path string) Option {
	return func(e *SentenceEmbedder) { e.onnxFile = path }
}

// WithHubToken sets the access token used for hub downloads.
func WithHubToken(token string) Option {
	return func(e *SentenceEmbedder) { e.hubToken = token }
}

// WithNormalize controls L2 normalisation of returned vectors (default on).
func WithNormalize(on bool) Option {
	return func(e *SentenceEmbedder) { e.normalize = on }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *SentenceEmbedder) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewSentenceEmbedder creates an unloaded embedder for modelID, which is
// either a hub name such as "sentence-transformers/all-MiniLM-L6-v2" or a
// local model directory. An empty modelID selects DefaultModel.
func NewSentenceEmbedder(modelID string, opts ...Option) *SentenceEmbedder {
	if modelID == "" {
		modelID = DefaultModel
	}
	e := &SentenceEmbedder{
		modelID:   modelID,
		cacheDir:  DefaultCacheDir(),
		normalize: true,
		logger:    slog.New(slog.DiscardHandler),
		resolve:   resolveModel,
		open:      openHugotRuntime,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DefaultModelName returns DefaultModel.
func (e *SentenceEmbedder) DefaultModelName() string {
	return DefaultModel
}

// ModelID returns the configured model identifier.
func (e *SentenceEmbedder) ModelID() string {
	return e.modelID
}

// State reports the current lifecycle state.
func (e *SentenceEmbedder) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Loaded reports whether Embed and Save can be called.
func (e *SentenceEmbedder) Loaded() bool {
	return e.State() == StateLoaded
}

// Dimensions returns the embedding vector length, or 0 before Load.
func (e *SentenceEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}

// ModelDir returns the local directory the model was loaded from,
// or "" before Load.
func (e *SentenceEmbedder) ModelDir() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modelDir
}

// Load resolves the model identifier to a local directory, downloading it
// from the hub if needed, and opens the inference runtime.
// Calling Load on a loaded embedder is a no-op.
func (e *SentenceEmbedder) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateLoaded:
		e.logger.Debug("model already loaded", "model", e.modelID)
		return nil
	case StateClosed:
		return ErrClosed
	}

	dir, err := e.resolve(ctx, e.modelID, resolveOptions{
		cacheDir: e.cacheDir,
		onnxFile: e.onnxFile,
		token:    e.hubToken,
	})
	if err != nil {
		return fmt.Errorf("resolve model %q: %w", e.modelID, err)
	}
	e.logger.Debug("resolved model", "model", e.modelID, "dir", dir)

	h, err := loadHead(dir)
	if err != nil {
		return fmt.Errorf("read modules of %q: %w", dir, err)
	}
	if h != nil && h.normalize && !e.normalize {
		e.logger.Debug("model ends in a Normalize module, normalising output", "model", e.modelID)
		e.normalize = true
	}

	// Normalising before a dense projection would change its input, so the
	// runtime only normalises when nothing follows pooling.
	rt, err := e.open(ctx, dir, runtimeConfig{
		onnxFile:  e.onnxFile,
		normalize: e.normalize && h.outputDims() == 0,
	})
	if err != nil {
		return fmt.Errorf("open model %q: %w", dir, err)
	}

	sample, err := rt.Encode([]string{warmupText})
	if err != nil {
		rt.Close()
		return fmt.Errorf("warm up model %q: %w", dir, err)
	}
	if len(sample) != 1 || len(sample[0]) == 0 {
		rt.Close()
		return fmt.Errorf("%w: warmup returned %d vectors", ErrShapeMismatch, len(sample))
	}
	dims := len(sample[0])
	if in := h.inputDims(); in != 0 {
		if dims != in {
			rt.Close()
			return fmt.Errorf("%w: transformer gives %d dimensions, dense module expects %d", ErrShapeMismatch, dims, in)
		}
		out, err := h.apply(sample[0])
		if err != nil {
			rt.Close()
			return err
		}
		if len(out) != h.outputDims() {
			rt.Close()
			return fmt.Errorf("%w: dense head gives %d dimensions, want %d", ErrShapeMismatch, len(out), h.outputDims())
		}
		dims = len(out)
		e.logger.Debug("dense head attached", "model", e.modelID, "layers", len(h.layers), "in", in, "out", dims)
	}

	e.rt = rt
	e.head = h
	e.modelDir = dir
	e.dims = dims
	e.state = StateLoaded
	e.logger.Info("model loaded", "model", e.modelID, "dimensions", e.dims)
	return nil
}

// Embed returns one vector per text, in input order. Vectors are plain
// float32 slices owned by the caller, unit length when normalisation is on.
func (e *SentenceEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.readyLocked(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := e.rt.Encode(texts)
	if err != nil {
		return nil, fmt.Errorf("encode %d texts: %w", len(texts), err)
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrShapeMismatch, len(raw), len(texts))
	}

	out := make([][]float32, len(raw))
	for i, v := range raw {
		var vec []float32
		if e.head.outputDims() != 0 {
			if vec, err = e.head.apply(v); err != nil {
				return nil, fmt.Errorf("vector %d: %w", i, err)
			}
		} else {
			vec = make([]float32, len(v))
			copy(vec, v)
		}
		if len(vec) != e.dims {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrShapeMismatch, i, len(vec), e.dims)
		}
		if e.normalize {
			Normalize(vec)
		}
		out[i] = vec
	}
	return out, nil
}

// BatchEmbed embeds texts in chunks of at most batchSize to bound memory
// per inference call. A batchSize of 0 means DefaultBatchSize.
func (e *SentenceEmbedder) BatchEmbed(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	return e.BatchEmbedWithProgress(ctx, texts, batchSize, nil)
}

// BatchEmbedWithProgress is BatchEmbed with a per-chunk progress callback.
func (e *SentenceEmbedder) BatchEmbedWithProgress(ctx context.Context, texts []string, batchSize int, progress ProgressFunc) ([][]float32, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return EmbedInBatches(ctx, e.Embed, texts, batchSize, progress)
}

// Save copies the loaded model into path, creating missing parent
// directories. An empty path falls back to the configured save directory.
// The result can be loaded again with NewSentenceEmbedder(path).
func (e *SentenceEmbedder) Save(path string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.readyLocked(); err != nil {
		return "", err
	}
	if path == "" {
		path = e.saveDir
	}
	if path == "" {
		return "", ErrNoSavePath
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving save path: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("creating save directory: %w", err)
	}
	if err := copyModelDir(e.modelDir, abs); err != nil {
		return "", fmt.Errorf("saving model to %s: %w", abs, err)
	}
	e.logger.Info("model saved", "model", e.modelID, "path", abs)
	return abs, nil
}

// Close releases the runtime. Further calls fail with ErrClosed.
func (e *SentenceEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateClosed {
		return nil
	}
	e.state = StateClosed
	if e.rt == nil {
		return nil
	}
	err := e.rt.Close()
	e.rt = nil
	e.head = nil
	return err
}

func (e *SentenceEmbedder) ready() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readyLocked()
}

func (e *SentenceEmbedder) readyLocked() error {
	switch e.state {
	case StateLoaded:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotLoaded
	}
}
