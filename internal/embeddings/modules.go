package embeddings

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// modulesFile lists the sentence-transformers modules that follow the
// transformer, e.g. 1_Pooling then 2_Dense.
const modulesFile = "modules.json"

const (
	moduleTransformer = "sentence_transformers.models.Transformer"
	modulePooling     = "sentence_transformers.models.Pooling"
	moduleDense       = "sentence_transformers.models.Dense"
	moduleNormalize   = "sentence_transformers.models.Normalize"
)

type moduleEntry struct {
	Idx  int    `json:"idx"`
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

type poolingConfig struct {
	CLSToken         bool `json:"pooling_mode_cls_token"`
	MeanTokens       bool `json:"pooling_mode_mean_tokens"`
	MaxTokens        bool `json:"pooling_mode_max_tokens"`
	MeanSqrtLen      bool `json:"pooling_mode_mean_sqrt_len_tokens"`
	WeightedMean     bool `json:"pooling_mode_weightedmean_tokens"`
	LastToken        bool `json:"pooling_mode_lasttoken"`
	WordEmbeddingDim int  `json:"word_embedding_dimension"`
}

type denseConfig struct {
	InFeatures         int    `json:"in_features"`
	OutFeatures        int    `json:"out_features"`
	Bias               bool   `json:"bias"`
	ActivationFunction string `json:"activation_function"`
}

// head holds the stages applied to the mean-pooled transformer output:
// zero or more dense projections and an optional final normalisation.
type head struct {
	layers    []denseLayer
	normalize bool
}

// denseLayer computes act(W·x + b) with W stored row-major as out x in.
type denseLayer struct {
	in, out int
	weight  []float32
	bias    []float32
	act     func(float32) float32
}

// inputDims is the vector length the head expects, 0 if it has no layers.
func (h *head) inputDims() int {
	if h == nil || len(h.layers) == 0 {
		return 0
	}
	return h.layers[0].in
}

// outputDims is the vector length the head produces, 0 if it has no layers.
func (h *head) outputDims() int {
	if h == nil || len(h.layers) == 0 {
		return 0
	}
	return h.layers[len(h.layers)-1].out
}

// apply runs v through every layer and returns a new vector.
func (h *head) apply(v []float32) ([]float32, error) {
	if h == nil {
		return v, nil
	}
	for i := range h.layers {
		var err error
		if v, err = h.layers[i].forward(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (l *denseLayer) forward(x []float32) ([]float32, error) {
	if len(x) != l.in {
		return nil, fmt.Errorf("%w: dense layer expects %d inputs, got %d", ErrShapeMismatch, l.in, len(x))
	}
	y := make([]float32, l.out)
	var beta float32
	if l.bias != nil {
		copy(y, l.bias)
		beta = 1
	}
	w := blas32.General{Rows: l.out, Cols: l.in, Stride: l.in, Data: l.weight}
	blas32.Gemv(blas.NoTrans, 1, w, vec32(x), beta, vec32(y))
	for i := range y {
		y[i] = l.act(y[i])
	}
	return y, nil
}

// loadHead reads modules.json in dir. It returns nil if the directory has no
// modules.json, and an ErrUnsupportedModule error for module setups hugot's
// mean pooling cannot reproduce.
func loadHead(dir string) (*head, error) {
	data, err := os.ReadFile(filepath.Join(dir, modulesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", modulesFile, err)
	}

	var entries []moduleEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", modulesFile, err)
	}

	h := &head{}
	for _, m := range entries {
		modDir := filepath.Join(dir, filepath.FromSlash(m.Path))
		switch m.Type {
		case moduleTransformer:
		case modulePooling:
			if err := checkPooling(modDir); err != nil {
				return nil, err
			}
		case moduleDense:
			layer, err := loadDense(modDir)
			if err != nil {
				return nil, fmt.Errorf("module %s: %w", m.Path, err)
			}
			if n := len(h.layers); n > 0 && h.layers[n-1].out != layer.in {
				return nil, fmt.Errorf("%w: module %s takes %d inputs, previous layer gives %d",
					ErrShapeMismatch, m.Path, layer.in, h.layers[n-1].out)
			}
			h.layers = append(h.layers, layer)
		case moduleNormalize:
			h.normalize = true
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedModule, m.Type)
		}
	}
	return h, nil
}

// checkPooling accepts only mean pooling, which is what hugot applies.
func checkPooling(modDir string) error {
	data, err := os.ReadFile(filepath.Join(modDir, "config.json"))
	if err != nil {
		return fmt.Errorf("read pooling config: %w", err)
	}
	var cfg poolingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse pooling config: %w", err)
	}
	if !cfg.MeanTokens || cfg.CLSToken || cfg.MaxTokens || cfg.MeanSqrtLen || cfg.WeightedMean || cfg.LastToken {
		return fmt.Errorf("%w: only mean-token pooling is supported", ErrUnsupportedModule)
	}
	return nil
}

func loadDense(modDir string) (denseLayer, error) {
	data, err := os.ReadFile(filepath.Join(modDir, "config.json"))
	if err != nil {
		return denseLayer{}, fmt.Errorf("read dense config: %w", err)
	}
	var cfg denseConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return denseLayer{}, fmt.Errorf("parse dense config: %w", err)
	}
	if cfg.InFeatures <= 0 || cfg.OutFeatures <= 0 {
		return denseLayer{}, fmt.Errorf("dense config has %d inputs and %d outputs", cfg.InFeatures, cfg.OutFeatures)
	}

	act, err := activation(cfg.ActivationFunction)
	if err != nil {
		return denseLayer{}, err
	}

	weightsPath := filepath.Join(modDir, "model.safetensors")
	if _, err := os.Stat(weightsPath); err != nil {
		if _, binErr := os.Stat(filepath.Join(modDir, "pytorch_model.bin")); binErr == nil {
			return denseLayer{}, fmt.Errorf("%w: dense weights only in pytorch_model.bin, convert them to model.safetensors", ErrUnsupportedModule)
		}
		return denseLayer{}, fmt.Errorf("read dense weights: %w", err)
	}
	tensors, err := readSafetensors(weightsPath)
	if err != nil {
		return denseLayer{}, err
	}

	layer := denseLayer{
		in:  cfg.InFeatures,
		out: cfg.OutFeatures,
		act: act,
	}
	w, ok := tensors["linear.weight"]
	if !ok {
		return denseLayer{}, fmt.Errorf("dense weights have no linear.weight tensor")
	}
	if !w.hasShape(cfg.OutFeatures, cfg.InFeatures) {
		return denseLayer{}, fmt.Errorf("%w: linear.weight has shape %v, want [%d %d]",
			ErrShapeMismatch, w.shape, cfg.OutFeatures, cfg.InFeatures)
	}
	layer.weight = w.data

	if cfg.Bias {
		b, ok := tensors["linear.bias"]
		if !ok {
			return denseLayer{}, fmt.Errorf("dense weights have no linear.bias tensor")
		}
		if !b.hasShape(cfg.OutFeatures) {
			return denseLayer{}, fmt.Errorf("%w: linear.bias has shape %v, want [%d]",
				ErrShapeMismatch, b.shape, cfg.OutFeatures)
		}
		layer.bias = b.data
	}
	return layer, nil
}

// activation maps a torch activation class name to its function.
func activation(name string) (func(float32) float32, error) {
	short := name
	if i := strings.LastIndex(name, "."); i >= 0 {
		short = name[i+1:]
	}
	switch short {
	case "Identity", "":
		return func(x float32) float32 { return x }, nil
	case "Tanh":
		return func(x float32) float32 { return float32(math.Tanh(float64(x))) }, nil
	case "ReLU":
		return func(x float32) float32 { return max(x, 0) }, nil
	case "Sigmoid":
		return func(x float32) float32 { return float32(1 / (1 + math.Exp(-float64(x)))) }, nil
	default:
		return nil, fmt.Errorf("%w: activation %s", ErrUnsupportedModule, name)
	}
}

type tensor struct {
	shape []int
	data  []float32
}

func (t tensor) hasShape(dims ...int) bool {
	if len(t.shape) != len(dims) {
		return false
	}
	for i := range dims {
		if t.shape[i] != dims[i] {
			return false
		}
	}
	return true
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// maxSafetensorsHeader bounds the JSON header read from disk.
const maxSafetensorsHeader = 100 << 20

// readSafetensors loads every F32, F16 or BF16 tensor in a .safetensors
// file as float32. The format is a little-endian uint64 header length, a
// JSON header mapping names to dtype, shape and byte offsets, then the data.
func readSafetensors(path string) (map[string]tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var headerLen uint64
	if err := binary.Read(f, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("read safetensors header length: %w", err)
	}
	if headerLen == 0 || headerLen > maxSafetensorsHeader {
		return nil, fmt.Errorf("safetensors header length %d out of range", headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, fmt.Errorf("read safetensors header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, fmt.Errorf("parse safetensors header: %w", err)
	}

	body, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read safetensors data: %w", err)
	}

	out := make(map[string]tensor, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		var hdr tensorHeader
		if err := json.Unmarshal(msg, &hdr); err != nil {
			return nil, fmt.Errorf("parse tensor %s: %w", name, err)
		}
		t, err := decodeTensor(hdr, body)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

func decodeTensor(hdr tensorHeader, body []byte) (tensor, error) {
	if len(hdr.DataOffsets) != 2 {
		return tensor{}, fmt.Errorf("want 2 data offsets, got %d", len(hdr.DataOffsets))
	}
	begin, end := hdr.DataOffsets[0], hdr.DataOffsets[1]
	if begin < 0 || end < begin || end > int64(len(body)) {
		return tensor{}, fmt.Errorf("data offsets [%d, %d] outside %d data bytes", begin, end, len(body))
	}
	buf := body[begin:end]

	n := 1
	for _, d := range hdr.Shape {
		if d < 0 {
			return tensor{}, fmt.Errorf("negative dimension in shape %v", hdr.Shape)
		}
		n *= d
	}

	data := make([]float32, n)
	switch hdr.DType {
	case "F32":
		if len(buf) != 4*n {
			return tensor{}, fmt.Errorf("F32 shape %v needs %d bytes, have %d", hdr.Shape, 4*n, len(buf))
		}
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
		}
	case "F16":
		if len(buf) != 2*n {
			return tensor{}, fmt.Errorf("F16 shape %v needs %d bytes, have %d", hdr.Shape, 2*n, len(buf))
		}
		for i := range data {
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[2*i:])).Float32()
		}
	case "BF16":
		if len(buf) != 2*n {
			return tensor{}, fmt.Errorf("BF16 shape %v needs %d bytes, have %d", hdr.Shape, 2*n, len(buf))
		}
		for i := range data {
			data[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(buf[2*i:])) << 16)
		}
	default:
		return tensor{}, fmt.Errorf("%w: tensor dtype %s", ErrUnsupportedModule, hdr.DType)
	}
	return tensor{shape: hdr.Shape, data: data}, nil
}
