package embeddings

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// fakeRuntime derives vectors from a hash of the text and a seed read from
// the model directory, so two loads of the same directory agree.
type fakeRuntime struct {
	dims     int
	seed     uint64
	calls    [][]string
	failOn   string
	closed   bool
	collapse bool
}

func (r *fakeRuntime) Encode(texts []string) ([][]float32, error) {
	r.calls = append(r.calls, append([]string(nil), texts...))
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		if r.failOn != "" && t == r.failOn {
			return nil, errUpstream
		}
		out = append(out, fakeVector(t, r.dims, r.seed))
	}
	if r.collapse && len(out) > 1 {
		out = out[:1]
	}
	return out, nil
}

func (r *fakeRuntime) Close() error {
	r.closed = true
	return nil
}

var errUpstream = errors.New("upstream failure")

func fakeVector(text string, dims int, seed uint64) []float32 {
	v := make([]float32, dims)
	for i := range v {
		h := fnv.New64a()
		fmt.Fprintf(h, "%d:%d:%s", seed, i, text)
		// Values in [-2, 2) so the raw vector is never unit length.
		v[i] = float32(h.Sum64()%4000)/1000 - 2
	}
	return v
}

// writeFakeModel creates a directory that the fake opener understands.
func writeFakeModel(t *testing.T, dir string, dims int, seed uint64) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "onnx"), 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"model.onnx":      fmt.Sprintf("dims=%d\nseed=%d\n", dims, seed),
		"tokenizer.json":  `{"version":"1.0"}`,
		"config.json":     `{"hidden_size":` + strconv.Itoa(dims) + `}`,
		"onnx/extra.onnx": "unused",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

type fakeOpener struct {
	opened   int
	last     *fakeRuntime
	lastCfg  runtimeConfig
	failOn   string
	collapse bool
}

func (o *fakeOpener) open(_ context.Context, modelDir string, cfg runtimeConfig) (runtime, error) {
	data, err := os.ReadFile(filepath.Join(modelDir, "model.onnx"))
	if err != nil {
		return nil, err
	}
	rt := &fakeRuntime{failOn: o.failOn, collapse: o.collapse}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		k, v, _ := strings.Cut(line, "=")
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad model file: %w", err)
		}
		switch k {
		case "dims":
			rt.dims = int(n)
		case "seed":
			rt.seed = n
		}
	}
	o.opened++
	o.last = rt
	o.lastCfg = cfg
	return rt, nil
}

// newTestEmbedder returns an embedder for a fake model directory that never
// touches the network or the real runtime.
func newTestEmbedder(t *testing.T, dims int, opts ...Option) (*SentenceEmbedder, *fakeOpener) {
	t.Helper()
	dir := writeFakeModel(t, t.TempDir(), dims, 7)
	opener := &fakeOpener{}
	e := NewSentenceEmbedder(dir, opts...)
	e.open = opener.open
	return e, opener
}

func loadTestEmbedder(t *testing.T, dims int, opts ...Option) (*SentenceEmbedder, *fakeOpener) {
	t.Helper()
	e, opener := newTestEmbedder(t, dims, opts...)
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, opener
}
