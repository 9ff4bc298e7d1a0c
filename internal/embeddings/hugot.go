package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// runtime runs inference for a loaded model.
type runtime interface {
	Encode(texts []string) ([][]float32, error)
	Close() error
}

type runtimeConfig struct {
	onnxFile  string
	normalize bool
}

type runtimeOpener func(ctx context.Context, modelDir string, cfg runtimeConfig) (runtime, error)

// hugotRuntime is a feature-extraction pipeline on a pure Go hugot session.
type hugotRuntime struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
}

func openHugotRuntime(ctx context.Context, modelDir string, cfg runtimeConfig) (runtime, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelDir,
		Name:      "sentvec-" + filepath.Base(modelDir),
	}
	if name := onnxFilename(modelDir, cfg.onnxFile); name != "" {
		config.OnnxFilename = name
	}
	if cfg.normalize {
		config.Options = []hugot.FeatureExtractionOption{
			pipelines.WithNormalization(),
		}
	}

	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("create feature extraction pipeline: %w", err)
	}

	return &hugotRuntime{session: session, pipeline: pipeline}, nil
}

// onnxFilename returns the base name of the configured ONNX file if the
// model directory holds it at its root, so hugot can pick it among several.
func onnxFilename(modelDir, onnxFile string) string {
	if onnxFile == "" {
		return ""
	}
	name := filepath.Base(onnxFile)
	if _, err := os.Stat(filepath.Join(modelDir, name)); err != nil {
		return ""
	}
	return name
}

func (r *hugotRuntime) Encode(texts []string) ([][]float32, error) {
	out, err := r.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

func (r *hugotRuntime) Close() error {
	return r.session.Destroy()
}
