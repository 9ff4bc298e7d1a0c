package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/knights-analytics/hugot"
)

type resolveOptions struct {
	cacheDir string
	onnxFile string
	token    string
	// endpoint overrides the hub URL; empty uses HF_ENDPOINT or huggingface.co.
	endpoint string
}

type resolveFunc func(ctx context.Context, modelID string, opts resolveOptions) (string, error)

// DefaultCacheDir returns the directory hub models are downloaded to:
// $XDG_CACHE_HOME/sentvec/models or the platform equivalent.
func DefaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "sentvec", "models")
}

// IsHubID reports whether id names a hub repository ("owner/name") rather
// than an existing local path.
func IsHubID(id string) bool {
	if id == "" || filepath.IsAbs(id) || strings.HasPrefix(id, ".") {
		return false
	}
	if _, err := os.Stat(id); err == nil {
		return false
	}
	parts := strings.Split(id, "/")
	if len(parts) != 2 {
		return false
	}
	return parts[0] != "" && parts[1] != ""
}

// cachedModelDir is where hugot stores a downloaded hub model.
func cachedModelDir(cacheDir, modelID string) string {
	return filepath.Join(cacheDir, strings.ReplaceAll(modelID, "/", "_"))
}

func resolveModel(ctx context.Context, modelID string, opts resolveOptions) (string, error) {
	if info, err := os.Stat(modelID); err == nil {
		if !info.IsDir() {
			return "", fmt.Errorf("model path %s is not a directory", modelID)
		}
		return filepath.Abs(modelID)
	}

	if !IsHubID(modelID) {
		return "", fmt.Errorf("model %q is neither a local directory nor a hub name: %w", modelID, fs.ErrNotExist)
	}

	dir := cachedModelDir(opts.cacheDir, modelID)
	if hasModelFiles(dir) && hasModuleFiles(dir) {
		return dir, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(opts.cacheDir, 0755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}

	if !hasModelFiles(dir) {
		dl := hugot.NewDownloadOptions()
		if opts.onnxFile != "" {
			dl.OnnxFilePath = opts.onnxFile
		}
		if opts.token != "" {
			dl.AuthToken = opts.token
		}
		var err error
		if dir, err = hugot.DownloadModel(modelID, opts.cacheDir, dl); err != nil {
			return "", err
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := fetchModuleFiles(modelID, dir, opts); err != nil {
		return "", fmt.Errorf("fetching sentence-transformers modules: %w", err)
	}
	return dir, nil
}

// modulesMarker records that fetchModuleFiles completed for a cached model,
// including for models that have no modules.json.
const modulesMarker = ".sentvec-modules"

func hasModuleFiles(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, modulesMarker))
	return err == nil
}

// fetchModuleFiles downloads modules.json and the config and weights of
// each module into dir, keeping their sub-directories. hugot flattens every
// config.json of a repository into the model root, so the root config.json
// is fetched again as well.
func fetchModuleFiles(modelID, dir string, opts resolveOptions) error {
	repo := hub.New(modelID).
		WithCacheDir(filepath.Join(opts.cacheDir, ".hub")).
		WithProgressBar(false)
	repo.Verbosity = 0
	if opts.token != "" {
		repo = repo.WithAuth(opts.token)
	}
	if opts.endpoint != "" {
		repo = repo.WithEndpoint(opts.endpoint)
	}
	if err := repo.DownloadInfo(true); err != nil {
		return err
	}

	if repo.HasFile(modulesFile) {
		modulesPath, err := repo.DownloadFile(modulesFile)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(modulesPath)
		if err != nil {
			return err
		}
		var entries []moduleEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("parse %s: %w", modulesFile, err)
		}

		files := []string{modulesFile}
		if repo.HasFile("config.json") {
			files = append(files, "config.json")
		}
		for _, m := range entries {
			if m.Path == "" {
				continue
			}
			for _, name := range []string{"config.json", "model.safetensors"} {
				if f := path.Join(m.Path, name); repo.HasFile(f) {
					files = append(files, f)
				}
			}
		}

		paths, err := repo.DownloadFiles(files...)
		if err != nil {
			return err
		}
		for i, f := range files {
			src, err := filepath.EvalSymlinks(paths[i])
			if err != nil {
				return err
			}
			dst := filepath.Join(dir, filepath.FromSlash(f))
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return err
			}
			if err := copyFile(src, dst); err != nil {
				return fmt.Errorf("copying %s: %w", f, err)
			}
		}
	}

	return os.WriteFile(filepath.Join(dir, modulesMarker), nil, 0644)
}

// hasModelFiles reports whether dir looks like a usable model directory.
func hasModelFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	var onnx, tokenizer bool
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".onnx"):
			onnx = true
		case e.Name() == "tokenizer.json":
			tokenizer = true
		}
	}
	return onnx && tokenizer
}
