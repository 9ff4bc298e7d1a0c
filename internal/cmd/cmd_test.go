package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/hargabyte/sentvec/internal/config"
	"github.com/hargabyte/sentvec/internal/embeddings"
	"github.com/hargabyte/sentvec/internal/output"
)

// resetFlags restores every flag to its default so commands can be run
// repeatedly in one process.
func resetFlags(t *testing.T) {
	t.Helper()
	var reset func(c *cobra.Command)
	reset = func(c *cobra.Command) {
		for _, fs := range []*pflag.FlagSet{c.Flags(), c.PersistentFlags()} {
			fs.VisitAll(func(f *pflag.Flag) {
				f.Value.Set(f.DefValue)
				f.Changed = false
			})
		}
		for _, sub := range c.Commands() {
			reset(sub)
		}
	}
	reset(rootCmd)

	for _, env := range []string{config.EnvModel, config.EnvCacheDir, config.EnvHubToken, config.EnvOllamaURL, config.EnvOpenAIURL, config.EnvOpenAIKey} {
		t.Setenv(env, "")
	}
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(t)

	var stdout, stderr bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.Execute()
	return stdout.String(), err
}

// newFakeOllama serves /api/embed with deterministic dims-length vectors and
// records the size of every request.
func newFakeOllama(t *testing.T, dims int) (*httptest.Server, *[]int) {
	t.Helper()
	var sizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sizes = append(sizes, len(req.Input))
		resp := struct {
			Embeddings [][]float32 `json:"embeddings"`
		}{}
		for _, text := range req.Input {
			v := make([]float32, dims)
			for i := range v {
				v[i] = float32(len(text)+i) / 10
			}
			resp.Embeddings = append(resp.Embeddings, v)
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &sizes
}

// writeOllamaConfig writes a config that points at a fake Ollama server and
// returns its path.
func writeOllamaConfig(t *testing.T, dims int) string {
	t.Helper()
	srv, _ := newFakeOllama(t, dims)
	return writeConfig(t, srv.URL, "json", 32)
}

func writeConfig(t *testing.T, ollamaURL, format string, batch int) string {
	t.Helper()
	content := fmt.Sprintf(`model:
  provider: ollama
  id: test-model
  ollama_url: %s
batch:
  size: %d
output:
  format: %s
  precision: 4
`, ollamaURL, batch, format)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestReadTexts(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "in.txt")
	os.WriteFile(file, []byte("first line\r\n\n  \nsecond line\n"), 0644)

	tests := []struct {
		name    string
		args    []string
		file    string
		stdin   string
		want    []string
		wantErr bool
	}{
		{name: "args", args: []string{"a", "b"}, want: []string{"a", "b"}},
		{name: "file", file: file, want: []string{"first line", "second line"}},
		{name: "stdin", file: "-", stdin: "x\ny\n", want: []string{"x", "y"}},
		{name: "no input", wantErr: true},
		{name: "both", args: []string{"a"}, file: file, wantErr: true},
		{name: "missing file", file: filepath.Join(dir, "nope.txt"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readTexts(tt.args, tt.file, strings.NewReader(tt.stdin))
			if (err != nil) != tt.wantErr {
				t.Fatalf("readTexts() error = %v, wantErr %v", err, tt.wantErr)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("readTexts() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmbedCommand(t *testing.T) {
	cfgPath := writeOllamaConfig(t, 4)

	out, err := runCLI(t, "", "--config", cfgPath, "embed", "hello", "Hallo Welt")
	if err != nil {
		t.Fatalf("embed error: %v", err)
	}

	var result output.EmbeddingOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if result.Model != "test-model" || result.Count != 2 || result.Dimensions != 4 {
		t.Errorf("result header = %+v", result)
	}
	if result.Embeddings[1].Text != "Hallo Welt" {
		t.Errorf("embedding 1 text = %q", result.Embeddings[1].Text)
	}
	// len("hello") = 5 -> first component 0.5
	if result.Embeddings[0].Vector[0] != 0.5 {
		t.Errorf("embedding 0 vector = %v", result.Embeddings[0].Vector)
	}
}

func TestEmbedCommandYAMLOverride(t *testing.T) {
	cfgPath := writeOllamaConfig(t, 2)

	out, err := runCLI(t, "a\nb\n", "--config", cfgPath, "--format", "yaml", "embed", "--file", "-")
	if err != nil {
		t.Fatalf("embed error: %v", err)
	}

	var result output.EmbeddingOutput
	if err := yaml.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, out)
	}
	if result.Count != 2 {
		t.Errorf("count = %d, want 2", result.Count)
	}
}

func TestBatchCommandChunks(t *testing.T) {
	srv, sizes := newFakeOllama(t, 3)
	cfgPath := writeConfig(t, srv.URL, "json", 32)

	texts := "one\ntwo\nthree\nfour\nfive\n"
	out, err := runCLI(t, texts, "--config", cfgPath, "batch", "--file", "-", "--batch-size", "2", "--no-progress")
	if err != nil {
		t.Fatalf("batch error: %v", err)
	}

	var result output.EmbeddingOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if result.Count != 5 {
		t.Errorf("count = %d, want 5", result.Count)
	}
	if fmt.Sprint(*sizes) != "[2 2 1]" {
		t.Errorf("request sizes = %v, want [2 2 1]", *sizes)
	}
}

func TestBatchCommandInvalidSize(t *testing.T) {
	cfgPath := writeOllamaConfig(t, 3)

	if _, err := runCLI(t, "", "--config", cfgPath, "batch", "--batch-size", "0", "a"); err == nil {
		t.Error("batch --batch-size 0 should fail")
	}
}

func TestSaveRequiresLocalProvider(t *testing.T) {
	cfgPath := writeOllamaConfig(t, 3)

	_, err := runCLI(t, "", "--config", cfgPath, "save", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "local") {
		t.Errorf("save with ollama provider error = %v", err)
	}
}

func TestInfoCommand(t *testing.T) {
	cfgPath := writeOllamaConfig(t, 3)

	out, err := runCLI(t, "", "--config", cfgPath, "info")
	if err != nil {
		t.Fatalf("info error: %v", err)
	}

	var info output.ModelInfoOutput
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if info.Provider != "ollama" || info.Model != "test-model" || !info.Normalized {
		t.Errorf("info = %+v", info)
	}
	if info.Reachable != nil {
		t.Errorf("info without --load contacted the server: reachable = %v", *info.Reachable)
	}
}

func TestInfoLoadOllama(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		models = append(models, req.Model)
		fmt.Fprint(w, `{"embeddings":[[0.6,0.8]]}`)
	}))
	t.Cleanup(srv.Close)

	// No model.id: the ollama default applies, not the local hub model.
	writeProviderConfig := func(url string) string {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := fmt.Sprintf("model:\n  provider: ollama\n  ollama_url: %s\noutput:\n  format: json\n", url)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	out, err := runCLI(t, "", "--config", writeProviderConfig(srv.URL), "info", "--load")
	if err != nil {
		t.Fatalf("info --load error: %v", err)
	}
	var info output.ModelInfoOutput
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if info.Model != config.DefaultOllamaModelID {
		t.Errorf("info.Model = %q, want %q", info.Model, config.DefaultOllamaModelID)
	}
	if info.Reachable == nil || !*info.Reachable {
		t.Errorf("info.Reachable = %v, want true", info.Reachable)
	}
	if len(models) != 1 || models[0] != config.DefaultOllamaModelID {
		t.Errorf("server asked for models %v, want [%s]", models, config.DefaultOllamaModelID)
	}

	srv.Close()
	out, err = runCLI(t, "", "--config", writeProviderConfig(srv.URL), "info", "--load")
	if err != nil {
		t.Fatalf("info --load on a stopped server error: %v", err)
	}
	info = output.ModelInfoOutput{}
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if info.Reachable == nil || *info.Reachable {
		t.Errorf("info.Reachable = %v, want false for a stopped server", info.Reachable)
	}
}

func TestProviderDefaultModelsMatchEmbedders(t *testing.T) {
	if config.DefaultOllamaModelID != embeddings.DefaultOllamaModel {
		t.Errorf("config ollama default %q != embedder default %q", config.DefaultOllamaModelID, embeddings.DefaultOllamaModel)
	}
	if config.DefaultOpenAIModelID != embeddings.DefaultOpenAIModel {
		t.Errorf("config openai default %q != embedder default %q", config.DefaultOpenAIModelID, embeddings.DefaultOpenAIModel)
	}
	if config.DefaultModelID != embeddings.DefaultModel {
		t.Errorf("config local default %q != embedder default %q", config.DefaultModelID, embeddings.DefaultModel)
	}
}

func TestOllamaHostWithoutScheme(t *testing.T) {
	srv, sizes := newFakeOllama(t, 2)
	host := strings.TrimPrefix(srv.URL, "http://")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("model:\n  provider: ollama\noutput:\n  format: json\n"), 0644); err != nil {
		t.Fatal(err)
	}

	resetFlags(t)
	t.Setenv(config.EnvOllamaURL, host)
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if cfg.Model.OllamaURL != srv.URL {
		t.Fatalf("OllamaURL = %q, want %q", cfg.Model.OllamaURL, srv.URL)
	}

	e, closeFn, err := openProvider(context.Background(), cfg, newLogger(io.Discard))
	if err != nil {
		t.Fatalf("openProvider() error: %v", err)
	}
	defer closeFn()
	if _, err := e.Embed(context.Background(), []string{"hello"}); err != nil {
		t.Fatalf("Embed() with OLLAMA_HOST %q error: %v", host, err)
	}
	if len(*sizes) != 1 {
		t.Errorf("server saw %d requests, want 1", len(*sizes))
	}
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	out, err := runCLI(t, "", "init")
	if err != nil {
		t.Fatalf("init error: %v", err)
	}
	if !strings.Contains(out, "Initialized") {
		t.Errorf("init output = %q", out)
	}

	cfgPath := filepath.Join(dir, config.ConfigDirName, config.ConfigFileName)
	cfg, err := config.LoadFromPath(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromPath() error: %v", err)
	}
	if cfg.Model.ID != config.DefaultModelID {
		t.Errorf("Model.ID = %q, want %q", cfg.Model.ID, config.DefaultModelID)
	}

	out, err = runCLI(t, "", "init")
	if err != nil {
		t.Fatalf("second init error: %v", err)
	}
	if !strings.Contains(out, "Already initialized") {
		t.Errorf("second init output = %q", out)
	}

	if _, err := runCLI(t, "", "init", "--force"); err != nil {
		t.Fatalf("init --force error: %v", err)
	}
}

func TestServeListTools(t *testing.T) {
	out, err := runCLI(t, "", "serve", "--list-tools")
	if err != nil {
		t.Fatalf("serve --list-tools error: %v", err)
	}
	if !strings.Contains(out, "sentvec_embed") || !strings.Contains(out, "sentvec_info") {
		t.Errorf("serve --list-tools output = %q", out)
	}
}

func TestServeRequiresMode(t *testing.T) {
	if _, err := runCLI(t, "", "serve"); err == nil {
		t.Error("serve without --mcp should fail")
	}
}

func TestModelFlagOverridesConfig(t *testing.T) {
	cfgPath := writeOllamaConfig(t, 3)

	out, err := runCLI(t, "", "--config", cfgPath, "--model", "other-model", "info")
	if err != nil {
		t.Fatalf("info error: %v", err)
	}
	if !strings.Contains(out, `"other-model"`) {
		t.Errorf("info output = %s", out)
	}
}

func TestAgentHelp(t *testing.T) {
	out, err := runCLI(t, "", "--for-agents", "--help")
	if err != nil {
		t.Fatalf("--for-agents error: %v", err)
	}

	var help struct {
		Commands []CommandInfo `json:"commands"`
	}
	if err := json.Unmarshal([]byte(out), &help); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	names := map[string]bool{}
	for _, c := range help.Commands {
		names[c.Name] = true
	}
	for _, want := range []string{"embed", "batch", "save", "info", "serve", "call", "init"} {
		if !names[want] {
			t.Errorf("command %q missing from agent help", want)
		}
	}
}

func TestEmbedCommandOpenAIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Object string `json:"object"`
			Data   []item `json:"data"`
		}{Object: "list"}
		for i := range req.Input {
			resp.Data = append(resp.Data, item{Object: "embedding", Index: i, Embedding: []float32{3, 4}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	content := fmt.Sprintf(`model:
  provider: openai
  id: text-embedding-3-small
  openai_url: %s/v1
output:
  format: json
`, srv.URL)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(cfgPath, []byte(content), 0644)

	out, err := runCLI(t, "", "--config", cfgPath, "embed", "x")
	if err != nil {
		t.Fatalf("embed error: %v", err)
	}

	var result output.EmbeddingOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	// [3 4] normalised is [0.6 0.8]
	if v := result.Embeddings[0].Vector; len(v) != 2 || v[0] != 0.6 || v[1] != 0.8 {
		t.Errorf("vector = %v, want [0.6 0.8]", v)
	}
	if !result.Normalized {
		t.Error("normalized = false, want true")
	}
}
