package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hargabyte/sentvec/internal/config"
	"github.com/hargabyte/sentvec/internal/embeddings"
	"github.com/hargabyte/sentvec/internal/metrics"
	"github.com/hargabyte/sentvec/internal/output"
	"github.com/spf13/cobra"
)

// Shared helpers for command implementations

// loadConfig reads --config if given, otherwise searches from the working
// directory, then applies the --model and --format overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, err
	}

	if modelFlag != "" {
		cfg.Model.ID = modelFlag
	}
	if outputFormat != "" {
		cfg.Output.Format = outputFormat
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger logs warnings to stderr, everything with --verbose.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// provider is an Embedder that can name the model it serves and report
// batch progress.
type provider interface {
	embeddings.Embedder
	ModelID() string
	BatchEmbedWithProgress(ctx context.Context, texts []string, batchSize int, progress embeddings.ProgressFunc) ([][]float32, error)
}

// openProvider builds the configured embedder and makes it ready for use.
// The returned close function releases it.
func openProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider, func() error, error) {
	switch cfg.Model.Provider {
	case config.ProviderOllama:
		e := embeddings.NewOllamaEmbedder(cfg.Model.OllamaURL, cfg.Model.ID)
		return e, func() error { return nil }, nil

	case config.ProviderOpenAI:
		e := embeddings.NewOpenAIEmbedder(cfg.Model.OpenAIURL, cfg.Model.APIKey, cfg.Model.ID, cfg.Model.NormalizeEnabled())
		return e, func() error { return nil }, nil

	case config.ProviderLocal:
		e := newSentenceEmbedder(cfg, logger)
		start := time.Now()
		if err := e.Load(ctx); err != nil {
			e.Close()
			return nil, nil, err
		}
		metrics.ObserveModelLoad(e.ModelID(), time.Since(start))
		return e, e.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Model.Provider)
	}
}

func newSentenceEmbedder(cfg *config.Config, logger *slog.Logger) *embeddings.SentenceEmbedder {
	return embeddings.NewSentenceEmbedder(cfg.Model.ID,
		embeddings.WithCacheDir(cfg.Model.CacheDir),
		embeddings.WithSaveDir(cfg.Model.SaveDir),
		embeddings.WithOnnxFile(cfg.Model.OnnxFile),
		embeddings.WithHubToken(cfg.Model.HubToken),
		embeddings.WithNormalize(cfg.Model.NormalizeEnabled()),
		embeddings.WithLogger(logger),
	)
}

// readTexts returns args as texts, or one text per non-empty line of file
// ("-" reads stdin).
func readTexts(args []string, file string, stdin io.Reader) ([]string, error) {
	if file == "" {
		if len(args) == 0 {
			return nil, fmt.Errorf("no input: pass texts as arguments or use --file")
		}
		return args, nil
	}
	if len(args) > 0 {
		return nil, fmt.Errorf("pass texts as arguments or with --file, not both")
	}

	var r io.Reader = stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var texts []string
	scanner := bufio.NewScanner(r)
	// Allow larger lines (1MB)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		texts = append(texts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return texts, nil
}

// writeOutput renders v in the configured format to the command's stdout.
func writeOutput(cmd *cobra.Command, cfg *config.Config, v interface{}) error {
	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	formatter, err := output.GetFormatter(format)
	if err != nil {
		return err
	}
	return formatter.FormatToWriter(cmd.OutOrStdout(), v)
}

// normalized reports whether the configured provider returns unit vectors.
// Ollama's embed endpoint always normalises.
func normalized(cfg *config.Config) bool {
	if cfg.Model.Provider == config.ProviderOllama {
		return true
	}
	return cfg.Model.NormalizeEnabled()
}

// modelInfo describes e for 'sentvec info' and the sentvec_info tool.
func modelInfo(cfg *config.Config, e provider) output.ModelInfoOutput {
	info := output.ModelInfoOutput{
		Provider:     cfg.Model.Provider,
		Model:        e.ModelID(),
		DefaultModel: e.DefaultModelName(),
		Normalized:   normalized(cfg),
	}
	switch p := e.(type) {
	case *embeddings.SentenceEmbedder:
		info.State = p.State().String()
		info.Dimensions = p.Dimensions()
		info.ModelDir = p.ModelDir()
		info.CacheDir = cfg.Model.CacheDir
		if info.CacheDir == "" {
			info.CacheDir = embeddings.DefaultCacheDir()
		}
	case *embeddings.OllamaEmbedder, *embeddings.OpenAIEmbedder:
		info.State = "remote"
	}
	return info
}
