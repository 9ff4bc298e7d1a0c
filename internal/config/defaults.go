package config

import (
	"os"
	"path/filepath"
)

// Provider names accepted in model.provider.
const (
	ProviderLocal  = "local"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// DefaultModelID is the multilingual model loaded when none is configured.
const DefaultModelID = "sentence-transformers/distiluse-base-multilingual-cased-v1"

// Default model names for the remote providers.
const (
	DefaultOllamaModelID = "all-minilm"
	DefaultOpenAIModelID = "text-embedding-3-small"
)

// DefaultPrecision is the number of decimals vectors are rounded to.
const DefaultPrecision = 6

// DefaultModelIDFor returns the model used by provider when model.id is
// not set.
func DefaultModelIDFor(provider string) string {
	switch provider {
	case ProviderOllama:
		return DefaultOllamaModelID
	case ProviderOpenAI:
		return DefaultOpenAIModelID
	default:
		return DefaultModelID
	}
}

// DefaultConfig returns configuration with sensible defaults.
// These defaults are used when no config file exists or when
// config file is missing specific fields.
func DefaultConfig() *Config {
	normalize := true
	precision := DefaultPrecision
	return &Config{
		Model: ModelConfig{
			Provider:  ProviderLocal,
			ID:        DefaultModelID,
			CacheDir:  defaultCacheDir(),
			OnnxFile:  "onnx/model.onnx",
			Normalize: &normalize,
			OllamaURL: "http://localhost:11434",
		},
		Batch: BatchConfig{
			Size: 32,
		},
		Output: OutputConfig{
			Format:    "yaml",
			Precision: &precision,
		},
	}
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "sentvec", "models")
}

// Merge merges loaded config with defaults.
// Values from loaded config take precedence over defaults.
// Returns a new Config with merged values.
func Merge(loaded, defaults *Config) *Config {
	result := &Config{}

	result.Model = mergeModelConfig(loaded.Model, defaults.Model)
	result.Batch = mergeBatchConfig(loaded.Batch, defaults.Batch)
	result.Output = mergeOutputConfig(loaded.Output, defaults.Output)

	return result
}

func mergeModelConfig(loaded, defaults ModelConfig) ModelConfig {
	result := ModelConfig{
		Provider:  pick(loaded.Provider, defaults.Provider),
		ID:        loaded.ID,
		CacheDir:  pick(loaded.CacheDir, defaults.CacheDir),
		SaveDir:   pick(loaded.SaveDir, defaults.SaveDir),
		OnnxFile:  pick(loaded.OnnxFile, defaults.OnnxFile),
		OllamaURL: pick(loaded.OllamaURL, defaults.OllamaURL),
		OpenAIURL: pick(loaded.OpenAIURL, defaults.OpenAIURL),
		HubToken:  pick(loaded.HubToken, defaults.HubToken),
		APIKey:    pick(loaded.APIKey, defaults.APIKey),
	}

	// A hub id is meaningless to a remote provider.
	if result.ID == "" {
		if result.Provider == defaults.Provider {
			result.ID = defaults.ID
		} else {
			result.ID = DefaultModelIDFor(result.Provider)
		}
	}

	// Normalize is a pointer so an explicit false survives the merge.
	if loaded.Normalize != nil {
		result.Normalize = loaded.Normalize
	} else {
		result.Normalize = defaults.Normalize
	}

	return result
}

func mergeBatchConfig(loaded, defaults BatchConfig) BatchConfig {
	result := BatchConfig{}

	// Size: use loaded if non-zero
	if loaded.Size != 0 {
		result.Size = loaded.Size
	} else {
		result.Size = defaults.Size
	}

	return result
}

func mergeOutputConfig(loaded, defaults OutputConfig) OutputConfig {
	result := OutputConfig{}

	result.Format = pick(loaded.Format, defaults.Format)

	// Precision: use loaded if set, including an explicit 0
	if loaded.Precision != nil {
		result.Precision = loaded.Precision
	} else {
		result.Precision = defaults.Precision
	}

	return result
}

// pick returns loaded unless it is empty.
func pick(loaded, fallback string) string {
	if loaded != "" {
		return loaded
	}
	return fallback
}

// ValidProviders lists the valid values for model.provider
var ValidProviders = []string{ProviderLocal, ProviderOllama, ProviderOpenAI}

// ValidFormats lists the valid values for output.format
var ValidFormats = []string{"yaml", "json"}

// IsValidProvider checks if the given provider name is valid
func IsValidProvider(provider string) bool {
	return contains(ValidProviders, provider)
}

// IsValidFormat checks if the given output format is valid
func IsValidFormat(format string) bool {
	return contains(ValidFormats, format)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if s == v {
			return true
		}
	}
	return false
}
