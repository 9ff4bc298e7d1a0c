package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the sentvec configuration file
const ConfigFileName = "config.yaml"

// ConfigDirName is the name of the sentvec configuration directory
const ConfigDirName = ".sentvec"

// Environment variables that override file settings.
const (
	EnvModel     = "SENTVEC_MODEL"
	EnvCacheDir  = "SENTVEC_CACHE_DIR"
	EnvHubToken  = "HF_TOKEN"
	EnvOllamaURL = "OLLAMA_HOST"
	EnvOpenAIURL = "OPENAI_BASE_URL"
	EnvOpenAIKey = "OPENAI_API_KEY"
)

// Config holds all sentvec configuration
type Config struct {
	Model  ModelConfig  `yaml:"model"`
	Batch  BatchConfig  `yaml:"batch"`
	Output OutputConfig `yaml:"output"`
}

// ModelConfig selects and locates the embedding model
type ModelConfig struct {
	Provider  string `yaml:"provider"`
	ID        string `yaml:"id"`
	CacheDir  string `yaml:"cache_dir"`
	SaveDir   string `yaml:"save_dir"`
	OnnxFile  string `yaml:"onnx_file"`
	Normalize *bool  `yaml:"normalize"`
	OllamaURL string `yaml:"ollama_url"`
	OpenAIURL string `yaml:"openai_url"`
	HubToken  string `yaml:"-"`
	APIKey    string `yaml:"-"`
}

// BatchConfig holds configuration for chunked embedding
type BatchConfig struct {
	Size int `yaml:"size"`
}

// OutputConfig holds configuration for output formatting
type OutputConfig struct {
	Format string `yaml:"format"`
	// Precision is a pointer so an explicit 0 survives the merge.
	Precision *int `yaml:"precision"`
}

// NormalizeEnabled reports whether vectors should be L2-normalised.
func (m ModelConfig) NormalizeEnabled() bool {
	return m.Normalize == nil || *m.Normalize
}

// Digits returns the number of decimal places to round vectors to.
func (o OutputConfig) Digits() int {
	if o.Precision == nil {
		return DefaultPrecision
	}
	return *o.Precision
}

// ErrConfigNotFound is returned when no config file can be found
var ErrConfigNotFound = errors.New("config file not found")

// ErrInvalidConfig is returned when config validation fails
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads config from .sentvec/config.yaml, falling back to defaults.
// It searches for the config directory starting from workDir and walking up
// the directory tree. Environment overrides are applied last.
func Load(workDir string) (*Config, error) {
	configDir, err := FindConfigDir(workDir)
	if err != nil {
		return defaultsWithEnv()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	return LoadFromPath(configPath)
}

// LoadFromPath reads config from a specific path.
// Merges loaded config with defaults, applies environment overrides and
// validates the result.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultsWithEnv()
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	loaded := &Config{}
	if err := yaml.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	merged := Merge(loaded, DefaultConfig())
	ApplyEnv(merged)

	if err := Validate(merged); err != nil {
		return nil, err
	}

	return merged, nil
}

func defaultsWithEnv() (*Config, error) {
	cfg := DefaultConfig()
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides config values from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvModel); v != "" {
		cfg.Model.ID = v
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		cfg.Model.CacheDir = v
	}
	if v := os.Getenv(EnvHubToken); v != "" {
		cfg.Model.HubToken = v
	}
	if v := os.Getenv(EnvOllamaURL); v != "" {
		cfg.Model.OllamaURL = OllamaBaseURL(v)
	}
	if v := os.Getenv(EnvOpenAIURL); v != "" {
		cfg.Model.OpenAIURL = v
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" {
		cfg.Model.APIKey = v
	}
}

// OllamaBaseURL turns an OLLAMA_HOST value into a base URL. Like the
// Ollama CLI it accepts a bare host ("0.0.0.0"), host:port (":11434") or a
// full URL. The scheme defaults to http and the port to 11434, or to 80 and
// 443 when an http or https scheme is given without one.
func OllamaBaseURL(host string) string {
	host = strings.TrimSpace(host)
	scheme, hostport, ok := strings.Cut(host, "://")
	defaultPort := "11434"
	switch {
	case !ok:
		scheme, hostport = "http", host
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	h, port, err := net.SplitHostPort(hostport)
	if err != nil {
		h, port = strings.Trim(hostport, "[]"), defaultPort
	}
	if h == "" {
		h = "127.0.0.1"
	}

	u := scheme + "://" + net.JoinHostPort(h, port)
	if path = strings.Trim(path, "/"); path != "" {
		u += "/" + path
	}
	return u
}

// FindConfigDir locates the .sentvec directory by walking up from startDir.
// Returns the path to the .sentvec directory if found.
func FindConfigDir(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	currentDir := absDir
	for {
		configDir := filepath.Join(currentDir, ConfigDirName)
		info, err := os.Stat(configDir)
		if err == nil && info.IsDir() {
			return configDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return "", ErrConfigNotFound
		}
		currentDir = parentDir
	}
}

// EnsureConfigDir creates the .sentvec directory if it doesn't exist.
// Returns the path to the .sentvec directory.
func EnsureConfigDir(workDir string) (string, error) {
	absDir, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	configDir := filepath.Join(absDir, ConfigDirName)

	info, err := os.Stat(configDir)
	if err == nil {
		if info.IsDir() {
			return configDir, nil
		}
		return "", fmt.Errorf("%s exists but is not a directory", configDir)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	return configDir, nil
}

// Validate checks that config values are valid.
// Returns an error if validation fails.
func Validate(cfg *Config) error {
	if !IsValidProvider(cfg.Model.Provider) {
		return fmt.Errorf("%w: provider must be one of %v, got %q",
			ErrInvalidConfig, ValidProviders, cfg.Model.Provider)
	}

	// Remote providers fall back to their own default model.
	if cfg.Model.Provider == ProviderLocal && strings.TrimSpace(cfg.Model.ID) == "" {
		return fmt.Errorf("%w: model id must not be empty", ErrInvalidConfig)
	}

	// save_dir must never alias the load identifier.
	if cfg.Model.SaveDir != "" && cfg.Model.SaveDir == cfg.Model.ID {
		return fmt.Errorf("%w: save_dir must differ from the model id %q",
			ErrInvalidConfig, cfg.Model.ID)
	}

	if cfg.Batch.Size <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d",
			ErrInvalidConfig, cfg.Batch.Size)
	}

	if !IsValidFormat(cfg.Output.Format) {
		return fmt.Errorf("%w: format must be one of %v, got %q",
			ErrInvalidConfig, ValidFormats, cfg.Output.Format)
	}

	if p := cfg.Output.Digits(); p < 0 || p > 9 {
		return fmt.Errorf("%w: precision must be between 0 and 9, got %d",
			ErrInvalidConfig, p)
	}

	return nil
}

// SaveDefault writes the default configuration to .sentvec/config.yaml in workDir.
// Creates the .sentvec directory if it doesn't exist.
func SaveDefault(workDir string) (string, error) {
	configDir, err := EnsureConfigDir(workDir)
	if err != nil {
		return "", err
	}

	configPath := filepath.Join(configDir, ConfigFileName)

	if _, err := os.Stat(configPath); err == nil {
		return "", fmt.Errorf("config file already exists: %s", configPath)
	}

	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshaling config: %w", err)
	}

	header := "# sentvec configuration\n# model.id is a hub name (owner/name) or a local model directory\n\n"
	data = append([]byte(header), data...)

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}

	return configPath, nil
}
