package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Index backends.
const (
	BackendPinecone = "pinecone"
	BackendChromem  = "chromem"
	BackendBolt     = "bolt"
)

// Config holds all configuration for mnemo.
type Config struct {
	Memory    MemoryConfig    `yaml:"memory"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Import    ImportConfig    `yaml:"import"`
	Pack      PackConfig      `yaml:"pack"`
	Cache     CacheConfig     `yaml:"cache"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MemoryConfig holds read/write path settings.
type MemoryConfig struct {
	Namespace string `yaml:"namespace"`
	TopK      int    `yaml:"top_k"`
}

// EmbeddingConfig selects the model used to embed queries.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"`    // "openai", "jina", "deepseek", "openai-compatible", "gemini", "ollama", "mock"
	Model     string        `yaml:"model"`       // e.g., "text-embedding-3-small"
	APIKeyEnv string        `yaml:"api_key_env"` // Environment variable for API key
	BaseURL   string        `yaml:"base_url"`
	Dimension int           `yaml:"dimension"` // 0 = model default
	Timeout   time.Duration `yaml:"timeout"`
}

// IndexConfig describes the vector index.
type IndexConfig struct {
	Backend     string        `yaml:"backend"`
	APIKey      string        `yaml:"api_key"`
	Name        string        `yaml:"name"`
	Environment string        `yaml:"environment"`
	Host        string        `yaml:"host"` // data-plane host; resolved from the control plane when empty
	ControlURL  string        `yaml:"control_url"`
	TextField   string        `yaml:"text_field"`
	Dimension   int           `yaml:"dimension"` // 0 = ask the index at startup
	Path        string        `yaml:"path"`      // bolt file or chromem directory; empty chromem path keeps it in memory
	Timeout     time.Duration `yaml:"timeout"`

	// Embedding is the model the index uses to embed text records. Local
	// backends run it themselves; for pinecone it only documents the
	// integrated model so mismatches can be reported.
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// ImportConfig holds bulk import configuration.
type ImportConfig struct {
	Includes     []string `yaml:"includes"`
	Excludes     []string `yaml:"excludes"`
	ChunkTokens  int      `yaml:"chunk_tokens"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Concurrency  int      `yaml:"concurrency"`
	MaxFileBytes int64    `yaml:"max_file_bytes"` // 0 = no limit
}

// PackConfig holds context packing configuration.
type PackConfig struct {
	TokenBudget int `yaml:"token_budget"`
}

// CacheConfig configures the local display cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			TopK: 3,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   30 * time.Second,
		},
		Index: IndexConfig{
			Backend:    BackendPinecone,
			ControlURL: "https://api.pinecone.io",
			TextField:  "text",
			Timeout:    30 * time.Second,
			Embedding: EmbeddingConfig{
				Provider: "mock",
				Model:    "multilingual-e5-large",
			},
		},
		Import: ImportConfig{
			Includes:     []string{"**/*.md", "**/*.txt"},
			Excludes:     []string{"**/.git/**", "**/node_modules/**", "**/.mnemo/**"},
			ChunkTokens:  256,
			ChunkOverlap: 20,
			Concurrency:  4,
			MaxFileBytes: 1 << 20,
		},
		Pack: PackConfig{
			TokenBudget: 1000,
		},
		Cache: CacheConfig{
			Enabled: true,
		},
		Server: ServerConfig{
			Addr: ":8088",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for mnemo.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "mnemo.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".mnemo", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides index settings from the environment variables the
// hosted deployment uses. Empty variables leave the file value in place.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Index.APIKey, "PINECONE_API_KEY")
	set(&c.Index.Name, "PINECONE_INDEX_NAME")
	set(&c.Index.Environment, "PINECONE_ENVIRONMENT")
	set(&c.Index.TextField, "PINECONE_TEXT_FIELD_MAP")
	set(&c.Index.Host, "PINECONE_HOST")
	set(&c.Memory.Namespace, "MNEMO_NAMESPACE")
}

// Validate checks that the index can be initialised with this configuration.
func (c *Config) Validate() error {
	var errs []error

	switch c.Index.Backend {
	case BackendPinecone:
		if c.Index.APIKey == "" {
			errs = append(errs, errors.New("index api key is not configured (set PINECONE_API_KEY)"))
		}
		if c.Index.Name == "" {
			errs = append(errs, errors.New("index name is not configured (set PINECONE_INDEX_NAME)"))
		}
		if c.Index.Environment == "" {
			errs = append(errs, errors.New("index environment is not configured (set PINECONE_ENVIRONMENT)"))
		}
	case BackendBolt:
		if c.Index.Path == "" {
			errs = append(errs, errors.New("bolt index requires index.path"))
		}
	case BackendChromem:
	default:
		errs = append(errs, fmt.Errorf("unsupported index backend: %q", c.Index.Backend))
	}

	if c.Index.TextField == "" {
		errs = append(errs, errors.New("index text field must not be empty"))
	}
	if c.Embedding.Provider == "" {
		errs = append(errs, errors.New("embedding provider is not configured"))
	}
	if c.Memory.TopK < 0 {
		errs = append(errs, fmt.Errorf("memory.top_k must not be negative, got %d", c.Memory.TopK))
	}

	return errors.Join(errs...)
}

// DataDir returns the directory holding local state for root.
func DataDir(root string) string {
	return filepath.Join(root, ".mnemo")
}

// CachePath returns the display cache path, defaulting under root.
func (c *Config) CachePath(root string) string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	return filepath.Join(DataDir(root), "cache.db")
}

// EnsureDataDir ensures the .mnemo directory exists.
func EnsureDataDir(root string) error {
	return os.MkdirAll(DataDir(root), 0755)
}
