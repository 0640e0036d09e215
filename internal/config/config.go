// Package config loads docsearch configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path
const EnvConfigPath = "DOCSEARCH_CONFIG"

// DefaultFile is looked up in the working directory when no path is given
const DefaultFile = "docsearch.yaml"

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid config")

// Config holds the docsearch configuration.
type Config struct {
	Env       string          `yaml:"env"` // local, dev, prod
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Source    SourceConfig    `yaml:"source"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DatabaseConfig selects and locates the store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite (default) or postgres
	Path   string `yaml:"path"`   // sqlite file, ~ is expanded
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// EmbeddingConfig holds embedding settings.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // hash (default) or openai
	Dimension int    `yaml:"dimension"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	CacheSize int    `yaml:"cache_size"`
}

// SearchConfig holds search engine settings.
type SearchConfig struct {
	DefaultLimit  int    `yaml:"default_limit"`
	MalformedRows string `yaml:"malformed_rows"` // skip (default) or fail
}

// SourceConfig describes where refresh reads the corpus from.
// An empty Kind disables refresh.
type SourceConfig struct {
	Kind     string        `yaml:"kind"` // http or dir
	BaseURL  string        `yaml:"base_url"`
	Manifest string        `yaml:"manifest"`
	Dir      string        `yaml:"dir"`
	CacheDir string        `yaml:"cache_dir"` // empty keeps raw pages in memory
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Workers  int           `yaml:"workers"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RefreshConfig holds indexing settings.
type RefreshConfig struct {
	Workers   int  `yaml:"workers"`
	BatchSize int  `yaml:"batch_size"`
	OnStart   bool `yaml:"on_start"` // refresh when the corpus is empty at startup
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
}

// Load reads configuration from a YAML file, expands ${VAR} references,
// applies defaults and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// Resolve loads the file at path, falling back to $DOCSEARCH_CONFIG, then
// ./docsearch.yaml, then Default.
func Resolve(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" && fileExists(DefaultFile) {
		path = DefaultFile
	}
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return Load(path)
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Env == "" {
		c.Env = "local"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "~/.docsearch/docsearch.db"
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "hash"
	}
	if c.Embedding.Dimension <= 0 {
		c.Embedding.Dimension = 1536
	}
	if c.Embedding.Provider == "openai" && c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.CacheSize == 0 {
		c.Embedding.CacheSize = 10000
	}

	if c.Search.DefaultLimit <= 0 {
		c.Search.DefaultLimit = 5
	}
	if c.Search.MalformedRows == "" {
		c.Search.MalformedRows = "skip"
	}

	if c.Source.Kind == "" {
		switch {
		case c.Source.BaseURL != "":
			c.Source.Kind = "http"
		case c.Source.Dir != "":
			c.Source.Kind = "dir"
		}
	}
	if c.Source.Manifest == "" {
		c.Source.Manifest = "manifest.txt"
	}
	if c.Source.CacheTTL <= 0 {
		c.Source.CacheTTL = 24 * time.Hour
	}
	if c.Source.Workers <= 0 {
		c.Source.Workers = 4
	}
	if c.Source.Timeout <= 0 {
		c.Source.Timeout = 30 * time.Second
	}

	if c.Refresh.Workers <= 0 {
		c.Refresh.Workers = runtime.NumCPU()
	}
	if c.Refresh.BatchSize <= 0 {
		c.Refresh.BatchSize = 20
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 300
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Env {
	case "local", "dev", "prod":
	default:
		return fmt.Errorf("%w: env must be local, dev or prod, got %q", ErrInvalid, c.Env)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("%w: database.path is required for sqlite", ErrInvalid)
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for postgres", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: database.driver must be sqlite or postgres, got %q", ErrInvalid, c.Database.Driver)
	}

	switch c.Embedding.Provider {
	case "hash":
	case "openai":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("%w: embedding.api_key is required for openai", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: embedding.provider must be hash or openai, got %q", ErrInvalid, c.Embedding.Provider)
	}

	switch c.Search.MalformedRows {
	case "skip", "fail":
	default:
		return fmt.Errorf("%w: search.malformed_rows must be skip or fail, got %q", ErrInvalid, c.Search.MalformedRows)
	}

	switch c.Source.Kind {
	case "":
	case "http":
		if !strings.HasPrefix(c.Source.BaseURL, "http://") && !strings.HasPrefix(c.Source.BaseURL, "https://") {
			return fmt.Errorf("%w: source.base_url must be an http(s) URL, got %q", ErrInvalid, c.Source.BaseURL)
		}
	case "dir":
		if c.Source.Dir == "" {
			return fmt.Errorf("%w: source.dir is required for kind dir", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: source.kind must be http or dir, got %q", ErrInvalid, c.Source.Kind)
	}

	return nil
}

// RefreshEnabled reports whether a corpus source is configured
func (c *Config) RefreshEnabled() bool {
	return c.Source.Kind != ""
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
