package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ligustah/saucer/internal/progress"
)

// DefaultChunkSize is the chunk size used when none is configured.
const DefaultChunkSize = 16 * 1024

// Config defines configuration for the saucer CLI.
type Config struct {
	URL       string      `yaml:"url" validate:"required,http_url"`
	Output    string      `yaml:"output"`
	Workers   int         `yaml:"workers" validate:"min=1,max=1024"`
	ChunkSize int64       `yaml:"chunk_size" validate:"min=1"`
	NoCache   bool        `yaml:"no_cache"`
	CacheDir  string      `yaml:"cache_dir" validate:"required_without_all=NoCache CacheURL"`
	CacheURL  string      `yaml:"cache_url" validate:"omitempty,uri"`
	Clean     bool        `yaml:"clean"`
	Progress  bool        `yaml:"progress"`
	Retry     RetryConfig `yaml:"retry"`
	HTTP      HTTPConfig  `yaml:"http"`
}

// RetryConfig defines retry behavior for chunk fetches.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts" validate:"min=0,max=100"`
	Backoff    time.Duration `yaml:"backoff" validate:"min=0"`
	MaxBackoff time.Duration `yaml:"max_backoff" validate:"min=0"`
}

// HTTPConfig defines transport behavior.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
	RPS     int           `yaml:"rps" validate:"min=0"`
	Burst   int           `yaml:"burst" validate:"min=0"`
}

// DefaultCacheDir returns the directory chunks are stashed in between runs.
func DefaultCacheDir() string {
	return filepath.Join(os.TempDir(), "saucer")
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Workers:   8,
		ChunkSize: DefaultChunkSize,
		CacheDir:  DefaultCacheDir(),
		Retry: RetryConfig{
			Attempts:   2,
			Backoff:    250 * time.Millisecond,
			MaxBackoff: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	URL       string          `yaml:"url"`
	Output    string          `yaml:"output"`
	Workers   int             `yaml:"workers"`
	ChunkSize string          `yaml:"chunk_size"`
	NoCache   bool            `yaml:"no_cache"`
	CacheDir  string          `yaml:"cache_dir"`
	CacheURL  string          `yaml:"cache_url"`
	Clean     bool            `yaml:"clean"`
	Progress  bool            `yaml:"progress"`
	Retry     yamlRetryConfig `yaml:"retry"`
	HTTP      yamlHTTPConfig  `yaml:"http"`
}

type yamlRetryConfig struct {
	Attempts   *int   `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

type yamlHTTPConfig struct {
	Timeout string `yaml:"timeout"`
	RPS     int    `yaml:"rps"`
	Burst   int    `yaml:"burst"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.URL != "" {
		cfg.URL = yc.URL
	}
	if yc.Output != "" {
		cfg.Output = yc.Output
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.ChunkSize != "" {
		size, err := progress.ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		cfg.ChunkSize = size
	}
	cfg.NoCache = yc.NoCache
	if yc.CacheDir != "" {
		cfg.CacheDir = yc.CacheDir
	}
	cfg.CacheURL = yc.CacheURL
	cfg.Clean = yc.Clean
	cfg.Progress = yc.Progress
	if yc.Retry.Attempts != nil {
		cfg.Retry.Attempts = *yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}
	if yc.HTTP.Timeout != "" {
		d, err := time.ParseDuration(yc.HTTP.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse http.timeout: %w", err)
		}
		cfg.HTTP.Timeout = d
	}
	if yc.HTTP.RPS != 0 {
		cfg.HTTP.RPS = yc.HTTP.RPS
	}
	if yc.HTTP.Burst != 0 {
		cfg.HTTP.Burst = yc.HTTP.Burst
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SAUCER_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("SAUCER_URL"); v != "" {
		c.URL = v
	}
	if v := os.Getenv("SAUCER_OUTPUT"); v != "" {
		c.Output = v
	}
	if v := os.Getenv("SAUCER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SAUCER_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("SAUCER_CHUNK_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse SAUCER_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv("SAUCER_NO_CACHE"); v != "" {
		c.NoCache = v == "true" || v == "1"
	}
	if v := os.Getenv("SAUCER_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("SAUCER_CACHE_URL"); v != "" {
		c.CacheURL = v
	}
	if v := os.Getenv("SAUCER_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("SAUCER_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SAUCER_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("SAUCER_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SAUCER_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("SAUCER_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SAUCER_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}
	if v := os.Getenv("SAUCER_HTTP_RPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SAUCER_HTTP_RPS: %w", err)
		}
		c.HTTP.RPS = n
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	return check(c)
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.URL != "" {
		c.URL = override.URL
	}
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.NoCache {
		c.NoCache = override.NoCache
	}
	if override.CacheDir != "" {
		c.CacheDir = override.CacheDir
	}
	if override.CacheURL != "" {
		c.CacheURL = override.CacheURL
	}
	if override.Clean {
		c.Clean = override.Clean
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.HTTP.RPS != 0 {
		c.HTTP.RPS = override.HTTP.RPS
	}
	if override.HTTP.Burst != 0 {
		c.HTTP.Burst = override.HTTP.Burst
	}
	return c
}
