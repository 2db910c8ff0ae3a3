// Package config loads the sync engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/omicslake/sra-mirror-lake/mirror"
)

// Config holds all configuration for the mirror sync engine.
type Config struct {
	Service Service `yaml:"service"`
	Mirror  Mirror  `yaml:"mirror"`
	Lake    Lake    `yaml:"lake"`
	Retry   Retry   `yaml:"retry"`
	Query   Query   `yaml:"query"`
}

// Service holds service-level configuration.
type Service struct {
	Name        string `yaml:"name"`
	MetricsPort int    `yaml:"metrics_port"`
}

// Mirror configures the remote dump listing and fetches.
type Mirror struct {
	BaseURL        string   `yaml:"base_url"`
	FetchTimeoutMs int      `yaml:"fetch_timeout_ms"`
	Entities       []string `yaml:"entities"`
}

// Lake configures the chunk output destination.
type Lake struct {
	Destination    string            `yaml:"destination"`
	StagingDir     string            `yaml:"staging_dir"`
	StateFile      string            `yaml:"state_file"`
	Compression    string            `yaml:"compression"`
	ChunkMaxRows   int               `yaml:"chunk_max_rows"`
	ChunkMaxBytes  int64             `yaml:"chunk_max_bytes"`
	SchemaVersions map[string]string `yaml:"schema_versions"`
}

// Retry configures network retry behavior.
type Retry struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialDelayMs int     `yaml:"initial_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
}

// Query configures the read-time DuckDB session.
type Query struct {
	MemoryLimit string `yaml:"memory_limit"`
	TempDir     string `yaml:"temp_dir"`
	Threads     int    `yaml:"threads"`
}

// DefaultMirrorBaseURL is NCBI's public SRA mirroring listing.
const DefaultMirrorBaseURL = "https://ftp.ncbi.nlm.nih.gov/sra/reports/Mirroring/"

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := config.applyDefaultsAndValidate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns a config usable without a file, for flag-only invocations.
func Default() *Config {
	config := &Config{}
	config.applyDefaultsAndValidate()
	return config
}

func (c *Config) applyDefaultsAndValidate() error {
	if c.Service.Name == "" {
		c.Service.Name = "sra-mirror-lake"
	}
	if c.Mirror.BaseURL == "" {
		c.Mirror.BaseURL = DefaultMirrorBaseURL
	}
	if c.Mirror.FetchTimeoutMs == 0 {
		c.Mirror.FetchTimeoutMs = 300_000
	}
	if c.Lake.Destination == "" {
		c.Lake.Destination = "./lake"
	}
	if c.Lake.StateFile == "" {
		c.Lake.StateFile = "./lake/.catalog-state.json"
	}
	if c.Lake.ChunkMaxRows == 0 {
		c.Lake.ChunkMaxRows = 100_000
	}
	if c.Lake.ChunkMaxBytes == 0 {
		c.Lake.ChunkMaxBytes = 256 << 20
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialDelayMs == 0 {
		c.Retry.InitialDelayMs = 500
	}
	if c.Retry.MaxDelayMs == 0 {
		c.Retry.MaxDelayMs = 30_000
	}
	if c.Retry.BackoffFactor == 0 {
		c.Retry.BackoffFactor = 2.0
	}
	if c.Query.MemoryLimit == "" {
		c.Query.MemoryLimit = "4GB"
	}

	if c.Lake.ChunkMaxRows < 1 {
		return fmt.Errorf("chunk_max_rows must be positive, got %d", c.Lake.ChunkMaxRows)
	}
	if c.Lake.ChunkMaxBytes < 1 {
		return fmt.Errorf("chunk_max_bytes must be positive, got %d", c.Lake.ChunkMaxBytes)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	for _, name := range c.Mirror.Entities {
		if _, err := mirror.ParseEntityType(name); err != nil {
			return fmt.Errorf("invalid entity in config: %w", err)
		}
	}
	return nil
}

// EntityTypes resolves the configured entity filter. Empty means all.
func (c *Config) EntityTypes() ([]mirror.EntityType, error) {
	if len(c.Mirror.Entities) == 0 {
		return nil, nil
	}
	out := make([]mirror.EntityType, 0, len(c.Mirror.Entities))
	for _, name := range c.Mirror.Entities {
		et, err := mirror.ParseEntityType(name)
		if err != nil {
			return nil, err
		}
		out = append(out, et)
	}
	return out, nil
}

// FetchTimeout returns the per-request fetch timeout.
func (c *Mirror) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMs) * time.Millisecond
}

// InitialDelay returns the first retry delay.
func (r *Retry) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the retry delay ceiling.
func (r *Retry) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}
