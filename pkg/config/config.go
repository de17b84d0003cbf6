package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Config holds runtime configuration for the diffrelay service and CLI.
type Config struct {
	// Engine selects the delta engine ("raw" or "bsdiff4")
	Engine string

	// Workers bounds concurrent background engine invocations
	Workers int

	// Compression selects the patch container codec ("none", "zstd" or "xz")
	Compression string

	// ChunkSizeKB is the chunk size in kilobytes for target Merkle roots
	ChunkSizeKB int

	// MetricsAddr enables the Prometheus endpoint when non-empty (e.g. ":9090")
	MetricsAddr string

	// JournalDir enables the operation journal when non-empty
	JournalDir string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine:      "raw",
		Workers:     runtime.NumCPU(),
		Compression: "zstd",
		ChunkSizeKB: 256,
		MetricsAddr: "",
		JournalDir:  "",
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if engine := os.Getenv("DIFFRELAY_ENGINE"); engine != "" {
		cfg.Engine = engine
	}

	if workers := os.Getenv("DIFFRELAY_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			cfg.Workers = n
		}
	}

	if comp := os.Getenv("DIFFRELAY_COMPRESSION"); comp != "" {
		cfg.Compression = comp
	}

	if size := os.Getenv("DIFFRELAY_CHUNK_SIZE_KB"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			cfg.ChunkSizeKB = n
		}
	}

	if addr := os.Getenv("DIFFRELAY_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}

	if dir := os.Getenv("DIFFRELAY_JOURNAL_DIR"); dir != "" {
		cfg.JournalDir = dir
	}

	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Engine != "raw" && c.Engine != "bsdiff4" {
		return fmt.Errorf("invalid engine: %s (must be 'raw' or 'bsdiff4')", c.Engine)
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got: %d", c.Workers)
	}

	if c.Compression != "none" && c.Compression != "zstd" && c.Compression != "xz" {
		return fmt.Errorf("invalid compression: %s (must be 'none', 'zstd' or 'xz')", c.Compression)
	}

	if c.ChunkSizeKB <= 0 {
		return fmt.Errorf("chunk size must be positive, got: %d", c.ChunkSizeKB)
	}

	return nil
}

// ChunkSizeBytes returns the chunk size in bytes.
func (c *Config) ChunkSizeBytes() int {
	return c.ChunkSizeKB * 1024
}
