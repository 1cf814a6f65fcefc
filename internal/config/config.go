// Package config handles configuration loading and validation for chunkloader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tunnelmesh/chunkloader/pkg/bytesize"
	"gopkg.in/yaml.v3"
)

// RemoteTarget describes one S3-compatible bucket holding chunks.
type RemoteTarget struct {
	Region           string `yaml:"region"`            // AWS region, or any label with a custom endpoint
	Endpoint         string `yaml:"endpoint"`          // Custom endpoint URL (optional)
	ChunkBucket      string `yaml:"chunk_bucket"`      // Bucket name
	DomainAddressing bool   `yaml:"domain_addressing"` // Virtual-host style instead of path style
}

// RetryConfig holds the backoff settings for remote GETs.
type RetryConfig struct {
	Limit      int     `yaml:"limit"`       // Retries after the first attempt (default: 3)
	BaseWait   string  `yaml:"base_wait"`   // Duration string (default: "50ms")
	Multiplier float64 `yaml:"multiplier"`  // Growth per failure (default: 10)
	JitterFrac float64 `yaml:"jitter_frac"` // Max extra fraction of the delay (default: 1.0)
}

// MetricsConfig holds configuration for the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. "127.0.0.1:9464" (empty disables)
}

// LoaderConfig holds configuration for a chunk loader.
type LoaderConfig struct {
	LocalCaches   []string       `yaml:"local_caches"`    // Checked first, in order
	RemoteTargets []RemoteTarget `yaml:"remote_targets"`  // Checked after local caches, in order
	CacheSize     int            `yaml:"cache_size"`      // Retained chunks (default: 128)
	PoolSize      int            `yaml:"pool_size"`       // Parallel batch fetches (default: 10)
	MaxObjectSize string         `yaml:"max_object_size"` // Size string (default: "64MB")
	StrictVerify  bool           `yaml:"strict_verify"`   // Full fingerprint checks, consult every source
	Retry         *RetryConfig   `yaml:"retry"`
	Metrics       MetricsConfig  `yaml:"metrics"`
}

// Default values applied by LoadLoaderConfig and ApplyDefaults.
const (
	DefaultCacheSize     = 128
	DefaultPoolSize      = 10
	DefaultMaxObjectSize = "64MB"
)

// DefaultRetryConfig returns the default retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Limit:      3,
		BaseWait:   "50ms",
		Multiplier: 10.0,
		JitterFrac: 1.0,
	}
}

// UnmarshalYAML decodes a retry block over DefaultRetryConfig, so keys left
// out keep their defaults and explicit zeros stay zero.
func (r *RetryConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain RetryConfig
	p := plain(DefaultRetryConfig())
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = RetryConfig(p)
	return nil
}

// LoadLoaderConfig loads loader configuration from a YAML file.
func LoadLoaderConfig(path string) (*LoaderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &LoaderConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset fields and expands "~/" in cache paths.
func (c *LoaderConfig) ApplyDefaults() {
	if c.CacheSize == 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MaxObjectSize == "" {
		c.MaxObjectSize = DefaultMaxObjectSize
	}
	// Partial YAML retry blocks are completed by UnmarshalYAML; this covers
	// configs built in code.
	if c.Retry == nil {
		r := DefaultRetryConfig()
		c.Retry = &r
	}
	if c.Retry.BaseWait == "" {
		c.Retry.BaseWait = DefaultRetryConfig().BaseWait
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = DefaultRetryConfig().Multiplier
	}

	for i, dir := range c.LocalCaches {
		c.LocalCaches[i] = expandHome(dir)
	}
}

// Validate checks if the loader configuration is valid.
func (c *LoaderConfig) Validate() error {
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache_size must be positive")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}
	if _, err := c.MaxObjectSizeBytes(); err != nil {
		return fmt.Errorf("invalid max_object_size: %w", err)
	}
	for i, dir := range c.LocalCaches {
		if dir == "" {
			return fmt.Errorf("local_caches[%d] is empty", i)
		}
	}
	for i, target := range c.RemoteTargets {
		if target.ChunkBucket == "" {
			return fmt.Errorf("remote_targets[%d].chunk_bucket is required", i)
		}
		if target.Endpoint == "" && target.Region == "" {
			return fmt.Errorf("remote_targets[%d] needs a region or an endpoint", i)
		}
	}
	if c.Retry != nil {
		if err := c.Retry.Validate(); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
	}
	return nil
}

// MaxObjectSizeBytes parses MaxObjectSize.
func (c *LoaderConfig) MaxObjectSizeBytes() (int64, error) {
	if c.MaxObjectSize == "" {
		return bytesize.Parse(DefaultMaxObjectSize)
	}
	n, err := bytesize.Parse(c.MaxObjectSize)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	return n, nil
}

// Validate checks the retry settings.
func (r *RetryConfig) Validate() error {
	if r.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	if _, err := r.BaseWaitDuration(); err != nil {
		return err
	}
	if r.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1")
	}
	if r.JitterFrac < 0 {
		return fmt.Errorf("jitter_frac must not be negative")
	}
	return nil
}

// BaseWaitDuration parses BaseWait.
func (r *RetryConfig) BaseWaitDuration() (time.Duration, error) {
	d, err := time.ParseDuration(r.BaseWait)
	if err != nil {
		return 0, fmt.Errorf("invalid base_wait: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("base_wait must not be negative")
	}
	return d, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}
