// Package config loads sparring run configuration from K8s-style YAML
// manifests.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest is the top-level K8s-style wrapper around a run configuration.
type Manifest struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
	Spec       Config   `yaml:"spec"`
}

// Metadata carries manifest identification fields.
type Metadata struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
}

// Config is the run configuration carried in a manifest's spec.
type Config struct {
	// Dataset is the path to the JSONL dataset, resolved relative to the
	// manifest file when not absolute.
	Dataset string `yaml:"dataset"`

	// OpeningKey names the dataset field holding a seeded opening message.
	OpeningKey string `yaml:"openingKey,omitempty"`

	// MaxTurns caps conversation length per run. Zero applies the default.
	MaxTurns int `yaml:"maxTurns,omitempty"`

	// Concurrency bounds simultaneous runs. Zero applies the engine default.
	Concurrency int `yaml:"concurrency,omitempty"`

	// Subject and Counterpart configure the two conversation endpoints.
	Subject     Endpoint `yaml:"subject"`
	Counterpart Endpoint `yaml:"counterpart"`

	// Judge, when present and enabled, configures transcript grading.
	Judge *JudgeConfig `yaml:"judge,omitempty"`

	// Store selects run result persistence. Defaults to in-memory.
	Store StoreConfig `yaml:"store,omitempty"`

	// Metrics, when present, enables the Prometheus exporter.
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`

	// ConfigDir is the directory of the loaded manifest, used to resolve
	// relative paths. Populated by Load.
	ConfigDir string `yaml:"-"`

	// Name is the manifest's metadata.name. Populated by Load.
	Name string `yaml:"-"`
}

// Endpoint describes an HTTP agent endpoint.
type Endpoint struct {
	URL string `yaml:"url"`
}

// JudgeConfig configures transcript grading.
type JudgeConfig struct {
	Enabled bool     `yaml:"enabled"`
	Grader  Endpoint `yaml:"grader"`
}

// StoreConfig selects the state store backend.
type StoreConfig struct {
	// Backend is "memory" or "redis". Empty means memory.
	Backend string       `yaml:"backend,omitempty"`
	Redis   *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the Redis state store backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr,omitempty"`
}

// Load reads and validates a sparring manifest from a YAML file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate required K8s manifest fields
	if manifest.APIVersion == "" {
		return nil, fmt.Errorf("missing required field: apiVersion")
	}
	if manifest.Kind != "Sparring" {
		return nil, fmt.Errorf("invalid kind: expected 'Sparring', got '%s'", manifest.Kind)
	}
	if manifest.Metadata.Name == "" {
		return nil, fmt.Errorf("missing required field: metadata.name")
	}

	cfg := &manifest.Spec
	cfg.Name = manifest.Metadata.Name
	cfg.ConfigDir = filepath.Dir(filename)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Dataset == "" {
		return fmt.Errorf("missing required field: spec.dataset")
	}
	if c.Subject.URL == "" {
		return fmt.Errorf("missing required field: spec.subject.url")
	}
	if c.Counterpart.URL == "" {
		return fmt.Errorf("missing required field: spec.counterpart.url")
	}
	if c.MaxTurns < 0 {
		return fmt.Errorf("spec.maxTurns must not be negative")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("spec.concurrency must not be negative")
	}
	switch c.Store.Backend {
	case "", "memory":
	case "redis":
		if c.Store.Redis == nil || c.Store.Redis.Addr == "" {
			return fmt.Errorf("spec.store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}
	if c.Judge != nil && c.Judge.Enabled && c.Judge.Grader.URL == "" {
		return fmt.Errorf("spec.judge.grader.url is required when judging is enabled")
	}
	return nil
}

// DatasetPath returns the dataset path resolved against the manifest's
// directory.
func (c *Config) DatasetPath() string {
	if filepath.IsAbs(c.Dataset) || c.ConfigDir == "" {
		return c.Dataset
	}
	return filepath.Join(c.ConfigDir, c.Dataset)
}
