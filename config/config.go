// Package config provides the YAML release configuration: the tool-level
// settings (stores, registries, signing, history) and the graph shape
// overrides applied on top of the built-in release graph.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of a release configuration file.
type Config struct {
	// Pipeline names the release pipeline; it keys the single-run lock
	// and the run history.
	Pipeline string `yaml:"pipeline"`

	Staging StoreConfig `yaml:"staging"`
	Release StoreConfig `yaml:"release"`
	Mirror  StoreConfig `yaml:"mirror"`

	// PackagesPrefix scopes the package trees within the stores.
	PackagesPrefix string `yaml:"packages_prefix"`

	// MarkerKey is the staged version marker in the staging store.
	MarkerKey string `yaml:"marker_key"`

	// PurgeKeys are staging-only control files removed before publish.
	PurgeKeys []string `yaml:"purge_keys"`

	SourceRegistry   RegistryConfig   `yaml:"source_registry"`
	TargetRegistries []RegistryConfig `yaml:"target_registries"`

	// SigningKeyFile holds the release signing key material used for the
	// package repository indexes. Required.
	SigningKeyFile string `yaml:"signing_key_file"`

	// ImageKeyFile holds the static image signing key. Empty means no
	// static key; keyless image signing always runs.
	ImageKeyFile string `yaml:"image_key_file"`

	// KeylessIdentity is the identity presented for keyless signing.
	KeylessIdentity string `yaml:"keyless_identity"`

	// CopyAttempts bounds registry copy retries on transient failure.
	CopyAttempts int `yaml:"copy_attempts"`

	// Workers bounds matrix parallelism per node.
	Workers int `yaml:"workers"`

	// HistoryDB is the SQLite run history path; empty disables history.
	HistoryDB string `yaml:"history_db"`

	// MetricsAddr serves Prometheus metrics when set (e.g. ":9090").
	MetricsAddr string `yaml:"metrics_addr"`

	// Nodes optionally overrides per-node execution settings.
	Nodes []NodeRef `yaml:"nodes"`
}

// StoreConfig selects an object store backend.
type StoreConfig struct {
	// Path is the root directory of a dir-backed store.
	Path string `yaml:"path"`
}

// RegistryConfig selects a registry backend.
type RegistryConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// NodeRef overrides execution settings of one graph node. In YAML a node
// can be written as a plain name or as a struct:
//
//	nodes:
//	  - promote-images
//	  - name: smoke-tests
//	    continue_on_error: true
//	    timeout: 10m
type NodeRef struct {
	Name            string   `yaml:"name"`
	ContinueOnError bool     `yaml:"continue_on_error"`
	Workers         int      `yaml:"workers"`
	Timeout         Duration `yaml:"timeout"`
}

// UnmarshalYAML allows a node to be a string (name only) or a struct.
func (n *NodeRef) UnmarshalYAML(value *yaml.Node) error {
	var nameOnly string
	if err := value.Decode(&nameOnly); err == nil {
		n.Name = nameOnly
		return nil
	}
	type raw NodeRef
	return value.Decode((*raw)(n))
}

// Duration is a time.Duration that unmarshals from YAML strings
// (e.g. "60s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the standard time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Parse parses YAML bytes into a Config and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline == "" {
		return fmt.Errorf("pipeline name required")
	}
	if c.Staging.Path == "" || c.Release.Path == "" {
		return fmt.Errorf("staging and release store paths required")
	}
	// The prefix keeps the atomic package replace away from the
	// signatures and transparency log stored alongside.
	if c.PackagesPrefix == "" {
		return fmt.Errorf("packages prefix required")
	}
	if c.SourceRegistry.Name == "" {
		return fmt.Errorf("source registry required")
	}
	if len(c.TargetRegistries) == 0 {
		return fmt.Errorf("at least one target registry required")
	}
	if c.SigningKeyFile == "" {
		return fmt.Errorf("signing key file required")
	}
	if c.KeylessIdentity == "" {
		return fmt.Errorf("keyless identity required")
	}
	seen := make(map[string]bool, len(c.Nodes))
	for i, ref := range c.Nodes {
		if ref.Name == "" {
			return fmt.Errorf("nodes[%d]: name required", i)
		}
		if seen[ref.Name] {
			return fmt.Errorf("nodes[%d]: duplicate override for %q", i, ref.Name)
		}
		seen[ref.Name] = true
	}
	return nil
}
