// Package config loads repository policy: revlog delta-chain limits,
// compression engine, general-delta mode, and phase defaults. Shaped
// after a yaml-driven config loader: defaults are filled in before
// unmarshalling, then validate() checks cross-field constraints.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// Compression names an engine for the revlog data store.
type Compression string

const (
	CompressionZlib Compression = "zlib"
	CompressionNone Compression = "none"
)

// DefaultMaxChainLen bounds how many deltas may be chained before a
// snapshot is forced (spec §4.1 "Delta selection on write").
const DefaultMaxChainLen = 1000

// DefaultSnapshotRatio is the fraction of the full text size beyond
// which a delta is stored as a snapshot instead (spec §4.1).
const DefaultSnapshotRatio = 0.25

// Config is repository-wide revlog and phase policy.
type Config struct {
	GeneralDelta      bool        `yaml:"general_delta"`
	Compression       Compression `yaml:"compression"`
	MaxChainLen       int         `yaml:"max_chain_len"`
	MaxDeltaChainSpan int64       `yaml:"max_delta_chain_span"`
	SnapshotRatio     float64     `yaml:"snapshot_ratio"`
	DefaultPhase      string      `yaml:"default_phase"` // "draft" or "secret"
	BundleCacheDir    string      `yaml:"bundle_cache_dir"`
}

// Unmarshal parses yaml config bytes, filling in defaults first.
func Unmarshal(raw []byte) (*Config, error) {
	cfg := &Config{
		GeneralDelta:  true,
		Compression:   CompressionZlib,
		MaxChainLen:   DefaultMaxChainLen,
		SnapshotRatio: DefaultSnapshotRatio,
		DefaultPhase:  "draft",
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters", err.Error())
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads and parses a yaml config file.
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return Unmarshal(content)
}

func (c *Config) validate() error {
	if c.Compression != CompressionZlib && c.Compression != CompressionNone {
		return fmt.Errorf("unknown compression engine %q", c.Compression)
	}
	if c.MaxChainLen <= 0 {
		return fmt.Errorf("max_chain_len must be positive, got %d", c.MaxChainLen)
	}
	if c.SnapshotRatio <= 0 || c.SnapshotRatio > 1 {
		return fmt.Errorf("snapshot_ratio must be in (0,1], got %v", c.SnapshotRatio)
	}
	if c.DefaultPhase != "draft" && c.DefaultPhase != "secret" {
		return fmt.Errorf("default_phase must be 'draft' or 'secret', got %q", c.DefaultPhase)
	}
	return nil
}
