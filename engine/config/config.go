// Package config defines the engine's configuration surface and its YAML
// loader, following the teacher's pattern (friggdb/config.go,
// friggdb/wal/wal.go's Config, friggdb/pool/pool.go's defaultConfig) of a
// plain yaml-tagged struct plus a DefaultConfig function rather than
// scattering zero-value defaults through constructors.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shunjilin/extsearch/engine/errs"
)

// ClosedListConfig configures CompressClosedList (spec.md §6).
type ClosedListConfig struct {
	ReopenClosed       bool    `yaml:"reopen_closed"`
	EnablePartitioning bool    `yaml:"enable_partitioning"`
	DoubleHashing      bool    `yaml:"double_hashing"`
	InternalClosedGB   float64 `yaml:"internal_closed_gb"`
	Partitions         int     `yaml:"partitions"`
	WriteBufferBytes   int     `yaml:"write_buffer_bytes"`
	UseBloomFilter     bool    `yaml:"use_bloom_filter"`
	PrimeCardinality   bool    `yaml:"prime_cardinality"`
}

// HashDDDConfig configures HashDDDOpenList (spec.md §6).
type HashDDDConfig struct {
	Shards     int  `yaml:"shards"`
	TieBreakFG bool `yaml:"tie_break_fg"`
}

// ExternalAStarConfig configures ExternalAStarOpenList (spec.md §6).
type ExternalAStarConfig struct {
	MergeChunkBytes  int64 `yaml:"merge_chunk_bytes"`
	RunBufferRecords int   `yaml:"run_buffer_records"`
}

// Config is the top-level engine configuration, loaded from a single YAML
// file the way the teacher loads friggdb.Config.
type Config struct {
	WorkingDirectory string               `yaml:"working_directory"`
	ClosedList       ClosedListConfig     `yaml:"closed_list"`
	HashDDD          HashDDDConfig        `yaml:"hash_ddd"`
	ExternalAStar    ExternalAStarConfig  `yaml:"external_astar"`
	MasterSeed       int64                `yaml:"master_seed"`
}

// DefaultConfig mirrors friggdb/pool.defaultConfig's "concurrency
// disabled by default, everything else sane" philosophy.
func DefaultConfig() *Config {
	return &Config{
		WorkingDirectory: ".",
		ClosedList: ClosedListConfig{
			ReopenClosed:       false,
			EnablePartitioning: true,
			DoubleHashing:      true,
			InternalClosedGB:   0.25,
			Partitions:         100,
			WriteBufferBytes:   4096,
			UseBloomFilter:     true,
			PrimeCardinality:   true,
		},
		HashDDD: HashDDDConfig{
			Shards:     16,
			TieBreakFG: false,
		},
		ExternalAStar: ExternalAStarConfig{
			MergeChunkBytes:  900 << 20,
			RunBufferRecords: 4096 / 32, // ~4KiB / the smallest record stride (32-byte header, empty packed_vars)
		},
		MasterSeed: 1,
	}
}

// Validate rejects a negative internal_closed_gb and a non-positive
// hash_ddd.shards with ErrInvalidConfig, and raises a non-positive
// closed_list.partitions to 1. It does not check action costs.
func (c *Config) Validate() error {
	if c.ClosedList.InternalClosedGB < 0 {
		return fmt.Errorf("%w: internal_closed_gb must be >= 0", errs.ErrInvalidConfig)
	}
	if c.ClosedList.Partitions <= 0 {
		c.ClosedList.Partitions = 1
	}
	if c.HashDDD.Shards <= 0 {
		return fmt.Errorf("%w: hash_ddd.shards must be positive", errs.ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads and unmarshals a YAML file into a Config seeded from
// DefaultConfig, the way tempo's config loading layers a parsed file over
// a struct of defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.NewIOError("read", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
