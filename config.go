package disklog

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCompactionInterval is the default period of the background
// compaction cycle.
const DefaultCompactionInterval = time.Minute

// Config holds configuration for a file-backed disk log.
type Config struct {
	// Dir is the directory holding segment files
	Dir string `yaml:"dir"`

	// CompactionInterval is the period of the background compaction cycle
	CompactionInterval time.Duration `yaml:"compactionInterval"`

	// MaxSegmentSize is the segment capacity in bytes
	MaxSegmentSize int64 `yaml:"maxSegmentSize"`

	// Compression enables snappy compression of record values
	Compression bool `yaml:"compression"`
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig() Config {
	return Config{
		Dir:                "data",
		CompactionInterval: DefaultCompactionInterval,
		MaxSegmentSize:     DefaultMaxSegmentSize,
	}
}

// UnmarshalYAML decodes a Config, accepting durations in time.ParseDuration
// form such as "30s" or "5m". Absent fields keep their current values, so
// decoding into DefaultConfig() applies defaults.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig struct {
		Dir                string `yaml:"dir"`
		CompactionInterval string `yaml:"compactionInterval"`
		MaxSegmentSize     int64  `yaml:"maxSegmentSize"`
		Compression        *bool  `yaml:"compression"`
	}

	var raw rawConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.Dir != "" {
		c.Dir = raw.Dir
	}
	if raw.CompactionInterval != "" {
		d, err := time.ParseDuration(raw.CompactionInterval)
		if err != nil {
			return fmt.Errorf("parse compactionInterval: %w", err)
		}
		c.CompactionInterval = d
	}
	if raw.MaxSegmentSize != 0 {
		c.MaxSegmentSize = raw.MaxSegmentSize
	}
	if raw.Compression != nil {
		c.Compression = *raw.Compression
	}
	return nil
}

// LoadConfig reads a YAML configuration file, applying defaults for absent
// fields.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Dir == "" {
		return errors.New("config: dir cannot be empty")
	}
	if c.CompactionInterval <= 0 {
		return errors.New("config: compactionInterval must be positive")
	}
	if c.MaxSegmentSize <= 0 {
		return errors.New("config: maxSegmentSize must be positive")
	}
	return nil
}
