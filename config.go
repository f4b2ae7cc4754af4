package loom

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Config holds the settings a World is created with.
type Config struct {
	// UseSystemAllocator bypasses block pooling. The default is controlled
	// by the loom_sysalloc build tag.
	UseSystemAllocator bool `yaml:"use_system_allocator"`
	// Debug enables expensive consistency checks: allocator leak reports at
	// Fini and name hash validation.
	Debug           bool   `yaml:"debug"`
	LogLevel        string `yaml:"log_level"`
	Stages          int    `yaml:"stages"`
	InitialEntities int    `yaml:"initial_entities"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		UseSystemAllocator: systemAllocatorDefault,
		LogLevel:           "info",
		Stages:             1,
		InitialEntities:    1024,
	}
}

// LoadConfig reads a YAML document on top of DefaultConfig.
func LoadConfig(r io.Reader) (Config, error) {
	c := DefaultConfig()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Stages < 1 {
		return invalidParam("stages", "must be at least 1, got %d", c.Stages)
	}
	if c.InitialEntities < 0 {
		return invalidParam("initial_entities", "must not be negative, got %d", c.InitialEntities)
	}
	return nil
}
