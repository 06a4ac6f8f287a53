// Package config holds the runtime configuration for a batch run. Values
// come from an optional YAML file, overridden by environment variables,
// overridden by command-line flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface of a run.
type Config struct {
	// GhidraHome locates the external engine installation; its headless
	// entry point lives under support/analyzeHeadless.
	GhidraHome string `yaml:"ghidra_home"`
	// ScriptDir is where the export post-script lives.
	ScriptDir string `yaml:"script_dir"`
	// Engine selects the disassembly backend.
	Engine string `yaml:"engine" validate:"oneof=ghidra native"`
	// BatchSize is the number of binaries processed concurrently.
	BatchSize int `yaml:"batch_size" validate:"gte=1,lte=256"`
	// TimeoutPerBinary is the per-binary wall-clock limit in seconds.
	TimeoutPerBinary int `yaml:"timeout_per_binary" validate:"gte=1"`
	// NGramSize is the mnemonic n-gram window.
	NGramSize int `yaml:"ngram_size" validate:"gte=1,lte=8"`
	// OutputDir receives one <binary>_features.json per binary.
	OutputDir string `yaml:"output_dir"`
	// SignatureFile optionally extends the built-in signature registry.
	SignatureFile string `yaml:"signature_file"`
	// RuleFile optionally replaces the built-in name-to-label rules.
	RuleFile string `yaml:"rule_file"`
	// RedisAddr enables the optional result cache when non-empty.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	// MetricsAddr exposes Prometheus metrics when non-empty.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine:           "native",
		BatchSize:        4,
		TimeoutPerBinary: 180,
		NGramSize:        2,
		OutputDir:        "features",
	}
}

// Load reads a YAML configuration file over the defaults and then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays the recognized environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("GHIDRA_HOME"); v != "" {
		c.GhidraHome = v
		c.Engine = "ghidra"
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BatchSize = n
		}
	}
	if v := os.Getenv("TIMEOUT_PER_BINARY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TimeoutPerBinary = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
}

// Validate checks structural constraints before any processing begins.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Engine == "ghidra" && c.GhidraHome == "" {
		return fmt.Errorf("invalid configuration: engine ghidra requires GHIDRA_HOME")
	}
	return nil
}

// Timeout returns the per-binary deadline as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutPerBinary) * time.Second
}
