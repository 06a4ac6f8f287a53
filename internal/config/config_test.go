package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "native", cfg.Engine)
	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, 180, cfg.TimeoutPerBinary)
	assert.Equal(t, 2, cfg.NGramSize)
	assert.Equal(t, "features", cfg.OutputDir)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
engine: native
batch_size: 8
timeout_per_binary: 60
output_dir: /tmp/out
redis_addr: localhost:6379
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.BatchSize)
	assert.Equal(t, 60, cfg.TimeoutPerBinary)
	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	// Unset keys keep their defaults.
	assert.Equal(t, 2, cfg.NGramSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GHIDRA_HOME", "/opt/ghidra")
	t.Setenv("BATCH_SIZE", "16")
	t.Setenv("TIMEOUT_PER_BINARY", "300")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/opt/ghidra", cfg.GhidraHome)
	// Pointing at an engine installation selects that engine.
	assert.Equal(t, "ghidra", cfg.Engine)
	assert.Equal(t, 16, cfg.BatchSize)
	assert.Equal(t, 300, cfg.TimeoutPerBinary)
}

func TestEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("BATCH_SIZE", "lots")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.BatchSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"unknown engine", func(c *Config) { c.Engine = "radare" }, false},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }, false},
		{"batch size over cap", func(c *Config) { c.BatchSize = 1000 }, false},
		{"zero timeout", func(c *Config) { c.TimeoutPerBinary = 0 }, false},
		{"ngram too wide", func(c *Config) { c.NGramSize = 9 }, false},
		{"ghidra without home", func(c *Config) { c.Engine = "ghidra" }, false},
		{"ghidra with home", func(c *Config) { c.Engine = "ghidra"; c.GhidraHome = "/opt/ghidra" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	cfg := Default()
	cfg.TimeoutPerBinary = 90
	assert.Equal(t, 90*time.Second, cfg.Timeout())
}
