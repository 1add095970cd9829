package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRunner_LayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("driver: fake\noutput_dir: /tmp/out\n"), 0o644))

	cfg, err := LoadRunner(path)
	require.NoError(t, err)

	assert.Equal(t, "fake", cfg.Driver)
	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	// untouched keys keep their defaults
	assert.Equal(t, 1, cfg.IterationsPerSnapshot)
	assert.Equal(t, "prom", cfg.MetricsBackend)
}

func TestLoadRunner_MissingFile(t *testing.T) {
	_, err := LoadRunner(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRunnerConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*RunnerConfig)
		wantErr bool
	}{
		{"defaults are valid", func(c *RunnerConfig) {}, false},
		{"fake driver", func(c *RunnerConfig) { c.Driver = "fake" }, false},
		{"unknown driver", func(c *RunnerConfig) { c.Driver = "selenium" }, true},
		{"unknown metrics backend", func(c *RunnerConfig) { c.MetricsBackend = "statsd" }, true},
		{"zero snapshot cadence", func(c *RunnerConfig) { c.IterationsPerSnapshot = 0 }, true},
		{"negative iterations", func(c *RunnerConfig) { c.Iterations = -1 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := RunnerDefaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
