package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RunnerConfig configures bleak itself — driver backend, output locations,
// observability toggles — as opposed to the JS-evaluated ConfigurationFile,
// which describes the workload under test. Loaded from YAML; every field
// has a usable default so running without a runner file, or loading an
// empty document, still yields a runnable configuration. LoadRunner on a
// path that does not exist returns an error.
type RunnerConfig struct {
	// Driver selects the browser backend: "rod" for a real Chromium via
	// CDP, "fake" for the in-memory reference driver.
	Driver string `yaml:"driver" json:"driver"`

	// ProxyAddr is the listen address for the interception proxy
	// (host:port; ":0" picks a free port).
	ProxyAddr string `yaml:"proxy_addr" json:"proxy_addr"`

	// OutputDir receives leaks.json, paths.json, the evaluate-fixes CSV and
	// the Markdown summary.
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// Iterations overrides the ConfigurationFile's loop-iteration count for
	// both detect and evaluate runs when positive; zero defers to the config
	// source.
	Iterations int `yaml:"iterations,omitempty" json:"iterations,omitempty"`

	// IterationsPerSnapshot is the evaluate-fixes snapshot cadence.
	IterationsPerSnapshot int `yaml:"iterations_per_snapshot" json:"iterations_per_snapshot"`

	MetricsEnabled bool   `yaml:"metrics_enabled" json:"metrics_enabled"`
	MetricsAddr    string `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
	// MetricsBackend selects the provider: prom|otel|noop.
	MetricsBackend string `yaml:"metrics_backend" json:"metrics_backend"`
}

// RunnerDefaults returns the runner configuration used when no YAML file is
// supplied.
func RunnerDefaults() RunnerConfig {
	return RunnerConfig{
		Driver:                "rod",
		ProxyAddr:             "127.0.0.1:0",
		OutputDir:             ".",
		IterationsPerSnapshot: 1,
		MetricsBackend:        "prom",
	}
}

// LoadRunner reads a RunnerConfig from a YAML file, layering it over
// RunnerDefaults so absent keys keep their defaults.
func LoadRunner(path string) (RunnerConfig, error) {
	cfg := RunnerDefaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read runner config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse runner config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the CLI cannot act on.
func (c RunnerConfig) Validate() error {
	switch c.Driver {
	case "rod", "fake":
	default:
		return fmt.Errorf("invalid driver %q (want rod or fake)", c.Driver)
	}
	switch c.MetricsBackend {
	case "prom", "otel", "noop":
	default:
		return fmt.Errorf("invalid metrics_backend %q (want prom, otel or noop)", c.MetricsBackend)
	}
	if c.IterationsPerSnapshot < 1 {
		return fmt.Errorf("iterations_per_snapshot must be >= 1, got %d", c.IterationsPerSnapshot)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("iterations must be >= 0, got %d", c.Iterations)
	}
	return nil
}
