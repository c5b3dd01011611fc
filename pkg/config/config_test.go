package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "./memtrace-data", cfg.Capture.OutputDir)
	assert.Equal(t, "default", cfg.SamplingPresetName())
	assert.Equal(t, 2.0, cfg.Aggregation.BottleneckThreshold)
	assert.Equal(t, "zstd", cfg.Aggregation.ReportCompression)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "info", cfg.Log.Level)

	sampling, err := cfg.SamplingConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.01, sampling.SmallRate)
	assert.Equal(t, uint64(10*1024), sampling.LargeThreshold)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
capture:
  output_dir: /tmp/traces
  sampling_preset: leak_detection
aggregation:
  max_workers: 4
  bottleneck_threshold: 3.5
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/traces", cfg.Capture.OutputDir)
	assert.Equal(t, 4, cfg.Aggregation.MaxWorkers)
	assert.Equal(t, 3.5, cfg.Aggregation.BottleneckThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)

	sampling, err := cfg.SamplingConfig()
	require.NoError(t, err)
	// leak_detection preset: aggressive medium tier against low thresholds.
	assert.Equal(t, 0.8, sampling.MediumRate)
	assert.Equal(t, uint64(1024), sampling.LargeThreshold)
}

func TestLoadFromReader_SamplingOverrides(t *testing.T) {
	content := []byte(`
capture:
  sampling:
    small_rate: 0.05
    medium_rate: 0.5
`)
	cfg, err := LoadFromReader("yaml", content)
	require.NoError(t, err)

	sampling, err := cfg.SamplingConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.05, sampling.SmallRate)
	assert.Equal(t, 0.5, sampling.MediumRate)
	// Unset fields keep the defaults.
	assert.Equal(t, uint64(1024), sampling.MediumThreshold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"sqlite without host", func(c *Config) { c.Database.Type = "sqlite"; c.Database.Host = "" }, false},
		{"postgres without host", func(c *Config) { c.Database.Type = "postgres"; c.Database.Host = "" }, true},
		{"bad database type", func(c *Config) { c.Database.Type = "oracle" }, true},
		{"bad preset", func(c *Config) { c.Capture.SamplingPreset = "nope" }, true},
		{"negative threshold", func(c *Config) { c.Aggregation.BottleneckThreshold = -1 }, true},
		{"bad sampling rate", func(c *Config) { c.Capture.Sampling.SmallRate = 2.0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromReader("yaml", []byte("{}"))
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
