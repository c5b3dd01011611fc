// Package config provides configuration management for the memtrace tooling.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/memtrace/internal/sampling"
)

// Config holds all configuration for the application.
type Config struct {
	Capture     CaptureConfig     `mapstructure:"capture"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Log         LogConfig         `mapstructure:"log"`
}

// CaptureConfig holds recorder-side configuration.
type CaptureConfig struct {
	// OutputDir is the run directory trace files are written into.
	OutputDir string `mapstructure:"output_dir"`
	// SamplingPreset selects a named sampling preset: default, high_precision,
	// performance_optimized or leak_detection. Explicit sampling fields
	// override the preset.
	SamplingPreset string          `mapstructure:"sampling_preset"`
	Sampling       sampling.Config `mapstructure:"sampling"`
	// BufferSlots is the per-recorder event buffer capacity. Zero keeps the
	// recorder default.
	BufferSlots int `mapstructure:"buffer_slots"`
}

// AggregationConfig holds aggregator configuration.
type AggregationConfig struct {
	MaxWorkers          int     `mapstructure:"max_workers"`
	BottleneckThreshold float64 `mapstructure:"bottleneck_threshold"`
	MaxHotStacks        int     `mapstructure:"max_hot_stacks"`
	// ReportCompression is the compression used for exported reports and
	// archives: zstd or gzip.
	ReportCompression string `mapstructure:"report_compression"`
}

// DatabaseConfig holds database connection configuration for run persistence.
type DatabaseConfig struct {
	// Type is postgres, mysql or sqlite. Empty disables persistence.
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig holds archival storage configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`
	Scheme    string `mapstructure:"scheme"`
	LocalPath string `mapstructure:"local_path"` // for local storage
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
}

// Load reads configuration from the specified file path. An empty path falls
// back to the standard locations; a missing file means defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/memtrace")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadFromReader loads configuration from raw content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := sampling.Default()

	v.SetDefault("capture.output_dir", "./memtrace-data")
	v.SetDefault("capture.sampling_preset", "default")
	v.SetDefault("capture.sampling.large_rate", def.LargeRate)
	v.SetDefault("capture.sampling.medium_rate", def.MediumRate)
	v.SetDefault("capture.sampling.small_rate", def.SmallRate)
	v.SetDefault("capture.sampling.large_threshold", def.LargeThreshold)
	v.SetDefault("capture.sampling.medium_threshold", def.MediumThreshold)
	v.SetDefault("capture.sampling.frequency_threshold", def.FrequencyThreshold)

	v.SetDefault("aggregation.max_workers", 0)
	v.SetDefault("aggregation.bottleneck_threshold", 2.0)
	v.SetDefault("aggregation.max_hot_stacks", 10)
	v.SetDefault("aggregation.report_compression", "zstd")

	v.SetDefault("database.type", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./storage")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := c.SamplingConfig(); err != nil {
		return err
	}
	switch c.Database.Type {
	case "", "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Database.Type == "postgres" || c.Database.Type == "mysql" {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required for %s", c.Database.Type)
		}
	}
	if c.Aggregation.BottleneckThreshold < 0 {
		return fmt.Errorf("bottleneck threshold must not be negative")
	}
	return nil
}

// SamplingConfig resolves the effective sampling configuration: the named
// preset overridden by any explicitly set sampling fields, validated.
func (c *Config) SamplingConfig() (sampling.Config, error) {
	cfg, err := sampling.Preset(c.SamplingPresetName())
	if err != nil {
		return sampling.Config{}, err
	}

	// Only non-zero fields override the preset; a zero rate is expressible
	// through the explicit presets instead.
	if c.Capture.Sampling != (sampling.Config{}) && c.SamplingPresetName() == "default" {
		cfg = c.Capture.Sampling
	}
	if err := cfg.Validate(); err != nil {
		return sampling.Config{}, err
	}
	return cfg, nil
}

// SamplingPresetName returns the configured preset name, defaulting to
// "default".
func (c *Config) SamplingPresetName() string {
	if c.Capture.SamplingPreset == "" {
		return "default"
	}
	return c.Capture.SamplingPreset
}

// EnsureOutputDir creates the capture output directory if needed.
func (c *Config) EnsureOutputDir() error {
	if c.Capture.OutputDir == "" {
		return nil
	}
	return os.MkdirAll(c.Capture.OutputDir, 0755)
}
