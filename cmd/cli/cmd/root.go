package cmd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/memtrace/pkg/config"
	"github.com/memtrace/pkg/pprof"
	"github.com/memtrace/pkg/telemetry"
	"github.com/memtrace/pkg/utils"
)

var (
	// Global flags
	verbose bool
	cfgFile string
	logger  utils.Logger
	cfg     *config.Config

	// Telemetry shutdown hook, set when OTEL_ENABLED=true
	telemetryShutdown telemetry.ShutdownFunc

	// Pprof flags
	pprofEnabled     bool
	pprofDir         string
	pprofProfiles    string
	pprofInterval    string
	pprofCPUDuration string

	// Pprof collector
	pprofCollector *pprof.Collector
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "memtrace",
	Short: "A sampling memory allocation tracker",
	Long: `memtrace records memory allocation events per thread with tiered
sampling, writes one binary trace file per thread, and merges a run
directory of trace files into a unified analysis.

The analysis reports per-thread and global allocation statistics,
allocation bottlenecks, hot call stacks, cross-thread pointer
interactions, and leak candidates.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		logLevel := utils.LevelInfo
		if verbose || cfg.Log.Level == "debug" {
			logLevel = utils.LevelDebug
		}
		if cfg.Log.OutputPath != "" {
			logger, err = utils.NewFileLogger(logLevel, cfg.Log.OutputPath)
			if err != nil {
				return err
			}
		} else {
			logger = utils.NewDefaultLogger(logLevel, os.Stdout)
		}

		telemetryShutdown, err = telemetry.Init(cmd.Context())
		if err != nil {
			return err
		}

		if pprofEnabled {
			pprofCfg, err := buildPprofConfig()
			if err != nil {
				return err
			}

			collector, err := pprof.NewCollector(pprofCfg)
			if err != nil {
				return err
			}

			if err := collector.Start(); err != nil {
				return err
			}

			pprofCollector = collector
			logger.Info("pprof collection started (dir: %s)", pprofCfg.OutputDir)
		}

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if pprofCollector != nil {
			logger.Info("Stopping pprof collection...")
			if err := pprofCollector.Stop(); err != nil {
				logger.Warn("Failed to stop pprof collector: %v", err)
			}
			logger.Info("pprof data saved to: %s", pprofCollector.OutputDir())
		}

		if telemetryShutdown != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := telemetryShutdown(ctx); err != nil {
				logger.Warn("Failed to shut down telemetry: %v", err)
			}
		}

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default searches ./configs, /etc/memtrace)")

	// Pprof flags
	rootCmd.PersistentFlags().BoolVar(&pprofEnabled, "pprof", false, "Enable pprof self-profiling")
	rootCmd.PersistentFlags().StringVar(&pprofDir, "pprof-dir", "./pprof", "Output directory for pprof data")
	rootCmd.PersistentFlags().StringVar(&pprofProfiles, "pprof-profiles", "cpu,heap", "Comma-separated profile types: cpu,heap,goroutine,allocs")
	rootCmd.PersistentFlags().StringVar(&pprofInterval, "pprof-interval", "30s", "Snapshot interval")
	rootCmd.PersistentFlags().StringVar(&pprofCPUDuration, "pprof-cpu-duration", "10s", "CPU profile duration per snapshot")

	binName := BinName()
	rootCmd.Example = `  # Record a synthetic allocation workload into a run directory
  ` + binName + ` record -o ./run --threads 8 --allocs 10000

  # Merge a run directory into a unified analysis report
  ` + binName + ` aggregate -d ./run -o ./memtrace_analysis.json

  # Aggregate with leak-detection sampling assumptions and compressed output
  ` + binName + ` aggregate -d ./run --preset leak_detection --compress

  # Aggregate, persist the report, and archive the raw traces
  ` + binName + ` aggregate -d ./run --persist --archive`
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// GetConfig returns the loaded configuration
func GetConfig() *config.Config {
	return cfg
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}

// buildPprofConfig builds pprof configuration from command line flags.
func buildPprofConfig() (*pprof.Config, error) {
	pprofCfg := pprof.DefaultConfig()
	pprofCfg.OutputDir = pprofDir

	profiles, err := pprof.ParseProfileTypes(pprofProfiles)
	if err != nil {
		return nil, err
	}
	pprofCfg.Profiles = profiles

	interval, err := time.ParseDuration(pprofInterval)
	if err != nil {
		return nil, err
	}
	pprofCfg.Interval = interval

	cpuDuration, err := time.ParseDuration(pprofCPUDuration)
	if err != nil {
		return nil, err
	}
	pprofCfg.CPUDuration = cpuDuration

	return pprofCfg, nil
}
