package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memtrace/internal/aggregator"
	"github.com/memtrace/internal/repository"
	"github.com/memtrace/internal/sampling"
	"github.com/memtrace/internal/storage"
	"github.com/memtrace/pkg/compression"
	"github.com/memtrace/pkg/config"
	"github.com/memtrace/pkg/model"
	"github.com/memtrace/pkg/writer"
)

var (
	// Aggregate command flags
	aggRunDir    string
	aggOutput    string
	aggPreset    string
	aggWorkers   int
	aggThreshold float64
	aggHotStacks int
	aggPretty    bool
	aggCompress  bool
	aggPersist   bool
	aggArchive   bool
)

// aggregateCmd represents the aggregate command
var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Merge a run directory of trace files into one analysis report",
	Long: `Aggregate parses every per-thread trace file in a run directory in
parallel and merges them into a unified analysis report.

The report contains:
  - Per-thread and global allocation statistics
  - Allocation bottlenecks (call sites whose volume stands out)
  - Hot call stacks ranked by impact across threads
  - Cross-thread pointer interactions (handed_off / concurrent)
  - Leak candidates with tier-derived confidence

Corrupt or truncated trace files are reported as warnings, never as
failures. The --preset flag must match the preset used at record time
for leak confidence values to be meaningful.`,
	RunE: runAggregate,
}

func init() {
	rootCmd.AddCommand(aggregateCmd)

	binName := BinName()
	aggregateCmd.Example = `  # Aggregate a run directory into a JSON report
  ` + binName + ` aggregate -d ./run -o ./memtrace_analysis.json

  # Human-readable report with 16 parse workers
  ` + binName + ` aggregate -d ./run --pretty --workers 16

  # Persist to the configured database and archive raw traces
  ` + binName + ` aggregate -d ./run --persist --archive`

	aggregateCmd.Flags().StringVarP(&aggRunDir, "dir", "d", "", "Run directory containing trace files (required)")
	aggregateCmd.Flags().StringVarP(&aggOutput, "output", "o", "./memtrace_analysis.json", "Output report path")
	aggregateCmd.MarkFlagRequired("dir")

	aggregateCmd.Flags().StringVar(&aggPreset, "preset", "", "Sampling preset used at record time: default, high_precision, performance_optimized, leak_detection")
	aggregateCmd.Flags().IntVar(&aggWorkers, "workers", 0, "Parse worker count (0 = auto)")
	aggregateCmd.Flags().Float64Var(&aggThreshold, "threshold", 0, "Bottleneck threshold as a multiple of the mean site score (0 = default)")
	aggregateCmd.Flags().IntVar(&aggHotStacks, "max-hot-stacks", 0, "Hot call stack ranking cap (0 = default)")
	aggregateCmd.Flags().BoolVar(&aggPretty, "pretty", false, "Indent the JSON report")
	aggregateCmd.Flags().BoolVar(&aggCompress, "compress", false, "Gzip the report (appends .gz)")
	aggregateCmd.Flags().BoolVar(&aggPersist, "persist", false, "Save the report to the configured database")
	aggregateCmd.Flags().BoolVar(&aggArchive, "archive", false, "Upload raw traces and report to the configured storage")
}

func runAggregate(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	conf := GetConfig()

	if _, err := os.Stat(aggRunDir); os.IsNotExist(err) {
		return fmt.Errorf("run directory not found: %s", aggRunDir)
	}

	samplingCfg, err := resolveSampling(conf, aggPreset)
	if err != nil {
		return err
	}

	aggConfig := aggregator.Config{
		Workers:             aggWorkers,
		BottleneckThreshold: aggThreshold,
		MaxHotStacks:        aggHotStacks,
		Sampling:            &samplingCfg,
	}
	if aggConfig.Workers == 0 {
		aggConfig.Workers = conf.Aggregation.MaxWorkers
	}
	if aggConfig.BottleneckThreshold == 0 {
		aggConfig.BottleneckThreshold = conf.Aggregation.BottleneckThreshold
	}
	if aggConfig.MaxHotStacks == 0 {
		aggConfig.MaxHotStacks = conf.Aggregation.MaxHotStacks
	}

	agg := aggregator.New(aggConfig, aggregator.WithLogger(log))

	log.Info("Aggregating run directory: %s", aggRunDir)
	analysis, err := agg.Aggregate(cmd.Context(), aggRunDir)
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}

	reportPath, err := writeReport(analysis)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	printAnalysis(analysis)
	log.Info("")
	log.Info("Report written to: %s", reportPath)

	if aggPersist {
		if err := persistAnalysis(cmd, analysis); err != nil {
			return err
		}
		log.Info("Report persisted (run id: %s)", analysis.RunID)
	}

	if aggArchive {
		keys, err := archiveRun(cmd, reportPath, analysis.RunID)
		if err != nil {
			return err
		}
		log.Info("Archived %d objects under runs/%s/", len(keys), analysis.RunID)
	}

	return nil
}

// resolveSampling picks the sampling configuration the traces were recorded
// with, preferring the command line preset over the config file.
func resolveSampling(conf *config.Config, preset string) (sampling.Config, error) {
	if preset != "" {
		return sampling.Preset(preset)
	}
	return conf.SamplingConfig()
}

func writeReport(analysis *model.AggregatedAnalysis) (string, error) {
	if aggCompress {
		path := aggOutput
		if !strings.HasSuffix(path, ".gz") {
			path += ".gz"
		}
		gz := writer.NewGzipWriter[*model.AggregatedAnalysis]()
		res, err := gz.WriteToFileWithStats(analysis, path)
		if err != nil {
			return "", err
		}
		GetLogger().Debug("Report compressed: %d -> %d bytes (%.1f%%)",
			res.JSONSize, res.CompressedSize, res.CompressionPct)
		return path, nil
	}

	var jw *writer.JSONWriter[*model.AggregatedAnalysis]
	if aggPretty {
		jw = writer.NewPrettyJSONWriter[*model.AggregatedAnalysis]()
	} else {
		jw = writer.NewJSONWriter[*model.AggregatedAnalysis]()
	}
	if err := jw.WriteToFile(analysis, aggOutput); err != nil {
		return "", err
	}
	return aggOutput, nil
}

func persistAnalysis(cmd *cobra.Command, analysis *model.AggregatedAnalysis) error {
	conf := GetConfig()
	if conf.Database.Type == "" {
		return fmt.Errorf("--persist requires a configured database")
	}

	db, err := repository.NewGormDB(&conf.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	repos := repository.NewRepositories(db, conf.Database.Type)
	defer repos.Close()

	if err := repository.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	return repos.Run.SaveRun(cmd.Context(), analysis)
}

func archiveRun(cmd *cobra.Command, reportPath string, runID string) ([]string, error) {
	conf := GetConfig()
	log := GetLogger()

	store, err := storage.New(&conf.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	compType, err := compression.ParseType(conf.Aggregation.ReportCompression)
	if err != nil {
		return nil, err
	}
	comp, err := compression.New(compType, compression.LevelDefault)
	if err != nil {
		return nil, err
	}
	defer compression.Close(comp)

	archiver := storage.NewArchiver(store, comp, log)

	keys, err := archiver.ArchiveRun(cmd.Context(), aggRunDir, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to archive run: %w", err)
	}

	reportKey, err := archiver.ArchiveReport(cmd.Context(), reportPath, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to archive report: %w", err)
	}

	return append(keys, reportKey), nil
}

func printAnalysis(analysis *model.AggregatedAnalysis) {
	log := GetLogger()

	log.Info("")
	log.Info("=== Run Summary ===")
	log.Info("Run ID:          %s", analysis.RunID)
	log.Info("Threads:         %d", analysis.Global.ThreadCount)
	log.Info("Allocations:     %d (%d bytes)", analysis.Global.TotalAllocations, analysis.Global.TotalBytesAllocated)
	log.Info("Deallocations:   %d", analysis.Global.TotalDeallocations)
	log.Info("Peak memory:     %d bytes", analysis.Global.PeakMemoryBytes)
	log.Info("Sampled events:  %d (%.2f%% of exact)", analysis.Global.TotalSampledEvents, analysis.Global.SamplingEffectiveness*100)
	log.Info("Unique stacks:   %d", analysis.Global.UniqueCallStacks)
	log.Info("Analysis time:   %d ms", analysis.Global.AnalysisDurationMs)

	if len(analysis.Bottlenecks) > 0 {
		log.Info("")
		log.Info("=== Bottlenecks ===")
		for i, b := range analysis.Bottlenecks {
			if i >= 5 {
				log.Info("  ... and %d more", len(analysis.Bottlenecks)-5)
				break
			}
			log.Info("  thread %d stack %#x: %d allocs, avg %.0f bytes (%.1fx mean)",
				b.ThreadID, b.CallStackHash, b.SampledCount, b.AvgSize, b.MeanRatio)
		}
	}

	if len(analysis.HotCallStacks) > 0 {
		log.Info("")
		log.Info("=== Hot Call Stacks ===")
		for i, h := range analysis.HotCallStacks {
			if i >= 5 {
				log.Info("  ... and %d more", len(analysis.HotCallStacks)-5)
				break
			}
			log.Info("  stack %#x: %d allocs, %d bytes, %d threads",
				h.CallStackHash, h.TotalFrequency, h.TotalSize, len(h.ThreadIDs))
		}
	}

	if len(analysis.Leaks) > 0 {
		log.Info("")
		log.Info("=== Leak Candidates ===")
		for i, l := range analysis.Leaks {
			if i >= 5 {
				log.Info("  ... and %d more", len(analysis.Leaks)-5)
				break
			}
			log.Info("  addr %#x thread %d: %d bytes (confidence %.2f)",
				l.Address, l.ThreadID, l.Size, l.Confidence)
		}
	}

	if analysis.HasWarnings() {
		log.Info("")
		log.Info("=== Warnings ===")
		for _, w := range analysis.Warnings {
			log.Warn("  %s: %s", w.File, w.Message)
		}
	}
}
