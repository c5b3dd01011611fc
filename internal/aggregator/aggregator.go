// Package aggregator merges per-thread trace files from one run directory
// into a unified analysis. Files are parsed independently on a worker pool;
// the merge itself is single-threaded and ordered by thread id, then
// timestamp, so the same input always produces the same output.
package aggregator

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/memtrace/internal/sampling"
	"github.com/memtrace/internal/statistics"
	"github.com/memtrace/internal/trace"
	"github.com/memtrace/pkg/errors"
	"github.com/memtrace/pkg/model"
	"github.com/memtrace/pkg/parallel"
	"github.com/memtrace/pkg/utils"
)

const tracerName = "github.com/memtrace/internal/aggregator"

// Config controls aggregation behavior.
type Config struct {
	// Workers is the parse worker count. Zero means the pool default.
	Workers int
	// BottleneckThreshold is the multiple of the mean site score above which
	// a site is flagged. Zero means the default.
	BottleneckThreshold float64
	// MaxHotStacks caps the hot call stack ranking. Zero means the default.
	MaxHotStacks int
	// Sampling is the capture configuration of the run, used to derive leak
	// confidence from size tiers. Nil means the default configuration.
	Sampling *sampling.Config
}

// Aggregator turns a run directory of trace files into an AggregatedAnalysis.
type Aggregator struct {
	config      Config
	sampling    sampling.Config
	pool        *parallel.WorkerPool[string, *fileResult]
	bottlenecks *statistics.BottleneckCalculator
	hotStacks   *statistics.HotStackCalculator
	logger      utils.Logger
	clock       utils.Clock
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithLogger substitutes the logger.
func WithLogger(l utils.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// WithClock substitutes the time source.
func WithClock(c utils.Clock) Option {
	return func(a *Aggregator) { a.clock = c }
}

// New creates an aggregator.
func New(config Config, opts ...Option) *Aggregator {
	samplingCfg := sampling.Default()
	if config.Sampling != nil {
		samplingCfg = *config.Sampling
	}

	poolCfg := parallel.DefaultPoolConfig()
	if config.Workers > 0 {
		poolCfg = poolCfg.WithWorkers(config.Workers)
	}

	var bnOpts []statistics.BottleneckOption
	if config.BottleneckThreshold > 0 {
		bnOpts = append(bnOpts, statistics.WithThresholdMultiplier(config.BottleneckThreshold))
	}

	a := &Aggregator{
		config:      config,
		sampling:    samplingCfg,
		pool:        parallel.NewWorkerPool[string, *fileResult](poolCfg),
		bottlenecks: statistics.NewBottleneckCalculator(bnOpts...),
		hotStacks:   statistics.NewHotStackCalculator(config.MaxHotStacks),
		logger:      utils.GetGlobalLogger(),
		clock:       utils.NewRealClock(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate discovers and merges all thread trace files in dir. A corrupt or
// truncated file becomes a warning on the result, never an overall error;
// only an unusable directory or a directory with no trace files fails.
func (a *Aggregator) Aggregate(ctx context.Context, dir string) (*model.AggregatedAnalysis, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "aggregator.Aggregate")
	defer span.End()

	start := a.clock.Now()

	files, err := a.discover(dir)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("memtrace.run_dir", dir),
		attribute.Int("memtrace.trace_files", len(files)),
	)
	a.logger.Info("aggregating run directory: dir=%s files=%d", dir, len(files))

	results := a.parseAll(ctx, files)
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeAggregation, "aggregation canceled", err)
	}

	analysis := a.reduce(dir, results)
	analysis.RunID = uuid.NewString()
	analysis.AnalyzedAt = a.clock.Now()
	analysis.Global.AnalysisDurationMs = uint64(a.clock.Since(start).Milliseconds())

	span.SetAttributes(
		attribute.Int("memtrace.threads", analysis.Global.ThreadCount),
		attribute.Int("memtrace.warnings", len(analysis.Warnings)),
	)
	a.logger.Info("aggregation complete: threads=%d sampled_events=%d warnings=%d",
		analysis.Global.ThreadCount, analysis.Global.TotalSampledEvents, len(analysis.Warnings))
	return analysis, nil
}

// discover lists the trace files of a run directory, sorted by thread id.
func (a *Aggregator) discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(errors.CodeAggregation, "failed to read run directory", err)
	}

	type namedFile struct {
		threadID uint64
		path     string
	}
	var files []namedFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if threadID, ok := trace.ParseThreadID(entry.Name()); ok {
			files = append(files, namedFile{threadID: threadID, path: filepath.Join(dir, entry.Name())})
		}
	}
	if len(files) == 0 {
		return nil, errors.Newf(errors.CodeAggregation, "no trace files found in %s", dir)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].threadID < files[j].threadID })
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

func (a *Aggregator) parseAll(ctx context.Context, files []string) []*fileResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "aggregator.parseAll")
	defer span.End()

	results := a.pool.ExecuteFunc(ctx, files, parseFile)

	out := make([]*fileResult, 0, len(results))
	for _, r := range results {
		if r.Error != nil {
			// Parse failures are data, not control flow: carry them into the
			// reduce phase as per-file failures.
			out = append(out, &fileResult{path: r.Input, err: r.Error})
			continue
		}
		out = append(out, r.Result)
	}
	return out
}
