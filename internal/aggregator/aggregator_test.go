package aggregator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtrace/internal/recorder"
	"github.com/memtrace/internal/sampling"
	"github.com/memtrace/internal/trace"
	"github.com/memtrace/pkg/model"
	"github.com/memtrace/pkg/utils"
)

func newTestAggregator(cfg Config) *Aggregator {
	return New(cfg, WithLogger(&utils.NullLogger{}))
}

// writeTrace builds one finalized trace file with the given events.
func writeTrace(t *testing.T, dir string, threadID uint64, startTS uint64, events []trace.Event, total uint64) {
	t.Helper()
	w, err := trace.NewFileWriter(dir, threadID, startTS)
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, w.WriteEvent(ev))
	}
	endTS := startTS
	if len(events) > 0 {
		endTS = events[len(events)-1].Timestamp
	}
	require.NoError(t, w.Finalize(trace.Trailer{
		TotalEvents:   total,
		SampledEvents: uint64(len(events)),
		EndTimestamp:  endTS + 1,
	}))
}

func alloc(ptr, size, ts, hash uint64) trace.Event {
	return trace.Event{Kind: trace.KindAlloc, Ptr: ptr, Size: size, Timestamp: ts, CallStackHash: hash}
}

func dealloc(ptr, ts, hash uint64) trace.Event {
	return trace.Event{Kind: trace.KindDealloc, Ptr: ptr, Timestamp: ts, CallStackHash: hash}
}

// Twenty threads each making one hundred small allocations from distinct call
// sites: thread count and exact totals are exact, the sampled subset is small.
func TestAggregate_ManySmallAllocations(t *testing.T) {
	const threads = 20
	const allocsPerThread = 100
	dir := t.TempDir()

	var wg sync.WaitGroup
	errs := make([]error, threads)
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			r, err := recorder.Init(dir, nil,
				recorder.WithThreadID(uint64(101+idx)),
				recorder.WithLogger(&utils.NullLogger{}))
			if err != nil {
				errs[idx] = err
				return
			}
			for j := 0; j < allocsPerThread; j++ {
				stack := []uint64{uint64(0x400000 + j)}
				ptr := r.ThreadID()<<32 | uint64(0x1000+j*64)
				if err := r.TrackAllocation(ptr, 64, stack); err != nil {
					errs[idx] = err
					return
				}
			}
			errs[idx] = r.Finalize()
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	analysis, err := newTestAggregator(Config{}).Aggregate(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, threads, analysis.Global.ThreadCount)
	assert.Equal(t, uint64(threads*allocsPerThread), analysis.Global.TotalAllocations)
	assert.False(t, analysis.HasWarnings())

	// At the default 1% small-tier rate roughly 20 of 2000 allocations get
	// sampled; allow a wide band around the expectation.
	assert.Less(t, analysis.Global.TotalSampledEvents, uint64(150))
	assert.LessOrEqual(t, analysis.Global.TotalSampledEvents, analysis.Global.TotalAllocations)

	for _, id := range analysis.ThreadIDs() {
		stats := analysis.PerThread[id]
		assert.Equal(t, uint64(allocsPerThread), stats.AllocCount, "thread %d", id)
		assert.False(t, stats.Partial)
		assert.LessOrEqual(t, stats.SampledEvents, stats.AllocCount)
	}
}

// A pointer allocated on one thread and freed on another shows up as exactly
// one interaction naming both threads.
func TestAggregate_CrossThreadHandOff(t *testing.T) {
	dir := t.TempDir()
	const shared = uint64(0xABCD0000)

	writeTrace(t, dir, 1, 1000, []trace.Event{
		alloc(shared, 4096, 1100, 7),
		dealloc(shared, 1200, 7),
	}, 2)
	writeTrace(t, dir, 2, 1000, []trace.Event{
		alloc(shared, 4096, 1500, 8),
		dealloc(shared, 1600, 8),
	}, 2)

	analysis, err := newTestAggregator(Config{}).Aggregate(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, analysis.Interactions, 1)
	got := analysis.Interactions[0]
	assert.Equal(t, shared, got.Address)
	assert.Equal(t, []uint64{1, 2}, got.ThreadIDs)
	assert.Equal(t, model.PatternHandedOff, got.Pattern)
}

func TestAggregate_ConcurrentAccessPattern(t *testing.T) {
	dir := t.TempDir()
	const shared = uint64(0xBEEF0000)

	// Lifetimes overlap: thread 2 touches the address before thread 1 is done.
	writeTrace(t, dir, 1, 1000, []trace.Event{
		alloc(shared, 128, 1100, 1),
		dealloc(shared, 2000, 1),
	}, 2)
	writeTrace(t, dir, 2, 1000, []trace.Event{
		alloc(shared, 128, 1500, 2),
	}, 1)

	analysis, err := newTestAggregator(Config{}).Aggregate(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, analysis.Interactions, 1)
	assert.Equal(t, model.PatternConcurrent, analysis.Interactions[0].Pattern)
}

// One of five files is truncated: four aggregate cleanly, the fifth yields
// partial stats and a warning, and the run as a whole succeeds.
func TestAggregate_TruncatedFileIsWarningNotError(t *testing.T) {
	dir := t.TempDir()

	for id := uint64(1); id <= 4; id++ {
		writeTrace(t, dir, id, 1000, []trace.Event{
			alloc(0x1000*id, 2048, 1100, id),
		}, 1)
	}

	// The fifth file never gets a trailer.
	w, err := trace.NewFileWriter(dir, 5, 1000)
	require.NoError(t, err)
	require.NoError(t, w.WriteEvent(alloc(0x9000, 2048, 1100, 5)))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	analysis, err := newTestAggregator(Config{}).Aggregate(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 5, analysis.Global.ThreadCount)
	require.Len(t, analysis.Warnings, 1)
	assert.Equal(t, trace.FileName(5), analysis.Warnings[0].File)
	assert.Equal(t, uint64(5), analysis.Warnings[0].ThreadID)

	require.NotNil(t, analysis.PerThread[5])
	assert.True(t, analysis.PerThread[5].Partial)
	assert.Equal(t, uint64(1), analysis.PerThread[5].SampledEvents)
	for id := uint64(1); id <= 4; id++ {
		assert.False(t, analysis.PerThread[id].Partial, "thread %d", id)
	}
}

func TestAggregate_UnreadableFileIsWarning(t *testing.T) {
	dir := t.TempDir()
	writeTrace(t, dir, 1, 1000, []trace.Event{alloc(0x1000, 64, 1100, 1)}, 1)

	garbage := filepath.Join(dir, trace.FileName(2))
	require.NoError(t, os.WriteFile(garbage, []byte("garbage, not a trace"), 0644))

	analysis, err := newTestAggregator(Config{}).Aggregate(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, analysis.Global.ThreadCount)
	require.Len(t, analysis.Warnings, 1)
	assert.Equal(t, trace.FileName(2), analysis.Warnings[0].File)
}

func TestAggregate_EmptyDirectoryFails(t *testing.T) {
	_, err := newTestAggregator(Config{}).Aggregate(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestAggregate_LeakCandidates(t *testing.T) {
	dir := t.TempDir()
	cfg := sampling.Default()

	// One freed allocation, one leaked large allocation, one leaked medium.
	writeTrace(t, dir, 1, 1000, []trace.Event{
		alloc(0x1000, 64*1024, 1100, 1),
		alloc(0x2000, 2048, 1150, 2),
		alloc(0x3000, 64*1024, 1200, 3),
		dealloc(0x1000, 1300, 1),
	}, 4)

	analysis, err := newTestAggregator(Config{Sampling: &cfg}).Aggregate(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, analysis.Leaks, 2)
	byAddr := map[uint64]model.LeakCandidate{}
	for _, leak := range analysis.Leaks {
		byAddr[leak.Address] = leak
	}

	// Large tier samples at 1.0, so a missing dealloc is high confidence.
	assert.Equal(t, cfg.LargeRate, byAddr[0x3000].Confidence)
	// Medium tier samples at 0.1, so the dealloc may simply be unrecorded.
	assert.Equal(t, cfg.MediumRate, byAddr[0x2000].Confidence)
	assert.NotContains(t, byAddr, uint64(0x1000))
}

func TestAggregate_LeakFloorOnUnfreedSmallAllocations(t *testing.T) {
	// K small allocations with zero deallocations must surface at least
	// K * small-tier-rate leak candidates, however the sampler's draws fall.
	const k = 1000
	dir := t.TempDir()
	cfg := sampling.Default()
	floor := uint64(cfg.SmallRate * k)

	r, err := recorder.Init(dir, &cfg,
		recorder.WithThreadID(7),
		recorder.WithLogger(&utils.NullLogger{}))
	require.NoError(t, err)

	for j := 0; j < k; j++ {
		// Distinct call sites keep the frequency boost out of the rate.
		stack := []uint64{uint64(0x500000 + j)}
		require.NoError(t, r.TrackAllocation(uint64(0x10000+j*64), 64, stack))
	}
	require.NoError(t, r.Finalize())

	analysis, err := newTestAggregator(Config{Sampling: &cfg}).Aggregate(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, uint64(k), analysis.Global.TotalAllocations)
	assert.GreaterOrEqual(t, uint64(len(analysis.Leaks)), floor)
	assert.LessOrEqual(t, uint64(len(analysis.Leaks)), analysis.Global.TotalSampledEvents)
	for _, leak := range analysis.Leaks {
		assert.Equal(t, cfg.SmallRate, leak.Confidence)
	}
}

func TestAggregate_BottlenecksFromSampledSites(t *testing.T) {
	dir := t.TempDir()

	events := []trace.Event{
		alloc(0x100, 16, 1001, 500),
		alloc(0x200, 16, 1001, 501),
		alloc(0x300, 16, 1001, 502),
	}
	ts := uint64(1002)
	for i := 0; i < 50; i++ {
		events = append(events, alloc(uint64(0x10000+i*0x100), 128*1024, ts, 900))
		ts++
	}
	writeTrace(t, dir, 1, 1000, events, uint64(len(events)))

	analysis, err := newTestAggregator(Config{}).Aggregate(context.Background(), dir)
	require.NoError(t, err)

	require.NotEmpty(t, analysis.Bottlenecks)
	top := analysis.Bottlenecks[0]
	assert.Equal(t, uint64(900), top.CallStackHash)
	assert.Equal(t, uint64(1), top.ThreadID)
	assert.Equal(t, uint64(50), top.SampledCount)
	assert.Greater(t, top.MeanRatio, 2.0)
}

func TestAggregate_HotStacksPreferSidecar(t *testing.T) {
	dir := t.TempDir()
	r, err := recorder.Init(dir, nil,
		recorder.WithThreadID(9001),
		recorder.WithLogger(&utils.NullLogger{}))
	require.NoError(t, err)

	hot := []uint64{0x400100}
	for i := 0; i < 40; i++ {
		require.NoError(t, r.TrackAllocation(uint64(0x1000+i*32), 64, hot))
	}
	require.NoError(t, r.TrackAllocation(0x9000, 64*1024, []uint64{0x400200}))
	require.NoError(t, r.Finalize())

	analysis, err := newTestAggregator(Config{}).Aggregate(context.Background(), dir)
	require.NoError(t, err)

	// The sidecar carries exact counts, so the 40-allocation site appears
	// with its full frequency even though few of its events were sampled.
	var found *model.HotCallStack
	for i := range analysis.HotCallStacks {
		if analysis.HotCallStacks[i].CallStackHash == trace.HashCallStack(hot) {
			found = &analysis.HotCallStacks[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, uint64(40), found.TotalFrequency)
	assert.Equal(t, uint64(40*64), found.TotalSize)
}
