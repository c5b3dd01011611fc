// Package model defines the shared data structures for aggregated trace analysis.
package model

import (
	"sort"
	"time"
)

// ThreadStats holds per-thread allocation statistics derived from one trace file.
//
// Alloc/dealloc counts and byte totals come from the exact (unsampled) counters
// carried in the trace trailer; sampled fields describe the recorded event subset.
type ThreadStats struct {
	ThreadID            uint64  `json:"thread_id"`
	AllocCount          uint64  `json:"alloc_count"`
	DeallocCount        uint64  `json:"dealloc_count"`
	BytesAllocated      uint64  `json:"bytes_allocated"`
	PeakConcurrentBytes uint64  `json:"peak_concurrent_bytes"`
	SampledEvents       uint64  `json:"sampled_events"`
	SampledRatio        float64 `json:"sampled_ratio"`
	AvgAllocationSize   float64 `json:"avg_allocation_size"`
	StartTimestamp      uint64  `json:"start_timestamp"`
	EndTimestamp        uint64  `json:"end_timestamp"`
	Partial             bool    `json:"partial,omitempty"`
}

// InteractionPattern labels the inferred access pattern of a cross-thread address.
type InteractionPattern string

const (
	// PatternHandedOff indicates disjoint per-thread time ranges for the address.
	PatternHandedOff InteractionPattern = "handed_off"
	// PatternConcurrent indicates overlapping per-thread time ranges.
	PatternConcurrent InteractionPattern = "concurrent"
)

// CrossThreadInteraction reports an address observed in two or more thread
// trace files. Pointer reuse by the allocator can produce false positives;
// this is a documented heuristic limitation.
type CrossThreadInteraction struct {
	Address   uint64             `json:"address"`
	ThreadIDs []uint64           `json:"thread_ids"`
	Pattern   InteractionPattern `json:"inferred_pattern"`
}

// Bottleneck flags a (thread, call stack) pair whose sampled allocation volume
// stands out from the mean.
type Bottleneck struct {
	ThreadID      uint64  `json:"thread_id"`
	CallStackHash uint64  `json:"call_stack_hash"`
	SampledCount  uint64  `json:"sampled_count"`
	AvgSize       float64 `json:"avg_size"`
	Score         float64 `json:"score"`
	MeanRatio     float64 `json:"mean_ratio"`
}

// HotCallStack ranks a call stack across all threads by impact.
type HotCallStack struct {
	CallStackHash  uint64   `json:"call_stack_hash"`
	TotalFrequency uint64   `json:"total_frequency"`
	TotalSize      uint64   `json:"total_size"`
	ImpactScore    uint64   `json:"impact_score"`
	ThreadIDs      []uint64 `json:"thread_ids"`
}

// LeakCandidate is a sampled allocation with no matching sampled deallocation
// by end of trace. Confidence reflects the sampling rate of the size tier:
// under sparse sampling a missing dealloc is expected, not conclusive.
type LeakCandidate struct {
	Address       uint64  `json:"address"`
	ThreadID      uint64  `json:"thread_id"`
	Size          uint64  `json:"size"`
	CallStackHash uint64  `json:"call_stack_hash"`
	Timestamp     uint64  `json:"timestamp"`
	Confidence    float64 `json:"confidence"`
}

// Warning records a partial failure during aggregation, such as a corrupt or
// truncated trace file. Warnings never abort the run.
type Warning struct {
	File     string `json:"file"`
	ThreadID uint64 `json:"thread_id,omitempty"`
	Message  string `json:"message"`
}

// GlobalStats summarizes the whole run across all thread trace files.
type GlobalStats struct {
	ThreadCount           int     `json:"thread_count"`
	TotalAllocations      uint64  `json:"total_allocations"`
	TotalDeallocations    uint64  `json:"total_deallocations"`
	TotalBytesAllocated   uint64  `json:"total_bytes_allocated"`
	PeakMemoryBytes       uint64  `json:"peak_memory_bytes"`
	TotalSampledEvents    uint64  `json:"total_sampled_events"`
	UniqueCallStacks      int     `json:"unique_call_stacks"`
	SamplingEffectiveness float64 `json:"sampling_effectiveness"`
	AnalysisDurationMs    uint64  `json:"analysis_duration_ms"`
}

// AggregatedAnalysis is the unified result of merging all thread trace files
// in one run directory. It is a plain serializable structure consumed by
// report renderers and the run repository.
type AggregatedAnalysis struct {
	RunID         string                  `json:"run_id,omitempty"`
	Directory     string                  `json:"directory"`
	PerThread     map[uint64]*ThreadStats `json:"per_thread"`
	Global        GlobalStats             `json:"global"`
	Bottlenecks   []Bottleneck            `json:"bottlenecks"`
	HotCallStacks []HotCallStack          `json:"hot_call_stacks"`
	Interactions  []CrossThreadInteraction `json:"interactions"`
	Leaks         []LeakCandidate         `json:"leaks"`
	Warnings      []Warning               `json:"warnings"`
	AnalyzedAt    time.Time               `json:"analyzed_at"`
}

// ThreadIDs returns the analyzed thread ids in ascending order.
func (a *AggregatedAnalysis) ThreadIDs() []uint64 {
	ids := make([]uint64, 0, len(a.PerThread))
	for id := range a.PerThread {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HasWarnings reports whether any trace file failed to parse cleanly.
func (a *AggregatedAnalysis) HasWarnings() bool {
	return len(a.Warnings) > 0
}
