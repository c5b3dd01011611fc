package aggregator

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/memtrace/internal/statistics"
	"github.com/memtrace/internal/trace"
	"github.com/memtrace/pkg/model"
)

// ptrSpan is the observed lifetime of one address on one thread, from its
// first to its last sampled event.
type ptrSpan struct {
	threadID uint64
	first    uint64
	last     uint64
}

// reduce merges parsed files into the final analysis. It runs on a single
// goroutine and visits files in ascending thread id order with each file's
// events already in timestamp order, so every derived collection comes out
// deterministic.
func (a *Aggregator) reduce(dir string, results []*fileResult) *model.AggregatedAnalysis {
	sort.Slice(results, func(i, j int) bool {
		if results[i].header.ThreadID != results[j].header.ThreadID {
			return results[i].header.ThreadID < results[j].header.ThreadID
		}
		return results[i].path < results[j].path
	})

	analysis := &model.AggregatedAnalysis{
		Directory: dir,
		PerThread: make(map[uint64]*model.ThreadStats),
	}

	var (
		siteVolumes   []statistics.SiteVolume // sampled volume per (thread, site)
		exactVolumes  []statistics.SiteVolume // sidecar volume per (thread, site)
		spansByAddr   = make(map[uint64][]ptrSpan)
		uniqueStacks  = make(map[uint64]struct{})
		haveAllExact  = true
		totalExact    uint64
		totalSampled  uint64
	)

	for _, res := range results {
		if res.err != nil {
			analysis.Warnings = append(analysis.Warnings, model.Warning{
				File:    filepath.Base(res.path),
				Message: fmt.Sprintf("unreadable trace file: %v", res.err),
			})
			a.logger.Warn("skipping unreadable trace file: file=%s err=%v", res.path, res.err)
			continue
		}

		threadID := res.header.ThreadID
		stats, thread := a.reduceThread(res)
		analysis.PerThread[threadID] = stats

		if res.decodeErr != nil {
			analysis.Warnings = append(analysis.Warnings, model.Warning{
				File:     filepath.Base(res.path),
				ThreadID: threadID,
				Message:  fmt.Sprintf("corrupt record, kept %d events decoded before it: %v", len(res.events), res.decodeErr),
			})
		} else if res.truncated {
			analysis.Warnings = append(analysis.Warnings, model.Warning{
				File:     filepath.Base(res.path),
				ThreadID: threadID,
				Message:  fmt.Sprintf("missing trailer, writer still open or crashed; kept %d events", len(res.events)),
			})
		}

		siteVolumes = append(siteVolumes, thread.sites...)
		if res.sidecar != nil {
			for _, site := range res.sidecar.Sites {
				exactVolumes = append(exactVolumes, statistics.SiteVolume{
					ThreadID:      threadID,
					CallStackHash: site.CallStackHash,
					Count:         site.AllocCount,
					TotalBytes:    site.TotalBytes,
				})
			}
		} else {
			haveAllExact = false
		}

		for addr, span := range thread.spans {
			spansByAddr[addr] = append(spansByAddr[addr], span)
		}
		for hash := range thread.stacks {
			uniqueStacks[hash] = struct{}{}
		}
		analysis.Leaks = append(analysis.Leaks, thread.leaks...)

		analysis.Global.TotalAllocations += stats.AllocCount
		analysis.Global.TotalDeallocations += stats.DeallocCount
		analysis.Global.TotalBytesAllocated += stats.BytesAllocated
		analysis.Global.PeakMemoryBytes += stats.PeakConcurrentBytes
		analysis.Global.TotalSampledEvents += stats.SampledEvents
		totalSampled += stats.SampledEvents
		if res.trailer != nil {
			totalExact += res.trailer.TotalEvents
		}
	}

	analysis.Global.ThreadCount = len(analysis.PerThread)
	analysis.Global.UniqueCallStacks = len(uniqueStacks)
	if totalExact > 0 {
		analysis.Global.SamplingEffectiveness = float64(totalSampled) / float64(totalExact)
	}

	analysis.Interactions = a.findInteractions(spansByAddr)
	analysis.Bottlenecks = a.bottlenecks.Calculate(siteVolumes)

	// Hot call stacks prefer the exact sidecar volumes; fall back to sampled
	// volumes when any thread lacks a sidecar so the ranking stays comparable.
	if haveAllExact && len(exactVolumes) > 0 {
		analysis.HotCallStacks = a.hotStacks.Calculate(exactVolumes)
	} else {
		analysis.HotCallStacks = a.hotStacks.Calculate(siteVolumes)
	}

	sortLeaks(analysis.Leaks)
	return analysis
}

// threadReduction carries the per-thread intermediates the global merge needs.
type threadReduction struct {
	sites  []statistics.SiteVolume
	spans  map[uint64]ptrSpan
	stacks map[uint64]struct{}
	leaks  []model.LeakCandidate
}

func (a *Aggregator) reduceThread(res *fileResult) (*model.ThreadStats, *threadReduction) {
	threadID := res.header.ThreadID
	stats := &model.ThreadStats{
		ThreadID:       threadID,
		StartTimestamp: res.header.StartTimestamp,
		Partial:        res.truncated || res.decodeErr != nil,
	}

	thread := &threadReduction{
		spans:  make(map[uint64]ptrSpan),
		stacks: make(map[uint64]struct{}),
	}

	type liveAlloc struct {
		event trace.Event
	}
	live := make(map[uint64]liveAlloc)
	siteAccum := make(map[uint64]*statistics.SiteVolume)

	var (
		sampledAllocs   uint64
		sampledDeallocs uint64
		sampledBytes    uint64
		liveBytes       uint64
		peakBytes       uint64
		lastTS          = res.header.StartTimestamp
	)

	for _, ev := range res.events {
		lastTS = ev.Timestamp
		thread.stacks[ev.CallStackHash] = struct{}{}

		span, seen := thread.spans[ev.Ptr]
		if !seen {
			span = ptrSpan{threadID: threadID, first: ev.Timestamp, last: ev.Timestamp}
		} else {
			span.last = ev.Timestamp
		}
		thread.spans[ev.Ptr] = span

		switch ev.Kind {
		case trace.KindAlloc:
			sampledAllocs++
			sampledBytes += ev.Size
			live[ev.Ptr] = liveAlloc{event: ev}
			liveBytes += ev.Size
			if liveBytes > peakBytes {
				peakBytes = liveBytes
			}

			site := siteAccum[ev.CallStackHash]
			if site == nil {
				site = &statistics.SiteVolume{ThreadID: threadID, CallStackHash: ev.CallStackHash}
				siteAccum[ev.CallStackHash] = site
			}
			site.Count++
			site.TotalBytes += ev.Size

		case trace.KindDealloc:
			sampledDeallocs++
			if alloc, ok := live[ev.Ptr]; ok {
				liveBytes -= alloc.event.Size
				delete(live, ev.Ptr)
			}
			// Deallocations of unsampled or foreign allocations are expected.
		}
	}

	// A sampled allocation never freed within the trace is a leak candidate.
	// Confidence is the sampling rate of its size tier: the sparser the tier,
	// the more likely the dealloc simply went unrecorded.
	for _, alloc := range live {
		ev := alloc.event
		thread.leaks = append(thread.leaks, model.LeakCandidate{
			Address:       ev.Ptr,
			ThreadID:      threadID,
			Size:          ev.Size,
			CallStackHash: ev.CallStackHash,
			Timestamp:     ev.Timestamp,
			Confidence:    a.sampling.TierRate(a.sampling.TierOf(ev.Size)),
		})
	}

	hashes := make([]uint64, 0, len(siteAccum))
	for hash := range siteAccum {
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	for _, hash := range hashes {
		thread.sites = append(thread.sites, *siteAccum[hash])
	}

	stats.SampledEvents = uint64(len(res.events))
	stats.PeakConcurrentBytes = peakBytes
	stats.EndTimestamp = lastTS

	if res.trailer != nil {
		stats.EndTimestamp = res.trailer.EndTimestamp
		if res.trailer.TotalEvents > 0 {
			stats.SampledRatio = float64(res.trailer.SampledEvents) / float64(res.trailer.TotalEvents)
		}
	}

	// Exact counts come from the sidecar when present; otherwise only the
	// sampled subset is known and the stats are explicitly estimates.
	if res.sidecar != nil {
		for _, site := range res.sidecar.Sites {
			stats.AllocCount += site.AllocCount
			stats.BytesAllocated += site.TotalBytes
		}
		if res.trailer != nil && res.trailer.TotalEvents >= stats.AllocCount {
			stats.DeallocCount = res.trailer.TotalEvents - stats.AllocCount
		} else {
			stats.DeallocCount = sampledDeallocs
		}
	} else {
		stats.AllocCount = sampledAllocs
		stats.DeallocCount = sampledDeallocs
		stats.BytesAllocated = sampledBytes
	}
	if stats.AllocCount > 0 {
		stats.AvgAllocationSize = float64(stats.BytesAllocated) / float64(stats.AllocCount)
	}

	return stats, thread
}

// findInteractions reports every address seen on two or more threads, labelled by
// whether the per-thread lifetimes overlap.
func (a *Aggregator) findInteractions(spansByAddr map[uint64][]ptrSpan) []model.CrossThreadInteraction {
	addrs := make([]uint64, 0, len(spansByAddr))
	for addr, spans := range spansByAddr {
		if len(spans) >= 2 {
			addrs = append(addrs, addr)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	var interactions []model.CrossThreadInteraction
	for _, addr := range addrs {
		spans := spansByAddr[addr]
		sort.Slice(spans, func(i, j int) bool { return spans[i].threadID < spans[j].threadID })

		threadIDs := make([]uint64, len(spans))
		for i, s := range spans {
			threadIDs[i] = s.threadID
		}

		interactions = append(interactions, model.CrossThreadInteraction{
			Address:   addr,
			ThreadIDs: threadIDs,
			Pattern:   classifySpans(spans),
		})
	}
	return interactions
}

// classifySpans labels an address as handed off when the per-thread lifetime
// ranges are pairwise disjoint, concurrent when any two overlap. Pointer
// reuse by the allocator can make unrelated lifetimes look like hand-offs.
func classifySpans(spans []ptrSpan) model.InteractionPattern {
	ordered := make([]ptrSpan, len(spans))
	copy(ordered, spans)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].first < ordered[j].first })

	for i := 1; i < len(ordered); i++ {
		if ordered[i].first <= ordered[i-1].last {
			return model.PatternConcurrent
		}
	}
	return model.PatternHandedOff
}

func sortLeaks(leaks []model.LeakCandidate) {
	sort.Slice(leaks, func(i, j int) bool {
		if leaks[i].ThreadID != leaks[j].ThreadID {
			return leaks[i].ThreadID < leaks[j].ThreadID
		}
		if leaks[i].Timestamp != leaks[j].Timestamp {
			return leaks[i].Timestamp < leaks[j].Timestamp
		}
		return leaks[i].Address < leaks[j].Address
	})
}
