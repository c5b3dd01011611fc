// Package statistics ranks allocation hotspots from aggregated trace data:
// per-thread bottleneck call sites and run-wide hot call stacks.
package statistics

import (
	"sort"

	"github.com/memtrace/pkg/model"
)

// SiteVolume is the allocation volume of one call site on one thread, either
// from sampled events or from the exact frequency sidecar.
type SiteVolume struct {
	ThreadID      uint64
	CallStackHash uint64
	Count         uint64
	TotalBytes    uint64
}

// DefaultThresholdMultiplier flags sites whose score exceeds this multiple of
// the mean score.
const DefaultThresholdMultiplier = 2.0

// BottleneckCalculator flags (thread, call stack) pairs whose sampled
// allocation volume stands out from the mean across all sites.
type BottleneckCalculator struct {
	thresholdMultiplier float64
	maxResults          int
}

// BottleneckOption configures the BottleneckCalculator.
type BottleneckOption func(*BottleneckCalculator)

// WithThresholdMultiplier sets the multiple of the mean score above which a
// site is flagged.
func WithThresholdMultiplier(m float64) BottleneckOption {
	return func(c *BottleneckCalculator) {
		if m > 0 {
			c.thresholdMultiplier = m
		}
	}
}

// WithMaxBottlenecks caps the number of returned bottlenecks.
func WithMaxBottlenecks(n int) BottleneckOption {
	return func(c *BottleneckCalculator) {
		c.maxResults = n
	}
}

// NewBottleneckCalculator creates a calculator with the default threshold.
func NewBottleneckCalculator(opts ...BottleneckOption) *BottleneckCalculator {
	c := &BottleneckCalculator{
		thresholdMultiplier: DefaultThresholdMultiplier,
		maxResults:          0, // 0 means no limit
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calculate scores every site as count times average size and returns the
// sites above the threshold multiple of the mean score, highest first.
// Ordering is deterministic: ties break by thread id, then call stack hash.
func (c *BottleneckCalculator) Calculate(sites []SiteVolume) []model.Bottleneck {
	if len(sites) == 0 {
		return nil
	}

	scored := make([]model.Bottleneck, 0, len(sites))
	var totalScore float64
	for _, site := range sites {
		if site.Count == 0 {
			continue
		}
		avgSize := float64(site.TotalBytes) / float64(site.Count)
		score := float64(site.Count) * avgSize
		totalScore += score
		scored = append(scored, model.Bottleneck{
			ThreadID:      site.ThreadID,
			CallStackHash: site.CallStackHash,
			SampledCount:  site.Count,
			AvgSize:       avgSize,
			Score:         score,
		})
	}
	if len(scored) == 0 {
		return nil
	}

	mean := totalScore / float64(len(scored))
	threshold := mean * c.thresholdMultiplier

	flagged := scored[:0]
	for _, b := range scored {
		if b.Score > threshold {
			if mean > 0 {
				b.MeanRatio = b.Score / mean
			}
			flagged = append(flagged, b)
		}
	}

	sort.Slice(flagged, func(i, j int) bool {
		if flagged[i].Score != flagged[j].Score {
			return flagged[i].Score > flagged[j].Score
		}
		if flagged[i].ThreadID != flagged[j].ThreadID {
			return flagged[i].ThreadID < flagged[j].ThreadID
		}
		return flagged[i].CallStackHash < flagged[j].CallStackHash
	})

	if c.maxResults > 0 && len(flagged) > c.maxResults {
		flagged = flagged[:c.maxResults]
	}
	if len(flagged) == 0 {
		return nil
	}
	return append([]model.Bottleneck(nil), flagged...)
}
