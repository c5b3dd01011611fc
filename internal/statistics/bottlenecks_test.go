package statistics

import (
	"testing"
)

func TestBottleneckCalculator_FlagsOutliers(t *testing.T) {
	// Nine quiet sites and one dominating site. Mean score is pulled up by
	// the outlier but the outlier still clears 2x the mean.
	sites := []SiteVolume{
		{ThreadID: 1, CallStackHash: 100, Count: 10, TotalBytes: 1000},
		{ThreadID: 1, CallStackHash: 101, Count: 10, TotalBytes: 1000},
		{ThreadID: 2, CallStackHash: 102, Count: 10, TotalBytes: 1000},
		{ThreadID: 2, CallStackHash: 103, Count: 10, TotalBytes: 1000},
		{ThreadID: 3, CallStackHash: 999, Count: 1000, TotalBytes: 10_000_000},
	}

	got := NewBottleneckCalculator().Calculate(sites)

	if len(got) != 1 {
		t.Fatalf("got %d bottlenecks, want 1", len(got))
	}
	b := got[0]
	if b.ThreadID != 3 || b.CallStackHash != 999 {
		t.Errorf("flagged wrong site: thread=%d hash=%d", b.ThreadID, b.CallStackHash)
	}
	if b.AvgSize != 10000 {
		t.Errorf("avg size = %v, want 10000", b.AvgSize)
	}
	if b.Score != 10_000_000 {
		t.Errorf("score = %v, want 10000000", b.Score)
	}
	if b.MeanRatio <= DefaultThresholdMultiplier {
		t.Errorf("mean ratio %v should exceed the threshold multiplier", b.MeanRatio)
	}
}

func TestBottleneckCalculator_UniformSitesFlagNothing(t *testing.T) {
	var sites []SiteVolume
	for i := uint64(0); i < 10; i++ {
		sites = append(sites, SiteVolume{ThreadID: i % 3, CallStackHash: i, Count: 5, TotalBytes: 500})
	}

	if got := NewBottleneckCalculator().Calculate(sites); got != nil {
		t.Errorf("uniform sites produced bottlenecks: %+v", got)
	}
}

func TestBottleneckCalculator_CustomThreshold(t *testing.T) {
	sites := []SiteVolume{
		{ThreadID: 1, CallStackHash: 1, Count: 1, TotalBytes: 100},
		{ThreadID: 1, CallStackHash: 2, Count: 1, TotalBytes: 200},
	}

	// Mean score is 150; with a 1.1x threshold only the 200-byte site clears it.
	got := NewBottleneckCalculator(WithThresholdMultiplier(1.1)).Calculate(sites)
	if len(got) != 1 || got[0].CallStackHash != 2 {
		t.Fatalf("got %+v, want single entry for hash 2", got)
	}
}

func TestBottleneckCalculator_EmptyAndZeroCount(t *testing.T) {
	if got := NewBottleneckCalculator().Calculate(nil); got != nil {
		t.Errorf("nil input produced %+v", got)
	}
	if got := NewBottleneckCalculator().Calculate([]SiteVolume{{ThreadID: 1, Count: 0}}); got != nil {
		t.Errorf("zero-count site produced %+v", got)
	}
}

func TestBottleneckCalculator_DeterministicOrder(t *testing.T) {
	sites := []SiteVolume{
		{ThreadID: 2, CallStackHash: 20, Count: 100, TotalBytes: 1_000_000},
		{ThreadID: 1, CallStackHash: 10, Count: 100, TotalBytes: 1_000_000},
		{ThreadID: 1, CallStackHash: 1, Count: 1, TotalBytes: 1},
		{ThreadID: 2, CallStackHash: 2, Count: 1, TotalBytes: 1},
		{ThreadID: 3, CallStackHash: 3, Count: 1, TotalBytes: 1},
	}

	got := NewBottleneckCalculator().Calculate(sites)
	if len(got) != 2 {
		t.Fatalf("got %d bottlenecks, want 2", len(got))
	}
	// Equal scores break ties by thread id.
	if got[0].ThreadID != 1 || got[1].ThreadID != 2 {
		t.Errorf("tie-break order wrong: %+v", got)
	}
}

func TestHotStackCalculator_MergesAcrossThreads(t *testing.T) {
	sites := []SiteVolume{
		{ThreadID: 1, CallStackHash: 77, Count: 10, TotalBytes: 1000},
		{ThreadID: 2, CallStackHash: 77, Count: 30, TotalBytes: 3000},
		{ThreadID: 1, CallStackHash: 88, Count: 1, TotalBytes: 10},
	}

	got := NewHotStackCalculator(0).Calculate(sites)
	if len(got) != 2 {
		t.Fatalf("got %d hot stacks, want 2", len(got))
	}

	top := got[0]
	if top.CallStackHash != 77 {
		t.Fatalf("top stack hash = %d, want 77", top.CallStackHash)
	}
	if top.TotalFrequency != 40 || top.TotalSize != 4000 {
		t.Errorf("merged totals wrong: freq=%d size=%d", top.TotalFrequency, top.TotalSize)
	}
	if top.ImpactScore != 40*4000 {
		t.Errorf("impact score = %d, want %d", top.ImpactScore, 40*4000)
	}
	if len(top.ThreadIDs) != 2 || top.ThreadIDs[0] != 1 || top.ThreadIDs[1] != 2 {
		t.Errorf("thread ids = %v, want [1 2]", top.ThreadIDs)
	}
}

func TestHotStackCalculator_LimitsResults(t *testing.T) {
	var sites []SiteVolume
	for i := uint64(0); i < 50; i++ {
		sites = append(sites, SiteVolume{ThreadID: 1, CallStackHash: i, Count: i + 1, TotalBytes: (i + 1) * 100})
	}

	got := NewHotStackCalculator(5).Calculate(sites)
	if len(got) != 5 {
		t.Fatalf("got %d hot stacks, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].ImpactScore > got[i-1].ImpactScore {
			t.Errorf("results not sorted by impact at %d", i)
		}
	}
}
