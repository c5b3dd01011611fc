package statistics

import (
	"sort"

	"github.com/memtrace/pkg/model"
)

// DefaultMaxHotStacks is the default number of hot call stacks reported.
const DefaultMaxHotStacks = 10

// HotStackCalculator merges per-thread call-site volumes into a run-wide
// ranking of call stacks by impact.
type HotStackCalculator struct {
	maxStacks int
}

// NewHotStackCalculator creates a calculator returning at most maxStacks
// entries; maxStacks <= 0 means the default.
func NewHotStackCalculator(maxStacks int) *HotStackCalculator {
	if maxStacks <= 0 {
		maxStacks = DefaultMaxHotStacks
	}
	return &HotStackCalculator{maxStacks: maxStacks}
}

// Calculate groups sites by call stack hash across threads and ranks them by
// impact score (total frequency times total size), highest first.
func (c *HotStackCalculator) Calculate(sites []SiteVolume) []model.HotCallStack {
	if len(sites) == 0 {
		return nil
	}

	type accum struct {
		frequency uint64
		size      uint64
		threads   map[uint64]struct{}
	}
	byHash := make(map[uint64]*accum)
	for _, site := range sites {
		a := byHash[site.CallStackHash]
		if a == nil {
			a = &accum{threads: make(map[uint64]struct{})}
			byHash[site.CallStackHash] = a
		}
		a.frequency += site.Count
		a.size += site.TotalBytes
		a.threads[site.ThreadID] = struct{}{}
	}

	stacks := make([]model.HotCallStack, 0, len(byHash))
	for hash, a := range byHash {
		threadIDs := make([]uint64, 0, len(a.threads))
		for id := range a.threads {
			threadIDs = append(threadIDs, id)
		}
		sort.Slice(threadIDs, func(i, j int) bool { return threadIDs[i] < threadIDs[j] })

		stacks = append(stacks, model.HotCallStack{
			CallStackHash:  hash,
			TotalFrequency: a.frequency,
			TotalSize:      a.size,
			ImpactScore:    a.frequency * a.size,
			ThreadIDs:      threadIDs,
		})
	}

	sort.Slice(stacks, func(i, j int) bool {
		if stacks[i].ImpactScore != stacks[j].ImpactScore {
			return stacks[i].ImpactScore > stacks[j].ImpactScore
		}
		return stacks[i].CallStackHash < stacks[j].CallStackHash
	})

	if len(stacks) > c.maxStacks {
		stacks = stacks[:c.maxStacks]
	}
	return stacks
}
