// Package sampling implements size- and frequency-based sampling decisions for
// allocation event capture.
//
// Capturing every allocation in a program with dozens of busy threads is too
// expensive, so each recorder consults a sampling policy: allocation size picks
// a base rate (three tiers), and call sites that fire often get a boosted rate
// so hotspots stay visible even in the small tier.
package sampling

import (
	"github.com/memtrace/pkg/errors"
)

// Tier is the size-based sampling bucket of an allocation.
type Tier int

const (
	// TierSmall covers allocations below the medium threshold.
	TierSmall Tier = iota
	// TierMedium covers allocations between the medium and large thresholds.
	TierMedium
	// TierLarge covers allocations at or above the large threshold.
	TierLarge
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierSmall:
		return "small"
	case TierMedium:
		return "medium"
	case TierLarge:
		return "large"
	default:
		return "unknown"
	}
}

// maxFrequencyBoost caps the frequency multiplier so a hot site cannot push
// the effective rate arbitrarily high.
const maxFrequencyBoost = 10.0

// Config holds the sampling rates and thresholds for one recorder.
type Config struct {
	// LargeRate is the sample rate for large allocations, usually 1.0 to
	// catch every potential leak.
	LargeRate float64 `mapstructure:"large_rate" json:"large_rate"`
	// MediumRate is the sample rate for medium allocations.
	MediumRate float64 `mapstructure:"medium_rate" json:"medium_rate"`
	// SmallRate is the sample rate for small allocations.
	SmallRate float64 `mapstructure:"small_rate" json:"small_rate"`
	// LargeThreshold is the size in bytes at or above which an allocation is large.
	LargeThreshold uint64 `mapstructure:"large_threshold" json:"large_threshold"`
	// MediumThreshold is the size in bytes at or above which an allocation is medium.
	MediumThreshold uint64 `mapstructure:"medium_threshold" json:"medium_threshold"`
	// FrequencyThreshold is the per-site occurrence count beyond which the
	// sampling rate is boosted.
	FrequencyThreshold uint64 `mapstructure:"frequency_threshold" json:"frequency_threshold"`
}

// Default returns the configuration for typical applications: all large
// allocations, 10% of medium, 1% of small.
func Default() Config {
	return Config{
		LargeRate:          1.0,
		MediumRate:         0.1,
		SmallRate:          0.01,
		LargeThreshold:     10 * 1024,
		MediumThreshold:    1024,
		FrequencyThreshold: 10,
	}
}

// HighPrecision returns a configuration for debugging scenarios: higher rates
// and lower thresholds at the cost of overhead.
func HighPrecision() Config {
	return Config{
		LargeRate:          1.0,
		MediumRate:         0.5,
		SmallRate:          0.1,
		LargeThreshold:     4 * 1024,
		MediumThreshold:    512,
		FrequencyThreshold: 5,
	}
}

// PerformanceOptimized returns a configuration for production use with
// minimal sampling overhead.
func PerformanceOptimized() Config {
	return Config{
		LargeRate:          1.0,
		MediumRate:         0.05,
		SmallRate:          0.001,
		LargeThreshold:     50 * 1024,
		MediumThreshold:    5 * 1024,
		FrequencyThreshold: 50,
	}
}

// LeakDetection returns a configuration tuned to catch leak patterns: a high
// medium-tier rate, low thresholds and a fast frequency boost.
func LeakDetection() Config {
	return Config{
		LargeRate:          1.0,
		MediumRate:         0.8,
		SmallRate:          0.01,
		LargeThreshold:     1024,
		MediumThreshold:    256,
		FrequencyThreshold: 3,
	}
}

// Preset returns the named preset configuration.
func Preset(name string) (Config, error) {
	switch name {
	case "", "default":
		return Default(), nil
	case "high_precision":
		return HighPrecision(), nil
	case "performance_optimized":
		return PerformanceOptimized(), nil
	case "leak_detection":
		return LeakDetection(), nil
	default:
		return Config{}, errors.Newf(errors.CodeSamplingConfig, "unknown sampling preset: %s", name)
	}
}

// Validate checks that all rates are within [0, 1] and thresholds are
// strictly ordered.
func (c Config) Validate() error {
	if c.LargeRate < 0 || c.LargeRate > 1 {
		return errors.Newf(errors.CodeSamplingConfig, "large rate %v outside [0, 1]", c.LargeRate)
	}
	if c.MediumRate < 0 || c.MediumRate > 1 {
		return errors.Newf(errors.CodeSamplingConfig, "medium rate %v outside [0, 1]", c.MediumRate)
	}
	if c.SmallRate < 0 || c.SmallRate > 1 {
		return errors.Newf(errors.CodeSamplingConfig, "small rate %v outside [0, 1]", c.SmallRate)
	}
	if c.MediumThreshold == 0 {
		return errors.New(errors.CodeSamplingConfig, "medium threshold must be greater than 0")
	}
	if c.LargeThreshold <= c.MediumThreshold {
		return errors.Newf(errors.CodeSamplingConfig,
			"large threshold %d must be greater than medium threshold %d",
			c.LargeThreshold, c.MediumThreshold)
	}
	if c.FrequencyThreshold == 0 {
		return errors.New(errors.CodeSamplingConfig, "frequency threshold must be greater than 0")
	}
	return nil
}

// TierOf returns the size tier of an allocation. Thresholds are inclusive at
// the lower bound: size == LargeThreshold is large.
func (c Config) TierOf(size uint64) Tier {
	switch {
	case size >= c.LargeThreshold:
		return TierLarge
	case size >= c.MediumThreshold:
		return TierMedium
	default:
		return TierSmall
	}
}

// BaseRate returns the size-tier sampling rate before frequency adjustment.
func (c Config) BaseRate(size uint64) float64 {
	switch c.TierOf(size) {
	case TierLarge:
		return c.LargeRate
	case TierMedium:
		return c.MediumRate
	default:
		return c.SmallRate
	}
}

// TierRate returns the base rate for a tier directly. The aggregator uses it
// to derive leak-candidate confidence from the tier a size falls into.
func (c Config) TierRate(t Tier) float64 {
	switch t {
	case TierLarge:
		return c.LargeRate
	case TierMedium:
		return c.MediumRate
	default:
		return c.SmallRate
	}
}

// MinRate returns the lowest of the three tier rates.
func (c Config) MinRate() float64 {
	min := c.LargeRate
	if c.MediumRate < min {
		min = c.MediumRate
	}
	if c.SmallRate < min {
		min = c.SmallRate
	}
	return min
}

// FrequencyMultiplier returns the boost applied once a call site's occurrence
// count exceeds the threshold. The boost is exclusive at the threshold
// (frequency == threshold does not boost) and capped at 10x.
func (c Config) FrequencyMultiplier(frequency uint64) float64 {
	if frequency <= c.FrequencyThreshold {
		return 1.0
	}
	boost := float64(frequency) / float64(c.FrequencyThreshold)
	if boost > maxFrequencyBoost {
		return maxFrequencyBoost
	}
	return boost
}

// EffectiveRate combines the base rate and frequency boost, clamped to 1.0.
func (c Config) EffectiveRate(size uint64, frequency uint64) float64 {
	rate := c.BaseRate(size) * c.FrequencyMultiplier(frequency)
	if rate > 1.0 {
		return 1.0
	}
	return rate
}

// Policy makes sampling decisions for a single recorder. It owns a small
// linear congruential generator so decisions need no shared randomness; the
// decision itself is a pure function of (size, frequency, config) plus one
// draw from that generator.
//
// Decisions carry a deterministic coverage floor on top of the random draw:
// after n same-tier decisions at least floor(n * tier rate) must have been
// accepted, so K allocations in a tier always yield at least K * rate samples
// however the draws fall. Leak detection depends on that lower bound.
//
// A Policy is not safe for concurrent use; each recorder owns exactly one.
type Policy struct {
	config   Config
	rngState uint64

	// Per-tier decision and acceptance counts backing the coverage floor.
	seen     [3]uint64
	accepted [3]uint64
}

// NewPolicy creates a policy with the given config, seeded deterministically
// (recorders seed with their thread id).
func NewPolicy(config Config, seed uint64) *Policy {
	return &Policy{config: config, rngState: seed}
}

// Config returns the policy configuration.
func (p *Policy) Config() Config {
	return p.config
}

// Sample decides whether to record an allocation of the given size whose call
// site has been seen frequency times.
func (p *Policy) Sample(size uint64, frequency uint64) bool {
	tier := p.config.TierOf(size)
	p.seen[tier]++

	rate := p.config.EffectiveRate(size, frequency)
	if rate >= 1.0 {
		p.accepted[tier]++
		return true
	}
	if rate <= 0 {
		return false
	}

	// Coverage floor. The target grows by at most one per decision (rate < 1),
	// so forcing a single accept whenever acceptance lags restores the
	// invariant accepted >= floor(seen * rate).
	if p.accepted[tier] < uint64(p.config.TierRate(tier)*float64(p.seen[tier])) {
		p.accepted[tier]++
		return true
	}

	if p.draw() < rate {
		p.accepted[tier]++
		return true
	}
	return false
}

// draw advances the LCG and returns a value in [0, 1).
func (p *Policy) draw() float64 {
	p.rngState = p.rngState*1103515245 + 12345
	return float64((p.rngState>>16)&0xFFFF) / 65536.0
}
