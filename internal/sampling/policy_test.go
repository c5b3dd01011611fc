package sampling

import (
	"testing"
)

func TestPresetConfigs_Validate(t *testing.T) {
	presets := map[string]Config{
		"default":               Default(),
		"high_precision":        HighPrecision(),
		"performance_optimized": PerformanceOptimized(),
		"leak_detection":        LeakDetection(),
	}

	for name, cfg := range presets {
		if err := cfg.Validate(); err != nil {
			t.Errorf("preset %s failed validation: %v", name, err)
		}
	}
}

func TestPreset_Lookup(t *testing.T) {
	cfg, err := Preset("leak_detection")
	if err != nil {
		t.Fatalf("Preset(leak_detection) error = %v", err)
	}
	if cfg.MediumRate != 0.8 {
		t.Errorf("leak_detection medium rate = %v, want 0.8", cfg.MediumRate)
	}

	if _, err := Preset("bogus"); err == nil {
		t.Error("Preset(bogus) should return error")
	}

	cfg, err = Preset("")
	if err != nil {
		t.Fatalf("Preset(\"\") error = %v", err)
	}
	if cfg != Default() {
		t.Error("empty preset name should map to default")
	}
}

func TestConfig_Validate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"rate above one", func(c *Config) { c.LargeRate = 1.5 }},
		{"negative rate", func(c *Config) { c.SmallRate = -0.1 }},
		{"medium rate above one", func(c *Config) { c.MediumRate = 2.0 }},
		{"zero medium threshold", func(c *Config) { c.MediumThreshold = 0 }},
		{"thresholds not ordered", func(c *Config) { c.LargeThreshold = 500; c.MediumThreshold = 1000 }},
		{"equal thresholds", func(c *Config) { c.LargeThreshold = 1024; c.MediumThreshold = 1024 }},
		{"zero frequency threshold", func(c *Config) { c.FrequencyThreshold = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() should reject %s", tt.name)
			}
		})
	}
}

func TestConfig_BaseRate(t *testing.T) {
	cfg := Default()

	tests := []struct {
		size uint64
		want float64
	}{
		{20 * 1024, 1.0},  // large
		{10 * 1024, 1.0},  // exactly at large threshold
		{5 * 1024, 0.1},   // medium
		{1024, 0.1},       // exactly at medium threshold
		{512, 0.01},       // small
		{0, 0.01},         // zero size is small
	}

	for _, tt := range tests {
		if got := cfg.BaseRate(tt.size); got != tt.want {
			t.Errorf("BaseRate(%d) = %v, want %v", tt.size, got, tt.want)
		}
	}
}

func TestConfig_BaseRate_InUnitRange(t *testing.T) {
	for _, cfg := range []Config{Default(), HighPrecision(), PerformanceOptimized(), LeakDetection()} {
		for _, size := range []uint64{0, 1, 255, 256, 1023, 1024, 4096, 10240, 1 << 20} {
			rate := cfg.BaseRate(size)
			if rate < 0 || rate > 1 {
				t.Errorf("BaseRate(%d) = %v outside [0, 1]", size, rate)
			}
		}
	}
}

func TestConfig_FrequencyMultiplier(t *testing.T) {
	cfg := Default() // threshold 10

	if got := cfg.FrequencyMultiplier(5); got != 1.0 {
		t.Errorf("FrequencyMultiplier(5) = %v, want 1.0", got)
	}

	// Boost is exclusive at the threshold: exactly at the threshold, no boost.
	if got := cfg.FrequencyMultiplier(10); got != 1.0 {
		t.Errorf("FrequencyMultiplier(10) = %v, want 1.0", got)
	}

	if got := cfg.FrequencyMultiplier(20); got != 2.0 {
		t.Errorf("FrequencyMultiplier(20) = %v, want 2.0", got)
	}

	// Cap at 10x.
	if got := cfg.FrequencyMultiplier(1000); got != 10.0 {
		t.Errorf("FrequencyMultiplier(1000) = %v, want 10.0", got)
	}
}

func TestConfig_EffectiveRate_Clamped(t *testing.T) {
	cfg := Default()

	// Medium tier at 10% boosted 10x clamps to 1.0, never above.
	if got := cfg.EffectiveRate(5*1024, 10000); got != 1.0 {
		t.Errorf("EffectiveRate = %v, want clamp at 1.0", got)
	}
}

func TestConfig_TierOf(t *testing.T) {
	cfg := Default()

	if cfg.TierOf(64) != TierSmall {
		t.Error("64 bytes should be small tier")
	}
	if cfg.TierOf(2048) != TierMedium {
		t.Error("2048 bytes should be medium tier")
	}
	if cfg.TierOf(64*1024) != TierLarge {
		t.Error("64KiB should be large tier")
	}
}

func TestConfig_MinRate(t *testing.T) {
	if got := Default().MinRate(); got != 0.01 {
		t.Errorf("Default().MinRate() = %v, want 0.01", got)
	}
	if got := PerformanceOptimized().MinRate(); got != 0.001 {
		t.Errorf("PerformanceOptimized().MinRate() = %v, want 0.001", got)
	}
}

func TestPolicy_Sample_Extremes(t *testing.T) {
	cfg := Default()
	p := NewPolicy(cfg, 1)

	// Large tier at rate 1.0 must always sample.
	for i := 0; i < 100; i++ {
		if !p.Sample(20*1024, 1) {
			t.Fatal("large allocation at rate 1.0 must always be sampled")
		}
	}

	// Zero-rate tier must never sample.
	zero := cfg
	zero.SmallRate = 0
	pz := NewPolicy(zero, 1)
	for i := 0; i < 100; i++ {
		if pz.Sample(64, 1) {
			t.Fatal("allocation at rate 0 must never be sampled")
		}
	}
}

func TestPolicy_Sample_TierOrdering(t *testing.T) {
	cfg := Config{
		LargeRate:          1.0,
		MediumRate:         0.5,
		SmallRate:          0.1,
		LargeThreshold:     10 * 1024,
		MediumThreshold:    1024,
		FrequencyThreshold: 10,
	}
	p := NewPolicy(cfg, 42)

	const n = 2000
	var small, medium int
	for i := 0; i < n; i++ {
		if p.Sample(512, 1) {
			small++
		}
	}
	for i := 0; i < n; i++ {
		if p.Sample(5*1024, 1) {
			medium++
		}
	}

	if medium <= small {
		t.Errorf("medium tier (%d/%d) should sample more than small tier (%d/%d)",
			medium, n, small, n)
	}
}

func TestPolicy_Deterministic(t *testing.T) {
	cfg := Default()
	p1 := NewPolicy(cfg, 7)
	p2 := NewPolicy(cfg, 7)

	for i := 0; i < 500; i++ {
		size := uint64(64 + i%4096)
		if p1.Sample(size, uint64(i)) != p2.Sample(size, uint64(i)) {
			t.Fatal("same seed must produce identical decisions")
		}
	}
}

func TestPolicy_Sample_CoverageFloor(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		size uint64
		n    int
	}{
		{"small_default", Default(), 64, 1000},
		{"small_performance", PerformanceOptimized(), 64, 5000},
		{"medium_default", Default(), 2048, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate := tt.cfg.BaseRate(tt.size)
			floor := uint64(rate * float64(tt.n))

			// The floor must hold for every seed, not just on average.
			for seed := uint64(1); seed <= 16; seed++ {
				p := NewPolicy(tt.cfg, seed)
				var accepted uint64
				for i := 0; i < tt.n; i++ {
					// Distinct call sites keep the frequency boost out.
					if p.Sample(tt.size, 1) {
						accepted++
					}
				}
				if accepted < floor {
					t.Errorf("seed %d: accepted %d of %d, want at least %d (rate %v)",
						seed, accepted, tt.n, floor, rate)
				}
			}
		})
	}
}

func TestPolicy_Sample_CoverageFloorPerTier(t *testing.T) {
	// Interleaved tiers keep independent floors.
	cfg := Default()
	p := NewPolicy(cfg, 3)

	const n = 1000
	var small, medium uint64
	for i := 0; i < n; i++ {
		if p.Sample(64, 1) {
			small++
		}
		if p.Sample(2048, 1) {
			medium++
		}
	}

	if want := uint64(cfg.SmallRate * n); small < want {
		t.Errorf("small tier accepted %d, want at least %d", small, want)
	}
	if want := uint64(cfg.MediumRate * n); medium < want {
		t.Errorf("medium tier accepted %d, want at least %d", medium, want)
	}
}
