// Package pprof collects runtime profiles of the tool itself while a
// command runs. Profiles are written as timestamped files under an output
// directory, one subdirectory per profile type.
//
// Basic usage:
//
//	cfg := pprof.DefaultConfig()
//	cfg.OutputDir = "./pprof"
//
//	collector, err := pprof.NewCollector(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := collector.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer collector.Stop()
package pprof

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	runtimepprof "runtime/pprof"
	"strings"
	"sync"
	"time"
)

// ProfileType identifies a runtime profile.
type ProfileType string

const (
	ProfileCPU       ProfileType = "cpu"
	ProfileHeap      ProfileType = "heap"
	ProfileGoroutine ProfileType = "goroutine"
	ProfileAllocs    ProfileType = "allocs"
)

// DefaultProfileTypes returns the profiles collected when none are named.
func DefaultProfileTypes() []ProfileType {
	return []ProfileType{ProfileCPU, ProfileHeap}
}

// ParseProfileTypes parses a comma-separated profile type list.
func ParseProfileTypes(s string) ([]ProfileType, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultProfileTypes(), nil
	}

	var result []ProfileType
	for _, part := range strings.Split(s, ",") {
		switch pt := ProfileType(strings.TrimSpace(strings.ToLower(part))); pt {
		case ProfileCPU, ProfileHeap, ProfileGoroutine, ProfileAllocs:
			result = append(result, pt)
		default:
			return nil, fmt.Errorf("unknown profile type: %q (valid: cpu, heap, goroutine, allocs)", part)
		}
	}
	return result, nil
}

// Config controls profile collection.
type Config struct {
	// OutputDir receives one subdirectory per profile type.
	OutputDir string
	// Profiles lists the profile types to collect each interval.
	Profiles []ProfileType
	// Interval is the time between snapshots.
	Interval time.Duration
	// CPUDuration is how long each CPU profile runs. Must be shorter than
	// Interval when the CPU profile is enabled.
	CPUDuration time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:   "./pprof",
		Profiles:    DefaultProfileTypes(),
		Interval:    30 * time.Second,
		CPUDuration: 10 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if len(c.Profiles) == 0 {
		return fmt.Errorf("at least one profile type is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	for _, pt := range c.Profiles {
		if pt == ProfileCPU && c.CPUDuration >= c.Interval {
			return fmt.Errorf("cpu duration %v must be shorter than interval %v", c.CPUDuration, c.Interval)
		}
	}
	return nil
}

// Collector periodically snapshots the configured profiles to files.
type Collector struct {
	config *Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCollector creates a Collector for the given configuration.
func NewCollector(cfg *Config) (*Collector, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, pt := range cfg.Profiles {
		dir := filepath.Join(cfg.OutputDir, string(pt))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create profile directory %s: %w", pt, err)
		}
	}

	return &Collector{config: cfg}, nil
}

// OutputDir returns the profile output directory.
func (c *Collector) OutputDir() string {
	return c.config.OutputDir
}

// Start begins periodic collection.
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("collector already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.collectLoop(ctx)
	return nil
}

// Stop ends collection and takes one final snapshot of each profile.
func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.cancel()
	done := c.done
	c.mu.Unlock()

	<-done

	// Final snapshot so short runs still produce data. CPU is skipped
	// because the command is about to exit.
	var firstErr error
	for _, pt := range c.config.Profiles {
		if pt == ProfileCPU {
			continue
		}
		if _, err := c.snapshot(pt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Collector) collectLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, pt := range c.config.Profiles {
				if pt == ProfileCPU {
					c.snapshotCPU(ctx)
					continue
				}
				c.snapshot(pt)
			}
		}
	}
}

// snapshot captures a non-CPU profile and writes it to a timestamped file.
func (c *Collector) snapshot(pt ProfileType) (string, error) {
	if pt == ProfileHeap {
		// Bring heap statistics up to date before capturing.
		runtime.GC()
	}

	profile := runtimepprof.Lookup(string(pt))
	if profile == nil {
		return "", fmt.Errorf("unknown runtime profile: %s", pt)
	}

	var buf bytes.Buffer
	if err := profile.WriteTo(&buf, 0); err != nil {
		return "", fmt.Errorf("failed to capture %s profile: %w", pt, err)
	}

	return c.writeProfile(pt, buf.Bytes())
}

// snapshotCPU captures a CPU profile for the configured duration.
func (c *Collector) snapshotCPU(ctx context.Context) (string, error) {
	var buf bytes.Buffer
	if err := runtimepprof.StartCPUProfile(&buf); err != nil {
		return "", fmt.Errorf("failed to start cpu profile: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(c.config.CPUDuration):
	}
	runtimepprof.StopCPUProfile()

	return c.writeProfile(ProfileCPU, buf.Bytes())
}

func (c *Collector) writeProfile(pt ProfileType, data []byte) (string, error) {
	filename := fmt.Sprintf("%s_%s.pprof", pt, time.Now().Format("20060102_150405"))
	path := filepath.Join(c.config.OutputDir, string(pt), filename)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write profile file: %w", err)
	}
	return path, nil
}
