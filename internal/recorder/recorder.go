// Package recorder implements per-thread allocation capture. Each Recorder is
// an explicit thread-scoped context object: it is created by Init, owned by
// exactly one goroutine, and never shared. The tracking hot path takes no
// locks and touches no state outside the recorder itself, so any number of
// recorders can run concurrently without coordination.
package recorder

import (
	"sort"
	"sync/atomic"

	"github.com/memtrace/internal/sampling"
	"github.com/memtrace/internal/trace"
	"github.com/memtrace/pkg/errors"
	"github.com/memtrace/pkg/utils"
	"github.com/memtrace/pkg/writer"
)

// State is the lifecycle state of a recorder.
type State int

const (
	// StateActive accepts tracking calls.
	StateActive State = iota
	// StateFlushing is transient while buffered events drain to disk.
	StateFlushing
	// StateFinalized is terminal: the trailer is written and the file closed.
	StateFinalized
	// StateFailed is entered after an I/O error. The failure stays local to
	// this recorder; other threads keep recording.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFlushing:
		return "flushing"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// defaultBufferSlots is the event buffer capacity before a drain to disk.
const defaultBufferSlots = 1 << 20

// recorder ids stand in for OS thread ids: unique per process, assigned at
// Init.
var nextThreadID atomic.Uint64

// ExactStats is a snapshot of the recorder's unsampled counters.
type ExactStats struct {
	TotalAllocations   uint64
	TotalDeallocations uint64
	BytesAllocated     uint64
	LiveBytes          uint64
	PeakLiveBytes      uint64
	SampledEvents      uint64
}

type siteCounter struct {
	count      uint64
	totalBytes uint64
}

// Recorder captures allocation events for one thread into a trace file.
// Methods must only be called from the owning goroutine.
type Recorder struct {
	threadID uint64
	policy   *sampling.Policy
	writer   *trace.FileWriter
	clock    utils.Clock
	logger   utils.Logger

	state   State
	failure error

	buf    []trace.Event
	bufCap int

	totalAllocs   uint64
	totalDeallocs uint64
	totalBytes    uint64
	sampled       uint64
	liveBytes     uint64
	peakLiveBytes uint64

	liveSizes map[uint64]uint64
	sites     map[uint64]*siteCounter
}

// Option customizes a recorder at Init.
type Option func(*Recorder)

// WithThreadID overrides the auto-assigned thread id.
func WithThreadID(id uint64) Option {
	return func(r *Recorder) { r.threadID = id }
}

// WithClock substitutes the time source.
func WithClock(c utils.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// WithLogger substitutes the logger.
func WithLogger(l utils.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithBufferSlots overrides the event buffer capacity.
func WithBufferSlots(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.bufCap = n
		}
	}
}

// Init creates a recorder writing into outputDir. A nil config means the
// default sampling configuration. Initialization is always explicit; nothing
// in this package creates recorders implicitly.
func Init(outputDir string, cfg *sampling.Config, opts ...Option) (*Recorder, error) {
	config := sampling.Default()
	if cfg != nil {
		config = *cfg
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	r := &Recorder{
		threadID:  nextThreadID.Add(1),
		clock:     utils.NewRealClock(),
		logger:    utils.GetGlobalLogger(),
		bufCap:    defaultBufferSlots,
		liveSizes: make(map[uint64]uint64),
		sites:     make(map[uint64]*siteCounter),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.policy = sampling.NewPolicy(config, r.threadID)
	r.buf = make([]trace.Event, 0, min(r.bufCap, 64*1024))

	w, err := trace.NewFileWriter(outputDir, r.threadID, r.clock.NowUnixNano())
	if err != nil {
		return nil, errors.Wrap(errors.CodeInitialization, "failed to initialize recorder", err)
	}
	r.writer = w
	r.state = StateActive

	r.logger.Debug("recorder initialized: thread_id=%d file=%s", r.threadID, w.Path())
	return r, nil
}

// ThreadID returns the recorder's thread id.
func (r *Recorder) ThreadID() uint64 {
	return r.threadID
}

// TracePath returns the path of the trace file being written.
func (r *Recorder) TracePath() string {
	return r.writer.Path()
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	return r.state
}

// Stats returns a snapshot of the exact counters.
func (r *Recorder) Stats() ExactStats {
	return ExactStats{
		TotalAllocations:   r.totalAllocs,
		TotalDeallocations: r.totalDeallocs,
		BytesAllocated:     r.totalBytes,
		LiveBytes:          r.liveBytes,
		PeakLiveBytes:      r.peakLiveBytes,
		SampledEvents:      r.sampled,
	}
}

// TrackAllocation records one allocation. Exact counters always advance; the
// event itself is persisted only when the sampling policy accepts it.
func (r *Recorder) TrackAllocation(ptr uint64, size uint64, callStack []uint64) error {
	if r.state != StateActive {
		return r.notActive()
	}

	r.totalAllocs++
	r.totalBytes += size
	r.liveBytes += size
	if r.liveBytes > r.peakLiveBytes {
		r.peakLiveBytes = r.liveBytes
	}
	r.liveSizes[ptr] = size

	hash := trace.HashCallStack(callStack)
	site := r.sites[hash]
	if site == nil {
		site = &siteCounter{}
		r.sites[hash] = site
	}
	site.count++
	site.totalBytes += size

	if !r.policy.Sample(size, site.count) {
		return nil
	}

	return r.record(trace.Event{
		Kind:          trace.KindAlloc,
		Ptr:           ptr,
		Size:          size,
		Timestamp:     r.clock.NowUnixNano(),
		CallStackHash: hash,
	})
}

// TrackDeallocation records one deallocation. Deallocations are always
// persisted so leak analysis can match them against sampled allocations;
// deallocations of pointers this recorder never saw allocated are expected
// (cross-thread frees) and tracked like any other.
func (r *Recorder) TrackDeallocation(ptr uint64, callStack []uint64) error {
	if r.state != StateActive {
		return r.notActive()
	}

	r.totalDeallocs++
	if size, ok := r.liveSizes[ptr]; ok {
		r.liveBytes -= size
		delete(r.liveSizes, ptr)
	}

	return r.record(trace.Event{
		Kind:          trace.KindDealloc,
		Ptr:           ptr,
		Timestamp:     r.clock.NowUnixNano(),
		CallStackHash: trace.HashCallStack(callStack),
	})
}

// Flush drains buffered events to disk.
func (r *Recorder) Flush() error {
	if r.state != StateActive {
		return r.notActive()
	}
	if err := r.drain(); err != nil {
		return err
	}
	if err := r.writer.Flush(); err != nil {
		return r.fail(err)
	}
	return nil
}

// Finalize drains the buffer, writes the trailer and frequency sidecar, and
// closes the trace file. Finalize is idempotent: a second call succeeds and
// writes nothing. After Finalize every tracking call fails.
func (r *Recorder) Finalize() error {
	switch r.state {
	case StateFinalized:
		return nil
	case StateFailed:
		return r.failure
	}

	if err := r.drain(); err != nil {
		return err
	}

	trailer := trace.Trailer{
		TotalEvents:   r.totalAllocs + r.totalDeallocs,
		SampledEvents: r.sampled,
		EndTimestamp:  r.clock.NowUnixNano(),
	}
	if err := r.writer.Finalize(trailer); err != nil {
		return r.fail(err)
	}

	if err := r.writeSidecar(trailer.EndTimestamp); err != nil {
		// The binary trace is the source of truth; a sidecar failure does
		// not invalidate the finalized file.
		r.logger.Warn("failed to write frequency sidecar: thread_id=%d err=%v", r.threadID, err)
	}

	r.state = StateFinalized
	r.logger.Debug("recorder finalized: thread_id=%d total=%d sampled=%d",
		r.threadID, trailer.TotalEvents, trailer.SampledEvents)
	return nil
}

func (r *Recorder) record(ev trace.Event) error {
	r.buf = append(r.buf, ev)
	r.sampled++
	if len(r.buf) >= r.bufCap {
		return r.drain()
	}
	return nil
}

func (r *Recorder) drain() error {
	if len(r.buf) == 0 {
		return nil
	}
	r.state = StateFlushing
	for _, ev := range r.buf {
		if err := r.writer.WriteEvent(ev); err != nil {
			return r.fail(err)
		}
	}
	r.buf = r.buf[:0]
	r.state = StateActive
	return nil
}

func (r *Recorder) writeSidecar(generatedAt uint64) error {
	sidecar := trace.FrequencySidecar{
		ThreadID:    r.threadID,
		GeneratedAt: generatedAt,
		Sites:       make([]trace.SiteUsage, 0, len(r.sites)),
	}
	for hash, site := range r.sites {
		sidecar.Sites = append(sidecar.Sites, trace.SiteUsage{
			CallStackHash: hash,
			AllocCount:    site.count,
			TotalBytes:    site.totalBytes,
		})
	}
	sort.Slice(sidecar.Sites, func(i, j int) bool {
		return sidecar.Sites[i].CallStackHash < sidecar.Sites[j].CallStackHash
	})

	path := r.writer.Path()
	path = path[:len(path)-len(trace.FileExt)] + trace.FreqFileSuffix
	return writer.NewJSONWriter[trace.FrequencySidecar]().WriteToFile(sidecar, path)
}

func (r *Recorder) notActive() error {
	if r.state == StateFailed {
		return r.failure
	}
	return errors.Newf(errors.CodeInitialization, "recorder is %s, not active", r.state)
}

func (r *Recorder) fail(err error) error {
	r.state = StateFailed
	r.failure = errors.Wrap(errors.CodeIO, "recorder degraded after write failure", err)
	_ = r.writer.Close()
	r.logger.Error("recorder failed: thread_id=%d err=%v", r.threadID, err)
	return r.failure
}
