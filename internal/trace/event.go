// Package trace implements the per-thread binary trace file format: the event
// model, a little-endian codec, and streaming file writer/reader.
//
// Layout (all integers little-endian):
//
//	Header:  magic[8] | version:u32 | thread_id:u64 | start_ts:u64
//	Record:  kind:u8 | ptr:u64 | size:u64 (Alloc only) | ts_delta:u32 | call_stack_hash:u64
//	Trailer: kind:u8 | total_events:u64 | sampled_events:u64 | end_ts:u64
//
// The format favors decode speed over size. Timestamps are stored as u32
// deltas against the previous record (the header start timestamp for the
// first record). A file without a trailer is treated as truncated, not
// corrupt: the writer was still open or crashed mid-run.
package trace

import (
	"fmt"
	"strconv"
	"strings"
)

// Magic identifies a memtrace thread trace file.
const Magic = "MEMTRACE"

// Format versions. Readers accept the whole [VersionLegacy, VersionCurrent]
// range so current tooling can still parse files from older recorders.
const (
	VersionLegacy  uint32 = 1
	VersionCurrent uint32 = 2
)

// File naming for per-thread trace files inside a run directory.
const (
	FilePrefix = "memtrace_thread_"
	FileExt    = ".bin"
)

// EventKind is the record tag of a trace event.
type EventKind uint8

const (
	// KindAlloc tags an allocation record.
	KindAlloc EventKind = 0
	// KindDealloc tags a deallocation record.
	KindDealloc EventKind = 1
	// KindTrailer tags the end-of-file summary record.
	KindTrailer EventKind = 2
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case KindAlloc:
		return "alloc"
	case KindDealloc:
		return "dealloc"
	case KindTrailer:
		return "trailer"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Valid reports whether the kind is a known record tag.
func (k EventKind) Valid() bool {
	return k <= KindTrailer
}

// Event is one allocation or deallocation record. Immutable once written.
type Event struct {
	Kind EventKind
	// Ptr is the allocation address. Only meaningful within one process run;
	// the allocator may reuse addresses over time.
	Ptr uint64
	// Size is the allocation size in bytes. Zero for deallocations, which do
	// not carry a size on the wire.
	Size uint64
	// Timestamp is the event time in nanoseconds since the Unix epoch.
	Timestamp uint64
	// CallStackHash is a stable hash of the normalized frame addresses. The
	// frames themselves are never persisted.
	CallStackHash uint64
}

// Header is the fixed file header of a thread trace file.
type Header struct {
	Version        uint32
	ThreadID       uint64
	StartTimestamp uint64
}

// Trailer is the end-of-file summary written at finalize.
type Trailer struct {
	// TotalEvents is the exact pre-sampling event count for the thread.
	TotalEvents uint64
	// SampledEvents is the number of records actually persisted.
	SampledEvents uint64
	// EndTimestamp is the finalize time in nanoseconds.
	EndTimestamp uint64
}

// FileName returns the trace file name for a thread id.
func FileName(threadID uint64) string {
	return fmt.Sprintf("%s%d%s", FilePrefix, threadID, FileExt)
}

// ParseThreadID extracts the thread id from a trace file name. The second
// return value is false when the name does not match the trace file pattern.
func ParseThreadID(name string) (uint64, bool) {
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, FileExt) {
		return 0, false
	}
	idPart := strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileExt)
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
