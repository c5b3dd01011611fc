package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/memtrace/pkg/errors"
)

// FreqFileSuffix is the extension of the per-thread frequency sidecar.
const FreqFileSuffix = ".freq.json"

// FrequencySidecar is the per-thread call-site summary written next to the
// binary trace at finalize. It is advisory: aggregation works without it, but
// uses it for hottest-call-stack ranking when present.
type FrequencySidecar struct {
	ThreadID    uint64      `json:"thread_id"`
	GeneratedAt uint64      `json:"generated_at"`
	Sites       []SiteUsage `json:"sites"`
}

// SiteUsage is the exact allocation volume of one call site on one thread.
type SiteUsage struct {
	CallStackHash uint64 `json:"call_stack_hash"`
	AllocCount    uint64 `json:"alloc_count"`
	TotalBytes    uint64 `json:"total_bytes"`
}

// FreqFileName returns the frequency sidecar file name for a thread id.
func FreqFileName(threadID uint64) string {
	return fmt.Sprintf("%s%d%s", FilePrefix, threadID, FreqFileSuffix)
}

// IsFreqFileName reports whether name matches the sidecar naming pattern.
func IsFreqFileName(name string) bool {
	return strings.HasPrefix(name, FilePrefix) && strings.HasSuffix(name, FreqFileSuffix)
}

// ReadFrequencySidecar loads a sidecar file. A missing file is not an error
// condition worth failing aggregation for, so callers should check
// os.IsNotExist on the wrapped cause.
func ReadFrequencySidecar(path string) (*FrequencySidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeIO, "failed to read frequency sidecar", err)
	}
	var sidecar FrequencySidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, errors.Wrap(errors.CodeEncoding, "failed to parse frequency sidecar", err)
	}
	return &sidecar, nil
}
