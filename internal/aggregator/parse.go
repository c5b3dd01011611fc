package aggregator

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/memtrace/internal/trace"
)

// fileResult is the outcome of parsing one thread trace file. err is set when
// the file could not be opened or its header is invalid; decodeErr is set
// when decoding stopped at a corrupt record, with events holding everything
// decoded before it.
type fileResult struct {
	path      string
	header    trace.Header
	events    []trace.Event
	trailer   *trace.Trailer
	truncated bool
	sidecar   *trace.FrequencySidecar
	err       error
	decodeErr error
}

// parseFile reads one trace file and its optional frequency sidecar. It never
// aborts on partial data: a truncated or corrupt tail yields the events
// decoded so far together with the diagnostic.
func parseFile(ctx context.Context, path string) (*fileResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &fileResult{path: path}

	r, err := trace.OpenFile(path)
	if err != nil {
		res.err = err
		return res, nil
	}
	defer r.Close()

	res.header = r.Header()
	res.events, res.decodeErr = r.ReadAll()
	res.trailer = r.Trailer()
	res.truncated = r.Truncated()

	// The sidecar is advisory: a missing or unreadable one is ignored, and
	// only a sidecar matching the trace header is trusted.
	if sidecar, err := trace.ReadFrequencySidecar(freqPathFor(path)); err == nil && sidecar.ThreadID == res.header.ThreadID {
		res.sidecar = sidecar
	}

	return res, nil
}

func freqPathFor(tracePath string) string {
	base := filepath.Base(tracePath)
	name := strings.TrimSuffix(base, trace.FileExt) + trace.FreqFileSuffix
	return filepath.Join(filepath.Dir(tracePath), name)
}
