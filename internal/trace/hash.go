package trace

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// HashCallStack computes a stable 64-bit hash over normalized frame
// addresses. Only this hash is persisted; full stacks are never recoverable
// from a trace file.
func HashCallStack(frames []uint64) uint64 {
	var d xxhash.Digest
	d.Reset()
	var buf [8]byte
	for _, frame := range frames {
		binary.LittleEndian.PutUint64(buf[:], frame)
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}
