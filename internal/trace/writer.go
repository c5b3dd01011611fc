package trace

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/memtrace/pkg/errors"
)

// writerBufferSize is the bufio buffer in front of the trace file. Amortizes
// syscalls on the recorder's flush path.
const writerBufferSize = 256 * 1024

// FileWriter is a sequential, append-only writer for one thread trace file.
// The header is written once at open and the trailer once at Finalize; both
// Flush and Close are explicit and deterministic.
//
// A FileWriter is owned by a single thread and is not safe for concurrent use.
type FileWriter struct {
	path      string
	file      *os.File
	bw        *bufio.Writer
	enc       *Encoder
	finalized bool
	closed    bool
}

// NewFileWriter creates the trace file for a thread inside dir and writes the
// header. An existing file for the same thread id is truncated.
func NewFileWriter(dir string, threadID uint64, startTS uint64) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(errors.CodeIO, "failed to create output directory", err)
	}

	path := filepath.Join(dir, FileName(threadID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrap(errors.CodeIO, "failed to create trace file", err)
	}

	bw := bufio.NewWriterSize(file, writerBufferSize)
	enc := NewEncoder(bw)

	header := Header{
		Version:        VersionCurrent,
		ThreadID:       threadID,
		StartTimestamp: startTS,
	}
	if err := enc.EncodeHeader(header); err != nil {
		_ = file.Close()
		return nil, err
	}

	return &FileWriter{
		path: path,
		file: file,
		bw:   bw,
		enc:  enc,
	}, nil
}

// Path returns the absolute path of the trace file.
func (w *FileWriter) Path() string {
	return w.path
}

// WriteEvent appends one event record.
func (w *FileWriter) WriteEvent(ev Event) error {
	if w.finalized {
		return errors.New(errors.CodeIO, "trace file already finalized")
	}
	return w.enc.EncodeEvent(ev)
}

// Flush pushes buffered records to the operating system.
func (w *FileWriter) Flush() error {
	if w.closed {
		return errors.New(errors.CodeIO, "trace file already closed")
	}
	if err := w.bw.Flush(); err != nil {
		return errors.Wrap(errors.CodeIO, "failed to flush trace file", err)
	}
	return nil
}

// Finalize writes the trailer, flushes and closes the file. Calling it again
// is a no-op that writes zero additional bytes.
func (w *FileWriter) Finalize(t Trailer) error {
	if w.finalized {
		return nil
	}
	if err := w.enc.EncodeTrailer(t); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return errors.Wrap(errors.CodeIO, "failed to flush trace trailer", err)
	}
	w.finalized = true
	return w.Close()
}

// Close closes the underlying file without writing a trailer. A file closed
// this way reads back as truncated.
func (w *FileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.Close(); err != nil {
		return errors.Wrap(errors.CodeIO, "failed to close trace file", err)
	}
	return nil
}
