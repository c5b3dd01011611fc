package trace

import (
	"io"
	"os"

	"github.com/memtrace/pkg/errors"
)

// FileReader is a lazy iterator over one thread trace file. It validates the
// header before yielding any events and surfaces partial data with a
// Truncated diagnostic when the trailer is missing. A reader is restartable
// per file by opening a new one; it does not chain multiple files.
type FileReader struct {
	path   string
	file   *os.File
	dec    *Decoder
	header Header
}

// OpenFile opens a trace file and validates its header.
func OpenFile(path string) (*FileReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeIO, "failed to open trace file", err)
	}

	dec := NewDecoder(file)
	header, err := dec.DecodeHeader()
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	return &FileReader{
		path:   path,
		file:   file,
		dec:    dec,
		header: header,
	}, nil
}

// Path returns the file path.
func (r *FileReader) Path() string {
	return r.path
}

// Header returns the validated file header.
func (r *FileReader) Header() Header {
	return r.header
}

// Next returns the next event, or io.EOF at the end of the stream.
func (r *FileReader) Next() (Event, error) {
	return r.dec.Next()
}

// Trailer returns the trailer once the stream is exhausted, or nil for a
// truncated file.
func (r *FileReader) Trailer() *Trailer {
	return r.dec.Trailer()
}

// Truncated reports whether the file ended without a complete trailer,
// meaning the writer is still open or crashed.
func (r *FileReader) Truncated() bool {
	return r.dec.Truncated()
}

// ReadAll drains the remaining events. A decode error mid-stream is returned
// together with the events read up to that point.
func (r *FileReader) ReadAll() ([]Event, error) {
	var events []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// Close closes the underlying file.
func (r *FileReader) Close() error {
	if err := r.file.Close(); err != nil {
		return errors.Wrap(errors.CodeIO, "failed to close trace file", err)
	}
	return nil
}
