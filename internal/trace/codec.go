package trace

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/memtrace/pkg/errors"
)

// Encoder serializes trace records to a stream. It tracks the previous record
// timestamp so events can be stored as u32 deltas.
type Encoder struct {
	w      io.Writer
	prevTS uint64
	buf    [32]byte
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// EncodeHeader writes the file header and seeds the timestamp delta chain
// with the start timestamp.
func (e *Encoder) EncodeHeader(h Header) error {
	buf := e.buf[:0]
	buf = append(buf, Magic...)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = binary.LittleEndian.AppendUint64(buf, h.ThreadID)
	buf = binary.LittleEndian.AppendUint64(buf, h.StartTimestamp)
	if _, err := e.w.Write(buf); err != nil {
		return errors.Wrap(errors.CodeIO, "failed to write trace header", err)
	}
	e.prevTS = h.StartTimestamp
	return nil
}

// EncodeEvent writes one allocation or deallocation record.
func (e *Encoder) EncodeEvent(ev Event) error {
	if ev.Kind != KindAlloc && ev.Kind != KindDealloc {
		return errors.Newf(errors.CodeEncoding, "cannot encode record of kind %s", ev.Kind)
	}

	buf := e.buf[:0]
	buf = append(buf, byte(ev.Kind))
	buf = binary.LittleEndian.AppendUint64(buf, ev.Ptr)
	if ev.Kind == KindAlloc {
		buf = binary.LittleEndian.AppendUint64(buf, ev.Size)
	}
	buf = binary.LittleEndian.AppendUint32(buf, tsDelta(e.prevTS, ev.Timestamp))
	buf = binary.LittleEndian.AppendUint64(buf, ev.CallStackHash)

	if _, err := e.w.Write(buf); err != nil {
		return errors.Wrap(errors.CodeIO, "failed to write trace record", err)
	}
	e.prevTS = ev.Timestamp
	return nil
}

// EncodeTrailer writes the end-of-file summary record.
func (e *Encoder) EncodeTrailer(t Trailer) error {
	buf := e.buf[:0]
	buf = append(buf, byte(KindTrailer))
	buf = binary.LittleEndian.AppendUint64(buf, t.TotalEvents)
	buf = binary.LittleEndian.AppendUint64(buf, t.SampledEvents)
	buf = binary.LittleEndian.AppendUint64(buf, t.EndTimestamp)
	if _, err := e.w.Write(buf); err != nil {
		return errors.Wrap(errors.CodeIO, "failed to write trace trailer", err)
	}
	return nil
}

// tsDelta saturates instead of wrapping: a clock step backwards stores 0 and
// a gap above ~4.2s stores the u32 maximum.
func tsDelta(prev, cur uint64) uint32 {
	if cur <= prev {
		return 0
	}
	d := cur - prev
	if d > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(d)
}

// Decoder reads trace records from a stream. It is lazy: each Next call
// decodes exactly one record.
type Decoder struct {
	r         *bufio.Reader
	header    Header
	prevTS    uint64
	trailer   *Trailer
	truncated bool
	done      bool
	byteBuf   [8]byte
}

// NewDecoder creates a decoder reading from r. DecodeHeader must be called
// before Next.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// DecodeHeader reads and validates the file header: the magic must match and
// the version must fall inside the supported compatibility range.
func (d *Decoder) DecodeHeader() (Header, error) {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(d.r, magic); err != nil {
		return Header{}, errors.Wrap(errors.CodeEncoding, "failed to read trace magic", err)
	}
	if string(magic) != Magic {
		return Header{}, errors.Newf(errors.CodeEncoding, "bad trace magic %q", magic)
	}

	version, err := d.readUint32()
	if err != nil {
		return Header{}, errors.Wrap(errors.CodeEncoding, "failed to read format version", err)
	}
	if version < VersionLegacy || version > VersionCurrent {
		return Header{}, errors.Newf(errors.CodeEncoding,
			"unsupported format version %d (supported %d-%d)", version, VersionLegacy, VersionCurrent)
	}

	threadID, err := d.readUint64()
	if err != nil {
		return Header{}, errors.Wrap(errors.CodeEncoding, "failed to read thread id", err)
	}
	startTS, err := d.readUint64()
	if err != nil {
		return Header{}, errors.Wrap(errors.CodeEncoding, "failed to read start timestamp", err)
	}

	d.header = Header{Version: version, ThreadID: threadID, StartTimestamp: startTS}
	d.prevTS = startTS
	return d.header, nil
}

// Header returns the decoded file header.
func (d *Decoder) Header() Header {
	return d.header
}

// Next decodes the next event record. It returns io.EOF when the stream ends,
// either at the trailer (clean finalize) or at a truncation point. After EOF,
// Trailer and Truncated describe which of the two it was. An unknown record
// tag is a hard EncodingError.
func (d *Decoder) Next() (Event, error) {
	if d.done {
		return Event{}, io.EOF
	}

	tag, err := d.r.ReadByte()
	if err == io.EOF {
		// Stream ended without a trailer: still open or crashed.
		d.done = true
		d.truncated = true
		return Event{}, io.EOF
	}
	if err != nil {
		return Event{}, errors.Wrap(errors.CodeIO, "failed to read record tag", err)
	}

	kind := EventKind(tag)
	if !kind.Valid() {
		d.done = true
		return Event{}, errors.Newf(errors.CodeEncoding, "unknown record tag %d", tag)
	}

	if kind == KindTrailer {
		trailer, err := d.decodeTrailerBody()
		d.done = true
		if err != nil {
			// Mid-trailer truncation: everything before it still counts.
			d.truncated = true
			return Event{}, io.EOF
		}
		d.trailer = &trailer
		return Event{}, io.EOF
	}

	ev, err := d.decodeEventBody(kind)
	if err != nil {
		// A short read inside a record means the writer stopped mid-append.
		// Surface what was decoded so far instead of failing the stream.
		d.done = true
		d.truncated = true
		return Event{}, io.EOF
	}
	return ev, nil
}

// Trailer returns the decoded trailer, or nil when the file had none.
func (d *Decoder) Trailer() *Trailer {
	return d.trailer
}

// Truncated reports whether the stream ended before a complete trailer.
func (d *Decoder) Truncated() bool {
	return d.truncated
}

func (d *Decoder) decodeEventBody(kind EventKind) (Event, error) {
	ptr, err := d.readUint64()
	if err != nil {
		return Event{}, err
	}

	var size uint64
	if kind == KindAlloc {
		if size, err = d.readUint64(); err != nil {
			return Event{}, err
		}
	}

	delta, err := d.readUint32()
	if err != nil {
		return Event{}, err
	}
	hash, err := d.readUint64()
	if err != nil {
		return Event{}, err
	}

	ts := d.prevTS + uint64(delta)
	d.prevTS = ts

	return Event{
		Kind:          kind,
		Ptr:           ptr,
		Size:          size,
		Timestamp:     ts,
		CallStackHash: hash,
	}, nil
}

func (d *Decoder) decodeTrailerBody() (Trailer, error) {
	total, err := d.readUint64()
	if err != nil {
		return Trailer{}, err
	}
	sampled, err := d.readUint64()
	if err != nil {
		return Trailer{}, err
	}
	endTS, err := d.readUint64()
	if err != nil {
		return Trailer{}, err
	}
	return Trailer{TotalEvents: total, SampledEvents: sampled, EndTimestamp: endTS}, nil
}

func (d *Decoder) readUint32() (uint32, error) {
	if _, err := io.ReadFull(d.r, d.byteBuf[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(d.byteBuf[:4]), nil
}

func (d *Decoder) readUint64() (uint64, error) {
	if _, err := io.ReadFull(d.r, d.byteBuf[:8]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(d.byteBuf[:8]), nil
}
