package trace

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memerrors "github.com/memtrace/pkg/errors"
)

func encodeStream(t *testing.T, header Header, events []Event, trailer *Trailer) []byte {
	t.Helper()

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.EncodeHeader(header))
	for _, ev := range events {
		require.NoError(t, enc.EncodeEvent(ev))
	}
	if trailer != nil {
		require.NoError(t, enc.EncodeTrailer(*trailer))
	}
	return buf.Bytes()
}

func decodeStream(t *testing.T, data []byte) (*Decoder, []Event) {
	t.Helper()

	dec := NewDecoder(bytes.NewReader(data))
	_, err := dec.DecodeHeader()
	require.NoError(t, err)

	var events []Event
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			return dec, events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	header := Header{Version: VersionCurrent, ThreadID: 42, StartTimestamp: 1_000_000}
	events := []Event{
		{Kind: KindAlloc, Ptr: 0x1000, Size: 64, Timestamp: 1_000_100, CallStackHash: 0xDEADBEEF},
		{Kind: KindAlloc, Ptr: 0x2000, Size: 4096, Timestamp: 1_000_250, CallStackHash: 0xCAFEBABE},
		{Kind: KindDealloc, Ptr: 0x1000, Timestamp: 1_000_900, CallStackHash: 0xDEADBEEF},
		{Kind: KindAlloc, Ptr: 0x3000, Size: 128, Timestamp: 1_000_900, CallStackHash: 17},
	}
	trailer := &Trailer{TotalEvents: 400, SampledEvents: 4, EndTimestamp: 1_001_000}

	data := encodeStream(t, header, events, trailer)
	dec, decoded := decodeStream(t, data)

	assert.Equal(t, events, decoded)
	assert.Equal(t, header, dec.Header())
	require.NotNil(t, dec.Trailer())
	assert.Equal(t, *trailer, *dec.Trailer())
	assert.False(t, dec.Truncated())
}

func TestCodec_DeallocCarriesNoSize(t *testing.T) {
	header := Header{Version: VersionCurrent, ThreadID: 1, StartTimestamp: 0}
	alloc := Event{Kind: KindAlloc, Ptr: 0x10, Size: 8, Timestamp: 5, CallStackHash: 1}
	dealloc := Event{Kind: KindDealloc, Ptr: 0x10, Timestamp: 9, CallStackHash: 1}

	withSize := len(encodeStream(t, header, []Event{alloc}, nil))
	withoutSize := len(encodeStream(t, header, []Event{dealloc}, nil))

	// Dealloc records are exactly 8 bytes shorter: no size field on the wire.
	assert.Equal(t, 8, withSize-withoutSize)
}

func TestCodec_RejectsUnknownTag(t *testing.T) {
	header := Header{Version: VersionCurrent, ThreadID: 1, StartTimestamp: 0}
	data := encodeStream(t, header, nil, nil)
	data = append(data, 0x7F) // invalid record tag

	dec := NewDecoder(bytes.NewReader(data))
	_, err := dec.DecodeHeader()
	require.NoError(t, err)

	_, err = dec.Next()
	require.Error(t, err)
	assert.True(t, memerrors.IsEncodingError(err))
}

func TestCodec_RejectsBadMagic(t *testing.T) {
	data := []byte("NOTTRACE")
	data = binary.LittleEndian.AppendUint32(data, VersionCurrent)
	data = binary.LittleEndian.AppendUint64(data, 1)
	data = binary.LittleEndian.AppendUint64(data, 0)

	dec := NewDecoder(bytes.NewReader(data))
	_, err := dec.DecodeHeader()
	require.Error(t, err)
	assert.True(t, memerrors.IsEncodingError(err))
}

func TestCodec_VersionCompatibilityRange(t *testing.T) {
	makeHeader := func(version uint32) []byte {
		data := []byte(Magic)
		data = binary.LittleEndian.AppendUint32(data, version)
		data = binary.LittleEndian.AppendUint64(data, 1)
		data = binary.LittleEndian.AppendUint64(data, 0)
		return data
	}

	// Legacy version parses.
	dec := NewDecoder(bytes.NewReader(makeHeader(VersionLegacy)))
	_, err := dec.DecodeHeader()
	assert.NoError(t, err)

	// Future version is rejected.
	dec = NewDecoder(bytes.NewReader(makeHeader(VersionCurrent + 1)))
	_, err = dec.DecodeHeader()
	require.Error(t, err)
	assert.True(t, memerrors.IsEncodingError(err))

	// Version zero is rejected.
	dec = NewDecoder(bytes.NewReader(makeHeader(0)))
	_, err = dec.DecodeHeader()
	assert.Error(t, err)
}

func TestCodec_TruncatedMidRecord(t *testing.T) {
	header := Header{Version: VersionCurrent, ThreadID: 9, StartTimestamp: 100}
	events := []Event{
		{Kind: KindAlloc, Ptr: 0x1000, Size: 64, Timestamp: 150, CallStackHash: 1},
		{Kind: KindAlloc, Ptr: 0x2000, Size: 64, Timestamp: 200, CallStackHash: 2},
	}
	data := encodeStream(t, header, events, nil)

	// Cut into the middle of the second record.
	cut := data[:len(data)-10]

	dec, decoded := decodeStream(t, cut)

	// Everything before the torn record is preserved.
	require.Len(t, decoded, 1)
	assert.Equal(t, events[0], decoded[0])
	assert.True(t, dec.Truncated())
	assert.Nil(t, dec.Trailer())
}

func TestCodec_MissingTrailerIsTruncated(t *testing.T) {
	header := Header{Version: VersionCurrent, ThreadID: 9, StartTimestamp: 100}
	events := []Event{
		{Kind: KindAlloc, Ptr: 0x1000, Size: 64, Timestamp: 150, CallStackHash: 1},
	}
	data := encodeStream(t, header, events, nil)

	dec, decoded := decodeStream(t, data)

	assert.Len(t, decoded, 1)
	assert.True(t, dec.Truncated())
	assert.Nil(t, dec.Trailer())
}

func TestCodec_TruncatedMidTrailer(t *testing.T) {
	header := Header{Version: VersionCurrent, ThreadID: 9, StartTimestamp: 100}
	events := []Event{
		{Kind: KindAlloc, Ptr: 0x1000, Size: 64, Timestamp: 150, CallStackHash: 1},
	}
	trailer := &Trailer{TotalEvents: 10, SampledEvents: 1, EndTimestamp: 500}
	data := encodeStream(t, header, events, trailer)

	dec, decoded := decodeStream(t, data[:len(data)-5])

	assert.Len(t, decoded, 1)
	assert.True(t, dec.Truncated())
	assert.Nil(t, dec.Trailer())
}

func TestCodec_EncodeRejectsTrailerKindEvent(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.EncodeHeader(Header{Version: VersionCurrent}))

	err := enc.EncodeEvent(Event{Kind: KindTrailer})
	require.Error(t, err)
	assert.True(t, memerrors.IsEncodingError(err))
}

func TestCodec_TimestampDeltaSaturation(t *testing.T) {
	header := Header{Version: VersionCurrent, ThreadID: 1, StartTimestamp: 1000}
	// Timestamp going backwards stores a zero delta.
	events := []Event{
		{Kind: KindAlloc, Ptr: 0x1, Size: 1, Timestamp: 500, CallStackHash: 1},
	}
	data := encodeStream(t, header, events, nil)
	_, decoded := decodeStream(t, data)

	require.Len(t, decoded, 1)
	assert.Equal(t, uint64(1000), decoded[0].Timestamp)
}
