package compression

import (
	"bytes"
	"testing"
)

var sample = bytes.Repeat([]byte("memtrace_thread_42.bin allocation record payload "), 200)

func TestCompressors_RoundTrip(t *testing.T) {
	compressors := []Compressor{
		NewGzipCompressor(LevelDefault),
		mustZstd(t, LevelDefault),
		mustZstd(t, LevelFastest),
	}

	for _, comp := range compressors {
		t.Run(comp.Name(), func(t *testing.T) {
			compressed, err := comp.Compress(sample)
			if err != nil {
				t.Fatalf("Compress failed: %v", err)
			}
			if len(compressed) >= len(sample) {
				t.Errorf("compressed size %d not smaller than input %d", len(compressed), len(sample))
			}

			decompressed, err := comp.Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}
			if !bytes.Equal(decompressed, sample) {
				t.Error("round trip changed data")
			}
			Close(comp)
		})
	}
}

func TestDetectType(t *testing.T) {
	gz := NewGzipCompressor(LevelDefault)
	gzData, err := gz.Compress(sample)
	if err != nil {
		t.Fatalf("gzip compress failed: %v", err)
	}
	if got := DetectType(gzData); got != TypeGzip {
		t.Errorf("DetectType(gzip data) = %d, want TypeGzip", got)
	}

	zs := mustZstd(t, LevelDefault)
	defer zs.Close()
	zsData, err := zs.Compress(sample)
	if err != nil {
		t.Fatalf("zstd compress failed: %v", err)
	}
	if got := DetectType(zsData); got != TypeZstd {
		t.Errorf("DetectType(zstd data) = %d, want TypeZstd", got)
	}
}

func TestAutoDecompress(t *testing.T) {
	for _, comp := range []Compressor{NewGzipCompressor(LevelDefault), mustZstd(t, LevelDefault)} {
		compressed, err := comp.Compress(sample)
		if err != nil {
			t.Fatalf("%s compress failed: %v", comp.Name(), err)
		}
		got, err := AutoDecompress(compressed)
		if err != nil {
			t.Fatalf("AutoDecompress(%s) failed: %v", comp.Name(), err)
		}
		if !bytes.Equal(got, sample) {
			t.Errorf("AutoDecompress(%s) changed data", comp.Name())
		}
		Close(comp)
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		name    string
		want    Type
		wantErr bool
	}{
		{"", TypeZstd, false},
		{"zstd", TypeZstd, false},
		{"gzip", TypeGzip, false},
		{"lz4", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseType(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseType(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func mustZstd(t *testing.T, level Level) *ZstdCompressor {
	t.Helper()
	comp, err := NewZstdCompressor(level)
	if err != nil {
		t.Fatalf("NewZstdCompressor failed: %v", err)
	}
	return comp
}
