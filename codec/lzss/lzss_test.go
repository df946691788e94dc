package lzss

import (
	"bytes"
	"testing"

	"github.com/dolansoft/cabriolet/codec"
)

func roundTrip(t *testing.T, mode Mode, data []byte) []byte {
	t.Helper()
	var compressed bytes.Buffer
	c, err := NewCompressor(&compressed, 0, codec.Options{LZSSMode: int(mode)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := c.Finish(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	d, err := New(bytes.NewReader(compressed.Bytes()), &out, 0, codec.Options{LZSSMode: int(mode)})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Decompress(len(data)); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	return out.Bytes()
}

func TestRoundTripExpandLiteralsOnly(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	got := roundTrip(t, ModeExpand, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch:\n got=%q\nwant=%q", got, data)
	}
}

func TestRoundTripWithRepeats(t *testing.T) {
	data := bytes.Repeat([]byte("abcabcabcabc "), 50)
	got := roundTrip(t, ModeExpand, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch for repetitive input (%d bytes in, %d out)", len(data), len(got))
	}
}

func TestRoundTripMSHelp(t *testing.T) {
	data := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaabbbbbbbbbbbbbbbbbbbbbbbbb")
	got := roundTrip(t, ModeMSHelp, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch:\n got=%q\nwant=%q", got, data)
	}
}

func TestRoundTripQBasicTerminator(t *testing.T) {
	data := []byte("print hello; print hello; print hello")
	got := roundTrip(t, ModeQBasic, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch:\n got=%q\nwant=%q", got, data)
	}
}

func TestDecompressInSmallChunks(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 40)
	var compressed bytes.Buffer
	c, err := NewCompressor(&compressed, 0, codec.Options{LZSSMode: int(ModeExpand)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := c.Finish(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	d, err := New(bytes.NewReader(compressed.Bytes()), &out, 0, codec.Options{LZSSMode: int(ModeExpand)})
	if err != nil {
		t.Fatal(err)
	}
	remaining := len(data)
	for remaining > 0 {
		chunk := 3
		if chunk > remaining {
			chunk = remaining
		}
		if err := d.Decompress(chunk); err != nil {
			t.Fatalf("Decompress(%d): %v", chunk, err)
		}
		remaining -= chunk
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("chunked round trip mismatch (%d bytes in, %d out)", len(data), out.Len())
	}
}

func TestUnderrunIsReportedAsDecompressionError(t *testing.T) {
	var compressed bytes.Buffer
	c, err := NewCompressor(&compressed, 0, codec.Options{LZSSMode: int(ModeExpand)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write([]byte("short")); err != nil {
		t.Fatal(err)
	}
	if err := c.Finish(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	d, err := New(bytes.NewReader(compressed.Bytes()), &out, 0, codec.Options{LZSSMode: int(ModeExpand)})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Decompress(1000); err == nil {
		t.Fatal("expected an error when the stream cannot supply the requested length")
	}
}
