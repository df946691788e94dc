package chm

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildLZXCBlock(t *testing.T, resetInterval uint32, windowSize uint32) []byte {
	t.Helper()
	raw := struct {
		Size          uint32
		Magic         [4]byte
		Version       uint32
		ResetInterval uint32
		WindowSize    uint32
		CacheSize     uint32
		Unknown       uint32
	}{
		Size:          0x1C,
		Magic:         lzxcMagic,
		Version:       2,
		ResetInterval: resetInterval,
		WindowSize:    windowSize,
		CacheSize:     0,
		Unknown:       0,
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &raw); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestParseLZXControlData(t *testing.T) {
	block := buildLZXCBlock(t, 2, 1<<16) // 64 KB window -> 16 bits

	ctrl, err := ParseLZXControlData(bytes.NewReader(block))
	if err != nil {
		t.Fatalf("ParseLZXControlData: %v", err)
	}
	if ctrl.WindowBits != 16 {
		t.Fatalf("WindowBits = %d, want 16", ctrl.WindowBits)
	}
	if ctrl.ResetInterval != 2 {
		t.Fatalf("ResetInterval = %d, want 2", ctrl.ResetInterval)
	}
}

func TestParseLZXControlDataBadMagic(t *testing.T) {
	block := buildLZXCBlock(t, 1, 1<<15)
	block[4] = 'X' // corrupt the magic
	if _, err := ParseLZXControlData(bytes.NewReader(block)); err == nil {
		t.Fatal("expected a signature error on bad LZXC magic")
	}
}

func TestValidateITSFHeader(t *testing.T) {
	if err := ValidateITSFHeader(bytes.NewReader([]byte("ITSF"))); err != nil {
		t.Fatalf("ValidateITSFHeader: %v", err)
	}
	if err := ValidateITSFHeader(bytes.NewReader([]byte("XXXX"))); err == nil {
		t.Fatal("expected a signature error on bad ITSF magic")
	}
}

func TestContentCompressorRoundTrip(t *testing.T) {
	ctrl := LZXControlData{WindowBits: 16, ResetInterval: 0}
	data := []byte("CHM content stream bytes, repeated. CHM content stream bytes, repeated.")

	var compressed bytes.Buffer
	comp, err := NewContentCompressor(&compressed, ctrl)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := comp.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := comp.Finish(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	dec, err := NewContentDecompressor(bytes.NewReader(compressed.Bytes()), &out, ctrl, int64(compressed.Len()))
	if err != nil {
		t.Fatal(err)
	}
	dec.SetOutputLength(int64(len(data)))
	if err := dec.Decompress(len(data)); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("round trip mismatch:\n got=%q\nwant=%q", out.Bytes(), data)
	}
}
