package lzx

import (
	"bytes"
	"testing"

	"github.com/dolansoft/cabriolet/codec"
)

func roundTrip(t *testing.T, data []byte) []byte {
	t.Helper()
	var compressed bytes.Buffer
	c, err := NewCompressor(&compressed, 0, codec.Options{})
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
	d, err := New(bytes.NewReader(compressed.Bytes()), &out, 0, codec.Options{WindowBits: 16})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Decompress(len(data)); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	return out.Bytes()
}

func TestRoundTripUncompressedSingleBlock(t *testing.T) {
	data := []byte("this is a short message that fits in one uncompressed LZX block")
	got := roundTrip(t, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("mismatch:\n got=%q\nwant=%q", got, data)
	}
}

func TestRoundTripUncompressedOddLength(t *testing.T) {
	data := []byte("odd length payload!")
	if len(data)%2 == 0 {
		data = append(data, '.')
	}
	got := roundTrip(t, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("mismatch:\n got=%q\nwant=%q", got, data)
	}
}

func TestRoundTripMultipleBlocks(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefghijklmnopqrstuvwxyz0123456789"), 2000) // > 32KB
	got := roundTrip(t, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("multi-block mismatch (%d in, %d out)", len(data), len(got))
	}
}

func TestPositionSlotTableMatchesKnownValues(t *testing.T) {
	// Slots 0-3 have footer_bits 0 and base positions 0,1,2,3, per the LZX
	// position-slot scheme shared by every reference implementation.
	want := [4]uint32{0, 1, 2, 3}
	for i, w := range want {
		if basePositionTbl[i] != w {
			t.Errorf("basePositionTbl[%d] = %d, want %d", i, basePositionTbl[i], w)
		}
		if footerBitsTbl[i] != 0 {
			t.Errorf("footerBitsTbl[%d] = %d, want 0", i, footerBitsTbl[i])
		}
	}
	// Slot 4 and 5 share footer_bits 1, base positions 4 and 6.
	if footerBitsTbl[4] != 1 || footerBitsTbl[5] != 1 {
		t.Errorf("footerBitsTbl[4..5] = %d,%d, want 1,1", footerBitsTbl[4], footerBitsTbl[5])
	}
	if basePositionTbl[4] != 4 || basePositionTbl[5] != 6 {
		t.Errorf("basePositionTbl[4..5] = %d,%d, want 4,6", basePositionTbl[4], basePositionTbl[5])
	}
}
