package quantum

import (
	"bytes"
	"testing"

	"github.com/dolansoft/cabriolet/codec"
)

func roundTrip(t *testing.T, data []byte) []byte {
	t.Helper()
	var compressed bytes.Buffer
	c, err := NewCompressor(&compressed, 0, codec.Options{WindowBits: 16})
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

func TestRoundTripShortLiterals(t *testing.T) {
	data := []byte("Quantum literal coding round trip test.")
	got := roundTrip(t, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("mismatch:\n got=%q\nwant=%q", got, data)
	}
}

func TestRoundTripAllByteValues(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	got := roundTrip(t, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("mismatch over all byte values:\n got=%v\nwant=%v", got, data)
	}
}

func TestRoundTripCrossesFrameBoundary(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 3000) // > 32KB frame size
	got := roundTrip(t, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("frame-crossing mismatch (%d in, %d out)", len(data), len(got))
	}
}

func TestModelUpdateKeepsDescendingCumFreq(t *testing.T) {
	m := newModel(8)
	for i := 0; i < 50; i++ {
		m.update(i % m.numSyms)
		for j := 1; j <= m.numSyms; j++ {
			if m.cumFreq[j-1] < m.cumFreq[j] {
				t.Fatalf("cumFreq not non-increasing after %d updates: %v", i, m.cumFreq)
			}
		}
	}
}

func TestPositionTableStartsAtZero(t *testing.T) {
	if posBase[0] != 0 || posBase[1] != 1 || posBase[2] != 2 || posBase[3] != 3 {
		t.Fatalf("unexpected low position slots: %v", posBase[:4])
	}
}
