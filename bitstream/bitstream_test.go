package bitstream

import (
	"bytes"
	"testing"
)

func TestLSBRefill(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xAB, 0xCD}), LSB)
	v, err := r.Read(12)
	if err != nil {
		t.Fatalf("Read(12): %v", err)
	}
	if v != 0xDAB {
		t.Fatalf("Read(12) = %#x, want 0xDAB", v)
	}
	if r.BitsAvailable() != 4 {
		t.Fatalf("bits available = %d, want 4", r.BitsAvailable())
	}
	if r.acc != 0xC {
		t.Fatalf("accumulator = %#x, want 0xC", r.acc)
	}
}

func TestMSBRefill(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x12, 0x34, 0x56, 0x78}), MSB)
	v, err := r.Read(4)
	if err != nil {
		t.Fatalf("Read(4): %v", err)
	}
	if v != 0x3 {
		t.Fatalf("Read(4) = %#x, want 0x3", v)
	}
	v, err = r.Read(12)
	if err != nil {
		t.Fatalf("Read(12): %v", err)
	}
	if v != 0x412 {
		t.Fatalf("Read(12) = %#x, want 0x412", v)
	}
	// Next refill should bring in the second little-endian word, 0x7856.
	v, err = r.Peek(16)
	if err != nil {
		t.Fatalf("Peek(16): %v", err)
	}
	if v != 0x7856 {
		t.Fatalf("Peek(16) = %#x, want 0x7856", v)
	}
}

func TestPeekDoesNotAdvance(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xFF, 0x00}), LSB)
	p1, _ := r.Peek(5)
	p2, _ := r.Peek(5)
	if p1 != p2 {
		t.Fatalf("peek not idempotent: %#x != %#x", p1, p2)
	}
	rd, _ := r.Read(5)
	if rd != p1 {
		t.Fatalf("read(5) = %#x, want %#x (matching peek)", rd, p1)
	}
}

func TestByteAlignLSB(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xFF, 0xAA}), LSB)
	if _, err := r.Read(3); err != nil {
		t.Fatal(err)
	}
	if err := r.ByteAlign(); err != nil {
		t.Fatal(err)
	}
	if r.BitsAvailable()%8 != 0 {
		t.Fatalf("bits available %d not byte aligned", r.BitsAvailable())
	}
}

func TestEOFPolicyFailsOnSecondUnderflow(t *testing.T) {
	r := NewReader(bytes.NewReader(nil), LSB)
	if _, err := r.Read(8); err != nil {
		t.Fatalf("first underflow should be tolerated: %v", err)
	}
	if _, err := r.Read(8); err == nil {
		t.Fatal("second underflow should fail without salvage")
	}
}

func TestEOFPolicySalvageNeverFails(t *testing.T) {
	r := NewReader(bytes.NewReader(nil), LSB)
	r.Salvage(true)
	for i := 0; i < 10; i++ {
		if _, err := r.Read(8); err != nil {
			t.Fatalf("salvage read %d failed: %v", i, err)
		}
	}
}

func TestWriterLSBRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, LSB)
	if err := w.Write(12, 0xDAB); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	r := NewReader(bytes.NewReader(buf.Bytes()), LSB)
	v, err := r.Read(12)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xDAB {
		t.Fatalf("round trip = %#x, want 0xDAB", v)
	}
}

func TestWriterMSBRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, MSB)
	if err := w.Write(4, 0x3); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(12, 0x412); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	r := NewReader(bytes.NewReader(buf.Bytes()), MSB)
	v, err := r.Read(4)
	if err != nil || v != 0x3 {
		t.Fatalf("Read(4) = %#x, %v, want 0x3", v, err)
	}
	v, err = r.Read(12)
	if err != nil || v != 0x412 {
		t.Fatalf("Read(12) = %#x, %v, want 0x412", v, err)
	}
}

func TestPeekReadInvariantRandomBits(t *testing.T) {
	data := []byte{0x9A, 0x3C, 0x7F, 0x01, 0xEE, 0x55}
	for _, order := range []Order{LSB, MSB} {
		r := NewReader(bytes.NewReader(data), order)
		for n := uint(1); n <= 16; n++ {
			r2 := NewReader(bytes.NewReader(data), order)
			// Drain the same number of preceding bits on r2 as on r so far
			// is not tracked across iterations; instead verify peek==read
			// from a fresh reader each time for determinism.
			p, err := r2.Peek(n)
			if err != nil {
				t.Fatalf("order=%v Peek(%d): %v", order, n, err)
			}
			v, err := r2.Read(n)
			if err != nil {
				t.Fatalf("order=%v Read(%d): %v", order, n, err)
			}
			if p != v {
				t.Fatalf("order=%v peek(%d)=%#x != read(%d)=%#x", order, n, p, n, v)
			}
		}
		_ = r
	}
}

func TestReadUint16LE(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x34, 0x12}), LSB)
	v, err := r.ReadUint16LE()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x1234 {
		t.Fatalf("ReadUint16LE = %#x, want 0x1234", v)
	}
}

func TestReadUint32LE(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x78, 0x56, 0x34, 0x12}), LSB)
	v, err := r.ReadUint32LE()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x12345678 {
		t.Fatalf("ReadUint32LE = %#x, want 0x12345678", v)
	}
}
