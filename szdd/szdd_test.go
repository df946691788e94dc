package szdd

import (
	"bytes"
	"testing"
)

func TestSZDDRoundTrip(t *testing.T) {
	data := []byte("This is a small file that SZDD would have compressed on MS-DOS.")

	var buf bytes.Buffer
	if err := Compress(&buf, data, 't', false); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), szddMagic[:]) {
		t.Fatal("missing SZDD magic")
	}

	var out bytes.Buffer
	hdr, err := Decompress(bytes.NewReader(buf.Bytes()), &out)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if hdr.QBasic {
		t.Fatal("QBasic flag set unexpectedly")
	}
	if hdr.MissingChar != 't' {
		t.Fatalf("MissingChar = %q, want 't'", hdr.MissingChar)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("round trip mismatch:\n got=%q\nwant=%q", out.Bytes(), data)
	}
}

func TestSZDDQBasicRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("QBasic help text. "), 30)

	var buf bytes.Buffer
	if err := Compress(&buf, data, 'x', true); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	var out bytes.Buffer
	hdr, err := Decompress(bytes.NewReader(buf.Bytes()), &out)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !hdr.QBasic {
		t.Fatal("expected QBasic flag set")
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatal("QBasic round trip mismatch")
	}
}

func TestSZDDBadMagicRejected(t *testing.T) {
	var out bytes.Buffer
	_, err := Decompress(bytes.NewReader(bytes.Repeat([]byte{0}, 16)), &out)
	if err == nil {
		t.Fatal("expected a signature error")
	}
}

func TestKWAJStoredRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(kwajMagic[:])
	// method=0 (stored), data_offset=14, flags=0
	buf.Write([]byte{0, 0, 14, 0, 0, 0})
	payload := []byte("stored KWAJ payload, no compression at all")
	buf.Write(payload)

	var out bytes.Buffer
	hdr, err := DecompressKWAJ(bytes.NewReader(buf.Bytes()), &out)
	if err != nil {
		t.Fatalf("DecompressKWAJ: %v", err)
	}
	if hdr.Method != KWAJNone {
		t.Fatalf("Method = %d, want KWAJNone", hdr.Method)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Fatalf("stored KWAJ payload mismatch: %q", out.Bytes())
	}
}

func TestKWAJBadMagicRejected(t *testing.T) {
	var out bytes.Buffer
	_, err := DecompressKWAJ(bytes.NewReader(bytes.Repeat([]byte{0}, 20)), &out)
	if err == nil {
		t.Fatal("expected a signature error")
	}
}
