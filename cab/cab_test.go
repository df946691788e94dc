package cab

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dolansoft/cabriolet/codec"
)

func buildSimpleCabinet(t *testing.T, kind codec.Kind) []byte {
	t.Helper()
	folder := WriterFolder{
		Kind:       kind,
		WindowBits: 15,
		Files: []WriterFile{
			{Name: "readme.txt", ModTime: time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC), Data: []byte("hello cabinet world, this is file one\n")},
			{Name: "second.txt", ModTime: time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC), Data: bytes.Repeat([]byte("second file content "), 50)},
		},
	}
	var buf bytes.Buffer
	if err := Write(&buf, WriterOptions{SetID: 42, ICabinet: 0}, []WriterFolder{folder}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return buf.Bytes()
}

func TestWriteOpenRoundTripNone(t *testing.T) {
	raw := buildSimpleCabinet(t, codec.None)

	c, err := Open(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := c.SetID(); got != 42 {
		t.Fatalf("SetID = %d, want 42", got)
	}
	if len(c.Files()) != 2 {
		t.Fatalf("got %d files, want 2", len(c.Files()))
	}

	e := NewExtractor(Options{})
	var gotNames []string
	err = e.ExtractAll(c, func(f *File, r io.Reader) error {
		data, readErr := io.ReadAll(r)
		if readErr != nil {
			return readErr
		}
		if uint32(len(data)) != f.Size {
			t.Fatalf("file %q: got %d bytes, want %d", f.Name, len(data), f.Size)
		}
		gotNames = append(gotNames, f.Name)
		return nil
	})
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if len(gotNames) != 2 {
		t.Fatalf("emitted %d files, want 2", len(gotNames))
	}
	sort.Strings(gotNames)
	want := []string{"readme.txt", "second.txt"}
	if diff := cmp.Diff(want, gotNames); diff != "" {
		t.Fatalf("extracted file names mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteOpenRoundTripMSZIP(t *testing.T) {
	raw := buildSimpleCabinet(t, codec.MSZIP)

	c, err := Open(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	e := NewExtractor(Options{})
	var readme, second []byte
	err = e.ExtractAll(c, func(f *File, r io.Reader) error {
		data, readErr := io.ReadAll(r)
		if readErr != nil {
			return readErr
		}
		switch f.Name {
		case "readme.txt":
			readme = data
		case "second.txt":
			second = data
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if string(readme) != "hello cabinet world, this is file one\n" {
		t.Fatalf("readme.txt content mismatch: %q", readme)
	}
	if !bytes.Equal(second, bytes.Repeat([]byte("second file content "), 50)) {
		t.Fatalf("second.txt content mismatch")
	}
}

func TestExtractFileSingle(t *testing.T) {
	raw := buildSimpleCabinet(t, codec.None)
	c, err := Open(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var out bytes.Buffer
	e := NewExtractor(Options{})
	if err := e.ExtractFile(c, "second.txt", &out); err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	if !bytes.Equal(out.Bytes(), bytes.Repeat([]byte("second file content "), 50)) {
		t.Fatal("ExtractFile content mismatch")
	}
	if err := e.ExtractFile(c, "nonexistent.txt", &out); err == nil {
		t.Fatal("expected error extracting nonexistent file")
	}
}

func TestLegacyNextContent(t *testing.T) {
	raw := buildSimpleCabinet(t, codec.None)
	c, err := Open(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var names []string
	for {
		f, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		data, err := io.ReadAll(c)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if uint32(len(data)) != f.Size {
			t.Fatalf("file %q: got %d bytes, want %d", f.Name, len(data), f.Size)
		}
		names = append(names, f.Name)
	}
	if len(names) != 2 {
		t.Fatalf("walked %d files, want 2", len(names))
	}

	r, err := c.Content("readme.txt")
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello cabinet world, this is file one\n" {
		t.Fatalf("Content mismatch: %q", data)
	}
}

func TestChecksumMismatchRejectedUnlessSalvage(t *testing.T) {
	raw := buildSimpleCabinet(t, codec.None)
	corrupted := append([]byte(nil), raw...)

	// Locate a CFDATA checksum word (first 4 bytes right after the
	// CFFILE section) and flip a bit so it no longer matches the payload.
	c, err := Open(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	dataStart := c.folders[0].segments[0].coffCabStart
	orig := binary.LittleEndian.Uint32(corrupted[dataStart : dataStart+4])
	binary.LittleEndian.PutUint32(corrupted[dataStart:dataStart+4], orig^0xFFFFFFFF)

	c2, err := Open(bytes.NewReader(corrupted))
	if err != nil {
		t.Fatalf("Open corrupted: %v", err)
	}
	e := NewExtractor(Options{})
	err = e.ExtractAll(c2, func(f *File, r io.Reader) error {
		_, err := io.ReadAll(r)
		return err
	})
	if err == nil {
		t.Fatal("expected checksum error on corrupted cabinet")
	}

	c3, err := Open(bytes.NewReader(corrupted))
	if err != nil {
		t.Fatalf("Open corrupted: %v", err)
	}
	salvage := NewExtractor(Options{Salvage: true})
	report := Repair(c3, func(f *File, r io.Reader) error {
		_, _ = io.ReadAll(r)
		return nil
	})
	_ = salvage
	if report.Success {
		t.Fatal("expected Repair to report a non-success outcome for a corrupted cabinet")
	}
}

func TestSearchFindsEmbeddedCabinet(t *testing.T) {
	raw := buildSimpleCabinet(t, codec.None)
	// Search probes only multiples of searchStride, so the embedded
	// cabinet starts on a stride boundary.
	prefix := bytes.Repeat([]byte{0xAA}, 2*searchStride)
	blob := append(append([]byte(nil), prefix...), raw...)

	off, err := Search(bytes.NewReader(blob))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if off != int64(len(prefix)) {
		t.Fatalf("Search returned offset %d, want %d (end of prefix)", off, len(prefix))
	}

	c, err := SearchAndOpen(bytes.NewReader(blob))
	if err != nil {
		t.Fatalf("SearchAndOpen: %v", err)
	}
	if len(c.Files()) != 2 {
		t.Fatalf("got %d files from embedded cabinet, want 2", len(c.Files()))
	}
}

func TestSearchNoSignatureFails(t *testing.T) {
	if _, err := Search(bytes.NewReader(bytes.Repeat([]byte{0}, 20000))); err == nil {
		t.Fatal("expected SignatureError when no cabinet is present")
	}
}

func TestMergeValidationErrors(t *testing.T) {
	a := buildSimpleCabinet(t, codec.None)
	b := buildSimpleCabinet(t, codec.None)

	ca, err := Open(bytes.NewReader(a))
	if err != nil {
		t.Fatal(err)
	}
	cb, err := Open(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}

	if err := Merge(ca, nil); err == nil {
		t.Fatal("expected error merging with nil peer")
	}
	if err := Merge(ca, ca); err == nil {
		t.Fatal("expected error merging a cabinet with itself")
	}
	// Neither writer-built cabinet sets the NEXT_CABINET/merge flags, so a
	// structurally valid-looking pair should still fail on the boundary
	// folder check. The indices are made consecutive so that check is the
	// one that fails.
	cb.index = ca.index + 1
	if err := Merge(ca, cb); err == nil {
		t.Fatal("expected error merging cabinets whose boundary folders aren't flagged for merge")
	}
}

func TestMergeRejectsNonConsecutiveIndex(t *testing.T) {
	a := buildSimpleCabinet(t, codec.None)
	b := buildSimpleCabinet(t, codec.None)
	ca, err := Open(bytes.NewReader(a))
	if err != nil {
		t.Fatal(err)
	}
	cb, err := Open(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	ca.folders[len(ca.folders)-1].MergeNext = true
	cb.folders[0].MergePrev = true
	cb.index = 5 // not ca.index+1
	if err := Merge(ca, cb); err == nil {
		t.Fatal("expected error on non-consecutive cabinet index")
	}
}

func TestMergeSuccessfulTwoPart(t *testing.T) {
	a := buildSimpleCabinet(t, codec.None)
	b := buildSimpleCabinet(t, codec.None)
	ca, err := Open(bytes.NewReader(a))
	if err != nil {
		t.Fatal(err)
	}
	cb, err := Open(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	ca.folders[len(ca.folders)-1].MergeNext = true
	cb.folders[0].MergePrev = true
	cb.index = ca.index + 1

	if err := Merge(ca, cb); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if ca.NextCabinet() != cb {
		t.Fatal("NextCabinet() does not point at the merged peer")
	}
	if cb.PrevCabinet() != ca {
		t.Fatal("PrevCabinet() does not point back at ca")
	}
	left := ca.folders[len(ca.folders)-1]
	if len(left.segments) != 2 {
		t.Fatalf("merged folder has %d segments, want 2", len(left.segments))
	}
}
