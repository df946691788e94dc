package common

import (
	"bytes"
	"testing"
)

func TestFileEntryValidate(t *testing.T) {
	good := FileEntry{Data: []byte("x"), ArchivePath: "a.txt"}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected valid entry, got %v", err)
	}

	neither := FileEntry{ArchivePath: "a.txt"}
	if err := neither.Validate(); err == nil {
		t.Fatal("expected error when neither Source nor Data is set")
	}

	both := FileEntry{Data: []byte("x"), Source: "a.txt", ArchivePath: "a.txt"}
	if err := both.Validate(); err == nil {
		t.Fatal("expected error when both Source and Data are set")
	}

	noPath := FileEntry{Data: []byte("x")}
	if err := noPath.Validate(); err == nil {
		t.Fatal("expected error on empty archive path")
	}
}

func TestFileManagerRejectsDuplicates(t *testing.T) {
	m := NewFileManager()
	if err := m.Add(FileEntry{Data: []byte("1"), ArchivePath: "f.txt"}); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(FileEntry{Data: []byte("2"), ArchivePath: "f.txt"}); err == nil {
		t.Fatal("expected duplicate archive path to be rejected")
	}
	if len(m.Entries()) != 1 {
		t.Fatalf("got %d entries, want 1", len(m.Entries()))
	}
}

type stubBuilder struct {
	validated bool
	built     bool
}

func (s *stubBuilder) ValidateEntries(entries []FileEntry) error {
	s.validated = true
	return nil
}
func (s *stubBuilder) BuildStructure(entries []FileEntry) (any, error) {
	s.built = true
	return entries, nil
}
func (s *stubBuilder) Write(structure any, w *bytes.Buffer) error {
	w.WriteString("ok")
	return nil
}

func TestCompressRunsTemplateInOrder(t *testing.T) {
	m := NewFileManager()
	if err := m.Add(FileEntry{Data: []byte("x"), ArchivePath: "a"}); err != nil {
		t.Fatal(err)
	}
	b := &stubBuilder{}
	out, err := Compress(m, b)
	if err != nil {
		t.Fatal(err)
	}
	if !b.validated || !b.built {
		t.Fatal("Compress did not invoke the full validate/build/write template")
	}
	if string(out) != "ok" {
		t.Fatalf("got %q, want %q", out, "ok")
	}
}

func TestDetectMagicBytes(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want Format
	}{
		{"cab", []byte("MSCF\x00\x00\x00\x00"), FormatCAB},
		{"chm", []byte("ITSF\x00\x00\x00\x00"), FormatCHM},
		{"lit", []byte("ITOLITLS"), FormatLIT},
		{"szdd", []byte{'S', 'Z', 'D', 'D', 0x88, 0xF0, 0x27, 0x33}, FormatSZDD},
		{"kwaj", []byte{'K', 'W', 'A', 'J', 0x88, 0xF0, 0x27, 0xD1}, FormatKWAJ},
		{"unknown", []byte("????????"), FormatUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Detect(c.data); got != c.want {
				t.Fatalf("Detect(%q) = %v, want %v", c.name, got, c.want)
			}
		})
	}
}

func TestCompareContainerVersions(t *testing.T) {
	if CompareContainerVersions("1.3", "1.3") != 0 {
		t.Fatal("equal versions should compare equal")
	}
	if CompareContainerVersions("1.3", "1.4") >= 0 {
		t.Fatal("1.3 should compare less than 1.4")
	}
	if CompareContainerVersions("2.0", "1.9") <= 0 {
		t.Fatal("2.0 should compare greater than 1.9")
	}
}
