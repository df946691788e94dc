// Package common holds the shared front-end primitives every container
// writer in formats/ needs: queuing files for an archive, a
// validate→build→write compressor template, and magic-byte format
// detection. It is deliberately thin — CHM/HLP/LIT/OAB directory walking
// stays at glue level in their own packages, and these primitives are the
// glue's plumbing, not a format of their own.
package common

import (
	"bytes"
	"os"

	"github.com/blang/semver"
	"github.com/dolansoft/cabriolet/cerrors"
)

// FileEntry describes one file to place into an archive being built.
// Exactly one of Source or Data must be set.
type FileEntry struct {
	// Source is an on-disk path to read the file's content from.
	Source string
	// Data is in-memory content, used instead of Source.
	Data []byte

	// ArchivePath is where the file is placed inside the output container.
	ArchivePath string
	// Attribs overrides the file's stored attribute bits; nil keeps
	// whatever the container's writer defaults to.
	Attribs *uint16
	// Compress requests compression for this file where the container
	// format allows choosing per-file (OAB's per-block flag, for
	// instance); containers that compress a whole folder ignore it.
	Compress bool
}

// Validate checks FileEntry's own invariants: exactly one content source,
// and a non-empty archive path.
func (e FileEntry) Validate() error {
	hasSource := e.Source != ""
	hasData := e.Data != nil
	if hasSource == hasData {
		return cerrors.New(cerrors.ArgumentError, "formats: file entry for %q must set exactly one of Source or Data", e.ArchivePath)
	}
	if e.ArchivePath == "" {
		return cerrors.New(cerrors.ArgumentError, "formats: file entry has an empty archive path")
	}
	return nil
}

// Bytes returns the entry's content, reading Source from disk if Data was
// not supplied directly.
func (e FileEntry) Bytes() ([]byte, error) {
	if e.Data != nil {
		return e.Data, nil
	}
	data, err := os.ReadFile(e.Source)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.IoError, err, "formats: reading %q", e.Source)
	}
	return data, nil
}

// FileManager collects FileEntry values for one archive-build operation
// and validates the whole set before any writer touches them.
type FileManager struct {
	entries []FileEntry
	seen    map[string]bool
}

// NewFileManager returns an empty FileManager.
func NewFileManager() *FileManager {
	return &FileManager{seen: make(map[string]bool)}
}

// Add validates and enqueues one entry. Duplicate archive paths are
// rejected rather than silently overwriting an earlier entry.
func (m *FileManager) Add(e FileEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if m.seen[e.ArchivePath] {
		return cerrors.New(cerrors.ArgumentError, "formats: duplicate archive path %q", e.ArchivePath)
	}
	m.seen[e.ArchivePath] = true
	m.entries = append(m.entries, e)
	return nil
}

// Entries returns the queued entries in the order they were added.
func (m *FileManager) Entries() []FileEntry { return m.entries }

// Builder is the three-stage template every format's compressor follows:
// validate the queued entries for that format's own constraints (name
// length limits, attribute restrictions), build whatever in-memory
// structure the container needs (a CFFOLDER plan, a directory tree, a
// piece table), then write it out. Compress runs the template for any
// Builder; none of the formats/ packages in this module implements Builder.
type Builder interface {
	ValidateEntries(entries []FileEntry) error
	BuildStructure(entries []FileEntry) (any, error)
	Write(structure any, w *bytes.Buffer) error
}

// Compress runs a Builder's validate→build→write template over the
// FileManager's queued entries, returning the finished container bytes.
func Compress(m *FileManager, b Builder) ([]byte, error) {
	entries := m.Entries()
	if err := b.ValidateEntries(entries); err != nil {
		return nil, err
	}
	structure, err := b.BuildStructure(entries)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := b.Write(structure, &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Format identifies which of the legacy container families a byte stream
// belongs to.
type Format string

const (
	FormatCAB     Format = "cab"
	FormatCHM     Format = "chm"
	FormatHLP     Format = "hlp"
	FormatLIT     Format = "lit"
	FormatOAB     Format = "oab"
	FormatSZDD    Format = "szdd"
	FormatKWAJ    Format = "kwaj"
	FormatUnknown Format = "unknown"
)

var magics = []struct {
	format Format
	magic  []byte
}{
	{FormatCAB, []byte("MSCF")},
	{FormatCHM, []byte("ITSF")},
	{FormatLIT, []byte("ITOLITLS")},
	{FormatHLP, []byte{0x3F, 0x5F, 0x03, 0x00}},
	{FormatSZDD, []byte{'S', 'Z', 'D', 'D', 0x88, 0xF0, 0x27, 0x33}},
	{FormatKWAJ, []byte{'K', 'W', 'A', 'J', 0x88, 0xF0, 0x27, 0xD1}},
}

// Detect identifies data's format by magic bytes. OAB has no fixed magic
// of its own — it is a raw block stream with a separate index file — so
// it is never returned by Detect; callers that already know they have an
// OAB blob skip detection entirely.
func Detect(data []byte) Format {
	for _, m := range magics {
		if bytes.HasPrefix(data, m.magic) {
			return m.format
		}
	}
	return FormatUnknown
}

// CompareContainerVersions compares two "major.minor"-shaped container
// version strings (CAB's VersionMajor.VersionMinor, CHM/LIT's header
// version fields rendered the same way), the way lvfscab.CompareVersions
// compares firmware release versions: parse both as semver-ish
// major.minor.0 values and fall back to a plain string comparison when a
// field doesn't parse.
func CompareContainerVersions(a, b string) int {
	av, aerr := semver.Parse(a + ".0")
	bv, berr := semver.Parse(b + ".0")
	if aerr != nil || berr != nil {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	return av.Compare(bv)
}
