// Package cab implements the Microsoft Cabinet (CAB) container: parsing
// CFHEADER/CFFOLDER/CFFILE/CFDATA records, per-folder codec reuse during
// extraction, multi-part folder merging, embedded-cabinet search and a
// two-pass writer. It is the direct, generalized descendant of both the
// teacher's own cab/cabfile.go and google-go-cabfile/cabfile: the record
// shapes and folderData/Next walking protocol come from there, extended
// here for LZX/Quantum, multi-part merge, salvage mode and writing.
package cab

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"sort"
	"time"

	"github.com/dolansoft/cabriolet/cerrors"
	"github.com/dolansoft/cabriolet/codec"
	"github.com/dolansoft/cabriolet/codec/factory"
)

const headerSize = 36

// header is the fixed 36-byte CFHEADER.
type header struct {
	Signature    [4]byte
	Reserved1    uint32
	CBCabinet    uint32
	Reserved2    uint32
	COFFFiles    uint32
	Reserved3    uint32
	VersionMinor uint8
	VersionMajor uint8
	CFolders     uint16
	CFiles       uint16
	Flags        uint16
	SetID        uint16
	ICabinet     uint16
}

const (
	flagPrevCabinet uint16 = 1 << iota
	flagNextCabinet
	flagReservePresent
)

const (
	compMask   uint16 = 0x000f
	paramShift        = 8
)

// folderIndex sentinels identifying a file that spans a cabinet boundary.
// A file continued from the previous cabinet belongs to the *first* folder;
// one continued to the next cabinet (or both) belongs to the *last* folder.
const (
	folderContinuedFromPrev uint16 = 0xFFFD
	folderContinuedToNext   uint16 = 0xFFFE
	folderContinuedBoth     uint16 = 0xFFFF
)

const attribNameIsUTF uint16 = 1 << 7

// folderSegment is one physical cabinet's contribution to a (possibly
// merged) folder's CFDATA chain.
type folderSegment struct {
	cab          *Cabinet
	coffCabStart uint32
	numBlocks    uint16
}

// Folder is one CFFOLDER entry: a run of CFDATA blocks sharing one codec
// state. After Merge, a folder's data may span more than one physical
// cabinet; segments records each contributing cabinet's byte range, in
// data order.
type Folder struct {
	Kind       codec.Kind
	CABKind    factory.CABKind
	WindowBits int

	MergePrev bool
	MergeNext bool

	segments []folderSegment
	files    []*File
}

// File is one CFFILE entry, resolved to its owning Folder.
type File struct {
	Name              string
	Size              uint32
	FolderOffset      uint32 // uncompressed_offset within the owning Folder
	ModTime           time.Time
	Attribs           uint16
	ContinuesFromPrev bool
	ContinuesToNext   bool

	folder *Folder
}

// Folder returns the Folder this file's data lives in.
func (f *File) Folder() *Folder { return f.folder }

// Cabinet is one parsed CFHEADER's worth of Cabinet metadata: its folders
// and files, plus whatever merge links have been established.
type Cabinet struct {
	r io.ReadSeeker

	setID   uint16
	index   uint16
	version [2]uint8

	folders []*Folder
	files   []*File

	cbCFFolderReserve uint8
	cbCFDataReserve   uint8

	prevName, prevDisk string
	nextName, nextDisk string
	prev, next         *Cabinet

	// legacy sequential-walk state, mirroring the teacher's Next()/Read()
	// pair for callers that want one file at a time without building an
	// Extractor.
	fileIdx    int
	fileReader io.Reader
	folderIdx  uint16
	folderBuf  []byte
}

func readString(r io.Reader) (string, error) {
	var buf bytes.Buffer
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", cerrors.Wrap(cerrors.IoError, err, "cab: short read on null-terminated string")
		}
		if b[0] == 0 {
			return buf.String(), nil
		}
		buf.WriteByte(b[0])
	}
}

// Open parses a single Cabinet from r, starting at offset 0 of r.
// It does not follow PREV_CABINET/NEXT_CABINET links; use Search or Merge
// to assemble a multi-part set.
func Open(r io.ReadSeeker) (*Cabinet, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, cerrors.Wrap(cerrors.IoError, err, "cab: seek to start")
	}

	var hdr header
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, cerrors.Wrap(cerrors.ParseError, err, "cab: short CFHEADER")
	}
	if !bytes.Equal(hdr.Signature[:], []byte("MSCF")) {
		return nil, cerrors.New(cerrors.SignatureError, "cab: bad signature %q", hdr.Signature)
	}
	if hdr.VersionMajor != 1 || hdr.VersionMinor != 3 {
		return nil, cerrors.New(cerrors.FormatError, "cab: unsupported version %d.%d", hdr.VersionMajor, hdr.VersionMinor)
	}

	c := &Cabinet{r: r, setID: hdr.SetID, index: hdr.ICabinet, version: [2]uint8{hdr.VersionMajor, hdr.VersionMinor}}

	if hdr.Flags&flagReservePresent != 0 {
		var cbCFHeader uint16
		var cbCFFolder, cbCFData uint8
		if err := binary.Read(r, binary.LittleEndian, &cbCFHeader); err != nil {
			return nil, cerrors.Wrap(cerrors.ParseError, err, "cab: short CFHEADER_EXT")
		}
		if err := binary.Read(r, binary.LittleEndian, &cbCFFolder); err != nil {
			return nil, cerrors.Wrap(cerrors.ParseError, err, "cab: short CFHEADER_EXT")
		}
		if err := binary.Read(r, binary.LittleEndian, &cbCFData); err != nil {
			return nil, cerrors.Wrap(cerrors.ParseError, err, "cab: short CFHEADER_EXT")
		}
		c.cbCFFolderReserve = cbCFFolder
		c.cbCFDataReserve = cbCFData
		if cbCFHeader > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(cbCFHeader)); err != nil {
				return nil, cerrors.Wrap(cerrors.IoError, err, "cab: short header reserve")
			}
		}
	}
	if hdr.Flags&flagPrevCabinet != 0 {
		var err error
		if c.prevName, err = readString(r); err != nil {
			return nil, err
		}
		if c.prevDisk, err = readString(r); err != nil {
			return nil, err
		}
	}
	if hdr.Flags&flagNextCabinet != 0 {
		var err error
		if c.nextName, err = readString(r); err != nil {
			return nil, err
		}
		if c.nextDisk, err = readString(r); err != nil {
			return nil, err
		}
	}

	for i := uint16(0); i < hdr.CFolders; i++ {
		var raw struct {
			COFFCabStart uint32
			CCFData      uint16
			TypeCompress uint16
		}
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return nil, cerrors.Wrap(cerrors.ParseError, err, "cab: short CFFOLDER %d", i)
		}
		if c.cbCFFolderReserve > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(c.cbCFFolderReserve)); err != nil {
				return nil, cerrors.Wrap(cerrors.IoError, err, "cab: short folder reserve %d", i)
			}
		}
		cabKind := factory.CABKind(raw.TypeCompress & compMask)
		kind, err := factory.KindFromCAB(cabKind)
		if err != nil {
			return nil, err
		}
		f := &Folder{
			Kind:       kind,
			CABKind:    cabKind,
			WindowBits: int(raw.TypeCompress >> paramShift),
			segments:   []folderSegment{{cab: c, coffCabStart: raw.COFFCabStart, numBlocks: raw.CCFData}},
		}
		c.folders = append(c.folders, f)
	}

	if _, err := r.Seek(int64(hdr.COFFFiles), io.SeekStart); err != nil {
		return nil, cerrors.Wrap(cerrors.IoError, err, "cab: seek to CFFILE section")
	}
	for i := uint16(0); i < hdr.CFiles; i++ {
		var raw struct {
			CBFile          uint32
			UOffFolderStart uint32
			IFolder         uint16
			Date            uint16
			Time            uint16
			Attribs         uint16
		}
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return nil, cerrors.Wrap(cerrors.ParseError, err, "cab: short CFFILE %d", i)
		}
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		idx := raw.IFolder
		fromPrev := idx == folderContinuedFromPrev || idx == folderContinuedBoth
		toNext := idx == folderContinuedToNext || idx == folderContinuedBoth
		resolvedIdx := idx
		if toNext {
			resolvedIdx = uint16(len(c.folders) - 1)
		} else if fromPrev {
			resolvedIdx = 0
		}
		if int(resolvedIdx) >= len(c.folders) {
			return nil, cerrors.New(cerrors.FormatError, "cab: file %q references out-of-range folder %d", name, resolvedIdx)
		}
		fldr := c.folders[resolvedIdx]
		if fromPrev {
			fldr.MergePrev = true
		}
		if toNext {
			fldr.MergeNext = true
		}
		file := &File{
			Name:              name,
			Size:              raw.CBFile,
			FolderOffset:      raw.UOffFolderStart,
			ModTime:           msDosTimeToTime(raw.Date, raw.Time),
			Attribs:           raw.Attribs,
			ContinuesFromPrev: fromPrev,
			ContinuesToNext:   toNext,
			folder:            fldr,
		}
		fldr.files = append(fldr.files, file)
		c.files = append(c.files, file)
	}
	sort.SliceStable(c.files, func(i, j int) bool {
		fi, fj := c.files[i].folder, c.files[j].folder
		if fi != fj {
			return folderOrdinal(c, fi) < folderOrdinal(c, fj)
		}
		return c.files[i].FolderOffset < c.files[j].FolderOffset
	})
	for _, fldr := range c.folders {
		sort.SliceStable(fldr.files, func(i, j int) bool {
			return fldr.files[i].FolderOffset < fldr.files[j].FolderOffset
		})
	}

	c.folderIdx = math.MaxUint16
	return c, nil
}

func folderOrdinal(c *Cabinet, f *Folder) int {
	for i, fldr := range c.folders {
		if fldr == f {
			return i
		}
	}
	return -1
}

// msDosTimeToTime converts a CFFILE date/time pair to a time.Time, per the
// MS-DOS packed format: date = ((year-1980)<<9)|(month<<5)|day, time =
// (hour<<11)|(minute<<5)|(seconds/2).
func msDosTimeToTime(date, t uint16) time.Time {
	year := int(date>>9) + 1980
	month := int((date >> 5) & 0xf)
	day := int(date & 0x1f)
	hour := int(t >> 11)
	min := int((t >> 5) & 0x3f)
	sec := int((t & 0x1f) * 2)
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
}

// Folders returns the cabinet's folders in on-disk order.
func (c *Cabinet) Folders() []*Folder { return c.folders }

// Files returns the cabinet's files, sorted by (folder, uncompressed
// offset) — the order extraction needs to walk a folder's data stream once.
func (c *Cabinet) Files() []*File { return c.files }

// FileList returns the list of filenames, in the same order as Files.
func (c *Cabinet) FileList() []string {
	names := make([]string, len(c.files))
	for i, f := range c.files {
		names[i] = f.Name
	}
	return names
}

// SetID and Index identify this cabinet's place within a multi-part set.
func (c *Cabinet) SetID() uint16 { return c.setID }
func (c *Cabinet) Index() uint16 { return c.index }

// xor32Checksum implements CAB's per-block checksum: full 4-byte
// little-endian words are XOR-ed into the accumulator in turn; a
// 1-3 byte remainder is packed big-endian (first byte in the highest
// position, descending) into one final partial word and XOR-ed in too.
func xor32Checksum(data []byte, seed uint32) uint32 {
	acc := seed
	n := len(data)
	i := 0
	for ; i+4 <= n; i += 4 {
		acc ^= uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16 | uint32(data[i+3])<<24
	}
	if rem := n - i; rem > 0 {
		var word uint32
		for j := 0; j < rem; j++ {
			word = (word << 8) | uint32(data[i+j])
		}
		acc ^= word
	}
	return acc
}
