package cab

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/dolansoft/cabriolet/cerrors"
	"github.com/dolansoft/cabriolet/codec"
	"github.com/dolansoft/cabriolet/codec/factory"
)

// WriterFile is one file to place in a WriterFolder.
type WriterFile struct {
	Name    string
	ModTime time.Time
	Attribs uint16
	Data    []byte
}

// WriterFolder groups files that will share one codec state, exactly as
// Folder does on read.
type WriterFolder struct {
	Kind       codec.Kind
	WindowBits int
	Files      []WriterFile
}

// WriterOptions carries the CFHEADER fields a writer controls directly.
type WriterOptions struct {
	SetID   uint16
	ICabinet uint16
}

var cabKindOf = map[codec.Kind]factory.CABKind{
	codec.None:    factory.CABNone,
	codec.MSZIP:   factory.CABMSZIP,
	codec.Quantum: factory.CABQuantum,
	codec.LZX:     factory.CABLZX,
}

// maxCompressedBlock bounds how much compressed data goes in one CFDATA
// record. Real CAB tooling ties this to a codec's worst-case expansion
// over a 32 KB uncompressed block (BLOCK_MAX + 6144 for LZX); cabriolet's
// writer instead chunks the already-compressed stream at a flat size and
// apportions cbUncomp proportionally (see DESIGN.md) — the reader never
// relies on per-block uncompressed boundaries, only on the concatenated
// byte stream, so this is a safe simplification for the write side.
const maxCompressedBlock = 32 * 1024

// Write emits a single-part Cabinet file to w: a two-pass builder that
// first compresses every folder's concatenated file data and
// computes the resulting layout, then emits CFHEADER, CFFOLDER, CFFILE and
// CFDATA in one forward pass now that every offset is known.
func Write(w io.Writer, opts WriterOptions, folders []WriterFolder) error {
	type builtFolder struct {
		cabKind     factory.CABKind
		blocks      [][]byte // each already CFDATA-header-framed
		fileOffsets []uint32
	}

	built := make([]builtFolder, len(folders))
	for fi, wf := range folders {
		cabKind, ok := cabKindOf[wf.Kind]
		if !ok {
			return cerrors.New(cerrors.ArgumentError, "cab: %s cannot be used as a folder compression kind", wf.Kind)
		}

		var concatenated bytes.Buffer
		offsets := make([]uint32, len(wf.Files))
		for i, f := range wf.Files {
			offsets[i] = uint32(concatenated.Len())
			concatenated.Write(f.Data)
		}
		totalUncomp := concatenated.Len()

		var compressed bytes.Buffer
		comp, err := factory.NewCompressor(wf.Kind, &compressed, 0, codec.Options{WindowBits: wf.WindowBits})
		if err != nil {
			return err
		}
		if _, err := comp.Write(concatenated.Bytes()); err != nil {
			return cerrors.Wrap(cerrors.CompressionError, err, "cab: folder %d compression failed", fi)
		}
		if err := comp.Finish(); err != nil {
			return cerrors.Wrap(cerrors.CompressionError, err, "cab: folder %d flush failed", fi)
		}

		blocks, err := frameDataBlocks(compressed.Bytes(), totalUncomp)
		if err != nil {
			return err
		}
		built[fi] = builtFolder{cabKind: cabKind, blocks: blocks, fileOffsets: offsets}
	}

	numFolders := len(folders)
	numFiles := 0
	fileRecordsSize := 0
	for _, wf := range folders {
		numFiles += len(wf.Files)
		for _, f := range wf.Files {
			fileRecordsSize += 16 + len(f.Name) + 1
		}
	}
	coffFiles := headerSize + numFolders*8
	dataStart := coffFiles + fileRecordsSize
	totalSize := dataStart
	for _, bf := range built {
		for _, b := range bf.blocks {
			totalSize += len(b)
		}
	}

	hdr := header{
		Signature:    [4]byte{'M', 'S', 'C', 'F'},
		CBCabinet:    uint32(totalSize),
		COFFFiles:    uint32(coffFiles),
		VersionMinor: 3,
		VersionMajor: 1,
		CFolders:     uint16(numFolders),
		CFiles:       uint16(numFiles),
		SetID:        opts.SetID,
		ICabinet:     opts.ICabinet,
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return cerrors.Wrap(cerrors.IoError, err, "cab: write CFHEADER")
	}

	dataOffset := dataStart
	for fi, wf := range folders {
		bf := built[fi]
		rec := struct {
			COFFCabStart uint32
			CCFData      uint16
			TypeCompress uint16
		}{
			COFFCabStart: uint32(dataOffset),
			CCFData:      uint16(len(bf.blocks)),
			TypeCompress: uint16(bf.cabKind) | uint16(wf.WindowBits)<<paramShift,
		}
		if err := binary.Write(w, binary.LittleEndian, &rec); err != nil {
			return cerrors.Wrap(cerrors.IoError, err, "cab: write CFFOLDER %d", fi)
		}
		for _, b := range bf.blocks {
			dataOffset += len(b)
		}
	}

	for fi, wf := range folders {
		for i, f := range wf.Files {
			date, tm := timeToMsDos(f.ModTime)
			rec := struct {
				CBFile          uint32
				UOffFolderStart uint32
				IFolder         uint16
				Date            uint16
				Time            uint16
				Attribs         uint16
			}{
				CBFile:          uint32(len(f.Data)),
				UOffFolderStart: built[fi].fileOffsets[i],
				IFolder:         uint16(fi),
				Date:            date,
				Time:            tm,
				Attribs:         f.Attribs,
			}
			if err := binary.Write(w, binary.LittleEndian, &rec); err != nil {
				return cerrors.Wrap(cerrors.IoError, err, "cab: write CFFILE %q", f.Name)
			}
			if _, err := io.WriteString(w, f.Name); err != nil {
				return cerrors.Wrap(cerrors.IoError, err, "cab: write file name %q", f.Name)
			}
			if _, err := w.Write([]byte{0}); err != nil {
				return cerrors.Wrap(cerrors.IoError, err, "cab: write file name terminator")
			}
		}
	}

	for _, bf := range built {
		for _, b := range bf.blocks {
			if _, err := w.Write(b); err != nil {
				return cerrors.Wrap(cerrors.IoError, err, "cab: write CFDATA")
			}
		}
	}
	return nil
}

// frameDataBlocks slices an already-compressed stream into CFDATA
// records, each no larger than maxCompressedBlock bytes of payload, and
// apportions totalUncomp across them proportionally (see the
// maxCompressedBlock comment for why that's sound here).
func frameDataBlocks(compressed []byte, totalUncomp int) ([][]byte, error) {
	if len(compressed) == 0 {
		return nil, nil
	}
	var blocks [][]byte
	uncompRemaining := totalUncomp
	for off := 0; off < len(compressed); {
		end := off + maxCompressedBlock
		if end > len(compressed) {
			end = len(compressed)
		}
		payload := compressed[off:end]

		share := uncompRemaining
		if end < len(compressed) {
			share = len(payload) * totalUncomp / len(compressed)
			if share > 0xFFFF {
				share = 0xFFFF
			}
		}
		uncompRemaining -= share

		checksum := xor32Checksum(payload, uint32(len(payload))|uint32(share)<<16)
		var hdr [8]byte
		binary.LittleEndian.PutUint32(hdr[0:4], checksum)
		binary.LittleEndian.PutUint16(hdr[4:6], uint16(len(payload)))
		binary.LittleEndian.PutUint16(hdr[6:8], uint16(share))

		block := make([]byte, 0, 8+len(payload))
		block = append(block, hdr[:]...)
		block = append(block, payload...)
		blocks = append(blocks, block)
		off = end
	}
	return blocks, nil
}

// timeToMsDos is the inverse of msDosTimeToTime.
func timeToMsDos(t time.Time) (date, timeField uint16) {
	if t.IsZero() {
		t = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	y := t.Year()
	if y < 1980 {
		y = 1980
	}
	date = uint16((y-1980)<<9) | uint16(int(t.Month())<<5) | uint16(t.Day())
	timeField = uint16(t.Hour()<<11) | uint16(t.Minute()<<5) | uint16(t.Second()/2)
	return date, timeField
}
