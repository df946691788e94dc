// Package chm is the glue between a Compiled HTML Help (.chm) container's
// content stream and cabriolet's LZX codec. CHM's own directory format
// (ITSF/ITSP header, the PMGL/PMGI B-tree of named entries) is modeled only
// deep enough to reach the LZXC control data and the compressed content
// stream it describes — the rest of CHM's directory layout is an
// external collaborator's concern, not this package's.
package chm

import (
	"encoding/binary"
	"io"

	"github.com/dolansoft/cabriolet/cab"
	"github.com/dolansoft/cabriolet/cerrors"
	"github.com/dolansoft/cabriolet/codec"
	"github.com/dolansoft/cabriolet/codec/lzx"
)

var itsfMagic = [4]byte{'I', 'T', 'S', 'F'}

// LZXControlData is CHM's "LZXC" control block: it tells the reader how
// the content stream's compressed blocks were produced (reset_interval,
// window_size, and the rest of the LZXC fields).
type LZXControlData struct {
	WindowBits    int
	ResetInterval int
	// BlockSize is the uncompressed size of one reset interval's worth of
	// data, used to seek to the block containing a given uncompressed
	// offset without decompressing everything before it.
	BlockSize int64
}

var lzxcMagic = [4]byte{'L', 'Z', 'X', 'C'}

// ParseLZXControlData reads an LZXC control-data block (as found in CHM's
// "::DataSpace/Storage/MSCompressed/ControlData" stream).
func ParseLZXControlData(r io.Reader) (LZXControlData, error) {
	var raw struct {
		Size          uint32
		Magic         [4]byte
		Version       uint32
		ResetInterval uint32
		WindowSize    uint32
		CacheSize     uint32
		Unknown       uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return LZXControlData{}, cerrors.Wrap(cerrors.IoError, err, "chm: short LZXC control data")
	}
	if raw.Magic != lzxcMagic {
		return LZXControlData{}, cerrors.New(cerrors.SignatureError, "chm: bad LZXC magic %q", raw.Magic)
	}
	bits := 0
	for sz := raw.WindowSize; sz > 1; sz >>= 1 {
		bits++
	}
	return LZXControlData{
		WindowBits:    bits,
		ResetInterval: int(raw.ResetInterval),
		BlockSize:     int64(raw.ResetInterval) * 32 * 1024,
	}, nil
}

// ValidateITSFHeader checks the 4-byte ITSF signature at the start of a
// CHM file, the minimum needed to confirm data is in fact a CHM container
// before handing its content stream to the LZX codec.
func ValidateITSFHeader(r io.Reader) error {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return cerrors.Wrap(cerrors.IoError, err, "chm: short ITSF header")
	}
	if magic != itsfMagic {
		return cerrors.New(cerrors.SignatureError, "chm: bad ITSF magic %q", magic)
	}
	return nil
}

// NewContentDecompressor builds an LZX decompressor configured for a CHM
// content stream's reset-interval framing: ctrl.ResetInterval forces a
// fresh LZX decoder state every ctrl.ResetInterval 32 KB frames, the way
// CHM readers seek to the nearest reset point before decompressing
// forward to the requested offset. r is bounded to compressedSize bytes
// via cab.ExactReader so the LZX decoder's internal bit-refill can never
// read past the "::DataSpace/Storage/MSCompressed/Content" stream into
// whatever directory entry follows it.
func NewContentDecompressor(r io.Reader, w io.Writer, ctrl LZXControlData, compressedSize int64) (codec.Decompressor, error) {
	return lzx.New(cab.ExactReader(r, compressedSize), w, 0, codec.Options{
		WindowBits:    ctrl.WindowBits,
		ResetInterval: ctrl.ResetInterval,
	})
}

// NewContentCompressor builds the write-side counterpart of
// NewContentDecompressor.
func NewContentCompressor(w io.Writer, ctrl LZXControlData) (codec.Compressor, error) {
	return lzx.NewCompressor(w, 0, codec.Options{
		WindowBits:    ctrl.WindowBits,
		ResetInterval: ctrl.ResetInterval,
	})
}
