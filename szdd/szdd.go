// Package szdd implements the single-file SZDD and KWAJ compressors: a
// small fixed header in front of one LZSS-compressed stream, with no
// folder/block structure to speak of. Both formats share codec/lzss as
// their payload codec; this package is just the header glue, the way
// cab/cab.go is CFHEADER/CFFOLDER/CFFILE glue around the same shared
// codec layer.
package szdd

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/dolansoft/cabriolet/cerrors"
	"github.com/dolansoft/cabriolet/codec"
	"github.com/dolansoft/cabriolet/codec/lzss"
)

var szddMagic = [8]byte{'S', 'Z', 'D', 'D', 0x88, 0xF0, 0x27, 0x33}
var szddQBasicMagic = [8]byte{'S', 'Z', 'D', ' ', 0x88, 0xF0, 0x27, 0x33}

const szddCompMode = 0x41

// Header is the fixed SZDD preamble: magic, compression mode, the
// "missing character" (the byte the original filename's last character is
// replaced with on disk, mirroring DOS 8.3 compressed-file naming), and the
// uncompressed length.
type Header struct {
	QBasic        bool
	MissingChar   byte
	UncompressedLen uint32
}

// Decompress reads an SZDD stream from r and writes its decompressed
// content to w, returning the parsed header.
func Decompress(r io.Reader, w io.Writer) (Header, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return Header{}, cerrors.Wrap(cerrors.IoError, err, "szdd: short magic")
	}
	var hdr Header
	switch magic {
	case szddMagic:
		hdr.QBasic = false
	case szddQBasicMagic:
		hdr.QBasic = true
		var trailer byte
		if err := binary.Read(r, binary.LittleEndian, &trailer); err != nil {
			return Header{}, cerrors.Wrap(cerrors.IoError, err, "szdd: short QBasic trailer byte")
		}
		if trailer != 0xD1 {
			return Header{}, cerrors.New(cerrors.FormatError, "szdd: unexpected QBasic trailer byte 0x%02x", trailer)
		}
	default:
		return Header{}, cerrors.New(cerrors.SignatureError, "szdd: bad magic %x", magic)
	}

	var rest struct {
		CompMode    byte
		MissingChar byte
		UncompLen   uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &rest); err != nil {
		return Header{}, cerrors.Wrap(cerrors.IoError, err, "szdd: short header tail")
	}
	if rest.CompMode != szddCompMode {
		return Header{}, cerrors.New(cerrors.FormatError, "szdd: unsupported comp_mode 0x%02x", rest.CompMode)
	}
	hdr.MissingChar = rest.MissingChar
	hdr.UncompressedLen = rest.UncompLen

	dec, err := lzss.New(r, w, 0, codec.Options{LZSSMode: int(lzss.ModeExpand)})
	if err != nil {
		return Header{}, err
	}
	dec.SetOutputLength(int64(rest.UncompLen))
	if err := dec.Decompress(int(rest.UncompLen)); err != nil {
		return Header{}, cerrors.Wrap(cerrors.DecompressionError, err, "szdd: payload decompression failed")
	}
	return hdr, nil
}

// Compress writes data as an SZDD stream to w. missingChar is the byte
// recorded for the truncated final character of the original filename (the
// convention EXPAND.EXE relies on to recover it); QBasic selects the
// alternate "SZD " magic with its trailing 0xD1 byte.
func Compress(w io.Writer, data []byte, missingChar byte, qbasic bool) error {
	magic := szddMagic
	if qbasic {
		magic = szddQBasicMagic
	}
	if _, err := w.Write(magic[:]); err != nil {
		return cerrors.Wrap(cerrors.IoError, err, "szdd: write magic")
	}
	if qbasic {
		if _, err := w.Write([]byte{0xD1}); err != nil {
			return cerrors.Wrap(cerrors.IoError, err, "szdd: write QBasic trailer byte")
		}
	}
	tail := struct {
		CompMode    byte
		MissingChar byte
		UncompLen   uint32
	}{CompMode: szddCompMode, MissingChar: missingChar, UncompLen: uint32(len(data))}
	if err := binary.Write(w, binary.LittleEndian, &tail); err != nil {
		return cerrors.Wrap(cerrors.IoError, err, "szdd: write header tail")
	}

	comp, err := lzss.NewCompressor(w, 0, codec.Options{LZSSMode: int(lzss.ModeExpand)})
	if err != nil {
		return err
	}
	if _, err := comp.Write(data); err != nil {
		return cerrors.Wrap(cerrors.CompressionError, err, "szdd: payload compression failed")
	}
	return comp.Finish()
}

const (
	kwajFlagHasLength    uint16 = 0x01
	kwajFlagUnknown1     uint16 = 0x02
	kwajFlagUnknown2     uint16 = 0x04
	kwajFlagHasFilename  uint16 = 0x08
	kwajFlagHasExtension uint16 = 0x10
	kwajFlagHasExtraText uint16 = 0x20
)

// CompMethod is KWAJ's comp_method field. 0 means stored (no compression);
// 3 selects the LZSS QBasic-help variant cabriolet uses for everything
// else KWAJ carries.
type CompMethod uint16

const (
	KWAJNone CompMethod = 0
	KWAJLZSS CompMethod = 3
)

var kwajMagic = [8]byte{'K', 'W', 'A', 'J', 0x88, 0xF0, 0x27, 0xD1}

// KWAJHeader is KWAJ's 14-byte base header plus whichever optional fields
// its flags select.
type KWAJHeader struct {
	Method     CompMethod
	DataOffset uint16
	Flags      uint16

	UncompressedLen uint32
	Filename        string
	Extension       string
	ExtraText       string
}

// DecompressKWAJ reads a KWAJ stream from r and writes its decompressed
// content to w.
func DecompressKWAJ(r io.Reader, w io.Writer) (KWAJHeader, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return KWAJHeader{}, cerrors.Wrap(cerrors.IoError, err, "kwaj: short magic")
	}
	if magic != kwajMagic {
		return KWAJHeader{}, cerrors.New(cerrors.SignatureError, "kwaj: bad magic %x", magic)
	}

	var base struct {
		Method     uint16
		DataOffset uint16
		Flags      uint16
	}
	if err := binary.Read(r, binary.LittleEndian, &base); err != nil {
		return KWAJHeader{}, cerrors.Wrap(cerrors.IoError, err, "kwaj: short base header")
	}
	hdr := KWAJHeader{Method: CompMethod(base.Method), DataOffset: base.DataOffset, Flags: base.Flags}

	if hdr.Flags&kwajFlagHasLength != 0 {
		if err := binary.Read(r, binary.LittleEndian, &hdr.UncompressedLen); err != nil {
			return KWAJHeader{}, cerrors.Wrap(cerrors.IoError, err, "kwaj: short uncompressed-length field")
		}
	}
	for _, unknownFlag := range []uint16{kwajFlagUnknown1, kwajFlagUnknown2} {
		if hdr.Flags&unknownFlag != 0 {
			var skip uint16
			if err := binary.Read(r, binary.LittleEndian, &skip); err != nil {
				return KWAJHeader{}, cerrors.Wrap(cerrors.IoError, err, "kwaj: short unknown field")
			}
		}
	}
	if hdr.Flags&kwajFlagHasFilename != 0 {
		s, err := readNullTerminated(r)
		if err != nil {
			return KWAJHeader{}, cerrors.Wrap(cerrors.IoError, err, "kwaj: short filename field")
		}
		hdr.Filename = s
	}
	if hdr.Flags&kwajFlagHasExtension != 0 {
		s, err := readNullTerminated(r)
		if err != nil {
			return KWAJHeader{}, cerrors.Wrap(cerrors.IoError, err, "kwaj: short extension field")
		}
		hdr.Extension = s
	}
	if hdr.Flags&kwajFlagHasExtraText != 0 {
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return KWAJHeader{}, cerrors.Wrap(cerrors.IoError, err, "kwaj: short extra-text length")
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return KWAJHeader{}, cerrors.Wrap(cerrors.IoError, err, "kwaj: short extra-text field")
		}
		hdr.ExtraText = string(buf)
	}

	switch hdr.Method {
	case KWAJNone:
		if _, err := io.Copy(w, r); err != nil {
			return KWAJHeader{}, cerrors.Wrap(cerrors.IoError, err, "kwaj: stored-copy failed")
		}
	case KWAJLZSS:
		dec, err := lzss.New(r, w, 0, codec.Options{LZSSMode: int(lzss.ModeQBasic)})
		if err != nil {
			return KWAJHeader{}, err
		}
		if hdr.Flags&kwajFlagHasLength == 0 {
			return KWAJHeader{}, cerrors.New(cerrors.ArgumentError, "kwaj: LZSS payload without a declared uncompressed length")
		}
		dec.SetOutputLength(int64(hdr.UncompressedLen))
		if err := dec.Decompress(int(hdr.UncompressedLen)); err != nil {
			return KWAJHeader{}, cerrors.Wrap(cerrors.DecompressionError, err, "kwaj: payload decompression failed")
		}
	default:
		return KWAJHeader{}, cerrors.New(cerrors.UnsupportedFormatError, "kwaj: unsupported comp_method %d", hdr.Method)
	}
	return hdr, nil
}

func readNullTerminated(r io.Reader) (string, error) {
	var buf bytes.Buffer
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return buf.String(), nil
		}
		buf.WriteByte(b[0])
	}
}
