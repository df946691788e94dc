// Package oab is the glue between Offline Address Book (.oab) per-block
// content and cabriolet's codec layer. OAB has no folder structure: each
// block carries its own flags (0 = raw, 1 = LZX), compressed/uncompressed
// sizes, and a CRC, and chooses its own codec independently of every
// other block.
package oab

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/dolansoft/cabriolet/cerrors"
	"github.com/dolansoft/cabriolet/codec"
	"github.com/dolansoft/cabriolet/codec/lzx"
)

// BlockFlag selects a block's own compression.
type BlockFlag uint32

const (
	BlockRaw BlockFlag = 0
	BlockLZX BlockFlag = 1
)

// BlockHeader is one OAB block's fixed preamble.
type BlockHeader struct {
	Flags            BlockFlag
	CompressedSize   uint32
	UncompressedSize uint32
	CRC              uint32
}

// ReadBlock reads one OAB block from r: its header, then exactly
// CompressedSize bytes of payload, decompressing through LZX when
// Flags==BlockLZX, and verifies the stored CRC32 against the decompressed
// content.
func ReadBlock(r io.Reader, windowBits int) ([]byte, error) {
	var raw struct {
		Flags            uint32
		CompressedSize   uint32
		UncompressedSize uint32
		CRC              uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return nil, cerrors.Wrap(cerrors.IoError, err, "oab: short block header")
	}
	payload := make([]byte, raw.CompressedSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, cerrors.Wrap(cerrors.IoError, err, "oab: short block payload")
	}

	var out []byte
	switch BlockFlag(raw.Flags) {
	case BlockRaw:
		out = payload
	case BlockLZX:
		decompressed, err := decompressLZXBlock(payload, int(raw.UncompressedSize), windowBits)
		if err != nil {
			return nil, err
		}
		out = decompressed
	default:
		return nil, cerrors.New(cerrors.UnsupportedFormatError, "oab: unknown block flag %d", raw.Flags)
	}

	if got := crc32.ChecksumIEEE(out); got != raw.CRC {
		return nil, cerrors.New(cerrors.ChecksumError, "oab: block CRC mismatch (got %08x want %08x)", got, raw.CRC)
	}
	return out, nil
}

func decompressLZXBlock(payload []byte, uncompressedSize, windowBits int) ([]byte, error) {
	var out bytes.Buffer
	dec, err := lzx.New(bytes.NewReader(payload), &out, 0, codec.Options{WindowBits: windowBits})
	if err != nil {
		return nil, err
	}
	dec.SetOutputLength(int64(uncompressedSize))
	if err := dec.Decompress(uncompressedSize); err != nil {
		return nil, cerrors.Wrap(cerrors.DecompressionError, err, "oab: block decompression failed")
	}
	return out.Bytes(), nil
}
