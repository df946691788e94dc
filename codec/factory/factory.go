// Package factory is the algorithm registry: it maps a category
// (decompressor or compressor) and a codec.Kind to the constructor that
// builds it, and normalizes the numeric CAB compression codes {0,1,2,3} the
// teacher's cab/cabfile.go switched on directly into symbolic codec.Kind
// values every other package uses.
package factory

import (
	"io"

	"github.com/dolansoft/cabriolet/cerrors"
	"github.com/dolansoft/cabriolet/codec"
	"github.com/dolansoft/cabriolet/codec/lzss"
	"github.com/dolansoft/cabriolet/codec/lzx"
	"github.com/dolansoft/cabriolet/codec/mszip"
	"github.com/dolansoft/cabriolet/codec/none"
	"github.com/dolansoft/cabriolet/codec/quantum"
)

// CABKind is the wire-level compression code stored in a CFFOLDER's
// TypeCompress low nibble.
type CABKind uint16

const (
	CABNone    CABKind = 0
	CABMSZIP   CABKind = 1
	CABQuantum CABKind = 2
	CABLZX     CABKind = 3
)

// KindFromCAB normalizes a CAB wire code to a symbolic codec.Kind.
func KindFromCAB(k CABKind) (codec.Kind, error) {
	switch k {
	case CABNone:
		return codec.None, nil
	case CABMSZIP:
		return codec.MSZIP, nil
	case CABQuantum:
		return codec.Quantum, nil
	case CABLZX:
		return codec.LZX, nil
	default:
		return "", cerrors.New(cerrors.UnsupportedFormatError, "factory: unknown CAB compression code %d", k)
	}
}

var decompressors = map[codec.Kind]codec.Constructor{
	codec.None:    none.New,
	codec.MSZIP:   mszip.New,
	codec.LZX:     lzx.New,
	codec.Quantum: quantum.New,
	codec.LZSS:    lzss.New,
}

var compressors = map[codec.Kind]codec.CompressorConstructor{
	codec.None:    none.NewCompressor,
	codec.MSZIP:   mszip.NewCompressor,
	codec.LZX:     lzx.NewCompressor,
	codec.LZSS:    lzss.NewCompressor,
	codec.Quantum: quantum.NewCompressor,
}

// NewDecompressor builds the Decompressor registered for kind.
func NewDecompressor(kind codec.Kind, input io.Reader, output io.Writer, bufSize int, opts codec.Options) (codec.Decompressor, error) {
	ctor, ok := decompressors[kind]
	if !ok {
		return nil, cerrors.New(cerrors.ArgumentError, "factory: no decompressor registered for %q", kind)
	}
	return ctor(input, output, bufSize, opts)
}

// NewCompressor builds the Compressor registered for kind.
func NewCompressor(kind codec.Kind, output io.Writer, bufSize int, opts codec.Options) (codec.Compressor, error) {
	ctor, ok := compressors[kind]
	if !ok {
		return nil, cerrors.New(cerrors.ArgumentError, "factory: no compressor registered for %q", kind)
	}
	return ctor(output, bufSize, opts)
}
