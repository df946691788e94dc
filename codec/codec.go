// Package codec defines the capability every compression algorithm in
// cabriolet presents to its callers — a Decompressor and, where supported,
// a Compressor — so the CAB container and the algorithm factory (see
// codec/factory) can drive MSZIP, LZX, Quantum, LZSS and the no-op "none"
// codec through one interface, with no runtime class hierarchy needed.
package codec

import "io"

// Kind identifies a compression algorithm, independent of the numeric CAB
// code used on the wire (see codec/factory for that mapping).
type Kind string

const (
	None    Kind = "none"
	MSZIP   Kind = "mszip"
	Quantum Kind = "quantum"
	LZX     Kind = "lzx"
	LZSS    Kind = "lzss"
)

// Options carries algorithm-specific parameters (LZX/Quantum window bits,
// LZSS mode, reset interval, Intel E8 translation, ...). Each codec package
// documents which fields it reads.
type Options struct {
	// WindowBits is the LZX/Quantum window size exponent (log2 of the
	// window size in bytes).
	WindowBits int
	// LZSSMode selects among LZSS's three historical modes.
	LZSSMode int
	// ResetInterval is the number of 32 KB frames between forced
	// decoder-state resets (LZX, used by CHM). Zero means never.
	ResetInterval int
	// IntelE8 enables the LZX call-translation pre/post pass.
	IntelE8 bool
	// IntelFileSize bounds the region the E8 pass is allowed to touch.
	IntelFileSize int64
	// Salvage enables best-effort recovery: EOF and many internal errors
	// degrade to zero-padding / partial output rather than failing.
	Salvage bool
	// FixMSZIP converts in-frame MSZIP errors into zero-padding of the
	// remainder of that frame, independent of the general Salvage flag.
	FixMSZIP bool
}

// Decompressor is the read side every codec implements. Decompress(n)
// extends the output by exactly n bytes if available; internal state (the
// sliding window, repeat-offset registers, arithmetic-coder bounds, ...)
// survives across calls, which is what lets the CAB extractor reuse one
// codec state across every file in a folder.
type Decompressor interface {
	// Decompress writes exactly n bytes of decompressed output, or returns
	// an error. Calling it repeatedly continues from where the previous
	// call left off.
	Decompress(n int) error
	// SetOutputLength bounds the total number of bytes the stream will
	// ever produce, needed by LZX's Intel E8 pass and useful for early
	// truncation checks elsewhere.
	SetOutputLength(total int64)
	// Reset clears accumulated codec state (window, trees, registers) back
	// to its just-constructed form, without reallocating buffers.
	Reset()
}

// Compressor is the write side. Not every codec supports it fully: LZX
// compression today emits only uncompressed blocks, and Quantum
// compression is best-effort beyond short matches (see DESIGN.md).
type Compressor interface {
	// Write compresses p, appending to the encoded output stream.
	Write(p []byte) (int, error)
	// Finish flushes any buffered state and terminates the stream.
	Finish() error
}

// Constructor builds a new codec state bound to an input reader and output
// writer, parameterised by Options and a scratch buffer size.
type Constructor func(input io.Reader, output io.Writer, bufSize int, opts Options) (Decompressor, error)

// CompressorConstructor builds a new compressor state bound to an output
// writer.
type CompressorConstructor func(output io.Writer, bufSize int, opts Options) (Compressor, error)
