// Package hlp is the glue between a Windows Help (.hlp) file's compressed
// topic data and cabriolet's LZSS codec. HLP's own directory of
// topics/contexts/phrases is an external collaborator's concern; this
// package only reaches the byte range each topic's compressed content
// lives in and hands it to LZSS in the MSHelp variant HLP uses.
package hlp

import (
	"bytes"
	"io"

	"github.com/dolansoft/cabriolet/codec"
	"github.com/dolansoft/cabriolet/codec/lzss"
)

// NewTopicDecompressor builds an LZSS decompressor for one HLP topic's
// compressed block.
func NewTopicDecompressor(r io.Reader, w io.Writer) (codec.Decompressor, error) {
	return lzss.New(r, w, 0, codec.Options{LZSSMode: int(lzss.ModeMSHelp)})
}

// NewTopicCompressor builds the write-side counterpart.
func NewTopicCompressor(w io.Writer) (codec.Compressor, error) {
	return lzss.NewCompressor(w, 0, codec.Options{LZSSMode: int(lzss.ModeMSHelp)})
}

// DecompressTopic is a convenience wrapper for the common case of
// decompressing one topic's block in a single call.
func DecompressTopic(data []byte, uncompressedLen int) ([]byte, error) {
	var out bytes.Buffer
	dec, err := NewTopicDecompressor(bytes.NewReader(data), &out)
	if err != nil {
		return nil, err
	}
	dec.SetOutputLength(int64(uncompressedLen))
	if err := dec.Decompress(uncompressedLen); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
