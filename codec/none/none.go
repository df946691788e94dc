// Package none implements the no-op codec: CAB folders stored with
// compression type 0 pass bytes straight through.
package none

import (
	"io"

	"github.com/dolansoft/cabriolet/cerrors"
	"github.com/dolansoft/cabriolet/codec"
)

type state struct {
	r      io.Reader
	w      io.Writer
	buf    []byte
}

// New constructs a passthrough Decompressor.
func New(input io.Reader, output io.Writer, bufSize int, _ codec.Options) (codec.Decompressor, error) {
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}
	return &state{r: input, w: output, buf: make([]byte, bufSize)}, nil
}

func (s *state) Decompress(n int) error {
	for n > 0 {
		chunk := len(s.buf)
		if chunk > n {
			chunk = n
		}
		rd, err := io.ReadFull(s.r, s.buf[:chunk])
		if rd > 0 {
			if _, werr := s.w.Write(s.buf[:rd]); werr != nil {
				return cerrors.Wrap(cerrors.IoError, werr, "none: write failed")
			}
		}
		if err != nil {
			return cerrors.Wrap(cerrors.IoError, err, "none: short read")
		}
		n -= chunk
	}
	return nil
}

func (s *state) SetOutputLength(int64) {}
func (s *state) Reset()                {}

type compressor struct {
	w io.Writer
}

// NewCompressor constructs a passthrough Compressor.
func NewCompressor(output io.Writer, _ int, _ codec.Options) (codec.Compressor, error) {
	return &compressor{w: output}, nil
}

func (c *compressor) Write(p []byte) (int, error) { return c.w.Write(p) }
func (c *compressor) Finish() error                { return nil }
