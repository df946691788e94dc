// Package mszip implements the MSZIP codec: a DEFLATE subset wrapped in CAB's
// "CK" frame signature, one frame per 32 KB (or folder-final partial) block.
// The window is preserved across frame boundaries by running each frame's
// DEFLATE stream with the previous frame's output as a preset dictionary —
// the same trick CAB's folder-data reader already uses for MS-ZIP folders.
package mszip

import (
	"bufio"
	"bytes"
	"io"

	"github.com/dolansoft/cabriolet/cerrors"
	"github.com/dolansoft/cabriolet/codec"
	"github.com/klauspost/compress/flate"
)

const frameSize = 32 * 1024

type state struct {
	r *bufio.Reader
	w io.Writer

	history bytes.Buffer // last frame's output, used as the next frame's dict
	fixErrs bool         // opts.FixMSZIP: pad remainder of a bad frame with zeros
	salvage bool
	pending []byte // decoded bytes of the current frame not yet written
}

// New constructs an MSZIP Decompressor. input is wrapped in a single
// persistent bufio.Reader: flate.NewReader only reads ahead past a frame's
// DEFLATE block when its input isn't an io.ByteReader, and that read-ahead
// is lost once the frame's flate.Reader is closed. Handing flate the same
// bufio.Reader across every frame means any over-read stays buffered for
// the next frame's io.ReadFull instead of being silently dropped.
func New(input io.Reader, output io.Writer, _ int, opts codec.Options) (codec.Decompressor, error) {
	return &state{r: bufio.NewReader(input), w: output, fixErrs: opts.FixMSZIP, salvage: opts.Salvage}, nil
}

func (s *state) SetOutputLength(int64) {}

func (s *state) Reset() {
	s.history.Reset()
	s.pending = nil
}

// readFrame consumes one "CK"-framed DEFLATE block and returns its decoded
// bytes, without trimming to n — the caller slices what it needs and stashes
// the remainder.
func (s *state) readFrame() ([]byte, error) {
	var sig [2]byte
	if _, err := io.ReadFull(s.r, sig[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, cerrors.Wrap(cerrors.IoError, err, "mszip: short read on frame signature")
	}
	if sig != [2]byte{'C', 'K'} {
		return nil, cerrors.New(cerrors.SignatureError, "mszip: bad frame signature %q", sig)
	}

	var fr *flate.Reader
	if s.history.Len() == 0 {
		fr = flate.NewReader(s.r)
	} else {
		fr = flate.NewReaderDict(s.r, s.history.Bytes())
	}
	defer fr.Close()

	out, err := io.ReadAll(io.LimitReader(fr, frameSize))
	if err != nil {
		if s.fixErrs || s.salvage {
			// Treat whatever was decoded before the fault as this frame's
			// entire contribution; the caller's accounting handles the
			// shortfall.
			return out, nil
		}
		return nil, cerrors.Wrap(cerrors.DecompressionError, err, "mszip: frame decode failed")
	}

	s.history.Reset()
	s.history.Write(out)
	return out, nil
}

func (s *state) Decompress(n int) error {
	for n > 0 {
		if len(s.pending) == 0 {
			frame, err := s.readFrame()
			if err == io.EOF {
				return cerrors.New(cerrors.DecompressionError, "mszip: stream ended %d bytes short", n)
			}
			if err != nil {
				return err
			}
			if len(frame) == 0 {
				return cerrors.New(cerrors.DecompressionError, "mszip: empty frame, %d bytes short", n)
			}
			s.pending = frame
		}
		take := len(s.pending)
		if take > n {
			take = n
		}
		if _, err := s.w.Write(s.pending[:take]); err != nil {
			return cerrors.Wrap(cerrors.IoError, err, "mszip: write failed")
		}
		s.pending = s.pending[take:]
		n -= take
	}
	return nil
}

// compressor frames each 32 KB chunk of input through klauspost/compress's
// DEFLATE encoder, carrying the previous frame as a preset dictionary the
// way the decoder expects.
type compressor struct {
	w       io.Writer
	history bytes.Buffer
	pending bytes.Buffer
}

// NewCompressor constructs an MSZIP Compressor.
func NewCompressor(output io.Writer, _ int, _ codec.Options) (codec.Compressor, error) {
	return &compressor{w: output}, nil
}

func (c *compressor) Write(p []byte) (int, error) {
	c.pending.Write(p)
	for c.pending.Len() >= frameSize {
		if err := c.flushFrame(frameSize); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (c *compressor) flushFrame(n int) error {
	chunk := c.pending.Next(n)
	if _, err := c.w.Write([]byte("CK")); err != nil {
		return cerrors.Wrap(cerrors.IoError, err, "mszip: write failed")
	}
	fw, err := flate.NewWriterDict(c.w, flate.BestCompression, c.history.Bytes())
	if err != nil {
		return cerrors.Wrap(cerrors.CompressionError, err, "mszip: flate writer init failed")
	}
	if _, err := fw.Write(chunk); err != nil {
		return cerrors.Wrap(cerrors.IoError, err, "mszip: write failed")
	}
	if err := fw.Close(); err != nil {
		return cerrors.Wrap(cerrors.IoError, err, "mszip: flush failed")
	}
	c.history.Reset()
	c.history.Write(chunk)
	return nil
}

func (c *compressor) Finish() error {
	if c.pending.Len() > 0 {
		if err := c.flushFrame(c.pending.Len()); err != nil {
			return err
		}
	}
	return nil
}
