// Package lzss implements the 4 KB ring-buffer LZSS codec shared by SZDD,
// KWAJ and the HLP container. Three historical modes are supported,
// differing only in the window's initial fill byte, the minimum match
// length, and whether a terminator ends the stream.
package lzss

import (
	"bufio"
	"bytes"
	"io"

	"github.com/dolansoft/cabriolet/bitstream"
	"github.com/dolansoft/cabriolet/cerrors"
	"github.com/dolansoft/cabriolet/codec"
)

// Mode selects one of the three historical LZSS variants.
type Mode int

const (
	// ModeExpand is the SZDD / EXPAND.EXE variant.
	ModeExpand Mode = iota
	// ModeMSHelp is the older Windows Help (.hlp) variant.
	ModeMSHelp
	// ModeQBasic is the QBasic help-compiler variant, which terminates the
	// stream with an explicit zero position/length marker rather than
	// relying on EOF.
	ModeQBasic
)

const windowSize = 4096

func fillByte(Mode) byte { return 0x20 }

func minMatch(mode Mode) int {
	if mode == ModeQBasic {
		return 2
	}
	return 3
}

type state struct {
	r    *bitstream.Reader
	w    io.Writer
	mode Mode

	window [windowSize]byte
	pos    int // next write position in window (circular)
	done   bool

	flags    uint32 // current flag byte, already shifted past consumed items
	flagBits int    // items of the current flag byte not yet decoded

	// pending holds decoded bytes produced by a unit that ran past the
	// caller's requested n, to be flushed at the start of the next
	// Decompress call. The window always advances a whole literal/match
	// unit at a time even when the caller asked for fewer bytes.
	pending bytes.Buffer
}

// New constructs an LZSS Decompressor. opts.LZSSMode selects the variant.
func New(input io.Reader, output io.Writer, _ int, opts codec.Options) (codec.Decompressor, error) {
	mode := Mode(opts.LZSSMode)
	s := &state{
		r:    bitstream.NewReader(bufio.NewReader(input), bitstream.LSB),
		w:    output,
		mode: mode,
	}
	s.r.Salvage(opts.Salvage)
	s.fillWindow()
	return s, nil
}

func (s *state) fillWindow() {
	fb := fillByte(s.mode)
	for i := range s.window {
		s.window[i] = fb
	}
}

func (s *state) SetOutputLength(int64) {}

func (s *state) Reset() {
	s.fillWindow()
	s.pos = 0
	s.done = false
	s.flagBits = 0
	s.pending.Reset()
	s.r.Reset()
}

// produce appends a decoded byte to the ring buffer and the pending-output
// queue.
func (s *state) produce(b byte) {
	s.window[s.pos] = b
	s.pos = (s.pos + 1) % windowSize
	s.pending.WriteByte(b)
}

func (s *state) drain(remaining *int) error {
	if s.pending.Len() == 0 || *remaining == 0 {
		return nil
	}
	take := s.pending.Len()
	if take > *remaining {
		take = *remaining
	}
	if _, err := s.w.Write(s.pending.Next(take)); err != nil {
		return cerrors.Wrap(cerrors.IoError, err, "lzss: write failed")
	}
	*remaining -= take
	return nil
}

// Decompress emits exactly n more bytes of decompressed output.
func (s *state) Decompress(n int) error {
	min := minMatch(s.mode)
	remaining := n
	if err := s.drain(&remaining); err != nil {
		return err
	}
	for remaining > 0 {
		if s.done {
			return cerrors.New(cerrors.DecompressionError, "lzss: stream ended early, %d bytes short", remaining)
		}
		if s.flagBits == 0 {
			flags, err := s.r.Read(8)
			if err != nil {
				return err
			}
			s.flags, s.flagBits = flags, 8
		}
		for s.flagBits > 0 && s.pending.Len() < remaining {
			isLiteral := s.flags&1 == 1
			s.flags >>= 1
			s.flagBits--
			if isLiteral {
				b, err := s.r.Read(8)
				if err != nil {
					return err
				}
				s.produce(byte(b))
				continue
			}
			posv, err := s.r.Read(12)
			if err != nil {
				return err
			}
			lenv, err := s.r.Read(4)
			if err != nil {
				return err
			}
			if s.mode == ModeQBasic && posv == 0 && lenv == 0 {
				s.done = true
				break
			}
			matchLen := int(lenv) + min
			matchPos := int(posv)
			for i := 0; i < matchLen; i++ {
				s.produce(s.window[(matchPos+i)%windowSize])
			}
		}
		if err := s.drain(&remaining); err != nil {
			return err
		}
	}
	return nil
}

// compressor performs a greedy longest-match search over the same 4 KB ring
// the decompressor uses, buffering input so matches can reach back across
// Write call boundaries.
type compressor struct {
	w    *bitstream.Writer
	mode Mode

	window [windowSize]byte
	pos    int
	filled int // number of valid bytes currently in window, capped at windowSize

	buf []byte // unwritten input accumulated across Write calls
}

// NewCompressor constructs an LZSS Compressor.
func NewCompressor(output io.Writer, _ int, opts codec.Options) (codec.Compressor, error) {
	c := &compressor{
		w:    bitstream.NewWriter(output, bitstream.LSB),
		mode: Mode(opts.LZSSMode),
	}
	fb := fillByte(c.mode)
	for i := range c.window {
		c.window[i] = fb
	}
	return c, nil
}

// maxMatchLen returns the longest match the 4-bit length field can encode
// for the given mode's minimum match length.
func maxMatchLen(mode Mode) int { return minMatch(mode) + 15 }

// findMatch searches the window for the longest run matching data[0:] at or
// before the current position, returning (distance-as-absolute-window-pos,
// length). length is 0 if no match of at least min() bytes was found.
func (c *compressor) findMatch(data []byte) (int, int) {
	min := minMatch(c.mode)
	maxLookback := windowSize
	if c.filled < maxLookback {
		maxLookback = c.filled
	}
	maxLen := maxMatchLen(c.mode)
	if len(data) < maxLen {
		maxLen = len(data)
	}
	if maxLen < min {
		return 0, 0
	}
	bestLen, bestPos := 0, 0
	for back := 1; back <= maxLookback; back++ {
		start := (c.pos - back + windowSize*2) % windowSize
		l := 0
		for l < maxLen {
			// Past the current position the decoder copies bytes it has
			// just produced, which are the match's own leading bytes.
			wb := c.window[(start+l)%windowSize]
			if l >= back {
				wb = data[l-back]
			}
			if wb != data[l] {
				break
			}
			l++
		}
		if l > bestLen {
			bestLen = l
			bestPos = start
			if bestLen == maxLen {
				break
			}
		}
	}
	if bestLen < min {
		return 0, 0
	}
	return bestPos, bestLen
}

func (c *compressor) advance(b byte) {
	c.window[c.pos] = b
	c.pos = (c.pos + 1) % windowSize
	if c.filled < windowSize {
		c.filled++
	}
}

// encodeUnit emits one 8-item flag group, consuming as much of c.buf as the
// group covers, and returns how many input bytes were consumed.
func (c *compressor) encodeUnit() (int, error) {
	min := minMatch(c.mode)
	var flags byte
	type item struct {
		literal   bool
		b         byte
		pos, size int
	}
	var items []item
	consumed := 0
	for bit := 0; bit < 8 && consumed < len(c.buf); bit++ {
		rest := c.buf[consumed:]
		pos, size := c.findMatch(rest)
		if size >= min {
			flags |= 0 // match bit stays 0
			items = append(items, item{pos: pos, size: size})
			for i := 0; i < size; i++ {
				c.advance(rest[i])
			}
			consumed += size
		} else {
			flags |= 1 << uint(bit)
			items = append(items, item{literal: true, b: rest[0]})
			c.advance(rest[0])
			consumed++
		}
	}
	if len(items) == 0 {
		return 0, nil
	}
	if err := c.w.Write(8, uint32(flags)); err != nil {
		return consumed, cerrors.Wrap(cerrors.IoError, err, "lzss: write failed")
	}
	for _, it := range items {
		if it.literal {
			if err := c.w.Write(8, uint32(it.b)); err != nil {
				return consumed, cerrors.Wrap(cerrors.IoError, err, "lzss: write failed")
			}
			continue
		}
		if err := c.w.Write(12, uint32(it.pos)); err != nil {
			return consumed, cerrors.Wrap(cerrors.IoError, err, "lzss: write failed")
		}
		if err := c.w.Write(4, uint32(it.size-min)); err != nil {
			return consumed, cerrors.Wrap(cerrors.IoError, err, "lzss: write failed")
		}
	}
	return consumed, nil
}

// Write buffers p and greedily encodes complete units, holding back enough
// unencoded tail so a later match can still extend into bytes from the next
// Write call.
func (c *compressor) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	for len(c.buf) > maxMatchLen(c.mode) {
		n, err := c.encodeUnit()
		if err != nil {
			return len(p), err
		}
		if n == 0 {
			break
		}
		c.buf = c.buf[n:]
	}
	return len(p), nil
}

// Finish drains any remaining buffered bytes and, for ModeQBasic, appends
// the zero position/length terminator.
func (c *compressor) Finish() error {
	for len(c.buf) > 0 {
		n, err := c.encodeUnit()
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		c.buf = c.buf[n:]
	}
	if c.mode == ModeQBasic {
		// The terminator is a match item (flag bit clear) with a zero
		// position and length, so it is read by the same flags-then-item
		// loop the decoder uses for every other group rather than as a
		// freestanding value.
		if err := c.w.Write(8, 0); err != nil { // flags: single item, bit 0 = match
			return cerrors.Wrap(cerrors.IoError, err, "lzss: write failed")
		}
		if err := c.w.Write(12, 0); err != nil {
			return cerrors.Wrap(cerrors.IoError, err, "lzss: write failed")
		}
		if err := c.w.Write(4, 0); err != nil {
			return cerrors.Wrap(cerrors.IoError, err, "lzss: write failed")
		}
	}
	if err := c.w.Flush(); err != nil {
		return cerrors.Wrap(cerrors.IoError, err, "lzss: flush failed")
	}
	return nil
}
