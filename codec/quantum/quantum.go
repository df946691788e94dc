// Package quantum implements the Quantum codec: an adaptive arithmetic
// coder over seven context models (four literal buckets split by the high
// two bits of the byte, three match-position/length models) driving an
// LZ77 copy engine over a window of up to 2 MB. Decompression is the
// authoritative direction; see DESIGN.md for the compressor's scope.
package quantum

import (
	"io"

	"github.com/dolansoft/cabriolet/bitstream"
	"github.com/dolansoft/cabriolet/cerrors"
	"github.com/dolansoft/cabriolet/codec"
)

const frameSize = 32 * 1024

// model is an adaptive frequency table: syms[i] holds the symbol stored at
// slot i and cumFreq[i] holds the sum of every slot's frequency from i to
// the end, so cumFreq[0] is the model's total and cumFreq[numSyms] is the 0
// sentinel. Slots keep the order reset gives them; they are not re-sorted
// by frequency.
type model struct {
	numSyms int
	syms    []uint16
	cumFreq []uint16 // len numSyms+1
}

func newModel(numSyms int) *model {
	m := &model{numSyms: numSyms, syms: make([]uint16, numSyms), cumFreq: make([]uint16, numSyms+1)}
	m.reset()
	return m
}

// reset assigns symbols 0..numSyms-1 an initial frequency of 1 each, in
// ascending-symbol (descending-slot) order, matching the canonical Quantum
// initial model state.
func (m *model) reset() {
	for i := 0; i < m.numSyms; i++ {
		m.syms[i] = uint16(m.numSyms - 1 - i)
	}
	for i := 0; i <= m.numSyms; i++ {
		m.cumFreq[i] = uint16(m.numSyms - i)
	}
}

// update bumps the frequency of the symbol at slot idx by 8 (by adding 8 to
// every cumulative-frequency slot up to and including idx) and, once the
// total cumFreq[0] exceeds 3800, halves every frequency. There is no
// periodic full rebuild and no re-sort of slots by frequency.
func (m *model) update(idx int) {
	for i := 0; i <= idx; i++ {
		m.cumFreq[i] += 8
	}
	// Swap slots while cumFreq is out of order. Adding 8 to a prefix of a
	// non-increasing table keeps it in order, so this loop does not swap.
	for idx > 0 && m.cumFreq[idx-1] < m.cumFreq[idx] {
		m.syms[idx-1], m.syms[idx] = m.syms[idx], m.syms[idx-1]
		m.cumFreq[idx-1], m.cumFreq[idx] = m.cumFreq[idx]+(m.cumFreq[idx-1]-m.cumFreq[idx]), m.cumFreq[idx-1]
		idx--
	}
	if m.cumFreq[0] > 3800 {
		// Halve every frequency (keeping each slot at least 1), which keeps
		// the table non-degenerate and bounds cumFreq[0] again.
		freqs := make([]int, m.numSyms)
		for i := 0; i < m.numSyms; i++ {
			f := int(m.cumFreq[i]) - int(m.cumFreq[i+1])
			f -= f / 2
			if f < 1 {
				f = 1
			}
			freqs[i] = f
		}
		total := 0
		for i := m.numSyms - 1; i >= 0; i-- {
			total += freqs[i]
			m.cumFreq[i] = uint16(total)
		}
		m.cumFreq[m.numSyms] = 0
	}
}

// coder is the arithmetic decoder: H/L bounds and the bit source it reads
// raw bits from. Underflow (L and H agreeing on bit 14 but not bit 15) is
// handled by toggling bit 14 of C to match the encoder's inverted-bit
// emission, rather than by counting and re-reading extra bits.
type coder struct {
	r    *bitstream.Reader
	h, l, c uint32
}

func newCoder(r *bitstream.Reader) (*coder, error) {
	c := &coder{r: r, h: 0xFFFF, l: 0}
	v, err := c.r.Read(16)
	if err != nil {
		return nil, err
	}
	c.c = v
	return c, nil
}

func (c *coder) normalize() error {
	for {
		if (c.h^c.l)&0x8000 == 0 {
			// top bits agree: fall through to the shift below.
		} else if c.l&0x4000 != 0 && c.h&0x4000 == 0 {
			c.c ^= 0x4000
			c.l &= 0x3FFF
			c.h |= 0x4000
		} else {
			return nil
		}
		c.l = (c.l << 1) & 0xFFFF
		c.h = ((c.h << 1) | 1) & 0xFFFF
		v, err := c.r.Read(1)
		if err != nil {
			return err
		}
		c.c = ((c.c << 1) | v) & 0xFFFF
	}
}

// decode maps the coder's current state into a model slot index.
func (m *model) decodeSlot(c *coder) (int, error) {
	rng := c.h - c.l + 1
	total := uint32(m.cumFreq[0])
	target := ((c.c-c.l+1)*total - 1) / rng
	idx := 0
	for idx < m.numSyms-1 && uint32(m.cumFreq[idx+1]) > target {
		idx++
	}
	// Translate target back into [cumFreq[idx+1], cumFreq[idx]) bounds.
	newH := c.l + (rng*uint32(m.cumFreq[idx]))/total - 1
	newL := c.l + (rng*uint32(m.cumFreq[idx+1]))/total
	c.h, c.l = newH, newL
	if err := c.normalize(); err != nil {
		return 0, err
	}
	return idx, nil
}

func windowBound(w int, cap int) int {
	if w > cap {
		return cap
	}
	return w
}

const maxPositionSlots = 64

var posBase [maxPositionSlots]uint32
var posExtra [maxPositionSlots]byte

func init() {
	posExtra[0], posExtra[1], posExtra[2], posExtra[3] = 0, 0, 0, 0
	v := byte(1)
	for i := 4; i < maxPositionSlots; {
		posExtra[i] = v
		i++
		if i < maxPositionSlots {
			posExtra[i] = v
			i++
		}
		v++
	}
	posBase[0] = 0
	for i := 1; i < maxPositionSlots; i++ {
		posBase[i] = posBase[i-1] + (1 << posExtra[i-1])
	}
}

type state struct {
	r    *bitstream.Reader
	w    io.Writer
	opts codec.Options

	windowBits int
	window     []byte
	pos        int
	written    int // bytes already written to w; pos can run ahead of it
	outInFrame int

	m0, m1, m2, m3 *model
	m4, m5, m6     *model
	m6len          *model
	selector       *model

	c *coder
}

// New constructs a Quantum Decompressor. opts.WindowBits sets the window
// size exponent (10-21).
func New(input io.Reader, output io.Writer, _ int, opts codec.Options) (codec.Decompressor, error) {
	wb := opts.WindowBits
	if wb <= 0 {
		wb = 16
	}
	s := &state{
		r:          bitstream.NewReader(input, bitstream.MSB),
		w:          output,
		opts:       opts,
		windowBits: wb,
		window:     make([]byte, 1<<uint(wb)),
	}
	s.r.Salvage(opts.Salvage)
	s.resetModels()
	c, err := newCoder(s.r)
	if err != nil {
		return nil, err
	}
	s.c = c
	return s, nil
}

func (s *state) resetModels() {
	w2 := 2 * s.windowBits
	s.m0 = newModel(64)
	s.m1 = newModel(64)
	s.m2 = newModel(64)
	s.m3 = newModel(64)
	s.m4 = newModel(windowBound(w2, 24))
	s.m5 = newModel(windowBound(w2, 36))
	s.m6 = newModel(w2)
	s.m6len = newModel(27)
	s.selector = newModel(7)
}

func (s *state) SetOutputLength(int64) {}

func (s *state) Reset() {
	s.pos = 0
	s.written = 0
	s.outInFrame = 0
	s.resetModels()
}

// put stores a decoded byte in the window only; Decompress writes the
// requested n bytes out in one pass once decoding reaches the target
// position (see copyMatch).
func (s *state) put(b byte) {
	s.window[s.pos%len(s.window)] = b
	s.pos++
}

func (s *state) reframeIfNeeded() error {
	if s.outInFrame < frameSize {
		return nil
	}
	s.outInFrame = 0
	s.resetModels()
	if err := s.r.ByteAlign(); err != nil {
		return err
	}
	trailer, err := s.r.Read(8)
	if err != nil {
		return err
	}
	if trailer != 0xFF {
		return cerrors.New(cerrors.DecompressionError, "quantum: missing 0xFF frame trailer")
	}
	c, err := newCoder(s.r)
	if err != nil {
		return err
	}
	s.c = c
	return nil
}

func (s *state) literalModel(bucket int) *model {
	switch bucket {
	case 0:
		return s.m0
	case 1:
		return s.m1
	case 2:
		return s.m2
	default:
		return s.m3
	}
}

// copyMatch replays a back-reference of the given length into the window,
// same as put: it never writes to s.w directly, so a match whose length
// overruns the byte count Decompress was asked for doesn't overrun the
// output either — it only overruns how far ahead the window is filled,
// exactly as LZX's block decoder does.
func (s *state) copyMatch(pos, length int) error {
	if pos > s.pos {
		return cerrors.New(cerrors.DecompressionError, "quantum: match reaches before window start")
	}
	for i := 0; i < length; i++ {
		b := s.window[(s.pos-pos)%len(s.window)]
		s.put(b)
	}
	return nil
}

// Decompress emits exactly n more bytes. Decoding proceeds by whole
// literals/matches until at least n bytes are available in the window
// past the starting position — a match can decode past that boundary,
// but only the window fill overruns, not the write to w — then writes
// exactly the n bytes the caller asked for.
func (s *state) Decompress(n int) error {
	target := s.written + n
	for s.pos < target {
		if err := s.reframeIfNeeded(); err != nil {
			return err
		}
		selSlot, err := s.selector.decodeSlot(s.c)
		if err != nil {
			return err
		}
		sel := int(s.selector.syms[selSlot])
		s.selector.update(selSlot)

		switch {
		case sel <= 3:
			m := s.literalModel(sel)
			sym, err := m.decodeSlot(s.c)
			if err != nil {
				return err
			}
			m.update(sym)
			literal := byte((sel << 6) | int(m.syms[sym]))
			s.put(literal)
			s.outInFrame++
		case sel == 4:
			slot, err := s.m4.decodeSlot(s.c)
			if err != nil {
				return err
			}
			s.m4.update(slot)
			sym := int(s.m4.syms[slot])
			pos, err := s.readPosition(sym)
			if err != nil {
				return err
			}
			if err := s.copyMatch(pos, 3); err != nil {
				return err
			}
			s.outInFrame += 3
		case sel == 5:
			slot, err := s.m5.decodeSlot(s.c)
			if err != nil {
				return err
			}
			s.m5.update(slot)
			sym := int(s.m5.syms[slot])
			pos, err := s.readPosition(sym)
			if err != nil {
				return err
			}
			if err := s.copyMatch(pos, 4); err != nil {
				return err
			}
			s.outInFrame += 4
		default: // 6: length-carrying long match
			slot, err := s.m6.decodeSlot(s.c)
			if err != nil {
				return err
			}
			s.m6.update(slot)
			sym := int(s.m6.syms[slot])
			pos, err := s.readPosition(sym)
			if err != nil {
				return err
			}
			lslot, err := s.m6len.decodeSlot(s.c)
			if err != nil {
				return err
			}
			s.m6len.update(lslot)
			lsym := int(s.m6len.syms[lslot])
			length, err := s.readLength(lsym)
			if err != nil {
				return err
			}
			if err := s.copyMatch(pos, length); err != nil {
				return err
			}
			s.outInFrame += length
		}
	}
	for i := s.written; i < target; i++ {
		b := s.window[i%len(s.window)]
		if _, err := s.w.Write([]byte{b}); err != nil {
			return cerrors.Wrap(cerrors.IoError, err, "quantum: write failed")
		}
	}
	s.written = target
	return nil
}

func (s *state) readPosition(slot int) (int, error) {
	if slot >= maxPositionSlots {
		return 0, cerrors.New(cerrors.DecompressionError, "quantum: position slot %d out of range", slot)
	}
	extra := posExtra[slot]
	var bits uint32
	if extra > 0 {
		v, err := s.c.readRawBits(uint(extra))
		if err != nil {
			return 0, err
		}
		bits = v
	}
	return int(posBase[slot] + bits), nil
}

// lenBase/lenExtra follow the same doubling scheme as position slots, sized
// for 27 symbols representing match lengths of 5 and up (the 3- and
// 4-byte cases are handled directly by model4/model5 without a length
// side-channel).
var lenBase [27]int
var lenExtra [27]byte

func init() {
	lenExtra[0], lenExtra[1], lenExtra[2], lenExtra[3] = 0, 0, 0, 0
	v := byte(1)
	for i := 4; i < 27; {
		lenExtra[i] = v
		i++
		if i < 27 {
			lenExtra[i] = v
			i++
		}
		v++
	}
	lenBase[0] = 5
	for i := 1; i < 27; i++ {
		lenBase[i] = lenBase[i-1] + (1 << lenExtra[i-1])
	}
}

func (s *state) readLength(slot int) (int, error) {
	if slot >= len(lenBase) {
		return 0, cerrors.New(cerrors.DecompressionError, "quantum: length slot %d out of range", slot)
	}
	extra := lenExtra[slot]
	var bits uint32
	if extra > 0 {
		v, err := s.c.readRawBits(uint(extra))
		if err != nil {
			return 0, err
		}
		bits = v
	}
	return lenBase[slot] + int(bits), nil
}

// readRawBits pulls n raw bits directly off the bit source, bypassing the
// arithmetic coder — used for the verbatim extra-bit tails of position and
// length slots.
func (c *coder) readRawBits(n uint) (uint32, error) {
	return c.r.Read(n)
}

// slotOf returns the table slot currently holding sym (linear scan — every
// model here tops out in the low hundreds of symbols).
func (m *model) slotOf(sym uint16) int {
	for i, s := range m.syms {
		if s == sym {
			return i
		}
	}
	return 0
}

// encoder is the arithmetic encoder mirror of coder, with a pending-bit
// counter standing in for decode's toggle trick: shift out while H and L
// agree in bit 15 (emitting that bit), deferring underflow bits until the
// next emitted bit resolves which way they should have gone.
type encoder struct {
	w       *bitstream.Writer
	h, l    uint32
	pending int
}

func newEncoder(w *bitstream.Writer) *encoder {
	return &encoder{h: 0xFFFF, w: w}
}

func (e *encoder) emit(bit uint32) error {
	if err := e.w.Write(1, bit); err != nil {
		return cerrors.Wrap(cerrors.IoError, err, "quantum: write failed")
	}
	for e.pending > 0 {
		if err := e.w.Write(1, bit^1); err != nil {
			return cerrors.Wrap(cerrors.IoError, err, "quantum: write failed")
		}
		e.pending--
	}
	return nil
}

func (e *encoder) normalize() error {
	for {
		if (e.h^e.l)&0x8000 == 0 {
			if err := e.emit((e.h >> 15) & 1); err != nil {
				return err
			}
		} else if e.l&0x4000 != 0 && e.h&0x4000 == 0 {
			e.l &= 0x3FFF
			e.h |= 0x4000
			e.pending++
		} else {
			return nil
		}
		e.l = (e.l << 1) & 0xFFFF
		e.h = ((e.h << 1) | 1) & 0xFFFF
	}
}

func (e *encoder) encodeSlot(m *model, idx int) error {
	total := uint32(m.cumFreq[0])
	rng := e.h - e.l + 1
	newH := e.l + (rng*uint32(m.cumFreq[idx]))/total - 1
	newL := e.l + (rng*uint32(m.cumFreq[idx+1]))/total
	e.h, e.l = newH, newL
	return e.normalize()
}

func (e *encoder) finish() error {
	for i := 0; i < 16; i++ {
		if err := e.emit((e.l >> 15) & 1); err != nil {
			return err
		}
		e.l = (e.l << 1) & 0xFFFF
	}
	return nil
}

// compressor emits a valid Quantum stream containing literals only: no
// match search is performed. The format spends 8 bits of selector+literal
// coding per input byte rather than exploiting repeats, which round-trips
// correctly through the decompressor above but compresses poorly — see
// DESIGN.md for why full LZ77 match encoding was not attempted here.
type compressor struct {
	enc        *encoder
	bw         *bitstream.Writer
	windowBits int
	outInFrame int

	m0, m1, m2, m3 *model
	m4, m5, m6     *model
	m6len          *model
	selector       *model
}

// NewCompressor constructs a literals-only Quantum Compressor.
func NewCompressor(output io.Writer, _ int, opts codec.Options) (codec.Compressor, error) {
	wb := opts.WindowBits
	if wb <= 0 {
		wb = 16
	}
	bw := bitstream.NewWriter(output, bitstream.MSB)
	c := &compressor{bw: bw, windowBits: wb}
	c.resetModels()
	c.enc = newEncoder(bw)
	return c, nil
}

func (c *compressor) resetModels() {
	w2 := 2 * c.windowBits
	c.m0 = newModel(64)
	c.m1 = newModel(64)
	c.m2 = newModel(64)
	c.m3 = newModel(64)
	c.m4 = newModel(windowBound(w2, 24))
	c.m5 = newModel(windowBound(w2, 36))
	c.m6 = newModel(w2)
	c.m6len = newModel(27)
	c.selector = newModel(7)
}

func (c *compressor) literalModel(bucket int) *model {
	switch bucket {
	case 0:
		return c.m0
	case 1:
		return c.m1
	case 2:
		return c.m2
	default:
		return c.m3
	}
}

func (c *compressor) Write(p []byte) (int, error) {
	for _, b := range p {
		if c.outInFrame >= frameSize {
			if err := c.enc.finish(); err != nil {
				return 0, err
			}
			if err := c.bw.Flush(); err != nil {
				return 0, cerrors.Wrap(cerrors.IoError, err, "quantum: flush failed")
			}
			if err := c.bw.WriteRawByte(0xFF); err != nil {
				return 0, cerrors.Wrap(cerrors.IoError, err, "quantum: write failed")
			}
			c.resetModels()
			c.enc = newEncoder(c.bw)
			c.outInFrame = 0
		}
		bucket := int(b >> 6)
		sym := uint16(b & 0x3F)
		m := c.literalModel(bucket)
		idx := m.slotOf(sym)
		if err := c.selectorEncode(bucket); err != nil {
			return 0, err
		}
		if err := c.enc.encodeSlot(m, idx); err != nil {
			return 0, err
		}
		m.update(idx)
		c.outInFrame++
	}
	return len(p), nil
}

func (c *compressor) selectorEncode(bucket int) error {
	idx := c.selector.slotOf(uint16(bucket))
	if err := c.enc.encodeSlot(c.selector, idx); err != nil {
		return err
	}
	c.selector.update(idx)
	return nil
}

func (c *compressor) Finish() error {
	if err := c.enc.finish(); err != nil {
		return err
	}
	return c.bw.Flush()
}
