package bitstream

import (
	"io"

	"github.com/dolansoft/cabriolet/cerrors"
)

// Writer is the mirror of Reader: it accumulates bits LSB-first or
// MSB-first and flushes whole bytes (LSB) or little-endian 16-bit words
// (MSB) to the underlying io.Writer.
type Writer struct {
	w     io.Writer
	acc   uint32
	nbits uint
	order Order
}

// NewWriter returns a Writer that writes to w in the given bit order.
func NewWriter(w io.Writer, order Order) *Writer {
	return &Writer{w: w, order: order}
}

// Write accumulates the low n bits of v (1<=n<=32), flushing whole units as
// they fill.
func (w *Writer) Write(n uint, v uint32) error {
	if n < 1 || n > 32 {
		return cerrors.New(cerrors.ArgumentError, "bitstream: write(%d) out of range", n)
	}
	if n < 32 {
		v &= (1 << n) - 1
	}
	if w.order == LSB {
		w.acc |= v << w.nbits
		w.nbits += n
		for w.nbits >= 8 {
			if err := w.emitByte(byte(w.acc)); err != nil {
				return err
			}
			w.acc >>= 8
			w.nbits -= 8
		}
		return nil
	}
	// MSB: new bits go into the low end, below what's already buffered.
	w.acc = (w.acc << n) | v
	w.nbits += n
	for w.nbits >= 16 {
		shift := w.nbits - 16
		word := uint16(w.acc >> shift)
		if err := w.emitWord(word); err != nil {
			return err
		}
		w.nbits -= 16
		if w.nbits > 0 {
			w.acc &= (1 << w.nbits) - 1
		} else {
			w.acc = 0
		}
	}
	return nil
}

func (w *Writer) emitByte(b byte) error {
	_, err := w.w.Write([]byte{b})
	if err != nil {
		return cerrors.Wrap(cerrors.IoError, err, "bitstream: write byte failed")
	}
	return nil
}

func (w *Writer) emitWord(v uint16) error {
	_, err := w.w.Write([]byte{byte(v), byte(v >> 8)})
	if err != nil {
		return cerrors.Wrap(cerrors.IoError, err, "bitstream: write word failed")
	}
	return nil
}

// Flush emits the remaining bits, zero-padded to the next byte (LSB) or
// next 16-bit word (MSB).
func (w *Writer) Flush() error {
	if w.nbits == 0 {
		return nil
	}
	if w.order == LSB {
		if err := w.emitByte(byte(w.acc)); err != nil {
			return err
		}
	} else {
		shift := uint(0)
		if w.nbits < 16 {
			shift = 16 - w.nbits
		}
		if err := w.emitWord(uint16(w.acc << shift)); err != nil {
			return err
		}
	}
	w.acc = 0
	w.nbits = 0
	return nil
}

// WriteRawByte flushes any pending bits first, then emits an unaligned raw
// byte directly (used for format signatures like MSZIP's "CK").
func (w *Writer) WriteRawByte(b byte) error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.emitByte(b)
}
