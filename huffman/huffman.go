// Package huffman builds canonical Huffman decode tables and provides a
// fast two-level decoder: a direct lookup for codes no longer than
// table_bits, and a linked overflow trie, walked one bit at a time, for
// longer codes. Code lengths are interpreted MSB-first — the first
// transmitted bit of a code is the most significant bit of the table index
// — matching the convention LZX and Quantum's bitstreams already use
// natively. codec/mszip does not use this package: it inflates through
// klauspost/compress/flate.
package huffman

import (
	"github.com/dolansoft/cabriolet/cerrors"
)

const (
	// invalid marks an unused overflow trie slot.
	invalid = 0xFFFF
	// MaxCodeLen is the longest canonical code length cabriolet's codecs use
	// (LZX's trees top out at 16 bits).
	MaxCodeLen = 16
)

// BitSource is the minimal capability Decode needs: peek n bits without
// consuming them, and skip n already-peeked bits. bitstream.Reader
// implements this directly in MSB mode.
type BitSource interface {
	Peek(n uint) (uint32, error)
	Skip(n uint) error
}

// Table is a built canonical-Huffman decode table.
type Table struct {
	lengths    []byte
	tableBits  uint
	maxLen     byte
	numSymbols int
	direct     []uint16 // size 1<<tableBits
	overflow   []uint16 // pairs: overflow[2i], overflow[2i+1]
}

// Build constructs a Table from per-symbol code lengths (0 = symbol unused,
// up to MaxCodeLen). tableBits controls the size of the direct lookup
// (commonly 8-9 for large trees, or maxLen itself for small ones — in
// which case there is no overflow region at all).
func Build(lengths []byte, tableBits uint) (*Table, error) {
	var maxLen byte
	var count [MaxCodeLen + 1]int
	for _, l := range lengths {
		if l > MaxCodeLen {
			return nil, cerrors.New(cerrors.DecompressionError, "huffman: code length %d exceeds %d", l, MaxCodeLen)
		}
		count[l]++
		if l > maxLen {
			maxLen = l
		}
	}
	t := &Table{lengths: lengths, tableBits: tableBits, maxLen: maxLen, numSymbols: len(lengths)}
	if maxLen == 0 {
		t.direct = make([]uint16, 1<<tableBits)
		for i := range t.direct {
			t.direct[i] = invalid
		}
		return t, nil
	}
	if tableBits > uint(maxLen) {
		tableBits = uint(maxLen)
		t.tableBits = tableBits
	}

	// Kraft inequality: sum(2^(maxLen-len)) <= 2^maxLen for a valid set of
	// lengths (equality for a complete code).
	var kraft int64
	for l, c := range count {
		if l == 0 || c == 0 {
			continue
		}
		kraft += int64(c) << uint(int(maxLen)-l)
	}
	if kraft > int64(1)<<uint(maxLen) {
		return nil, cerrors.New(cerrors.DecompressionError, "huffman: lengths violate Kraft inequality")
	}

	// First canonical code per length.
	var firstCode [MaxCodeLen + 1]uint32
	code := uint32(0)
	for l := 1; l <= int(maxLen); l++ {
		code <<= 1
		firstCode[l] = code
		code += uint32(count[l])
	}

	direct := make([]uint16, 1<<tableBits)
	for i := range direct {
		direct[i] = invalid
	}
	var overflow []uint16

	nextCode := firstCode
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		c := nextCode[l]
		nextCode[l]++
		if uint(l) <= tableBits {
			// Direct entry: fill every suffix extension of the remaining
			// (tableBits - l) low bits.
			prefix := c << (tableBits - uint(l))
			span := uint32(1) << (tableBits - uint(l))
			for s := uint32(0); s < span; s++ {
				direct[prefix+s] = uint16(sym)
			}
			continue
		}
		// Overflow: walk/create trie nodes for each bit beyond tableBits.
		prefix := c >> (uint(l) - tableBits)
		if direct[prefix] == invalid {
			nodeIdx := len(overflow) / 2
			overflow = append(overflow, invalid, invalid)
			direct[prefix] = uint16(t.numSymbols + nodeIdx)
		}
		nodeIdx := int(direct[prefix]) - t.numSymbols
		for bitPos := uint(l) - tableBits; bitPos > 1; bitPos-- {
			bit := (c >> (bitPos - 1)) & 1
			slot := 2*nodeIdx + int(bit)
			if overflow[slot] == invalid {
				childIdx := len(overflow) / 2
				overflow = append(overflow, invalid, invalid)
				overflow[slot] = uint16(t.numSymbols + childIdx)
			}
			nodeIdx = int(overflow[slot]) - t.numSymbols
		}
		bit := c & 1
		overflow[2*nodeIdx+int(bit)] = uint16(sym)
	}

	t.direct = direct
	t.overflow = overflow
	return t, nil
}

// Decode reads one symbol from src using the fast two-level table.
func (t *Table) Decode(src BitSource) (int, error) {
	if t.maxLen == 0 {
		return 0, cerrors.New(cerrors.DecompressionError, "huffman: decode from empty table")
	}
	p, err := src.Peek(t.tableBits)
	if err != nil {
		return 0, err
	}
	entry := t.direct[p]
	if entry == invalid {
		return 0, cerrors.New(cerrors.DecompressionError, "huffman: invalid code")
	}
	if int(entry) < t.numSymbols {
		if err := src.Skip(uint(t.lengths[entry])); err != nil {
			return 0, err
		}
		return int(entry), nil
	}

	nodeIdx := int(entry) - t.numSymbols
	bitPos := t.tableBits
	for {
		bitPos++
		if bitPos > MaxCodeLen {
			return 0, cerrors.New(cerrors.DecompressionError, "huffman: code too long")
		}
		pk, err := src.Peek(bitPos)
		if err != nil {
			return 0, err
		}
		bit := pk & 1
		slot := 2*nodeIdx + int(bit)
		next := t.overflow[slot]
		if next == invalid {
			return 0, cerrors.New(cerrors.DecompressionError, "huffman: invalid code")
		}
		if int(next) < t.numSymbols {
			if err := src.Skip(bitPos); err != nil {
				return 0, err
			}
			return int(next), nil
		}
		nodeIdx = int(next) - t.numSymbols
	}
}

// DecodeBitByBit is an independent, non-table-driven canonical decoder used
// to cross-check Decode's fast path in tests: the built Huffman table's
// fast decode must return the same symbol as this bit-by-bit walk.
func DecodeBitByBit(lengths []byte, src BitSource) (int, error) {
	var maxLen byte
	var count [MaxCodeLen + 1]int
	for _, l := range lengths {
		count[l]++
		if l > maxLen {
			maxLen = l
		}
	}
	var firstCode [MaxCodeLen + 1]uint32
	code := uint32(0)
	for l := 1; l <= int(maxLen); l++ {
		code <<= 1
		firstCode[l] = code
		code += uint32(count[l])
	}
	// Build code -> symbol map per length for a direct (slow) comparison.
	codeOf := make(map[[2]uint32]int) // [length, code] -> symbol
	next := firstCode
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		codeOf[[2]uint32{uint32(l), next[l]}] = sym
		next[l]++
	}

	var acc uint32
	for l := uint32(1); l <= uint32(maxLen); l++ {
		pk, err := src.Peek(uint(l))
		if err != nil {
			return 0, err
		}
		acc = pk
		if sym, ok := codeOf[[2]uint32{l, acc}]; ok {
			if err := src.Skip(uint(l)); err != nil {
				return 0, err
			}
			return sym, nil
		}
	}
	return 0, cerrors.New(cerrors.DecompressionError, "huffman: no matching code")
}
