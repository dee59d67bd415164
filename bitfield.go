package framesync

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// BitValue extracts a bitCount-bit unsigned field starting at bit startBit of
// buf and returns it right-aligned. Bit 0 is the most significant bit of
// buf[0], and the first extracted bit becomes the most significant of the
// returned field.
//
// The field is read in two parts: the bits left in the byte holding startBit,
// then the trailing bits, which span zero or more following bytes. The
// trailing bytes are gathered into a 64-bit word as a little-endian load would
// see them. littleEndian asks for that word to be byte-swapped back into
// stream order before the unused low bits are shifted out; this is the
// ordinary MSB-first reading and the one callers want for packed bit streams.
// With littleEndian false the word is used unswapped, so the trailing bytes
// sit in its low end and only bits that reach the top of the word survive.
//
// bitCount must be in [1, 64], startBit must be non-negative and buf must hold
// every byte the field touches. BitValue panics otherwise.
func BitValue(buf []byte, startBit, bitCount int, littleEndian bool) uint64 {
	if bitCount < 1 || bitCount > 64 {
		panic(fmt.Sprintf("framesync: bit count %d out of range [1, 64]", bitCount))
	}

	if startBit < 0 {
		panic(fmt.Sprintf("framesync: negative start bit %d", startBit))
	}

	if startBit > 8*len(buf)-bitCount {
		panic(fmt.Sprintf("framesync: field of %d bits at bit %d outside %d-byte buffer",
			bitCount, startBit, len(buf)))
	}

	first := startBit / 8
	firstLen := min(8-startBit%8, bitCount)
	head := uint64(buf[first]<<(startBit%8)) >> (8 - firstLen)

	left := bitCount - firstLen
	if left == 0 {
		return head
	}

	var scratch [8]byte
	copy(scratch[:], buf[first+1:first+1+(left+7)/8])

	word := binary.LittleEndian.Uint64(scratch[:])
	if littleEndian {
		word = bits.ReverseBytes64(word)
	}

	word >>= 64 - left

	return head<<left | word
}

// Bits is BitValue in stream order.
func Bits(buf []byte, startBit, bitCount int) uint64 {
	return BitValue(buf, startBit, bitCount, true)
}

// Byteswap reverses the byte order of v.
func Byteswap[T constraints.Integer](v T) T {
	switch unsafe.Sizeof(v) {
	case 1:
		return v
	case 2:
		return T(bits.ReverseBytes16(uint16(v)))
	case 4:
		return T(bits.ReverseBytes32(uint32(v)))
	default:
		return T(bits.ReverseBytes64(uint64(v)))
	}
}
