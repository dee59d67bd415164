package framesync

import "bytes"

// BitCmp reports whether the first len(input) bytes of input and base differ
// in at most allowErrorBits bits.
//
// With allowErrorBits <= 0 this is plain byte equality. Otherwise the bytes are
// XORed pairwise and the set bits counted through a lookup table; the scan
// stops as soon as the count exceeds allowErrorBits.
//
// BitCmp returns false when base is shorter than input.
func BitCmp(input, base []byte, allowErrorBits int) bool {
	if len(base) < len(input) {
		return false
	}

	base = base[:len(input)]

	if allowErrorBits <= 0 {
		return bytes.Equal(input, base)
	}

	count := 0
	for i, b := range input {
		count += int(bitSetCount[b^base[i]])
		if count > allowErrorBits {
			return false
		}
	}

	return true
}

// HammingDistance returns the number of differing bits between a and b.
// Bytes present in only one of the slices count as 8 differing bits each.
func HammingDistance(a, b []byte) int {
	n := min(len(a), len(b))

	count := 8 * (max(len(a), len(b)) - n)
	for i := range n {
		count += int(bitSetCount[a[i]^b[i]])
	}

	return count
}
