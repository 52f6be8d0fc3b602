// File: hpts/bitmap.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Slot occupancy bitmap.

package hpts

import "math/bits"

// bitmap marks wheel slots holding at least one live handle.
type bitmap []uint64

func newBitmap(n int) bitmap {
	return make(bitmap, (n+63)/64)
}

func (b bitmap) set(i int)       { b[i>>6] |= 1 << (uint(i) & 63) }
func (b bitmap) clear(i int)     { b[i>>6] &^= 1 << (uint(i) & 63) }
func (b bitmap) test(i int) bool { return b[i>>6]&(1<<(uint(i)&63)) != 0 }

// next returns the first set index at or after from, wrapping around, or -1.
func (b bitmap) next(from int) int {
	n := len(b)
	w := from >> 6
	low := uint64(1)<<(uint(from)&63) - 1
	if word := b[w] &^ low; word != 0 {
		return w<<6 + bits.TrailingZeros64(word)
	}
	for k := 1; k <= n; k++ {
		idx := (w + k) % n
		word := b[idx]
		if idx == w {
			word &= low
		}
		if word != 0 {
			return idx<<6 + bits.TrailingZeros64(word)
		}
	}
	return -1
}
