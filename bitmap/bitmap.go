package bitmap

import "math/bits"

const WordBits = 64

func Words(n int) []uint64 {
	return make([]uint64, (n+WordBits-1)/WordBits)
}

func Set(u []uint64, i int) bool {
	k, b := i/64, uint64(1)<<uint(i&63)
	v := u[k]
	if v&b == 0 {
		u[k] = v | b
		return true
	}
	return false
}

func Unset(u []uint64, i int) bool {
	k, b := i/64, uint64(1)<<uint(i&63)
	v := u[k]
	if v&b != 0 {
		u[k] = v ^ b
		return true
	}
	return false
}

func Has(u []uint64, i int) bool {
	return u[i/64]&(uint64(1)<<uint(i&63)) != 0
}

func Count(u []uint64) int {
	n := 0
	for _, w := range u {
		n += bits.OnesCount64(w)
	}
	return n
}

func mask(off uint, n int) uint64 {
	m := ^uint64(0)
	if n < 64 {
		m = uint64(1)<<uint(n) - 1
	}
	return m << off
}

func span(i, n int) (int, uint64) {
	off := uint(i & 63)
	m := 64 - int(off)
	if m > n {
		m = n
	}
	return m, mask(off, m)
}

func SetRun(u []uint64, i, n int) {
	for n > 0 {
		m, msk := span(i, n)
		u[i/64] |= msk
		i += m
		n -= m
	}
}

func UnsetRun(u []uint64, i, n int) {
	for n > 0 {
		m, msk := span(i, n)
		u[i/64] &^= msk
		i += m
		n -= m
	}
}

func AllSet(u []uint64, i, n int) bool {
	for n > 0 {
		m, msk := span(i, n)
		if u[i/64]&msk != msk {
			return false
		}
		i += m
		n -= m
	}
	return true
}

func AllUnset(u []uint64, i, n int) bool {
	return firstSet(u, i, i+n) < 0
}

func firstSet(u []uint64, i, end int) int {
	for i < end {
		m, msk := span(i, end-i)
		if w := u[i/64] & msk; w != 0 {
			return i/64*64 + bits.TrailingZeros64(w)
		}
		i += m
	}
	return -1
}

// FindUnsetRun searches first-fit for n clear bits starting at a multiple
// of align within [0, limit). Returns -1 when no such run exists.
func FindUnsetRun(u []uint64, limit, n, align int) int {
	if n <= 0 || align <= 0 {
		return -1
	}
	i := 0
	for {
		if r := i % align; r != 0 {
			i += align - r
		}
		if i+n > limit {
			return -1
		}
		j := firstSet(u, i, i+n)
		if j < 0 {
			return i
		}
		i = j + 1
	}
}
