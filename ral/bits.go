package ral

import "math/big"

var bigOne = big.NewInt(1)

// maxValue returns 2^width - 1.
func maxValue(width uint) *big.Int {
	v := new(big.Int).Lsh(bigOne, width)
	return v.Sub(v, bigOne)
}

// bitmask returns a value with bits [low, high] set.
func bitmask(low, high uint) *big.Int {
	m := maxValue(high - low + 1)
	return m.Lsh(m, low)
}

// swapBitOrder reverses the order of the lowest width bits of value: bit i moves to bit
// width-1-i. Bits above width are dropped.
func swapBitOrder(value *big.Int, width uint) *big.Int {
	out := new(big.Int)
	for i := uint(0); i < width; i++ {
		if value.Bit(int(i)) != 0 {
			out.SetBit(out, int(width-1-i), 1)
		}
	}
	return out
}

// inRange reports whether 0 <= v <= max.
func inRange(v, max *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(max) <= 0
}
