// Package bitvec is a fixed-size bit vector tracking active line slots.
package bitvec

import "github.com/bits-and-blooms/bitset"

// Vec holds n bits.
type Vec struct {
	bs *bitset.BitSet
	n  int
}

// New returns a zeroed vector of n bits.
func New(n int) *Vec {
	return &Vec{bs: bitset.New(uint(n)), n: n}
}

// Len returns the number of bits.
func (v *Vec) Len() int { return v.n }

func (v *Vec) Set(i int) { v.bs.Set(uint(i)) }

func (v *Vec) Clear(i int) { v.bs.Clear(uint(i)) }

func (v *Vec) Test(i int) bool { return i >= 0 && v.bs.Test(uint(i)) }

// Reset clears every bit.
func (v *Vec) Reset() { v.bs.ClearAll() }

// Count returns the number of set bits.
func (v *Vec) Count() int { return int(v.bs.Count()) }

// Next returns the index of the first set bit at or after i, or -1.
func (v *Vec) Next(i int) int {
	if i < 0 {
		i = 0
	}
	if i >= v.n {
		return -1
	}
	next, ok := v.bs.NextSet(uint(i))
	if !ok {
		return -1
	}
	return int(next)
}

// Nth returns the index of the n-th (0-based) set bit, or -1.
func (v *Vec) Nth(n int) int {
	if n < 0 || n >= v.Count() {
		return -1
	}
	return int(v.bs.Select(uint(n)))
}

// Each calls fn for every set bit in ascending order until fn returns false.
func (v *Vec) Each(fn func(i int) bool) {
	for i, ok := v.bs.NextSet(0); ok; i, ok = v.bs.NextSet(i + 1) {
		if !fn(int(i)) {
			return
		}
	}
}
