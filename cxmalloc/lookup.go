package cxmalloc

import (
	"math/rand/v2"

	"github.com/joshuapare/cxmalloc/cxmalloc/linehead"
)

// LineAt returns the active line at a 56-bit line address.
func (f *Family) LineAt(addr uint64) (Line, error) {
	if err := f.checkOpen(); err != nil {
		return Line{}, err
	}
	aidx, bidx, offset := linehead.SplitAddress(addr)
	if int(aidx) >= f.size {
		return Line{}, ErrNoLine
	}
	a := f.allocators[aidx].Load()
	if a == nil {
		return Line{}, ErrNoLine
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lineAt(bidx, offset)
}

// Find returns the first active line, in class and block order, for which
// match returns true. match runs with the allocator locked and must not call
// back into the family.
func (f *Family) Find(match func(Line) bool) (Line, error) {
	if err := f.checkOpen(); err != nil {
		return Line{}, err
	}
	for i := range f.allocators {
		a := f.allocators[i].Load()
		if a == nil {
			continue
		}
		var hit Line
		a.mu.Lock()
		a.eachActive(func(b *block, slot int) bool {
			ln := a.lineOf(b, slot)
			if match(ln) {
				hit = ln
				return false
			}
			return true
		})
		a.mu.Unlock()
		if hit.Valid() {
			return hit, nil
		}
	}
	return Line{}, ErrNoLine
}

// LineByOffset returns the n-th active line counted in class and block
// order. A negative n counts from the end.
func (f *Family) LineByOffset(n int64) (Line, error) {
	if err := f.checkOpen(); err != nil {
		return Line{}, err
	}
	if n < 0 {
		n += f.Active()
		if n < 0 {
			return Line{}, ErrNoLine
		}
	}
	for i := range f.allocators {
		a := f.allocators[i].Load()
		if a == nil {
			continue
		}
		a.mu.Lock()
		k := a.nActive.Load()
		if n >= k {
			a.mu.Unlock()
			n -= k
			continue
		}
		b, slot, ok := a.nth(n)
		var ln Line
		if ok {
			ln = a.lineOf(b, slot)
		}
		a.mu.Unlock()
		if !ok {
			return Line{}, ErrNoLine
		}
		return ln, nil
	}
	return Line{}, ErrNoLine
}

// RandomLine returns a uniformly chosen active line.
func (f *Family) RandomLine() (Line, error) {
	n := f.Active()
	if n == 0 {
		return Line{}, ErrNoLine
	}
	return f.LineByOffset(rand.Int64N(n))
}
