package cxmalloc

import (
	"fmt"
	"maps"
	"slices"

	"github.com/joshuapare/cxmalloc/cxmalloc/linehead"
)

// Size returns the number of size classes.
func (f *Family) Size() int { return f.size }

// MinLength returns the line length of the smallest class.
func (f *Family) MinLength() uint32 { return f.minLength }

// MaxLength returns the line length of the largest class.
func (f *Family) MaxLength() uint32 { return f.maxLength }

// SizeBounds returns the smallest and largest size served by the class
// that serves size.
func (f *Family) SizeBounds(size uint32) (low, high uint32) {
	return f.calc.SizeBounds(size)
}

// ClassLength returns the line length of class aidx.
func (f *Family) ClassLength(aidx int) uint32 { return f.calc.Length(uint32(aidx)) }

// LengthOf returns the array length of h in units.
func (f *Family) LengthOf(h Handle) (uint32, error) {
	ln, err := f.Resolve(h)
	if err != nil {
		return 0, err
	}
	return ln.Length(), nil
}

// IndexOf returns the size class of h. Oversized lines report the virtual
// class above the largest allocator.
func (f *Family) IndexOf(h Handle) (int, error) {
	if _, err := f.Resolve(h); err != nil {
		return 0, err
	}
	return int(h.Aidx), nil
}

// PrevLength returns the line length of the class below h, or 0 for the
// smallest class.
func (f *Family) PrevLength(h Handle) (uint32, error) {
	aidx, err := f.IndexOf(h)
	if err != nil || aidx == 0 {
		return 0, err
	}
	return f.calc.Length(uint32(aidx - 1)), nil
}

// NextLength returns the line length of the class above h, or 0 when h is
// in the largest class or oversized.
func (f *Family) NextLength(h Handle) (uint32, error) {
	aidx, err := f.IndexOf(h)
	if err != nil || aidx+1 >= f.size {
		return 0, err
	}
	return f.calc.Length(uint32(aidx + 1)), nil
}

// Active returns the number of active lines in all allocators. Oversized
// lines are not counted.
func (f *Family) Active() int64 {
	var n int64
	for i := range f.allocators {
		if a := f.allocators[i].Load(); a != nil {
			n += a.nActive.Load()
		}
	}
	return n
}

// AllocatorStats summarizes one size class.
type AllocatorStats struct {
	Aidx      int    `json:"aidx"`
	Length    uint32 `json:"length"`
	LineBytes int    `json:"line_bytes"`
	Quant     int    `json:"quant"`
	Blocks    int    `json:"blocks"`
	Holes     int    `json:"holes"`
	Reuse     int    `json:"reuse"`
	Capacity  int64  `json:"capacity"`
	Available int64  `json:"available"`
	Active    int64  `json:"active"`
	Bytes     int64  `json:"bytes"`
}

// Stats summarizes a family.
type Stats struct {
	Name           string           `json:"name"`
	Allocators     []AllocatorStats `json:"allocators"`
	Active         int64            `json:"active"`
	Capacity       int64            `json:"capacity"`
	Bytes          int64            `json:"bytes"`
	OversizedLines int              `json:"oversized_lines"`
	OversizedBytes int64            `json:"oversized_bytes"`
}

// Utilization returns active lines over capacity, 0 for an empty family.
func (s Stats) Utilization() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(s.Active) / float64(s.Capacity)
}

// Stats collects a snapshot of every existing allocator.
func (f *Family) Stats() Stats {
	s := Stats{Name: f.desc.Name}
	for i := range f.allocators {
		a := f.allocators[i].Load()
		if a == nil {
			continue
		}
		a.mu.Lock()
		blocks, holes, reuse, capacity, available, bytes := a.counts()
		a.mu.Unlock()
		as := AllocatorStats{
			Aidx:      i,
			Length:    a.length(),
			LineBytes: a.stride,
			Quant:     a.quant,
			Blocks:    blocks,
			Holes:     holes,
			Reuse:     reuse,
			Capacity:  capacity,
			Available: available,
			Active:    capacity - available,
			Bytes:     bytes,
		}
		s.Allocators = append(s.Allocators, as)
		s.Active += as.Active
		s.Capacity += as.Capacity
		s.Bytes += as.Bytes
	}
	s.OversizedLines, s.OversizedBytes = f.oversizedStats()
	s.Bytes += s.OversizedBytes
	return s
}

// Utilization returns the fraction of block capacity holding active lines.
func (f *Family) Utilization() float64 { return f.Stats().Utilization() }

// Bytes returns the memory held by blocks, registers and oversized lines.
func (f *Family) Bytes() int64 { return f.Stats().Bytes }

// HistogramBin counts the active lines of one line length.
type HistogramBin struct {
	Length uint32 `json:"length"`
	Count  int64  `json:"count"`
}

// Histogram returns the active line count per class length, smallest first,
// followed by oversized lines grouped by length.
func (f *Family) Histogram() []HistogramBin {
	var bins []HistogramBin
	for i := range f.allocators {
		if a := f.allocators[i].Load(); a != nil {
			bins = append(bins, HistogramBin{Length: a.length(), Count: a.nActive.Load()})
		}
	}
	f.mu.Lock()
	over := map[uint32]int64{}
	for _, o := range f.ovsz {
		over[linehead.Head(o.buf).Size()]++
	}
	f.mu.Unlock()
	for _, length := range slices.Sorted(maps.Keys(over)) {
		bins = append(bins, HistogramBin{Length: length, Count: over[length]})
	}
	return bins
}

func (s AllocatorStats) String() string {
	return fmt.Sprintf("aidx=%d length=%d blocks=%d holes=%d active=%d/%d", s.Aidx, s.Length, s.Blocks, s.Holes, s.Active, s.Capacity)
}
