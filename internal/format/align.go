package format

import "math/bits"

// Alignment utilities for block and line geometry.

const (
	// PageSize is the granularity block data budgets are rounded down to.
	PageSize = 4096

	// CacheLine is the line size every allocated line is padded to.
	CacheLine = 64

	// LineChunk is the unit lines are counted in by the datashape.
	LineChunk = 32
)

// AlignDownPage returns n rounded down to a page multiple.
//
// Example:
//
//	AlignDownPage(4095)  = 0
//	AlignDownPage(4096)  = 4096
//	AlignDownPage(10000) = 8192
func AlignDownPage(n int) int {
	return (n / PageSize) * PageSize
}

// PadTo returns the number of bytes needed to bring n up to a multiple of align.
func PadTo(n, align int) int {
	return (align - n%align) % align
}

// ILog2 returns floor(log2(v)) for v > 0 and 0 for v == 0.
func ILog2(v uint64) uint {
	if v == 0 {
		return 0
	}
	return uint(bits.Len64(v) - 1)
}
