// Package buf provides bounds-checked QWORD streams over persistence files.
package buf

import (
	"fmt"
	"math"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow int.
func AddOverflowSafe(a, b int) (int, bool) {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return 0, false
	case b < 0 && a < math.MinInt-b:
		return 0, false
	default:
		return a + b, true
	}
}

// MulOverflowSafe multiplies two non-negative ints, returning ok = false on overflow.
func MulOverflowSafe(a, b int) (int, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt/b {
		return 0, false
	}
	return a * b, true
}

// CheckQWords validates that count QWORDs starting at byte offset off fit in
// a buffer of bufLen bytes. Returns the end offset.
func CheckQWords(bufLen, off, count int) (int, error) {
	if off < 0 || count < 0 {
		return 0, fmt.Errorf("negative range: off=%d count=%d", off, count)
	}
	size, ok := MulOverflowSafe(count, 8)
	if !ok {
		return 0, fmt.Errorf("overflow: count=%d qwords", count)
	}
	end, ok := AddOverflowSafe(off, size)
	if !ok {
		return 0, fmt.Errorf("overflow: off=%d + size=%d", off, size)
	}
	if end > bufLen {
		return 0, fmt.Errorf("bounds: end=%d > len=%d", end, bufLen)
	}
	return end, nil
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
func Slice(b []byte, off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off > len(b) {
		return nil, false
	}
	end, ok := AddOverflowSafe(off, n)
	if !ok || end > len(b) {
		return nil, false
	}
	return b[off:end], true
}
