// Package linehead encodes the 32-byte head that precedes every line.
//
// Layout (little-endian):
//
//	0   8  metaflex M1
//	8   8  metaflex M2
//	16  1  flags
//	17  3  line offset within block
//	20  2  bidx
//	22  2  aidx
//	24  4  refcount (int32)
//	28  4  size (line length in units)
//
// Bytes 17..23 read as a QWORD shifted right by 8 form the 56-bit line address.
package linehead

import (
	"fmt"
	"strings"

	"github.com/joshuapare/cxmalloc/internal/format"
)

// Size is the encoded head length.
const Size = format.LineHeadSize

const (
	offM1     = 0
	offM2     = 8
	offFlags  = 16
	offOffset = 17
	offBIDX   = 20
	offAIDX   = 22
	offRefc   = 24
	offSize   = 28
)

// Flags is the flag byte of a line head. Bit values are persisted.
type Flags uint8

const (
	// Oversized marks a standalone line above the largest size class.
	Oversized Flags = 1 << iota
	// Invalid marks a lazily discarded line.
	Invalid
	// Check is reserved for consistency scans.
	Check
	// Active marks a line with refcount > 0.
	Active
	// Modified marks a line changed since it was last persisted.
	Modified
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) String() string {
	if f == 0 {
		return "-"
	}
	var parts []string
	for _, n := range []struct {
		f Flags
		s string
	}{{Oversized, "ovsz"}, {Invalid, "invl"}, {Check, "chk"}, {Active, "act"}, {Modified, "mod"}} {
		if f&n.f != 0 {
			parts = append(parts, n.s)
		}
	}
	return strings.Join(parts, "|")
}

// Metaflex is the pair of user QWORDs at the start of every line.
type Metaflex struct {
	M1, M2 uint64
}

// Head is a view of a line head. It must be at least Size bytes long.
type Head []byte

func (h Head) Meta() Metaflex {
	return Metaflex{M1: format.ReadU64(h, offM1), M2: format.ReadU64(h, offM2)}
}

func (h Head) SetMeta(m Metaflex) {
	format.PutU64(h, offM1, m.M1)
	format.PutU64(h, offM2, m.M2)
}

func (h Head) Flags() Flags { return Flags(h[offFlags]) }

func (h Head) SetFlags(f Flags) { h[offFlags] = byte(f) }

// Set turns on the bits of f.
func (h Head) Set(f Flags) { h[offFlags] |= byte(f) }

// Clear turns off the bits of f.
func (h Head) Clear(f Flags) { h[offFlags] &^= byte(f) }

func (h Head) Offset() uint32 { return format.ReadU24(h, offOffset) }

func (h Head) SetOffset(v uint32) { format.PutU24(h, offOffset, v) }

func (h Head) BIDX() uint16 { return format.ReadU16(h, offBIDX) }

func (h Head) SetBIDX(v uint16) { format.PutU16(h, offBIDX, v) }

func (h Head) AIDX() uint16 { return format.ReadU16(h, offAIDX) }

func (h Head) SetAIDX(v uint16) { format.PutU16(h, offAIDX, v) }

func (h Head) RefCount() int32 { return format.ReadI32(h, offRefc) }

func (h Head) SetRefCount(v int32) { format.PutI32(h, offRefc, v) }

// AddRefCount adds d to the refcount and returns the new value.
func (h Head) AddRefCount(d int32) int32 {
	v := h.RefCount() + d
	h.SetRefCount(v)
	return v
}

func (h Head) Size() uint32 { return format.ReadU32(h, offSize) }

func (h Head) SetSize(v uint32) { format.PutU32(h, offSize, v) }

// Address returns the 56-bit line address (offset | bidx<<24 | aidx<<40).
func (h Head) Address() uint64 {
	return format.ReadU64(h, offFlags) >> 8
}

// Init stamps the identity fields of a fresh slot and clears the rest.
func (h Head) Init(aidx, bidx uint16, offset, size uint32) {
	clear(h[:Size])
	h.SetOffset(offset)
	h.SetBIDX(bidx)
	h.SetAIDX(aidx)
	h.SetSize(size)
}

// Address packs a line address from its parts.
func Address(aidx, bidx uint16, offset uint32) uint64 {
	return uint64(offset&format.MaxLineOffset) | uint64(bidx)<<24 | uint64(aidx)<<40
}

// SplitAddress unpacks a 56-bit line address.
func SplitAddress(addr uint64) (aidx, bidx uint16, offset uint32) {
	return uint16(addr >> 40), uint16(addr >> 24), uint32(addr & format.MaxLineOffset)
}

func (h Head) String() string {
	m := h.Meta()
	return fmt.Sprintf("M1=%016x M2=%016x flags=%s offset=%d bidx=%d aidx=%d refc=%d size=%d",
		m.M1, m.M2, h.Flags(), h.Offset(), h.BIDX(), h.AIDX(), h.RefCount(), h.Size())
}
