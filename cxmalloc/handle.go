package cxmalloc

import (
	"fmt"

	"github.com/joshuapare/cxmalloc/cxmalloc/linehead"
	"github.com/joshuapare/cxmalloc/internal/format"
)

// oversizedGen is set in the generation of every oversized handle.
const oversizedGen = 1 << 31

// Handle identifies an issued line. The generation is stamped when the slot
// is issued; once the slot is freed the handle no longer resolves.
type Handle struct {
	Aidx   uint16
	Bidx   uint16
	Offset uint32
	Gen    uint32
}

// IsZero reports whether h is the zero handle, which never resolves.
func (h Handle) IsZero() bool { return h.Gen == 0 }

// Oversized reports whether h names a standalone oversized line.
func (h Handle) Oversized() bool { return h.Gen&oversizedGen != 0 }

// Address returns the 56-bit line address. Oversized lines have no address.
func (h Handle) Address() uint64 {
	if h.Oversized() {
		return 0
	}
	return linehead.Address(h.Aidx, h.Bidx, h.Offset)
}

func (h Handle) String() string {
	if h.Oversized() {
		return fmt.Sprintf("ovsz(aidx=%d id=%d gen=%d)", h.Aidx, h.Offset, h.Gen&^oversizedGen)
	}
	return fmt.Sprintf("line(aidx=%d bidx=%d offset=%d gen=%d)", h.Aidx, h.Bidx, h.Offset, h.Gen)
}

// Line is a view of an issued line. The byte slices alias allocator memory
// and stay valid until the line is freed or relocated by Renew.
type Line struct {
	h   Handle
	buf []byte
	obj int // object header bytes
	hdr int // line head plus padded object header
	arr int
}

// Valid reports whether l refers to a line.
func (l Line) Valid() bool { return l.buf != nil }

func (l Line) Handle() Handle { return l.h }

// Head returns the raw 32-byte line head.
func (l Line) Head() linehead.Head { return linehead.Head(l.buf[:linehead.Size]) }

func (l Line) Meta() linehead.Metaflex { return l.Head().Meta() }

// SetMeta writes the metaflex pair and marks the line modified.
func (l Line) SetMeta(m linehead.Metaflex) {
	h := l.Head()
	h.SetMeta(m)
	h.Set(linehead.Modified)
}

// Object returns the object header bytes after the line head. The slice is
// writable, so the line is marked modified.
func (l Line) Object() []byte {
	l.Touch()
	return l.object()
}

// Array returns the line's array bytes and marks the line modified.
func (l Line) Array() []byte {
	l.Touch()
	return l.array()
}

func (l Line) object() []byte {
	end := linehead.Size + l.obj
	return l.buf[linehead.Size:end:end]
}

func (l Line) array() []byte { return l.buf[l.hdr : l.hdr+l.arr : l.hdr+l.arr] }

// Length returns the array length in units.
func (l Line) Length() uint32 { return l.Head().Size() }

func (l Line) Flags() linehead.Flags { return l.Head().Flags() }

// Address returns the 56-bit line address, 0 for oversized lines.
func (l Line) Address() uint64 { return l.h.Address() }

func (l Line) Oversized() bool { return l.h.Oversized() }

// Touch marks the line modified so the next incremental persist rewrites
// its block.
func (l Line) Touch() { l.Head().Set(linehead.Modified) }

func (l Line) String() string {
	if !l.Valid() {
		return "line(nil)"
	}
	return l.h.String() + " " + l.Head().String()
}

// oversizedBIDX is the block index stamped into oversized line heads.
const oversizedBIDX = format.OversizedBIDX
