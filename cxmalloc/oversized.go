package cxmalloc

import (
	"fmt"

	"github.com/joshuapare/cxmalloc/cxmalloc/linehead"
	"github.com/joshuapare/cxmalloc/internal/buf"
)

// oversizedLine is a standalone line above the largest size class. It is
// kept in memory only and never persisted.
type oversizedLine struct {
	buf []byte
	gen uint32
	arr int
}

// newOversized allocates a standalone line of the virtual class serving size.
func (f *Family) newOversized(size uint32) (Line, error) {
	aidx, alength := f.calc.AIDX(size)
	unit := int(f.desc.Unit.Size)
	arr, ok := buf.MulOverflowSafe(int(alength), unit)
	if !ok {
		return Line{}, fmt.Errorf("%w: oversized line of %d units", ErrOutOfMemory, alength)
	}
	hdr := int(f.calc.HeaderBytes())
	total, ok := buf.AddOverflowSafe(hdr, arr)
	if !ok || aidx > 0xFFFF {
		return Line{}, fmt.Errorf("%w: oversized line of %d units", ErrOutOfMemory, alength)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.ovszNext
	for {
		if _, used := f.ovsz[id]; !used {
			break
		}
		id++
	}
	f.ovszNext = id + 1
	f.ovszGen = (f.ovszGen + 1) & genMask
	if f.ovszGen == 0 {
		f.ovszGen = 1
	}

	o := &oversizedLine{buf: make([]byte, total), gen: f.ovszGen | oversizedGen, arr: arr}
	h := linehead.Head(o.buf)
	h.Init(uint16(aidx), oversizedBIDX, 0, alength)
	h.SetMeta(f.desc.Meta.Init)
	h.Set(linehead.Oversized | linehead.Active | linehead.Modified)
	h.SetRefCount(1)
	f.ovsz[id] = o
	f.log.Debug("oversized line", "aidx", aidx, "id", id, "bytes", total)
	return f.viewOversized(uint16(aidx), id, o), nil
}

func (f *Family) viewOversized(aidx uint16, id uint32, o *oversizedLine) Line {
	return Line{
		h:   Handle{Aidx: aidx, Bidx: oversizedBIDX, Offset: id, Gen: o.gen},
		buf: o.buf,
		obj: int(f.desc.Object.Size),
		hdr: int(f.calc.HeaderBytes()),
		arr: o.arr,
	}
}

// oversizedLine resolves an oversized handle. Requires mu.
func (f *Family) oversizedLine(h Handle) (Line, error) {
	o, ok := f.ovsz[h.Offset]
	if !ok || o.gen != h.Gen || linehead.Head(o.buf).AIDX() != h.Aidx {
		return Line{}, fmt.Errorf("%w: %v", ErrStaleHandle, h)
	}
	return f.viewOversized(h.Aidx, h.Offset, o), nil
}

func (f *Family) discardOversized(h Handle) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ln, err := f.oversizedLine(h)
	if err != nil {
		return 0, err
	}
	rc := ln.Head().AddRefCount(-1)
	if rc > 0 {
		return int(rc), nil
	}
	delete(f.ovsz, h.Offset)
	if rc < 0 {
		return 0, fmt.Errorf("%w: %v", ErrDoubleFree, h)
	}
	return 0, nil
}

// oversizedStats returns the number and bytes of oversized lines.
func (f *Family) oversizedStats() (n int, bytes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.ovsz {
		n++
		bytes += int64(len(o.buf))
	}
	return n, bytes
}
