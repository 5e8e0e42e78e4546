package cxmalloc

import (
	"fmt"
	"time"

	"github.com/joshuapare/cxmalloc/cxmalloc/bitvec"
	"github.com/joshuapare/cxmalloc/cxmalloc/linehead"
	"github.com/joshuapare/cxmalloc/internal/buf"
)

// chainTag records which chain a block is linked into.
type chainTag uint8

const (
	tagNone chainTag = iota
	tagHead
	tagReuse
	tagHole
)

func (t chainTag) String() string {
	switch t {
	case tagHead:
		return "head"
	case tagReuse:
		return "reuse"
	case tagHole:
		return "hole"
	default:
		return "none"
	}
}

// block is one slab of equally sized lines. A block without data is a hole.
//
// Fields are guarded by the owning allocator's mutex.
type block struct {
	alloc *allocator
	bidx  uint16

	data   []byte      // quant * stride bytes, nil for a hole
	reg    register    // free slots
	active *bitvec.Vec // slots with act set
	gens   []uint32    // generation of each issued slot, 0 when free

	capacity  int
	available int

	// A lone free block is kept until minUntil.
	minUntil        time.Time
	reuseThreshold  int
	defragThreshold int

	prev, next *block
	tag        chainTag
}

func newBlock(a *allocator, bidx uint16) *block {
	return &block{alloc: a, bidx: bidx, reg: register{get: -1, put: -1}}
}

func (b *block) hasData() bool { return b.data != nil }

// inUse reports whether any slot is checked out.
func (b *block) inUse() bool { return b.data != nil && b.reg.put >= 0 }

// createData allocates the data segment and stamps every line head.
func (b *block) createData() error {
	a := b.alloc
	size, ok := buf.MulOverflowSafe(a.stride, a.quant)
	if !ok {
		return fmt.Errorf("%w: block of %d x %d bytes", ErrOutOfMemory, a.quant, a.stride)
	}
	b.data = make([]byte, size)
	init := a.fam.desc.Meta.Init
	for i := 0; i < a.quant; i++ {
		h := b.head(i)
		h.Init(a.aidx, b.bidx, uint32(i), a.shape.Line.AWidth)
		h.SetMeta(init)
	}
	b.active = bitvec.New(a.quant)
	b.reg = newRegister(a.quant)
	b.gens = make([]uint32, a.quant)
	b.capacity = a.quant
	b.available = a.quant
	b.minUntil = a.fam.now().Add(a.fam.opts.minAge)
	b.reuseThreshold = 0
	b.defragThreshold = a.quant / 4
	return nil
}

// destroyData releases the data segment, turning the block into a hole.
func (b *block) destroyData() {
	b.data = nil
	b.active = nil
	b.gens = nil
	b.reg = register{get: -1, put: -1}
	b.capacity = 0
	b.available = 0
}

// line returns the bytes of slot.
func (b *block) line(slot int) []byte {
	s := b.alloc.stride
	return b.data[slot*s : (slot+1)*s : (slot+1)*s]
}

func (b *block) head(slot int) linehead.Head {
	return linehead.Head(b.line(slot)[:linehead.Size])
}

// allocate checks out the next free slot and marks it active.
func (b *block) allocate() (int, bool) {
	slot, ok := b.reg.pop()
	if !ok {
		return 0, false
	}
	b.available--
	b.head(slot).Set(linehead.Active | linehead.Modified)
	b.active.Set(slot)
	return slot, true
}

// free returns an active slot to the register.
func (b *block) free(slot int) error {
	if b.data == nil || slot < 0 || slot >= b.capacity || !b.active.Test(slot) {
		return fmt.Errorf("%w: aidx %d bidx %d slot %d", ErrDoubleFree, b.alloc.aidx, b.bidx, slot)
	}
	h := b.head(slot)
	h.Clear(linehead.Active)
	h.Set(linehead.Modified)
	b.active.Clear(slot)
	b.gens[slot] = 0
	b.reg.push(slot)
	b.available++
	return nil
}

// needsPersist reports whether any line changed since the last persist.
func (b *block) needsPersist() bool {
	if b.data == nil {
		return false
	}
	for i := 0; i < b.capacity; i++ {
		if b.head(i).Flags().Has(linehead.Modified) {
			return true
		}
	}
	return false
}

func (b *block) clearModified() {
	for i := 0; i < b.capacity; i++ {
		b.head(i).Clear(linehead.Modified)
	}
}

// nActive returns the number of checked out slots.
func (b *block) nActive() int { return b.capacity - b.available }

// bytes returns the memory held by the block.
func (b *block) bytes() int64 {
	n := int64(len(b.data)) + 4*int64(len(b.reg.slots)) + 4*int64(len(b.gens))
	if b.active != nil {
		n += int64((b.active.Len() + 63) / 64 * 8)
	}
	return n
}

func (b *block) bidxOrNone(other *block) int {
	if other == nil {
		return -1
	}
	return int(other.bidx)
}

// repr renders the block for diagnostics.
func (b *block) repr() string {
	a := b.alloc
	return fmt.Sprintf("BLOCK bidx=%d family=%s aidx=%d tag=%s capacity=%d available=%d register(get=%d put=%d) line=%dB previous=%d next=%d",
		b.bidx, a.fam.desc.Name, a.aidx, b.tag, b.capacity, b.available, b.reg.get, b.reg.put,
		a.stride, b.bidxOrNone(b.prev), b.bidxOrNone(b.next))
}
