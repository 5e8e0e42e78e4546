package cxmalloc

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/cxmalloc/cxmalloc/shape"
	"github.com/joshuapare/cxmalloc/internal/format"
	"github.com/joshuapare/cxmalloc/internal/logger"
)

// genMask bounds block generations; the top bit marks oversized handles.
const genMask = 1<<31 - 1

// allocator serves one size class of a family.
type allocator struct {
	fam   *Family
	aidx  uint16
	shape shape.Datashape
	log   *slog.Logger

	stride int // bytes per line
	quant  int // lines per block
	header int // line head + object header bytes

	mu       sync.Mutex
	readonly atomic.Int32

	// Guarded by mu. len(blocks) is the allocator's space.
	blocks    []*block
	head      *block
	lastReuse *block
	lastHole  *block
	gen       uint32

	nActive atomic.Int64
}

func newAllocator(f *Family, aidx uint16) (*allocator, error) {
	ds, err := f.calc.Compute(uint32(aidx))
	if err != nil {
		return nil, fmt.Errorf("cxmalloc: allocator %d: %w", aidx, err)
	}
	a := &allocator{
		fam:    f,
		aidx:   aidx,
		shape:  ds,
		log:    f.log.With("aidx", aidx),
		stride: ds.Stride(f.calc.HeaderBytes()),
		quant:  int(ds.Block.Quant),
		header: int(f.calc.HeaderBytes()),
	}
	return a, nil
}

// lock acquires the allocator for a structural change. It fails with
// ErrReaderActive, without holding the lock, while a readonly section is open.
func (a *allocator) lock() error {
	a.mu.Lock()
	if a.readonly.Load() > 0 {
		a.mu.Unlock()
		return ErrReaderActive
	}
	return nil
}

func (a *allocator) writable() bool { return a.readonly.Load() == 0 }

func (a *allocator) nextGen() uint32 {
	a.gen = (a.gen + 1) & genMask
	if a.gen == 0 {
		a.gen = 1
	}
	return a.gen
}

// newLine issues a slot from the head block. Requires mu.
func (a *allocator) newLine() (*block, int, error) {
	if err := a.advance(); err != nil {
		return nil, 0, err
	}
	b := a.head
	slot, ok := b.allocate()
	if !ok {
		return nil, 0, corrupt("", int(a.aidx), int(b.bidx), "head block register", "free line", "none")
	}
	b.gens[slot] = a.nextGen()
	b.head(slot).SetRefCount(1)
	a.nActive.Add(1)
	if logger.AllocTrace {
		a.log.Debug("new line", "bidx", b.bidx, "offset", slot, "gen", b.gens[slot])
	}
	return b, slot, nil
}

// deleteLine returns slot to b. Requires mu.
func (a *allocator) deleteLine(b *block, slot int) error {
	if err := b.free(slot); err != nil {
		return err
	}
	a.nActive.Add(-1)
	if logger.AllocTrace {
		a.log.Debug("delete line", "bidx", b.bidx, "offset", slot)
	}
	return nil
}

// resolve finds the slot a handle points at. Requires mu.
func (a *allocator) resolve(h Handle) (*block, int, error) {
	if int(h.Bidx) >= len(a.blocks) {
		return nil, 0, fmt.Errorf("%w: %v (bidx beyond %d blocks)", ErrStaleHandle, h, len(a.blocks))
	}
	b := a.blocks[h.Bidx]
	if b == nil || b.data == nil || int(h.Offset) >= b.capacity {
		return nil, 0, fmt.Errorf("%w: %v (block released)", ErrStaleHandle, h)
	}
	slot := int(h.Offset)
	if h.Gen == 0 || b.gens[slot] != h.Gen {
		return nil, 0, fmt.Errorf("%w: %v", ErrStaleHandle, h)
	}
	return b, slot, nil
}

// lineOf builds the view of an issued slot. Requires mu.
func (a *allocator) lineOf(b *block, slot int) Line {
	return Line{
		h:   Handle{Aidx: a.aidx, Bidx: b.bidx, Offset: uint32(slot), Gen: b.gens[slot]},
		buf: b.line(slot),
		obj: int(a.fam.desc.Object.Size),
		hdr: a.header,
		arr: a.shape.ArrayBytes(),
	}
}

// eachActive calls fn for every active slot in block order until fn returns
// false. Requires mu.
func (a *allocator) eachActive(fn func(b *block, slot int) bool) {
	for _, b := range a.blocks {
		if b == nil || b.data == nil {
			continue
		}
		stop := false
		b.active.Each(func(i int) bool {
			if !fn(b, i) {
				stop = true
				return false
			}
			return true
		})
		if stop {
			return
		}
	}
}

// nth returns the n-th active slot counted in block order. Requires mu.
func (a *allocator) nth(n int64) (*block, int, bool) {
	for _, b := range a.blocks {
		if b == nil || b.data == nil {
			continue
		}
		k := int64(b.nActive())
		if n < k {
			slot := b.active.Nth(int(n))
			return b, slot, slot >= 0
		}
		n -= k
	}
	return nil, 0, false
}

// lineAt resolves a raw line address. Requires mu.
func (a *allocator) lineAt(bidx uint16, offset uint32) (Line, error) {
	if int(bidx) >= len(a.blocks) {
		return Line{}, ErrNoLine
	}
	b := a.blocks[bidx]
	if b == nil || b.data == nil || int(offset) >= b.capacity || !b.active.Test(int(offset)) {
		return Line{}, ErrNoLine
	}
	return a.lineOf(b, int(offset)), nil
}

// removeHoles prunes trailing holes. Requires mu.
func (a *allocator) removeHoles() int {
	return a.prune()
}

// counts reports totals over the blocks. Requires mu.
func (a *allocator) counts() (blocks, holes, reuse int, capacity, available, bytes int64) {
	for _, b := range a.blocks {
		if b == nil {
			continue
		}
		blocks++
		switch {
		case b.data == nil:
			holes++
		case b.tag == tagReuse:
			reuse++
		}
		capacity += int64(b.capacity)
		available += int64(b.available)
		bytes += b.bytes()
	}
	return
}

func (a *allocator) length() uint32 { return a.shape.Line.AWidth }

func (a *allocator) String() string {
	return fmt.Sprintf("allocator aidx=%d length=%d stride=%d quant=%d blocks=%d active=%d",
		a.aidx, a.length(), a.stride, a.quant, len(a.blocks), a.nActive.Load())
}

func bidxOrNone(b *block) uint64 {
	if b == nil {
		return format.NoBIDX
	}
	return uint64(b.bidx)
}
