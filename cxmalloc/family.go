package cxmalloc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshuapare/cxmalloc/cxmalloc/linehead"
	"github.com/joshuapare/cxmalloc/cxmalloc/shape"
)

// Family allocates lines of one object layout across a ladder of size
// classes. All methods are safe for concurrent use.
//
// Lock order is family mutex, then allocator mutex.
type Family struct {
	desc Descriptor
	calc *shape.Calculator
	opts options
	log  *slog.Logger
	ser  LineSerializer

	size      int
	minLength uint32
	maxLength uint32

	mu         sync.Mutex
	readonly   int // guarded by mu
	allocators []atomic.Pointer[allocator]
	ovsz       map[uint32]*oversizedLine // guarded by mu
	ovszNext   uint32
	ovszGen    uint32

	lazy   atomic.Bool
	closed atomic.Bool
}

// NewFamily creates a family. When desc.Persist.Path holds a previously
// persisted family, its allocator and block topology is restored; call
// RestoreObjects to reload line data.
func NewFamily(desc Descriptor, opts ...Option) (*Family, error) {
	cfg, err := desc.Validate()
	if err != nil {
		return nil, err
	}
	calc, err := shape.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	f := &Family{
		desc: desc,
		calc: calc,
		opts: o,
		log:  o.log.With("family", desc.Name),
		ser:  desc.Serializer,
		ovsz: map[uint32]*oversizedLine{},
	}
	if o.serializer != nil {
		f.ser = o.serializer
	}
	if f.size, err = classCount(calc, desc.Parameter); err != nil {
		return nil, err
	}
	f.allocators = make([]atomic.Pointer[allocator], f.size)
	f.minLength = calc.Length(0)
	f.maxLength = calc.Length(uint32(f.size - 1))

	if desc.Persist.Path != "" {
		if err := f.restoreTopology(); err != nil {
			return nil, err
		}
	}
	f.log.Debug("family created", "size", f.size, "min_length", f.minLength, "max_length", f.maxLength)
	return f, nil
}

// classCount returns the number of allocators: MaxAllocators, reduced to the
// class of LineLimit and to the classes whose lines fit a block.
func classCount(calc *shape.Calculator, p Parameters) (int, error) {
	n := p.MaxAllocators
	if lim, _ := calc.AIDX(p.LineLimit); lim+1 < n {
		n = lim + 1
	}
	if mc := calc.MaxClasses(); n > mc {
		n = mc
	}
	for aidx := uint32(0); aidx < n; aidx++ {
		if _, err := calc.Compute(aidx); err != nil {
			if errors.Is(err, shape.ErrNoLines) {
				n = aidx
				break
			}
			return 0, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: block size %d holds no line", ErrInvalidDescriptor, p.BlockSize)
	}
	return int(n), nil
}

func (f *Family) now() time.Time { return f.opts.now() }

// Descriptor returns the family descriptor.
func (f *Family) Descriptor() Descriptor { return f.desc }

// Name returns the family name.
func (f *Family) Name() string { return f.desc.Name }

func (f *Family) checkOpen() error {
	if f.closed.Load() {
		return ErrClosed
	}
	return nil
}

// allocatorFor returns the allocator of class aidx, creating it on first use.
func (f *Family) allocatorFor(aidx uint32) (*allocator, error) {
	if a := f.allocators[aidx].Load(); a != nil {
		return a, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if a := f.allocators[aidx].Load(); a != nil {
		return a, nil
	}
	if f.readonly > 0 {
		return nil, ErrReaderActive
	}
	a, err := newAllocator(f, uint16(aidx))
	if err != nil {
		return nil, err
	}
	f.allocators[aidx].Store(a)
	f.log.Debug("allocator created", "aidx", aidx, "length", a.length(), "quant", a.quant)
	return a, nil
}

// allocatorOf returns the existing allocator a handle points into.
func (f *Family) allocatorOf(h Handle) (*allocator, error) {
	if int(h.Aidx) >= f.size {
		return nil, fmt.Errorf("%w: %v (aidx beyond %d classes)", ErrStaleHandle, h, f.size)
	}
	a := f.allocators[h.Aidx].Load()
	if a == nil {
		return nil, fmt.Errorf("%w: %v (no allocator)", ErrStaleHandle, h)
	}
	return a, nil
}

// New issues a line of at least size units with refcount 1.
func (f *Family) New(size uint32) (Line, error) {
	if err := f.checkOpen(); err != nil {
		return Line{}, err
	}
	if size > f.maxLength {
		if !f.desc.Parameter.AllowOversized {
			return Line{}, fmt.Errorf("%w: %d units > %d", ErrTooLarge, size, f.maxLength)
		}
		return f.newOversized(size)
	}
	aidx, _ := f.calc.AIDX(size)
	a, err := f.allocatorFor(aidx)
	if err != nil {
		return Line{}, err
	}
	if err := a.lock(); err != nil {
		return Line{}, err
	}
	defer a.mu.Unlock()
	b, slot, err := a.newLine()
	if err != nil {
		return Line{}, err
	}
	return a.lineOf(b, slot), nil
}

// Resolve returns the current view of h.
func (f *Family) Resolve(h Handle) (Line, error) {
	if err := f.checkOpen(); err != nil {
		return Line{}, err
	}
	if h.Oversized() {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.oversizedLine(h)
	}
	a, err := f.allocatorOf(h)
	if err != nil {
		return Line{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b, slot, err := a.resolve(h)
	if err != nil {
		return Line{}, err
	}
	return a.lineOf(b, slot), nil
}

// Own adds a reference to h and returns the new refcount.
func (f *Family) Own(h Handle) (int, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if h.Oversized() {
		ln, err := f.oversizedLine(h)
		if err != nil {
			return 0, err
		}
		return int(ln.Head().AddRefCount(1)), nil
	}
	a, err := f.allocatorOf(h)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b, slot, err := a.resolve(h)
	if err != nil {
		return 0, err
	}
	return int(b.head(slot).AddRefCount(1)), nil
}

// RefCount returns the refcount of h.
func (f *Family) RefCount(h Handle) (int, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if h.Oversized() {
		ln, err := f.oversizedLine(h)
		if err != nil {
			return 0, err
		}
		return int(ln.Head().RefCount()), nil
	}
	a, err := f.allocatorOf(h)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b, slot, err := a.resolve(h)
	if err != nil {
		return 0, err
	}
	return int(b.head(slot).RefCount()), nil
}

// Discard drops a reference to h and returns the remaining refcount. At zero
// the line is returned to its block. Inside a readonly section the line
// cannot be returned; Discard then reports ErrReaderActive and the line stays
// active with refcount 0 until Sweep reclaims it.
//
// With lazy discards enabled the line is only flagged invalid.
func (f *Family) Discard(h Handle) (int, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if h.Oversized() {
		return f.discardOversized(h)
	}
	a, err := f.allocatorOf(h)
	if err != nil {
		return 0, err
	}
	if f.lazy.Load() {
		a.mu.Lock()
		defer a.mu.Unlock()
		b, slot, err := a.resolve(h)
		if err != nil {
			return 0, err
		}
		b.head(slot).Set(linehead.Invalid)
		return 0, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	b, slot, err := a.resolve(h)
	if err != nil {
		return 0, err
	}
	hd := b.head(slot)
	rc := hd.RefCount() - 1
	if rc < 0 {
		a.log.Warn("discard of unreferenced line", "bidx", b.bidx, "offset", slot, "refcount", rc)
		return 0, fmt.Errorf("%w: %v", ErrDoubleFree, h)
	}
	hd.SetRefCount(rc)
	if rc > 0 {
		return int(rc), nil
	}
	if !a.writable() {
		a.log.Debug("line leaked in readonly section", "bidx", b.bidx, "offset", slot)
		return 0, fmt.Errorf("%w: %v kept until sweep", ErrReaderActive, h)
	}
	if err := a.deleteLine(b, slot); err != nil {
		return 0, err
	}
	return 0, a.manageChain(b)
}

// Renew relocates a singly referenced line from a sparse block into the
// active block and returns the new view; the old handle stops resolving.
// When the line should stay where it is, Renew returns its current view and
// an error wrapping ErrRenewSkipped.
func (f *Family) Renew(h Handle) (Line, error) {
	if err := f.checkOpen(); err != nil {
		return Line{}, err
	}
	if h.Oversized() {
		ln, err := f.Resolve(h)
		if err != nil {
			return Line{}, err
		}
		return ln, fmt.Errorf("%w: oversized line", ErrRenewSkipped)
	}
	a, err := f.allocatorOf(h)
	if err != nil {
		return Line{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()
	b, slot, err := a.resolve(h)
	if err != nil {
		return Line{}, err
	}
	old := a.lineOf(b, slot)
	skip := func(reason string) (Line, error) {
		return old, fmt.Errorf("%w: %s", ErrRenewSkipped, reason)
	}
	switch {
	case !a.writable():
		return old, fmt.Errorf("%w: %w", ErrRenewSkipped, ErrReaderActive)
	case b == a.head:
		return skip("line is in the active block")
	case b.available <= b.defragThreshold:
		return skip("block is not sparse")
	case b.head(slot).RefCount() != 1:
		return skip("line is shared")
	case a.nextHead() == b:
		return skip("block is next in line for the active block")
	}
	nb, ns, err := a.newLine()
	if err != nil {
		return skip(err.Error())
	}
	nl := a.lineOf(nb, ns)
	oh, nh := old.Head(), nl.Head()
	nh.SetMeta(oh.Meta())
	if oh.Flags().Has(linehead.Invalid) {
		nh.Set(linehead.Invalid)
	}
	copy(nl.object(), old.object())
	copy(nl.array(), old.array())

	oh.SetRefCount(0)
	if err := a.deleteLine(b, slot); err != nil {
		return Line{}, err
	}
	if err := a.manageChain(b); err != nil {
		return nl, err
	}
	return nl, nil
}

// SetLazyDiscards switches Discard to flag lines invalid instead of
// dropping references.
func (f *Family) SetLazyDiscards(on bool) { f.lazy.Store(on) }

// LazyDiscards reports whether lazy discards are enabled.
func (f *Family) LazyDiscards() bool { return f.lazy.Load() }

// Close releases all memory. Later calls fail with ErrClosed.
func (f *Family) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.allocators {
		a := f.allocators[i].Load()
		if a == nil {
			continue
		}
		a.mu.Lock()
		for _, b := range a.blocks {
			if b != nil {
				b.destroyData()
			}
		}
		a.blocks, a.head, a.lastReuse, a.lastHole = nil, nil, nil, nil
		a.nActive.Store(0)
		a.mu.Unlock()
		f.allocators[i].Store(nil)
	}
	clear(f.ovsz)
	f.log.Debug("family closed")
	return nil
}
