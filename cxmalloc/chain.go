package cxmalloc

import (
	"fmt"

	"github.com/joshuapare/cxmalloc/internal/format"
)

// Block chains hang off the head block:
//
//	head -> reuse ... -> hole ...
//
// Only the head issues lines. A full block that leaves the head is not
// chained until one of its lines is freed. All functions in this file
// require the allocator mutex.

func linkAfter(anchor, b *block) {
	b.prev = anchor
	b.next = anchor.next
	if anchor.next != nil {
		anchor.next.prev = b
	}
	anchor.next = b
}

// unlink removes b from its chain and repairs the chain tails.
func (a *allocator) unlink(b *block) {
	p := b.prev
	if a.lastHole == b {
		if p != nil && p.tag == tagHole {
			a.lastHole = p
		} else {
			a.lastHole = nil
		}
	}
	if a.lastReuse == b {
		if p != nil && p.tag == tagReuse {
			a.lastReuse = p
		} else {
			a.lastReuse = nil
		}
	}
	if p != nil {
		p.next = b.next
	}
	if b.next != nil {
		b.next.prev = p
	}
	b.prev, b.next = nil, nil
	b.tag = tagNone
}

func (a *allocator) insertReuse(b *block) {
	anchor := a.lastReuse
	if anchor == nil {
		anchor = a.head
	}
	b.tag = tagReuse
	if anchor != nil {
		linkAfter(anchor, b)
	}
	a.lastReuse = b
}

func (a *allocator) insertHole(b *block) {
	anchor := a.lastHole
	if anchor == nil {
		anchor = a.lastReuse
	}
	if anchor == nil {
		anchor = a.head
	}
	b.tag = tagHole
	if anchor != nil {
		linkAfter(anchor, b)
	}
	a.lastHole = b
}

// nextHead returns the block advance would leave as head, or nil when it
// would create a new one. It does not modify the chain.
func (a *allocator) nextHead() *block {
	old := a.head
	switch {
	case old == nil:
		return nil
	case old.data != nil && old.reg.get >= 0:
		return old
	default:
		return old.next
	}
}

// advance makes sure the head block can issue a line.
func (a *allocator) advance() error {
	old := a.head
	if old != nil && old.data != nil && old.reg.get >= 0 {
		return nil
	}
	if old != nil && old.next != nil {
		nx := old.next
		switch {
		case nx.data == nil:
			if err := nx.createData(); err != nil {
				return err
			}
		case nx.reg.get < 0:
			return corrupt("", int(a.aidx), int(nx.bidx), "re-use block without free lines", "available > 0", nx.available)
		}
		a.unlink(nx)
		rest := old.next
		old.next = nil
		old.tag = tagNone
		nx.prev = nil
		nx.next = rest
		if rest != nil {
			rest.prev = nx
		}
		nx.tag = tagHead
		a.head = nx
		return nil
	}
	if len(a.blocks) >= format.MaxBlocks {
		return fmt.Errorf("%w: aidx %d has %d blocks", ErrCapacity, a.aidx, len(a.blocks))
	}
	b := newBlock(a, uint16(len(a.blocks)))
	if err := b.createData(); err != nil {
		return err
	}
	a.blocks = append(a.blocks, b)
	if old != nil {
		old.tag = tagNone
	}
	b.tag = tagHead
	a.head = b
	return nil
}

// deleteBlock destroys b and empties its slot.
func (a *allocator) deleteBlock(b *block) {
	b.destroyData()
	if a.head == b {
		a.head = nil
	}
	a.unlink(b)
	if int(b.bidx) < len(a.blocks) && a.blocks[b.bidx] == b {
		a.blocks[b.bidx] = nil
	}
}

// othersAreHoles reports whether every block except b is a hole.
func (a *allocator) othersAreHoles(b *block) bool {
	for _, o := range a.blocks {
		if o != nil && o != b && o.data != nil {
			return false
		}
	}
	return true
}

// manageChain files b into the chain that matches its fill state after a
// line was freed, then prunes trailing holes.
func (a *allocator) manageChain(b *block) error {
	switch {
	case b.inUse():
		if b != a.head && b.tag == tagNone && b.available > b.reuseThreshold {
			a.insertReuse(b)
		}
	case b != a.head:
		if b.data != nil || b.tag != tagHole {
			b.destroyData()
			a.unlink(b)
			a.insertHole(b)
		}
	case b.next != nil && b.next.data != nil:
		b.destroyData()
		if err := a.advance(); err != nil {
			return err
		}
		a.insertHole(b)
	default:
		if a.othersAreHoles(b) && (len(a.blocks) > 1 || a.fam.now().After(b.minUntil)) {
			a.deleteBlock(b)
		}
	}
	a.prune()
	return nil
}

// prune deletes holes above the last data-bearing block and returns how
// many slots were released.
func (a *allocator) prune() int {
	n := 0
	for len(a.blocks) > 0 {
		last := a.blocks[len(a.blocks)-1]
		if last != nil && last.data != nil {
			break
		}
		if last != nil {
			a.deleteBlock(last)
		}
		a.blocks[len(a.blocks)-1] = nil
		a.blocks = a.blocks[:len(a.blocks)-1]
		n++
	}
	return n
}

// checkChains verifies chain order and tail pointers.
func (a *allocator) checkChains() error {
	if a.head == nil {
		if a.lastReuse != nil || a.lastHole != nil {
			return corrupt("", int(a.aidx), -1, "chain tails without head", nil, nil)
		}
		return nil
	}
	if a.head.tag != tagHead || a.head.prev != nil || a.head.data == nil {
		return corrupt("", int(a.aidx), int(a.head.bidx), "head block", "tagged data-bearing head", a.head.tag)
	}
	seen := map[*block]bool{a.head: true}
	var lastReuse, lastHole *block
	phase := tagHead
	for prev, b := a.head, a.head.next; b != nil; prev, b = b, b.next {
		if seen[b] {
			return corrupt("", int(a.aidx), int(b.bidx), "chain cycle", nil, nil)
		}
		seen[b] = true
		if b.prev != prev {
			return corrupt("", int(a.aidx), int(b.bidx), "back link", prev.bidx, a.bidxOf(b.prev))
		}
		switch b.tag {
		case tagReuse:
			if phase == tagHole {
				return corrupt("", int(a.aidx), int(b.bidx), "re-use block after hole", nil, nil)
			}
			if b.data == nil || b.available <= 0 {
				return corrupt("", int(a.aidx), int(b.bidx), "re-use block capacity", "available > 0", b.available)
			}
			phase, lastReuse = tagReuse, b
		case tagHole:
			if b.data != nil {
				return corrupt("", int(a.aidx), int(b.bidx), "hole with data", nil, nil)
			}
			phase, lastHole = tagHole, b
		default:
			return corrupt("", int(a.aidx), int(b.bidx), "chain tag", "reuse or hole", b.tag)
		}
	}
	if lastReuse != a.lastReuse {
		return corrupt("", int(a.aidx), -1, "last re-use block", a.bidxOf(lastReuse), a.bidxOf(a.lastReuse))
	}
	if lastHole != a.lastHole {
		return corrupt("", int(a.aidx), -1, "last hole", a.bidxOf(lastHole), a.bidxOf(a.lastHole))
	}
	for _, b := range a.blocks {
		if b != nil && b.tag != tagNone && !seen[b] {
			return corrupt("", int(a.aidx), int(b.bidx), "tagged block outside chain", nil, b.tag)
		}
	}
	return nil
}

func (a *allocator) bidxOf(b *block) int {
	if b == nil {
		return -1
	}
	return int(b.bidx)
}
