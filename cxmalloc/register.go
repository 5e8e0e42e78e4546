package cxmalloc

import "github.com/joshuapare/cxmalloc/cxmalloc/bitvec"

// register is the circular free list of a block. Slots in positions
// [get, put) (wrapping) are free. get < 0 means no slot is free; put < 0
// means every slot is free.
type register struct {
	slots []int32
	get   int
	put   int
}

// newRegister returns a register with every slot free, in slot order.
func newRegister(n int) register {
	r := register{slots: make([]int32, n), get: 0, put: -1}
	for i := range r.slots {
		r.slots[i] = int32(i)
	}
	if n == 0 {
		r.get = -1
	}
	return r
}

// exhausted returns a register with every slot checked out.
func exhausted(n int) register {
	return register{slots: make([]int32, n), get: -1, put: 0}
}

func (r *register) size() int { return len(r.slots) }

// pop checks out the next free slot.
func (r *register) pop() (int, bool) {
	if r.get < 0 {
		return 0, false
	}
	slot := int(r.slots[r.get])
	if r.put < 0 {
		r.put = r.get
	}
	r.get = (r.get + 1) % len(r.slots)
	if r.get == r.put {
		r.get = -1
	}
	return slot, true
}

// push returns slot to the free list. Returning the slot that was checked out
// last undoes the pop instead of queueing it at put.
func (r *register) push(slot int) {
	if r.get > 0 && int(r.slots[r.get-1]) == slot {
		r.get--
	} else {
		if r.get < 0 {
			r.get = r.put
		}
		r.slots[r.put] = int32(slot)
		r.put = (r.put + 1) % len(r.slots)
	}
	if r.put == r.get {
		r.put = -1
	}
}

// available returns the number of free slots.
func (r *register) available() int {
	switch {
	case r.put < 0:
		return len(r.slots)
	case r.get < 0:
		return 0
	case r.get > r.put:
		return len(r.slots) - (r.get - r.put)
	default:
		return r.put - r.get
	}
}

// each calls fn for every free slot in register order.
func (r *register) each(fn func(slot int)) {
	n := r.available()
	if n == 0 {
		return
	}
	pos := r.get
	for i := 0; i < n; i++ {
		fn(int(r.slots[pos]))
		pos = (pos + 1) % len(r.slots)
	}
}

// freeSet returns a bitvector of the free slots.
func (r *register) freeSet() *bitvec.Vec {
	v := bitvec.New(len(r.slots))
	r.each(v.Set)
	return v
}
