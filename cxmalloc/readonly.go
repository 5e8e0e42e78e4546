package cxmalloc

import "errors"

// ErrNotReadonly is returned by ClearReadonly without a matching SetReadonly.
var ErrNotReadonly = errors.New("cxmalloc: no readonly section open")

// SetReadonly opens a readonly section on the family and every allocator.
// Sections nest; each call needs a matching ClearReadonly.
func (f *Family) SetReadonly() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readonly++
	for i := range f.allocators {
		if a := f.allocators[i].Load(); a != nil {
			a.readonly.Add(1)
		}
	}
}

// ClearReadonly closes one readonly section.
func (f *Family) ClearReadonly() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readonly == 0 {
		return ErrNotReadonly
	}
	f.readonly--
	for i := range f.allocators {
		if a := f.allocators[i].Load(); a != nil {
			a.readonly.Add(-1)
		}
	}
	return nil
}

// IsReadonly reports whether a readonly section is open.
func (f *Family) IsReadonly() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readonly > 0
}

// readonlySection opens a readonly section on one allocator.
func (a *allocator) readonlySection() func() {
	a.readonly.Add(1)
	return func() { a.readonly.Add(-1) }
}
