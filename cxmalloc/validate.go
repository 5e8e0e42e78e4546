package cxmalloc

import (
	"errors"

	"github.com/joshuapare/cxmalloc/cxmalloc/diag"
	"github.com/joshuapare/cxmalloc/cxmalloc/linehead"
)

// Check validates refcounts against the register and line flags of every
// allocator and returns the total refcount. The first error or critical
// finding is returned as a *CorruptionError.
func (f *Family) Check() (int64, error) {
	total, rep, err := f.diagnose()
	if err != nil {
		return total, err
	}
	for _, d := range rep.Diagnostics {
		if d.Severity >= diag.SevError {
			return total, &CorruptionError{Aidx: d.Aidx, Bidx: d.Bidx, Field: d.Issue, Expected: d.Expected, Actual: d.Actual}
		}
	}
	return total, nil
}

// Diagnose returns every consistency finding without repairing anything.
func (f *Family) Diagnose() (*diag.Report, error) {
	_, rep, err := f.diagnose()
	return rep, err
}

func (f *Family) diagnose() (int64, *diag.Report, error) {
	rep := &diag.Report{}
	if err := f.checkOpen(); err != nil {
		return 0, rep, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for i := range f.allocators {
		a := f.allocators[i].Load()
		if a == nil {
			continue
		}
		a.mu.Lock()
		total += a.validate(rep)
		a.mu.Unlock()
	}
	for _, o := range f.ovsz {
		total += int64(linehead.Head(o.buf).RefCount())
	}
	return total, rep, nil
}

// validate records findings for the allocator and returns its total
// refcount. Requires mu.
func (a *allocator) validate(rep *diag.Report) int64 {
	aidx := int(a.aidx)
	add := func(sev diag.Severity, cat diag.Category, bidx, slot int, issue string, expected, actual any) {
		rep.Add(diag.Diagnostic{Severity: sev, Category: cat, Aidx: aidx, Bidx: bidx, Slot: slot,
			Issue: issue, Expected: expected, Actual: actual})
	}

	if err := a.checkChains(); err != nil {
		var ce *CorruptionError
		bidx := diag.NoIndex
		if errors.As(err, &ce) {
			bidx = ce.Bidx
		}
		add(diag.SevCritical, diag.CatChain, bidx, diag.NoIndex, err.Error(), nil, nil)
	}

	var total, active int64
	for _, b := range a.blocks {
		if b == nil || b.data == nil {
			continue
		}
		bidx := int(b.bidx)
		if got := b.reg.available(); got != b.available {
			add(diag.SevError, diag.CatCounter, bidx, diag.NoIndex, "available counter disagrees with register", got, b.available)
		}
		if got := b.active.Count(); got != b.nActive() {
			add(diag.SevError, diag.CatCounter, bidx, diag.NoIndex, "active bits disagree with counter", b.nActive(), got)
		}
		free := b.reg.freeSet()
		referenced := 0
		for slot := 0; slot < b.capacity; slot++ {
			h := b.head(slot)
			rc := h.RefCount()
			act := h.Flags().Has(linehead.Active)
			bit := b.active.Test(slot)
			total += int64(rc)
			if rc < 0 {
				add(diag.SevCritical, diag.CatRefcount, bidx, slot, "negative refcount", ">= 0", rc)
			}
			if free.Test(slot) {
				if rc != 0 || act || bit {
					add(diag.SevCritical, diag.CatRegister, bidx, slot, "free line is referenced", "refcount 0, inactive", rc)
				}
				continue
			}
			if rc > 0 {
				referenced++
			}
			if (rc > 0) != act {
				add(diag.SevError, diag.CatRefcount, bidx, slot, "active flag disagrees with refcount", rc > 0, act)
			}
			if act != bit {
				add(diag.SevError, diag.CatRefcount, bidx, slot, "active flag disagrees with bitvector", bit, act)
			}
		}
		issued := b.capacity - free.Count()
		if issued != referenced {
			add(diag.SevError, diag.CatRefcount, bidx, diag.NoIndex, "issued lines without references", issued, referenced)
		}
		active += int64(b.nActive())
	}
	if n := a.nActive.Load(); n != active {
		add(diag.SevWarning, diag.CatCounter, diag.NoIndex, diag.NoIndex, "allocator active counter", active, n)
	}
	return total
}
