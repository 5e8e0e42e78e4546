package cxmalloc

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshuapare/cxmalloc/cxmalloc/diag"
	"github.com/joshuapare/cxmalloc/cxmalloc/linehead"
)

// Sweep repairs every writable allocator and returns the number of fixes:
//
//   - an active line with refcount 0 (leaked in a readonly section) is freed,
//   - a referenced line missing its active flag is reactivated,
//   - an unreferenced line absent from the register is put back.
//
// A referenced line found in the free list is an ownership conflict; it is
// logged as critical and the block is left untouched. identify, when not
// nil, names lines in log records.
func (f *Family) Sweep(identify func(Line) string) (int, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	fixes := 0
	var errs []error
	for i := range f.allocators {
		a := f.allocators[i].Load()
		if a == nil {
			continue
		}
		n, err := f.sweepAllocator(a, identify)
		fixes += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if fixes > 0 {
		f.log.Info("sweep repaired lines", "fixes", fixes)
	}
	return fixes, errors.Join(errs...)
}

func (f *Family) sweepAllocator(a *allocator, identify func(Line) string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := a.lock(); err != nil {
		return 0, fmt.Errorf("sweep aidx %d: %w", a.aidx, err)
	}
	defer a.mu.Unlock()

	fixes := 0
	var errs []error
	blocks := append([]*block(nil), a.blocks...)
	for _, b := range blocks {
		if b == nil || b.data == nil {
			continue
		}
		n, err := a.sweepBlock(b, identify)
		fixes += n
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n > 0 {
			if err := a.manageChain(b); err != nil {
				errs = append(errs, err)
			}
		}
	}
	var active int64
	for _, b := range a.blocks {
		if b != nil {
			active += int64(b.nActive())
		}
	}
	a.nActive.Store(active)
	return fixes, errors.Join(errs...)
}

// sweepBlock repairs one block. Requires mu.
func (a *allocator) sweepBlock(b *block, identify func(Line) string) (int, error) {
	free := b.reg.freeSet()

	// Ownership conflicts fail the block before anything is changed.
	for slot := 0; slot < b.capacity; slot++ {
		if rc := b.head(slot).RefCount(); rc < 0 || (rc > 0 && free.Test(slot)) {
			d := diag.Diagnostic{Severity: diag.SevCritical, Category: diag.CatRegister, Aidx: int(a.aidx), Bidx: int(b.bidx),
				Slot: slot, Issue: "ownership conflict: referenced line in free list", Expected: 0, Actual: rc}
			a.logFinding(d, b, slot, identify)
			return 0, &CorruptionError{Aidx: int(a.aidx), Bidx: int(b.bidx), Field: d.Issue, Expected: 0, Actual: rc}
		}
	}

	fixes := 0
	fix := func(slot int, issue string, expected, actual any) {
		fixes++
		a.logFinding(diag.Diagnostic{Severity: diag.SevWarning, Category: diag.CatRefcount, Aidx: int(a.aidx), Bidx: int(b.bidx),
			Slot: slot, Issue: issue, Expected: expected, Actual: actual, Repaired: true}, b, slot, identify)
	}
	for slot := 0; slot < b.capacity; slot++ {
		h := b.head(slot)
		rc := h.RefCount()
		act := h.Flags().Has(linehead.Active)
		inFree := free.Test(slot)
		switch {
		case rc == 0 && act:
			fix(slot, "active line without references", "inactive", "active")
			h.Clear(linehead.Active)
			h.Set(linehead.Modified)
			b.active.Clear(slot)
			b.gens[slot] = 0
			if !inFree {
				b.reg.push(slot)
			}
		case rc == 0 && !inFree:
			fix(slot, "lost line", "in free list", "checked out")
			b.active.Clear(slot)
			b.gens[slot] = 0
			b.reg.push(slot)
		case rc > 0 && !act:
			fix(slot, "referenced line not active", "active", "inactive")
			h.Set(linehead.Active | linehead.Modified)
			b.active.Set(slot)
			if b.gens[slot] == 0 {
				b.gens[slot] = a.nextGen()
			}
		case rc > 0 && !b.active.Test(slot):
			fix(slot, "active bit missing", true, false)
			b.active.Set(slot)
		case rc == 0 && b.active.Test(slot):
			fix(slot, "stale active bit", false, true)
			b.active.Clear(slot)
		}
	}
	b.available = b.reg.available()
	return fixes, nil
}

func (a *allocator) logFinding(d diag.Diagnostic, b *block, slot int, identify func(Line) string) {
	attrs := d.LogAttrs()
	if identify != nil {
		attrs = append(attrs, "line", identify(a.lineOf(b, slot)))
	}
	msg := d.Issue
	if d.Severity == diag.SevCritical {
		msg = "CRITICAL: " + msg
	}
	a.log.Log(context.Background(), d.Severity.Level(), msg, attrs...)
}
