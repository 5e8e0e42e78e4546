package cxmalloc

import (
	"context"
	"errors"
)

// ErrStop may be returned by a ProcessLines callback to end the walk early
// without error.
var ErrStop = errors.New("cxmalloc: stop processing")

// ProcessStats counts what ProcessLines visited.
type ProcessStats struct {
	Allocators int
	Blocks     int
	Lines      int64 // lines passed to the callback
	Active     int64 // active lines in visited blocks
	Completed  bool  // every active line was visited
}

// ProcessLines calls fn for every active line, allocator by allocator. Each
// allocator is locked while its lines are visited; fn must not call back into
// the family. The context is checked between blocks.
func (f *Family) ProcessLines(ctx context.Context, fn func(Line) error) (ProcessStats, error) {
	var st ProcessStats
	if err := f.checkOpen(); err != nil {
		return st, err
	}
	for i := range f.allocators {
		a := f.allocators[i].Load()
		if a == nil {
			continue
		}
		st.Allocators++
		err := f.processAllocator(ctx, a, fn, &st)
		if errors.Is(err, ErrStop) {
			return st, nil
		}
		if err != nil {
			return st, err
		}
	}
	st.Completed = true
	return st, nil
}

func (f *Family) processAllocator(ctx context.Context, a *allocator, fn func(Line) error, st *ProcessStats) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, b := range a.blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b == nil || b.data == nil {
			continue
		}
		st.Blocks++
		st.Active += int64(b.nActive())
		var cbErr error
		b.active.Each(func(slot int) bool {
			st.Lines++
			cbErr = fn(a.lineOf(b, slot))
			return cbErr == nil
		})
		if cbErr != nil {
			return cbErr
		}
	}
	return nil
}
