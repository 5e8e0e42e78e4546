package cxmalloc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/cxmalloc/internal/buf"
	"github.com/joshuapare/cxmalloc/internal/flush"
	"github.com/joshuapare/cxmalloc/internal/format"
)

// Dir returns the persistence directory, empty when persistence is disabled.
func (f *Family) Dir() string { return f.desc.Persist.Path }

// BulkSerialize writes the family to its persistence directory and returns
// the number of QWORDs written. The family is readonly for the duration.
// Without force, only blocks with modified lines and holes are rewritten.
func (f *Family) BulkSerialize(ctx context.Context, force bool) (int64, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	dir := f.Dir()
	if dir == "" {
		return 0, fmt.Errorf("%w: no persistence path", ErrFilesystem)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, &PersistError{Op: "mkdir", Path: dir, Cause: err}
	}

	f.SetReadonly()
	defer func() {
		if err := f.ClearReadonly(); err != nil {
			f.log.Error("clear readonly after persist", "error", err)
		}
	}()

	var total atomic.Int64
	n, err := f.writeFamilyFile(dir)
	if err != nil {
		return 0, err
	}
	total.Add(n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.workers)
	for i := range f.allocators {
		a := f.allocators[i].Load()
		if a == nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := a.persist(dir, force)
			total.Add(n)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return total.Load(), err
	}
	if err := f.writeReport(dir); err != nil {
		f.log.Warn("family report not written", "error", err)
	}
	f.log.Info("family persisted", "dir", dir, "qwords", total.Load(), "force", force)
	return total.Load(), nil
}

// RestoreObjects reloads line data for every block restored by NewFamily
// and returns the number of active lines restored.
func (f *Family) RestoreObjects(ctx context.Context) (int64, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	dir := f.Dir()
	if dir == "" {
		return 0, nil
	}
	var total atomic.Int64
	p := pool.New().WithMaxGoroutines(f.opts.workers).WithContext(ctx).WithCancelOnError()
	for i := range f.allocators {
		a := f.allocators[i].Load()
		if a == nil {
			continue
		}
		p.Go(func(ctx context.Context) error {
			n, err := a.restoreObjects(ctx, dir)
			total.Add(n)
			return err
		})
	}
	err := p.Wait()
	f.log.Info("objects restored", "dir", dir, "lines", total.Load(), "error", err)
	return total.Load(), err
}

// persist writes the allocator file and its block files.
func (a *allocator) persist(dir string, force bool) (int64, error) {
	defer a.readonlySection()()
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := a.removeHoles(); n > 0 {
		a.log.Debug("trailing holes removed", "count", n)
	}
	prev := previousBlockCount(format.AllocatorFile(dir, a.aidx))

	total, err := a.writeAllocatorFile(dir)
	if err != nil {
		return total, err
	}
	written := 0
	for _, b := range a.blocks {
		if b == nil {
			continue
		}
		if !force && b.data != nil && !b.needsPersist() && fileExists(format.BlockBaseFile(dir, a.aidx, b.bidx)) {
			continue
		}
		n, err := a.writeBlock(dir, b)
		total += n
		if err != nil {
			return total, err
		}
		if b.data != nil {
			b.clearModified()
		}
		written++
	}
	for bidx := len(a.blocks); bidx < prev; bidx++ {
		for _, p := range []string{format.BlockBaseFile(dir, a.aidx, uint16(bidx)), format.BlockExtFile(dir, a.aidx, uint16(bidx))} {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return total, &PersistError{Op: "remove", Path: p, Cause: err}
			}
		}
	}
	a.log.Debug("allocator persisted", "blocks", len(a.blocks), "written", written, "qwords", total)
	return total, nil
}

// restoreObjects loads every data-bearing block.
func (a *allocator) restoreObjects(ctx context.Context, dir string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total int64
	for _, b := range a.blocks {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if b == nil || b.data == nil {
			continue
		}
		if b.nActive() > 0 {
			a.log.Warn("block already holds lines, not restored", "bidx", b.bidx, "active", b.nActive())
			continue
		}
		n, err := a.restoreBlock(dir, b)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// writeFile writes path through a temporary file that is synced and renamed
// into place. It returns the QWORDs written.
func writeFile(path string, fill func(w *buf.Writer) error) (int64, error) {
	tmp := path + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return 0, &PersistError{Op: "create", Path: tmp, Cause: err}
	}
	w := buf.NewWriter(fh)
	fail := func(op string, cause error) (int64, error) {
		fh.Close()
		os.Remove(tmp)
		var pe *PersistError
		if errors.As(cause, &pe) || errors.Is(cause, ErrCorruption) || errors.Is(cause, ErrNoSerializer) {
			return 0, cause
		}
		return 0, &PersistError{Op: op, Path: path, Cause: cause}
	}
	if err := fill(w); err != nil {
		return fail("write", err)
	}
	if err := w.Flush(); err != nil {
		return fail("write", err)
	}
	if err := flush.File(fh, false); err != nil {
		return fail("sync", err)
	}
	if err := fh.Close(); err != nil {
		os.Remove(tmp)
		return 0, &PersistError{Op: "write", Path: path, Cause: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, &PersistError{Op: "rename", Path: path, Cause: err}
	}
	return w.Offset(), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
