package cxmalloc

import (
	"errors"
	"io/fs"

	"github.com/joshuapare/cxmalloc/internal/buf"
	"github.com/joshuapare/cxmalloc/internal/format"
	"github.com/joshuapare/cxmalloc/internal/mmfile"
)

func (a *allocator) blockInfo(b *block) format.BlockInfo {
	return format.BlockInfo{BIDX: uint64(b.bidx), NActive: uint64(b.nActive()), Allocated: boolQWord(b.data != nil)}
}

// writeAllocatorFile writes ax_<aidx>.dat. Requires mu.
func (a *allocator) writeAllocatorFile(dir string) (int64, error) {
	for _, b := range a.blocks {
		if b == nil || b.data == nil {
			continue
		}
		if got := b.reg.available(); got != b.available {
			a.log.Error("CRITICAL: forcing counter to match register", "severity", "CRITICAL",
				"bidx", b.bidx, "counter", b.available, "register", got)
			b.available = got
		}
	}
	hdr := format.AllocatorHeader{
		AIDX:          uint64(a.aidx),
		NumBlocks:     uint64(len(a.blocks)),
		HeadBIDX:      bidxOrNone(a.head),
		LastReuseBIDX: bidxOrNone(a.lastReuse),
		LastHoleBIDX:  bidxOrNone(a.lastHole),
		Shape:         a.shape.Encode(),
	}
	return writeFile(format.AllocatorFile(dir, a.aidx), func(w *buf.Writer) error {
		w.PutQWords(hdr.Encode()...)
		for i, b := range a.blocks {
			info := format.BlockInfo{BIDX: uint64(i)}
			if b != nil {
				info = a.blockInfo(b)
			}
			q := info.Encode()
			w.PutQWords(q[:]...)
		}
		end := format.EndBlockInfo.Encode()
		w.PutQWords(end[:]...)
		if a.head != nil {
			for b := a.head.next; b != nil; b = b.next {
				q := a.blockInfo(b).Encode()
				w.PutQWords(q[:]...)
			}
		}
		w.PutQWords(end[:]...)
		w.PutQWords(format.EndFile[:]...)
		return w.Err()
	})
}

// restoreAllocator rebuilds block shells and chains from ax_<aidx>.dat. Data
// bearing blocks get an empty data segment; RestoreObjects fills it.
func (a *allocator) restoreAllocator(dir string) error {
	path := format.AllocatorFile(dir, a.aidx)
	data, release, err := mmfile.Map(path)
	if errors.Is(err, fs.ErrNotExist) {
		a.log.Warn("allocator file missing, starting empty", "path", path)
		return nil
	}
	if err != nil {
		return &PersistError{Op: "read", Path: path, Cause: err}
	}
	defer release()

	aidx := int(a.aidx)
	r := buf.NewReader(data)
	q, err := r.QWords(format.HeaderQWords)
	if err != nil {
		return corruptCause(path, aidx, -1, "allocator header", err)
	}
	hdr, err := format.DecodeAllocatorHeader(q)
	if err != nil {
		return corruptCause(path, aidx, -1, "allocator header", err)
	}
	if hdr.AIDX != uint64(a.aidx) {
		return corrupt(path, aidx, -1, "aidx", a.aidx, hdr.AIDX)
	}
	if want := a.shape.Encode(); hdr.Shape != want {
		return corrupt(path, aidx, -1, "datashape echo", want, hdr.Shape)
	}
	if hdr.NumBlocks > format.MaxBlocks {
		return corrupt(path, aidx, -1, "number of blocks", "<= 65536", hdr.NumBlocks)
	}

	readInfo := func() (format.BlockInfo, error) {
		q, err := r.QWords(format.MarkerQWords)
		if err != nil {
			return format.BlockInfo{}, corruptCause(path, aidx, -1, "block list", err)
		}
		return format.DecodeBlockInfo(q), nil
	}

	blocks := make([]*block, 0, hdr.NumBlocks)
	for {
		info, err := readInfo()
		if err != nil {
			return err
		}
		if info.IsEnd() {
			break
		}
		if info.BIDX != uint64(len(blocks)) || len(blocks) >= int(hdr.NumBlocks) {
			return corrupt(path, aidx, len(blocks), "block list index", len(blocks), info.BIDX)
		}
		b := newBlock(a, uint16(info.BIDX))
		if info.Allocated != 0 {
			if err := b.createData(); err != nil {
				return err
			}
		}
		blocks = append(blocks, b)
	}
	if len(blocks) != int(hdr.NumBlocks) {
		return corrupt(path, aidx, -1, "block count", hdr.NumBlocks, len(blocks))
	}

	lookup := func(bidx uint64, what string) (*block, error) {
		if bidx == format.NoBIDX {
			return nil, nil
		}
		if bidx >= uint64(len(blocks)) {
			return nil, corrupt(path, aidx, int(bidx), what, "existing block", bidx)
		}
		return blocks[bidx], nil
	}
	head, err := lookup(hdr.HeadBIDX, "head block")
	if err != nil {
		return err
	}
	if head != nil {
		if head.data == nil {
			return corrupt(path, aidx, int(head.bidx), "head block", "allocated", "hole")
		}
		head.tag = tagHead
	}
	last := head
	for {
		info, err := readInfo()
		if err != nil {
			return err
		}
		if info.IsEnd() {
			break
		}
		b, err := lookup(info.BIDX, "chain block")
		if err != nil {
			return err
		}
		if b == nil || last == nil || b.tag != tagNone {
			return corrupt(path, aidx, int(info.BIDX), "chain entry", "unchained block after head", info.BIDX)
		}
		if b.data != nil {
			b.tag = tagReuse
		} else {
			b.tag = tagHole
		}
		linkAfter(last, b)
		last = b
	}
	end, err := r.QWords(len(format.EndFile))
	if err == nil {
		err = format.ExpectEnd(end)
	}
	if err != nil {
		return corruptCause(path, aidx, -1, "end marker", err)
	}

	a.blocks = blocks
	a.head = head
	if a.lastReuse, err = lookup(hdr.LastReuseBIDX, "last re-use block"); err != nil {
		return err
	}
	if a.lastHole, err = lookup(hdr.LastHoleBIDX, "last hole"); err != nil {
		return err
	}
	if err := a.checkChains(); err != nil {
		var ce *CorruptionError
		if errors.As(err, &ce) {
			ce.File = path
		}
		return err
	}
	a.log.Debug("allocator restored", "blocks", len(blocks))
	return nil
}
