package cxmalloc

import (
	"fmt"

	"github.com/joshuapare/cxmalloc/cxmalloc/linehead"
	"github.com/joshuapare/cxmalloc/internal/buf"
	"github.com/joshuapare/cxmalloc/internal/format"
	"github.com/joshuapare/cxmalloc/internal/mmfile"
)

func (a *allocator) blockHeader(b *block) format.BlockHeader {
	return format.BlockHeader{
		BIDX:      uint64(b.bidx),
		Quant:     uint64(a.quant),
		NActive:   uint64(b.nActive()),
		Allocated: boolQWord(b.data != nil),
	}
}

// writeBlock writes the base and ext files of b. Requires mu.
func (a *allocator) writeBlock(dir string, b *block) (int64, error) {
	bh := a.blockHeader(b)
	hdr := bh.Encode()
	ser := a.fam.ser
	if b.data != nil && b.nActive() > 0 && ser == nil {
		return 0, ErrNoSerializer
	}
	ds := a.shape
	mq, oq := ds.MetaQWords(), ds.ObjectQWords()
	rec := make([]uint64, ds.LineQWords())

	var extQWords int64
	basQWords, err := writeFile(format.BlockBaseFile(dir, a.aidx, b.bidx), func(bw *buf.Writer) error {
		var err error
		extQWords, err = writeFile(format.BlockExtFile(dir, a.aidx, b.bidx), func(ew *buf.Writer) error {
			bw.PutQWords(hdr...)
			ew.PutQWords(hdr...)
			if b.data == nil {
				bw.PutQWord(format.NoBlockData)
			} else {
				for slot := 0; slot < a.quant; slot++ {
					active := b.active.Test(slot)
					m := format.NewObjectMarker(uint64(slot), active).Encode()
					bw.PutQWords(m[:]...)
					clear(rec)
					if active {
						ew.PutQWords(m[:]...)
						ctx := &SerializeContext{
							Line:   a.lineOf(b, slot),
							Shape:  ds,
							Meta:   rec[:mq],
							Object: rec[mq : mq+oq],
							Array:  rec[mq+oq:],
							ext:    ew,
						}
						if err := ser.SerializeLine(ctx); err != nil {
							return fmt.Errorf("serialize aidx %d bidx %d slot %d: %w", a.aidx, b.bidx, slot, err)
						}
					}
					bw.PutQWords(rec...)
				}
			}
			bw.PutQWords(format.EndFile[:]...)
			ew.PutQWords(format.EndFile[:]...)
			if err := ew.Err(); err != nil {
				return err
			}
			return bw.Err()
		})
		return err
	})
	return basQWords + extQWords, err
}

// restoreBlock loads the lines of a data-bearing block and rebuilds its
// register. It returns the number of active lines restored. A block that
// fails to restore is left clean and idle. Requires mu.
func (a *allocator) restoreBlock(dir string, b *block) (restored int, err error) {
	defer func() {
		if err != nil && b.data != nil {
			restored = 0
			if rerr := b.createData(); rerr != nil {
				b.destroyData()
			}
		}
	}()
	aidx, bidx := int(a.aidx), int(b.bidx)
	basPath := format.BlockBaseFile(dir, a.aidx, b.bidx)
	extPath := format.BlockExtFile(dir, a.aidx, b.bidx)

	bas, releaseBas, err := mmfile.Map(basPath)
	if err != nil {
		return 0, &PersistError{Op: "read", Path: basPath, Cause: err}
	}
	defer releaseBas()
	ext, releaseExt, err := mmfile.Map(extPath)
	if err != nil {
		return 0, &PersistError{Op: "read", Path: extPath, Cause: err}
	}
	defer releaseExt()

	br, er := buf.NewReader(bas), buf.NewReader(ext)
	hdr, err := readBlockHeader(br)
	if err != nil {
		return 0, corruptCause(basPath, aidx, bidx, "block header", err)
	}
	extHdr, err := readBlockHeader(er)
	if err != nil {
		return 0, corruptCause(extPath, aidx, bidx, "block header", err)
	}
	switch {
	case hdr.BIDX != uint64(b.bidx):
		return 0, corrupt(basPath, aidx, bidx, "bidx", b.bidx, hdr.BIDX)
	case hdr.Quant != uint64(a.quant):
		return 0, corrupt(basPath, aidx, bidx, "quant", a.quant, hdr.Quant)
	case hdr.Allocated == 0:
		return 0, corrupt(basPath, aidx, bidx, "allocated", 1, 0)
	case extHdr != hdr:
		return 0, corrupt(extPath, aidx, bidx, "ext header", hdr, extHdr)
	}

	ser := a.fam.ser
	ds := a.shape
	mq, oq, lq := ds.MetaQWords(), ds.ObjectQWords(), ds.LineQWords()

	b.reg = exhausted(a.quant)
	b.active.Reset()
	for slot := 0; slot < a.quant; slot++ {
		q, err := br.QWords(format.MarkerQWords)
		if err != nil {
			return restored, corruptCause(basPath, aidx, bidx, "object marker", err)
		}
		m := format.DecodeObjectMarker(q)
		if err := m.Validate(uint64(slot)); err != nil {
			return restored, corruptCause(basPath, aidx, bidx, "object marker", err)
		}
		rec, err := br.QWords(lq)
		if err != nil {
			return restored, corruptCause(basPath, aidx, bidx, "line record", err)
		}
		if !m.IsActive() {
			b.reg.slots[b.reg.put] = int32(slot)
			b.reg.put++
			if b.reg.put == a.quant {
				b.reg.put = -1
			}
			continue
		}
		q, err = er.QWords(format.MarkerQWords)
		if err != nil {
			return restored, corruptCause(extPath, aidx, bidx, "object marker", err)
		}
		if em := format.DecodeObjectMarker(q); em != m {
			return restored, corrupt(extPath, aidx, bidx, "ext object marker", m, em)
		}
		if ser == nil {
			return restored, ErrNoSerializer
		}
		b.gens[slot] = a.nextGen()
		ctx := &DeserializeContext{
			Line:   a.lineOf(b, slot),
			Shape:  ds,
			Meta:   rec[:mq],
			Object: rec[mq : mq+oq],
			Array:  rec[mq+oq:],
			ext:    er,
		}
		if err := ser.DeserializeLine(ctx); err != nil {
			return restored, fmt.Errorf("deserialize aidx %d bidx %d slot %d: %w", a.aidx, b.bidx, slot, err)
		}
		h := b.head(slot)
		h.Set(linehead.Active)
		h.Clear(linehead.Modified)
		h.SetRefCount(1)
		b.active.Set(slot)
		restored++
	}
	if restored < a.quant {
		b.reg.get = 0
	}
	for _, r := range []struct {
		rd   *buf.Reader
		path string
	}{{br, basPath}, {er, extPath}} {
		end, err := r.rd.QWords(len(format.EndFile))
		if err == nil {
			err = format.ExpectEnd(end)
		}
		if err != nil {
			return restored, corruptCause(r.path, aidx, bidx, "end marker", err)
		}
	}

	b.available = b.reg.available()
	a.nActive.Add(int64(restored))
	if hdr.NActive != uint64(restored) {
		a.log.Error("CRITICAL: restored active count disagrees with block header", "severity", "CRITICAL",
			"bidx", b.bidx, "declared", hdr.NActive, "restored", restored)
	}
	a.log.Debug("block restored", "bidx", b.bidx, "active", restored, "quant", a.quant)
	return restored, nil
}

func readBlockHeader(r *buf.Reader) (format.BlockHeader, error) {
	q, err := r.QWords(format.HeaderQWords)
	if err != nil {
		return format.BlockHeader{}, err
	}
	return format.DecodeBlockHeader(q)
}
