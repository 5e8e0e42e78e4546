package cxmalloc

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joshuapare/cxmalloc/internal/buf"
	"github.com/joshuapare/cxmalloc/internal/format"
	"github.com/joshuapare/cxmalloc/internal/mmfile"
)

func boolQWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// familyHeader echoes the descriptor into the family file header.
func (f *Family) familyHeader() format.FamilyHeader {
	d := f.desc
	return format.FamilyHeader{
		Size:             uint64(f.size),
		MetaSerialized:   uint64(d.Meta.SerializedSize),
		ObjectSize:       uint64(d.Object.Size),
		ObjectSerialized: uint64(d.Object.SerializedSize),
		UnitSize:         uint64(d.Unit.Size),
		UnitSerialized:   uint64(d.Unit.SerializedSize),
		BlockSize:        d.Parameter.BlockSize,
		LineLimit:        uint64(d.Parameter.LineLimit),
		Subdue:           uint64(d.Parameter.Subdue),
		AllowOversized:   boolQWord(d.Parameter.AllowOversized),
		MaxAllocators:    uint64(d.Parameter.MaxAllocators),
	}
}

// FamilyPath returns the family file path under dir.
func (f *Family) FamilyPath(dir string) string {
	return format.FamilyFile(dir, f.minLength, f.maxLength)
}

func (f *Family) writeFamilyFile(dir string) (int64, error) {
	hdr := f.familyHeader()
	return writeFile(f.FamilyPath(dir), func(w *buf.Writer) error {
		w.PutQWords(hdr.Encode()...)
		for i := range f.allocators {
			if f.allocators[i].Load() != nil {
				w.PutQWord(uint64(i))
			} else {
				w.PutQWord(format.NoAIDX)
			}
		}
		w.PutQWord(format.EndAllocators)
		w.PutQWords(format.EncodeName(f.desc.Name)...)
		w.PutQWords(format.EndFile[:]...)
		return w.Err()
	})
}

// restoreTopology rebuilds allocators and block shells from an existing
// family directory. A missing family file means a fresh family.
func (f *Family) restoreTopology() error {
	dir := f.Dir()
	path := f.FamilyPath(dir)
	data, release, err := mmfile.Map(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &PersistError{Op: "read", Path: path, Cause: err}
	}
	defer release()

	aidxs, name, err := f.parseFamilyFile(path, data)
	if err != nil {
		return err
	}
	if name != f.desc.Name {
		return corrupt(path, -1, -1, "family name", f.desc.Name, name)
	}
	for _, aidx := range aidxs {
		a, err := newAllocator(f, aidx)
		if err != nil {
			return err
		}
		if err := a.restoreAllocator(dir); err != nil {
			return err
		}
		f.allocators[aidx].Store(a)
	}
	f.log.Info("family topology restored", "dir", dir, "allocators", len(aidxs))
	return nil
}

func (f *Family) parseFamilyFile(path string, data []byte) ([]uint16, string, error) {
	r := buf.NewReader(data)
	q, err := r.QWords(format.HeaderQWords)
	if err != nil {
		return nil, "", corruptCause(path, -1, -1, "family header", err)
	}
	got, err := format.DecodeFamilyHeader(q)
	if err != nil {
		return nil, "", corruptCause(path, -1, -1, "family header", err)
	}
	want := f.familyHeader()
	wantFields, gotFields := want.Fields(), got.Fields()
	for i := range wantFields {
		if wantFields[i].Value != gotFields[i].Value {
			return nil, "", corrupt(path, -1, -1, "descriptor echo "+wantFields[i].Name, wantFields[i].Value, gotFields[i].Value)
		}
	}

	var aidxs []uint16
	for i := 0; ; i++ {
		v, err := r.QWord()
		if err != nil {
			return nil, "", corruptCause(path, -1, -1, "allocator list", err)
		}
		if v == format.EndAllocators {
			break
		}
		if i >= f.size {
			return nil, "", corrupt(path, -1, -1, "allocator list length", f.size, i+1)
		}
		switch v {
		case format.NoAIDX:
		case uint64(i):
			aidxs = append(aidxs, uint16(i))
		default:
			return nil, "", corrupt(path, i, -1, "allocator list entry", i, v)
		}
	}

	n, err := r.QWord()
	if err != nil {
		return nil, "", corruptCause(path, -1, -1, "family name", err)
	}
	nq, err := r.QWords(format.NameQWords(n))
	if err != nil {
		return nil, "", corruptCause(path, -1, -1, "family name", err)
	}
	end, err := r.QWords(len(format.EndFile))
	if err == nil {
		err = format.ExpectEnd(end)
	}
	if err != nil {
		return nil, "", corruptCause(path, -1, -1, "end marker", err)
	}
	return aidxs, format.DecodeName(n, nq), nil
}

func corruptCause(file string, aidx, bidx int, field string, cause error) error {
	return &CorruptionError{File: file, Aidx: aidx, Bidx: bidx, Field: field, Cause: cause}
}

// previousBlockCount returns the block count recorded in an existing
// allocator file, 0 when there is none.
func previousBlockCount(path string) int {
	data, err := os.ReadFile(path)
	if err != nil || len(data) < format.HeaderSize {
		return 0
	}
	r := buf.NewReader(data)
	q, err := r.QWords(format.HeaderQWords)
	if err != nil {
		return 0
	}
	h, err := format.DecodeAllocatorHeader(q)
	if err != nil || h.NumBlocks > format.MaxBlocks {
		return 0
	}
	return int(h.NumBlocks)
}
