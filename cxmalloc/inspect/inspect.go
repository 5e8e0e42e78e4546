// Package inspect reads a persisted family directory without a line
// serializer. It decodes the family, allocator and block files, checks their
// markers and cross-file agreement, and reports findings as diagnostics
// instead of failing on the first problem.
package inspect

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/zeebo/xxh3"

	"github.com/joshuapare/cxmalloc/cxmalloc/diag"
	"github.com/joshuapare/cxmalloc/cxmalloc/shape"
	"github.com/joshuapare/cxmalloc/internal/buf"
	"github.com/joshuapare/cxmalloc/internal/format"
	"github.com/joshuapare/cxmalloc/internal/mmfile"
)

// ErrNoFamily is returned when a directory holds no family file.
var ErrNoFamily = errors.New("inspect: no family file")

// Family is the decoded state of one aset_[min-max].dat file.
type Family struct {
	Path       string              `json:"path"`
	Name       string              `json:"name"`
	MinLength  uint32              `json:"min_length"`
	MaxLength  uint32              `json:"max_length"`
	Header     format.FamilyHeader `json:"header"`
	Allocators []*Allocator        `json:"allocators"`
	Report     *diag.Report        `json:"report"`
}

// Allocator is the decoded state of one ax_<aidx>.dat file.
type Allocator struct {
	Aidx      int             `json:"aidx"`
	Path      string          `json:"path"`
	Shape     shape.Datashape `json:"shape"`
	NumBlocks int             `json:"num_blocks"`
	Head      int             `json:"head"`
	LastReuse int             `json:"last_reuse"`
	LastHole  int             `json:"last_hole"`
	Chain     []int           `json:"chain"`
	Blocks    []*Block        `json:"blocks"`
}

// Block is the decoded state of a block's .bas and .ext files.
type Block struct {
	Bidx      int    `json:"bidx"`
	Tag       string `json:"tag"`
	Allocated bool   `json:"allocated"`
	Declared  int    `json:"declared"` // active count in the allocator block list
	Active    int    `json:"active"`   // active markers found in the .bas file
	Quant     int    `json:"quant"`
	Digest    uint64 `json:"digest"` // xxh3 of the .bas line records
	BaseBytes int64  `json:"base_bytes"`
	ExtBytes  int64  `json:"ext_bytes"`
}

// Bin counts active lines of one length.
type Bin struct {
	Length uint32 `json:"length"`
	Count  int    `json:"count"`
}

// FamilyFiles lists the family files under dir in name order.
func FamilyFiles(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "aset_*.dat"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFamily, dir)
	}
	sort.Strings(paths)
	return paths, nil
}

// Dir inspects every family in dir.
func Dir(dir string) ([]*Family, error) {
	paths, err := FamilyFiles(dir)
	if err != nil {
		return nil, err
	}
	var out []*Family
	for _, p := range paths {
		f, err := Open(p)
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Open inspects the family file at path and the allocator and block files
// next to it. Only an unreadable family file is an error; everything else
// is recorded in the report.
func Open(path string) (*Family, error) {
	f := &Family{Path: path, Report: &diag.Report{}}
	if _, err := fmt.Sscanf(filepath.Base(path), "aset_[%d-%d].dat", &f.MinLength, &f.MaxLength); err != nil {
		return nil, fmt.Errorf("inspect: %s is not a family file name: %w", path, err)
	}
	data, release, err := mmfile.Map(path)
	if err != nil {
		return nil, fmt.Errorf("inspect: %w", err)
	}
	defer release()

	r := buf.NewReader(data)
	q, err := r.QWords(format.HeaderQWords)
	if err == nil {
		f.Header, err = format.DecodeFamilyHeader(q)
	}
	if err != nil {
		return nil, fmt.Errorf("inspect: %s header: %w", path, err)
	}

	var aidxs []int
	for i := 0; ; i++ {
		v, err := r.QWord()
		if err != nil {
			f.structure(path, diag.NoIndex, diag.NoIndex, "allocator list truncated", nil, err.Error())
			return f, nil
		}
		if v == format.EndAllocators {
			break
		}
		if v == format.NoAIDX {
			continue
		}
		if v != uint64(i) {
			f.structure(path, i, diag.NoIndex, "allocator list entry", i, v)
			continue
		}
		aidxs = append(aidxs, i)
	}
	if n, err := r.QWord(); err == nil {
		if nq, err := r.QWords(format.NameQWords(n)); err == nil {
			f.Name = format.DecodeName(n, nq)
		}
	}
	if end, err := r.QWords(len(format.EndFile)); err != nil || format.ExpectEnd(end) != nil {
		f.structure(path, diag.NoIndex, diag.NoIndex, "family end marker", "present", "missing")
	}

	dir := filepath.Dir(path)
	for _, aidx := range aidxs {
		if a := f.openAllocator(dir, aidx); a != nil {
			f.Allocators = append(f.Allocators, a)
		}
	}
	return f, nil
}

func (f *Family) add(sev diag.Severity, cat diag.Category, file string, aidx, bidx int, issue string, expected, actual any) {
	f.Report.Add(diag.Diagnostic{Severity: sev, Category: cat, File: file, Aidx: aidx, Bidx: bidx, Slot: diag.NoIndex,
		Issue: issue, Expected: expected, Actual: actual})
}

func (f *Family) structure(file string, aidx, bidx int, issue string, expected, actual any) {
	f.add(diag.SevCritical, diag.CatStructure, file, aidx, bidx, issue, expected, actual)
}

func bidxIndex(v uint64) int {
	if v == format.NoBIDX {
		return -1
	}
	return int(v)
}

func (f *Family) openAllocator(dir string, aidx int) *Allocator {
	path := format.AllocatorFile(dir, uint16(aidx))
	data, release, err := mmfile.Map(path)
	if err != nil {
		f.structure(path, aidx, diag.NoIndex, "allocator file unreadable", nil, err.Error())
		return nil
	}
	defer release()

	r := buf.NewReader(data)
	q, err := r.QWords(format.HeaderQWords)
	var hdr format.AllocatorHeader
	if err == nil {
		hdr, err = format.DecodeAllocatorHeader(q)
	}
	if err != nil {
		f.structure(path, aidx, diag.NoIndex, "allocator header", nil, err.Error())
		return nil
	}
	if hdr.AIDX != uint64(aidx) {
		f.structure(path, aidx, diag.NoIndex, "allocator header aidx", aidx, hdr.AIDX)
	}
	a := &Allocator{
		Aidx:      aidx,
		Path:      path,
		Shape:     shape.Decode(hdr.Shape),
		NumBlocks: int(hdr.NumBlocks),
		Head:      bidxIndex(hdr.HeadBIDX),
		LastReuse: bidxIndex(hdr.LastReuseBIDX),
		LastHole:  bidxIndex(hdr.LastHoleBIDX),
	}

	readList := func(what string) []format.BlockInfo {
		var list []format.BlockInfo
		for {
			q, err := r.QWords(format.MarkerQWords)
			if err != nil {
				f.structure(path, aidx, diag.NoIndex, what+" truncated", nil, err.Error())
				return list
			}
			info := format.DecodeBlockInfo(q)
			if info.IsEnd() {
				return list
			}
			list = append(list, info)
		}
	}
	infos := readList("block list")
	chain := readList("chain list")
	if end, err := r.QWords(len(format.EndFile)); err != nil || format.ExpectEnd(end) != nil {
		f.structure(path, aidx, diag.NoIndex, "allocator end marker", "present", "missing")
	}
	if len(infos) != a.NumBlocks {
		f.add(diag.SevError, diag.CatCounter, path, aidx, diag.NoIndex, "block list length", a.NumBlocks, len(infos))
	}

	tags := map[int]string{}
	if a.Head >= 0 {
		tags[a.Head] = "head"
	}
	lastReuse, lastHole := -1, -1
	for _, c := range chain {
		bidx := int(c.BIDX)
		a.Chain = append(a.Chain, bidx)
		if _, dup := tags[bidx]; dup {
			f.add(diag.SevCritical, diag.CatChain, path, aidx, bidx, "block chained twice", nil, nil)
			continue
		}
		if c.Allocated != 0 {
			if lastHole >= 0 {
				f.add(diag.SevError, diag.CatChain, path, aidx, bidx, "re-use block after hole", nil, nil)
			}
			tags[bidx], lastReuse = "reuse", bidx
		} else {
			tags[bidx], lastHole = "hole", bidx
		}
	}
	if lastReuse != a.LastReuse {
		f.add(diag.SevError, diag.CatChain, path, aidx, diag.NoIndex, "last re-use block", lastReuse, a.LastReuse)
	}
	if lastHole != a.LastHole {
		f.add(diag.SevError, diag.CatChain, path, aidx, diag.NoIndex, "last hole", lastHole, a.LastHole)
	}

	for i, info := range infos {
		if info.BIDX != uint64(i) {
			f.structure(path, aidx, i, "block list index", i, info.BIDX)
			continue
		}
		b := f.openBlock(dir, a, info)
		b.Tag = tags[i]
		if b.Tag == "" {
			b.Tag = "none"
		}
		a.Blocks = append(a.Blocks, b)
	}
	return a
}

func (f *Family) openBlock(dir string, a *Allocator, info format.BlockInfo) *Block {
	aidx, bidx := a.Aidx, int(info.BIDX)
	b := &Block{Bidx: bidx, Allocated: info.Allocated != 0, Declared: int(info.NActive), Quant: int(a.Shape.Block.Quant)}
	basPath := format.BlockBaseFile(dir, uint16(aidx), uint16(bidx))
	extPath := format.BlockExtFile(dir, uint16(aidx), uint16(bidx))

	bas, releaseBas, err := mmfile.Map(basPath)
	if err != nil {
		f.structure(basPath, aidx, bidx, "block file unreadable", nil, err.Error())
		return b
	}
	defer releaseBas()
	ext, releaseExt, err := mmfile.Map(extPath)
	if err != nil {
		f.structure(extPath, aidx, bidx, "block file unreadable", nil, err.Error())
		return b
	}
	defer releaseExt()
	b.BaseBytes, b.ExtBytes = int64(len(bas)), int64(len(ext))

	br, er := buf.NewReader(bas), buf.NewReader(ext)
	hdr, err := readHeader(br)
	if err != nil {
		f.structure(basPath, aidx, bidx, "block header", nil, err.Error())
		return b
	}
	extHdr, err := readHeader(er)
	if err != nil {
		f.structure(extPath, aidx, bidx, "block header", nil, err.Error())
		return b
	}
	if extHdr != hdr {
		f.structure(extPath, aidx, bidx, "ext header disagrees with base header", hdr, extHdr)
	}
	if hdr.BIDX != uint64(bidx) {
		f.structure(basPath, aidx, bidx, "block header bidx", bidx, hdr.BIDX)
	}
	if (hdr.Allocated != 0) != b.Allocated {
		f.add(diag.SevError, diag.CatCounter, basPath, aidx, bidx, "allocated flag disagrees with allocator file", b.Allocated, hdr.Allocated != 0)
	}

	if hdr.Allocated == 0 {
		if v, err := br.QWord(); err != nil || v != format.NoBlockData {
			f.structure(basPath, aidx, bidx, "hole marker", format.NoBlockData, v)
		}
	} else {
		f.scanLines(basPath, extPath, a, b, br, er, int(hdr.Quant))
	}
	for _, s := range []struct {
		rd   *buf.Reader
		path string
	}{{br, basPath}, {er, extPath}} {
		if end, err := s.rd.QWords(len(format.EndFile)); err != nil || format.ExpectEnd(end) != nil {
			f.structure(s.path, aidx, bidx, "block end marker", "present", "missing")
		}
	}

	if b.Allocated && hdr.Allocated != 0 {
		if b.Active != b.Declared {
			f.add(diag.SevWarning, diag.CatCounter, basPath, aidx, bidx, "active lines disagree with allocator file", b.Declared, b.Active)
		}
		if uint64(b.Active) != hdr.NActive {
			f.add(diag.SevWarning, diag.CatCounter, basPath, aidx, bidx, "active lines disagree with block header", hdr.NActive, b.Active)
		}
	}
	return b
}

// scanLines walks the line records of a data-bearing block. Ext records are
// opaque, so each active marker is located by scanning forward from the
// previous one.
func (f *Family) scanLines(basPath, extPath string, a *Allocator, b *Block, br, er *buf.Reader, quant int) {
	aidx := a.Aidx
	if quant != b.Quant {
		f.structure(basPath, aidx, b.Bidx, "block quant", b.Quant, quant)
		b.Quant = quant
	}
	lq := a.Shape.LineQWords()
	rest := er.Remaining() - len(format.EndFile)
	extQ, err := er.QWords(max(rest, 0))
	if err != nil {
		f.structure(extPath, aidx, b.Bidx, "ext records", nil, err.Error())
		return
	}
	pos := 0
	h := xxh3.New()
	for slot := 0; slot < quant; slot++ {
		q, err := br.QWords(format.MarkerQWords)
		if err != nil {
			f.structure(basPath, aidx, b.Bidx, "object marker truncated", quant, slot)
			return
		}
		m := format.DecodeObjectMarker(q)
		if err := m.Validate(uint64(slot)); err != nil {
			f.structure(basPath, aidx, b.Bidx, "object marker", slot, err.Error())
			return
		}
		rec, err := br.Bytes(lq)
		if err != nil {
			f.structure(basPath, aidx, b.Bidx, "line record truncated", quant, slot)
			return
		}
		h.Write(rec)
		if !m.IsActive() {
			continue
		}
		b.Active++
		next := findMarker(extQ, pos, m)
		if next < 0 {
			f.add(diag.SevError, diag.CatStructure, extPath, aidx, b.Bidx, "ext marker missing for active line", slot, nil)
			continue
		}
		pos = next + format.MarkerQWords
	}
	b.Digest = h.Sum64()
}

func findMarker(q []uint64, from int, m format.ObjectMarker) int {
	for i := from; i+format.MarkerQWords <= len(q); i++ {
		if q[i] == m.Separator && q[i+1] == m.Number && q[i+2] == m.Active {
			return i
		}
	}
	return -1
}

func readHeader(r *buf.Reader) (format.BlockHeader, error) {
	q, err := r.QWords(format.HeaderQWords)
	if err != nil {
		return format.BlockHeader{}, err
	}
	return format.DecodeBlockHeader(q)
}

// Active returns the active lines found across every block.
func (f *Family) Active() int {
	n := 0
	for _, a := range f.Allocators {
		for _, b := range a.Blocks {
			n += b.Active
		}
	}
	return n
}

// Histogram returns active lines per allocator line length, smallest first.
func (f *Family) Histogram() []Bin {
	var bins []Bin
	for _, a := range f.Allocators {
		n := 0
		for _, b := range a.Blocks {
			n += b.Active
		}
		bins = append(bins, Bin{Length: a.Shape.Line.AWidth, Count: n})
	}
	return bins
}
