package cxmalloc

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/zeebo/xxh3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/cxmalloc/internal/format"
)

const barWidth = 40

// ReportPath returns the .adoc summary path under dir.
func (f *Family) ReportPath(dir string) string {
	return format.FamilyReport(dir, f.minLength, f.maxLength)
}

// writeReport writes the human-readable family summary next to the family file.
func (f *Family) writeReport(dir string) error {
	var out bytes.Buffer
	if err := f.Report(&out); err != nil {
		return err
	}
	path := f.ReportPath(dir)
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return &PersistError{Op: "write", Path: path, Cause: err}
	}
	return nil
}

// Report writes an AsciiDoc summary: descriptor echo, one row per allocator
// and a bar per block showing its fill and chain membership.
func (f *Family) Report(w io.Writer) error {
	p := message.NewPrinter(language.English)
	st := f.Stats()
	hdr := f.familyHeader()

	var b strings.Builder
	p.Fprintf(&b, "= Allocator family %s\n\n", f.desc.Name)
	b.WriteString("== Descriptor\n\n[cols=\"1,1\"]\n|===\n")
	for _, fld := range hdr.Fields() {
		p.Fprintf(&b, "|%s |%d\n", fld.Name, fld.Value)
	}
	b.WriteString("|===\n\n")

	p.Fprintf(&b, "== Summary\n\nactive lines:: %d\ncapacity:: %d\nutilization:: %.1f%%\nmemory:: %s\noversized lines:: %d (%s)\n\n",
		st.Active, st.Capacity, 100*st.Utilization(), humanize.IBytes(uint64(st.Bytes)),
		st.OversizedLines, humanize.IBytes(uint64(st.OversizedBytes)))

	b.WriteString("== Allocators\n\n[cols=\"1,1,1,1,1,1,1,1\"]\n|===\n|aidx |length |line |quant |blocks |holes |active |memory\n")
	for _, as := range st.Allocators {
		p.Fprintf(&b, "|%d |%d |%s |%d |%d |%d |%d |%s\n", as.Aidx, as.Length, humanize.IBytes(uint64(as.LineBytes)),
			as.Quant, as.Blocks, as.Holes, as.Active, humanize.IBytes(uint64(as.Bytes)))
	}
	b.WriteString("|===\n\n== Blocks\n\n")

	for i := range f.allocators {
		a := f.allocators[i].Load()
		if a == nil {
			continue
		}
		a.mu.Lock()
		p.Fprintf(&b, "=== aidx %d (length %d)\n\n....\n", a.aidx, a.length())
		for _, blk := range a.blocks {
			if blk == nil {
				continue
			}
			b.WriteString(blockBar(p, blk))
		}
		b.WriteString("....\n\n")
		a.mu.Unlock()
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// blockBar renders one block as a fill bar with its digest.
func blockBar(p *message.Printer, b *block) string {
	if b.data == nil {
		return fmt.Sprintf("%04x %-5s [%s]\n", b.bidx, b.tag, strings.Repeat(" ", barWidth))
	}
	filled := 0
	if b.capacity > 0 {
		filled = b.nActive() * barWidth / b.capacity
	}
	if filled == 0 && b.nActive() > 0 {
		filled = 1
	}
	return p.Sprintf("%04x %-5s [%s%s] %d/%d xxh3=%016x\n", b.bidx, b.tag,
		strings.Repeat("#", filled), strings.Repeat(".", barWidth-filled),
		b.nActive(), b.capacity, xxh3.Hash(b.data))
}
