package cxmalloc

import (
	"bufio"
	"fmt"
	"io"
)

// Dump writes one line per allocator and block. With lines set, every
// active line head is listed below its block.
func (f *Family) Dump(w io.Writer, lines bool) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "FAMILY %s size=%d min=%d max=%d readonly=%v lazy=%v\n",
		f.desc.Name, f.size, f.minLength, f.maxLength, f.IsReadonly(), f.LazyDiscards())
	for i := range f.allocators {
		a := f.allocators[i].Load()
		if a == nil {
			continue
		}
		a.mu.Lock()
		fmt.Fprintf(bw, "  %s head=%d last_reuse=%d last_hole=%d\n", a, a.bidxOf(a.head), a.bidxOf(a.lastReuse), a.bidxOf(a.lastHole))
		for _, b := range a.blocks {
			if b == nil {
				fmt.Fprintln(bw, "    BLOCK <nil>")
				continue
			}
			fmt.Fprintf(bw, "    %s\n", b.repr())
			if lines && b.data != nil {
				b.active.Each(func(slot int) bool {
					fmt.Fprintf(bw, "      %s\n", b.head(slot))
					return true
				})
			}
		}
		a.mu.Unlock()
	}
	return bw.Flush()
}
