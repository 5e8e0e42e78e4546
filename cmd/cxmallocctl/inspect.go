package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/cxmalloc/cxmalloc/inspect"
)

var inspectBlocks bool

func init() {
	cmd := newInspectCmd()
	cmd.Flags().BoolVarP(&inspectBlocks, "blocks", "b", false, "List every block with its digest")
	rootCmd.AddCommand(cmd)
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <dir>",
		Short: "Show the persisted topology of every family in a directory",
		Long: `The inspect command decodes family, allocator and block files without
restoring the family. It prints each allocator's shape, block chain and
active line counts.

Example:
  cxmallocctl inspect /var/lib/graph
  cxmallocctl inspect /var/lib/graph --blocks
  cxmallocctl inspect /var/lib/graph --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args)
		},
	}
}

func runInspect(args []string) error {
	printVerbose("Inspecting %s\n", args[0])
	fams, err := inspect.Dir(args[0])
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(fams)
	}
	for _, f := range fams {
		printInfo("Family %q  lengths %d..%d  classes %d  active %d\n", f.Name, f.MinLength, f.MaxLength, f.Header.Size, f.Active())
		printInfo("  block %s  unit %d/%d  object %d/%d  meta %d  subdue %d\n",
			humanize.IBytes(f.Header.BlockSize), f.Header.UnitSize, f.Header.UnitSerialized,
			f.Header.ObjectSize, f.Header.ObjectSerialized, f.Header.MetaSerialized, f.Header.Subdue)
		for _, a := range f.Allocators {
			active, holes := 0, 0
			for _, b := range a.Blocks {
				active += b.Active
				if !b.Allocated {
					holes++
				}
			}
			printInfo("  aidx %-4d length %-8d quant %-6d blocks %-5d holes %-5d active %-8d head %s chain %v\n",
				a.Aidx, a.Shape.Line.AWidth, a.Shape.Block.Quant, len(a.Blocks), holes, active, bidxString(a.Head), a.Chain)
			if !inspectBlocks {
				continue
			}
			for _, b := range a.Blocks {
				printInfo("    bidx %-5d %-5s active %4d/%-4d bas %-9s ext %-9s xxh3 %016x\n",
					b.Bidx, b.Tag, b.Active, b.Quant, humanize.IBytes(uint64(b.BaseBytes)), humanize.IBytes(uint64(b.ExtBytes)), b.Digest)
			}
		}
		if n := len(f.Report.Diagnostics); n > 0 {
			printInfo("  %d finding(s); run validate for details\n", n)
		}
	}
	return nil
}

func bidxString(bidx int) string {
	if bidx < 0 {
		return "-"
	}
	return fmt.Sprint(bidx)
}
