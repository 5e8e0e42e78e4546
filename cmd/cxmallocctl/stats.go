package main

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	cmd := newStatsCmd()
	cmd.Flags().StringVar(&familyDir, "dir", "", "Persistence directory (overrides the descriptor)")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <descriptor.yaml>",
		Short: "Restore a family and show allocator statistics",
		Long: `The stats command restores the family named by a YAML descriptor and
prints per-class block, hole and line counts with memory use.

Example:
  cxmallocctl stats nodes.yaml
  cxmallocctl stats nodes.yaml --dir /tmp/snapshot --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), args)
		},
	}
}

func runStats(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f, err := openFamily(ctx, args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	st := f.Stats()
	if jsonOut {
		return printJSON(st)
	}
	printInfo("Family %q\n", st.Name)
	printInfo("  active lines:  %s / %s (%.1f%%)\n", humanize.Comma(st.Active), humanize.Comma(st.Capacity), 100*st.Utilization())
	printInfo("  memory:        %s\n", humanize.IBytes(uint64(st.Bytes)))
	printInfo("  oversized:     %d (%s)\n", st.OversizedLines, humanize.IBytes(uint64(st.OversizedBytes)))
	printInfo("\n  %-6s %-10s %-8s %-7s %-6s %-6s %-10s %s\n", "aidx", "length", "line", "blocks", "holes", "reuse", "active", "memory")
	for _, as := range st.Allocators {
		printInfo("  %-6d %-10d %-8s %-7d %-6d %-6d %-10d %s\n", as.Aidx, as.Length, humanize.IBytes(uint64(as.LineBytes)),
			as.Blocks, as.Holes, as.Reuse, as.Active, humanize.IBytes(uint64(as.Bytes)))
	}
	return nil
}
