package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var reportLines bool

func init() {
	cmd := newReportCmd()
	cmd.Flags().BoolVar(&reportLines, "dump", false, "Print a raw block and line head dump instead of the AsciiDoc report")
	cmd.Flags().StringVar(&familyDir, "dir", "", "Persistence directory (overrides the descriptor)")
	rootCmd.AddCommand(cmd)
}

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report <descriptor.yaml>",
		Short: "Restore a family and print its AsciiDoc summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), args)
		},
	}
}

func runReport(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f, err := openFamily(ctx, args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	if reportLines {
		return f.Dump(os.Stdout, true)
	}
	return f.Report(os.Stdout)
}
