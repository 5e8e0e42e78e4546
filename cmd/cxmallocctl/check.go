package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/cxmalloc/cxmalloc/diag"
)

var checkRepair bool

func init() {
	cmd := newCheckCmd()
	cmd.Flags().BoolVar(&checkRepair, "repair", false, "Sweep repairable findings and persist the result")
	cmd.Flags().StringVar(&familyDir, "dir", "", "Persistence directory (overrides the descriptor)")
	rootCmd.AddCommand(cmd)
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <descriptor.yaml>",
		Short: "Restore a family and validate its refcounts",
		Long: `The check command restores a family and compares every line's refcount
and active flag with its block register. With --repair, leaked and lost
lines are swept and the family is written back.

Example:
  cxmallocctl check nodes.yaml
  cxmallocctl check nodes.yaml --repair`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), args)
		},
	}
}

type checkOut struct {
	Family   string       `json:"family"`
	Refcount int64        `json:"refcount"`
	Fixes    int          `json:"fixes"`
	Report   *diag.Report `json:"report"`
}

func runCheck(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f, err := openFamily(ctx, args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	out := checkOut{Family: f.Name()}
	if checkRepair {
		if out.Fixes, err = f.Sweep(nil); err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		if out.Fixes > 0 {
			if _, err := f.BulkSerialize(ctx, false); err != nil {
				return fmt.Errorf("persist repaired family: %w", err)
			}
		}
	}
	if out.Report, err = f.Diagnose(); err != nil {
		return err
	}
	if out.Refcount, err = f.Check(); err != nil && out.Report.Empty() {
		return err
	}

	if jsonOut {
		if err := printJSON(out); err != nil {
			return err
		}
	} else {
		for _, d := range out.Report.Diagnostics {
			printInfo("%s\n", d)
		}
		printInfo("Family %q: total refcount %d, %d fix(es), %d finding(s)\n", out.Family, out.Refcount, out.Fixes, len(out.Report.Diagnostics))
	}
	if worst := out.Report.Worst(); worst >= diag.SevError {
		return &findingsError{worst: worst, count: len(out.Report.Diagnostics)}
	}
	return nil
}
