package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/cxmalloc/cxmalloc/diag"
	"github.com/joshuapare/cxmalloc/cxmalloc/inspect"
)

func init() {
	rootCmd.AddCommand(newValidateCmd())
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Check persisted families for structural problems",
		Long: `The validate command checks file markers, descriptor and shape echoes,
block lists, chains and the agreement between .bas and .ext files.

Exit status is 0 when no errors are found, 1 for errors and 2 for critical
findings.

Example:
  cxmallocctl validate /var/lib/graph
  cxmallocctl validate /var/lib/graph --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(args)
		},
	}
}

func runValidate(args []string) error {
	fams, err := inspect.Dir(args[0])
	if err != nil {
		return err
	}
	rep := &diag.Report{}
	for _, f := range fams {
		rep.Merge(f.Report)
	}

	if jsonOut {
		if err := printJSON(rep); err != nil {
			return err
		}
	} else {
		for _, d := range rep.Diagnostics {
			printInfo("%s\n", d)
			if d.File != "" {
				printVerbose("  file: %s\n", d.File)
			}
		}
		printInfo("%d families: %d critical, %d errors, %d warnings\n", len(fams),
			rep.Count(diag.SevCritical), rep.Count(diag.SevError), rep.Count(diag.SevWarning))
	}
	if worst := rep.Worst(); worst >= diag.SevError {
		return &findingsError{worst: worst, count: len(rep.Diagnostics)}
	}
	return nil
}
