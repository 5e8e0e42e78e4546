package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/cxmalloc/cxmalloc"
)

var descPath string

func init() {
	cmd := newDescriptorCmd()
	cmd.Flags().StringVar(&descPath, "path", "", "Persistence directory to record in the descriptor")
	rootCmd.AddCommand(cmd)
}

func newDescriptorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "descriptor <name>",
		Short: "Print a default YAML descriptor",
		Long: `The descriptor command prints a descriptor with default parameters, ready
to edit and pass to stats, check or report.

Example:
  cxmallocctl descriptor nodes --path /var/lib/graph > nodes.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescriptor(args)
		},
	}
}

func runDescriptor(args []string) error {
	d := cxmalloc.DefaultDescriptor(args[0])
	d.Persist.Path = descPath
	if _, err := d.Validate(); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(d)
	}
	out, err := cxmalloc.EncodeDescriptor(d)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(os.Stdout, string(out))
	return err
}
