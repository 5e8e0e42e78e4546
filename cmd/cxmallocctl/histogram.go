package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/cxmalloc/cxmalloc/inspect"
)

const histWidth = 50

func init() {
	rootCmd.AddCommand(newHistogramCmd())
}

func newHistogramCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "histogram <dir>",
		Short: "Show active lines per line length",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistogram(args)
		},
	}
}

type histogramOut struct {
	Family string        `json:"family"`
	Bins   []inspect.Bin `json:"bins"`
}

func runHistogram(args []string) error {
	fams, err := inspect.Dir(args[0])
	if err != nil {
		return err
	}
	var out []histogramOut
	for _, f := range fams {
		out = append(out, histogramOut{Family: f.Name, Bins: f.Histogram()})
	}
	if jsonOut {
		return printJSON(out)
	}
	for _, h := range out {
		top := 0
		for _, b := range h.Bins {
			top = max(top, b.Count)
		}
		printInfo("%s\n", h.Family)
		for _, b := range h.Bins {
			n := 0
			if top > 0 {
				n = b.Count * histWidth / top
			}
			printInfo("  %10d %10d %s\n", b.Length, b.Count, strings.Repeat("#", n))
		}
	}
	return nil
}
