package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/joshuapare/cxmalloc/cxmalloc/diag"
	"github.com/joshuapare/cxmalloc/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// Global flags
	verbose bool
	quiet   bool
	jsonOut bool
	logDir  string
)

var rootCmd = &cobra.Command{
	Use:   "cxmallocctl",
	Short: "Inspect and maintain persisted cxmalloc families",
	Long: `cxmallocctl reads the files a cxmalloc family writes to its persistence
directory. Offline commands (inspect, validate, histogram) decode the files
directly; live commands (stats, check, report) restore the family from a YAML
descriptor first.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output and debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Write daily log files to this directory")
}

func initLogging() error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return logger.Init(logger.Options{Enabled: verbose || logDir != "", LogDir: logDir, Level: level})
}

// findingsError carries the worst severity of a scan so main can pick the
// exit code.
type findingsError struct {
	worst diag.Severity
	count int
}

func (e *findingsError) Error() string {
	return fmt.Sprintf("%d finding(s), worst %s", e.count, e.worst)
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var fe *findingsError
		if errors.As(err, &fe) && fe.worst >= diag.SevCritical {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as indented JSON
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}
