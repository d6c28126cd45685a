package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"lintwatch/internal/prof"
	"lintwatch/internal/telemetry"
	"lintwatch/internal/version"
)

// errIssuesFound makes the process exit with status 1 without printing anything.
var errIssuesFound = errors.New("error-severity issues found")

var rootCmd = &cobra.Command{
	Use:           "lintwatch",
	Short:         "Run external analyzers and track their issues across edits",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		session, err := setupProfiling(cmd)
		if err != nil {
			return err
		}
		profiling = session
		cleanup, err := setupTracing(cmd)
		if err != nil {
			return err
		}
		traceCleanup = cleanup
		return telemetry.Init(cmd.Context(), "lintwatch", version.Version)
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		telemetry.Shutdown(cmd.Context())
		finish()
	},
}

var (
	traceCleanup func()
	profiling    *prof.Session
)

// finish flushes the tracer and stops the profilers; safe to call twice.
func finish() {
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}
	if err := profiling.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "lintwatch: %v\n", err)
	}
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(lspCmd)
	rootCmd.AddCommand(issuesCmd)
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.Bool("quiet", false, "suppress non-essential output")
	flags.Bool("verbose", false, "print debug lines of the analysis console")
	flags.Bool("timings", false, "show timing information")
	flags.String("trace", "", "trace output file (- for stderr)")
	flags.String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	flags.String("trace-mode", "stream", "trace storage (stream|ring|both)")
	flags.Int("trace-ring-size", 4096, "events kept by the ring tracer")
	flags.Duration("trace-heartbeat", 0, "emit a heartbeat event at this interval (0 disables)")
	flags.String("cpu-profile", "", "write a CPU profile to this file")
	flags.String("mem-profile", "", "write a heap profile to this file on exit")
	flags.String("runtime-trace", "", "write a Go runtime trace to this file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		finish()
		if !errors.Is(err, errIssuesFound) {
			fmt.Fprintf(os.Stderr, "lintwatch: %v\n", err)
		}
		os.Exit(1)
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
