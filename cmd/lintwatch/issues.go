package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"lintwatch/internal/project"
	"lintwatch/internal/store"
)

var issuesCmd = &cobra.Command{
	Use:   "issues [flags] [dir]",
	Short: "Print the tracking records persisted for a module",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIssues,
}

func init() {
	issuesCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}

func runIssues(cmd *cobra.Command, args []string) error {
	opts, err := readGlobalOptions(cmd)
	if err != nil {
		return err
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	format = strings.ToLower(format)
	if format != "pretty" && format != "json" {
		return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
	}
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "." {
		if dir, err = os.Getwd(); err != nil {
			return err
		}
	}
	module, err := project.Resolve(dir)
	if err != nil {
		return err
	}
	storeDirPath, err := storeDir(module)
	if err != nil {
		return err
	}
	persister, err := store.OpenPersister(storeDirPath)
	if err != nil {
		return err
	}
	payloads, err := persister.All()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if payloads == nil {
			payloads = []store.Payload{}
		}
		return enc.Encode(payloads)
	}
	writePayloadsPretty(out, module, payloads, opts.useColor(out))
	return nil
}

func writePayloadsPretty(w io.Writer, module *project.Module, payloads []store.Payload, colored bool) {
	header := color.New(color.Bold)
	faint := color.New(color.Faint)
	for _, c := range []*color.Color{header, faint} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	total := 0
	for _, p := range payloads {
		name, ok := module.Rel(p.Path)
		if !ok {
			name = p.Path
		}
		fmt.Fprintf(w, "%s %s\n", header.Sprint(name), faint.Sprintf("(saved %s)", p.Saved.Format(time.RFC3339)))
		for _, r := range p.Records {
			line := "-"
			if r.Line > 0 {
				line = fmt.Sprint(r.Line)
			}
			fmt.Fprintf(w, "  %5s  %-8s %s [%s]", line, r.Severity, r.Message, r.RuleKey)
			if r.CreationDate != nil {
				fmt.Fprint(w, faint.Sprintf(" since %s", r.CreationDate.Format(time.DateOnly)))
			}
			if r.ServerKey != "" {
				fmt.Fprint(w, faint.Sprintf(" %s", r.ServerKey))
			}
			fmt.Fprintln(w)
		}
		total += len(p.Records)
	}
	fmt.Fprintf(w, "%d tracked issue(s) in %d file(s)\n", total, len(payloads))
}
