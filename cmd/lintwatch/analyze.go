package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"lintwatch/internal/analysis"
	"lintwatch/internal/job"
	"lintwatch/internal/progress"
	"lintwatch/internal/project"
	"lintwatch/internal/vfs"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [flags] [paths...]",
	Short: "Analyze files of a module and print the tracked issues",
	Long: `Run the analyzers configured in lintwatch.toml over the given files or
directories (default: the current directory), store the results and print them.
Exits with status 1 when an issue of critical or blocker severity is stored.`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().String("trigger", "action", "trigger recorded for the job")
	analyzeCmd.Flags().String("ui", "auto", "progress view (auto|on|off)")
	analyzeCmd.Flags().String("format", "pretty", "output format (pretty|json)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	opts, err := readGlobalOptions(cmd)
	if err != nil {
		return err
	}
	triggerStr, err := cmd.Flags().GetString("trigger")
	if err != nil {
		return fmt.Errorf("failed to get trigger flag: %w", err)
	}
	trigger, err := job.ParseTrigger(triggerStr)
	if err != nil {
		return err
	}
	uiStr, err := cmd.Flags().GetString("ui")
	if err != nil {
		return fmt.Errorf("failed to get ui flag: %w", err)
	}
	mode, err := readUIMode(uiStr)
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

	if len(args) == 0 {
		args = []string{"."}
	}
	module, err := resolveModule(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	useTUI := shouldUseTUI(mode) && !opts.quiet
	sess, err := newSession(ctx, sessionConfig{root: module, opts: opts, stderr: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer sess.Close()

	paths, err := collectFiles(module, args)
	if err != nil {
		return err
	}
	files := make([]*vfs.File, 0, len(paths))
	for _, p := range paths {
		f, err := sess.ws.Load(p)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
		files = append(files, f)
	}

	var h *analysis.TaskHandle
	if useTUI {
		h, err = runAnalyzeWithUI(ctx, sess, module, files, trigger)
	} else {
		h, err = sess.manager.SubmitForeground(ctx, module, files, trigger)
	}
	if err != nil {
		if errors.Is(err, job.ErrNoFiles) {
			fmt.Fprintln(cmd.ErrOrStderr(), "nothing to analyze")
			return nil
		}
		return err
	}
	if h.Indicator().IsCanceled() || ctx.Err() != nil {
		return errors.New("analysis canceled")
	}
	sess.router.Wait()

	if opts.timings && sess.timer != nil {
		fmt.Fprint(cmd.ErrOrStderr(), sess.timer.Summary())
	}

	report := collectReport(module, sess.store, h.Job().Files())
	out := cmd.OutOrStdout()
	if format == "json" {
		if err := writeReportJSON(out, report); err != nil {
			return err
		}
	} else {
		writeReportPretty(out, report, opts.useColor(out))
	}
	if report.hasErrors() {
		return errIssuesFound
	}
	return nil
}

func runAnalyzeWithUI(ctx context.Context, sess *session, module *project.Module, files []*vfs.File, trigger job.Trigger) (*analysis.TaskHandle, error) {
	raw := make(chan progress.Event, 256)
	stop := make(chan struct{})
	ind := progress.New(progress.ChannelSink{Ch: raw, Done: stop})
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Path())
	}
	title := fmt.Sprintf("lintwatch %s", module)
	return runWithProgress(title, names, raw, stop, ind.Cancel, func() (*analysis.TaskHandle, error) {
		return sess.manager.SubmitForeground(ctx, module, files, trigger, analysis.WithIndicator(ind))
	})
}

// resolveModule finds the module of a file or directory argument.
func resolveModule(arg string) (*project.Module, error) {
	info, err := os.Stat(arg)
	if err != nil {
		return nil, err
	}
	dir := arg
	if !info.IsDir() {
		dir = filepath.Dir(arg)
	}
	return project.Resolve(dir)
}

// collectFiles expands args into the module files to analyze. Directories are
// walked, hidden directories skipped and the include/exclude globs applied.
// Files named explicitly are kept and filtered later by the manager.
func collectFiles(module *project.Module, args []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		key := vfs.CanonicalPath(p)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if module.ShouldAnalyze(vfs.CanonicalPath(p)) {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", arg, err)
		}
	}
	return out, nil
}
