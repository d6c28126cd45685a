package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lintwatch/internal/lsp"
	"lintwatch/internal/project"
	"lintwatch/internal/version"
)

// logHistory is the number of console lines kept for lintwatch.showLog.
const logHistory = 500

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Run the lintwatch language server over stdio",
	RunE:  runLSP,
}

func init() {
	lspCmd.Flags().Bool("no-watch", false, "do not follow disk changes of closed files")
}

func runLSP(cmd *cobra.Command, _ []string) error {
	opts, err := readGlobalOptions(cmd)
	if err != nil {
		return err
	}
	noWatch, err := cmd.Flags().GetBool("no-watch")
	if err != nil {
		return err
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	root, err := project.Resolve(wd)
	if err != nil {
		return err
	}
	// stdout carries the protocol; console lines reach the client as window/logMessage.
	opts.color = "off"
	sess, err := newSession(cmd.Context(), sessionConfig{root: root, opts: opts, stderr: nil, history: logHistory})
	if err != nil {
		return err
	}
	defer sess.Close()

	server := lsp.NewServer(os.Stdin, os.Stdout, lsp.ServerOptions{
		Debounce:      root.Config.Debounce(),
		Workspace:     sess.ws,
		Jobs:          sess.manager,
		Issues:        sess.store,
		Bus:           sess.bus,
		Console:       sess.console,
		ResolveModule: sess.modules.Resolve,
		Version:       version.Version,
		WatchDisk:     !noWatch,
	})
	if err := server.Run(cmd.Context()); err != nil {
		if errors.Is(err, lsp.ErrExit) {
			return nil
		}
		if errors.Is(err, lsp.ErrExitWithoutShutdown) {
			return fmt.Errorf("lsp exit without shutdown")
		}
		return err
	}
	return nil
}
