package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/logger"
)

// Exit codes.
const (
	exitOK           = 0
	exitFailure      = 1
	exitMissingInput = 2
	exitNoTransform  = 3
)

// exitError carries a specific process exit code. Its message, if any, has
// already been printed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// fail prints an [ERROR] line and returns the matching exitError.
func fail(w io.Writer, code int, format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	fmt.Fprintf(w, "[ERROR] %v\n", err)
	return &exitError{code: code, err: err}
}

func newRootCmd() *cobra.Command {
	var (
		verbosity int
		logFile   string
	)
	root := &cobra.Command{
		Use:           "obfux",
		Short:         "Protect Ox programs by renaming, flattening and encrypting them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Configure(verbosity, logFile)
		},
	}
	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (repeatable)")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")

	root.AddCommand(
		newObfuscateCmd(),
		newRunCmd(),
		newHashCmd(),
		newServeCmd(),
		newLSPCmd(),
		newLedgerCmd(),
		newDisasmCmd(),
	)
	return root
}

// execute runs the CLI with args and returns the process exit code.
func execute(args []string) int {
	return executeWith(args, os.Stdout, os.Stderr)
}

func executeWith(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "[ERROR] %v\n", err)
	return exitFailure
}
