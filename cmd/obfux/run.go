package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/loader"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm/wire"
)

func newRunCmd() *cobra.Command {
	var (
		allow       []string
		printResult bool
	)
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute an Ox program or loader",
		Long: `Execute an Ox program or a loader produced by "obfuscate --loader".

The exit status is the one the program passed to exit, 1 for an uncaught
exception and 70 when a loader cannot restore its payload.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stderr := cmd.ErrOrStderr()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fail(stderr, exitMissingInput, "Input file not found: %s", args[0])
			}
			var policy *wire.CapabilityPolicy
			if len(allow) > 0 {
				policy = wire.NewRestrictedPolicy(allow)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			result, err := loader.Run(ctx, string(data), loader.Options{
				Filename: args[0],
				Stdout:   cmd.OutOrStdout(),
				Stderr:   stderr,
				Policy:   policy,
			})
			if code, ok := vm.IsExit(err); ok {
				return &exitError{code: code, err: err}
			}
			var ex *vm.Exception
			if errors.As(err, &ex) {
				fmt.Fprintln(stderr, ex.Error())
				return &exitError{code: exitFailure, err: err}
			}
			if err != nil {
				return fail(stderr, exitFailure, "%v", err)
			}
			if printResult && result != nil {
				fmt.Fprintln(cmd.OutOrStdout(), vm.Repr(result))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&allow, "allow", nil, "Builtins a restored payload may call (default: all)")
	cmd.Flags().BoolVar(&printResult, "print-result", false, "Print the program result")
	return cmd
}
