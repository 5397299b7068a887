package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/obfuscator"
)

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash FILE...",
		Short: "Print the rename-independent source hash of Ox programs",
		Long: `Print the source hash of each Ox program.

The hash ignores variable names, so a program and its renamed output print
the same hash. Use it with 'obfux ledger find --source'.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stderr := cmd.ErrOrStderr()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fail(stderr, exitMissingInput, "Input file not found: %s", path)
				}
				prog, err := compiler.ParseFile(path, string(data))
				if err != nil {
					return fail(stderr, exitFailure, "%v", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", obfuscator.SourceHash(prog), path)
			}
			return nil
		},
	}
}
