package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/artifact"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/compiler"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/vm/wire"
)

func newDisasmCmd() *cobra.Command {
	var payloadKey, payloadIV string
	cmd := &cobra.Command{
		Use:   "disasm FILE",
		Short: "Print the bytecode of an Ox program, or of a loader payload",
		Long: `Print the bytecode of an Ox program.

With --key and --iv, FILE is instead a base85 payload as embedded in a loader;
it is decoded with that material and the restored module is disassembled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stderr := cmd.ErrOrStderr()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fail(stderr, exitMissingInput, "Input file not found: %s", args[0])
			}

			var mod *vm.Module
			if payloadKey != "" || payloadIV != "" {
				m, err := artifact.StaticMaterialFromHex(payloadKey, payloadIV)
				if err != nil {
					return fail(stderr, exitFailure, "%v", err)
				}
				material, _ := m.Material()
				compiled, err := artifact.Decode(strings.TrimSpace(string(data)), material)
				if err != nil {
					return fail(stderr, exitFailure, "decoding payload: %v", err)
				}
				if mod, err = wire.UnmarshalModule(compiled); err != nil {
					return fail(stderr, exitFailure, "%v", err)
				}
			} else {
				mod, err = compiler.CompileSource(args[0], string(data), compiler.Options{Name: args[0]})
				if err != nil {
					return fail(stderr, exitFailure, "%v", err)
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), vm.DisassembleModule(mod))
			return nil
		},
	}
	cmd.Flags().StringVar(&payloadKey, "key", "", "AES key in hex, to disassemble a loader payload")
	cmd.Flags().StringVar(&payloadIV, "iv", "", "AES IV in hex")
	return cmd
}
