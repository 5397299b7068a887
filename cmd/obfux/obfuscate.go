package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/ledger"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/loader"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/manifest"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/obfuscator"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/transform"
)

type obfuscateFlags struct {
	input, output string
	configPath    string
	rename        bool
	flatten       bool
	loaderMode    bool
	mapOutput     string
	entryName     string
	dumpAST       bool
	verify        bool
	nameSeed      int64
	flattenSeed   int64
	preserve      []string
	key, iv       string
	builder       string
	ledgerPath    string
}

func newObfuscateCmd() *cobra.Command {
	f := &obfuscateFlags{}
	cmd := &cobra.Command{
		Use:   "obfuscate -i INPUT -o OUTPUT [--var-rename] [--control-flow-flattening] [--loader]",
		Short: "Transform an Ox program and write readable source or an encrypted loader",
		Long: `Transform an Ox program.

By default the transformed, readable source is written to -o. With --loader
the program is compiled, encrypted and wrapped in a self-decoding loader
instead, and the key is printed.

Settings not given on the command line come from the nearest obfux.toml or
obfux.yaml above the input file.`,
		Example: `  obfux obfuscate -i matmul.ox -o L1/obf_matmul.ox --var-rename --control-flow-flattening --map-output L1/map.json
  obfux obfuscate -i matmul.ox -o L1/matmul_loader.ox --var-rename --control-flow-flattening --loader`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObfuscate(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.input, "input", "i", "", "Input Ox file")
	fl.StringVarP(&f.output, "output", "o", "", "Output path")
	fl.StringVar(&f.configPath, "config", "", "Config file (default: search upward from the input directory)")
	fl.BoolVar(&f.rename, "var-rename", false, "Apply variable renaming")
	fl.BoolVar(&f.flatten, "control-flow-flattening", false, "Apply control flow flattening")
	fl.BoolVar(&f.loaderMode, "loader", false, "Write an encrypted loader instead of readable transformed source")
	fl.StringVar(&f.mapOutput, "map-output", "", "Write the rename map as JSON to this path")
	fl.StringVar(&f.entryName, "entry-name", "", "Rename the first top-level function to this name")
	fl.BoolVar(&f.dumpAST, "dump-ast", false, "Dump the transformed syntax tree to stderr")
	fl.BoolVar(&f.verify, "verify", false, "Execute the program before and after flattening and fail if behavior differs")
	fl.Int64Var(&f.nameSeed, "seed", 0, "Seed for reproducible identifier names (0 = random)")
	fl.Int64Var(&f.flattenSeed, "flatten-seed", 0, "Seed for flattening state labels (0 = random)")
	fl.StringSliceVar(&f.preserve, "preserve", nil, "Identifiers never renamed")
	fl.StringVar(&f.key, "key", "", "AES key in hex (16, 24 or 32 bytes; default random)")
	fl.StringVar(&f.iv, "iv", "", "AES IV in hex (16 bytes; required with --key)")
	fl.StringVar(&f.builder, "builder", "", "Loader builder: ox or go")
	fl.StringVar(&f.ledgerPath, "ledger", "", "Record produced loaders in this ledger database")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")
	return cmd
}

// loadConfig returns the explicit config, the nearest one above dir, or
// the defaults.
func loadConfig(path, dir string) (*manifest.Config, error) {
	if path != "" {
		return manifest.Load(path)
	}
	c, err := manifest.FindAndLoad(dir)
	if err != nil || c != nil {
		return c, err
	}
	return manifest.Default(), nil
}

// merge applies flags the user set over the config.
func (f *obfuscateFlags) merge(cmd *cobra.Command, c *manifest.Config) error {
	changed := cmd.Flags().Changed
	if changed("var-rename") {
		c.Transforms.Rename = &f.rename
	}
	if changed("control-flow-flattening") {
		c.Transforms.Flatten = &f.flatten
	}
	if changed("verify") {
		c.Transforms.Verify = &f.verify
	}
	if changed("loader") {
		c.Loader.Mode = "readable"
		if f.loaderMode {
			c.Loader.Mode = "loader"
		}
	}
	if changed("seed") {
		c.Rename.Naming = "seeded"
		c.Rename.Seed = f.nameSeed
		if f.nameSeed == 0 {
			c.Rename.Naming = "random"
		}
	}
	if changed("flatten-seed") {
		c.Flatten.Seed = f.flattenSeed
	}
	if changed("preserve") {
		c.Rename.Preserve = append(c.Rename.Preserve, f.preserve...)
	}
	if changed("key") || changed("iv") {
		c.Loader.Key, c.Loader.IV = f.key, f.iv
	}
	if changed("builder") {
		c.Loader.Builder = f.builder
	}
	if changed("entry-name") {
		c.Loader.Entry = f.entryName
	}
	if changed("ledger") {
		c.Ledger.Path = f.ledgerPath
		c.Ledger.Enabled = f.ledgerPath != ""
	}
	return c.Validate()
}

func runObfuscate(cmd *cobra.Command, f *obfuscateFlags) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	if st, err := os.Stat(f.input); err != nil || st.IsDir() {
		return fail(stderr, exitMissingInput, "Input file not found: %s", f.input)
	}
	cfg, err := loadConfig(f.configPath, filepath.Dir(f.input))
	if err != nil {
		return fail(stderr, exitFailure, "%v", err)
	}
	if err := f.merge(cmd, cfg); err != nil {
		return fail(stderr, exitFailure, "%v", err)
	}
	set := cfg.TransformSet()
	if set == 0 {
		return fail(stderr, exitNoTransform, "No transform selected. Use --var-rename and/or --control-flow-flattening.")
	}
	mode, err := obfuscator.ParseMode(cfg.Loader.Mode)
	if err != nil {
		return fail(stderr, exitFailure, "%v", err)
	}

	data, err := os.ReadFile(f.input)
	if err != nil {
		return fail(stderr, exitMissingInput, "Input file not found: %s", f.input)
	}

	opts, closeLedger, err := obfuscatorOptions(cfg, filepath.Base(f.input))
	if err != nil {
		return fail(stderr, exitFailure, "%v", err)
	}
	defer closeLedger()

	obf := obfuscator.New(opts...)
	req := obfuscator.NewRequest(filepath.Base(f.input), string(data), set, mode)
	out, err := obf.Run(context.Background(), req)
	if err != nil {
		return fail(stderr, exitFailure, "%v", err)
	}

	if f.dumpAST {
		dumpAST(stderr, out, req.Name)
	}

	if err := obf.WriteArtifacts(context.Background(), req, out, f.output, f.mapOutput); err != nil {
		return fail(stderr, exitFailure, "writing output: %v", err)
	}
	switch out.Kind {
	case obfuscator.OutputReadable:
		fmt.Fprintf(stdout, "[SUCCESS] Wrote transformed readable source to: %s\n", f.output)
	case obfuscator.OutputLoader:
		fmt.Fprintf(stdout, "[SUCCESS] Wrote encrypted loader to: %s\n", f.output)
	}
	if f.mapOutput != "" && out.Renames != nil {
		fmt.Fprintf(stdout, "[SUCCESS] Wrote rename map (%d names) to: %s\n", out.Renames.Len(), f.mapOutput)
	}

	if out.Material != nil {
		fmt.Fprintf(stdout, "[INFO] AES key (hex): %s\n", out.Material.KeyHex())
		fmt.Fprintf(stdout, "[INFO] AES IV (hex): %s\n", out.Material.IVHex())
		fmt.Fprintf(stdout, "[INFO] Payload digest: %s\n", out.Digest)
		fmt.Fprintf(stdout, "[INFO] Source hash: %s\n", out.SourceHash)
		if out.LedgerID != "" {
			fmt.Fprintf(stdout, "[INFO] Ledger entry: %s\n", out.LedgerID)
		}
	}
	return nil
}

// obfuscatorOptions turns a config into obfuscator options. The returned
// func closes the ledger, if one was opened.
func obfuscatorOptions(cfg *manifest.Config, name string) ([]obfuscator.Option, func(), error) {
	materials, err := cfg.Materials()
	if err != nil {
		return nil, nil, err
	}
	opts := []obfuscator.Option{
		obfuscator.WithCapabilities(transform.DefaultCapabilities(cfg.TransformOptions(loader.BootstrapBuiltins))),
		obfuscator.WithMaterialProvider(materials),
		obfuscator.WithLoaderBuilder(cfg.LoaderFactory(name)),
		obfuscator.WithVerifyFlatten(cfg.Verify()),
		obfuscator.WithEntryName(cfg.Loader.Entry),
		obfuscator.WithRecordOnWrite(),
	}

	closer := func() {}
	path, err := cfg.LedgerPath()
	if err != nil {
		return nil, nil, err
	}
	if path != "" {
		store, err := ledger.Open(path)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, obfuscator.WithLedger(store))
		closer = func() { store.Close() }
	}
	return opts, closer, nil
}

// dumpAST prints the transformed tree.
func dumpAST(w io.Writer, out *obfuscator.Output, name string) {
	cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, DisableCapacities: true, SortKeys: true}
	fmt.Fprintf(w, "# %s: transformed tree\n", name)
	cfg.Fdump(w, out.Program)
}
