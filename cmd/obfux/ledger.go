package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/ledger"
)

func newLedgerCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the record of produced loaders",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "Ledger database (default $OBFUX_LEDGER or ~/.obfux/ledger.db)")

	open := func() (*ledger.Store, error) {
		p := path
		if p == "" {
			var err error
			if p, err = ledger.DefaultPath(); err != nil {
				return nil, err
			}
		}
		return ledger.Open(p)
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent loaders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return fail(cmd.ErrOrStderr(), exitFailure, "%v", err)
			}
			defer store.Close()
			entries, err := store.List(context.Background(), limit)
			if err != nil {
				return fail(cmd.ErrOrStderr(), exitFailure, "%v", err)
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show one loader, including its key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return fail(cmd.ErrOrStderr(), exitFailure, "%v", err)
			}
			defer store.Close()
			e, err := store.Get(context.Background(), args[0])
			if errors.Is(err, ledger.ErrNotFound) {
				return fail(cmd.ErrOrStderr(), exitFailure, "no ledger entry %s", args[0])
			}
			if err != nil {
				return fail(cmd.ErrOrStderr(), exitFailure, "%v", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "id:         %s\n", e.ID)
			fmt.Fprintf(w, "name:       %s\n", e.Name)
			fmt.Fprintf(w, "mode:       %s\n", e.Mode)
			fmt.Fprintf(w, "transforms: %s\n", e.Transforms)
			fmt.Fprintf(w, "digest:     %s\n", e.Digest)
			fmt.Fprintf(w, "source:     %s\n", e.SourceHash)
			fmt.Fprintf(w, "key:        %s\n", e.KeyHex)
			fmt.Fprintf(w, "iv:         %s\n", e.IVHex)
			fmt.Fprintf(w, "renames:    %d\n", e.Renames)
			fmt.Fprintf(w, "created:    %s\n", e.Created.Format(time.RFC3339))
			return nil
		},
	}

	var bySource bool
	find := &cobra.Command{
		Use:   "find DIGEST",
		Short: "Find loaders by payload digest or source hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return fail(cmd.ErrOrStderr(), exitFailure, "%v", err)
			}
			defer store.Close()
			lookup := store.FindByDigest
			if bySource {
				lookup = store.FindBySource
			}
			entries, err := lookup(context.Background(), args[0])
			if err != nil {
				return fail(cmd.ErrOrStderr(), exitFailure, "%v", err)
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	find.Flags().BoolVar(&bySource, "source", false, "Match the source hash printed by 'obfux hash' instead of the payload digest")

	cmd.AddCommand(list, show, find)
	return cmd
}

func printEntries(w io.Writer, entries []ledger.Entry) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Name", "Transforms", "Renames", "Digest", "Source", "Created"})
	for _, e := range entries {
		tw.AppendRow(table.Row{e.ID, e.Name, e.Transforms, e.Renames, short(e.Digest), short(e.SourceHash), e.Created.Format(time.RFC3339)})
	}
	tw.Render()
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
