package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ilse-L/LLM-Deobfuscation-Research/ledger"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/server"
	"github.com/Ilse-L/LLM-Deobfuscation-Research/transform"
)

func newServeCmd() *cobra.Command {
	var (
		addr       string
		workers    int
		ledgerPath string
		runTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the obfuscation service over Connect and gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []server.ServerOption{
				server.WithWorkers(workers),
				server.WithRunTimeout(runTimeout),
			}
			if ledgerPath != "" {
				store, err := ledger.Open(ledgerPath)
				if err != nil {
					return fail(cmd.ErrOrStderr(), exitFailure, "%v", err)
				}
				defer store.Close()
				opts = append(opts, server.WithRecorder(store))
			}
			s := server.New(opts...)
			defer s.Stop()
			if err := s.ListenAndServe(addr); err != nil {
				return fail(cmd.ErrOrStderr(), exitFailure, "server: %v", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":7070", "Listen address")
	cmd.Flags().IntVar(&workers, "workers", runtime.GOMAXPROCS(0), "Concurrent runs")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "Record produced loaders in this ledger database")
	cmd.Flags().DurationVar(&runTimeout, "run-timeout", 10*time.Second, "Time limit for each Run call")
	return cmd
}

func newLSPCmd() *cobra.Command {
	var mapPath string
	cmd := &cobra.Command{
		Use:   "lsp",
		Short: "Run the Ox language server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			renames, err := readRenameMap(mapPath)
			if err != nil {
				return fail(cmd.ErrOrStderr(), exitFailure, "%v", err)
			}
			return server.NewLSP(renames).Run()
		},
	}
	cmd.Flags().StringVar(&mapPath, "map", "", "Rename map written by obfuscate --map-output, shown on hover")
	return cmd
}

// readRenameMap loads a rename map JSON file. An empty path gives nil.
func readRenameMap(path string) (*transform.RenameMap, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read rename map: %w", err)
	}
	m := transform.NewRenameMap()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return m, nil
}
