package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/crucible-bench/crucible/internal/config"
	"github.com/crucible-bench/crucible/internal/record"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [run-dir]",
		Short: "Continue an interrupted run",
		Long:  "Reload the stored manifest and ledger from a run directory and execute only the cells without a sealed record. Defaults to the latest run.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			runDir := filepath.Join(cfg.Results.Dir, "latest")
			if len(args) > 0 {
				runDir = args[0]
			}
			resolved, err := filepath.EvalSymlinks(runDir)
			if err != nil {
				return fmt.Errorf("resolving run dir: %w", err)
			}
			m, err := record.ReadManifest(resolved)
			if err != nil {
				return err
			}
			fmt.Printf("Resuming run %s in %s\n", m.RunID, resolved)
			return executeRun(cfg, m, resolved)
		},
	}
}
