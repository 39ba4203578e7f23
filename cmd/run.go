package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/crucible-bench/crucible/internal/config"
	"github.com/crucible-bench/crucible/internal/orchestrator"
	"github.com/crucible-bench/crucible/internal/record"
	"github.com/crucible-bench/crucible/internal/report"
)

var (
	flagFramework string
	flagUseCase   string
	flagReps      int
	flagParallel  int
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a benchmark run",
		RunE:  runBenchmark,
	}
	cmd.Flags().StringVar(&flagFramework, "framework", "", "filter to a single framework")
	cmd.Flags().StringVar(&flagUseCase, "use-case", "", "filter to a single use case")
	cmd.Flags().IntVar(&flagReps, "reps", 0, "override repetition count")
	cmd.Flags().IntVar(&flagParallel, "parallel", 0, "override worker pool size")
	return cmd
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	selections, err := buildSelections(cfg, flagFramework, flagUseCase, flagReps)
	if err != nil {
		return err
	}
	concurrency := cfg.Run.Concurrency
	if flagParallel > 0 {
		concurrency = flagParallel
	}

	m := record.NewManifest(selections, concurrency,
		cfg.Run.CellTimeout(), cfg.Run.GracePeriod(), cfg.Run.RetryBudget)
	m.BackoffInitial = cfg.Run.BackoffInitial()
	m.SamplingInterval = cfg.Run.SamplingInterval()

	runDir, err := record.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	fmt.Printf("Run directory: %s\n", runDir)
	if err := record.WriteManifest(runDir, m); err != nil {
		return err
	}

	return executeRun(cfg, m, runDir)
}

func buildSelections(cfg *config.Config, framework, useCase string, reps int) ([]record.Selection, error) {
	var selections []record.Selection
	for _, u := range cfg.UseCases {
		if useCase != "" && u.Name != useCase {
			continue
		}
		repetitions := u.Repetitions
		if reps > 0 {
			repetitions = reps
		}
		for _, f := range cfg.Frameworks {
			if framework != "" && f.Name != framework {
				continue
			}
			selections = append(selections, record.Selection{
				Framework:   f.Name,
				UseCase:     u.Name,
				Repetitions: repetitions,
			})
		}
	}
	if len(selections) == 0 {
		return nil, fmt.Errorf("no cells selected: check --framework and --use-case against config")
	}
	return selections, nil
}

// executeRun drives the orchestrator over whatever cells the ledger does
// not already hold, then prints the summary. Shared by run and resume.
func executeRun(cfg *config.Config, m *record.RunManifest, runDir string) error {
	collab, err := buildCollaborators(cfg)
	if err != nil {
		return err
	}

	ledger, err := record.Open(runDir)
	if err != nil {
		return err
	}
	defer ledger.Close()

	orch, err := orchestrator.New(orchestrator.Options{
		Manifest:   m,
		Ledger:     ledger,
		Units:      collab.units,
		Datasets:   collab.datasets,
		Evaluators: collab.evaluators,
		RateCard:   collab.rateCard,
		Logger:     newLogger(),
		MaxAgeDays: cfg.Run.MaxAgeDays,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := orch.Run(ctx); err != nil {
		return err
	}

	fmt.Println("\n--- Results ---")
	return report.Generate(ledger.Snapshot(), "table", os.Stdout)
}
