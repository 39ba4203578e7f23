package cmd

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crucible-bench/crucible/internal/config"
	"github.com/crucible-bench/crucible/internal/dataset"
	"github.com/crucible-bench/crucible/internal/evaluate"
	"github.com/crucible-bench/crucible/internal/record"
)

func newScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <run-dir>",
		Short: "Re-score an existing run",
		Long:  "Re-run the quality evaluators over stored raw outputs and rewrite the ledger with updated quality metrics. Timing, cost and outcome fields are never touched.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			resolved, err := filepath.EvalSymlinks(args[0])
			if err != nil {
				return fmt.Errorf("resolving run dir: %w", err)
			}
			m, err := record.ReadManifest(resolved)
			if err != nil {
				return err
			}
			collab, err := buildCollaborators(cfg)
			if err != nil {
				return err
			}

			ledger, err := record.Open(resolved)
			if err != nil {
				return err
			}
			records := ledger.Snapshot()
			ledger.Close()
			if len(records) == 0 {
				return fmt.Errorf("no records found in %s", resolved)
			}

			maxAge := cfg.Run.MaxAgeDays
			rescored := 0
			for _, rec := range records {
				if !rec.Succeeded() {
					continue
				}
				set, ok := collab.datasets[rec.UseCase]
				if !ok {
					log.Printf("skipping %s: use case %q not in config", rec.CellID, rec.UseCase)
					continue
				}
				item, ok := set.ByID(rec.Metadata["item_id"])
				if !ok {
					log.Printf("skipping %s: item %q not in dataset", rec.CellID, rec.Metadata["item_id"])
					continue
				}
				evaluator := collab.evaluators[rec.UseCase]

				actual := evaluate.Sample{
					Text:    rec.RawOutput,
					Docs:    rec.RawDocs,
					Sources: rec.RawSources,
				}
				res := evaluator.Evaluate(item.Expected, actual, evaluate.Context{
					Query:       item.Input,
					ContextText: strings.Join(rec.RawDocs, "\n"),
					QueryTime:   scoreQueryTime(item, m),
					MaxAgeDays:  maxAge,
				})

				fmt.Printf("Scoring %s...\n", rec.CellID)
				for metric, score := range res.Scores {
					old, had := rec.Quality.Scores[metric]
					if had && old != score {
						fmt.Printf("  %s: %.3f -> %.3f\n", metric, old, score)
					}
				}
				rec.Quality = record.QualityMetrics{
					Scores:      res.Scores,
					Diagnostics: res.Diagnostics,
				}
				rescored++
			}

			if err := record.Rewrite(resolved, records); err != nil {
				return err
			}
			fmt.Printf("Re-scored %d of %d records\n", rescored, len(records))
			return nil
		},
	}
}

// scoreQueryTime mirrors the reference time used during the live run:
// the item's pinned query date when present, else manifest creation.
func scoreQueryTime(item *dataset.Item, m *record.RunManifest) time.Time {
	if raw, ok := item.Metadata["query_date"]; ok {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return t
		}
	}
	return m.CreatedAt
}
