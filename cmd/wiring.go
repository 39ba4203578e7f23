package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/crucible-bench/crucible/internal/config"
	"github.com/crucible-bench/crucible/internal/cost"
	"github.com/crucible-bench/crucible/internal/dataset"
	"github.com/crucible-bench/crucible/internal/evaluate"
	"github.com/crucible-bench/crucible/internal/orchestrator"
	"github.com/crucible-bench/crucible/internal/task"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// collaborators bundles everything the orchestrator needs beyond the
// manifest, built once per command from config.
type collaborators struct {
	units      orchestrator.UnitProvider
	datasets   map[string]*dataset.Set
	evaluators map[string]evaluate.Evaluator
	rateCard   *cost.RateCard
}

func buildCollaborators(cfg *config.Config) (*collaborators, error) {
	card, err := cost.LoadRateCard(cfg.Pricing.RateCard)
	if err != nil {
		return nil, err
	}

	datasets := make(map[string]*dataset.Set, len(cfg.UseCases))
	evaluators := make(map[string]evaluate.Evaluator, len(cfg.UseCases))
	for _, u := range cfg.UseCases {
		set, err := dataset.Load(cfg.Datasets.Dir, u.Name)
		if err != nil {
			return nil, err
		}
		ev, ok := evaluate.ForUseCase(u.EvaluatorFamily())
		if !ok {
			return nil, fmt.Errorf("use case %q: unknown evaluator family %q", u.Name, u.EvaluatorFamily())
		}
		datasets[u.Name] = set
		evaluators[u.Name] = ev
	}

	byName := make(map[string]config.Framework, len(cfg.Frameworks))
	for _, f := range cfg.Frameworks {
		byName[f.Name] = f
	}
	units := func(framework, useCase string) (task.Unit, error) {
		f, ok := byName[framework]
		if !ok {
			return nil, fmt.Errorf("framework %q not defined in config", framework)
		}
		if f.Image != "" {
			return &task.ContainerUnit{
				Image:    f.Image,
				Command:  f.Command,
				Env:      f.Env,
				WorkDir:  f.WorkDir,
				CPULimit: f.CPULimit,
				MemLimit: f.MemLimit,
			}, nil
		}
		env := os.Environ()
		for k, v := range f.Env {
			env = append(env, k+"="+v)
		}
		return &task.CommandUnit{Command: f.Command, Dir: f.WorkDir, Env: env}, nil
	}

	return &collaborators{
		units:      units,
		datasets:   datasets,
		evaluators: evaluators,
		rateCard:   card,
	}, nil
}
