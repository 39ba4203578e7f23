// Package orchestrator schedules benchmark cells over a bounded worker
// pool, wraps each opaque execution with monitoring, cost tracking and
// quality scoring, and guarantees every scheduled cell seals exactly
// one ledger record.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crucible-bench/crucible/internal/cost"
	"github.com/crucible-bench/crucible/internal/dataset"
	"github.com/crucible-bench/crucible/internal/evaluate"
	"github.com/crucible-bench/crucible/internal/record"
	"github.com/crucible-bench/crucible/internal/task"
)

// UnitProvider builds (or returns) the execution unit for one
// (framework, use_case) lane. Called once per lane; repetitions within
// the lane share the instance so session state stays comparable.
type UnitProvider func(framework, useCase string) (task.Unit, error)

type Options struct {
	Manifest   *record.RunManifest
	Ledger     *record.Ledger
	Units      UnitProvider
	Datasets   map[string]*dataset.Set       // keyed by use case
	Evaluators map[string]evaluate.Evaluator // keyed by use case
	RateCard   *cost.RateCard
	Logger     *slog.Logger
	MaxAgeDays int
}

type Orchestrator struct {
	opts Options
	log  *slog.Logger
}

// New validates the manifest and its collaborator wiring before any
// cell executes; a malformed manifest is the only error fatal to a run.
func New(opts Options) (*Orchestrator, error) {
	if err := opts.Manifest.Validate(); err != nil {
		return nil, fmt.Errorf("pre-flight: %w", err)
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("pre-flight: ledger is required")
	}
	if opts.Units == nil {
		return nil, fmt.Errorf("pre-flight: unit provider is required")
	}
	for _, c := range opts.Manifest.Cells {
		if _, ok := opts.Datasets[c.UseCase]; !ok {
			return nil, fmt.Errorf("pre-flight: no dataset for use case %q", c.UseCase)
		}
		if _, ok := opts.Evaluators[c.UseCase]; !ok {
			return nil, fmt.Errorf("pre-flight: no evaluator for use case %q", c.UseCase)
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{opts: opts, log: log}, nil
}

// lane is the strictly sequential repetition sequence for one
// (framework, use_case) pair. Lanes from different frameworks
// interleave freely under the pool limit.
type lane struct {
	framework string
	useCase   string
	cells     []record.CellSpec
}

func buildLanes(m *record.RunManifest, ledger *record.Ledger) []*lane {
	byKey := make(map[string]*lane)
	var order []*lane
	for _, c := range m.Cells {
		if ledger.Recorded(c.CellID) {
			continue
		}
		key := c.Framework + "\x00" + c.UseCase
		l, ok := byKey[key]
		if !ok {
			l = &lane{framework: c.Framework, useCase: c.UseCase}
			byKey[key] = l
			order = append(order, l)
		}
		l.cells = append(l.cells, c)
	}
	return order
}

// Run executes every unrecorded cell in the manifest. Per-cell errors
// are captured into records and never abort the run; only a failure to
// persist the ledger propagates.
func (o *Orchestrator) Run(ctx context.Context) error {
	m := o.opts.Manifest
	lanes := buildLanes(m, o.opts.Ledger)
	o.log.Info("run starting",
		"run_id", m.RunID,
		"cells", len(m.Cells),
		"recorded", o.opts.Ledger.Len(),
		"lanes", len(lanes),
		"concurrency", m.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.Concurrency)
	for _, l := range lanes {
		g.Go(func() error {
			return o.runLane(ctx, l)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	o.log.Info("run complete", "run_id", m.RunID, "recorded", o.opts.Ledger.Len())
	return nil
}

func (o *Orchestrator) runLane(ctx context.Context, l *lane) error {
	unit, unitErr := o.opts.Units(l.framework, l.useCase)
	set := o.opts.Datasets[l.useCase]
	evaluator := o.opts.Evaluators[l.useCase]

	for _, cell := range l.cells {
		item := set.Pick(cell.Repetition)
		rec := o.runCell(ctx, cell, unit, unitErr, item, evaluator)
		if err := o.opts.Ledger.Append(rec); err != nil {
			return fmt.Errorf("recording cell %s: %w", cell.CellID, err)
		}
	}
	return nil
}

// queryTime returns the deterministic reference time for freshness
// scoring: the item's pinned query date when present, otherwise the
// manifest creation time. Never the wall clock.
func (o *Orchestrator) queryTime(item *dataset.Item) time.Time {
	if raw, ok := item.Metadata["query_date"]; ok {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return t
		}
	}
	return o.opts.Manifest.CreatedAt
}

func evalContext(o *Orchestrator, item *dataset.Item, res *task.Result) evaluate.Context {
	return evaluate.Context{
		Query:       item.Input,
		ContextText: strings.Join(res.Docs, "\n"),
		QueryTime:   o.queryTime(item),
		MaxAgeDays:  o.opts.MaxAgeDays,
	}
}
