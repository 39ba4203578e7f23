package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-bench/crucible/internal/cost"
	"github.com/crucible-bench/crucible/internal/dataset"
	"github.com/crucible-bench/crucible/internal/evaluate"
	"github.com/crucible-bench/crucible/internal/orchestrator"
	"github.com/crucible-bench/crucible/internal/record"
	"github.com/crucible-bench/crucible/internal/task"
)

func testManifest(t *testing.T, selections []record.Selection, concurrency int) *record.RunManifest {
	t.Helper()
	m := record.NewManifest(selections, concurrency, 5*time.Second, 200*time.Millisecond, 0)
	m.BackoffInitial = time.Millisecond
	m.SamplingInterval = time.Millisecond
	return m
}

func testDataset(useCase string) *dataset.Set {
	return &dataset.Set{
		UseCase: useCase,
		Items: []dataset.Item{
			{ID: "q1", Input: "What is the capital of France?", Expected: evaluate.Sample{Text: "Paris"}},
			{ID: "q2", Input: "What is the boiling point of water?", Expected: evaluate.Sample{Text: "100 degrees Celsius"}},
		},
	}
}

func testOptions(t *testing.T, m *record.RunManifest, units orchestrator.UnitProvider) orchestrator.Options {
	t.Helper()
	ledger, err := record.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	qa, _ := evaluate.ForUseCase("qa")
	return orchestrator.Options{
		Manifest:   m,
		Ledger:     ledger,
		Units:      units,
		Datasets:   map[string]*dataset.Set{"qa": testDataset("qa")},
		Evaluators: map[string]evaluate.Evaluator{"qa": qa},
	}
}

func fixedUnit(output string) task.Unit {
	return task.Func(func(ctx context.Context, input string) (*task.Result, error) {
		return &task.Result{Output: output}, nil
	})
}

func TestRunSealsEveryCell(t *testing.T) {
	m := testManifest(t, []record.Selection{
		{Framework: "fw-good", UseCase: "qa", Repetitions: 3},
		{Framework: "fw-bad", UseCase: "qa", Repetitions: 3},
	}, 2)

	opts := testOptions(t, m, func(framework, useCase string) (task.Unit, error) {
		if framework == "fw-bad" {
			return task.Func(func(ctx context.Context, input string) (*task.Result, error) {
				return nil, task.Errorf(task.KindValidation, "malformed output")
			}), nil
		}
		return fixedUnit("Paris"), nil
	})

	o, err := orchestrator.New(opts)
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))

	snap := opts.Ledger.Snapshot()
	require.Len(t, snap, 6)

	succeeded, failed := 0, 0
	for _, rec := range snap {
		assert.Equal(t, record.StatusRecorded, rec.Status)
		switch rec.Outcome {
		case record.StatusSucceeded:
			succeeded++
			assert.NotNil(t, rec.Quality.Scores)
		case record.StatusFailed:
			failed++
			require.NotNil(t, rec.ErrorDetail)
			assert.Equal(t, string(task.KindValidation), rec.ErrorDetail.Kind)
			assert.Equal(t, 1, rec.Attempts, "validation errors must not be retried")
		}
	}
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 3, failed)
}

func TestRepetitionsRunInOrder(t *testing.T) {
	m := testManifest(t, []record.Selection{{Framework: "fw", UseCase: "qa", Repetitions: 4}}, 4)

	var mu sync.Mutex
	var order []string
	opts := testOptions(t, m, func(framework, useCase string) (task.Unit, error) {
		return task.Func(func(ctx context.Context, input string) (*task.Result, error) {
			mu.Lock()
			order = append(order, input)
			mu.Unlock()
			return &task.Result{Output: "ok"}, nil
		}), nil
	})

	o, err := orchestrator.New(opts)
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))

	// Repetitions cycle the two-item dataset deterministically.
	require.Equal(t, []string{
		"What is the capital of France?",
		"What is the boiling point of water?",
		"What is the capital of France?",
		"What is the boiling point of water?",
	}, order)
}

func TestTimeoutSealedWithinBudget(t *testing.T) {
	m := testManifest(t, []record.Selection{{Framework: "fw", UseCase: "qa", Repetitions: 1}}, 1)
	m.CellTimeout = 100 * time.Millisecond
	m.GracePeriod = 100 * time.Millisecond

	opts := testOptions(t, m, func(framework, useCase string) (task.Unit, error) {
		return task.Func(func(ctx context.Context, input string) (*task.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}), nil
	})

	o, err := orchestrator.New(opts)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, o.Run(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)

	rec, ok := opts.Ledger.Get("fw/qa/rep-1")
	require.True(t, ok)
	assert.Equal(t, record.StatusTimedOut, rec.Outcome)
	require.NotNil(t, rec.ErrorDetail)
	assert.Equal(t, "timeout", rec.ErrorDetail.Kind)
	assert.Empty(t, rec.RawOutput)
}

func TestTimeoutWithUncooperativeUnit(t *testing.T) {
	m := testManifest(t, []record.Selection{{Framework: "fw", UseCase: "qa", Repetitions: 1}}, 1)
	m.CellTimeout = 50 * time.Millisecond
	m.GracePeriod = 50 * time.Millisecond

	release := make(chan struct{})
	defer close(release)
	opts := testOptions(t, m, func(framework, useCase string) (task.Unit, error) {
		return task.Func(func(ctx context.Context, input string) (*task.Result, error) {
			// Ignores cancellation entirely.
			<-release
			return &task.Result{Output: "too late"}, nil
		}), nil
	})

	o, err := orchestrator.New(opts)
	require.NoError(t, err)
	start := time.Now()
	require.NoError(t, o.Run(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second, "abandonment must not wait for the unit")

	rec, ok := opts.Ledger.Get("fw/qa/rep-1")
	require.True(t, ok)
	assert.Equal(t, record.StatusTimedOut, rec.Outcome)
}

func TestTransientRetriesExhaustBudget(t *testing.T) {
	m := testManifest(t, []record.Selection{{Framework: "fw", UseCase: "qa", Repetitions: 1}}, 1)
	m.RetryBudget = 2

	attempts := 0
	opts := testOptions(t, m, func(framework, useCase string) (task.Unit, error) {
		return task.Func(func(ctx context.Context, input string) (*task.Result, error) {
			attempts++
			return nil, task.Errorf(task.KindTransient, "rate limited")
		}), nil
	})

	o, err := orchestrator.New(opts)
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, 3, attempts, "initial attempt plus two retries")
	rec, _ := opts.Ledger.Get("fw/qa/rep-1")
	assert.Equal(t, record.StatusFailed, rec.Outcome)
	assert.Equal(t, string(task.KindTransient), rec.ErrorDetail.Kind)
	assert.Equal(t, 3, rec.Attempts)
}

func TestTransientThenSuccess(t *testing.T) {
	m := testManifest(t, []record.Selection{{Framework: "fw", UseCase: "qa", Repetitions: 1}}, 1)
	m.RetryBudget = 3

	attempts := 0
	opts := testOptions(t, m, func(framework, useCase string) (task.Unit, error) {
		return task.Func(func(ctx context.Context, input string) (*task.Result, error) {
			attempts++
			if attempts < 3 {
				return nil, task.Errorf(task.KindTransient, "overloaded")
			}
			return &task.Result{Output: "Paris"}, nil
		}), nil
	})

	o, err := orchestrator.New(opts)
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))

	rec, _ := opts.Ledger.Get("fw/qa/rep-1")
	assert.Equal(t, record.StatusSucceeded, rec.Outcome)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, "Paris", rec.RawOutput)
}

func TestFatalErrorNotRetried(t *testing.T) {
	m := testManifest(t, []record.Selection{{Framework: "fw", UseCase: "qa", Repetitions: 1}}, 1)
	m.RetryBudget = 5

	attempts := 0
	opts := testOptions(t, m, func(framework, useCase string) (task.Unit, error) {
		return task.Func(func(ctx context.Context, input string) (*task.Result, error) {
			attempts++
			return nil, task.Errorf(task.KindFatal, "adapter crashed")
		}), nil
	})

	o, err := orchestrator.New(opts)
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, 1, attempts)
}

func TestPanicInUnitBecomesFailedRecord(t *testing.T) {
	m := testManifest(t, []record.Selection{{Framework: "fw", UseCase: "qa", Repetitions: 1}}, 1)

	opts := testOptions(t, m, func(framework, useCase string) (task.Unit, error) {
		return task.Func(func(ctx context.Context, input string) (*task.Result, error) {
			panic("boom")
		}), nil
	})

	o, err := orchestrator.New(opts)
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))

	rec, ok := opts.Ledger.Get("fw/qa/rep-1")
	require.True(t, ok)
	assert.Equal(t, record.StatusFailed, rec.Outcome)
	assert.Contains(t, rec.ErrorDetail.Message, "panic")
}

func TestUnitProviderFailureFailsEveryRepetition(t *testing.T) {
	m := testManifest(t, []record.Selection{{Framework: "fw", UseCase: "qa", Repetitions: 3}}, 1)

	opts := testOptions(t, m, func(framework, useCase string) (task.Unit, error) {
		return nil, assert.AnError
	})

	o, err := orchestrator.New(opts)
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))

	snap := opts.Ledger.Snapshot()
	require.Len(t, snap, 3)
	for _, rec := range snap {
		assert.Equal(t, record.StatusFailed, rec.Outcome)
	}
}

func TestResumeSkipsRecordedCells(t *testing.T) {
	m := testManifest(t, []record.Selection{{Framework: "fw", UseCase: "qa", Repetitions: 3}}, 1)

	runDir := t.TempDir()
	ledger, err := record.Open(runDir)
	require.NoError(t, err)
	for rep := 1; rep <= 2; rep++ {
		rec := record.NewResultRecord("fw", "qa", rep)
		rec.Status = record.StatusSucceeded
		rec.RawOutput = "earlier"
		require.NoError(t, ledger.Append(rec))
	}
	require.NoError(t, ledger.Close())

	reopened, err := record.Open(runDir)
	require.NoError(t, err)
	defer reopened.Close()

	executions := 0
	qa, _ := evaluate.ForUseCase("qa")
	o, err := orchestrator.New(orchestrator.Options{
		Manifest: m,
		Ledger:   reopened,
		Units: func(framework, useCase string) (task.Unit, error) {
			return task.Func(func(ctx context.Context, input string) (*task.Result, error) {
				executions++
				return &task.Result{Output: "fresh"}, nil
			}), nil
		},
		Datasets:   map[string]*dataset.Set{"qa": testDataset("qa")},
		Evaluators: map[string]evaluate.Evaluator{"qa": qa},
	})
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, 1, executions, "recorded cells must not re-execute")
	assert.Equal(t, 3, reopened.Len())
	rec, _ := reopened.Get("fw/qa/rep-1")
	assert.Equal(t, "earlier", rec.RawOutput)
	rec, _ = reopened.Get("fw/qa/rep-3")
	assert.Equal(t, "fresh", rec.RawOutput)
}

func TestCostTrackedFromUsageEvents(t *testing.T) {
	m := testManifest(t, []record.Selection{{Framework: "fw", UseCase: "qa", Repetitions: 1}}, 1)

	card := &cost.RateCard{Providers: map[string]map[string]cost.Rate{
		"openai": {"gpt-4": {
			Input:  decimal.RequireFromString("0.03"),
			Output: decimal.RequireFromString("0.06"),
		}},
	}}
	opts := testOptions(t, m, func(framework, useCase string) (task.Unit, error) {
		return task.Func(func(ctx context.Context, input string) (*task.Result, error) {
			return &task.Result{
				Output: "Paris",
				UsageEvents: []cost.UsageEvent{
					{Provider: "openai", Model: "gpt-4", InputUnits: 1000, OutputUnits: 1000},
					{Provider: "unknown", Model: "m", InputUnits: 50},
				},
			}, nil
		}), nil
	})
	opts.RateCard = card

	o, err := orchestrator.New(opts)
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))

	rec, _ := opts.Ledger.Get("fw/qa/rep-1")
	assert.True(t, rec.Cost.Total.Equal(decimal.RequireFromString("0.09")), "got %s", rec.Cost.Total)
	assert.Equal(t, 1, rec.Cost.UnpricedEventCount)
	require.Len(t, rec.Cost.UnpricedEvents, 1, "unpriced events are kept on the record for audit")
	assert.Equal(t, "unknown", rec.Cost.UnpricedEvents[0].Provider)
	assert.Equal(t, int64(50), rec.Cost.UnpricedEvents[0].InputUnits)
	assert.False(t, rec.MonitoringDegraded)
}

func TestPreFlightRejectsMissingWiring(t *testing.T) {
	m := testManifest(t, []record.Selection{{Framework: "fw", UseCase: "rag", Repetitions: 1}}, 1)

	opts := testOptions(t, m, func(framework, useCase string) (task.Unit, error) {
		return fixedUnit("x"), nil
	})
	// Datasets and evaluators only cover qa.
	_, err := orchestrator.New(opts)
	assert.ErrorContains(t, err, "no dataset")
}
