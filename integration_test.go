//go:build integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crucible-bench/crucible/internal/cost"
	"github.com/crucible-bench/crucible/internal/dataset"
	"github.com/crucible-bench/crucible/internal/evaluate"
	"github.com/crucible-bench/crucible/internal/orchestrator"
	"github.com/crucible-bench/crucible/internal/record"
	"github.com/crucible-bench/crucible/internal/task"
)

// writeFixtures lays out a shell adapter and a one-item dataset so the
// full command-adapter path runs without any framework installed.
func writeFixtures(t *testing.T) (adapterPath, datasetDir string) {
	t.Helper()
	dir := t.TempDir()

	adapterPath = filepath.Join(dir, "adapter.sh")
	script := `#!/bin/sh
cat > /dev/null
printf '{"status":"ok","output":"Paris is the capital of France","usage_events":[{"provider":"openai","model":"gpt-4","input_units":120,"output_units":40}]}'
`
	if err := os.WriteFile(adapterPath, []byte(script), 0o755); err != nil {
		t.Fatalf("writing adapter: %v", err)
	}

	datasetDir = filepath.Join(dir, "datasets")
	os.MkdirAll(datasetDir, 0o755)
	items := `[{"id": "q1", "input": "What is the capital of France?", "expected_output": {"text": "Paris is the capital of France"}}]`
	if err := os.WriteFile(filepath.Join(datasetDir, "qa.json"), []byte(items), 0o644); err != nil {
		t.Fatalf("writing dataset: %v", err)
	}
	return adapterPath, datasetDir
}

func TestCommandAdapterIntegration(t *testing.T) {
	if os.Getenv("CRUCIBLE_INTEGRATION_TESTS") == "" {
		t.Skip("set CRUCIBLE_INTEGRATION_TESTS=1 to run integration tests")
	}

	adapterPath, datasetDir := writeFixtures(t)

	resultsDir := t.TempDir()
	runDir, err := record.CreateRunDir(resultsDir)
	if err != nil {
		t.Fatalf("CreateRunDir: %v", err)
	}
	ledger, err := record.Open(runDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ledger.Close()

	set, err := dataset.Load(datasetDir, "qa")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	qa, _ := evaluate.ForUseCase("qa")

	m := record.NewManifest([]record.Selection{
		{Framework: "shell", UseCase: "qa", Repetitions: 2},
	}, 2, 30*time.Second, 2*time.Second, 1)
	m.BackoffInitial = 100 * time.Millisecond
	m.SamplingInterval = 10 * time.Millisecond
	if err := record.WriteManifest(runDir, m); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Manifest: m,
		Ledger:   ledger,
		Units: func(framework, useCase string) (task.Unit, error) {
			return &task.CommandUnit{Command: []string{adapterPath}}, nil
		},
		Datasets:   map[string]*dataset.Set{"qa": set},
		Evaluators: map[string]evaluate.Evaluator{"qa": qa},
		RateCard: &cost.RateCard{Providers: map[string]map[string]cost.Rate{
			"openai": {"gpt-4": {}},
		}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := orch.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if ledger.Len() != 2 {
		t.Fatalf("records: got %d, want 2", ledger.Len())
	}
	rec, ok := ledger.Get("shell/qa/rep-1")
	if !ok {
		t.Fatal("rep-1 not recorded")
	}
	if rec.Outcome != record.StatusSucceeded {
		t.Errorf("outcome: got %s, want SUCCEEDED", rec.Outcome)
	}
	if rec.Quality.Scores["bleu"] < 0.99 {
		t.Errorf("bleu: got %f, want ~1", rec.Quality.Scores["bleu"])
	}

	// The ledger file must replay identically.
	reopened, err := record.Open(runDir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.Len() != 2 {
		t.Errorf("replayed records: got %d, want 2", reopened.Len())
	}
}
