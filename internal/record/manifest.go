package record

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CellSpec names one scheduled unit of work before execution.
type CellSpec struct {
	CellID     string `json:"cell_id"`
	Framework  string `json:"framework"`
	UseCase    string `json:"use_case"`
	Repetition int    `json:"repetition"`
}

// RunManifest is the full set of cells to execute plus the run-wide
// policy knobs. It is created once at run start and never mutated during
// execution, so a restart can rebuild the identical schedule.
type RunManifest struct {
	RunID            string        `json:"run_id"`
	Cells            []CellSpec    `json:"cells"`
	Concurrency      int           `json:"concurrency"`
	CellTimeout      time.Duration `json:"cell_timeout_ns"`
	GracePeriod      time.Duration `json:"grace_period_ns"`
	RetryBudget      int           `json:"retry_budget"`
	BackoffInitial   time.Duration `json:"backoff_initial_ns"`
	SamplingInterval time.Duration `json:"sampling_interval_ns"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Selection is one (framework, use_case, repetitions) row to expand
// into cells.
type Selection struct {
	Framework   string
	UseCase     string
	Repetitions int
}

// NewManifest expands selections into the cell grid. Repetition indices
// start at 1, matching trial numbering in stored results.
func NewManifest(selections []Selection, concurrency int, cellTimeout, grace time.Duration, retryBudget int) *RunManifest {
	m := &RunManifest{
		RunID:       uuid.NewString(),
		Concurrency: concurrency,
		CellTimeout: cellTimeout,
		GracePeriod: grace,
		RetryBudget: retryBudget,
		CreatedAt:   time.Now().UTC(),
	}
	for _, sel := range selections {
		for rep := 1; rep <= sel.Repetitions; rep++ {
			m.Cells = append(m.Cells, CellSpec{
				CellID:     CellID(sel.Framework, sel.UseCase, rep),
				Framework:  sel.Framework,
				UseCase:    sel.UseCase,
				Repetition: rep,
			})
		}
	}
	return m
}

// Validate is the pre-flight gate: a malformed manifest aborts the run
// before any cell executes.
func (m *RunManifest) Validate() error {
	if m.RunID == "" {
		return fmt.Errorf("manifest: run id is required")
	}
	if len(m.Cells) == 0 {
		return fmt.Errorf("manifest: no cells to execute")
	}
	if m.Concurrency < 1 {
		return fmt.Errorf("manifest: concurrency must be at least 1, got %d", m.Concurrency)
	}
	if m.CellTimeout <= 0 {
		return fmt.Errorf("manifest: cell timeout must be positive, got %s", m.CellTimeout)
	}
	if m.GracePeriod < 0 {
		return fmt.Errorf("manifest: grace period cannot be negative, got %s", m.GracePeriod)
	}
	if m.RetryBudget < 0 {
		return fmt.Errorf("manifest: retry budget cannot be negative, got %d", m.RetryBudget)
	}
	seen := make(map[string]struct{}, len(m.Cells))
	for i, c := range m.Cells {
		if c.Framework == "" || c.UseCase == "" {
			return fmt.Errorf("manifest: cell %d: framework and use case are required", i)
		}
		if c.Repetition < 1 {
			return fmt.Errorf("manifest: cell %d: repetition must be at least 1", i)
		}
		if _, dup := seen[c.CellID]; dup {
			return fmt.Errorf("manifest: duplicate cell id %q", c.CellID)
		}
		seen[c.CellID] = struct{}{}
	}
	return nil
}
