package record

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status tracks a cell through its lifecycle. SUCCEEDED, FAILED and
// TIMED_OUT are terminal outcomes; RECORDED is applied when the record
// is sealed into the ledger and makes it immutable.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
	StatusRecorded  Status = "RECORDED"
)

// Terminal reports whether s is a terminal outcome (pre-seal or sealed).
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusRecorded:
		return true
	}
	return false
}

// CellID identifies one (framework, use_case, repetition) unit of work.
func CellID(framework, useCase string, repetition int) string {
	return fmt.Sprintf("%s/%s/rep-%d", framework, useCase, repetition)
}

// ResourceUsage holds sampled process metrics for one cell. A nil
// *ResourceUsage on the record means monitoring degraded, not zero usage.
type ResourceUsage struct {
	PeakMemoryBytes    uint64  `json:"peak_memory_bytes"`
	AverageMemoryBytes uint64  `json:"average_memory_bytes"`
	PeakCPUPercent     float64 `json:"peak_cpu_percent"`
	AverageCPUPercent  float64 `json:"average_cpu_percent"`
	SampleCount        int     `json:"sample_count"`
}

// CostBreakdown is the priced view of a cell's usage events. ByProvider
// and Total cover priced events only; events without a rate-card entry
// are counted and preserved, never silently zeroed into the total.
type CostBreakdown struct {
	ByProvider         map[string]decimal.Decimal `json:"by_provider,omitempty"`
	Total              decimal.Decimal            `json:"total"`
	UnpricedEventCount int                        `json:"unpriced_event_count"`
	UnpricedEvents     []UnpricedEvent            `json:"unpriced_events,omitempty"`
}

// UnpricedEvent is a usage event whose (provider, model) had no
// rate-card entry, kept verbatim on the record so the pricing gap stays
// auditable after the run.
type UnpricedEvent struct {
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	InputUnits  int64     `json:"input_units"`
	OutputUnits int64     `json:"output_units"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}

// QualityMetrics maps metric names to scores in each metric's documented
// range. Diagnostics carries evaluator notes about malformed output.
type QualityMetrics struct {
	Scores      map[string]float64 `json:"scores,omitempty"`
	Diagnostics []string           `json:"diagnostics,omitempty"`
}

// ErrorDetail describes a terminal failure. Kind matches the execution
// unit's classification: transient, validation, fatal or timeout.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ResultRecord is one measured attempt of one cell. It is created
// PENDING by the orchestrator, mutated only by the worker that owns the
// cell, and immutable once sealed RECORDED into the ledger.
type ResultRecord struct {
	CellID     string `json:"cell_id"`
	Framework  string `json:"framework"`
	UseCase    string `json:"use_case"`
	Repetition int    `json:"repetition"`

	Status        Status         `json:"status"`
	Outcome       Status         `json:"outcome,omitempty"`
	StartedAt     time.Time      `json:"started_at,omitzero"`
	FinishedAt    time.Time      `json:"finished_at,omitzero"`
	ExecutionTime time.Duration  `json:"execution_time_ns"`
	Resources     *ResourceUsage `json:"resource_usage,omitempty"`
	Cost          CostBreakdown  `json:"cost_breakdown"`
	Quality       QualityMetrics `json:"quality_metrics"`

	RawOutput   string       `json:"raw_output,omitempty"`
	RawDocs     []string     `json:"raw_docs,omitempty"`
	RawSources  []string     `json:"raw_sources,omitempty"`
	ErrorDetail *ErrorDetail `json:"error_detail,omitempty"`

	Attempts           int               `json:"attempts"`
	MonitoringDegraded bool              `json:"monitoring_degraded,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// NewResultRecord creates the PENDING record for a cell.
func NewResultRecord(framework, useCase string, repetition int) *ResultRecord {
	return &ResultRecord{
		CellID:     CellID(framework, useCase, repetition),
		Framework:  framework,
		UseCase:    useCase,
		Repetition: repetition,
		Status:     StatusPending,
	}
}

// Seal applies the RECORDED wrapper. It fails if the record never
// reached a terminal outcome, or if the raw_output/error_detail
// exclusivity invariant is broken.
func (r *ResultRecord) Seal() error {
	switch r.Status {
	case StatusSucceeded:
		if r.ErrorDetail != nil {
			return fmt.Errorf("sealing %s: succeeded record carries error detail", r.CellID)
		}
	case StatusFailed, StatusTimedOut:
		if r.ErrorDetail == nil {
			return fmt.Errorf("sealing %s: %s record missing error detail", r.CellID, r.Status)
		}
		r.RawOutput = ""
		r.RawDocs = nil
		r.RawSources = nil
	default:
		return fmt.Errorf("sealing %s: status %s is not terminal", r.CellID, r.Status)
	}
	if r.ExecutionTime < 0 {
		return fmt.Errorf("sealing %s: negative execution time %s", r.CellID, r.ExecutionTime)
	}
	r.Outcome = r.Status
	r.Status = StatusRecorded
	return nil
}

// Succeeded reports whether the sealed record's outcome was success.
func (r *ResultRecord) Succeeded() bool {
	return r.Outcome == StatusSucceeded
}
