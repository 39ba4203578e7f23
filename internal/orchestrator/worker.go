package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/crucible-bench/crucible/internal/cost"
	"github.com/crucible-bench/crucible/internal/dataset"
	"github.com/crucible-bench/crucible/internal/evaluate"
	"github.com/crucible-bench/crucible/internal/monitor"
	"github.com/crucible-bench/crucible/internal/record"
	"github.com/crucible-bench/crucible/internal/task"
)

var errCellTimeout = errors.New("cell timed out")

// attemptOutcome carries everything one execution attempt produced,
// including partial measurements when the attempt was cut short.
type attemptOutcome struct {
	result   *task.Result
	err      error
	timedOut bool
	usage    monitor.Usage
}

// runCell owns one cell end to end: PENDING through a terminal outcome.
// It always returns a record ready to seal; nothing here aborts the run.
func (o *Orchestrator) runCell(ctx context.Context, cell record.CellSpec, unit task.Unit, unitErr error, item *dataset.Item, evaluator evaluate.Evaluator) *record.ResultRecord {
	rec := record.NewResultRecord(cell.Framework, cell.UseCase, cell.Repetition)
	rec.Metadata = map[string]string{
		"run_id":  o.opts.Manifest.RunID,
		"item_id": item.ID,
	}
	rec.Status = record.StatusRunning
	rec.StartedAt = time.Now().UTC()

	log := o.log.With("cell", cell.CellID)
	tracker := cost.NewTracker(o.opts.RateCard)

	if unitErr != nil {
		// The lane's unit could not be constructed; every repetition
		// fails the same way, but each still gets its own record.
		rec.Status = record.StatusFailed
		rec.ErrorDetail = &record.ErrorDetail{Kind: string(task.KindFatal), Message: unitErr.Error()}
		rec.FinishedAt = time.Now().UTC()
		rec.Cost = tracker.Breakdown()
		return rec
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.opts.Manifest.BackoffInitial
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = time.Second
	}

	var out attemptOutcome
	for {
		rec.Attempts++
		out = o.attempt(ctx, unit, item.Input)
		if out.err == nil || out.timedOut {
			break
		}
		kind := task.KindOf(out.err)
		if kind != task.KindTransient || rec.Attempts > o.opts.Manifest.RetryBudget {
			break
		}
		wait := bo.NextBackOff()
		log.Warn("transient failure, retrying",
			"attempt", rec.Attempts,
			"budget", o.opts.Manifest.RetryBudget,
			"backoff", wait,
			"error", out.err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			out = attemptOutcome{err: errCellTimeout, timedOut: true, usage: out.usage}
		}
		if out.timedOut {
			break
		}
	}

	o.finalize(rec, out, item, evaluator, tracker)
	switch rec.Status {
	case record.StatusSucceeded:
		log.Info("cell succeeded", "duration", rec.ExecutionTime, "attempts", rec.Attempts)
	case record.StatusTimedOut:
		log.Warn("cell timed out", "duration", rec.ExecutionTime, "attempts", rec.Attempts)
	default:
		log.Warn("cell failed", "kind", rec.ErrorDetail.Kind, "error", rec.ErrorDetail.Message, "attempts", rec.Attempts)
	}
	return rec
}

// attempt runs the unit once under the cell timeout with the monitor
// wrapped around it. The monitor is stopped on every exit path. If the
// unit ignores cancellation past the grace period, the attempt is
// abandoned and the unit's goroutine is left to the unit's own cleanup.
func (o *Orchestrator) attempt(ctx context.Context, unit task.Unit, input string) attemptOutcome {
	m := o.opts.Manifest
	mon := monitor.New(m.SamplingInterval)
	monErr := mon.Start()

	attemptCtx, cancel := context.WithTimeout(ctx, m.CellTimeout)
	defer cancel()

	type unitReturn struct {
		result *task.Result
		err    error
	}
	done := make(chan unitReturn, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- unitReturn{err: task.Errorf(task.KindFatal, "panic in execution unit: %v", p)}
			}
		}()
		res, err := unit.Execute(attemptCtx, input)
		done <- unitReturn{result: res, err: err}
	}()

	var ret unitReturn
	timedOut := false
	select {
	case ret = <-done:
	case <-attemptCtx.Done():
		// Cooperative cancellation: give the unit a bounded grace
		// period to observe the signal and return.
		select {
		case ret = <-done:
		case <-time.After(m.GracePeriod):
			ret = unitReturn{err: errCellTimeout}
		}
		timedOut = true
	}
	if errors.Is(ret.err, context.DeadlineExceeded) || errors.Is(ret.err, context.Canceled) {
		ret.err = errCellTimeout
		timedOut = true
	}

	usage, err := mon.Stop()
	if monErr != nil || err != nil {
		usage = monitor.Usage{Degraded: true}
	}
	return attemptOutcome{result: ret.result, err: ret.err, timedOut: timedOut, usage: usage}
}

// finalize converts the last attempt's outcome into the cell's terminal
// state, prices its usage, and scores quality on success.
func (o *Orchestrator) finalize(rec *record.ResultRecord, out attemptOutcome, item *dataset.Item, evaluator evaluate.Evaluator, tracker *cost.Tracker) {
	rec.FinishedAt = time.Now().UTC()
	rec.ExecutionTime = out.usage.Duration
	if out.usage.Degraded {
		rec.MonitoringDegraded = true
	} else {
		rec.Resources = &record.ResourceUsage{
			PeakMemoryBytes:    out.usage.PeakMemoryBytes,
			AverageMemoryBytes: out.usage.AverageMemoryBytes,
			PeakCPUPercent:     out.usage.PeakCPUPercent,
			AverageCPUPercent:  out.usage.AverageCPUPercent,
			SampleCount:        out.usage.Samples,
		}
	}

	if out.result != nil {
		tracker.AddAll(out.result.UsageEvents)
	}
	rec.Cost = tracker.Breakdown()

	switch {
	case out.timedOut:
		rec.Status = record.StatusTimedOut
		rec.ErrorDetail = &record.ErrorDetail{Kind: "timeout", Message: errCellTimeout.Error()}
	case out.err != nil:
		rec.Status = record.StatusFailed
		rec.ErrorDetail = &record.ErrorDetail{
			Kind:    string(task.KindOf(out.err)),
			Message: out.err.Error(),
		}
	default:
		rec.Status = record.StatusSucceeded
		rec.RawOutput = out.result.Output
		rec.RawDocs = out.result.Docs
		rec.RawSources = out.result.Sources
		actual := evaluate.Sample{
			Text:    out.result.Output,
			Docs:    out.result.Docs,
			Sources: out.result.Sources,
		}
		evalRes := evaluator.Evaluate(item.Expected, actual, evalContext(o, item, out.result))
		rec.Quality = record.QualityMetrics{
			Scores:      evalRes.Scores,
			Diagnostics: evalRes.Diagnostics,
		}
	}
}
