// Package report computes summary statistics over a run ledger. The
// ledger stays the single source of truth; everything here can be
// recomputed from it at any time.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crucible-bench/crucible/internal/record"
)

// GroupSummary is the aggregate row for one (framework, use case) pair.
// Failed and timed-out cells count toward the failure rate but are
// excluded from quality means. A group with zero successes still gets
// a row; its quality is reported as absent rather than zero.
type GroupSummary struct {
	Framework string `json:"framework"`
	UseCase   string `json:"use_case"`

	Cells       int     `json:"cells"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	TimedOut    int     `json:"timed_out"`
	FailureRate float64 `json:"failure_rate"`

	MeanDuration   time.Duration `json:"mean_duration_ns"`
	MedianDuration time.Duration `json:"median_duration_ns"`
	StddevDuration time.Duration `json:"stddev_duration_ns"`

	TotalCost          decimal.Decimal            `json:"total_cost"`
	CostByProvider     map[string]decimal.Decimal `json:"cost_by_provider,omitempty"`
	UnpricedEventCount int                        `json:"unpriced_event_count"`

	// MeanQuality is nil when no cell in the group succeeded.
	MeanQuality map[string]float64 `json:"mean_quality,omitempty"`
}

// Aggregate folds ledger records into per-group summaries, sorted by
// framework then use case.
func Aggregate(records []*record.ResultRecord) []GroupSummary {
	type accum struct {
		summary    GroupSummary
		durations  []time.Duration
		qualitySum map[string]float64
		qualityN   map[string]int
	}
	byGroup := map[string]*accum{}

	for _, r := range records {
		key := r.Framework + "\x00" + r.UseCase
		a, ok := byGroup[key]
		if !ok {
			a = &accum{
				summary: GroupSummary{
					Framework:      r.Framework,
					UseCase:        r.UseCase,
					CostByProvider: make(map[string]decimal.Decimal),
				},
				qualitySum: make(map[string]float64),
				qualityN:   make(map[string]int),
			}
			byGroup[key] = a
		}
		s := &a.summary
		s.Cells++
		a.durations = append(a.durations, r.ExecutionTime)
		s.TotalCost = s.TotalCost.Add(r.Cost.Total)
		for provider, amount := range r.Cost.ByProvider {
			s.CostByProvider[provider] = s.CostByProvider[provider].Add(amount)
		}
		s.UnpricedEventCount += r.Cost.UnpricedEventCount

		switch r.Outcome {
		case record.StatusSucceeded:
			s.Succeeded++
			for metric, score := range r.Quality.Scores {
				a.qualitySum[metric] += score
				a.qualityN[metric]++
			}
		case record.StatusTimedOut:
			s.TimedOut++
		default:
			s.Failed++
		}
	}

	keys := make([]string, 0, len(byGroup))
	for key := range byGroup {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	summaries := make([]GroupSummary, 0, len(keys))
	for _, key := range keys {
		a := byGroup[key]
		s := a.summary
		if s.Cells > 0 {
			s.FailureRate = float64(s.Failed+s.TimedOut) / float64(s.Cells)
		}
		s.MeanDuration, s.MedianDuration, s.StddevDuration = durationStats(a.durations)
		if s.Succeeded > 0 {
			s.MeanQuality = make(map[string]float64, len(a.qualitySum))
			for metric, sum := range a.qualitySum {
				s.MeanQuality[metric] = sum / float64(a.qualityN[metric])
			}
		}
		summaries = append(summaries, s)
	}
	return summaries
}

func durationStats(ds []time.Duration) (mean, median, stddev time.Duration) {
	if len(ds) == 0 {
		return 0, 0, 0
	}
	sorted := make([]time.Duration, len(ds))
	copy(sorted, ds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum float64
	for _, d := range sorted {
		sum += float64(d)
	}
	meanF := sum / float64(len(sorted))

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		median = sorted[mid]
	}

	var sq float64
	for _, d := range sorted {
		diff := float64(d) - meanF
		sq += diff * diff
	}
	return time.Duration(meanF), median, time.Duration(math.Sqrt(sq / float64(len(sorted))))
}

// Generate renders records in the requested format: "table" (default),
// "markdown", or "json".
func Generate(records []*record.ResultRecord, format string, w io.Writer) error {
	summaries := Aggregate(records)

	switch format {
	case "markdown":
		return writeMarkdown(summaries, w)
	case "json":
		return writeJSON(summaries, w)
	default:
		return writeTable(summaries, w)
	}
}

func qualityColumn(s GroupSummary) string {
	if s.MeanQuality == nil {
		return "no data"
	}
	metrics := make([]string, 0, len(s.MeanQuality))
	for m := range s.MeanQuality {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)
	parts := make([]string, 0, len(metrics))
	for _, m := range metrics {
		parts = append(parts, fmt.Sprintf("%s=%.3f", m, s.MeanQuality[m]))
	}
	return strings.Join(parts, " ")
}

func costColumn(s GroupSummary) string {
	c := "$" + s.TotalCost.StringFixed(4)
	if s.UnpricedEventCount > 0 {
		c += fmt.Sprintf(" (+%d unpriced)", s.UnpricedEventCount)
	}
	return c
}

func writeTable(summaries []GroupSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FRAMEWORK\tUSE CASE\tCELLS\tFAIL RATE\tMEAN TIME\tMEDIAN\tSTDDEV\tCOST\tQUALITY")
	fmt.Fprintln(tw, strings.Repeat("-", 110))
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.0f%%\t%s\t%s\t%s\t%s\t%s\n",
			s.Framework, s.UseCase, s.Cells, s.FailureRate*100,
			s.MeanDuration.Round(time.Millisecond),
			s.MedianDuration.Round(time.Millisecond),
			s.StddevDuration.Round(time.Millisecond),
			costColumn(s), qualityColumn(s))
	}
	return tw.Flush()
}

func writeMarkdown(summaries []GroupSummary, w io.Writer) error {
	fmt.Fprintln(w, "| Framework | Use Case | Cells | Fail Rate | Mean Time | Cost | Quality |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|")
	for _, s := range summaries {
		fmt.Fprintf(w, "| %s | %s | %d | %.0f%% | %s | %s | %s |\n",
			s.Framework, s.UseCase, s.Cells, s.FailureRate*100,
			s.MeanDuration.Round(time.Millisecond), costColumn(s), qualityColumn(s))
	}
	return nil
}

func writeJSON(summaries []GroupSummary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}
