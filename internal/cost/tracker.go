// Package cost converts heterogeneous usage events into comparable
// monetary totals using an injected, versioned rate card.
package cost

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/crucible-bench/crucible/internal/record"
)

var perThousand = decimal.NewFromInt(1000)

// UsageEvent is one unit-consumption report from an execution unit.
type UsageEvent struct {
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	InputUnits  int64     `json:"input_units"`
	OutputUnits int64     `json:"output_units"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}

// Tracker accumulates event costs with decimal arithmetic so large
// event counts cannot drift; rounding happens only at presentation.
// Events whose (provider, model) has no rate-card entry are counted and
// kept for audit, never priced at zero.
type Tracker struct {
	card       *RateCard
	byProvider map[string]decimal.Decimal
	total      decimal.Decimal
	unpriced   []UsageEvent
}

// NewTracker builds a tracker over the given rate card. A nil card
// prices nothing: every event lands in the unpriced bucket.
func NewTracker(card *RateCard) *Tracker {
	return &Tracker{
		card:       card,
		byProvider: make(map[string]decimal.Decimal),
	}
}

// Add prices one event. Returns false if the event was unpriced.
func (t *Tracker) Add(ev UsageEvent) bool {
	rate, ok := t.card.Lookup(ev.Provider, ev.Model)
	if !ok {
		t.unpriced = append(t.unpriced, ev)
		return false
	}
	in := decimal.NewFromInt(ev.InputUnits).Div(perThousand).Mul(rate.Input)
	out := decimal.NewFromInt(ev.OutputUnits).Div(perThousand).Mul(rate.Output)
	cost := in.Add(out)
	t.byProvider[ev.Provider] = t.byProvider[ev.Provider].Add(cost)
	t.total = t.total.Add(cost)
	return true
}

// AddAll prices a sequence of events.
func (t *Tracker) AddAll(events []UsageEvent) {
	for _, ev := range events {
		t.Add(ev)
	}
}

// Breakdown returns the accumulated totals, carrying every unpriced
// event so the gap survives on the stored record. The per-provider map
// and event slice are copies; the tracker remains usable afterwards.
func (t *Tracker) Breakdown() record.CostBreakdown {
	by := make(map[string]decimal.Decimal, len(t.byProvider))
	for p, v := range t.byProvider {
		by[p] = v
	}
	var kept []record.UnpricedEvent
	for _, ev := range t.unpriced {
		kept = append(kept, record.UnpricedEvent{
			Provider:    ev.Provider,
			Model:       ev.Model,
			InputUnits:  ev.InputUnits,
			OutputUnits: ev.OutputUnits,
			Timestamp:   ev.Timestamp,
		})
	}
	return record.CostBreakdown{
		ByProvider:         by,
		Total:              t.total,
		UnpricedEventCount: len(t.unpriced),
		UnpricedEvents:     kept,
	}
}
