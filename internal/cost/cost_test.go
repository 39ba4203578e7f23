package cost_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-bench/crucible/internal/cost"
)

func testCard() *cost.RateCard {
	return &cost.RateCard{
		Version: "2026-01",
		Providers: map[string]map[string]cost.Rate{
			"openai": {
				"gpt-4": {Input: decimal.RequireFromString("0.03"), Output: decimal.RequireFromString("0.06")},
			},
			"anthropic": {
				"claude-3": {Input: decimal.RequireFromString("0.015"), Output: decimal.RequireFromString("0.075")},
			},
		},
	}
}

func TestTrackerPricesPerThousand(t *testing.T) {
	tr := cost.NewTracker(testCard())
	ok := tr.Add(cost.UsageEvent{Provider: "openai", Model: "gpt-4", InputUnits: 1000, OutputUnits: 500})
	require.True(t, ok)

	b := tr.Breakdown()
	// 1000/1000 * 0.03 + 500/1000 * 0.06 = 0.06
	assert.True(t, b.Total.Equal(decimal.RequireFromString("0.06")), "got %s", b.Total)
	assert.Zero(t, b.UnpricedEventCount)
	assert.Empty(t, b.UnpricedEvents)
}

func TestTrackerTotalsConserve(t *testing.T) {
	tr := cost.NewTracker(testCard())
	tr.AddAll([]cost.UsageEvent{
		{Provider: "openai", Model: "gpt-4", InputUnits: 2000, OutputUnits: 1000},
		{Provider: "anthropic", Model: "claude-3", InputUnits: 4000, OutputUnits: 2000},
	})

	b := tr.Breakdown()
	var sum decimal.Decimal
	for _, v := range b.ByProvider {
		sum = sum.Add(v)
	}
	assert.True(t, b.Total.Equal(sum), "total %s != provider sum %s", b.Total, sum)
}

func TestTrackerNoFloatDrift(t *testing.T) {
	// 10k events of 0.1 input units worth each; float accumulation
	// would drift, decimal must not.
	card := &cost.RateCard{Providers: map[string]map[string]cost.Rate{
		"p": {"m": {Input: decimal.RequireFromString("0.1"), Output: decimal.Zero}},
	}}
	tr := cost.NewTracker(card)
	for i := 0; i < 10000; i++ {
		tr.Add(cost.UsageEvent{Provider: "p", Model: "m", InputUnits: 1})
	}
	b := tr.Breakdown()
	assert.True(t, b.Total.Equal(decimal.RequireFromString("1")), "got %s", b.Total)
}

func TestTrackerUnpricedPreserved(t *testing.T) {
	tr := cost.NewTracker(testCard())
	ok := tr.Add(cost.UsageEvent{Provider: "mystery", Model: "m", InputUnits: 1000})
	assert.False(t, ok)
	ok = tr.Add(cost.UsageEvent{Provider: "openai", Model: "unknown-model", InputUnits: 1000, OutputUnits: 200})
	assert.False(t, ok)

	b := tr.Breakdown()
	assert.True(t, b.Total.IsZero())
	assert.Equal(t, 2, b.UnpricedEventCount)

	// The events themselves ride along on the breakdown so the ledger
	// keeps them, not just a count.
	require.Len(t, b.UnpricedEvents, 2)
	assert.Equal(t, "mystery", b.UnpricedEvents[0].Provider)
	assert.Equal(t, "m", b.UnpricedEvents[0].Model)
	assert.Equal(t, int64(1000), b.UnpricedEvents[0].InputUnits)
	assert.Equal(t, "openai", b.UnpricedEvents[1].Provider)
	assert.Equal(t, "unknown-model", b.UnpricedEvents[1].Model)
	assert.Equal(t, int64(200), b.UnpricedEvents[1].OutputUnits)
}

func TestTrackerNilCard(t *testing.T) {
	tr := cost.NewTracker(nil)
	assert.False(t, tr.Add(cost.UsageEvent{Provider: "openai", Model: "gpt-4", InputUnits: 1000}))
	b := tr.Breakdown()
	assert.Equal(t, 1, b.UnpricedEventCount)
	require.Len(t, b.UnpricedEvents, 1)
}

func TestLoadRateCard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "2026-01"
providers:
  openai:
    gpt-4:
      input: 0.03
      output: 0.06
`), 0o644))

	card, err := cost.LoadRateCard(path)
	require.NoError(t, err)
	assert.Equal(t, "2026-01", card.Version)

	rate, ok := card.Lookup("openai", "gpt-4")
	require.True(t, ok)
	assert.True(t, rate.Input.Equal(decimal.RequireFromString("0.03")))

	_, ok = card.Lookup("openai", "nope")
	assert.False(t, ok)
}

func TestLoadRateCardEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: x\n"), 0o644))
	_, err := cost.LoadRateCard(path)
	assert.ErrorContains(t, err, "no providers")
}
