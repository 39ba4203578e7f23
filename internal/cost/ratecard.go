package cost

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Rate is the per-1K-unit price pair for one (provider, model).
type Rate struct {
	Input  decimal.Decimal `yaml:"input"`
	Output decimal.Decimal `yaml:"output"`
}

// RateCard is the versioned, injected pricing table. It is plain data:
// construct one per run configuration, never share a mutable global.
type RateCard struct {
	Version   string                     `yaml:"version"`
	Providers map[string]map[string]Rate `yaml:"providers"`
}

// LoadRateCard reads a rate card from a YAML file.
func LoadRateCard(path string) (*RateCard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rate card: %w", err)
	}
	var card RateCard
	if err := yaml.Unmarshal(data, &card); err != nil {
		return nil, fmt.Errorf("parsing rate card %s: %w", path, err)
	}
	if len(card.Providers) == 0 {
		return nil, fmt.Errorf("rate card %s: no providers defined", path)
	}
	return &card, nil
}

// Lookup returns the rate for (provider, model) and whether it exists.
func (c *RateCard) Lookup(provider, model string) (Rate, bool) {
	if c == nil || c.Providers == nil {
		return Rate{}, false
	}
	models, ok := c.Providers[provider]
	if !ok {
		return Rate{}, false
	}
	r, ok := models[model]
	return r, ok
}
