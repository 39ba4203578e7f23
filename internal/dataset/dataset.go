// Package dataset supplies (id, input, expected_output) triples per use
// case from JSON files. Identifiers are stable across runs so results
// stay joinable with their inputs.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/crucible-bench/crucible/internal/evaluate"
)

// Item is one test case. Expected carries the ground-truth answer plus
// any relevant documents or sources the use-case family scores against.
type Item struct {
	ID       string            `json:"id"`
	Input    string            `json:"input"`
	Expected evaluate.Sample   `json:"expected_output"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Set is the loaded dataset for one use case.
type Set struct {
	UseCase string
	Items   []Item
	byID    map[string]*Item
}

// Load reads dir/<useCase>.json, a JSON array of items.
func Load(dir, useCase string) (*Set, error) {
	path := filepath.Join(dir, useCase+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset %s: %w", path, err)
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("dataset %s: no items", path)
	}
	set := &Set{UseCase: useCase, Items: items, byID: make(map[string]*Item, len(items))}
	for i := range items {
		it := &set.Items[i]
		if it.ID == "" {
			return nil, fmt.Errorf("dataset %s: item %d: id is required", path, i)
		}
		if _, dup := set.byID[it.ID]; dup {
			return nil, fmt.Errorf("dataset %s: duplicate item id %q", path, it.ID)
		}
		set.byID[it.ID] = it
	}
	return set, nil
}

// ByID returns the item with the given identifier.
func (s *Set) ByID(id string) (*Item, bool) {
	it, ok := s.byID[id]
	return it, ok
}

// Pick returns the item for a repetition index (1-based), cycling
// through the set so every repetition has a deterministic input.
func (s *Set) Pick(repetition int) *Item {
	if repetition < 1 {
		repetition = 1
	}
	return &s.Items[(repetition-1)%len(s.Items)]
}
