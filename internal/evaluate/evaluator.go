// Package evaluate scores actual outputs against expected outputs for
// each use-case family. Evaluators are pure functions: no clock reads,
// no randomness, no I/O. The frameworks under test are non-deterministic,
// so the evaluator is the one deterministic instrument in the pipeline.
package evaluate

import "time"

// Sample is one side of a comparison: the answer text plus any
// retrieved documents and cited sources the use case carries.
type Sample struct {
	Text    string   `json:"text"`
	Docs    []string `json:"docs,omitempty"`
	Sources []string `json:"sources,omitempty"`
}

// Context is the fixed evaluation context for one cell. QueryTime is
// injected (never read from the clock) so freshness scoring is
// reproducible.
type Context struct {
	Query       string
	ContextText string
	QueryTime   time.Time
	MaxAgeDays  int
}

// Result maps metric names to scores, each within [0, 1]. Diagnostics
// records why a metric bottomed out (empty output, no dates found, ...)
// instead of the evaluator failing the cell.
type Result struct {
	Scores      map[string]float64
	Diagnostics []string
}

// Evaluator is the unified scoring interface, polymorphic over the
// use-case families. Evaluate never panics on malformed actual output;
// it returns the metric family's minimum scores plus diagnostics.
type Evaluator interface {
	Name() string
	Evaluate(expected, actual Sample, ectx Context) Result
}

// ForUseCase returns the evaluator registered for a use-case family.
func ForUseCase(family string) (Evaluator, bool) {
	switch family {
	case "qa":
		return QAEvaluator{}, true
	case "rag":
		return RAGEvaluator{}, true
	case "search":
		return SearchEvaluator{}, true
	}
	return nil, false
}

func newResult() Result {
	return Result{Scores: make(map[string]float64)}
}

func (r *Result) diag(msg string) {
	r.Diagnostics = append(r.Diagnostics, msg)
}
